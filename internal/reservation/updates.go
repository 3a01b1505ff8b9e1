/*
 * Copyright © 2026 Fabric Testbed Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package reservation

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/model"
)

// UpdateData is the {result_code, message} pair carried by every
// UpdateTicket/UpdateLease/UpdateDelegation response.
type UpdateData struct {
	ResultCode int
	Message    string
	Sequence   int
}

// OnUpdateTicket is the Orchestrator-side handler for an inbound
// UpdateTicket. A delivery whose Sequence is less than the recorded
// ticket_in is a duplicate and is ignored.
func (m *Machine) OnUpdateTicket(ctx context.Context, approved *model.ResourceSet, term model.Term, upd UpdateData, autoRedeem bool) (shouldRedeem bool) {
	if upd.Sequence != 0 && upd.Sequence < m.R.Sequences.TicketIn {
		return false
	}
	if upd.Sequence != 0 {
		m.R.Sequences.TicketIn = upd.Sequence
	}

	if upd.ResultCode != 0 {
		if m.R.Pending == model.PendingExtendingTicket {
			// optional operation: drop back to the prior stable state
			m.R.Pending = model.PendingNone
			m.R.AddNotice(upd.Message)
			m.R.MarkDirty()
			return false
		}
		m.Fail(ctx, upd.Message)
		return false
	}

	switch {
	case m.R.State == model.ResNascent && m.R.Pending == model.PendingTicketing:
		m.R.ApprovedResources = approved
		m.R.ApprovedTerm = term
		m.R.Term = term
		m.endPending(model.ResTicketed)
		return autoRedeem
	case m.R.Pending == model.PendingExtendingTicket:
		m.R.ApprovedResources = approved
		m.R.ApprovedTerm = term
		m.R.Term = term
		m.endPending(m.R.State)
		return false
	}
	return false
}

// OnUpdateLease is the Orchestrator-side handler for an inbound
// UpdateLease.
func (m *Machine) OnUpdateLease(ctx context.Context, resources *model.ResourceSet, term model.Term, upd UpdateData, closed bool) {
	if upd.Sequence != 0 && upd.Sequence < m.R.Sequences.LeaseIn {
		return
	}
	if upd.Sequence != 0 {
		m.R.Sequences.LeaseIn = upd.Sequence
	}

	if upd.ResultCode != 0 {
		m.Fail(ctx, upd.Message)
		return
	}

	if closed {
		m.endPending(model.ResClosed)
		return
	}

	switch m.R.Pending {
	case model.PendingRedeeming, model.PendingPriming, model.PendingExtendingLease, model.PendingModifyingLease:
		m.R.Resources = resources
		m.R.Term = term
		m.endPending(model.ResActive)
	}
}

// OnFailedRPC handles a synthesized RPC failure: the pending operation
// fails and pending returns to None, leaving the reservation in an
// actionable state rather than necessarily Failed; e.g. a failed
// ExtendTicket leaves the reservation Active.
func (m *Machine) OnFailedRPC(ctx context.Context, errorDetails string) {
	switch m.R.Pending {
	case model.PendingExtendingTicket, model.PendingExtendingLease:
		m.R.Pending = model.PendingNone
		m.R.AddNotice(errorDetails)
		m.R.MarkDirty()
	case model.PendingNone:
		// nothing in flight; informational only
	default:
		m.Fail(ctx, errorDetails)
	}
}

// OnRelinquish returns an unused Broker-held allocation: moves straight
// to Closed with no unit lifecycle since a Broker-side reservation has
// no Units of its own.
func (m *Machine) OnRelinquish(ctx context.Context) error {
	if err := m.beginPending(ctx, model.PendingRelinquishing); err != nil {
		return err
	}
	m.endPending(model.ResClosed)
	return nil
}
