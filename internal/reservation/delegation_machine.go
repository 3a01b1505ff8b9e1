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
	"github.com/fabric-testbed/control-core/internal/msgs"
)

// DelegationMachine is the delegation-side analogue of Machine: grant of
// inventory from one actor to another.
type DelegationMachine struct {
	D *model.Delegation
}

func WrapDelegation(d *model.Delegation) *DelegationMachine {
	return &DelegationMachine{D: d}
}

// OnClaimDelegation is the Authority-side handler: a Broker claims the
// delegation's inventory for itself to sub-ticket.
func (dm *DelegationMachine) OnClaimDelegation(ctx context.Context) error {
	if dm.D.State != model.DelNascent {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, dm.D.ID.String(), "ClaimDelegation requires Nascent delegation")
	}
	dm.D.State = model.DelDelegated
	return nil
}

// OnReclaimDelegation returns a previously claimed delegation's
// inventory to its issuing Authority.
func (dm *DelegationMachine) OnReclaimDelegation(ctx context.Context) error {
	if dm.D.State != model.DelDelegated {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, dm.D.ID.String(), "ReclaimDelegation requires Delegated state")
	}
	dm.D.State = model.DelReclaimed
	return nil
}

// OnUpdateDelegation is the Broker-side handler for an inbound
// UpdateDelegation following ClaimDelegation/ReclaimDelegation.
func (dm *DelegationMachine) OnUpdateDelegation(ctx context.Context, upd UpdateData, targetState model.DelegationState) {
	if upd.ResultCode != 0 {
		dm.D.State = model.DelFailed
		dm.D.AddNotice(upd.Message)
		return
	}
	dm.D.State = targetState
}

// Ticket carves units out of the delegation's available inventory and
// returns a Ticket referencing this delegation as its source (signing
// happens in internal/crypto; here we only bookkeep the claimed count).
// Returns InvalidArguments if units exceeds what's available.
func (dm *DelegationMachine) Ticket(ctx context.Context, units int, term model.Term, resourceType model.ResourceType, holder model.ID) (*model.Ticket, error) {
	if units > dm.D.Available() {
		return nil, msgs.NewError(ctx, msgs.MsgInvalidArguments, "requested units exceed available delegation inventory")
	}
	dm.D.Claimed += units
	return &model.Ticket{
		Term:         term,
		Units:        units,
		Type:         resourceType,
		HolderGUID:   holder,
		DelegationID: dm.D.ID,
	}, nil
}

// Release gives back previously-ticketed units to the delegation's
// available pool (used on Close/Relinquish of the reservation the
// ticket backed).
func (dm *DelegationMachine) Release(units int) {
	dm.D.Claimed -= units
	if dm.D.Claimed < 0 {
		dm.D.Claimed = 0
	}
}
