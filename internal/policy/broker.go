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

package policy

import (
	"context"
	"sync"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/reservation"
)

// BrokerHooks is the shipped broker allocation policy: every ticket it
// grants is carved out of claimed delegation inventory through
// reservation.DelegationMachine.Ticket, first-fit in claim order, so an
// issued ticket can never exceed its source delegation's availability.
// Delegations enter the pool via RevisitDelegation, called both by the
// recovery engine and by the protocol engine when a ClaimDelegation
// exchange completes.
type BrokerHooks struct {
	mu    sync.Mutex
	order []*reservation.DelegationMachine
	byID  map[model.ID]*reservation.DelegationMachine
}

func NewBrokerHooks() *BrokerHooks {
	return &BrokerHooks{byID: map[model.ID]*reservation.DelegationMachine{}}
}

func (b *BrokerHooks) Prepare(ctx context.Context, cycle int) error { return nil }
func (b *BrokerHooks) Finish(ctx context.Context, cycle int) error  { return nil }

// Allocate grants r's requested units against the first delegation with
// enough availability. An extension re-tickets against the same source
// delegation, releasing the prior claim first so the reservation is
// never double-counted.
func (b *BrokerHooks) Allocate(ctx context.Context, r *model.Reservation) (*model.ResourceSet, error) {
	req := r.RequestedResources
	if req == nil || req.Units <= 0 {
		return nil, msgs.NewError(ctx, msgs.MsgInvalidArguments, "no resources requested")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev := approvedTicket(r); prev != nil {
		dm, ok := b.byID[prev.DelegationID]
		if !ok {
			return nil, msgs.NewError(ctx, msgs.MsgNoSuchDelegation, prev.DelegationID.String())
		}
		dm.Release(prev.Units)
		tk, err := dm.Ticket(ctx, req.Units, r.RequestedTerm, req.ResourceType, r.Client.GUID)
		if err != nil {
			dm.D.Claimed += prev.Units // restore the claim the failed re-ticket released
			return nil, err
		}
		return &model.ResourceSet{Units: req.Units, ResourceType: req.ResourceType, Ticket: tk}, nil
	}

	for _, dm := range b.order {
		tk, err := dm.Ticket(ctx, req.Units, r.RequestedTerm, req.ResourceType, r.Client.GUID)
		if err != nil {
			continue
		}
		return &model.ResourceSet{Units: req.Units, ResourceType: req.ResourceType, Ticket: tk}, nil
	}
	return nil, msgs.NewError(ctx, msgs.MsgPolicyRejected, r.ID.String(), "no delegation has sufficient available units")
}

// Assign is an Authority concern; a broker never builds UnitSets.
func (b *BrokerHooks) Assign(ctx context.Context, r *model.Reservation) (*model.UnitSet, error) {
	return nil, msgs.NewError(ctx, msgs.MsgInvalidReservation, r.ID.String(), "a broker does not assign units")
}

// Closed releases the closed reservation's ticketed units back to their
// source delegation's available pool.
func (b *BrokerHooks) Closed(ctx context.Context, r *model.Reservation) error {
	tk := approvedTicket(r)
	if tk == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if dm, ok := b.byID[tk.DelegationID]; ok {
		dm.Release(tk.Units)
	}
	return nil
}

// Revisit has nothing to rebuild: a delegation's claimed count rides
// its own persisted record, so rehydrated reservations must not
// re-claim their tickets on top of it.
func (b *BrokerHooks) Revisit(ctx context.Context, r *model.Reservation) error { return nil }

// RevisitDelegation adopts a Delegated delegation into the allocatable
// pool; non-delegated and already-known delegations are left alone.
func (b *BrokerHooks) RevisitDelegation(ctx context.Context, d *model.Delegation) error {
	if d.State != model.DelDelegated {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[d.ID]; ok {
		return nil
	}
	dm := reservation.WrapDelegation(d)
	b.byID[d.ID] = dm
	b.order = append(b.order, dm)
	return nil
}

// AllocatableUnits sums the units still available across every adopted
// delegation, for diagnostics and tests.
func (b *BrokerHooks) AllocatableUnits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, dm := range b.order {
		n += dm.D.Available()
	}
	return n
}

func approvedTicket(r *model.Reservation) *model.Ticket {
	if r.ApprovedResources == nil {
		return nil
	}
	return r.ApprovedResources.Ticket
}
