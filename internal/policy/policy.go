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

// Package policy defines the Hooks abstraction the kernel invokes at
// defined points but never prescribes the algorithm for. Broker
// allocation and authority unit assignment are policy decisions, not
// kernel decisions.
package policy

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/model"
)

// Hooks is implemented by whatever allocation/assignment algorithm an
// actor is configured with. The kernel calls these at fixed points in
// its tick sequence and FSM transitions; it never inspects the
// decisions' internals.
type Hooks interface {
	// Prepare runs at the start of tick(cycle), before any role
	// tick_handler.
	Prepare(ctx context.Context, cycle int) error

	// Finish runs at the end of tick(cycle), after the role
	// tick_handler and before the kernel-wrapper probe.
	Finish(ctx context.Context, cycle int) error

	// Allocate is invoked by a Broker reservation entering (Nascent,
	// Ticketing): decide how many units of r.RequestedResources.Units
	// to grant, against which Delegation, for which Term. Returning an
	// approved ResourceSet with Units < requested is a partial grant,
	// not a rejection; the caller decides whether that's acceptable.
	Allocate(ctx context.Context, r *model.Reservation) (*model.ResourceSet, error)

	// Assign is invoked by an Authority reservation entering (Ticketed,
	// Redeeming): build the UnitSet backing the reservation's lease.
	Assign(ctx context.Context, r *model.Reservation) (*model.UnitSet, error)

	// Closed is invoked after a reservation reaches Closed, so the
	// policy can return whatever inventory the reservation was holding
	// (a broker releases the ticket's units back to its source
	// delegation).
	Closed(ctx context.Context, r *model.Reservation) error

	// Revisit is invoked once per reservation during recovery, after
	// the reservation object itself has been rehydrated from the
	// store, so the policy can rebuild any in-memory calendars or
	// inventory counts it keeps.
	Revisit(ctx context.Context, r *model.Reservation) error

	// RevisitDelegation is the delegation-side analogue of Revisit.
	RevisitDelegation(ctx context.Context, d *model.Delegation) error
}

// NoOpHooks is a Hooks implementation that grants whatever was
// requested and keeps no state of its own. It exists to exercise the
// kernel and protocol layers in tests without depending on a real
// allocation algorithm.
type NoOpHooks struct{}

func (NoOpHooks) Prepare(ctx context.Context, cycle int) error { return nil }
func (NoOpHooks) Finish(ctx context.Context, cycle int) error  { return nil }

func (NoOpHooks) Allocate(ctx context.Context, r *model.Reservation) (*model.ResourceSet, error) {
	if r.RequestedResources == nil {
		return &model.ResourceSet{}, nil
	}
	granted := *r.RequestedResources
	return &granted, nil
}

func (NoOpHooks) Assign(ctx context.Context, r *model.Reservation) (*model.UnitSet, error) {
	us := model.NewUnitSet()
	units := 0
	if r.ApprovedResources != nil {
		units = r.ApprovedResources.Units
	}
	for i := 0; i < units; i++ {
		u := &model.Unit{
			ID:            model.NewID(),
			ReservationID: r.ID,
			SliceID:       r.Slice,
			State:         model.UnitDefault,
		}
		if r.ApprovedResources != nil {
			u.Type = r.ApprovedResources.ResourceType
		}
		us.Units[u.ID] = u
	}
	return us, nil
}

func (NoOpHooks) Closed(ctx context.Context, r *model.Reservation) error           { return nil }
func (NoOpHooks) Revisit(ctx context.Context, r *model.Reservation) error          { return nil }
func (NoOpHooks) RevisitDelegation(ctx context.Context, d *model.Delegation) error { return nil }
