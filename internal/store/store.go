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

// Package store implements the persistence abstraction: every Slice,
// Reservation, Delegation and Unit an actor owns is stored as a row
// carrying its indexed identifiers plus an opaque serialized blob for
// the rich fields.
package store

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/model"
)

// ActorRecord is the durable record of one actor known to this
// container.
type ActorRecord struct {
	ID   model.ID
	Name string
	Type string
}

// Store is the persistence abstraction the kernel, recovery engine and
// protocol layer consume. All writes are atomic per entity; reads
// within an event batch are consistent with writes from earlier
// batches.
type Store interface {
	// Slices
	AddSlice(ctx context.Context, actorID model.ID, s *model.Slice) error
	UpdateSlice(ctx context.Context, actorID model.ID, s *model.Slice) error
	RemoveSlice(ctx context.Context, actorID, sliceID model.ID) error
	GetSlice(ctx context.Context, actorID, sliceID model.ID) (*model.Slice, error)
	GetSlicesByKind(ctx context.Context, actorID model.ID, kind model.SliceKind) ([]*model.Slice, error)
	GetSlicesByResourceType(ctx context.Context, actorID model.ID, resourceType model.ResourceType) ([]*model.Slice, error)

	// Reservations
	AddReservation(ctx context.Context, actorID model.ID, r *model.Reservation) error
	UpdateReservation(ctx context.Context, actorID model.ID, r *model.Reservation) error
	RemoveReservation(ctx context.Context, actorID, reservationID model.ID) error
	GetReservation(ctx context.Context, actorID, reservationID model.ID) (*model.Reservation, error)
	GetReservationsBySlice(ctx context.Context, actorID, sliceID model.ID) ([]*model.Reservation, error)
	GetReservationsByState(ctx context.Context, actorID model.ID, state model.ReservationState) ([]*model.Reservation, error)
	GetReservationsByCategory(ctx context.Context, actorID model.ID, category model.Category) ([]*model.Reservation, error)

	// Delegations
	AddDelegation(ctx context.Context, actorID model.ID, d *model.Delegation) error
	UpdateDelegation(ctx context.Context, actorID model.ID, d *model.Delegation) error
	RemoveDelegation(ctx context.Context, actorID, delegationID model.ID) error
	GetDelegation(ctx context.Context, actorID, delegationID model.ID) (*model.Delegation, error)
	GetDelegationsBySlice(ctx context.Context, actorID, sliceID model.ID) ([]*model.Delegation, error)

	// Units. AddUnit fails with a duplicate-id error if unitID already
	// exists under actorID unless fromRecovery is set: a unit add must
	// fail if the same unit_id already exists under the actor, unless
	// called from the recovery path.
	AddUnit(ctx context.Context, actorID model.ID, u *model.Unit, fromRecovery bool) error
	UpdateUnit(ctx context.Context, actorID model.ID, u *model.Unit) error
	RemoveUnit(ctx context.Context, actorID, unitID model.ID) error
	GetUnit(ctx context.Context, actorID, unitID model.ID) (*model.Unit, error)
	GetUnitsByReservation(ctx context.Context, actorID, reservationID model.ID) ([]*model.Unit, error)

	// Actors and container-level miscellaneous key/value state (e.g.
	// container time settings).
	AddActor(ctx context.Context, rec ActorRecord) error
	GetActors(ctx context.Context) ([]ActorRecord, error)
	PutMisc(ctx context.Context, key, value string) error
	GetMisc(ctx context.Context, key string) (value string, found bool, err error)

	Close() error
}
