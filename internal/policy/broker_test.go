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
	"testing"
	"time"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBrokerWithDelegation(t *testing.T, units int) (*BrokerHooks, *model.Delegation) {
	t.Helper()
	b := NewBrokerHooks()
	d := model.NewDelegation(model.NewID(), units, map[string]string{"kind": "graph"})
	d.State = model.DelDelegated
	require.NoError(t, b.RevisitDelegation(context.Background(), d))
	return b, d
}

func newBrokerRequest(units int) *model.Reservation {
	r := model.NewReservation(model.NewID(), model.CategoryBroker, model.AuthToken{Name: "orchestrator-1", GUID: model.NewID()})
	r.RequestedResources = &model.ResourceSet{Units: units, ResourceType: "compute"}
	r.RequestedTerm = model.Term{Start: time.Unix(5, 0), End: time.Unix(20, 0)}
	return r
}

// TestBrokerAllocateCarvesDelegationInventory checks the shipped broker
// policy grants tickets only out of claimed delegation availability: a
// grant reduces the pool, and a request beyond it is rejected with the
// pool unchanged.
func TestBrokerAllocateCarvesDelegationInventory(t *testing.T) {
	ctx := context.Background()
	b, d := newBrokerWithDelegation(t, 10)
	require.Equal(t, 10, b.AllocatableUnits())

	granted, err := b.Allocate(ctx, newBrokerRequest(4))
	require.NoError(t, err)
	require.NotNil(t, granted.Ticket)
	assert.Equal(t, 4, granted.Ticket.Units)
	assert.Equal(t, d.ID, granted.Ticket.DelegationID)
	assert.Equal(t, 6, b.AllocatableUnits())

	_, err = b.Allocate(ctx, newBrokerRequest(7))
	require.Error(t, err, "a ticket may never exceed its source delegation's availability")
	assert.Equal(t, 6, b.AllocatableUnits(), "a rejected request must not consume inventory")
}

// TestBrokerClosedReleasesTicketedUnits checks the Closed hook returns
// a closed reservation's ticketed units to the delegation pool.
func TestBrokerClosedReleasesTicketedUnits(t *testing.T) {
	ctx := context.Background()
	b, _ := newBrokerWithDelegation(t, 10)

	r := newBrokerRequest(4)
	granted, err := b.Allocate(ctx, r)
	require.NoError(t, err)
	r.ApprovedResources = granted
	require.Equal(t, 6, b.AllocatableUnits())

	r.State = model.ResClosed
	require.NoError(t, b.Closed(ctx, r))
	assert.Equal(t, 10, b.AllocatableUnits())
}

// TestBrokerExtensionDoesNotDoubleClaim checks an extension re-tickets
// against the same source delegation: the prior claim is released
// before the new one is taken, so a same-size extension leaves the
// pool where it was.
func TestBrokerExtensionDoesNotDoubleClaim(t *testing.T) {
	ctx := context.Background()
	b, d := newBrokerWithDelegation(t, 10)

	r := newBrokerRequest(4)
	granted, err := b.Allocate(ctx, r)
	require.NoError(t, err)
	r.ApprovedResources = granted
	require.Equal(t, 6, b.AllocatableUnits())

	r.RequestedTerm = model.Term{Start: time.Unix(5, 0), NewStart: time.Unix(21, 0), End: time.Unix(40, 0)}
	regranted, err := b.Allocate(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 4, regranted.Ticket.Units)
	assert.Equal(t, d.ID, regranted.Ticket.DelegationID)
	assert.Equal(t, 6, b.AllocatableUnits(), "a same-size extension must not claim twice")
}

// TestBrokerIgnoresUnclaimedDelegation checks a delegation that has not
// completed its claim contributes nothing to the allocatable pool.
func TestBrokerIgnoresUnclaimedDelegation(t *testing.T) {
	b := NewBrokerHooks()
	d := model.NewDelegation(model.NewID(), 10, nil) // still Nascent
	require.NoError(t, b.RevisitDelegation(context.Background(), d))
	assert.Equal(t, 0, b.AllocatableUnits())

	_, err := b.Allocate(context.Background(), newBrokerRequest(1))
	assert.Error(t, err)
}
