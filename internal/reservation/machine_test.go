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
	"testing"
	"time"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grantAll is the test Allocator/Assigner: it grants exactly what was
// requested and builds one Default unit per approved unit. A local
// double rather than policy.NoOpHooks because internal/policy imports
// this package for its broker allocation.
type grantAll struct{}

func (grantAll) Allocate(ctx context.Context, r *model.Reservation) (*model.ResourceSet, error) {
	granted := *r.RequestedResources
	return &granted, nil
}

func (grantAll) Assign(ctx context.Context, r *model.Reservation) (*model.UnitSet, error) {
	us := model.NewUnitSet()
	for i := 0; i < r.ApprovedResources.Units; i++ {
		u := &model.Unit{
			ID:            model.NewID(),
			ReservationID: r.ID,
			SliceID:       r.Slice,
			State:         model.UnitDefault,
			Type:          r.ApprovedResources.ResourceType,
		}
		us.Units[u.ID] = u
	}
	return us, nil
}

func newTestReservation() *model.Reservation {
	client := model.AuthToken{Name: "orchestrator-1", GUID: model.NewID()}
	return model.NewReservation(model.NewID(), model.CategoryAuthority, client)
}

func TestTicketThenRedeemThenActive(t *testing.T) {
	ctx := context.Background()
	hooks := grantAll{}
	cfg := NoOpConfigurationHandler{}
	r := newTestReservation()
	m := Wrap(r)

	term := model.Term{Start: time.Unix(5000, 0), End: time.Unix(20000, 0)}
	req := &model.ResourceSet{Units: 2, ResourceType: "vm"}

	require.NoError(t, m.OnTicket(ctx, hooks, req, term))
	assert.Equal(t, model.ResTicketed, r.State)
	assert.Equal(t, model.PendingNone, r.Pending)

	// Redeem assigns the units and dispatches their joins; the handler
	// succeeds synchronously, so every unit is already Active when the
	// next wrapper-tick probe runs.
	require.NoError(t, m.OnRedeem(ctx, hooks, cfg, term))
	assert.Equal(t, model.PendingPriming, r.Pending)
	require.NotNil(t, r.Resources.UnitSet)
	assert.Len(t, r.Resources.UnitSet.Units, 2)
	assert.Equal(t, 2, r.Resources.UnitSet.ActiveCount())

	m.ProbePendingCompletion(ctx)
	assert.Equal(t, model.ResActive, r.State)
	assert.Equal(t, model.PendingNone, r.Pending)
}

func TestPendingOperationRejectsConcurrentOp(t *testing.T) {
	ctx := context.Background()
	hooks := grantAll{}
	r := newTestReservation()
	m := Wrap(r)
	term := model.Term{Start: time.Unix(0, 0), End: time.Unix(100, 0)}
	require.NoError(t, m.OnTicket(ctx, hooks, &model.ResourceSet{Units: 1}, term))
	require.NoError(t, m.OnRedeem(ctx, hooks, NoOpConfigurationHandler{}, term))

	// pending=Priming: a concurrent Redeem must be rejected.
	err := m.OnRedeem(ctx, hooks, NoOpConfigurationHandler{}, term)
	require.Error(t, err)
	assert.Equal(t, model.PendingPriming, r.Pending, "state must be unchanged by the rejected op")
}

func TestExtendTicketOrdering(t *testing.T) {
	ctx := context.Background()
	hooks := grantAll{}
	r := newTestReservation()
	m := Wrap(r)
	term := model.Term{Start: time.Unix(0, 0), End: time.Unix(100, 0)}
	require.NoError(t, m.OnTicket(ctx, hooks, &model.ResourceSet{Units: 1}, term))

	overlap := model.Term{Start: time.Unix(0, 0), NewStart: time.Unix(50, 0), End: time.Unix(200, 0)}
	err := m.OnExtendTicket(ctx, hooks, &model.ResourceSet{Units: 1}, overlap)
	require.Error(t, err)
	assert.Equal(t, model.PendingNone, r.Pending, "a rejected extension must not leave a dangling pending state")

	valid := model.Term{Start: time.Unix(0, 0), NewStart: time.Unix(101, 0), End: time.Unix(200, 0)}
	require.NoError(t, m.OnExtendTicket(ctx, hooks, &model.ResourceSet{Units: 1}, valid))
	assert.Equal(t, valid.End, r.Term.End)
}

func TestCloseWhileNascentIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	r := newTestReservation()
	m := Wrap(r)

	localOnly, err := m.OnClose(ctx, NoOpConfigurationHandler{})
	require.NoError(t, err)
	assert.True(t, localOnly)
	assert.Equal(t, model.ResClosed, r.State)
}

func TestFailAlwaysAccepted(t *testing.T) {
	ctx := context.Background()
	hooks := grantAll{}
	r := newTestReservation()
	m := Wrap(r)
	term := model.Term{Start: time.Unix(0, 0), End: time.Unix(100, 0)}
	require.NoError(t, m.OnTicket(ctx, hooks, &model.ResourceSet{Units: 1}, term))
	require.NoError(t, m.OnRedeem(ctx, hooks, NoOpConfigurationHandler{}, term)) // pending=Priming

	m.Fail(ctx, "external handler reported a fatal error")
	assert.Equal(t, model.ResFailed, r.State)
	assert.Equal(t, model.PendingNone, r.Pending)
	assert.Contains(t, r.Notices, "external handler reported a fatal error")
}

func TestExtendLeaseRejectsNonClientCaller(t *testing.T) {
	ctx := context.Background()
	hooks := grantAll{}
	cfg := NoOpConfigurationHandler{}
	r := newTestReservation()
	m := Wrap(r)
	term := model.Term{Start: time.Unix(0, 0), End: time.Unix(100, 0)}
	require.NoError(t, m.OnTicket(ctx, hooks, &model.ResourceSet{Units: 1}, term))
	require.NoError(t, m.OnRedeem(ctx, hooks, cfg, term))
	m.ProbePendingCompletion(ctx)
	require.Equal(t, model.ResActive, r.State)

	impostor := model.AuthToken{Name: "not-the-client", GUID: model.NewID()}
	newTerm := model.Term{Start: term.Start, NewStart: time.Unix(101, 0), End: time.Unix(200, 0)}
	err := m.OnExtendLease(ctx, impostor, hooks, cfg, &model.ResourceSet{Units: 1}, newTerm)
	require.Error(t, err)
	assert.Equal(t, model.ResActive, r.State)
}

func TestExpiredTermAutoCloses(t *testing.T) {
	ctx := context.Background()
	hooks := grantAll{}
	cfg := NoOpConfigurationHandler{}
	r := newTestReservation()
	m := Wrap(r)
	term := model.Term{Start: time.Unix(0, 0), End: time.Unix(100, 0)}
	require.NoError(t, m.OnTicket(ctx, hooks, &model.ResourceSet{Units: 1}, term))
	require.NoError(t, m.OnRedeem(ctx, hooks, cfg, term))
	m.ProbePendingCompletion(ctx)
	require.Equal(t, model.ResActive, r.State)

	began := m.CheckExpiry(ctx, time.Unix(101, 0), cfg)
	assert.True(t, began)
	assert.Equal(t, model.PendingClosing, r.Pending)

	// the leave actions were dispatched by the close; the next probe
	// observes every unit Closed and finishes the reservation
	m.ProbePendingCompletion(ctx)
	assert.Equal(t, model.ResClosed, r.State)
	assert.Equal(t, model.PendingNone, r.Pending)
}

func TestDuplicateUpdateTicketIgnored(t *testing.T) {
	ctx := context.Background()
	r := newTestReservation()
	r.State = model.ResNascent
	r.Pending = model.PendingTicketing
	r.Sequences.TicketIn = 5
	m := Wrap(r)

	shouldRedeem := m.OnUpdateTicket(ctx, &model.ResourceSet{Units: 1}, model.Term{}, UpdateData{ResultCode: 0, Sequence: 3}, true)
	assert.False(t, shouldRedeem)
	assert.Equal(t, model.ResNascent, r.State, "a stale/duplicate update must be ignored entirely")
	assert.Equal(t, model.PendingTicketing, r.Pending)
}

func TestClaimThenTicketRespectsAvailability(t *testing.T) {
	ctx := context.Background()
	d := model.NewDelegation(model.NewID(), 10, map[string]string{"kind": "graph"})
	dm := WrapDelegation(d)
	require.NoError(t, dm.OnClaimDelegation(ctx))
	assert.Equal(t, 10, d.Available())

	_, err := dm.Ticket(ctx, 11, model.Term{}, "vm", model.NewID())
	require.Error(t, err, "tickets must never exceed available delegation inventory")

	tk, err := dm.Ticket(ctx, 4, model.Term{}, "vm", model.NewID())
	require.NoError(t, err)
	assert.Equal(t, 4, tk.Units)
	assert.Equal(t, d.ID, tk.DelegationID, "a ticket must reference its source delegation")
	assert.Equal(t, 6, d.Available())
}
