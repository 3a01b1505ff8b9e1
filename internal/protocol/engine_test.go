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

package protocol_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/internal/protocol"
	"github.com/fabric-testbed/control-core/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingOutbound is a protocol.Outbound test double that records
// every message it was asked to send, in order.
type recordingOutbound struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (o *recordingOutbound) Send(ctx context.Context, target string, msg protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *recordingOutbound) last() protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[len(o.sent)-1]
}

func (o *recordingOutbound) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

// TestDispatchRejectsRedeemWhileAlreadyPriming drives two Redeem
// messages through a real Engine.Dispatch call for the same
// reservation: the first begins Priming, and the second must be
// rejected as a pending operation rather than silently accepted or
// left to corrupt the in-flight one.
func TestDispatchRejectsRedeemWhileAlreadyPriming(t *testing.T) {
	ctx := context.Background()
	out := &recordingOutbound{}
	eng := protocol.NewEngine("authority-1", model.CategoryAuthority, policy.NoOpHooks{}, out, "broker-1")

	reservationID := model.NewID()
	client := model.AuthToken{Name: "broker-1", GUID: model.NewID()}

	ticket := protocol.Message{
		MessageID:     "msg-1",
		Auth:          client,
		Kind:          protocol.KindTicket,
		ReservationID: reservationID,
		Resources:     &model.ResourceSet{Units: 2, ResourceType: "compute"},
	}
	require.NoError(t, eng.Dispatch(ctx, ticket))
	require.Equal(t, 1, out.count())
	require.Equal(t, protocol.KindUpdateTicket, out.last().Kind)
	require.Equal(t, 0, out.last().Update.ResultCode, "Ticket must succeed before Redeem is attempted")

	redeem := protocol.Message{
		MessageID:     "msg-2",
		Auth:          client,
		Kind:          protocol.KindRedeem,
		ReservationID: reservationID,
	}
	require.NoError(t, eng.Dispatch(ctx, redeem))
	// A successful Redeem sends no immediate reply; it completes
	// asynchronously once every assigned unit reaches Active.
	assert.Equal(t, 1, out.count(), "a successful Redeem produces no immediate UpdateLease")

	redeemAgain := protocol.Message{
		MessageID:     "msg-3",
		Auth:          client,
		Kind:          protocol.KindRedeem,
		ReservationID: reservationID,
	}
	require.NoError(t, eng.Dispatch(ctx, redeemAgain))
	require.Equal(t, 2, out.count(), "the rejected second Redeem must still produce a reply")
	reply := out.last()
	assert.Equal(t, protocol.KindUpdateLease, reply.Kind)
	assert.NotZero(t, reply.Update.ResultCode, "a Redeem while already Priming must be rejected, not accepted")
	assert.NotEmpty(t, reply.Update.Message)
}

// TestDispatchTicketThenRedeemHappyPath checks the ordinary path
// through Dispatch: the Redeem joins its units through the
// configuration handler and the next wrapper-tick probe completes the
// lease, sending the client its UpdateLease(ok).
func TestDispatchTicketThenRedeemHappyPath(t *testing.T) {
	ctx := context.Background()
	out := &recordingOutbound{}
	eng := protocol.NewEngine("authority-1", model.CategoryAuthority, policy.NoOpHooks{}, out, "broker-1")

	reservationID := model.NewID()
	client := model.AuthToken{Name: "broker-1", GUID: model.NewID()}

	require.NoError(t, eng.Dispatch(ctx, protocol.Message{
		MessageID:     "msg-1",
		Auth:          client,
		Kind:          protocol.KindTicket,
		ReservationID: reservationID,
		Resources:     &model.ResourceSet{Units: 1, ResourceType: "compute"},
	}))
	require.NoError(t, eng.Dispatch(ctx, protocol.Message{
		MessageID:     "msg-2",
		Auth:          client,
		Kind:          protocol.KindRedeem,
		ReservationID: reservationID,
	}))

	assert.True(t, eng.HasPendingReservations(), "Redeem leaves the reservation Priming until the probe runs")
	assert.Equal(t, 1, eng.PendingCount())

	require.NoError(t, eng.ProbePendingOperations(ctx))
	assert.False(t, eng.HasPendingReservations(), "the joined units complete the lease on the next probe")
	reply := out.last()
	assert.Equal(t, protocol.KindUpdateLease, reply.Kind)
	assert.Equal(t, 0, reply.Update.ResultCode)

	counts := eng.ResourceCounts()
	assert.Equal(t, 1, counts.Active[model.ResourceType("compute")])
}

// TestClientSubmitExtendCloseFlow drives an orchestrator-side engine
// through the full client lifecycle: submit, autoredeem on the ticket
// grant, activation on the lease grant, a ticket extension, a close
// rejected while that extension is still pending, and the extension
// completing normally afterwards.
func TestClientSubmitExtendCloseFlow(t *testing.T) {
	ctx := context.Background()
	out := &recordingOutbound{}
	eng := protocol.NewEngine("orchestrator-1", model.CategoryClient, policy.NoOpHooks{}, out, "broker-1")

	term := model.Term{Start: time.Unix(5, 0), End: time.Unix(20, 0)}
	m, err := eng.Submit(ctx, model.NewID(), &model.ResourceSet{Units: 2, ResourceType: "compute"}, term)
	require.NoError(t, err)
	require.Equal(t, protocol.KindTicket, out.last().Kind)
	require.Equal(t, model.PendingTicketing, m.R.Pending)

	// broker grants the ticket; autoredeem sends the Redeem onward
	require.NoError(t, eng.Dispatch(ctx, protocol.Message{
		MessageID:     "upd-1",
		RequestID:     out.last().MessageID,
		Auth:          model.AuthToken{Name: "broker-1"},
		Kind:          protocol.KindUpdateTicket,
		ReservationID: m.R.ID,
		Term:          term,
		Resources:     &model.ResourceSet{Units: 2, ResourceType: "compute"},
		Update:        &reservation.UpdateData{ResultCode: 0, Sequence: 1},
	}))
	assert.Equal(t, protocol.KindRedeem, out.last().Kind)
	assert.Equal(t, model.PendingRedeeming, m.R.Pending)

	// authority grants the lease
	require.NoError(t, eng.Dispatch(ctx, protocol.Message{
		MessageID:     "upd-2",
		Auth:          model.AuthToken{Name: "authority-1"},
		Kind:          protocol.KindUpdateLease,
		ReservationID: m.R.ID,
		Term:          term,
		Resources:     &model.ResourceSet{Units: 2, ResourceType: "compute"},
		Update:        &reservation.UpdateData{ResultCode: 0, Sequence: 1},
	}))
	assert.Equal(t, model.ResActive, m.R.State)
	assert.Equal(t, model.PendingNone, m.R.Pending)

	// extension, with a close attempted while it is still pending
	newTerm := model.Term{Start: term.Start, NewStart: time.Unix(21, 0), End: time.Unix(40, 0)}
	require.NoError(t, eng.RequestExtendTicket(ctx, m.R.ID, &model.ResourceSet{Units: 2}, newTerm))
	assert.Equal(t, model.PendingExtendingTicket, m.R.Pending)

	err = eng.RequestClose(ctx, m.R.ID)
	require.Error(t, err, "Close during a pending extension must be rejected synchronously")
	assert.Equal(t, model.PendingExtendingTicket, m.R.Pending, "the in-flight extension must be unaffected")

	require.NoError(t, eng.Dispatch(ctx, protocol.Message{
		MessageID:     "upd-3",
		Auth:          model.AuthToken{Name: "broker-1"},
		Kind:          protocol.KindUpdateTicket,
		ReservationID: m.R.ID,
		Term:          newTerm,
		Resources:     &model.ResourceSet{Units: 2},
		Update:        &reservation.UpdateData{ResultCode: 0, Sequence: 2},
	}))
	assert.Equal(t, model.PendingNone, m.R.Pending)
	assert.Equal(t, newTerm.End, m.R.Term.End)
	assert.Equal(t, 2, m.R.Resources.Units, "a single logical reservation, no duplicate units")
}

// TestDispatchUnknownReservationRepliesFailedRPC checks that an
// operation against an id the engine never adopted comes back as a
// FailedRPC rather than panicking or being silently dropped.
func TestDispatchUnknownReservationRepliesFailedRPC(t *testing.T) {
	ctx := context.Background()
	out := &recordingOutbound{}
	eng := protocol.NewEngine("authority-1", model.CategoryAuthority, policy.NoOpHooks{}, out, "broker-1")

	err := eng.Dispatch(ctx, protocol.Message{
		MessageID:     "msg-1",
		Auth:          model.AuthToken{Name: "broker-1"},
		Kind:          protocol.KindRedeem,
		ReservationID: model.NewID(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.count())
	assert.Equal(t, protocol.KindFailedRPC, out.last().Kind)
}
