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

// Package rpcmanager dispatches outbound protocol requests, correlates
// inbound responses, and turns timeouts and transport failures into
// synthetic FailedRPC deliveries.
package rpcmanager

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/kernel"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/protocol"
	"github.com/fabric-testbed/control-core/internal/proxy"
	"github.com/fabric-testbed/control-core/pkg/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

func newSyntheticID() string {
	return uuid.NewString()
}

// requestKinds is the set of message kinds that expect a correlated
// response and therefore get a pending-table entry and a timeout timer.
// Response kinds (UpdateTicket, UpdateLease, ...) and fire-and-forget
// kinds are sent without tracking.
var requestKinds = map[protocol.Kind]bool{
	protocol.KindTicket:           true,
	protocol.KindExtendTicket:     true,
	protocol.KindRedeem:           true,
	protocol.KindExtendLease:      true,
	protocol.KindModifyLease:      true,
	protocol.KindClose:            true,
	protocol.KindRelinquish:       true,
	protocol.KindClaimDelegation:  true,
	protocol.KindReclaimDelegation: true,
	protocol.KindQuery:            true,
}

type pendingEntry struct {
	messageID       string
	kind            protocol.Kind
	reservationID   protocol.ID
	originActor     string
	delivered       bool
}

// Manager is the process-wide RPC dispatch/correlation component: one
// Manager is built per Container and handed to every actor's Engine as
// its protocol.Outbound.
type Manager struct {
	cfg      config.RPCConfig
	registry *proxy.Registry
	limiter  *rate.Limiter

	mu      sync.Mutex
	pending map[string]*pendingEntry

	actorsMu sync.RWMutex
	actors   map[string]*kernel.Actor
	engines  map[string]*protocol.Engine
}

func New(cfg config.RPCConfig, reg *proxy.Registry) *Manager {
	ratePS := 50.0
	if cfg.RateLimitPS != nil {
		ratePS = *cfg.RateLimitPS
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		limiter:  rate.NewLimiter(rate.Limit(ratePS), int(ratePS)+1),
		pending:  map[string]*pendingEntry{},
		actors:   map[string]*kernel.Actor{},
		engines:  map[string]*protocol.Engine{},
	}
}

// RegisterActor wires an actor's kernel.Actor and protocol.Engine into
// the manager so inbound dispatch and timeout delivery can reach it.
func (m *Manager) RegisterActor(name string, a *kernel.Actor, e *protocol.Engine) {
	m.actorsMu.Lock()
	defer m.actorsMu.Unlock()
	m.actors[name] = a
	m.engines[name] = e
}

// Send implements protocol.Outbound: it is the call Engine makes for
// every outbound protocol message, whether request or response.
func (m *Manager) Send(ctx context.Context, target string, msg protocol.Message) error {
	p, err := m.registry.Lookup(target)
	if err != nil {
		return m.failLocally(ctx, msg, msgs.NewError(ctx, msgs.MsgNoSuchActor, target))
	}

	if requestKinds[msg.Kind] {
		m.track(msg, originActorFromMessage(msg))
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return m.failLocally(ctx, msg, msgs.NewError(ctx, msgs.MsgTransportFailure, target, err.Error()))
	}

	sendErr := m.sendWithRetry(ctx, p, msg)
	if sendErr != nil {
		m.clearPending(msg.MessageID)
		return m.failLocally(ctx, msg, msgs.NewError(ctx, msgs.MsgTransportFailure, target, sendErr.Error()))
	}

	if requestKinds[msg.Kind] {
		m.scheduleTimeout(ctx, target, msg)
	}
	return nil
}

func originActorFromMessage(msg protocol.Message) string {
	return msg.Auth.Name
}

func (m *Manager) track(msg protocol.Message, originActor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[msg.MessageID] = &pendingEntry{
		messageID:     msg.MessageID,
		kind:          msg.Kind,
		reservationID: msg.ReservationID,
		originActor:   originActor,
	}
}

func (m *Manager) clearPending(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, messageID)
}

// Deliver is the inbound path: it clears any matching pending entry and
// enqueues the message as an event on the target actor's loop.
func (m *Manager) Deliver(ctx context.Context, targetActor string, msg protocol.Message) error {
	if msg.RequestID != "" {
		m.mu.Lock()
		if e, ok := m.pending[msg.RequestID]; ok {
			e.delivered = true
			delete(m.pending, msg.RequestID)
		}
		m.mu.Unlock()
	}

	m.actorsMu.RLock()
	actor, ok := m.actors[targetActor]
	engine := m.engines[targetActor]
	m.actorsMu.RUnlock()
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchActor, targetActor)
	}
	actor.QueueEvent(kernel.ActorEventFunc(func(ctx context.Context) error {
		return engine.Dispatch(ctx, msg)
	}))
	return nil
}

func (m *Manager) sendWithRetry(ctx context.Context, p proxy.Proxy, msg protocol.Message) error {
	initial := 500 * time.Millisecond
	maxIv := 10 * time.Second
	maxRetries := 5
	if m.cfg.RetryInitial != nil {
		if d, err := time.ParseDuration(*m.cfg.RetryInitial); err == nil {
			initial = d
		}
	}
	if m.cfg.RetryMax != nil {
		if d, err := time.ParseDuration(*m.cfg.RetryMax); err == nil {
			maxIv = d
		}
	}
	if m.cfg.RetryCount != nil {
		maxRetries = *m.cfg.RetryCount
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxIv

	op := func() (struct{}, error) {
		return struct{}{}, p.Execute(ctx, msg)
	}
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxRetries)))
	return err
}

// scheduleTimeout arranges for a synthetic FailedRPC(TransportTimeout)
// to be delivered to the requesting actor if no response arrives within
// the configured deadline (120s by default).
func (m *Manager) scheduleTimeout(ctx context.Context, target string, req protocol.Message) {
	deadline := 120 * time.Second
	if m.cfg.RequestTimeout != nil {
		if d, err := time.ParseDuration(*m.cfg.RequestTimeout); err == nil {
			deadline = d
		}
	}

	originActor := req.Auth.Name
	m.actorsMu.RLock()
	actor := m.actors[originActor]
	m.actorsMu.RUnlock()
	if actor == nil {
		return
	}
	messageID := req.MessageID
	reservationID := req.ReservationID
	kind := req.Kind

	actor.ScheduleTimer(deadline, kernel.ActorEventFunc(func(ctx context.Context) error {
		m.mu.Lock()
		entry, stillPending := m.pending[messageID]
		if stillPending {
			delete(m.pending, messageID)
		}
		m.mu.Unlock()
		if !stillPending || entry.delivered {
			return nil
		}
		log.L(ctx).Warnf("rpc %s to %s timed out after %s", messageID, target, deadline)
		return m.deliverFailedRPC(ctx, originActor, reservationID, kind, msgs.NewError(ctx, msgs.MsgTransportTimeout, string(kind), target, deadline.String()))
	}))
}

func (m *Manager) failLocally(ctx context.Context, req protocol.Message, err error) error {
	if !requestKinds[req.Kind] {
		return err
	}
	_ = m.deliverFailedRPC(ctx, req.Auth.Name, req.ReservationID, req.Kind, err)
	return err
}

func (m *Manager) deliverFailedRPC(ctx context.Context, originActor string, reservationID protocol.ID, failedKind protocol.Kind, cause error) error {
	m.actorsMu.RLock()
	actor := m.actors[originActor]
	engine := m.engines[originActor]
	m.actorsMu.RUnlock()
	if actor == nil || engine == nil {
		return nil
	}
	failed := protocol.Message{
		MessageID:         newSyntheticID(),
		Kind:              protocol.KindFailedRPC,
		ReservationID:     reservationID,
		FailedRequestType: failedKind,
		ErrorDetails:      cause.Error(),
	}
	actor.QueueEvent(kernel.ActorEventFunc(func(ctx context.Context) error {
		return engine.Dispatch(ctx, failed)
	}))
	return nil
}

// CancelForActor completes every pending request this manager tracks on
// behalf of actorName with FailedRPC(Cancelled): stopping an actor
// cancels all its pending request entries. Remote callers are not
// notified; they will observe a timeout.
func (m *Manager) CancelForActor(ctx context.Context, actorName string) {
	m.mu.Lock()
	var toCancel []*pendingEntry
	for id, e := range m.pending {
		if e.originActor == actorName {
			toCancel = append(toCancel, e)
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()

	for _, e := range toCancel {
		_ = m.deliverFailedRPC(ctx, actorName, e.reservationID, e.kind, msgs.NewError(ctx, msgs.MsgRPCCancelled, string(e.kind), actorName))
	}
}
