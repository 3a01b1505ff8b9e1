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

package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/fabric-testbed/control-core/internal/crypto"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/internal/reservation"
	"github.com/fabric-testbed/control-core/pkg/log"
	"github.com/google/uuid"
)

// Outbound is the narrow interface the Engine needs from the RPC
// manager: fire a message at a named peer. internal/rpcmanager.Manager
// implements this; Engine never needs the rest of the manager's API.
type Outbound interface {
	Send(ctx context.Context, target string, msg Message) error
}

// StateStore is the slice of internal/store.Store the engine writes
// through after each transition; store.Store satisfies it structurally.
type StateStore interface {
	AddUnit(ctx context.Context, actorID model.ID, u *model.Unit, fromRecovery bool) error
	UpdateUnit(ctx context.Context, actorID model.ID, u *model.Unit) error
	UpdateReservation(ctx context.Context, actorID model.ID, r *model.Reservation) error
}

// Engine holds one actor's reservations and delegations and dispatches
// inbound messages to internal/reservation's state machines, producing
// outbound messages through Outbound. It implements kernel.RoleHandler.
type Engine struct {
	ActorName string
	Role      model.Category

	hooks policy.Hooks
	out   Outbound

	// config dispatches unit join/modify/leave actions against the
	// external resource; NoOp unless SetConfigurationHandler installs a
	// real binding.
	config reservation.ConfigurationHandler

	// store and actorID, when bound, persist reservations and units
	// after each transition so the dirty discipline holds across crash;
	// unbound (tests) the engine runs purely in memory.
	store   StateStore
	actorID model.ID

	mu           sync.RWMutex
	reservations map[model.ID]*reservation.Machine
	delegations  map[model.ID]*reservation.DelegationMachine

	// peer is the counterparty actor name this Engine's reservations
	// talk to by default (e.g. a Broker's upstream Authority); protocol
	// messages to a specific reservation's own counterparty would, in a
	// fuller build, be looked up per-reservation rather than globally.
	peer string

	// signer and peerKeys ground the cryptographic ticket binding. Both
	// are nil/empty by default, which skips signing and verification
	// entirely; existing callers that never configure crypto keep
	// working unchanged.
	signer   *crypto.Identity
	peerKeys map[string]string

	deferredOnce sync.Once
}

// SetSigner installs the identity this engine signs issued tickets
// with. A Broker signs every Ticket it issues.
func (e *Engine) SetSigner(id *crypto.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signer = id
}

// SetPeerPublicKeys installs the known peer addresses (actor name ->
// hex address from Identity.PublicKeyHex) this engine verifies inbound
// ticket signatures against on Redeem.
func (e *Engine) SetPeerPublicKeys(keys map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peerKeys = keys
}

func NewEngine(actorName string, role model.Category, hooks policy.Hooks, out Outbound, peer string) *Engine {
	return &Engine{
		ActorName:    actorName,
		Role:         role,
		hooks:        hooks,
		out:          out,
		config:       reservation.NoOpConfigurationHandler{},
		peer:         peer,
		reservations: map[model.ID]*reservation.Machine{},
		delegations:  map[model.ID]*reservation.DelegationMachine{},
	}
}

// SetConfigurationHandler installs the external unit-configuration
// dispatcher the redeem/modify/close paths drive.
func (e *Engine) SetConfigurationHandler(cfg reservation.ConfigurationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg == nil {
		cfg = reservation.NoOpConfigurationHandler{}
	}
	e.config = cfg
}

// BindStore wires the persistence layer so every transition this engine
// drives is written through before the next event batch.
func (e *Engine) BindStore(st StateStore, actorID model.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = st
	e.actorID = actorID
}

// persistReservation writes r and its units through the bound store. A
// store error is logged and the reservation stays dirty so a later
// event or tick retries the write; the transition itself is not rolled
// back (database errors never terminate the actor).
func (e *Engine) persistReservation(ctx context.Context, r *model.Reservation, newUnits bool) {
	if e.store == nil {
		return
	}
	if r.Resources != nil && r.Resources.UnitSet != nil {
		for _, u := range r.Resources.UnitSet.Units {
			var err error
			if newUnits {
				err = e.store.AddUnit(ctx, e.actorID, u, false)
			} else {
				err = e.store.UpdateUnit(ctx, e.actorID, u)
			}
			if err != nil {
				log.L(ctx).Warnf("actor %s: persisting unit %s failed: %s", e.ActorName, u.ID, err)
			}
		}
	}
	if err := e.store.UpdateReservation(ctx, e.actorID, r); err != nil {
		log.L(ctx).Warnf("actor %s: persisting reservation %s failed: %s", e.ActorName, r.ID, err)
	}
}

// Adopt registers a reservation the engine did not create itself —
// either a brand new client-side submission, or one rehydrated by
// internal/recovery.
func (e *Engine) Adopt(r *model.Reservation) *reservation.Machine {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := reservation.Wrap(r)
	e.reservations[r.ID] = m
	return m
}

func (e *Engine) AdoptDelegation(d *model.Delegation) *reservation.DelegationMachine {
	e.mu.Lock()
	defer e.mu.Unlock()
	dm := reservation.WrapDelegation(d)
	e.delegations[d.ID] = dm
	return dm
}

func (e *Engine) lookup(id model.ID) (*reservation.Machine, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.reservations[id]
	return m, ok
}

func (e *Engine) lookupDelegation(id model.ID) (*reservation.DelegationMachine, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dm, ok := e.delegations[id]
	return dm, ok
}

func newMessageID() string {
	return uuid.NewString()
}

// Dispatch handles one inbound Message on the actor thread. It is the
// single point through which every protocol operation flows.
func (e *Engine) Dispatch(ctx context.Context, in Message) error {
	switch in.Kind {
	case KindTicket:
		return e.handleTicket(ctx, in)
	case KindExtendTicket:
		return e.handleExtendTicket(ctx, in)
	case KindRedeem:
		return e.handleRedeem(ctx, in)
	case KindExtendLease:
		return e.handleExtendLease(ctx, in)
	case KindModifyLease:
		return e.handleModifyLease(ctx, in)
	case KindClose:
		return e.handleClose(ctx, in)
	case KindRelinquish:
		return e.handleRelinquish(ctx, in)
	case KindClaimDelegation:
		return e.handleClaimDelegation(ctx, in)
	case KindReclaimDelegation:
		return e.handleReclaimDelegation(ctx, in)
	case KindUpdateTicket:
		return e.handleUpdateTicket(ctx, in)
	case KindUpdateLease:
		return e.handleUpdateLease(ctx, in)
	case KindUpdateDelegation:
		return e.handleUpdateDelegation(ctx, in)
	case KindQuery:
		return e.handleQuery(ctx, in)
	case KindFailedRPC:
		return e.handleFailedRPC(ctx, in)
	default:
		return msgs.NewError(ctx, msgs.MsgUnknownMessage, string(in.Kind))
	}
}

func (e *Engine) handleTicket(ctx context.Context, in Message) error {
	e.mu.Lock()
	m, ok := e.reservations[in.ReservationID]
	if !ok {
		r := model.NewReservation(model.ID{}, e.Role, in.Auth)
		r.ID = in.ReservationID
		m = reservation.Wrap(r)
		e.reservations[in.ReservationID] = m
	}
	e.mu.Unlock()

	err := m.OnTicket(ctx, e.hooks, in.Resources, in.Term)
	code := msgs.ResultCode(err)
	msgText := ""
	if err != nil {
		msgText = err.Error()
		log.L(ctx).Warnf("actor %s: Ticket for reservation %s failed: %s", e.ActorName, in.ReservationID, err)
	} else {
		e.signApprovedTicket(ctx, m.R)
	}
	e.persistReservation(ctx, m.R, false)
	return e.reply(ctx, in, KindUpdateTicket, m.R, &reservation.UpdateData{ResultCode: code, Message: msgText, Sequence: m.R.Sequences.TicketOut})
}

// signApprovedTicket signs r's freshly approved Ticket with this
// engine's identity, when one is configured. A signing failure is
// logged, not propagated: the Ticket protocol exchange has
// already been accepted, and an unsigned or tampered Ticket is instead
// caught by the Authority's Verify check on Redeem.
func (e *Engine) signApprovedTicket(ctx context.Context, r *model.Reservation) {
	e.mu.RLock()
	signer := e.signer
	e.mu.RUnlock()
	if signer == nil || r.ApprovedResources == nil || r.ApprovedResources.Ticket == nil {
		return
	}
	if err := signer.Sign(ctx, r.ApprovedResources.Ticket); err != nil {
		log.L(ctx).Warnf("actor %s: failed to sign ticket for reservation %s: %s", e.ActorName, r.ID, err)
	}
}

func (e *Engine) handleExtendTicket(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return e.noSuchReservation(ctx, in)
	}
	err := m.OnExtendTicket(ctx, e.hooks, in.Resources, in.Term)
	code := msgs.ResultCode(err)
	msgText := ""
	if err != nil {
		msgText = err.Error()
	}
	e.persistReservation(ctx, m.R, false)
	return e.reply(ctx, in, KindUpdateTicket, m.R, &reservation.UpdateData{ResultCode: code, Message: msgText, Sequence: m.R.Sequences.TicketOut})
}

func (e *Engine) handleRedeem(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return e.noSuchReservation(ctx, in)
	}
	if err := e.verifyRedeemedTicket(ctx, in); err != nil {
		return e.reply(ctx, in, KindUpdateLease, m.R, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
	}
	err := m.OnRedeem(ctx, e.hooks, e.config, in.Term)
	if err != nil {
		return e.reply(ctx, in, KindUpdateLease, m.R, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
	}
	e.persistReservation(ctx, m.R, true)
	// UpdateLease(ok) is sent once priming completes, from the
	// kernel-wrapper tick's ProbePendingOperations.
	return nil
}

// verifyRedeemedTicket checks the Ticket carried on an inbound Redeem
// against its issuer's known public key. It is a no-op when this
// engine has no peer keys configured, or when the message carries no
// Ticket at all (structurally-bound tickets need no signature check).
func (e *Engine) verifyRedeemedTicket(ctx context.Context, in Message) error {
	e.mu.RLock()
	keys := e.peerKeys
	e.mu.RUnlock()
	if len(keys) == 0 || in.Resources == nil || in.Resources.Ticket == nil {
		return nil
	}
	issuer := in.Auth.Name
	pubKey, ok := keys[issuer]
	if !ok {
		return nil // unknown issuer: no key configured to verify against
	}
	return crypto.Verify(ctx, in.Resources.Ticket, pubKey, in.ReservationID)
}

func (e *Engine) handleExtendLease(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return e.noSuchReservation(ctx, in)
	}
	err := m.OnExtendLease(ctx, in.Auth, e.hooks, e.config, in.Resources, in.Term)
	if err != nil {
		return e.reply(ctx, in, KindUpdateLease, m.R, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
	}
	e.persistReservation(ctx, m.R, false)
	if m.R.Pending == model.PendingNone {
		return e.reply(ctx, in, KindUpdateLease, m.R, &reservation.UpdateData{ResultCode: 0, Sequence: m.R.Sequences.LeaseOut})
	}
	return nil
}

func (e *Engine) handleModifyLease(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return e.noSuchReservation(ctx, in)
	}
	err := m.OnModifyLease(ctx, e.config, in.ModifyProps)
	if err != nil {
		return e.reply(ctx, in, KindUpdateLease, m.R, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
	}
	e.persistReservation(ctx, m.R, false)
	return nil
}

func (e *Engine) handleClose(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchReservation, in.ReservationID.String())
	}
	localOnly, err := m.OnClose(ctx, e.config)
	if err != nil {
		return e.reply(ctx, in, KindUpdateLease, m.R, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
	}
	e.persistReservation(ctx, m.R, false)
	if localOnly {
		e.reservationClosed(ctx, m)
	}
	return nil
}

func (e *Engine) handleRelinquish(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return e.noSuchReservation(ctx, in)
	}
	if err := m.OnRelinquish(ctx); err != nil {
		return e.reply(ctx, in, KindUpdateTicket, m.R, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
	}
	e.reservationClosed(ctx, m)
	e.persistReservation(ctx, m.R, false)
	return e.reply(ctx, in, KindUpdateTicket, m.R, &reservation.UpdateData{ResultCode: 0})
}

func (e *Engine) handleClaimDelegation(ctx context.Context, in Message) error {
	dm, ok := e.lookupDelegation(in.DelegationID)
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchDelegation, in.DelegationID.String())
	}
	err := dm.OnClaimDelegation(ctx)
	return e.replyDelegation(ctx, in, dm.D, err)
}

func (e *Engine) handleReclaimDelegation(ctx context.Context, in Message) error {
	dm, ok := e.lookupDelegation(in.DelegationID)
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchDelegation, in.DelegationID.String())
	}
	err := dm.OnReclaimDelegation(ctx)
	return e.replyDelegation(ctx, in, dm.D, err)
}

func (e *Engine) handleUpdateTicket(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return nil // counterparty closed/forgot the reservation; nothing to update locally
	}
	upd := reservation.UpdateData{}
	if in.Update != nil {
		upd = *in.Update
	}
	shouldRedeem := m.OnUpdateTicket(ctx, in.Resources, in.Term, upd, true)
	e.persistReservation(ctx, m.R, false)
	if shouldRedeem {
		return e.sendRedeem(ctx, m)
	}
	return nil
}

func (e *Engine) handleUpdateLease(ctx context.Context, in Message) error {
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return nil
	}
	upd := reservation.UpdateData{}
	if in.Update != nil {
		upd = *in.Update
	}
	closed := upd.ResultCode == 0 && m.R.Pending == model.PendingClosing
	m.OnUpdateLease(ctx, in.Resources, in.Term, upd, closed)
	if closed {
		e.reservationClosed(ctx, m)
	}
	e.persistReservation(ctx, m.R, false)
	return nil
}

func (e *Engine) handleUpdateDelegation(ctx context.Context, in Message) error {
	dm, ok := e.lookupDelegation(in.DelegationID)
	if !ok {
		return nil
	}
	upd := reservation.UpdateData{}
	if in.Update != nil {
		upd = *in.Update
	}
	target := model.DelDelegated
	dm.OnUpdateDelegation(ctx, upd, target)
	if dm.D.State == model.DelDelegated {
		// the claim completed: hand the delegation to the policy so its
		// inventory becomes allocatable (a broker's RevisitDelegation
		// adopts it into the ticket pool)
		if err := e.hooks.RevisitDelegation(ctx, dm.D); err != nil {
			log.L(ctx).Warnf("actor %s: policy rejected claimed delegation %s: %s", e.ActorName, dm.D.ID, err)
		}
	}
	return nil
}

func (e *Engine) handleQuery(ctx context.Context, in Message) error {
	result := map[string]string{}
	for k := range in.Query {
		result[k] = "" // a real policy-backed query responder fills this in; kernel-level Query is a pass-through hook
	}
	out := Message{
		MessageID:   newMessageID(),
		RequestID:   in.MessageID,
		Auth:        model.AuthToken{Name: e.ActorName},
		Kind:        KindQueryResult,
		QueryResult: result,
	}
	return e.out.Send(ctx, in.Auth.Name, out)
}

func (e *Engine) handleFailedRPC(ctx context.Context, in Message) error {
	if in.ReservationID == (model.ID{}) {
		log.L(ctx).Warnf("actor %s: FailedRPC with no reservation: %s", e.ActorName, in.ErrorDetails)
		return nil
	}
	m, ok := e.lookup(in.ReservationID)
	if !ok {
		return nil
	}
	m.OnFailedRPC(ctx, in.ErrorDetails)
	e.persistReservation(ctx, m.R, false)
	return nil
}

func (e *Engine) noSuchReservation(ctx context.Context, in Message) error {
	err := msgs.NewError(ctx, msgs.MsgNoSuchReservation, in.ReservationID.String())
	return e.reply(ctx, in, KindFailedRPC, nil, &reservation.UpdateData{ResultCode: msgs.ResultCode(err), Message: err.Error()})
}

func (e *Engine) reply(ctx context.Context, in Message, kind Kind, r *model.Reservation, upd *reservation.UpdateData) error {
	out := Message{
		MessageID:     newMessageID(),
		RequestID:     in.MessageID,
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          kind,
		ReservationID: in.ReservationID,
		Update:        upd,
	}
	if r != nil {
		out.Term = r.Term
		out.Resources = r.Resources
		if kind == KindUpdateTicket {
			out.Resources = r.ApprovedResources
		}
	}
	return e.out.Send(ctx, in.Auth.Name, out)
}

func (e *Engine) replyDelegation(ctx context.Context, in Message, d *model.Delegation, err error) error {
	code := msgs.ResultCode(err)
	msgText := ""
	if err != nil {
		msgText = err.Error()
	}
	out := Message{
		MessageID:    newMessageID(),
		RequestID:    in.MessageID,
		Auth:         model.AuthToken{Name: e.ActorName},
		Kind:         KindUpdateDelegation,
		DelegationID: in.DelegationID,
		Update:       &reservation.UpdateData{ResultCode: code, Message: msgText},
	}
	_ = d
	return e.out.Send(ctx, in.Auth.Name, out)
}

// --- client-side request originators ---

// Submit originates a client-side Ticket request: it registers a fresh
// Nascent reservation for slice, marks it Ticketing, and sends the
// Ticket request to this engine's upstream peer. The reservation stays
// (Nascent, Ticketing) until the peer's UpdateTicket arrives.
func (e *Engine) Submit(ctx context.Context, slice model.ID, requested *model.ResourceSet, term model.Term) (*reservation.Machine, error) {
	r := model.NewReservation(slice, e.Role, model.AuthToken{Name: e.ActorName})
	m := e.Adopt(r)
	if err := m.BeginTicketing(ctx, requested, term); err != nil {
		return nil, err
	}
	out := Message{
		MessageID:     newMessageID(),
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          KindTicket,
		ReservationID: r.ID,
		Term:          term,
		Resources:     requested,
	}
	if err := e.out.Send(ctx, e.peer, out); err != nil {
		return m, err
	}
	return m, nil
}

// RequestExtendTicket originates a client-side ExtendTicket for rid.
// Fails synchronously, with no state change and no outbound message,
// when the new term does not strictly extend the current one or another
// operation is already pending.
func (e *Engine) RequestExtendTicket(ctx context.Context, rid model.ID, requested *model.ResourceSet, newTerm model.Term) error {
	m, ok := e.lookup(rid)
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchReservation, rid.String())
	}
	if err := m.BeginExtendTicket(ctx, requested, newTerm); err != nil {
		return err
	}
	out := Message{
		MessageID:     newMessageID(),
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          KindExtendTicket,
		ReservationID: rid,
		Term:          newTerm,
		Resources:     requested,
	}
	return e.out.Send(ctx, e.peer, out)
}

// RequestClose originates a client-side Close for rid. While the
// reservation is still Nascent or mid-Ticketing the close is local only
// and no Close message is sent; a reservation with any other operation
// pending rejects the close synchronously, leaving the in-flight
// operation to complete normally.
func (e *Engine) RequestClose(ctx context.Context, rid model.ID) error {
	m, ok := e.lookup(rid)
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchReservation, rid.String())
	}
	localOnly, err := m.OnClose(ctx, e.config)
	if err != nil {
		return err
	}
	e.persistReservation(ctx, m.R, false)
	if localOnly {
		e.reservationClosed(ctx, m)
		return nil
	}
	out := Message{
		MessageID:     newMessageID(),
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          KindClose,
		ReservationID: rid,
	}
	return e.out.Send(ctx, e.peer, out)
}

// RequestExtendLease originates a client-side ExtendLease for rid,
// after its ticket extension has been granted.
func (e *Engine) RequestExtendLease(ctx context.Context, rid model.ID, requested *model.ResourceSet, newTerm model.Term) error {
	m, ok := e.lookup(rid)
	if !ok {
		return msgs.NewError(ctx, msgs.MsgNoSuchReservation, rid.String())
	}
	if err := m.BeginExtendLease(ctx, requested, newTerm); err != nil {
		return err
	}
	out := Message{
		MessageID:     newMessageID(),
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          KindExtendLease,
		ReservationID: rid,
		Term:          newTerm,
		Resources:     requested,
	}
	return e.out.Send(ctx, e.peer, out)
}

func (e *Engine) sendRedeem(ctx context.Context, m *reservation.Machine) error {
	if err := m.BeginRedeeming(ctx); err != nil {
		return err
	}
	out := Message{
		MessageID:     newMessageID(),
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          KindRedeem,
		ReservationID: m.R.ID,
		Term:          m.R.Term,
		Resources:     m.R.ApprovedResources,
	}
	return e.out.Send(ctx, e.peer, out)
}

// --- kernel.RoleHandler ---

func (e *Engine) TickHandler(ctx context.Context, cycle int) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := time.Now()
	for _, m := range e.reservations {
		if m.CheckExpiry(ctx, now, e.config) {
			log.L(ctx).Debugf("actor %s: reservation %s term expired at cycle %d, auto-closing", e.ActorName, m.R.ID, cycle)
			e.persistReservation(ctx, m.R, false)
		}
	}
	return nil
}

// ProbePendingOperations probes every reservation's in-flight operation
// for completion. Priming/modifying reservations are probed before
// closing ones, so a reservation that both finished priming and expired
// in the same cycle is observed Active-then-Closing rather than
// skipped.
func (e *Engine) ProbePendingOperations(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, pass := range []func(model.PendingState) bool{
		func(p model.PendingState) bool { return p != model.PendingClosing },
		func(p model.PendingState) bool { return p == model.PendingClosing },
	} {
		for _, m := range e.reservations {
			if !pass(m.R.Pending) {
				continue
			}
			before := m.R.State
			beforePending := m.R.Pending
			m.ProbePendingCompletion(ctx)
			if m.R.Pending == model.PendingNone && beforePending != model.PendingNone && before != m.R.State {
				if m.R.State == model.ResClosed {
					e.reservationClosed(ctx, m)
				}
				e.persistReservation(ctx, m.R, false)
				e.notifyCounterpartyOfCompletion(ctx, m)
			}
		}
	}
	return nil
}

// reservationClosed runs the policy's Closed hook for a reservation
// that just reached Closed, so held inventory is returned.
func (e *Engine) reservationClosed(ctx context.Context, m *reservation.Machine) {
	if err := e.hooks.Closed(ctx, m.R); err != nil {
		log.L(ctx).Warnf("actor %s: policy Closed hook for reservation %s failed: %s", e.ActorName, m.R.ID, err)
	}
}

func (e *Engine) notifyCounterpartyOfCompletion(ctx context.Context, m *reservation.Machine) {
	kind := KindUpdateLease
	upd := &reservation.UpdateData{ResultCode: 0, Sequence: m.R.Sequences.LeaseOut}
	out := Message{
		MessageID:     newMessageID(),
		Auth:          model.AuthToken{Name: e.ActorName},
		Kind:          kind,
		ReservationID: m.R.ID,
		Term:          m.R.Term,
		Resources:     m.R.Resources,
		Update:        upd,
	}
	if err := e.out.Send(ctx, m.R.Client.Name, out); err != nil {
		log.L(ctx).Warnf("actor %s: notifying completion of reservation %s failed: %s", e.ActorName, m.R.ID, err)
	}
}

func (e *Engine) HasPendingReservations() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range e.reservations {
		if m.HasPendingOperation() {
			return true
		}
	}
	return false
}

// PendingCount returns the number of reservations with an operation
// currently in flight — internal/notify's stale-pending-ops check
// polls this from the kernel's post-tick hook.
func (e *Engine) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, m := range e.reservations {
		if m.HasPendingOperation() {
			n++
		}
	}
	return n
}

// ResourceCounts tallies {active, ticketed, closed} unit counts per
// resource type across this engine's reservations; the diagnostics
// surface reports it per actor.
func (e *Engine) ResourceCounts() *model.ResourceCount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := model.NewResourceCount()
	for _, m := range e.reservations {
		c.Tally(m.R)
	}
	return c
}

// FailedReservations returns every reservation currently in Failed
// state, most-recent-notice last. internal/notify filters these for
// database/internal error notices.
func (e *Engine) FailedReservations() []*model.Reservation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*model.Reservation
	for _, m := range e.reservations {
		if m.R.State == model.ResFailed {
			out = append(out, m.R)
		}
	}
	return out
}

// DeferredOps runs on the first tick only. It logs each reservation
// that came out of recovery with a closing, redeeming, extending-lease,
// modifying-lease or ticketing operation still pending; it sends no
// message and does not re-issue any of those operations.
func (e *Engine) DeferredOps(ctx context.Context) error {
	var outerErr error
	e.deferredOnce.Do(func() {
		e.mu.RLock()
		defer e.mu.RUnlock()
		for _, m := range e.reservations {
			switch m.R.Pending {
			case model.PendingClosing, model.PendingRedeeming, model.PendingExtendingLease, model.PendingModifyingLease, model.PendingTicketing:
				log.L(ctx).Infof("actor %s: deferred %s still pending for reservation %s after recovery", e.ActorName, m.R.Pending, m.R.ID)
			}
		}
	})
	return outerErr
}
