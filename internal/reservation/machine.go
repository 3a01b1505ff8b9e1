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

// Package reservation implements the reservation state machine: the
// composite (state, pending) transitions a reservation moves through
// over its lifetime, gated so only one mutating operation is ever in
// flight at a time.
package reservation

import (
	"context"
	"time"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/msgs"
)

// Allocator and Assigner are the narrow slices of the actor's policy
// hooks the state machine needs: they are declared here, rather than
// importing internal/policy, so a policy implementation is free to use
// this package's own types (internal/policy.BrokerHooks carves tickets
// through DelegationMachine) without an import cycle. Any
// internal/policy.Hooks satisfies both.
type Allocator interface {
	Allocate(ctx context.Context, r *model.Reservation) (*model.ResourceSet, error)
}

type Assigner interface {
	Assign(ctx context.Context, r *model.Reservation) (*model.UnitSet, error)
}

// Machine wraps one model.Reservation with the transition logic. It
// holds no back-reference to its owning Slice or Actor; the kernel and
// protocol layers pass those in on each call instead.
type Machine struct {
	R *model.Reservation
}

func Wrap(r *model.Reservation) *Machine {
	return &Machine{R: r}
}

// beginPending moves pending from None to next, rejecting the request
// with ReservationHasPendingOperation if another operation is already
// in flight.
func (m *Machine) beginPending(ctx context.Context, next model.PendingState) error {
	if m.R.Pending != model.PendingNone {
		return msgs.NewError(ctx, msgs.MsgReservationPending, m.R.ID.String(), m.R.Pending)
	}
	m.R.Pending = next
	m.R.MarkDirty()
	return nil
}

func (m *Machine) endPending(state model.ReservationState) {
	m.R.State = state
	m.R.Pending = model.PendingNone
	m.R.MarkDirty()
}

// OnTicket is the Authority/Broker-side handler for an inbound Ticket
// request.
func (m *Machine) OnTicket(ctx context.Context, hooks Allocator, requested *model.ResourceSet, term model.Term) error {
	if m.R.State != model.ResNascent {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "Ticket only valid while Nascent")
	}
	if err := m.beginPending(ctx, model.PendingTicketing); err != nil {
		return err
	}
	m.R.RequestedResources = requested
	m.R.RequestedTerm = term

	approved, err := hooks.Allocate(ctx, m.R)
	if err != nil {
		m.Fail(ctx, err.Error())
		return err
	}
	m.R.ApprovedResources = approved
	m.R.ApprovedTerm = term
	m.R.Term = term
	m.R.Sequences.TicketOut++
	m.endPending(model.ResTicketed)
	return nil
}

// BeginTicketing is the client-side counterpart of OnTicket: the
// requesting actor marks the reservation Ticketing before its Ticket
// request goes out, so a second submission is rejected while the first
// is still in flight.
func (m *Machine) BeginTicketing(ctx context.Context, requested *model.ResourceSet, term model.Term) error {
	if m.R.State != model.ResNascent {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "submit requires a Nascent reservation")
	}
	if err := m.beginPending(ctx, model.PendingTicketing); err != nil {
		return err
	}
	m.R.RequestedResources = requested
	m.R.RequestedTerm = term
	return nil
}

// BeginExtendTicket is the client-side counterpart of OnExtendTicket:
// it validates the extension ordering and marks the reservation
// ExtendingTicket before the request goes out. Allocation happens on
// the counterparty; the term is not adopted locally until its
// UpdateTicket arrives.
func (m *Machine) BeginExtendTicket(ctx context.Context, requested *model.ResourceSet, newTerm model.Term) error {
	if m.R.State != model.ResTicketed && m.R.State != model.ResActive && m.R.State != model.ResActiveTicketed {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "ExtendTicket requires an existing ticket")
	}
	if !m.R.Term.Extends(newTerm) {
		return msgs.NewError(ctx, msgs.MsgInvalidExtend, m.R.ID.String())
	}
	if err := m.beginPending(ctx, model.PendingExtendingTicket); err != nil {
		return err
	}
	m.R.PreviousTerm = m.R.Term
	m.R.RequestedResources = requested
	m.R.RequestedTerm = newTerm
	return nil
}

// OnExtendTicket handles an inbound ExtendTicket request.
func (m *Machine) OnExtendTicket(ctx context.Context, hooks Allocator, requested *model.ResourceSet, newTerm model.Term) error {
	if m.R.State != model.ResTicketed && m.R.State != model.ResActive && m.R.State != model.ResActiveTicketed {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "ExtendTicket requires an existing ticket")
	}
	if !m.R.Term.Extends(newTerm) {
		return msgs.NewError(ctx, msgs.MsgInvalidExtend, m.R.ID.String())
	}
	if err := m.beginPending(ctx, model.PendingExtendingTicket); err != nil {
		return err
	}
	m.R.PreviousResources = m.R.ApprovedResources
	m.R.PreviousTerm = m.R.Term
	m.R.RequestedResources = requested
	m.R.RequestedTerm = newTerm

	approved, err := hooks.Allocate(ctx, m.R)
	if err != nil {
		// ExtendTicket is optional: failure returns to the prior
		// stable state rather than failing the whole reservation.
		m.R.Pending = model.PendingNone
		m.R.AddNotice(err.Error())
		m.R.MarkDirty()
		return err
	}
	m.R.ApprovedResources = approved
	m.R.ApprovedTerm = newTerm
	m.R.Term = newTerm
	m.R.Sequences.TicketOut++
	m.endPending(m.R.State)
	return nil
}

// BeginRedeeming is the client-side counterpart of OnRedeem: the ticket
// holder marks the reservation Redeeming before its Redeem goes out,
// and stays there until the authority's UpdateLease arrives.
func (m *Machine) BeginRedeeming(ctx context.Context) error {
	if m.R.State != model.ResTicketed {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "Redeem requires Ticketed state")
	}
	return m.beginPending(ctx, model.PendingRedeeming)
}

// BeginExtendLease is the client-side counterpart of OnExtendLease. No
// term-ordering check here: the client's own term was already advanced
// when the broker granted the ticket extension, and the authority
// re-validates the ordering against its still-unextended term.
func (m *Machine) BeginExtendLease(ctx context.Context, requested *model.ResourceSet, newTerm model.Term) error {
	if m.R.State != model.ResActive {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "ExtendLease requires Active state")
	}
	if err := m.beginPending(ctx, model.PendingExtendingLease); err != nil {
		return err
	}
	m.R.RequestedResources = requested
	m.R.RequestedTerm = newTerm
	return nil
}

// OnRedeem is the Authority-side handler for Redeem: creates a UnitSet
// via policy, begins Priming, and dispatches each unit's join to the
// external configuration handler. The kernel-wrapper probe advances the
// reservation to (Active, None) once every non-failed unit has joined.
func (m *Machine) OnRedeem(ctx context.Context, hooks Assigner, cfg ConfigurationHandler, term model.Term) error {
	if m.R.State != model.ResTicketed {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "Redeem requires Ticketed state")
	}
	if err := m.beginPending(ctx, model.PendingRedeeming); err != nil {
		return err
	}
	m.R.Term = term

	units, err := hooks.Assign(ctx, m.R)
	if err != nil {
		m.Fail(ctx, err.Error())
		return err
	}
	if m.R.Resources == nil {
		m.R.Resources = &model.ResourceSet{}
	}
	m.R.Resources.UnitSet = units
	if m.R.ApprovedResources != nil {
		m.R.Resources.Units = m.R.ApprovedResources.Units
		m.R.Resources.ResourceType = m.R.ApprovedResources.ResourceType
	}
	for _, u := range units.Units {
		u.Transition(model.UnitPriming)
	}
	m.R.Pending = model.PendingPriming
	m.R.MarkDirty()
	m.dispatchConfiguration(ctx, cfg)
	return nil
}

// OnExtendLease handles an inbound ExtendLease request; fails
// InvalidArguments if caller is not the reservation's own client.
func (m *Machine) OnExtendLease(ctx context.Context, caller model.AuthToken, hooks Allocator, cfg ConfigurationHandler, requested *model.ResourceSet, newTerm model.Term) error {
	if caller.GUID != m.R.Client.GUID {
		return msgs.NewError(ctx, msgs.MsgInvalidArguments, "ExtendLease caller is not this reservation's client")
	}
	if m.R.State != model.ResActive {
		return msgs.NewError(ctx, msgs.MsgInvalidReservation, m.R.ID.String(), "ExtendLease requires Active state")
	}
	if !m.R.Term.Extends(newTerm) {
		return msgs.NewError(ctx, msgs.MsgInvalidExtend, m.R.ID.String())
	}
	if err := m.beginPending(ctx, model.PendingExtendingLease); err != nil {
		return err
	}
	m.R.PreviousResources = m.R.Resources
	m.R.PreviousTerm = m.R.Term
	m.R.RequestedResources = requested
	m.R.RequestedTerm = newTerm

	approved, err := hooks.Allocate(ctx, m.R)
	if err != nil {
		m.R.Pending = model.PendingNone
		m.R.AddNotice(err.Error())
		m.R.MarkDirty()
		return err
	}
	m.R.ApprovedResources = approved
	m.R.ApprovedTerm = newTerm
	m.R.Term = newTerm
	m.R.Sequences.LeaseOut++

	if m.unitsNeedModification() {
		m.R.Pending = model.PendingModifyingLease
		for _, u := range m.R.Resources.UnitSet.Units {
			u.Transition(model.UnitModifying)
		}
		m.R.MarkDirty()
		m.dispatchConfiguration(ctx, cfg)
		return nil
	}
	m.endPending(model.ResActive)
	return nil
}

func (m *Machine) unitsNeedModification() bool {
	return m.R.Resources != nil && m.R.Resources.UnitSet != nil && m.R.ApprovedResources != nil &&
		m.R.ApprovedResources.Units != m.R.Resources.Units
}

// OnModifyLease handles an inbound ModifyLease request. Rejected with
// ReservationHasPendingOperation while Priming.
func (m *Machine) OnModifyLease(ctx context.Context, cfg ConfigurationHandler, props map[string]string) error {
	if m.R.Pending == model.PendingPriming {
		return msgs.NewError(ctx, msgs.MsgReservationPending, m.R.ID.String(), m.R.Pending)
	}
	if err := m.beginPending(ctx, model.PendingModifyingLease); err != nil {
		return err
	}
	if m.R.Resources != nil && m.R.Resources.UnitSet != nil {
		for _, u := range m.R.Resources.UnitSet.Units {
			for k, v := range props {
				if u.Properties == nil {
					u.Properties = map[string]string{}
				}
				u.Properties[k] = v
			}
			u.Transition(model.UnitModifying)
		}
		m.dispatchConfiguration(ctx, cfg)
	}
	return nil
}

// OnClose handles Close. While Nascent or Ticketing it closes locally
// with no outbound RPC; otherwise it begins the Closing sequence,
// dispatching each unit's leave to the external configuration handler.
func (m *Machine) OnClose(ctx context.Context, cfg ConfigurationHandler) (localOnly bool, err error) {
	if m.R.State == model.ResNascent || m.R.Pending == model.PendingTicketing {
		m.R.State = model.ResClosed
		m.R.Pending = model.PendingNone
		m.R.MarkDirty()
		return true, nil
	}
	if err := m.beginPending(ctx, model.PendingClosing); err != nil {
		return false, err
	}
	if m.R.Resources != nil && m.R.Resources.UnitSet != nil {
		for _, u := range m.R.Resources.UnitSet.Units {
			u.Transition(model.UnitClosing)
		}
		m.dispatchConfiguration(ctx, cfg)
	}
	return false, nil
}

// Fail is always accepted regardless of pending state: it forces
// (Failed, None), abandoning any in-flight operation.
func (m *Machine) Fail(ctx context.Context, notice string) {
	m.R.State = model.ResFailed
	m.R.Pending = model.PendingNone
	if notice != "" {
		m.R.AddNotice(notice)
	}
	m.R.MarkDirty()
}

// CheckExpiry implements the "expired term" edge case: on tick, an
// Active reservation whose term has ended enters Closing automatically
// unless an extension was already received (pending != None means one
// is in flight and takes precedence). Errors from the underlying close
// are swallowed rather than propagated to the tick loop — one stuck
// reservation must never block every other reservation's expiry check
// in the same cycle — but are not lost: each is recorded as a notice on
// the reservation it happened to, so an operator reading the
// reservation later can still see why the auto-close failed.
func (m *Machine) CheckExpiry(ctx context.Context, now time.Time, cfg ConfigurationHandler) (beganClose bool) {
	if m.R.State != model.ResActive || m.R.Pending != model.PendingNone {
		return false
	}
	if !m.R.Term.Expired(now) {
		return false
	}
	if _, err := m.OnClose(ctx, cfg); err != nil {
		m.R.AddNotice("auto-close on term expiry failed: " + err.Error())
		m.R.MarkDirty()
	}
	return true
}

// ProbePendingCompletion is the kernel-wrapper tick's per-reservation
// probe: it checks whether the in-flight operation's units have all
// reached their target state and, if so, advances the reservation to
// its next stable (state, pending=None).
func (m *Machine) ProbePendingCompletion(ctx context.Context) {
	if m.R.Resources == nil || m.R.Resources.UnitSet == nil {
		return
	}
	switch m.R.Pending {
	case model.PendingPriming:
		if m.R.Resources.UnitSet.AllInState(model.UnitActive) {
			m.endPending(model.ResActive)
		}
	case model.PendingModifyingLease:
		if m.R.Resources.UnitSet.AllInState(model.UnitActive) {
			m.endPending(model.ResActive)
		}
	case model.PendingClosing:
		if m.R.Resources.UnitSet.AllInState(model.UnitClosed) {
			m.endPending(model.ResClosed)
		}
	}
}

// HasPendingOperation reports whether a mutating operation is currently
// in flight.
func (m *Machine) HasPendingOperation() bool {
	return m.R.Pending != model.PendingNone
}
