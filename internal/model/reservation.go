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

package model

// ReservationState is the outer half of a Reservation's composite
// (state, pending) machine.
type ReservationState string

const (
	ResNascent        ReservationState = "Nascent"
	ResTicketed        ReservationState = "Ticketed"
	ResActive          ReservationState = "Active"
	ResActiveTicketed  ReservationState = "ActiveTicketed"
	ResClosed          ReservationState = "Closed"
	ResCloseWait       ReservationState = "CloseWait"
	ResFailed          ReservationState = "Failed"
)

// PendingState is the in-flight protocol step gating new operations; at
// most one mutating operation may be in flight at a time.
type PendingState string

const (
	PendingNone            PendingState = "None"
	PendingTicketing       PendingState = "Ticketing"
	PendingExtendingTicket PendingState = "ExtendingTicket"
	PendingRedeeming       PendingState = "Redeeming"
	PendingExtendingLease  PendingState = "ExtendingLease"
	PendingModifyingLease  PendingState = "ModifyingLease"
	PendingPriming         PendingState = "Priming"
	PendingClosing         PendingState = "Closing"
	PendingBlocked         PendingState = "Blocked"
	PendingRelinquishing   PendingState = "Relinquishing"
)

// Category is derived once from a reservation's concrete class at
// creation and never changes thereafter.
type Category string

const (
	CategoryClient    Category = "Client"
	CategoryBroker    Category = "Broker"
	CategoryAuthority Category = "Authority"
)

// Sequences tracks the last-applied sequence number per inbound/outbound
// protocol direction, used to detect and drop duplicate or stale
// UpdateTicket/UpdateLease deliveries.
type Sequences struct {
	TicketIn  int `json:"ticketIn"`
	TicketOut int `json:"ticketOut"`
	LeaseIn   int `json:"leaseIn"`
	LeaseOut  int `json:"leaseOut"`
}

// Reservation is the central FSM: a request for, or holding of, typed
// resources over a time interval.
type Reservation struct {
	ID    ID  `json:"id"`
	Slice ID  `json:"slice"`

	RequestedResources *ResourceSet `json:"requestedResources,omitempty"`
	ApprovedResources  *ResourceSet `json:"approvedResources,omitempty"`
	Resources          *ResourceSet `json:"resources,omitempty"`
	PreviousResources  *ResourceSet `json:"previousResources,omitempty"`

	RequestedTerm Term  `json:"requestedTerm"`
	ApprovedTerm  Term  `json:"approvedTerm"`
	Term          Term  `json:"term"`
	PreviousTerm  Term  `json:"previousTerm"`

	State   ReservationState `json:"state"`
	Pending PendingState     `json:"pending"`

	Sequences Sequences `json:"sequences"`
	Notices   []string  `json:"notices,omitempty"`

	Category Category `json:"category"`

	// Client is the AuthToken this reservation was submitted/requested
	// by; ExtendLease from anyone else fails InvalidArguments.
	Client AuthToken `json:"client"`

	// Dirty is set by every transition or mutation; cleared by
	// ClearDirty only after the plugin has durably persisted the
	// reservation. No transition may be exposed via RPC while Dirty.
	Dirty bool `json:"-"`
}

// NewReservation builds a fresh Nascent/None reservation in the given
// category, owned by slice.
func NewReservation(slice ID, category Category, client AuthToken) *Reservation {
	return &Reservation{
		ID:       NewID(),
		Slice:    slice,
		State:    ResNascent,
		Pending:  PendingNone,
		Category: category,
		Client:   client,
	}
}

// MarkDirty sets the dirty flag; called by every FSM transition.
func (r *Reservation) MarkDirty() {
	r.Dirty = true
}

// ClearDirty is called by the plugin only after a successful persist.
func (r *Reservation) ClearDirty() {
	r.Dirty = false
}

// Terminal reports whether the reservation will never transition again.
func (r *Reservation) Terminal() bool {
	return r.State == ResClosed || r.State == ResFailed
}

// AddNotice appends a human-readable notice, e.g. an error message
// surfaced to the counterparty via UpdateTicket/UpdateLease.
func (r *Reservation) AddNotice(notice string) {
	r.Notices = append(r.Notices, notice)
}
