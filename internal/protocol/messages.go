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

// Package protocol implements the ticket/lease message set and the
// per-role dispatch that drives internal/reservation's state machines
// from inbound messages and turns their outcomes into outbound
// messages.
package protocol

import (
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/reservation"
)

// Kind discriminates the logical message set.
type Kind string

const (
	KindTicket            Kind = "Ticket"
	KindExtendTicket       Kind = "ExtendTicket"
	KindRedeem             Kind = "Redeem"
	KindExtendLease        Kind = "ExtendLease"
	KindModifyLease        Kind = "ModifyLease"
	KindClose              Kind = "Close"
	KindRelinquish         Kind = "Relinquish"
	KindClaimDelegation    Kind = "ClaimDelegation"
	KindReclaimDelegation  Kind = "ReclaimDelegation"
	KindUpdateTicket       Kind = "UpdateTicket"
	KindUpdateLease        Kind = "UpdateLease"
	KindUpdateDelegation   Kind = "UpdateDelegation"
	KindQuery              Kind = "Query"
	KindQueryResult        Kind = "QueryResult"
	KindFailedRPC          Kind = "FailedRPC"
)

// Message is the envelope every protocol message travels in: every kind
// carries {message_id, callback_topic, auth} plus a kind-specific
// payload.
type Message struct {
	MessageID    string         `json:"messageId"`
	CallbackTopic string        `json:"callbackTopic,omitempty"`
	Auth         model.AuthToken `json:"auth"`
	Kind         Kind           `json:"kind"`

	// RequestID correlates a response (UpdateTicket/UpdateLease/
	// QueryResult/FailedRPC) back to the outbound request's MessageID.
	RequestID string `json:"requestId,omitempty"`

	ReservationID ID  `json:"reservationId,omitempty"`
	DelegationID  ID  `json:"delegationId,omitempty"`

	Term      model.Term         `json:"term,omitempty"`
	Resources *model.ResourceSet `json:"resources,omitempty"`

	Update *reservation.UpdateData `json:"update,omitempty"`

	Query       map[string]string `json:"query,omitempty"`
	QueryResult map[string]string `json:"queryResult,omitempty"`

	FailedRequestType Kind   `json:"failedRequestType,omitempty"`
	ErrorDetails      string `json:"errorDetails,omitempty"`

	ModifyProps map[string]string `json:"modifyProps,omitempty"`
}

// ID is a local alias so message field declarations above read cleanly;
// it is exactly model.ID.
type ID = model.ID
