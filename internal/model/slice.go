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

// SliceKind discriminates what a Slice's owned reservations are for.
type SliceKind string

const (
	SliceKindInventory    SliceKind = "Inventory"
	SliceKindClient       SliceKind = "Client"
	SliceKindBrokerClient SliceKind = "BrokerClient"
)

// Slice is a named container grouping reservations that share
// configuration. Inventory slices exist only on Brokers/Authorities;
// Client/BrokerClient slices only on Orchestrators/Brokers — the kernel
// enforces this at registration, not this struct.
type Slice struct {
	ID     ID        `json:"id"`
	Name   string    `json:"name"`
	Owner  AuthToken `json:"owner"`
	Kind   SliceKind `json:"kind"`

	ResourceType ResourceType `json:"resourceType,omitempty"`

	ConfigProps  map[string]string `json:"configProps,omitempty"`
	LocalProps   map[string]string `json:"localProps,omitempty"`
	RequestProps map[string]string `json:"requestProps,omitempty"`
	ResourceProps map[string]string `json:"resourceProps,omitempty"`

	// ReservationIDs and DelegationIDs record ownership by id, not by
	// value, so a Reservation never holds an owning pointer back to its
	// Slice (see design notes on cyclic references).
	ReservationIDs []ID `json:"reservationIds,omitempty"`
	DelegationIDs  []ID `json:"delegationIds,omitempty"`
}

// KindValid reports whether kind is one of the three recognized slice
// kinds.
func KindValid(kind SliceKind) bool {
	switch kind {
	case SliceKindInventory, SliceKindClient, SliceKindBrokerClient:
		return true
	}
	return false
}
