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

// Package model defines the durable entity types shared by every actor
// role: slices, terms, resource sets, units, reservations and
// delegations. These are plain structs; the state machines that mutate
// them live in internal/reservation (including the delegation
// machine), and their
// persisted form lives in internal/store.
package model

import "github.com/google/uuid"

// ID is the 128-bit opaque identifier every durable entity carries.
type ID = uuid.UUID

// NewID allocates a fresh random ID.
func NewID() ID {
	return uuid.New()
}

// ParseID parses the string form of an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// AuthToken identifies the caller attached to every cross-actor message.
type AuthToken struct {
	Name        string `json:"name"`
	GUID        ID     `json:"guid"`
	OIDCSubject string `json:"oidcSubject,omitempty"`
	Email       string `json:"email,omitempty"`
}
