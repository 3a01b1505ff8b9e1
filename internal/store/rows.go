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

package store

import "github.com/fabric-testbed/control-core/internal/model"

// Each row carries the columns a query needs to filter on (kind, state,
// category, and similar) plus a JSON blob of the full entity. The
// kernel never queries inside the blob; it is opaque to the store and
// round-trips byte-for-byte when unmutated.

type sliceRow struct {
	ActorID      model.ID `gorm:"column:actor_id;primaryKey"`
	ID           model.ID `gorm:"column:id;primaryKey"`
	Name         string   `gorm:"column:name"`
	Kind         string   `gorm:"column:kind;index"`
	ResourceType string   `gorm:"column:resource_type;index"`
	Blob         []byte   `gorm:"column:blob"`
}

func (sliceRow) TableName() string { return "slices" }

type reservationRow struct {
	ActorID  model.ID `gorm:"column:actor_id;primaryKey"`
	ID       model.ID `gorm:"column:id;primaryKey"`
	SliceID  model.ID `gorm:"column:slice_id;index"`
	State    string   `gorm:"column:state;index"`
	Category string   `gorm:"column:category;index"`
	Blob     []byte   `gorm:"column:blob"`
}

func (reservationRow) TableName() string { return "reservations" }

type delegationRow struct {
	ActorID model.ID `gorm:"column:actor_id;primaryKey"`
	ID      model.ID `gorm:"column:id;primaryKey"`
	SliceID model.ID `gorm:"column:slice_id;index"`
	State   string   `gorm:"column:state;index"`
	Blob    []byte   `gorm:"column:blob"`
}

func (delegationRow) TableName() string { return "delegations" }

type unitRow struct {
	ActorID       model.ID `gorm:"column:actor_id;primaryKey"`
	ID            model.ID `gorm:"column:id;primaryKey"`
	ReservationID model.ID `gorm:"column:reservation_id;index"`
	State         string   `gorm:"column:state;index"`
	Blob          []byte   `gorm:"column:blob"`
}

func (unitRow) TableName() string { return "units" }

type actorRow struct {
	ID   model.ID `gorm:"column:id;primaryKey"`
	Name string   `gorm:"column:name;uniqueIndex"`
	Type string   `gorm:"column:type"`
}

func (actorRow) TableName() string { return "actors" }

// miscRow backs the container-level key/value table (e.g. container
// time settings).
type miscRow struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (miscRow) TableName() string { return "miscellaneous" }
