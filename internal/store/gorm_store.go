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

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fabric-testbed/control-core/internal/confutil"
	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStore is the concrete Store backed by gorm.io/gorm, selecting
// among the sqlite/postgres/mysql drivers. The kernel treats rows as
// opaque entity-scoped blobs; it never depends on any particular SQL
// schema detail.
type gormStore struct {
	db *gorm.DB
}

// Open builds a gormStore from cfg, running migrations first:
// migrate.New(file://migrationsPath, dsn).Up(), tolerating
// migrate.ErrNoChange.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	dialector, migrateDSN, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	sqlDB.SetMaxOpenConns(confutil.Int(cfg.MaxOpenConns, 10))

	migrationsPath := confutil.String(cfg.MigrationsPath, "file://migrations")
	if err := runMigrations(migrationsPath, migrateDSN); err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}

	if err := db.AutoMigrate(&sliceRow{}, &reservationRow{}, &delegationRow{}, &unitRow{}, &actorRow{}, &miscRow{}); err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}

	return &gormStore{db: db}, nil
}

// OpenGORM wraps an already-open *gorm.DB (used by tests and by recovery
// fixtures that want an in-memory sqlite instance without going through
// config/migrations).
func OpenGORM(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&sliceRow{}, &reservationRow{}, &delegationRow{}, &unitRow{}, &actorRow{}, &miscRow{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func dialectorFor(cfg config.StoreConfig) (gorm.Dialector, string, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return sqlite.Open(dsn), fmt.Sprintf("sqlite3://%s", dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), fmt.Sprintf("postgres://%s", cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), fmt.Sprintf("mysql://%s", cfg.DSN), nil
	default:
		return nil, "", fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func runMigrations(migrationsPath, dsn string) error {
	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Slices ---

func (s *gormStore) AddSlice(ctx context.Context, actorID model.ID, sl *model.Slice) error {
	row, err := sliceToRow(actorID, sl)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "resource_type", "blob"}),
	}).Create(row).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) UpdateSlice(ctx context.Context, actorID model.ID, sl *model.Slice) error {
	return s.AddSlice(ctx, actorID, sl)
}

func (s *gormStore) RemoveSlice(ctx context.Context, actorID, sliceID model.ID) error {
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, sliceID).Delete(&sliceRow{}).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) GetSlice(ctx context.Context, actorID, sliceID model.ID) (*model.Slice, error) {
	var row sliceRow
	err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, sliceID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, msgs.NewError(ctx, msgs.MsgNoSuchSlice, sliceID.String())
		}
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowToSlice(&row)
}

func (s *gormStore) GetSlicesByKind(ctx context.Context, actorID model.ID, kind model.SliceKind) ([]*model.Slice, error) {
	var rows []sliceRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND kind = ?", actorID, string(kind)).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowsToSlices(rows)
}

func (s *gormStore) GetSlicesByResourceType(ctx context.Context, actorID model.ID, resourceType model.ResourceType) ([]*model.Slice, error) {
	var rows []sliceRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND resource_type = ?", actorID, string(resourceType)).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowsToSlices(rows)
}

func sliceToRow(actorID model.ID, sl *model.Slice) (*sliceRow, error) {
	blob, err := json.Marshal(sl)
	if err != nil {
		return nil, err
	}
	return &sliceRow{
		ActorID:      actorID,
		ID:           sl.ID,
		Name:         sl.Name,
		Kind:         string(sl.Kind),
		ResourceType: string(sl.ResourceType),
		Blob:         blob,
	}, nil
}

func rowToSlice(row *sliceRow) (*model.Slice, error) {
	var sl model.Slice
	if err := json.Unmarshal(row.Blob, &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

func rowsToSlices(rows []sliceRow) ([]*model.Slice, error) {
	out := make([]*model.Slice, 0, len(rows))
	for i := range rows {
		sl, err := rowToSlice(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

// --- Reservations ---

func (s *gormStore) AddReservation(ctx context.Context, actorID model.ID, r *model.Reservation) error {
	row, err := reservationToRow(actorID, r)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"slice_id", "state", "category", "blob"}),
	}).Create(row).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	r.ClearDirty()
	return nil
}

func (s *gormStore) UpdateReservation(ctx context.Context, actorID model.ID, r *model.Reservation) error {
	return s.AddReservation(ctx, actorID, r)
}

func (s *gormStore) RemoveReservation(ctx context.Context, actorID, reservationID model.ID) error {
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, reservationID).Delete(&reservationRow{}).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) GetReservation(ctx context.Context, actorID, reservationID model.ID) (*model.Reservation, error) {
	var row reservationRow
	err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, reservationID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, msgs.NewError(ctx, msgs.MsgNoSuchReservation, reservationID.String())
		}
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowToReservation(&row)
}

func (s *gormStore) GetReservationsBySlice(ctx context.Context, actorID, sliceID model.ID) ([]*model.Reservation, error) {
	var rows []reservationRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND slice_id = ?", actorID, sliceID).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowsToReservations(rows)
}

func (s *gormStore) GetReservationsByState(ctx context.Context, actorID model.ID, state model.ReservationState) ([]*model.Reservation, error) {
	var rows []reservationRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND state = ?", actorID, string(state)).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowsToReservations(rows)
}

func (s *gormStore) GetReservationsByCategory(ctx context.Context, actorID model.ID, category model.Category) ([]*model.Reservation, error) {
	var rows []reservationRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND category = ?", actorID, string(category)).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowsToReservations(rows)
}

func reservationToRow(actorID model.ID, r *model.Reservation) (*reservationRow, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &reservationRow{
		ActorID:  actorID,
		ID:       r.ID,
		SliceID:  r.Slice,
		State:    string(r.State),
		Category: string(r.Category),
		Blob:     blob,
	}, nil
}

func rowToReservation(row *reservationRow) (*model.Reservation, error) {
	var r model.Reservation
	if err := json.Unmarshal(row.Blob, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func rowsToReservations(rows []reservationRow) ([]*model.Reservation, error) {
	out := make([]*model.Reservation, 0, len(rows))
	for i := range rows {
		r, err := rowToReservation(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// --- Delegations ---

func (s *gormStore) AddDelegation(ctx context.Context, actorID model.ID, d *model.Delegation) error {
	row, err := delegationToRow(actorID, d)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"slice_id", "state", "blob"}),
	}).Create(row).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) UpdateDelegation(ctx context.Context, actorID model.ID, d *model.Delegation) error {
	return s.AddDelegation(ctx, actorID, d)
}

func (s *gormStore) RemoveDelegation(ctx context.Context, actorID, delegationID model.ID) error {
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, delegationID).Delete(&delegationRow{}).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) GetDelegation(ctx context.Context, actorID, delegationID model.ID) (*model.Delegation, error) {
	var row delegationRow
	err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, delegationID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, msgs.NewError(ctx, msgs.MsgNoSuchDelegation, delegationID.String())
		}
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowToDelegation(&row)
}

func (s *gormStore) GetDelegationsBySlice(ctx context.Context, actorID, sliceID model.ID) ([]*model.Delegation, error) {
	var rows []delegationRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND slice_id = ?", actorID, sliceID).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	out := make([]*model.Delegation, 0, len(rows))
	for i := range rows {
		d, err := rowToDelegation(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func delegationToRow(actorID model.ID, d *model.Delegation) (*delegationRow, error) {
	blob, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return &delegationRow{
		ActorID: actorID,
		ID:      d.ID,
		SliceID: d.SliceID,
		State:   string(d.State),
		Blob:    blob,
	}, nil
}

func rowToDelegation(row *delegationRow) (*model.Delegation, error) {
	var d model.Delegation
	if err := json.Unmarshal(row.Blob, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Units ---

func (s *gormStore) AddUnit(ctx context.Context, actorID model.ID, u *model.Unit, fromRecovery bool) error {
	if !fromRecovery {
		var count int64
		if err := s.db.WithContext(ctx).Model(&unitRow{}).Where("actor_id = ? AND id = ?", actorID, u.ID).Count(&count).Error; err != nil {
			return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
		}
		if count > 0 {
			return msgs.NewError(ctx, msgs.MsgInvalidArguments, fmt.Sprintf("unit %s already exists for actor %s", u.ID, actorID))
		}
	}
	row, err := unitToRow(actorID, u)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reservation_id", "state", "blob"}),
	}).Create(row).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) UpdateUnit(ctx context.Context, actorID model.ID, u *model.Unit) error {
	return s.AddUnit(ctx, actorID, u, true)
}

func (s *gormStore) RemoveUnit(ctx context.Context, actorID, unitID model.ID) error {
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, unitID).Delete(&unitRow{}).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) GetUnit(ctx context.Context, actorID, unitID model.ID) (*model.Unit, error) {
	var row unitRow
	err := s.db.WithContext(ctx).Where("actor_id = ? AND id = ?", actorID, unitID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, msgs.NewError(ctx, msgs.MsgInvalidArguments, fmt.Sprintf("no such unit %s", unitID))
		}
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return rowToUnit(&row)
}

func (s *gormStore) GetUnitsByReservation(ctx context.Context, actorID, reservationID model.ID) ([]*model.Unit, error) {
	var rows []unitRow
	if err := s.db.WithContext(ctx).Where("actor_id = ? AND reservation_id = ?", actorID, reservationID).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	out := make([]*model.Unit, 0, len(rows))
	for i := range rows {
		u, err := rowToUnit(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func unitToRow(actorID model.ID, u *model.Unit) (*unitRow, error) {
	blob, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return &unitRow{
		ActorID:       actorID,
		ID:            u.ID,
		ReservationID: u.ReservationID,
		State:         string(u.State),
		Blob:          blob,
	}, nil
}

func rowToUnit(row *unitRow) (*model.Unit, error) {
	var u model.Unit
	if err := json.Unmarshal(row.Blob, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Actors & misc ---

func (s *gormStore) AddActor(ctx context.Context, rec ActorRecord) error {
	row := actorRow{ID: rec.ID, Name: rec.Name, Type: rec.Type}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type"}),
	}).Create(&row).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) GetActors(ctx context.Context) ([]ActorRecord, error) {
	var rows []actorRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	out := make([]ActorRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActorRecord{ID: r.ID, Name: r.Name, Type: r.Type})
	}
	return out, nil
}

func (s *gormStore) PutMisc(ctx context.Context, key, value string) error {
	row := miscRow{Key: key, Value: value}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error; err != nil {
		return msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return nil
}

func (s *gormStore) GetMisc(ctx context.Context, key string) (string, bool, error) {
	var row miscRow
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, msgs.NewError(ctx, msgs.MsgDatabaseError, err.Error())
	}
	return row.Value, true, nil
}
