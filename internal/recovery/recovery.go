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

// Package recovery implements the recovery engine: before an actor's
// first tick, every persisted slice, reservation and
// delegation is re-hydrated from the store, handed to the policy's
// Revisit hooks, and registered with the protocol engine; reservations
// whose pending operation was in flight at crash time have their
// configuration actions restarted at their last durable sequence.
package recovery

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/kernel"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/internal/protocol"
	"github.com/fabric-testbed/control-core/internal/reservation"
	"github.com/fabric-testbed/control-core/internal/store"
	"github.com/fabric-testbed/control-core/pkg/log"
)

// sliceKindOrder enumerates slices inventory-first, then client.
var sliceKindOrder = []model.SliceKind{
	model.SliceKindInventory,
	model.SliceKindClient,
	model.SliceKindBrokerClient,
}

// Recover rehydrates one actor's slices, reservations and delegations
// from st, drives policy.Revisit/RevisitDelegation, adopts every
// non-terminal entity into eng, restarts in-flight configuration
// actions via cfg, and finally marks actor recovered. It is invoked
// once per actor before tick 0.
func Recover(ctx context.Context, actorID model.ID, st store.Store, hooks policy.Hooks, eng *protocol.Engine, actor *kernel.Actor, cfg reservation.ConfigurationHandler) error {
	if cfg == nil {
		cfg = reservation.NoOpConfigurationHandler{}
	}

	var slices []*model.Slice
	for _, kind := range sliceKindOrder {
		byKind, err := st.GetSlicesByKind(ctx, actorID, kind)
		if err != nil {
			return err
		}
		slices = append(slices, byKind...)
	}

	fns := make([]func(ctx context.Context) error, 0, len(slices))
	for _, sl := range slices {
		sl := sl
		fns = append(fns, func(ctx context.Context) error {
			return recoverSlice(ctx, actorID, sl, st, hooks, eng, cfg)
		})
	}
	if err := kernel.RunRecoveryFanOut(ctx, fns...); err != nil {
		return err
	}

	actor.SetRecovered(true)
	log.L(ctx).Infof("actor %s: recovery complete, %d slice(s) rehydrated", eng.ActorName, len(slices))
	return nil
}

func recoverSlice(ctx context.Context, actorID model.ID, sl *model.Slice, st store.Store, hooks policy.Hooks, eng *protocol.Engine, cfg reservation.ConfigurationHandler) error {
	reservations, err := st.GetReservationsBySlice(ctx, actorID, sl.ID)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if err := recoverReservation(ctx, actorID, r, st, hooks, eng, cfg); err != nil {
			return err
		}
	}

	delegations, err := st.GetDelegationsBySlice(ctx, actorID, sl.ID)
	if err != nil {
		return err
	}
	for _, d := range delegations {
		if err := recoverDelegation(ctx, d, hooks, eng); err != nil {
			return err
		}
	}
	return nil
}

func recoverReservation(ctx context.Context, actorID model.ID, r *model.Reservation, st store.Store, hooks policy.Hooks, eng *protocol.Engine, cfg reservation.ConfigurationHandler) error {
	if r.Terminal() {
		log.L(ctx).Debugf("actor %s: skipping terminal reservation %s (%s) on recovery", eng.ActorName, r.ID, r.State)
		return nil
	}

	if err := hooks.Revisit(ctx, r); err != nil {
		return err
	}
	eng.Adopt(r)

	if r.Pending == model.PendingNone {
		return nil
	}
	return restartConfigurationActions(ctx, actorID, r, st, cfg)
}

// restartConfigurationActions handles crash recovery for a reservation
// caught mid Priming/Modifying/Closing: the units that had not yet
// reached their target state get their configuration action re-issued
// at their last durable sequence (no Transition back into the acting
// state, so the sequence is not bumped again), then advance on success
// and are written back. The reservation itself advances on the first
// tick's pending-completion probe, which sends the counterparty its
// UpdateLease exactly once.
func restartConfigurationActions(ctx context.Context, actorID model.ID, r *model.Reservation, st store.Store, cfg reservation.ConfigurationHandler) error {
	var acting model.UnitState
	var next model.UnitState
	switch r.Pending {
	case model.PendingPriming:
		acting, next = model.UnitPriming, model.UnitActive
	case model.PendingModifyingLease:
		acting, next = model.UnitModifying, model.UnitActive
	case model.PendingClosing:
		acting, next = model.UnitClosing, model.UnitClosed
	default:
		return nil
	}

	units, err := st.GetUnitsByReservation(ctx, actorID, r.ID)
	if err != nil {
		return err
	}
	if len(units) > 0 {
		// the units table is authoritative: rebind the rehydrated
		// reservation's UnitSet onto these rows so the probe and the
		// restarted actions observe the same Unit objects
		if r.Resources == nil {
			r.Resources = &model.ResourceSet{}
		}
		us := model.NewUnitSet()
		for _, u := range units {
			us.Units[u.ID] = u
		}
		r.Resources.UnitSet = us
	}

	for _, u := range units {
		if u.State != acting {
			continue
		}
		var actErr error
		switch acting {
		case model.UnitPriming:
			actErr = cfg.Join(ctx, u)
		case model.UnitModifying:
			actErr = cfg.Modify(ctx, u)
		case model.UnitClosing:
			actErr = cfg.Leave(ctx, u)
		}
		if actErr != nil {
			u.Notices = append(u.Notices, actErr.Error())
			log.L(ctx).Warnf("actor %s: restart configuration action for unit %s failed: %s", actorID, u.ID, actErr)
			continue
		}
		u.Transition(next)
		if err := st.UpdateUnit(ctx, actorID, u); err != nil {
			log.L(ctx).Warnf("actor %s: persisting restarted unit %s failed: %s", actorID, u.ID, err)
		}
	}
	return nil
}

func recoverDelegation(ctx context.Context, d *model.Delegation, hooks policy.Hooks, eng *protocol.Engine) error {
	if d.Terminal() {
		log.L(ctx).Debugf("actor %s: skipping terminal delegation %s (%s) on recovery", eng.ActorName, d.ID, d.State)
		return nil
	}
	if err := hooks.RevisitDelegation(ctx, d); err != nil {
		return err
	}
	eng.AdoptDelegation(d)
	return nil
}
