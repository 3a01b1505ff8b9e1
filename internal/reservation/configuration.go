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

package reservation

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/pkg/log"
)

// ConfigurationHandler is the external unit-configuration dispatcher:
// join/modify/leave actions against the actual resource. The state
// machine dispatches it whenever a unit enters Priming, Modifying or
// Closing, and the recovery engine re-dispatches it for units caught
// mid-action at crash time. Handlers must be idempotent per (unit id,
// sequence): the kernel guarantees it re-issues at or below the last
// durable sequence, not that it never repeats one.
type ConfigurationHandler interface {
	Join(ctx context.Context, u *model.Unit) error
	Modify(ctx context.Context, u *model.Unit) error
	Leave(ctx context.Context, u *model.Unit) error
}

// NoOpConfigurationHandler logs and succeeds every configuration action
// without touching any real resource; it lets the kernel, protocol and
// recovery layers run without a concrete resource-model binding.
type NoOpConfigurationHandler struct{}

func (NoOpConfigurationHandler) Join(ctx context.Context, u *model.Unit) error {
	log.L(ctx).Debugf("configuration: join unit %s (sequence %d)", u.ID, u.Sequence)
	return nil
}

func (NoOpConfigurationHandler) Modify(ctx context.Context, u *model.Unit) error {
	log.L(ctx).Debugf("configuration: modify unit %s (sequence %d)", u.ID, u.Sequence)
	return nil
}

func (NoOpConfigurationHandler) Leave(ctx context.Context, u *model.Unit) error {
	log.L(ctx).Debugf("configuration: leave unit %s (sequence %d)", u.ID, u.Sequence)
	return nil
}

// dispatchConfiguration issues the configuration action implied by each
// unit's current state to the external handler, advancing the unit on
// success. A handler failure marks only that unit Failed and records a
// notice on it; the reservation-level outcome is decided by the next
// pending-completion probe, which skips Failed units.
func (m *Machine) dispatchConfiguration(ctx context.Context, cfg ConfigurationHandler) {
	if cfg == nil || m.R.Resources == nil || m.R.Resources.UnitSet == nil {
		return
	}
	for _, u := range m.R.Resources.UnitSet.Units {
		var actErr error
		var next model.UnitState
		switch u.State {
		case model.UnitPriming:
			actErr, next = cfg.Join(ctx, u), model.UnitActive
		case model.UnitModifying:
			actErr, next = cfg.Modify(ctx, u), model.UnitActive
		case model.UnitClosing:
			actErr, next = cfg.Leave(ctx, u), model.UnitClosed
		default:
			continue
		}
		if actErr != nil {
			u.Transition(model.UnitFailed)
			u.Notices = append(u.Notices, actErr.Error())
			log.L(ctx).Warnf("configuration action for unit %s failed: %s", u.ID, actErr)
			continue
		}
		u.Transition(next)
	}
}
