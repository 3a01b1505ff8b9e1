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

package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fabric-testbed/control-core/internal/model"
)

// engineView is the narrow slice of *protocol.Engine the Monitor reads.
// Declared locally instead of importing internal/protocol to avoid
// notify depending on the protocol package for a struct it only reads
// from; the actual *protocol.Engine satisfies it structurally.
type engineView interface {
	FailedReservations() []*model.Reservation
	PendingCount() int
}

// these are the CF message-key prefixes notification fires on; kept
// here rather than importing internal/msgs's constants to keep the
// trigger condition (the two codes) visible at the call site.
const (
	databaseErrorPrefix = "CF40"
	internalErrorPrefix = "CF90"
)

// Monitor watches one actor's engine and dispatches a notification the
// first time a reservation fails with a database/internal error, and
// the first time the actor's pending-op count has been continuously
// non-zero past staleTimeout. Both conditions latch: they fire once on
// the threshold crossing, and reset only when the condition clears,
// rather than re-firing every tick.
type Monitor struct {
	actorName    string
	dispatcher   *Dispatcher
	staleTimeout time.Duration

	mu               sync.Mutex
	notifiedFailures map[model.ID]bool
	pendingSince     time.Time
	pendingNotified  bool
}

// NewMonitor returns nil when d has no sinks configured, so Check can be
// called unconditionally without a nil Monitor panicking.
func NewMonitor(actorName string, d *Dispatcher, staleTimeout time.Duration) *Monitor {
	if !d.Enabled() {
		return nil
	}
	return &Monitor{
		actorName:        actorName,
		dispatcher:       d,
		staleTimeout:     staleTimeout,
		notifiedFailures: map[model.ID]bool{},
	}
}

// Check inspects eng's current state and dispatches any newly-crossed
// condition. It is meant to be installed as a kernel post-tick hook via
// kernel.Actor.SetPostTickHook(m.Check(eng)).
func (m *Monitor) Check(eng engineView) func(ctx context.Context, cycle int) {
	return func(ctx context.Context, cycle int) {
		if m == nil {
			return
		}
		m.checkFailures(ctx, eng)
		m.checkStalePending(ctx, eng)
	}
}

func (m *Monitor) checkFailures(ctx context.Context, eng engineView) {
	for _, r := range eng.FailedReservations() {
		if len(r.Notices) == 0 {
			continue
		}
		last := r.Notices[len(r.Notices)-1]
		if !strings.Contains(last, databaseErrorPrefix) && !strings.Contains(last, internalErrorPrefix) {
			continue
		}
		m.mu.Lock()
		already := m.notifiedFailures[r.ID]
		if !already {
			m.notifiedFailures[r.ID] = true
		}
		m.mu.Unlock()
		if already {
			continue
		}
		m.dispatcher.Dispatch(ctx, formatFailure(m.actorName, r.ID, last))
	}
}

func (m *Monitor) checkStalePending(ctx context.Context, eng engineView) {
	count := eng.PendingCount()

	var fireSince time.Time
	m.mu.Lock()
	switch {
	case count == 0:
		m.pendingSince = time.Time{}
		m.pendingNotified = false
	case m.pendingSince.IsZero():
		m.pendingSince = time.Now()
	case !m.pendingNotified && time.Since(m.pendingSince) >= m.staleTimeout:
		m.pendingNotified = true
		fireSince = m.pendingSince
	}
	m.mu.Unlock()

	if !fireSince.IsZero() {
		m.dispatcher.Dispatch(ctx, formatStalePending(m.actorName, count, fireSince.Format(time.RFC3339)))
	}
}
