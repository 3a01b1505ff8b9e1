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

// Package notify implements optional operational-notification sinks: a
// one-line summary posted to Slack and/or a generic webhook when a
// reservation fails with a database or internal error, or when an
// actor's pending-operation count has been stuck non-zero longer than
// its stale timeout. Both sinks are off by default and are only ever
// driven from the kernel's post-tick hook.
package notify

import (
	"context"
	"fmt"

	"github.com/fabric-testbed/control-core/pkg/log"
)

// Sink delivers a one-line operational summary somewhere. Errors are
// logged by the Dispatcher, never returned to the tick loop.
type Sink interface {
	Notify(ctx context.Context, summary string) error
}

// Dispatcher fans a summary out to every configured Sink. A nil or
// empty Dispatcher is a safe no-op, matching the sinks' off-by-default
// posture.
type Dispatcher struct {
	sinks []Sink
}

// NewDispatcher builds a Dispatcher over the given sinks, dropping any
// nil entries so callers can pass conditionally-constructed sinks
// (e.g. "only add Slack if a bot token is configured") inline.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Enabled reports whether at least one sink is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.sinks) > 0
}

// Dispatch fans summary out to every sink concurrently-free (each sink
// call is synchronous but the caller — the kernel's post-tick hook — is
// already off the actor thread). A failing sink is logged and does not
// stop delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, summary string) {
	if d == nil {
		return
	}
	for _, s := range d.sinks {
		if err := s.Notify(ctx, summary); err != nil {
			log.L(ctx).Warnf("notify: sink delivery failed: %s", err)
		}
	}
}

func formatFailure(actorName string, reservationID fmt.Stringer, notice string) string {
	return fmt.Sprintf(":rotating_light: [%s] reservation %s failed: %s", actorName, reservationID, notice)
}

func formatStalePending(actorName string, count int, since string) string {
	return fmt.Sprintf(":hourglass: [%s] %d reservation(s) have had a pending operation in flight since %s", actorName, count, since)
}
