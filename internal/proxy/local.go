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

package proxy

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/protocol"
)

// Deliverer is the narrow slice of internal/rpcmanager.Manager that a
// LocalProxy needs: enqueue an inbound message onto the target actor's
// own event loop. Kept as an interface here (rather than importing
// rpcmanager directly) because rpcmanager already imports proxy for
// Registry and Proxy — importing it back would cycle.
type Deliverer interface {
	Deliver(ctx context.Context, targetActor string, msg protocol.Message) error
}

// Local implements Proxy for a peer actor living in the same process:
// a direct function call through the RPC manager that bypasses
// serialization entirely. No envelope, no transport, no dedup window;
// the manager's own inbound dispatch is the only hand-off.
type Local struct {
	name     string
	deliverer Deliverer
}

func NewLocal(actorName string, d Deliverer) *Local {
	return &Local{name: actorName, deliverer: d}
}

func (l *Local) Execute(ctx context.Context, msg protocol.Message) error {
	return l.deliverer.Deliver(ctx, l.name, msg)
}

func (l *Local) ActorName() string { return l.name }
func (l *Local) Transport() string { return "local" }
