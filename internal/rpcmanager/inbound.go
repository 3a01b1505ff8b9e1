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

package rpcmanager

import (
	"context"

	"github.com/fabric-testbed/control-core/internal/transport"
)

// InboundHandler adapts the manager's Deliver method into a
// transport.Handler: it decodes the wire envelope and enqueues the
// resulting message on the target actor's loop. cmd/actord subscribes
// this once per transport.Consumer it wires up.
func (m *Manager) InboundHandler() transport.Handler {
	return func(ctx context.Context, envelope []byte) error {
		target, msg, err := transport.DecodeEnvelope(ctx, envelope)
		if err != nil {
			return err
		}
		return m.Deliver(ctx, target, msg)
	}
}
