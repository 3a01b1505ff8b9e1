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
	"github.com/fabric-testbed/control-core/internal/transport"
)

// Remote implements Proxy for a peer actor reached over
// internal/transport's asynchronous producer/consumer message bus.
// Execute hands the request off to the producer; responses are
// correlated by internal/rpcmanager, and the consumer side with its
// de-dup window lives in internal/transport.
type Remote struct {
	name     string
	producer transport.Producer
}

func NewRemote(actorName string, p transport.Producer) *Remote {
	return &Remote{name: actorName, producer: p}
}

func (r *Remote) Execute(ctx context.Context, msg protocol.Message) error {
	envelope, err := transport.EncodeMessage(r.name, msg)
	if err != nil {
		return err
	}
	return r.producer.Publish(ctx, r.name, envelope)
}

func (r *Remote) ActorName() string { return r.name }
func (r *Remote) Transport() string { return "grpc" }
