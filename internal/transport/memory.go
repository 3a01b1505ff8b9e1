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

package transport

import (
	"context"
	"sync"

	"github.com/fabric-testbed/control-core/pkg/log"
)

// MemoryBus is an in-process Producer+Consumer used by the transport
// kind "local" and by tests that want the producer/consumer path
// exercised without a real network. It applies no message_id de-dup
// window; only GRPCServer does. Each Publish fans the envelope
// out to every Subscribe-d handler for that actor name on its own
// goroutine, mirroring a topic-per-actor bus.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string][]Handler{}}
}

func (b *MemoryBus) Publish(ctx context.Context, actorName string, envelope []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	handlers := append([]Handler(nil), b.subs[actorName]...)
	for _, h := range handlers {
		h := h
		go func() {
			if err := h(ctx, envelope); err != nil {
				log.L(ctx).Warnf("transport: in-memory delivery to %s failed: %s", actorName, err)
			}
		}()
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, actorName string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[actorName] = append(b.subs[actorName], h)
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
