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

// Package proxy implements the peer-routing abstraction: a registry
// mapping actor name to a Proxy, with Local (in-process) and Remote
// (internal/transport-backed) implementations.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/protocol"
)

// Proxy is how policy and kernel code reach a peer actor: it hands a
// prepared request off to whichever transport backs it.
type Proxy interface {
	Execute(ctx context.Context, msg protocol.Message) error
	ActorName() string
	Transport() string
}

// Registry maps actor name to Proxy. Read-mostly; protected by a mutex.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Proxy
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Proxy{}}
}

// Register installs or replaces the proxy used to reach actorName.
func (r *Registry) Register(actorName string, p Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[actorName] = p
}

// Lookup returns the proxy for actorName, or NoSuchActor.
func (r *Registry) Lookup(actorName string) (Proxy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[actorName]
	if !ok {
		return nil, msgs.NewError(context.Background(), msgs.MsgNoSuchActor, actorName)
	}
	return p, nil
}

// Unregister removes a proxy, e.g. when an actor permanently departs.
func (r *Registry) Unregister(actorName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, actorName)
}

// Names returns the actor names currently registered, for diagnostics
// display only — callers must not assume any ordering.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}

func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("registry{%d proxies}", len(r.byName))
}
