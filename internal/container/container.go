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

// Package container wires together the components an actord process
// needs to run: store, RPC manager, proxy registry, policy and signing
// identity.
// These are explicit fields on a Container built once at startup and
// passed down, rather than process-wide globals, so tests can construct
// an isolated Container per case instead of resetting shared global
// state between them.
package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/crypto"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/internal/proxy"
	"github.com/fabric-testbed/control-core/internal/rpcmanager"
	"github.com/fabric-testbed/control-core/internal/store"
	"github.com/fabric-testbed/control-core/pkg/log"
)

// Container holds the shared, process-wide components of one actord
// instance, built with ordinary dependency injection rather than
// package-level singletons.
type Container struct {
	mu sync.RWMutex

	Config     *config.Config
	Store      store.Store
	RPCManager *rpcmanager.Manager
	Registry   *proxy.Registry
	Policy     policy.Hooks
	Identity   *crypto.Identity

	stopWatch func()
}

// New builds a Container from a loaded Config. Sub-components (store,
// rpc manager, registry) are constructed but not yet started; the
// actor kernel is built and started by the caller, outside the
// Container. The signing identity is derived
// here from cfg.Crypto; a misconfigured or absent mnemonic fails
// Container construction rather than silently shipping unsigned
// tickets.
func New(ctx context.Context, cfg *config.Config, st store.Store, pol policy.Hooks) (*Container, error) {
	if cfg == nil {
		return nil, msgs.NewError(ctx, msgs.MsgInvalidArguments, "config must not be nil")
	}
	reg := proxy.NewRegistry()
	rm := rpcmanager.New(cfg.RPC, reg)

	id, err := crypto.NewIdentity(ctx, cfg.Crypto)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:     cfg,
		Store:      st,
		RPCManager: rm,
		Registry:   reg,
		Policy:     pol,
		Identity:   id,
	}
	return c, nil
}

// WatchConfig starts a hot-reload watcher on configPath, swapping in the
// reloaded Config atomically. Components that read c.Config should do so
// through Container's accessor rather than caching the pointer.
func (c *Container) WatchConfig(ctx context.Context, configPath string) error {
	stop, err := config.Watch(ctx, configPath, func(newCfg *config.Config) {
		c.mu.Lock()
		c.Config = newCfg
		c.mu.Unlock()
		log.L(ctx).Infof("reloaded configuration from %s", configPath)
	})
	if err != nil {
		return err
	}
	c.stopWatch = stop
	return nil
}

// CurrentConfig returns the most recently loaded Config.
func (c *Container) CurrentConfig() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config
}

// Close stops the config watcher, if any, and releases the store.
func (c *Container) Close() error {
	if c.stopWatch != nil {
		c.stopWatch()
	}
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}

func (c *Container) String() string {
	return fmt.Sprintf("container{actor=%s}", c.Config.Actor.Name)
}
