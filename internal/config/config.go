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

// Package config defines the on-disk configuration schema for an actord
// process: one actor kernel, its RPC manager, transport, store, policy
// and diagnostics surface. Structs use JSON/YAML tags, pointer fields
// for "unset means use default", and a *ConfigDefaults package var
// applied by confutil helpers rather than by zero-value struct
// literals.
package config

import (
	"context"
	"os"

	"github.com/fabric-testbed/control-core/internal/confutil"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fsnotify/fsnotify"
	"github.com/fabric-testbed/control-core/pkg/log"
	"sigs.k8s.io/yaml"
)

// Config is the root document loaded from the actord config file.
type Config struct {
	Actor        ActorConfig        `json:"actor"`
	Kernel       KernelConfig       `json:"kernel"`
	RPC          RPCConfig          `json:"rpc"`
	Transport    TransportConfig    `json:"transport"`
	Store        StoreConfig        `json:"store"`
	Crypto       CryptoConfig       `json:"crypto"`
	Notify       NotifyConfig       `json:"notify"`
	Diagnostics  DiagnosticsConfig  `json:"diagnostics"`
	Log          LogConfig          `json:"log"`
}

// ActorConfig identifies this process's actor within the fabric: its
// name, the role it plays, and the guid it was last recovered under (if
// any — left empty on first boot).
type ActorConfig struct {
	Name string `json:"name"`
	Type string `json:"type"` // "orchestrator" | "broker" | "authority"
	GUID string `json:"guid,omitempty"`

	// UpstreamPeer is the actor name this actor's reservations talk to
	// by default: an Orchestrator's Broker, or a Broker's Authority.
	// Authorities have no upstream and leave this empty.
	UpstreamPeer string `json:"upstreamPeer,omitempty"`
}

// KernelConfig tunes the actor's tick/event-loop scheduler.
type KernelConfig struct {
	TickLength        *string `json:"tickLength,omitempty"`
	ManualClock       *bool   `json:"manualClock,omitempty"`
	EventQueueDepth   *int    `json:"eventQueueDepth,omitempty"`
	CatchUpMaxTicks   *int    `json:"catchUpMaxTicks,omitempty"`
}

var KernelConfigDefaults = KernelConfig{
	TickLength:      confutil.P("1s"),
	ManualClock:     confutil.P(false),
	EventQueueDepth: confutil.P(1024),
	CatchUpMaxTicks: confutil.P(100),
}

// RPCConfig tunes outbound request/response correlation.
type RPCConfig struct {
	RequestTimeout *string `json:"requestTimeout,omitempty"`
	RetryInitial   *string `json:"retryInitial,omitempty"`
	RetryMax       *string `json:"retryMax,omitempty"`
	RetryCount     *int    `json:"retryCount,omitempty"`
	RateLimitPS    *float64 `json:"rateLimitPerSecond,omitempty"`
}

var RPCConfigDefaults = RPCConfig{
	RequestTimeout: confutil.P("120s"),
	RetryInitial:   confutil.P("500ms"),
	RetryMax:       confutil.P("10s"),
	RetryCount:     confutil.P(5),
	RateLimitPS:    confutil.P(50.0),
}

// TransportConfig selects and tunes the message transport between
// actors: in-process "local" proxies for tests, or "grpc" for real
// peers, plus the redis-backed de-dup window shared by remote peers.
type TransportConfig struct {
	Kind          string         `json:"kind"` // "local" | "grpc"
	GRPC          GRPCConfig     `json:"grpc"`
	Dedup         DedupConfig    `json:"dedup"`
	PeerAddresses []string       `json:"peerAddresses,omitempty"`
}

type GRPCConfig struct {
	Listen  *string `json:"listen,omitempty"`
	DialTimeout *string `json:"dialTimeout,omitempty"`
}

var GRPCConfigDefaults = GRPCConfig{
	Listen:      confutil.P(":50551"),
	DialTimeout: confutil.P("5s"),
}

// DedupConfig configures the redis-backed message_id de-dup window used
// to collapse at-least-once transport redelivery.
type DedupConfig struct {
	RedisURL *string `json:"redisURL,omitempty"`
	Window   *string `json:"window,omitempty"`
}

var DedupConfigDefaults = DedupConfig{
	Window: confutil.P("10m"),
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Driver          string  `json:"driver"` // "sqlite" | "postgres" | "mysql"
	DSN             string  `json:"dsn"`
	MigrationsPath  *string `json:"migrationsPath,omitempty"`
	MaxOpenConns    *int    `json:"maxOpenConns,omitempty"`
}

var StoreConfigDefaults = StoreConfig{
	Driver:         "sqlite",
	MigrationsPath: confutil.P("file://migrations"),
	MaxOpenConns:   confutil.P(10),
}

// CryptoConfig configures the actor's ticket-signing identity: a
// secp256k1 key derived from a BIP-39 mnemonic. Mnemonic is expected to
// come from a secrets-managed environment variable or file in
// production; MnemonicFile takes precedence over Mnemonic when set.
type CryptoConfig struct {
	Mnemonic          string            `json:"mnemonic,omitempty"`
	MnemonicFile      *string           `json:"mnemonicFile,omitempty"`
	MnemonicPassphrase *string          `json:"mnemonicPassphrase,omitempty"`
	BrokerPublicKeys  map[string]string `json:"brokerPublicKeys,omitempty"` // actor name -> hex address from Identity.PublicKeyHex
}

var CryptoConfigDefaults = CryptoConfig{
	MnemonicPassphrase: confutil.P(""),
}

// NotifyConfig configures the optional operational-notification
// sinks, fired only from the kernel's post-tick hook.
type NotifyConfig struct {
	SlackWebhookURL *string `json:"slackWebhookURL,omitempty"`
	GenericWebhook  *string `json:"genericWebhookURL,omitempty"`
	Timeout         *string `json:"timeout,omitempty"`
}

var NotifyConfigDefaults = NotifyConfig{
	Timeout: confutil.P("5s"),
}

// DiagnosticsConfig configures the read-only diagnostics HTTP surface.
// It is deliberately read-only: there is no admin or control-plane
// REST API behind it.
type DiagnosticsConfig struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	Listen      *string `json:"listen,omitempty"`
	RateLimitRPS *int   `json:"rateLimitRPS,omitempty"`
}

var DiagnosticsConfigDefaults = DiagnosticsConfig{
	Enabled:      confutil.P(true),
	Listen:       confutil.P("127.0.0.1:8090"),
	RateLimitRPS: confutil.P(20),
}

// LogConfig tunes the root logrus logger.
type LogConfig struct {
	Level *string `json:"level,omitempty"`
}

var LogConfigDefaults = LogConfig{
	Level: confutil.P("info"),
}

// Load reads and parses the YAML/JSON config file at path. sigs.k8s.io/yaml
// is used so the same decoder accepts either format.
func Load(ctx context.Context, path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, path, err.Error())
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, path, err.Error())
	}
	return &c, nil
}

// Watch starts an fsnotify watcher on path and invokes onChange whenever
// the file is rewritten, reloading it first. It returns a stop function.
// Watch failures are logged, not fatal: an actor that can't watch its
// config file still runs with the config it already loaded.
func Watch(ctx context.Context, path string, onChange func(*Config)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, path, err.Error())
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, path, err.Error())
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, loadErr := Load(ctx, path)
				if loadErr != nil {
					log.L(ctx).Warnf("config reload of %s failed, keeping previous config: %s", path, loadErr)
					continue
				}
				onChange(cfg)
			case watchErr, ok := <-w.Errors:
				if !ok {
					return
				}
				log.L(ctx).Warnf("config watcher error on %s: %s", path, watchErr)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		_ = w.Close()
	}, nil
}
