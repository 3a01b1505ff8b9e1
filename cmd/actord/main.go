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

// Command actord runs one actor (Orchestrator, Broker, or Authority) of
// the federated testbed resource-leasing fabric: it wires together the
// store, actor kernel, protocol engine, RPC manager, transport and
// diagnostics surface, then ticks the actor until interrupted. Rather
// than reaching these components through process-wide singletons,
// actord builds an explicit internal/container.Container once at
// startup.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabric-testbed/control-core/internal/confutil"
	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/container"
	"github.com/fabric-testbed/control-core/internal/diagnostics"
	"github.com/fabric-testbed/control-core/internal/kernel"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/notify"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/internal/protocol"
	"github.com/fabric-testbed/control-core/internal/proxy"
	"github.com/fabric-testbed/control-core/internal/recovery"
	"github.com/fabric-testbed/control-core/internal/reservation"
	"github.com/fabric-testbed/control-core/internal/store"
	"github.com/fabric-testbed/control-core/internal/transport"
	"github.com/fabric-testbed/control-core/pkg/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the actord YAML/JSON configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.L(ctx).Errorf("actord exiting: %s", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}
	if cfg.Log.Level != nil {
		_ = log.SetLevel(*cfg.Log.Level)
	}
	ctx = log.WithField(ctx, "actor", cfg.Actor.Name)

	role, err := categoryForRole(cfg.Actor.Type)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}

	// brokers allocate out of claimed delegation inventory; the other
	// roles run the permissive default until a real policy is bound
	var hooks policy.Hooks = policy.NoOpHooks{}
	if role == model.CategoryBroker {
		hooks = policy.NewBrokerHooks()
	}
	c, err := container.New(ctx, cfg, st, hooks)
	if err != nil {
		return err
	}
	defer c.Close()

	actorID := model.NewID()
	if err := c.Store.AddActor(ctx, store.ActorRecord{ID: actorID, Name: cfg.Actor.Name, Type: cfg.Actor.Type}); err != nil {
		log.L(ctx).Warnf("actor record upsert failed (continuing): %s", err)
	}

	cfgHandler := reservation.NoOpConfigurationHandler{}
	eng := protocol.NewEngine(cfg.Actor.Name, role, hooks, c.RPCManager, cfg.Actor.UpstreamPeer)
	eng.SetSigner(c.Identity)
	eng.SetPeerPublicKeys(cfg.Crypto.BrokerPublicKeys)
	eng.SetConfigurationHandler(cfgHandler)
	eng.BindStore(c.Store, actorID)

	tickLen := confutil.DurationMin(cfg.Kernel.TickLength, "1s", 10*time.Millisecond)
	actor, err := kernel.NewActor(ctx, cfg.Actor.Name, hooks, eng, confutil.Int(cfg.Kernel.EventQueueDepth, 1024))
	if err != nil {
		return err
	}
	c.RPCManager.RegisterActor(cfg.Actor.Name, actor, eng)

	closeTransport, err := wireTransport(ctx, cfg, c)
	if err != nil {
		return err
	}
	defer closeTransport()

	dispatcher := notify.NewDispatcher(
		notify.NewSlackSink(os.Getenv("ACTORD_SLACK_BOT_TOKEN"), slackChannel(cfg)),
		notify.NewWebhookSink(webhookURL(cfg), confutil.DurationMin(cfg.Notify.Timeout, "5s", time.Second)),
	)
	monitor := notify.NewMonitor(cfg.Actor.Name, dispatcher, 5*time.Minute)
	actor.SetPostTickHook(monitor.Check(eng))

	if err := recovery.Recover(ctx, actorID, c.Store, hooks, eng, actor, cfgHandler); err != nil {
		return msgs.NewError(ctx, msgs.MsgRecoveryFailed, cfg.Actor.Name, err.Error())
	}

	if err := actor.Start(confutil.Bool(cfg.Kernel.ManualClock, false), tickLen); err != nil {
		return err
	}
	defer actor.Stop()

	if err := c.WatchConfig(ctx, configPath); err != nil {
		log.L(ctx).Warnf("config hot-reload disabled: %s", err)
	}

	stopDiagnostics := startDiagnostics(ctx, cfg, c, actor, eng)
	defer stopDiagnostics()

	log.L(ctx).Infof("actord started: actor=%s role=%s", cfg.Actor.Name, role)
	<-ctx.Done()
	log.L(ctx).Infof("actord shutting down: actor=%s", cfg.Actor.Name)
	c.RPCManager.CancelForActor(context.Background(), cfg.Actor.Name)
	return nil
}

func categoryForRole(actorType string) (model.Category, error) {
	switch actorType {
	case "orchestrator":
		return model.CategoryClient, nil
	case "broker":
		return model.CategoryBroker, nil
	case "authority":
		return model.CategoryAuthority, nil
	default:
		return "", msgs.NewError(context.Background(), msgs.MsgConfigInvalid, "actor.type", actorType)
	}
}

// wireTransport builds the configured transport.Producer and
// transport.Consumer, registers the upstream peer's Proxy in the
// registry, and subscribes the rpc manager's inbound handler. It
// returns a close function that tears down whatever it built.
func wireTransport(ctx context.Context, cfg *config.Config, c *container.Container) (func(), error) {
	noop := func() {}

	switch cfg.Transport.Kind {
	case "", "local":
		bus := transport.NewMemoryBus()
		if cfg.Actor.UpstreamPeer != "" {
			c.Registry.Register(cfg.Actor.UpstreamPeer, proxy.NewRemote(cfg.Actor.UpstreamPeer, bus))
		}
		if err := bus.Subscribe(ctx, cfg.Actor.Name, c.RPCManager.InboundHandler()); err != nil {
			return noop, err
		}
		return func() { _ = bus.Close() }, nil

	case "grpc":
		dedup, err := buildDedup(cfg.Transport.Dedup)
		if err != nil {
			return noop, err
		}
		server := transport.NewGRPCServer(dedup)
		if err := server.Subscribe(ctx, cfg.Actor.Name, c.RPCManager.InboundHandler()); err != nil {
			return noop, err
		}

		listenAddr := confutil.String(cfg.Transport.GRPC.Listen, ":50551")
		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return noop, msgs.NewError(ctx, msgs.MsgConfigInvalid, "transport.grpc.listen", err.Error())
		}
		go func() {
			if err := server.Handle().Serve(lis); err != nil {
				log.L(ctx).Warnf("grpc transport server stopped: %s", err)
			}
		}()

		var producer *transport.GRPCProducer
		if len(cfg.Transport.PeerAddresses) > 0 {
			producer, err = transport.NewGRPCProducer(ctx, cfg.Transport.PeerAddresses)
			if err != nil {
				return noop, err
			}
			if cfg.Actor.UpstreamPeer != "" {
				c.Registry.Register(cfg.Actor.UpstreamPeer, proxy.NewRemote(cfg.Actor.UpstreamPeer, producer))
			}
		}

		return func() {
			_ = server.Close()
			if producer != nil {
				_ = producer.Close()
			}
		}, nil

	default:
		return noop, msgs.NewError(ctx, msgs.MsgConfigInvalid, "transport.kind", cfg.Transport.Kind)
	}
}

func buildDedup(cfg config.DedupConfig) (transport.Dedup, error) {
	window := confutil.DurationMin(cfg.Window, "10m", time.Minute)
	if cfg.RedisURL != nil && *cfg.RedisURL != "" {
		return transport.NewRedisDedup(*cfg.RedisURL, window), nil
	}
	return transport.NewLRUDedup(window, 100_000), nil
}

func startDiagnostics(ctx context.Context, cfg *config.Config, c *container.Container, actor *kernel.Actor, eng *protocol.Engine) func() {
	if !confutil.Bool(cfg.Diagnostics.Enabled, true) {
		return func() {}
	}
	addr := confutil.String(cfg.Diagnostics.Listen, "127.0.0.1:8090")
	rps := confutil.Int(cfg.Diagnostics.RateLimitRPS, 20)
	srv := diagnostics.New(c.Registry, rps, diagnostics.ActorView{Name: cfg.Actor.Name, Actor: actor, Engine: eng})

	diagCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := diagnostics.Serve(diagCtx, addr, srv); err != nil {
			log.L(ctx).Warnf("diagnostics server stopped: %s", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func slackChannel(cfg *config.Config) string {
	if cfg.Notify.SlackWebhookURL == nil {
		return ""
	}
	return *cfg.Notify.SlackWebhookURL
}

func webhookURL(cfg *config.Config) string {
	if cfg.Notify.GenericWebhook == nil {
		return ""
	}
	return *cfg.Notify.GenericWebhook
}
