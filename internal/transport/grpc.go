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

	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/pkg/log"
	"github.com/serialx/hashring"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The generated stubs for a dedicated proto service are not part of
// this tree, so the service here is declared by hand against a single
// opaque method: Deliver(envelope) -> ack. This is the same shape
// protoc-gen-go-grpc would emit for a one-RPC service; wrapperspb.BytesValue
// stands in for a dedicated message type since the envelope itself is
// already opaque bytes and no wire encoding is prescribed beyond the
// logical message set.
const deliverMethod = "/controlcore.Transport/Deliver"

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "controlcore.Transport",
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/transport/grpc.go",
}

type transportServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(transportServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer is the inbound half of the grpc remote transport: a single
// unary method accepts an opaque envelope and fans it out to whatever
// handler GRPCServer.Consumer has Subscribe-d for the envelope's target
// actor. Transport is addressed per actor, not per message kind.
type GRPCServer struct {
	server *grpc.Server
	dedup  Dedup

	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewGRPCServer(dedup Dedup) *GRPCServer {
	s := &GRPCServer{
		dedup: dedup,
		subs:  map[string][]Handler{},
	}
	s.server = grpc.NewServer()
	s.server.RegisterService(&transportServiceDesc, s)
	return s
}

// Handle returns the underlying *grpc.Server so cmd/actord can call
// Serve(listener) on an ordinary net.Listener; kept out of this
// package's own API so transport does not need to import net.
func (s *GRPCServer) Handle() *grpc.Server { return s.server }

func (s *GRPCServer) Subscribe(ctx context.Context, actorName string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[actorName] = append(s.subs[actorName], h)
	return nil
}

func (s *GRPCServer) Close() error {
	s.server.GracefulStop()
	return nil
}

// Deliver implements transportServer: it is the method grpc invokes for
// every inbound unary call. De-dup happens here, before any handler
// runs: duplicates are acknowledged but never redelivered to the actor.
func (s *GRPCServer) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	envelope := in.GetValue()
	target, msg, err := DecodeEnvelope(ctx, envelope)
	if err != nil {
		return nil, err
	}
	if s.dedup != nil {
		seen, derr := s.dedup.Seen(ctx, msg.MessageID)
		if derr != nil {
			log.L(ctx).Warnf("transport: dedup check failed for %s, delivering anyway: %s", msg.MessageID, derr)
		} else if seen {
			return &wrapperspb.BytesValue{}, nil
		}
	}

	s.mu.RLock()
	handlers := append([]Handler(nil), s.subs[target]...)
	s.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, envelope); err != nil {
			log.L(ctx).Warnf("transport: handler for %s failed: %s", target, err)
		}
	}
	return &wrapperspb.BytesValue{}, nil
}

// GRPCProducer is the outbound half: it dials (and caches) a
// *grpc.ClientConn per resolved address and invokes Deliver. When more
// than one address is configured for a logical remote peer, hashring
// consistently assigns a given actor name to the same address, so
// ordering within one actor-to-actor stream of envelopes is not
// scrambled across replicas even though the manager itself does not
// order outbound sends.
type GRPCProducer struct {
	addresses []string
	ring      *hashring.HashRing

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCProducer(ctx context.Context, addresses []string) (*GRPCProducer, error) {
	if len(addresses) == 0 {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, "transport.peerAddresses", "at least one address required")
	}
	return &GRPCProducer{
		addresses: addresses,
		ring:      hashring.New(addresses),
		conns:     map[string]*grpc.ClientConn{},
	}, nil
}

func (p *GRPCProducer) resolve(actorName string) string {
	if len(p.addresses) == 1 {
		return p.addresses[0]
	}
	addr, ok := p.ring.GetNode(actorName)
	if !ok {
		return p.addresses[0]
	}
	return addr
}

func (p *GRPCProducer) connFor(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.conns[addr] = cc
	return cc, nil
}

// Publish implements Producer: it resolves actorName to an address,
// dials (or reuses) a connection, and issues a unary Deliver call
// carrying envelope. The call itself is synchronous but is expected to
// be fast: transport send is meant to be non-blocking, and the
// blocking work here is bounded network I/O, not a queue wait.
func (p *GRPCProducer) Publish(ctx context.Context, actorName string, envelope []byte) error {
	addr := p.resolve(actorName)
	cc, err := p.connFor(addr)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgTransportFailure, actorName, err.Error())
	}
	out := new(wrapperspb.BytesValue)
	in := &wrapperspb.BytesValue{Value: envelope}
	if err := cc.Invoke(ctx, deliverMethod, in, out); err != nil {
		return msgs.NewError(ctx, msgs.MsgTransportFailure, actorName, err.Error())
	}
	return nil
}

func (p *GRPCProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, cc := range p.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
