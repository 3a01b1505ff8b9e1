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

// Package transport implements an asynchronous message transport:
// producer/consumer semantics, at-least-once delivery, and a
// message_id de-dup window so duplicate redelivery is absorbed before
// it ever reaches internal/rpcmanager. The concrete wire binding this
// implementation chooses is a gRPC unary call per envelope; the
// Producer/Consumer seam is deliberately narrow so a real Kafka binding
// could replace it without touching internal/proxy.
package transport

import (
	"context"
	"encoding/json"

	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/protocol"
)

// Envelope is the opaque payload that crosses the wire: a JSON-encoded
// protocol.Message plus the target actor's logical name, so a single
// shared transport connection can carry traffic for more than one
// local actor.
type Envelope struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage marshals msg into an Envelope addressed to target.
func EncodeMessage(target string, msg protocol.Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	env := Envelope{Target: target, Payload: payload}
	return json.Marshal(env)
}

// DecodeEnvelope reverses EncodeMessage.
func DecodeEnvelope(ctx context.Context, raw []byte) (target string, msg protocol.Message, err error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", protocol.Message{}, msgs.NewError(ctx, msgs.MsgTransportFailure, "decode", err.Error())
	}
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return "", protocol.Message{}, msgs.NewError(ctx, msgs.MsgTransportFailure, env.Target, err.Error())
	}
	return env.Target, msg, nil
}

// Producer is the outbound half of a transport binding: it hands a
// raw envelope to the bus for actorName, at-least-once, non-blocking
// beyond the enqueue itself.
type Producer interface {
	Publish(ctx context.Context, actorName string, envelope []byte) error
	Close() error
}

// Handler is invoked once per envelope a Consumer receives, after the
// Consumer's de-dup window, where it has one, has discarded
// redeliveries it has seen before.
type Handler func(ctx context.Context, envelope []byte) error

// Consumer is the inbound half: it owns a dispatcher goroutine per
// subscription that converts bus records into Handler invocations.
type Consumer interface {
	Subscribe(ctx context.Context, actorName string, h Handler) error
	Close() error
}
