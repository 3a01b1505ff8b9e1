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
	"testing"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestGRPCServerDeliverFansOutAndDedups(t *testing.T) {
	server := NewGRPCServer(NewLRUDedup(1_000_000_000, 10))

	received := 0
	require.NoError(t, server.Subscribe(context.Background(), "broker-1", func(ctx context.Context, envelope []byte) error {
		received++
		return nil
	}))

	raw, err := EncodeMessage("broker-1", protocol.Message{MessageID: "m-1", Kind: protocol.KindTicket, Auth: model.AuthToken{Name: "orchestrator-1"}})
	require.NoError(t, err)

	_, err = server.Deliver(context.Background(), &wrapperspb.BytesValue{Value: raw})
	require.NoError(t, err)
	_, err = server.Deliver(context.Background(), &wrapperspb.BytesValue{Value: raw})
	require.NoError(t, err)

	assert.Equal(t, 1, received, "a redelivered message_id must be de-duplicated before reaching the handler")
}

func TestGRPCServerDeliverRejectsMalformedEnvelope(t *testing.T) {
	server := NewGRPCServer(NewLRUDedup(1_000_000_000, 10))
	_, err := server.Deliver(context.Background(), &wrapperspb.BytesValue{Value: []byte("garbage")})
	assert.Error(t, err)
}

func TestNewGRPCProducerRejectsEmptyAddresses(t *testing.T) {
	_, err := NewGRPCProducer(context.Background(), nil)
	assert.Error(t, err)
}

func TestGRPCProducerResolveIsConsistentForRepeatedAddress(t *testing.T) {
	p, err := NewGRPCProducer(context.Background(), []string{"10.0.0.1:50551", "10.0.0.2:50551", "10.0.0.3:50551"})
	require.NoError(t, err)

	first := p.resolve("broker-1")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.resolve("broker-1"), "hashring resolution for a fixed actor name must be stable")
	}
}

func TestGRPCProducerResolveWithSingleAddressAlwaysReturnsIt(t *testing.T) {
	p, err := NewGRPCProducer(context.Background(), []string{"10.0.0.1:50551"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:50551", p.resolve("anything"))
}
