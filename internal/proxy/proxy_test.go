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
	"testing"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeliverer struct {
	gotTarget string
	gotMsg    protocol.Message
	err       error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, targetActor string, msg protocol.Message) error {
	f.gotTarget = targetActor
	f.gotMsg = msg
	return f.err
}

func TestLocalExecuteDeliversDirectlyToTargetActor(t *testing.T) {
	d := &fakeDeliverer{}
	p := NewLocal("broker-1", d)

	msg := protocol.Message{MessageID: "m-1", Kind: protocol.KindTicket, Auth: model.AuthToken{Name: "orchestrator-1"}}
	require.NoError(t, p.Execute(context.Background(), msg))

	assert.Equal(t, "broker-1", d.gotTarget)
	assert.Equal(t, msg, d.gotMsg)
	assert.Equal(t, "broker-1", p.ActorName())
	assert.Equal(t, "local", p.Transport())
}

func TestLocalExecutePropagatesDelivererError(t *testing.T) {
	wantErr := assert.AnError
	d := &fakeDeliverer{err: wantErr}
	p := NewLocal("broker-1", d)
	assert.ErrorIs(t, p.Execute(context.Background(), protocol.Message{}), wantErr)
}

type fakeProducer struct {
	gotActor    string
	gotEnvelope []byte
	err         error
	closed      bool
}

func (f *fakeProducer) Publish(ctx context.Context, actorName string, envelope []byte) error {
	f.gotActor = actorName
	f.gotEnvelope = envelope
	return f.err
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestRemoteExecuteEncodesAndPublishesEnvelope(t *testing.T) {
	fp := &fakeProducer{}
	p := NewRemote("authority-1", fp)

	msg := protocol.Message{MessageID: "m-1", Kind: protocol.KindRedeem, Auth: model.AuthToken{Name: "broker-1"}}
	require.NoError(t, p.Execute(context.Background(), msg))

	assert.Equal(t, "authority-1", fp.gotActor)
	assert.NotEmpty(t, fp.gotEnvelope)
	assert.Equal(t, "authority-1", p.ActorName())
	assert.Equal(t, "grpc", p.Transport())
}

func TestRegistryLookupMissingActorFails(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("nobody")
	assert.Error(t, err)
}

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	reg := NewRegistry()
	p := NewLocal("broker-1", &fakeDeliverer{})
	reg.Register("broker-1", p)

	got, err := reg.Lookup("broker-1")
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Contains(t, reg.Names(), "broker-1")

	reg.Unregister("broker-1")
	_, err = reg.Lookup("broker-1")
	assert.Error(t, err)
}
