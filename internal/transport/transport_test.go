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
)

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	msg := protocol.Message{
		MessageID:     "m-1",
		Auth:          model.AuthToken{Name: "orchestrator-1"},
		Kind:          protocol.KindTicket,
		ReservationID: model.NewID(),
	}
	raw, err := EncodeMessage("broker-1", msg)
	require.NoError(t, err)

	target, got, err := DecodeEnvelope(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "broker-1", target)
	assert.Equal(t, msg, got)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, _, err := DecodeEnvelope(context.Background(), []byte("not json"))
	assert.Error(t, err)
}
