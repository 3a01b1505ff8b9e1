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

package crypto

import (
	"context"
	"testing"
	"time"

	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	entropy, err := bip39.NewEntropy(256)
	require.NoError(t, err)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)

	id, err := NewIdentity(context.Background(), config.CryptoConfig{Mnemonic: mnemonic})
	require.NoError(t, err)
	return id
}

func sampleTicket() *model.Ticket {
	return &model.Ticket{
		Term:       model.Term{Start: time.Unix(1000, 0), End: time.Unix(2000, 0)},
		Units:      4,
		Type:       "compute",
		Properties: map[string]string{"rack": "r1"},
		HolderGUID: model.NewID(),
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	broker := newTestIdentity(t)
	tk := sampleTicket()

	require.NoError(t, broker.Sign(context.Background(), tk))
	assert.NotEmpty(t, tk.Signature)

	err := Verify(context.Background(), tk, broker.PublicKeyHex(), model.NewID())
	assert.NoError(t, err)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	broker := newTestIdentity(t)
	impostor := newTestIdentity(t)
	tk := sampleTicket()

	require.NoError(t, impostor.Sign(context.Background(), tk))

	err := Verify(context.Background(), tk, broker.PublicKeyHex(), model.NewID())
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	broker := newTestIdentity(t)
	tk := sampleTicket()
	require.NoError(t, broker.Sign(context.Background(), tk))

	tk.Units = 999 // tamper after signing

	err := Verify(context.Background(), tk, broker.PublicKeyHex(), model.NewID())
	assert.Error(t, err)
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	broker := newTestIdentity(t)
	tk := sampleTicket()

	err := Verify(context.Background(), tk, broker.PublicKeyHex(), model.NewID())
	assert.Error(t, err)
}
