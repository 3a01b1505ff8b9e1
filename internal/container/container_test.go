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

package container

import (
	"context"
	"testing"

	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/crypto"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fabric-testbed/control-core/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mnemonic, err := crypto.GenerateMnemonic()
	require.NoError(t, err)
	return &config.Config{
		Actor:  config.ActorConfig{Name: "authority-1", Type: "authority"},
		RPC:    config.RPCConfigDefaults,
		Crypto: config.CryptoConfig{Mnemonic: mnemonic},
	}
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.OpenGORM(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewDerivesSigningIdentity(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, testConfig(t), testStore(t), policy.NoOpHooks{})
	require.NoError(t, err)
	assert.NotNil(t, c.Identity)
	assert.NotEmpty(t, c.Identity.PublicKeyHex())
}

func TestNewRejectsMissingMnemonic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Crypto = config.CryptoConfig{}
	_, err := New(ctx, cfg, testStore(t), policy.NoOpHooks{})
	assert.Error(t, err)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, testStore(t), policy.NoOpHooks{})
	assert.Error(t, err)
}
