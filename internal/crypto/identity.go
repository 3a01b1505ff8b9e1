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

// Package crypto binds a Ticket to its issuer with a concrete
// secp256k1 signature: each actor derives a signing key from a
// configured BIP-39 mnemonic, the same derivation used for blockchain
// identities, applied here to ticket evidence instead of transactions.
package crypto

import (
	"context"
	"os"
	"strings"

	"github.com/fabric-testbed/control-core/internal/config"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/tyler-smith/go-bip39"
)

// Identity is one actor's ticket-signing keypair.
type Identity struct {
	keypair *secp256k1.KeyPair
}

// PublicKeyHex is the hex address derived from the actor's public key
// (not the key itself), suitable for publishing in a peer's
// CryptoConfig.BrokerPublicKeys.
func (id *Identity) PublicKeyHex() string {
	return id.keypair.Address.String()
}

// GenerateMnemonic returns a fresh 24-word BIP-39 mnemonic suitable for
// a new actor's crypto.mnemonic configuration value. Operators are
// expected to persist it themselves (e.g. into a secrets store) — this
// package never writes one to disk.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NewIdentity derives a signing identity from cfg's mnemonic. MnemonicFile,
// when set, takes precedence over the inline Mnemonic field so operators
// can keep the phrase out of the config document itself.
func NewIdentity(ctx context.Context, cfg config.CryptoConfig) (*Identity, error) {
	phrase := cfg.Mnemonic
	if cfg.MnemonicFile != nil && *cfg.MnemonicFile != "" {
		b, err := os.ReadFile(*cfg.MnemonicFile)
		if err != nil {
			return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, "crypto.mnemonicFile", err.Error())
		}
		phrase = strings.TrimSpace(string(b))
	}
	if phrase == "" {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, "crypto.mnemonic", "no mnemonic configured")
	}
	if !bip39.IsMnemonicValid(phrase) {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, "crypto.mnemonic", "not a valid BIP-39 mnemonic")
	}

	passphrase := ""
	if cfg.MnemonicPassphrase != nil {
		passphrase = *cfg.MnemonicPassphrase
	}
	seed := bip39.NewSeed(phrase, passphrase)

	kp, err := secp256k1.NewSecp256k1KeyPair(seed[:32])
	if err != nil {
		return nil, msgs.NewError(ctx, msgs.MsgConfigInvalid, "crypto.mnemonic", err.Error())
	}
	return &Identity{keypair: kp}, nil
}
