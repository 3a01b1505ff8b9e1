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
	"encoding/binary"
	"sort"

	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"golang.org/x/crypto/sha3"
)

// chainID has no blockchain meaning here; it is the domain-separation
// value Recover takes for signature recovery and is fixed so every
// actor verifies against the same digest scheme.
const chainID = int64(0)

// digest builds the SHA-3 hash signed over a Ticket's evidentiary
// fields: term, units, type, holder guid, source delegation id and the
// source ticket's own digest, recursively, so re-parenting a ticket
// onto a different source invalidates the signature.
func digest(t *model.Ticket) []byte {
	h := sha3.New256()

	var buf [8]byte
	writeTime := func(nanos int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(nanos))
		h.Write(buf[:])
	}
	writeTime(t.Term.Start.UnixNano())
	writeTime(t.Term.End.UnixNano())
	writeTime(t.Term.NewStart.UnixNano())

	binary.BigEndian.PutUint64(buf[:], uint64(int64(t.Units)))
	h.Write(buf[:])
	h.Write([]byte(t.Type))
	h.Write(t.HolderGUID[:])
	h.Write(t.DelegationID[:])

	keys := make([]string, 0, len(t.Properties))
	for k := range t.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(t.Properties[k]))
	}

	if t.SourceTicket != nil {
		h.Write(digest(t.SourceTicket))
	}

	return h.Sum(nil)
}

// Sign computes t's digest and attaches id's signature over it,
// overwriting any previous Signature. Tickets are immutable once
// signed (model.Ticket's own doc comment); callers must not mutate a
// ticket's evidentiary fields after calling Sign.
func (id *Identity) Sign(ctx context.Context, t *model.Ticket) error {
	sig, err := id.keypair.Sign(digest(t))
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgInternalError, err.Error())
	}
	t.Signature = sig.CompactRSV()
	return nil
}

// Verify checks t.Signature against brokerPublicKeyHex, the signing
// actor's known address as returned by Identity.PublicKeyHex: the
// address recovered from the signature must equal it. An
// empty or unverifiable signature fails with MsgInvalidTicketSig and
// performs no mutation.
func Verify(ctx context.Context, t *model.Ticket, brokerPublicKeyHex string, reservationID model.ID) error {
	if len(t.Signature) == 0 {
		return msgs.NewError(ctx, msgs.MsgInvalidTicketSig, reservationID.String())
	}
	sig, err := secp256k1.DecodeCompactRSV(ctx, t.Signature)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgInvalidTicketSig, reservationID.String())
	}
	recovered, err := sig.Recover(digest(t), chainID)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgInvalidTicketSig, reservationID.String())
	}
	expected, err := ethtypes.NewAddress(brokerPublicKeyHex)
	if err != nil {
		return msgs.NewError(ctx, msgs.MsgInvalidTicketSig, reservationID.String())
	}
	if recovered.String() != expected.String() {
		return msgs.NewError(ctx, msgs.MsgInvalidTicketSig, reservationID.String())
	}
	return nil
}
