// Copyright 2025 Certen Protocol
//
// Ed25519SubstrateSigner is a minimal SubstrateSigner: it signs a fixed
// encoding of (step id, destination, nonce) rather than a full
// runtime-metadata-aware SCALE-encoded extrinsic. None of the example
// repos in the retrieved pack carry a SCALE codec or a parachain runtime
// client, and hand-rolling one is out of scope here; this signer exists so
// SubstrateAdapter has a concrete, deterministic signer to submit against
// in development and in tests, not to construct a runtime-valid extrinsic.

package chainadapter

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// Ed25519SubstrateSigner signs with a single ed25519 key. Deterministic in
// (step, nonce) as SubstrateSigner requires: ed25519 signatures over a
// fixed message are themselves deterministic.
type Ed25519SubstrateSigner struct {
	key ed25519.PrivateKey
}

// NewEd25519SubstrateSigner builds a signer from a hex-encoded 32-byte
// ed25519 seed (e.g. Config.SubstrateSignerSeed).
func NewEd25519SubstrateSigner(seedHex string) (*Ed25519SubstrateSigner, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: decode substrate signer seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("chainadapter: substrate signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519SubstrateSigner{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Address returns the Substrate account id (public key) for this signer,
// for wiring into a worker's AdapterResolver.
func (s *Ed25519SubstrateSigner) Address() types.Address {
	var b [32]byte
	copy(b[:], s.key.Public().(ed25519.PublicKey))
	return types.SubstrateAddress(b)
}

func (s *Ed25519SubstrateSigner) SignExtrinsic(step *plan.ExecutionStep, nonce uint64, signer types.Address) (string, error) {
	msg := make([]byte, 0, 16+20+8)
	msg = append(msg, step.Id[:]...)
	msg = append(msg, step.Meta.DestAddr.Bytes[:]...)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	msg = append(msg, nonceBuf[:]...)

	sig := ed25519.Sign(s.key, msg)
	extrinsic := append(append([]byte{}, msg...), sig...)
	return "0x" + hex.EncodeToString(extrinsic), nil
}
