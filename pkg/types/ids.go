// Copyright 2025 Certen Protocol
//
// Package types holds the chain-agnostic primitive identifiers shared by
// every PrivaDEX package: chain ids, token ids, addresses, amounts and the
// plan/step identifiers that index an ExecutionPlan.

package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChainId is an opaque small integer identifying a parachain (EVM or
// Substrate). It is never interpreted arithmetically beyond equality and
// map-keying.
type ChainId uint32

func (c ChainId) String() string {
	return fmt.Sprintf("chain(%d)", uint32(c))
}

// ChainFamily distinguishes the two supported execution environments. The
// set is closed: a new family requires a new Adapter implementation and a
// new ExecutionStep kind, not a runtime-registered plugin.
type ChainFamily uint8

const (
	ChainFamilyUnknown ChainFamily = iota
	ChainFamilyEVM
	ChainFamilySubstrate
)

func (f ChainFamily) String() string {
	switch f {
	case ChainFamilyEVM:
		return "evm"
	case ChainFamilySubstrate:
		return "substrate"
	default:
		return "unknown"
	}
}

// PlanId uniquely identifies an ExecutionPlan.
type PlanId [16]byte

// NewPlanId generates a fresh random PlanId.
func NewPlanId() PlanId {
	return PlanId(uuid.New())
}

func (p PlanId) String() string {
	return uuid.UUID(p).String()
}

// ParsePlanId parses a canonical UUID string into a PlanId.
func ParsePlanId(s string) (PlanId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PlanId{}, fmt.Errorf("parse plan id %q: %w", s, err)
	}
	return PlanId(u), nil
}

// StepId uniquely identifies an ExecutionStep within and across plans.
type StepId [16]byte

// NewStepId generates a fresh random StepId.
func NewStepId() StepId {
	return StepId(uuid.New())
}

func (s StepId) String() string {
	return uuid.UUID(s).String()
}

// AddressKind distinguishes the two address encodings carried by the
// tagged Address variant.
type AddressKind uint8

const (
	AddressKindEVM AddressKind = iota
	AddressKindSubstrate
)

// Address is a tagged 20-byte (EVM) or 32-byte (Substrate) account
// reference. Bytes beyond the relevant length are zero and ignored.
type Address struct {
	Kind  AddressKind
	Bytes [32]byte
}

// EVMAddress builds an Address from a 20-byte EVM account.
func EVMAddress(b [20]byte) Address {
	var a Address
	a.Kind = AddressKindEVM
	copy(a.Bytes[:20], b[:])
	return a
}

// SubstrateAddress builds an Address from a 32-byte Substrate account id.
func SubstrateAddress(b [32]byte) Address {
	return Address{Kind: AddressKindSubstrate, Bytes: b}
}

// Hex renders the address in the conventional hex form for its kind.
func (a Address) Hex() string {
	if a.Kind == AddressKindEVM {
		return fmt.Sprintf("0x%x", a.Bytes[:20])
	}
	return fmt.Sprintf("0x%x", a.Bytes[:32])
}

func (a Address) Equal(o Address) bool {
	return a.Kind == o.Kind && a.Bytes == o.Bytes
}

// ParseAddress is the inverse of Hex: it parses a "0x"-prefixed hex string
// into an Address of the given kind, used when loading operator-provisioned
// addresses (escrow contracts, signer accounts) from config files.
func ParseAddress(kind AddressKind, s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}

	want := 20
	if kind == AddressKindSubstrate {
		want = 32
	}
	if len(b) != want {
		return Address{}, fmt.Errorf("parse address %q: want %d bytes, got %d", s, want, len(b))
	}

	var a Address
	a.Kind = kind
	copy(a.Bytes[:], b)
	return a, nil
}
