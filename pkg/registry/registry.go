// Copyright 2025 Certen Protocol
//
// Package registry is the static chain registry: a read-only
// lookup from ChainId to the fixed facts a driver needs to operate on a
// chain — RPC endpoint, decimals, escrow/router address, chain family and
// the bridge-instruction template used to build cross-chain steps. It is
// consumed, never mutated, by the Driver Loop and by RoutingSolution →
// ExecutionPlan conversion (pkg/planconv).

package registry

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/types"
)

// BridgeTemplate names the cross-chain messaging primitive a chain uses to
// send value to another parachain.
// The set is closed: a new bridge primitive requires a new adapter method,
// not a runtime plugin.
type BridgeTemplate uint8

const (
	BridgeTemplateNone BridgeTemplate = iota
	BridgeTemplateXCMReserveTransfer
	BridgeTemplateXCMTeleport
)

func (b BridgeTemplate) String() string {
	switch b {
	case BridgeTemplateXCMReserveTransfer:
		return "xcm_reserve_transfer"
	case BridgeTemplateXCMTeleport:
		return "xcm_teleport"
	default:
		return "none"
	}
}

// ChainEntry is the fixed, operator-provisioned description of one chain.
type ChainEntry struct {
	ChainId     types.ChainId
	Family      types.ChainFamily
	Name        string // human-readable network name, e.g. "moonbeam", "acala"
	RPCEndpoint string
	RPCBackup   string // optional fallback endpoint; empty if none configured

	// EscrowAddress is the router/escrow contract (EVM) or pallet account
	// (Substrate) steps submit against.
	EscrowAddress types.Address

	// Bridge is the messaging primitive used when a step on this chain
	// sends value to another chain. BridgeTemplateNone if this chain never
	// originates a cross-chain step.
	Bridge BridgeTemplate

	// Decimals maps a token's on-chain representation to its decimal
	// precision, used by planmachine.PropagateValue to rescale amounts
	// across a step boundary that changes token representation.
	Decimals map[string]int

	// RequiredConfirmations is how many blocks of depth the chain's Poll
	// waits past inclusion before treating a tx as finalized, for chains
	// whose adapter does not have a native finality notion to rely on.
	RequiredConfirmations uint64
}

// DecimalsOf looks up the decimal precision of a token on this chain,
// defaulting to 18 (the common EVM convention) when the registry carries no
// explicit entry for it.
func (e ChainEntry) DecimalsOf(key types.TokenKey) int {
	if d, ok := e.Decimals[key.String()]; ok {
		return d
	}
	return 18
}

// ChainRegistry is the read-only lookup the driver and plan converter use
// to resolve per-chain execution facts. Implementations must be safe for
// concurrent reads; the registry is built once at startup and never
// mutated afterward in this process.
type ChainRegistry interface {
	Lookup(chain types.ChainId) (ChainEntry, bool)
	All() []ChainEntry
}

// StaticRegistry is an in-memory ChainRegistry built once from operator
// configuration rather than a networked service discovery layer — chain
// facts change on the timescale of operator deploys, not request traffic.
type StaticRegistry struct {
	entries map[types.ChainId]ChainEntry
}

// NewStaticRegistry builds a registry from the given entries, keyed by
// ChainId. Duplicate ChainIds are an operator configuration error.
func NewStaticRegistry(entries []ChainEntry) (*StaticRegistry, error) {
	m := make(map[types.ChainId]ChainEntry, len(entries))
	for _, e := range entries {
		if _, dup := m[e.ChainId]; dup {
			return nil, fmt.Errorf("registry: duplicate chain id %s", e.ChainId)
		}
		m[e.ChainId] = e
	}
	return &StaticRegistry{entries: m}, nil
}

func (r *StaticRegistry) Lookup(chain types.ChainId) (ChainEntry, bool) {
	e, ok := r.entries[chain]
	return e, ok
}

func (r *StaticRegistry) All() []ChainEntry {
	out := make([]ChainEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
