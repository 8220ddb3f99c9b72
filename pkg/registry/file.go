// Copyright 2025 Certen Protocol
//
// Loads a StaticRegistry from an operator-provisioned JSON file. JSON
// rather than YAML here because chain registry entries are identity
// facts (chain id, escrow address, decimals) fixed at deploy time and
// rarely hand-edited, unlike the YAML policy file in pkg/config which
// operators tune more often and benefit from comments/env substitution.

package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/certen/independant-validator/pkg/types"
)

// fileEntry mirrors ChainEntry with JSON-friendly field encodings: chain
// family and bridge template as strings, addresses as "0x"-prefixed hex.
type fileEntry struct {
	ChainId               uint32         `json:"chain_id"`
	Family                string         `json:"family"`
	Name                  string         `json:"name"`
	RPCEndpoint           string         `json:"rpc_endpoint"`
	RPCBackup             string         `json:"rpc_backup"`
	EscrowAddress         string         `json:"escrow_address"`
	Bridge                string         `json:"bridge"`
	Decimals              map[string]int `json:"decimals"`
	RequiredConfirmations uint64         `json:"required_confirmations"`
}

type fileDocument struct {
	Chains []fileEntry `json:"chains"`
}

// LoadStaticRegistryFile reads a chain registry JSON file and builds a
// StaticRegistry from it. See Config.RegistryPath in pkg/config.
func LoadStaticRegistryFile(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}

	entries := make([]ChainEntry, 0, len(doc.Chains))
	for _, fe := range doc.Chains {
		entry, err := fe.toChainEntry()
		if err != nil {
			return nil, fmt.Errorf("registry: chain %q: %w", fe.Name, err)
		}
		entries = append(entries, entry)
	}

	return NewStaticRegistry(entries)
}

func (fe fileEntry) toChainEntry() (ChainEntry, error) {
	family, err := parseFamily(fe.Family)
	if err != nil {
		return ChainEntry{}, err
	}

	bridge, err := parseBridge(fe.Bridge)
	if err != nil {
		return ChainEntry{}, err
	}

	addrKind := types.AddressKindEVM
	if family == types.ChainFamilySubstrate {
		addrKind = types.AddressKindSubstrate
	}
	var escrow types.Address
	if fe.EscrowAddress != "" {
		escrow, err = types.ParseAddress(addrKind, fe.EscrowAddress)
		if err != nil {
			return ChainEntry{}, fmt.Errorf("escrow_address: %w", err)
		}
	}

	decimals := fe.Decimals
	if decimals == nil {
		decimals = map[string]int{}
	}

	return ChainEntry{
		ChainId:               types.ChainId(fe.ChainId),
		Family:                family,
		Name:                  fe.Name,
		RPCEndpoint:           fe.RPCEndpoint,
		RPCBackup:             fe.RPCBackup,
		EscrowAddress:         escrow,
		Bridge:                bridge,
		Decimals:              decimals,
		RequiredConfirmations: fe.RequiredConfirmations,
	}, nil
}

func parseFamily(s string) (types.ChainFamily, error) {
	switch s {
	case "evm":
		return types.ChainFamilyEVM, nil
	case "substrate":
		return types.ChainFamilySubstrate, nil
	default:
		return types.ChainFamilyUnknown, fmt.Errorf("unknown chain family %q", s)
	}
}

func parseBridge(s string) (BridgeTemplate, error) {
	switch s {
	case "", "none":
		return BridgeTemplateNone, nil
	case "xcm_reserve_transfer":
		return BridgeTemplateXCMReserveTransfer, nil
	case "xcm_teleport":
		return BridgeTemplateXCMTeleport, nil
	default:
		return BridgeTemplateNone, fmt.Errorf("unknown bridge template %q", s)
	}
}
