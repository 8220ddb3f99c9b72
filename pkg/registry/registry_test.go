// Copyright 2025 Certen Protocol

package registry

import (
	"testing"

	"github.com/certen/independant-validator/pkg/types"
)

func TestStaticRegistry_LookupAndAll(t *testing.T) {
	r, err := NewStaticRegistry([]ChainEntry{
		{ChainId: 1, Family: types.ChainFamilyEVM, Name: "moonbeam", Bridge: BridgeTemplateXCMTeleport},
		{ChainId: 2, Family: types.ChainFamilySubstrate, Name: "acala", Bridge: BridgeTemplateXCMReserveTransfer},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	e, ok := r.Lookup(1)
	if !ok || e.Name != "moonbeam" {
		t.Fatalf("expected to find chain 1, got %v ok=%v", e, ok)
	}

	if _, ok := r.Lookup(99); ok {
		t.Fatalf("expected no entry for unknown chain id")
	}

	if len(r.All()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(r.All()))
	}
}

func TestNewStaticRegistry_RejectsDuplicateChainId(t *testing.T) {
	_, err := NewStaticRegistry([]ChainEntry{
		{ChainId: 1, Name: "a"},
		{ChainId: 1, Name: "b"},
	})
	if err == nil {
		t.Fatalf("expected duplicate chain id to be rejected")
	}
}

func TestChainEntry_DecimalsOf(t *testing.T) {
	e := ChainEntry{Decimals: map[string]int{"native": 10}}

	if d := e.DecimalsOf(types.NativeToken()); d != 10 {
		t.Fatalf("expected configured decimals 10, got %d", d)
	}
	if d := e.DecimalsOf(types.ERC20Token([20]byte{1})); d != 18 {
		t.Fatalf("expected default decimals 18 for unconfigured token, got %d", d)
	}
}
