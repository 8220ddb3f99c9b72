// Copyright 2025 Certen Protocol

package types

import (
	"bytes"
	"fmt"
)

// TokenKeyKind is the closed set of on-chain token representations a
// UniversalTokenId can carry. New chain families add a new kind here and a
// matching Adapter/registry entry, never an open interface hierarchy: the
// set is closed and driven by chain family.
type TokenKeyKind uint8

const (
	TokenKindNative TokenKeyKind = iota
	TokenKindERC20
	TokenKindSubstrateAsset
)

// TokenKey distinguishes native tokens, ERC-20-style tokens (20-byte
// contract address), and Substrate-asset multilocations on a given chain.
// Only the field matching Kind is meaningful.
type TokenKey struct {
	Kind            TokenKeyKind
	ERC20Addr       [20]byte
	MultiLocation   []byte // opaque encoded XCM MultiLocation, Substrate only
}

func NativeToken() TokenKey {
	return TokenKey{Kind: TokenKindNative}
}

func ERC20Token(addr [20]byte) TokenKey {
	return TokenKey{Kind: TokenKindERC20, ERC20Addr: addr}
}

func SubstrateAssetToken(multiLocation []byte) TokenKey {
	loc := make([]byte, len(multiLocation))
	copy(loc, multiLocation)
	return TokenKey{Kind: TokenKindSubstrateAsset, MultiLocation: loc}
}

func (k TokenKey) Equal(o TokenKey) bool {
	if k.Kind != o.Kind {
		return false
	}
	switch k.Kind {
	case TokenKindERC20:
		return k.ERC20Addr == o.ERC20Addr
	case TokenKindSubstrateAsset:
		return bytes.Equal(k.MultiLocation, o.MultiLocation)
	default:
		return true
	}
}

func (k TokenKey) String() string {
	switch k.Kind {
	case TokenKindNative:
		return "native"
	case TokenKindERC20:
		return fmt.Sprintf("erc20(0x%x)", k.ERC20Addr)
	case TokenKindSubstrateAsset:
		return fmt.Sprintf("asset(0x%x)", k.MultiLocation)
	default:
		return "unknown-token"
	}
}

// UniversalTokenId identifies a token on a specific chain.
type UniversalTokenId struct {
	Chain ChainId
	Key   TokenKey
}

func (u UniversalTokenId) Equal(o UniversalTokenId) bool {
	return u.Chain == o.Chain && u.Key.Equal(o.Key)
}

func (u UniversalTokenId) String() string {
	return fmt.Sprintf("%s/%s", u.Chain, u.Key)
}
