// Copyright 2025 Certen Protocol
//
// Package chainadapter implements the EVM and Substrate chain adapters:
// submit/confirm/parse transactions, including cross-chain bridge
// transfers. Both variants share the Adapter interface so the Driver
// Loop (pkg/driver) never branches on chain family.

package chainadapter

import (
	"context"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// TxHandle is an opaque reference to a submitted transaction, returned by
// Submit and consumed by Poll. Adapters populate only the fields they
// need internally; callers should treat it as opaque beyond TxHash.
type TxHandle struct {
	TxHash string
	Nonce  uint64

	// WatchToken and WatchDest let an EVM adapter's Poll recover the
	// step's effective output from a contract call's emitted logs rather
	// than the transaction's value field. WatchToken.Kind ==
	// TokenKindNative means the step is a plain native-value transfer and
	// EffectiveOutput comes from the transaction's value instead.
	WatchToken types.TokenKey
	WatchDest  types.Address
}

// PollStatusKind is the closed result set of Poll.
type PollStatusKind uint8

const (
	PollPending PollStatusKind = iota
	PollIncluded
	PollFinalized
	PollDropped
)

// PollResult is the outcome of one Poll call.
type PollResult struct {
	Status PollStatusKind

	Block           uint64 // Included, Finalized
	EffectiveOutput types.Amount
	GasUsed         uint64
	GasPrice        types.Amount
	DropReason      string
}

// DestPollStatusKind is the closed result set of PollDestination for
// cross-chain steps.
type DestPollStatusKind uint8

const (
	DestPending DestPollStatusKind = iota
	DestArrived
)

type DestPollResult struct {
	Status         DestPollStatusKind
	AmountReceived types.Amount
}

// Adapter is the interface shared by the EVM and Substrate chain
// adapters. Implementations must be deterministic with
// respect to (step, nonce, signer): repeated signings at the same nonce
// must yield the same transaction hash, so that ErrNonceAlreadyUsed can be
// disambiguated from genuine double submission.
type Adapter interface {
	// GetNextAccountNonce queries the chain for signer's current nonce.
	// Used only to initialize/repair NonceState.
	GetNextAccountNonce(ctx context.Context, signer types.Address) (uint64, error)

	CurrentBlockNumber(ctx context.Context) (uint64, error)

	// Submit constructs, signs, and broadcasts the transaction for step at
	// the given nonce. Errors are classified via Classify: ErrTransientNetwork,
	// ErrPermanentRejection, or ErrNonceAlreadyUsed.
	Submit(ctx context.Context, step *plan.ExecutionStep, nonce uint64, signer types.Address) (TxHandle, error)

	// Poll reports the current on-chain status of a submitted transaction.
	Poll(ctx context.Context, handle TxHandle) (PollResult, error)
}

// CrossChainSourceAdapter is implemented by adapters whose chain can
// originate a cross-chain transfer: in addition to Adapter, it can derive
// a destination poll from the source extrinsic's emitted message identity.
type CrossChainSourceAdapter interface {
	Adapter

	// PollDestination polls the destination chain's adapter for arrival of
	// a bridge/XCM message identified by messageIdentity, which is derived
	// from the source extrinsic's emitted event.
	PollDestination(ctx context.Context, destChain types.ChainId, messageIdentity string) (DestPollResult, error)
}
