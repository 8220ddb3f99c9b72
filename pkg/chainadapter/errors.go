// Copyright 2025 Certen Protocol
//
// Sentinel errors for chain adapter operations: explicit typed errors
// instead of ambiguous nil returns, so the Driver Loop's retry policy can
// branch on failure kind without parsing error strings.

package chainadapter

import "errors"

var (
	// ErrTransientNetwork means the call is safe to retry with the same
	// nonce: a timeout, connection failure, or other recoverable I/O error.
	ErrTransientNetwork = errors.New("chainadapter: transient network error")

	// ErrPermanentRejection means the chain rejected the transaction; the
	// nonce is burned and must be reclaimed via the Nonce Manager's Drop
	// transition.
	ErrPermanentRejection = errors.New("chainadapter: permanent rejection")

	// ErrNonceAlreadyUsed means submission raced another broadcast at the
	// same nonce; the caller must re-query on-chain state and reconcile.
	ErrNonceAlreadyUsed = errors.New("chainadapter: nonce already used")
)

// Kind classifies an adapter error for the Driver's retry policy.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindPermanentRejection
	KindNonceAlreadyUsed
)

// Classify maps an error returned by Submit/Poll to the policy-driving
// Kind the Driver uses to decide retry vs. drop.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTransientNetwork):
		return KindTransientNetwork
	case errors.Is(err, ErrPermanentRejection):
		return KindPermanentRejection
	case errors.Is(err, ErrNonceAlreadyUsed):
		return KindNonceAlreadyUsed
	default:
		return KindUnknown
	}
}
