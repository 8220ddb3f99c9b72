// Copyright 2025 Certen Protocol

package plan

import (
	"github.com/certen/independant-validator/pkg/types"
)

// StepKind is the closed set of ExecutionStep variants.
type StepKind uint8

const (
	StepKindEthSend StepKind = iota
	StepKindErc20Transfer
	StepKindDexSwap
	StepKindCrossChainTransfer
)

func (k StepKind) Family() StepStatusFamily {
	if k == StepKindCrossChainTransfer {
		return StatusFamilyCrossChain
	}
	return StatusFamilyEVM
}

// CommonMeta is carried by every step.
type CommonMeta struct {
	SrcAddr    types.Address
	DestAddr   types.Address
	SrcChain   types.ChainId
	GasFee     types.Amount
	GasFeeUSD  types.Amount
}

// DexSwapData carries the fields specific to a DexSwap step.
type DexSwapData struct {
	RouterAddr   types.Address
	TokenPath    []types.UniversalTokenId // ordered, single chain
	AmountIn     *types.Amount            // optional: nil until propagated
	MinAmountOut *types.Amount            // optional
}

// CrossChainData carries the fields specific to a CrossChainTransfer step.
type CrossChainData struct {
	SrcToken        types.UniversalTokenId
	DestToken       types.UniversalTokenId
	SrcLocation     []byte // opaque encoded source-chain asset location
	DestLocation    []byte // opaque encoded dest location, escrow substituted
	EstimatedFee    types.Amount // in dest-chain native token
}

// TransferData carries the fields for EthSend/Erc20Transfer steps. A plain
// native transfer leaves Token at its zero value (TokenKindNative).
type TransferData struct {
	Token  types.UniversalTokenId
	Amount *types.Amount // optional until propagated
}

// ExecutionStep is the closed tagged union of step variants. Only the
// field matching Kind is populated. Modeled as a flat struct rather than
// an interface hierarchy: the set is closed and driven by chain family,
// never an open inheritance tree.
type ExecutionStep struct {
	Id   types.StepId
	Kind StepKind
	Meta CommonMeta

	Transfer   TransferData   // EthSend, Erc20Transfer
	DexSwap    DexSwapData    // DexSwap
	CrossChain CrossChainData // CrossChainTransfer

	Status      StepStatus
	RetryCount  int
}

// SrcToken returns the token this step consumes, used by invariant
// checking and value propagation.
func (s *ExecutionStep) SrcToken() types.UniversalTokenId {
	switch s.Kind {
	case StepKindDexSwap:
		if len(s.DexSwap.TokenPath) > 0 {
			return s.DexSwap.TokenPath[0]
		}
		return types.UniversalTokenId{}
	case StepKindCrossChainTransfer:
		return s.CrossChain.SrcToken
	default:
		return s.Transfer.Token
	}
}

// DestToken returns the token this step produces.
func (s *ExecutionStep) DestToken() types.UniversalTokenId {
	switch s.Kind {
	case StepKindDexSwap:
		if n := len(s.DexSwap.TokenPath); n > 0 {
			return s.DexSwap.TokenPath[n-1]
		}
		return types.UniversalTokenId{}
	case StepKindCrossChainTransfer:
		return s.CrossChain.DestToken
	default:
		return s.Transfer.Token
	}
}

// SetAmountIn writes the propagated input amount into whichever variant
// field this step's Kind uses.
func (s *ExecutionStep) SetAmountIn(a types.Amount) {
	switch s.Kind {
	case StepKindDexSwap:
		s.DexSwap.AmountIn = &a
	default:
		s.Transfer.Amount = &a
	}
}

// AmountIn returns the propagated input amount, or false if it has not
// been set yet.
func (s *ExecutionStep) AmountIn() (types.Amount, bool) {
	switch s.Kind {
	case StepKindDexSwap:
		if s.DexSwap.AmountIn == nil {
			return types.Amount{}, false
		}
		return *s.DexSwap.AmountIn, true
	default:
		if s.Transfer.Amount == nil {
			return types.Amount{}, false
		}
		return *s.Transfer.Amount, true
	}
}

// EffectiveOutput returns the observed output amount once the step has
// reached its Confirmed/DestConfirmed terminal state.
func (s *ExecutionStep) EffectiveOutput() (types.Amount, bool) {
	switch s.Status.Family {
	case StatusFamilyEVM:
		if s.Status.EVM.Kind == EVMConfirmed {
			return s.Status.EVM.EffectiveAmountOut, true
		}
	case StatusFamilyCrossChain:
		if s.Status.CrossChain.Kind == CrossChainDestConfirmed {
			return s.Status.CrossChain.AmountReceived, true
		}
	}
	return types.Amount{}, false
}

// TransferStep is the prestart/postend escrow transfer. It reuses
// ExecutionStep's EVM status family; on a Substrate-resident escrow it is
// modeled as a CrossChainTransfer instead, selected when constructing the
// plan.
type TransferStep = ExecutionStep
