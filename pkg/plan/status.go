// Copyright 2025 Certen Protocol
//
// Package plan holds the ExecutionPlan data model: steps, statuses, and
// the structural invariants placed on them. The state-machine transitions
// that walk this data are in pkg/planmachine; this package only carries
// the types and their structural validation.

package plan

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/types"
)

// DropReason explains why a step or plan reached a Dropped terminal state.
// Kept distinct from "invalid" (see PlanStatus): "dropped" (retry budget
// exhausted) and "aborted" (structurally invalid) are different failure
// modes, and the persisted snapshot preserves the distinction.
type DropReason string

const (
	DropReasonPermanentRejection DropReason = "permanent_rejection"
	DropReasonRetryBudgetExhausted DropReason = "retry_budget_exhausted"
)

// EVMStepStatusKind is the closed state set for EthSend/Erc20Transfer/DexSwap
// steps.
type EVMStepStatusKind uint8

const (
	EVMNotStarted EVMStepStatusKind = iota
	EVMSubmitted
	EVMConfirmed
	EVMDropped
)

// EVMStepStatus is a tagged union over EVMStepStatusKind; only the fields
// relevant to Kind are populated.
type EVMStepStatus struct {
	Kind EVMStepStatusKind

	// Submitted
	TxHash         string
	Nonce          uint64
	BlockSubmitted uint64

	// Confirmed
	EffectiveAmountOut types.Amount

	// Dropped
	DropReason DropReason
}

func (s EVMStepStatus) IsTerminal() bool {
	return s.Kind == EVMConfirmed || s.Kind == EVMDropped
}

// CrossChainStepStatusKind is the closed state set for CrossChainTransfer
// steps.
type CrossChainStepStatusKind uint8

const (
	CrossChainNotStarted CrossChainStepStatusKind = iota
	CrossChainSourceSubmitted
	CrossChainSourceConfirmed
	CrossChainDestConfirmed
	CrossChainDropped
)

type CrossChainStepStatus struct {
	Kind CrossChainStepStatusKind

	// SourceSubmitted
	SourceTxHash       string
	Nonce              uint64
	BlockSubmitted     uint64

	// SourceConfirmed
	SourceBlock      uint64
	MessageIdentity  string // bridge-message hash or XCM correlation key

	// DestConfirmed
	AmountReceived types.Amount

	// Dropped
	DropReason DropReason
}

func (s CrossChainStepStatus) IsTerminal() bool {
	return s.Kind == CrossChainDestConfirmed || s.Kind == CrossChainDropped
}

// StepStatusFamily tells the driver/state machine which status union a
// step's Status field is using, since ExecutionStep's Kind already implies
// it but callers often only have the Status in hand (e.g. persistence
// round-trips).
type StepStatusFamily uint8

const (
	StatusFamilyEVM StepStatusFamily = iota
	StatusFamilyCrossChain
)

// StepStatus is the closed tagged union of the two step-family status
// tables. Exactly one of EVM/CrossChain is meaningful, selected by Family.
type StepStatus struct {
	Family     StepStatusFamily
	EVM        EVMStepStatus
	CrossChain CrossChainStepStatus
}

func NewNotStartedStatus(family StepStatusFamily) StepStatus {
	return StepStatus{Family: family}
}

// IsTerminal reports whether this step has reached one of
// {Confirmed, DestConfirmed, Dropped}.
func (s StepStatus) IsTerminal() bool {
	switch s.Family {
	case StatusFamilyEVM:
		return s.EVM.IsTerminal()
	case StatusFamilyCrossChain:
		return s.CrossChain.IsTerminal()
	default:
		return false
	}
}

// PlanStatus is the closed set of plan-level statuses.
type PlanStatus uint8

const (
	PlanNotStarted PlanStatus = iota
	PlanInProgress
	PlanConfirmed
	PlanAborted
	PlanDropped
)

func (s PlanStatus) String() string {
	switch s {
	case PlanNotStarted:
		return "not_started"
	case PlanInProgress:
		return "in_progress"
	case PlanConfirmed:
		return "confirmed"
	case PlanAborted:
		return "aborted"
	case PlanDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether this is one of {Confirmed, Aborted, Dropped}.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanConfirmed || s == PlanAborted || s == PlanDropped
}

// AbortReason records why a plan moved to Aborted — always structural,
// never retried.
type AbortReason string

const (
	AbortReasonInvalidPlan    AbortReason = "invalid_plan"
	AbortReasonPrestartReused AbortReason = "prestart_reused"
)

// ValidateTransition rejects any attempt to move a terminal status to a
// different value: no status regresses from a terminal state, enforced at
// the one place both the state machine and tests can call it from.
func ValidateTransition(from, to PlanStatus) error {
	if from.IsTerminal() && from != to {
		return fmt.Errorf("plan: cannot transition out of terminal status %s to %s", from, to)
	}
	return nil
}
