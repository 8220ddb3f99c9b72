// Copyright 2025 Certen Protocol
//
// Package planmachine is the Plan State Machine: pure,
// side-effect-free functions over an in-memory ExecutionPlan snapshot. It
// never performs I/O — the Driver Loop (pkg/driver) owns every adapter
// call and coordinator-store write, and calls into this package to decide
// what to do next and to apply the resulting state transition to the
// snapshot it already holds. Keeping invariant checks free of side
// effects lets them be unit tested without a live chain.

package planmachine

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// RequiredAction is the closed action set NextActionableStep can return.
type RequiredAction uint8

const (
	ActionNone RequiredAction = iota
	ActionSubmit
	ActionPollSource
	ActionPollDestination
)

func (a RequiredAction) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionPollSource:
		return "poll_source"
	case ActionPollDestination:
		return "poll_destination"
	default:
		return "none"
	}
}

// NextStep pairs the step to act on with what to do to it.
type NextStep struct {
	Ref    plan.StepRef
	Action RequiredAction
}

// DecimalsLookup resolves the on-chain decimal precision of a token, used
// by PropagateValue to rescale an effective_output across a step boundary
// that changes token representation.
type DecimalsLookup func(types.UniversalTokenId) int

// TransitionToInProgress moves a plan from NotStarted to InProgress (or to
// Aborted on a reused prestart). The driver has already (a) observed
// whether the prestart transfer reached Confirmed on-chain (the observed
// amount is not compared against an expected amount), and (b) attempted the conditional
// add-if-absent of its tx hash into PrestartDedup. This function only
// applies the resulting plan-status transition; it performs no I/O itself.
func TransitionToInProgress(p *plan.ExecutionPlan, prestartFinalized, dedupAcquired bool) error {
	if p.Status != plan.PlanNotStarted {
		return nil // already past this transition; idempotent no-op
	}
	if !prestartFinalized {
		return nil // nothing to do yet
	}
	if !dedupAcquired {
		if err := plan.ValidateTransition(p.Status, plan.PlanAborted); err != nil {
			return err
		}
		p.Status = plan.PlanAborted
		p.AbortReason = plan.AbortReasonPrestartReused
		return nil
	}
	if err := plan.ValidateTransition(p.Status, plan.PlanInProgress); err != nil {
		return err
	}
	p.Status = plan.PlanInProgress
	return nil
}

// NextActionableStep finds the first non-terminal path, then the first
// non-terminal step within it, and reports what the driver should do to
// advance it. Returns ok=false when
// every path is terminal (the plan is ready for AdvancePlanStatus) or the
// plan has not yet reached InProgress.
func NextActionableStep(p *plan.ExecutionPlan) (NextStep, bool) {
	if p.Status != plan.PlanInProgress {
		return NextStep{}, false
	}

	for pi := range p.Paths {
		path := &p.Paths[pi]
		if path.IsTerminal() {
			continue
		}
		for si := range path.Steps {
			step := &path.Steps[si]
			if step.Status.IsTerminal() {
				continue
			}
			ref := plan.StepRef{PlanId: p.PlanId, PathIndex: pi, StepIndex: si}
			action := actionFor(step)
			if action == ActionNone {
				continue
			}
			return NextStep{Ref: ref, Action: action}, true
		}
		return NextStep{}, false // first non-terminal step in this path has no actionable state yet
	}
	return NextStep{}, false
}

// ActionForStep exposes the same per-step action rule NextActionableStep
// uses internally, for callers driving a step
// outside the path-indexed walk — namely the Driver Loop's handling of the
// prestart/postend escrow transfers, which are not indexed ExecutionPath
// steps but use the identical EVM status-family state machine.
func ActionForStep(step *plan.ExecutionStep) RequiredAction {
	return actionFor(step)
}

func actionFor(step *plan.ExecutionStep) RequiredAction {
	switch step.Status.Family {
	case plan.StatusFamilyEVM:
		switch step.Status.EVM.Kind {
		case plan.EVMNotStarted:
			return ActionSubmit
		case plan.EVMSubmitted:
			return ActionPollSource
		}
	case plan.StatusFamilyCrossChain:
		switch step.Status.CrossChain.Kind {
		case plan.CrossChainNotStarted:
			return ActionSubmit
		case plan.CrossChainSourceSubmitted:
			return ActionPollSource
		case plan.CrossChainSourceConfirmed:
			return ActionPollDestination
		}
	}
	return ActionNone
}

// PropagateValue writes the just-finalized step's effective_output into the
// amount_in of the step immediately following it in the same path (or, for
// the last step, leaves it to the caller to handle plan-level postend
// propagation). Scaling is applied when the two steps represent the
// underlying asset with different decimal precision. The write is
// idempotent: calling it twice with the same inputs is a no-op.
func PropagateValue(p *plan.ExecutionPlan, ref plan.StepRef, decimalsOf DecimalsLookup) error {
	step, err := p.Step(ref)
	if err != nil {
		return err
	}
	output, ok := step.EffectiveOutput()
	if !ok {
		return fmt.Errorf("plan %s: step %d/%d has no effective_output to propagate", p.PlanId, ref.PathIndex, ref.StepIndex)
	}

	path := &p.Paths[ref.PathIndex]
	if ref.StepIndex+1 >= len(path.Steps) {
		return nil // last step in its path; plan-level postend handles this
	}
	next := &path.Steps[ref.StepIndex+1]

	scaled := output
	if decimalsOf != nil {
		fromTok := step.DestToken()
		toTok := next.SrcToken()
		if !fromTok.Equal(toTok) {
			scaled, err = types.ScaleByDecimals(output, decimalsOf(fromTok), decimalsOf(toTok))
			if err != nil {
				return fmt.Errorf("plan %s: scale propagated amount: %w", p.PlanId, err)
			}
		}
	}

	if existing, ok := next.AmountIn(); ok && existing.Cmp(scaled) == 0 {
		return nil // already propagated; idempotent
	}
	next.SetAmountIn(scaled)
	return nil
}

// AdvancePlanStatus runs once every path is terminal, deciding whether the
// plan is Confirmed (all successful and postend complete) or Dropped (any
// path dropped).
func AdvancePlanStatus(p *plan.ExecutionPlan, postendConfirmed bool) error {
	if p.Status != plan.PlanInProgress {
		return nil
	}

	allTerminal := true
	for i := range p.Paths {
		if !p.Paths[i].IsTerminal() {
			allTerminal = false
			break
		}
	}
	if !allTerminal {
		return nil
	}

	if p.AnyPathDropped() {
		if err := plan.ValidateTransition(p.Status, plan.PlanDropped); err != nil {
			return err
		}
		p.Status = plan.PlanDropped
		p.DropReason = plan.DropReasonPermanentRejection
		return nil
	}

	if p.AllPathsTerminalSuccess() && postendConfirmed {
		if err := plan.ValidateTransition(p.Status, plan.PlanConfirmed); err != nil {
			return err
		}
		p.Status = plan.PlanConfirmed
	}
	return nil
}
