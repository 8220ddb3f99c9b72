// Copyright 2025 Certen Protocol

package planmachine

import (
	"testing"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

func singleStepPlan() *plan.ExecutionPlan {
	return &plan.ExecutionPlan{
		PlanId: types.NewPlanId(),
		Status: plan.PlanInProgress,
		Paths: []plan.ExecutionPath{
			{Steps: []plan.ExecutionStep{
				{Id: types.NewStepId(), Kind: plan.StepKindEthSend, Status: plan.NewNotStartedStatus(plan.StatusFamilyEVM)},
				{Id: types.NewStepId(), Kind: plan.StepKindEthSend, Status: plan.NewNotStartedStatus(plan.StatusFamilyEVM)},
			}},
		},
	}
}

func TestTransitionToInProgress(t *testing.T) {
	p := &plan.ExecutionPlan{PlanId: types.NewPlanId(), Status: plan.PlanNotStarted}

	if err := TransitionToInProgress(p, false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != plan.PlanNotStarted {
		t.Fatalf("expected no transition while prestart unfinalized, got %s", p.Status)
	}

	if err := TransitionToInProgress(p, true, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != plan.PlanAborted || p.AbortReason != plan.AbortReasonPrestartReused {
		t.Fatalf("expected Aborted/PrestartReused, got %s/%s", p.Status, p.AbortReason)
	}
}

func TestTransitionToInProgress_Success(t *testing.T) {
	p := &plan.ExecutionPlan{PlanId: types.NewPlanId(), Status: plan.PlanNotStarted}
	if err := TransitionToInProgress(p, true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != plan.PlanInProgress {
		t.Fatalf("expected InProgress, got %s", p.Status)
	}
	// Idempotent: calling again with the same inputs does not re-transition.
	if err := TransitionToInProgress(p, true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != plan.PlanInProgress {
		t.Fatalf("expected to remain InProgress, got %s", p.Status)
	}
}

func TestNextActionableStep_FirstStepSubmit(t *testing.T) {
	p := singleStepPlan()
	next, ok := NextActionableStep(p)
	if !ok {
		t.Fatalf("expected an actionable step")
	}
	if next.Action != ActionSubmit || next.Ref.StepIndex != 0 {
		t.Fatalf("expected Submit on step 0, got %v", next)
	}
}

func TestNextActionableStep_AdvancesPastTerminalStep(t *testing.T) {
	p := singleStepPlan()
	p.Paths[0].Steps[0].Status.EVM.Kind = plan.EVMConfirmed
	p.Paths[0].Steps[0].Status.EVM.EffectiveAmountOut = types.AmountFromUint64(100)

	next, ok := NextActionableStep(p)
	if !ok {
		t.Fatalf("expected the second step to be actionable")
	}
	if next.Ref.StepIndex != 1 || next.Action != ActionSubmit {
		t.Fatalf("expected Submit on step 1, got %v", next)
	}
}

func TestNextActionableStep_NoneWhenNotInProgress(t *testing.T) {
	p := singleStepPlan()
	p.Status = plan.PlanNotStarted
	if _, ok := NextActionableStep(p); ok {
		t.Fatalf("expected no actionable step before InProgress")
	}
}

func TestPropagateValue_IdempotentSameDecimals(t *testing.T) {
	p := singleStepPlan()
	p.Paths[0].Steps[0].Status.EVM.Kind = plan.EVMConfirmed
	p.Paths[0].Steps[0].Status.EVM.EffectiveAmountOut = types.AmountFromUint64(1_000_000) // 6 decimals

	decimals := func(t types.UniversalTokenId) int { return 6 } // same token both sides

	ref := plan.StepRef{PlanId: p.PlanId, PathIndex: 0, StepIndex: 0}
	if err := PropagateValue(p, ref, decimals); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	got, ok := p.Paths[0].Steps[1].AmountIn()
	if !ok || got.Cmp(types.AmountFromUint64(1_000_000)) != 0 {
		t.Fatalf("expected propagated amount 1000000, got %v (ok=%v)", got, ok)
	}

	// Second call is a no-op (idempotent).
	if err := PropagateValue(p, ref, decimals); err != nil {
		t.Fatalf("propagate again: %v", err)
	}
	got2, _ := p.Paths[0].Steps[1].AmountIn()
	if got2.Cmp(got) != 0 {
		t.Fatalf("expected idempotent propagation, got %v then %v", got, got2)
	}
}

func TestAdvancePlanStatus_DroppedWins(t *testing.T) {
	p := singleStepPlan()
	p.Paths[0].Steps[0].Status.EVM.Kind = plan.EVMDropped
	p.Paths[0].Steps[1].Status.EVM.Kind = plan.EVMDropped

	if err := AdvancePlanStatus(p, false); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if p.Status != plan.PlanDropped {
		t.Fatalf("expected Dropped, got %s", p.Status)
	}
}

func TestAdvancePlanStatus_ConfirmedRequiresPostend(t *testing.T) {
	p := singleStepPlan()
	p.Paths[0].Steps[0].Status.EVM.Kind = plan.EVMConfirmed
	p.Paths[0].Steps[1].Status.EVM.Kind = plan.EVMConfirmed

	if err := AdvancePlanStatus(p, false); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if p.Status != plan.PlanInProgress {
		t.Fatalf("expected to remain InProgress until postend confirms, got %s", p.Status)
	}

	if err := AdvancePlanStatus(p, true); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if p.Status != plan.PlanConfirmed {
		t.Fatalf("expected Confirmed, got %s", p.Status)
	}
}
