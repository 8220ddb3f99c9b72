// Copyright 2025 Certen Protocol

package planconv

import (
	"context"
	"errors"
	"testing"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

var escrow = types.EVMAddress([20]byte{0xE5})

func escrowAddr(types.ChainId) types.Address { return escrow }

func validPlan() *plan.ExecutionPlan {
	user := types.EVMAddress([20]byte{0x01})
	return &plan.ExecutionPlan{
		PlanId:       types.NewPlanId(),
		UserSrcAddr:  user,
		UserDestAddr: user,
		Prestart: plan.ExecutionStep{
			Id:   types.NewStepId(),
			Kind: plan.StepKindEthSend,
			Meta: plan.CommonMeta{SrcAddr: user, DestAddr: escrow, SrcChain: 1},
		},
		Postend: plan.ExecutionStep{
			Id:   types.NewStepId(),
			Kind: plan.StepKindEthSend,
			Meta: plan.CommonMeta{SrcAddr: escrow, DestAddr: user, SrcChain: 1},
		},
		Paths: []plan.ExecutionPath{
			{Steps: []plan.ExecutionStep{
				{Id: types.NewStepId(), Kind: plan.StepKindEthSend, Meta: plan.CommonMeta{SrcChain: 1}},
			}},
		},
		Status: plan.PlanNotStarted,
	}
}

type stubConverter struct {
	plan *plan.ExecutionPlan
	err  error
}

func (s stubConverter) Convert(ctx context.Context, solution RoutingSolution) (*plan.ExecutionPlan, error) {
	return s.plan, s.err
}

func TestLoadPlan_AcceptsWellFormedPlan(t *testing.T) {
	conv := stubConverter{plan: validPlan()}
	p, err := LoadPlan(context.Background(), conv, RoutingSolution{RequestId: "r1"}, escrowAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PlanId != conv.plan.PlanId {
		t.Fatalf("expected the converted plan to be returned unchanged")
	}
}

func TestLoadPlan_RejectsMalformedPlan(t *testing.T) {
	bad := validPlan()
	bad.Paths = nil // violates "at least one path"
	conv := stubConverter{plan: bad}

	if _, err := LoadPlan(context.Background(), conv, RoutingSolution{RequestId: "r2"}, escrowAddr); err == nil {
		t.Fatalf("expected malformed plan to be rejected")
	}
}

func TestLoadPlan_PropagatesConverterError(t *testing.T) {
	conv := stubConverter{err: errors.New("upstream unavailable")}
	if _, err := LoadPlan(context.Background(), conv, RoutingSolution{RequestId: "r3"}, escrowAddr); err == nil {
		t.Fatalf("expected converter error to propagate")
	}
}
