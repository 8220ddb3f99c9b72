// Copyright 2025 Certen Protocol

package driver

import (
	"context"
	"testing"

	"github.com/certen/independant-validator/pkg/chainadapter"
	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/planassigner"
	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/prestartdedup"
	"github.com/certen/independant-validator/pkg/registry"
	"github.com/certen/independant-validator/pkg/types"
)

const testChain types.ChainId = 1

var (
	escrowAddr = types.EVMAddress([20]byte{0xE5})
	userAddr   = types.EVMAddress([20]byte{0x01})
)

type singleChainResolver struct {
	adapter chainadapter.Adapter
	signer  types.Address
}

func (r singleChainResolver) Adapter(chain types.ChainId) (chainadapter.Adapter, error) {
	return r.adapter, nil
}

func (r singleChainResolver) Signer(chain types.ChainId) (types.Address, error) {
	return r.signer, nil
}

func testPlan() *plan.ExecutionPlan {
	return &plan.ExecutionPlan{
		PlanId:       types.NewPlanId(),
		UserSrcAddr:  userAddr,
		UserDestAddr: userAddr,
		SrcToken:     types.UniversalTokenId{Chain: testChain},
		DestToken:    types.UniversalTokenId{Chain: testChain},
		Prestart: plan.ExecutionStep{
			Id:   types.NewStepId(),
			Kind: plan.StepKindEthSend,
			Meta: plan.CommonMeta{SrcAddr: userAddr, DestAddr: escrowAddr, SrcChain: testChain},
		},
		Postend: plan.ExecutionStep{
			Id:   types.NewStepId(),
			Kind: plan.StepKindEthSend,
			Meta: plan.CommonMeta{SrcAddr: escrowAddr, DestAddr: userAddr, SrcChain: testChain},
		},
		Paths: []plan.ExecutionPath{
			{Steps: []plan.ExecutionStep{
				{
					Id:   types.NewStepId(),
					Kind: plan.StepKindEthSend,
					Meta: plan.CommonMeta{SrcAddr: userAddr, DestAddr: escrowAddr, SrcChain: testChain},
				},
			}},
		},
		Status: plan.PlanNotStarted,
	}
}

func newTestDriver(t *testing.T, adapter *chainadapter.FakeAdapter) (*Driver, *planassigner.Lease) {
	t.Helper()
	store := coordinator.NewMemoryStore()
	lease := planassigner.New(store, planassigner.DefaultLease)
	reg, err := registry.NewStaticRegistry([]registry.ChainEntry{
		{ChainId: testChain, Name: "test", Decimals: map[string]int{}},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	d := &Driver{
		Store:    store,
		Plans:    NewCoordinatorPlanStore(store),
		Lease:    lease,
		Dedup:    prestartdedup.New(store),
		Registry: reg,
		Adapters: singleChainResolver{adapter: adapter, signer: userAddr},
	}
	return d, lease
}

func TestRunIteration_DrivesPlanToConfirmed(t *testing.T) {
	adapter := chainadapter.NewFakeAdapter()
	d, lease := newTestDriver(t, adapter)
	ctx := context.Background()

	p := testPlan()
	if err := d.Plans.Save(ctx, p); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	if ok, _, err := lease.Acquire(ctx, p.PlanId); err != nil || !ok {
		t.Fatalf("seed register: ok=%v err=%v", ok, err)
	}
	if err := lease.Release(ctx, p.PlanId); err != nil {
		t.Fatalf("seed release: %v", err)
	}

	// Every submitted tx immediately finalizes; the adapter doesn't know
	// the tx hash in advance, so script every hash this test will produce.
	scriptAllFinalized := func() {
		for _, hash := range expectedHashes(t, d, p.PlanId) {
			adapter.ScriptPoll(hash, chainadapter.PollResult{Status: chainadapter.PollFinalized, EffectiveOutput: types.ZeroAmount()})
		}
	}

	final := driveWithScripting(t, d, lease, p.PlanId, scriptAllFinalized, 20)
	if final.Status != plan.PlanConfirmed {
		t.Fatalf("expected plan to reach Confirmed, got %v (abort=%v drop=%v)", final.Status, final.AbortReason, final.DropReason)
	}
}

// expectedHashes derives the deterministic FakeAdapter tx hashes for every
// step currently in a submittable/submitted state, so the test can script
// Poll results without predicting nonce allocation order itself.
func expectedHashes(t *testing.T, d *Driver, planID types.PlanId) []string {
	t.Helper()
	ctx := context.Background()
	p, err := d.Plans.Load(ctx, planID)
	if err != nil {
		return nil
	}
	var hashes []string
	collect := func(s *plan.ExecutionStep) {
		if s.Status.EVM.TxHash != "" {
			hashes = append(hashes, s.Status.EVM.TxHash)
		}
	}
	collect(&p.Prestart)
	collect(&p.Postend)
	for i := range p.Paths {
		for j := range p.Paths[i].Steps {
			collect(&p.Paths[i].Steps[j])
		}
	}
	return hashes
}

// driveWithScripting runs iterations, re-scripting the fake adapter after
// every pass so newly submitted tx hashes finalize on the next poll.
func driveWithScripting(t *testing.T, d *Driver, lease *planassigner.Lease, planID types.PlanId, script func(), maxIters int) *plan.ExecutionPlan {
	t.Helper()
	ctx := context.Background()
	var last *plan.ExecutionPlan
	for i := 0; i < maxIters; i++ {
		if err := d.RunIteration(ctx); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		script()
		p, err := d.Plans.Load(ctx, planID)
		if err != nil {
			// plan deregistered after reaching terminal; nothing left to load
			// from CoordinatorPlanStore only if Save path failed, which is a
			// real failure worth surfacing.
			t.Fatalf("iteration %d: load: %v", i, err)
		}
		last = p
		if p.Status.IsTerminal() {
			return last
		}
	}
	return last
}

func TestRunIteration_DropsStepAfterRetryBudget(t *testing.T) {
	adapter := chainadapter.NewFakeAdapter()
	d, lease := newTestDriver(t, adapter)
	d.RetryBudget = 1
	ctx := context.Background()

	p := testPlan()
	// The path step's Submit is forced to fail from the very start: its id
	// is known before the plan is even seeded, so there is no window where
	// it could succeed before the script takes effect.
	pathStepID := p.Paths[0].Steps[0].Id
	adapter.ScriptSubmitError(pathStepID, chainadapter.ErrPermanentRejection)

	if err := d.Plans.Save(ctx, p); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	if ok, _, err := lease.Acquire(ctx, p.PlanId); err != nil || !ok {
		t.Fatalf("seed register: ok=%v err=%v", ok, err)
	}
	if err := lease.Release(ctx, p.PlanId); err != nil {
		t.Fatalf("seed release: %v", err)
	}

	// Drive the prestart transfer (submit, finalize, transition) to
	// InProgress, scripting its tx hash Finalized as soon as it is known;
	// the path step's forced Submit failure then drives it to Dropped.
	for i := 0; i < 10; i++ {
		if err := d.RunIteration(ctx); err != nil {
			t.Fatalf("retry iter %d: %v", i, err)
		}
		cur, err := d.Plans.Load(ctx, p.PlanId)
		if err != nil {
			t.Fatalf("iter %d: load: %v", i, err)
		}
		if cur.Prestart.Status.EVM.TxHash != "" {
			adapter.ScriptPoll(cur.Prestart.Status.EVM.TxHash, chainadapter.PollResult{Status: chainadapter.PollFinalized, EffectiveOutput: types.ZeroAmount()})
		}
		if cur.Status.IsTerminal() {
			break
		}
	}

	final, err := d.Plans.Load(ctx, p.PlanId)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	step := final.Paths[0].Steps[0]
	if step.Status.EVM.Kind != plan.EVMDropped {
		t.Fatalf("expected step Dropped after exhausting retry budget, got kind=%v retries=%d", step.Status.EVM.Kind, step.RetryCount)
	}
	if final.Status != plan.PlanDropped {
		t.Fatalf("expected plan Dropped, got %v", final.Status)
	}
}
