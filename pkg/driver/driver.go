// Copyright 2025 Certen Protocol
//
// Package driver implements the Driver Loop: the only component in this
// module that performs I/O against chain adapters and writes plan state.
// Everything it decides comes from pkg/planmachine's pure functions;
// everything it does to the outside world goes through
// chainadapter.Adapter and pkg/noncemgr/pkg/planassigner/pkg/prestartdedup.
//
// A single exported entry point, RunIteration, is called repeatedly by
// cmd/worker's loop, with every failure logged and absorbed rather than
// panicking the process.

package driver

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/certen/independant-validator/pkg/chainadapter"
	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/noncemgr"
	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/planassigner"
	"github.com/certen/independant-validator/pkg/planmachine"
	"github.com/certen/independant-validator/pkg/prestartdedup"
	"github.com/certen/independant-validator/pkg/registry"
	"github.com/certen/independant-validator/pkg/types"
)

// DefaultRetryBudget is the number of PermanentRejections a step tolerates
// before it and its plan become Dropped.
const DefaultRetryBudget = 3

// DefaultStepsPerPlanPerIteration bounds how much work one Acquire'd plan
// receives before Release, so one slow plan cannot starve the others a
// worker discovers via ListPlans.
const DefaultStepsPerPlanPerIteration = 4

// AdapterResolver hands the driver the chain-specific collaborators a
// step's chain id requires: the adapter to submit/poll through, and the
// address that signs on that chain.
type AdapterResolver interface {
	Adapter(chain types.ChainId) (chainadapter.Adapter, error)
	Signer(chain types.ChainId) (types.Address, error)
}

// OpSnapshotter is the downstream operator view (pkg/opstore). It is
// optional: a nil Snapshotter simply means the driver does not publish a
// downstream copy, which is safe since the coordinator store stays the
// source of truth either way.
type OpSnapshotter interface {
	Snapshot(ctx context.Context, p *plan.ExecutionPlan) error
}

// Driver wires every collaborator the Driver Loop needs for one worker
// process. Construct one per process; it holds no per-iteration state.
type Driver struct {
	Store      coordinator.Store
	Plans      PlanStore
	Lease      *planassigner.Lease
	Dedup      *prestartdedup.Dedup
	Registry   registry.ChainRegistry
	Adapters   AdapterResolver
	Metrics    *metrics.Registry
	OpStore    OpSnapshotter
	Logger     *log.Logger
	RetryBudget        int
	StepsPerIteration  int
}

func (d *Driver) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Driver) retryBudget() int {
	if d.RetryBudget > 0 {
		return d.RetryBudget
	}
	return DefaultRetryBudget
}

func (d *Driver) stepsPerIteration() int {
	if d.StepsPerIteration > 0 {
		return d.StepsPerIteration
	}
	return DefaultStepsPerPlanPerIteration
}

// RunIteration performs one pass over every plan currently registered in
// PlanAllocation, attempting to acquire and advance each. It never returns
// an error for a single plan's failure — those are logged and the loop
// moves on, rather than aborting the whole pass.
func (d *Driver) RunIteration(ctx context.Context) error {
	ids, err := d.Lease.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("driver: list plans: %w", err)
	}

	for _, idStr := range ids {
		planID, err := types.ParsePlanId(idStr)
		if err != nil {
			d.logger().Printf("driver: skipping malformed plan id %q: %v", idStr, err)
			continue
		}
		if err := d.driveOne(ctx, planID); err != nil {
			d.logger().Printf("driver: plan %s: %v", planID, err)
		}
	}
	return nil
}

func (d *Driver) driveOne(ctx context.Context, planID types.PlanId) error {
	ok, leaseEpoch, err := d.Lease.Acquire(ctx, planID)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	if !ok {
		if d.Metrics != nil {
			d.Metrics.LeaseConflicts.Inc()
		}
		return nil // another worker holds the lease
	}

	p, err := d.Plans.Load(ctx, planID)
	if err != nil {
		// The plan exists in PlanAllocation but its document cannot be
		// loaded or decoded: treat as InvalidPlan and release the lease
		// without touching PlanAllocation further; an operator must fix
		// the underlying document before this plan can make progress.
		_ = d.Lease.Release(ctx, planID)
		return fmt.Errorf("load: %w", err)
	}

	if d.Metrics != nil {
		d.Metrics.PlansInFlight.Inc()
		defer d.Metrics.PlansInFlight.Dec()
	}

	d.advance(ctx, p)

	if err := d.Plans.Save(ctx, p); err != nil {
		d.logger().Printf("driver: plan %s: save: %v", planID, err)
	}
	if d.OpStore != nil {
		if err := d.OpStore.Snapshot(ctx, p); err != nil {
			d.logger().Printf("driver: plan %s: opstore snapshot: %v", planID, err)
		}
	}

	if p.Status.IsTerminal() {
		if d.Metrics != nil {
			if p.Status == plan.PlanConfirmed {
				d.Metrics.PlansConfirmed.Inc()
			} else {
				d.Metrics.PlansAborted.Inc()
			}
		}
		return d.Lease.Deregister(ctx, planID)
	}

	// Refresh before releasing only matters for work spanning multiple
	// driveOne calls in flight concurrently across processes; a single
	// worker's own iteration never needs it. Release unconditionally ends
	// this worker's claim for the next iteration's Acquire to contend on.
	_ = leaseEpoch
	return d.Lease.Release(ctx, planID)
}

// advance performs up to stepsPerIteration() actions against p, mutating
// it in place. Errors from individual actions are logged, not returned:
// a transient failure on one step should not prevent Save from persisting
// progress already made earlier in the same call.
func (d *Driver) advance(ctx context.Context, p *plan.ExecutionPlan) {
	budget := d.stepsPerIteration()

	if p.Status == plan.PlanNotStarted {
		if err := d.driveNotStarted(ctx, p); err != nil {
			d.logger().Printf("driver: plan %s: prestart: %v", p.PlanId, err)
			return
		}
		budget--
	}

	for budget > 0 && p.Status == plan.PlanInProgress {
		next, ok := planmachine.NextActionableStep(p)
		if !ok {
			break
		}
		if err := d.driveStep(ctx, p, next); err != nil {
			d.logger().Printf("driver: plan %s step %d/%d: %v", p.PlanId, next.Ref.PathIndex, next.Ref.StepIndex, err)
			break
		}
		budget--
	}

	postendDone := p.Postend.Status.IsTerminal()
	if err := planmachine.AdvancePlanStatus(p, postendDone); err != nil {
		d.logger().Printf("driver: plan %s: advance status: %v", p.PlanId, err)
	}

	if p.Status == plan.PlanInProgress && allPathsTerminal(p) && postendNeedsWork(&p.Postend) {
		if err := d.driveEscrowStep(ctx, &p.Postend); err != nil {
			d.logger().Printf("driver: plan %s: postend: %v", p.PlanId, err)
		}
	}
}

func allPathsTerminal(p *plan.ExecutionPlan) bool {
	for i := range p.Paths {
		if !p.Paths[i].IsTerminal() {
			return false
		}
	}
	return true
}

func postendNeedsWork(step *plan.ExecutionStep) bool {
	return planmachine.ActionForStep(step) != planmachine.ActionNone
}

// driveNotStarted advances the prestart transfer like any ordinary EVM
// step, and once it reaches Confirmed, claims its tx hash in PrestartDedup
// before letting the plan proceed.
func (d *Driver) driveNotStarted(ctx context.Context, p *plan.ExecutionPlan) error {
	if !p.Prestart.Status.IsTerminal() {
		return d.driveEscrowStep(ctx, &p.Prestart)
	}
	if p.Prestart.Status.EVM.Kind != plan.EVMConfirmed {
		// Prestart dropped outright; nothing to dedup, plan cannot proceed.
		return planmachine.TransitionToInProgress(p, false, false)
	}

	ok, err := d.Dedup.TryConsume(ctx, p.Prestart.Status.EVM.TxHash)
	if err != nil {
		return fmt.Errorf("prestart dedup: %w", err)
	}
	return planmachine.TransitionToInProgress(p, true, ok)
}

// driveEscrowStep drives the prestart/postend transfer, which lives
// outside ExecutionPlan.Paths but shares the same EVM step state machine.
func (d *Driver) driveEscrowStep(ctx context.Context, step *plan.ExecutionStep) error {
	switch planmachine.ActionForStep(step) {
	case planmachine.ActionSubmit:
		return d.submitStep(ctx, step)
	case planmachine.ActionPollSource:
		return d.pollStep(ctx, step)
	default:
		return nil
	}
}

func (d *Driver) driveStep(ctx context.Context, p *plan.ExecutionPlan, next planmachine.NextStep) error {
	step, err := p.Step(next.Ref)
	if err != nil {
		return err
	}

	switch next.Action {
	case planmachine.ActionSubmit:
		return d.submitStep(ctx, step)
	case planmachine.ActionPollSource:
		if err := d.pollStep(ctx, step); err != nil {
			return err
		}
		return d.propagateIfTerminal(p, next.Ref)
	case planmachine.ActionPollDestination:
		if err := d.pollDestination(ctx, step); err != nil {
			return err
		}
		return d.propagateIfTerminal(p, next.Ref)
	default:
		return nil
	}
}

func (d *Driver) propagateIfTerminal(p *plan.ExecutionPlan, ref plan.StepRef) error {
	step, err := p.Step(ref)
	if err != nil {
		return err
	}
	if !step.Status.IsTerminal() {
		return nil
	}
	decimals := func(tok types.UniversalTokenId) int {
		entry, ok := d.Registry.Lookup(tok.Chain)
		if !ok {
			return 18
		}
		return entry.DecimalsOf(tok.Key)
	}
	if err := planmachine.PropagateValue(p, ref, decimals); err != nil || !p.AllPathsTerminalSuccess() {
		return err
	}
	total := types.ZeroAmount()
	for i := range p.Paths {
		last := &p.Paths[i].Steps[len(p.Paths[i].Steps)-1]
		out, _ := last.EffectiveOutput()
		if total, err = total.Add(out); err != nil {
			return err
		}
	}
	p.Postend.SetAmountIn(total) // the postend moves the paths' combined final output
	return nil
}

// submitStep allocates a nonce, submits the transaction, and records the
// Submitted status.
func (d *Driver) submitStep(ctx context.Context, step *plan.ExecutionStep) error {
	chain := step.Meta.SrcChain
	adapter, err := d.Adapters.Adapter(chain)
	if err != nil {
		return fmt.Errorf("resolve adapter for chain %s: %w", chain, err)
	}
	signer, err := d.Adapters.Signer(chain)
	if err != nil {
		return fmt.Errorf("resolve signer for chain %s: %w", chain, err)
	}
	mgr := noncemgr.New(d.Store, chain, signer)

	nonce, err := mgr.Allocate(ctx, adapter, step.Id)
	if err != nil {
		return fmt.Errorf("allocate nonce: %w", err)
	}

	handle, err := adapter.Submit(ctx, step, nonce, signer)
	switch chainadapter.Classify(err) {
	case chainadapter.KindUnknown:
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	case chainadapter.KindTransientNetwork:
		return nil // nonce stays allocated; retried next iteration
	case chainadapter.KindPermanentRejection:
		return d.dropStep(ctx, mgr, step)
	case chainadapter.KindNonceAlreadyUsed:
		// Tolerated: signing is deterministic, so a racing
		// broadcast at the same nonce either already landed (next
		// iteration's PollSource will see it) or will itself be rejected.
		// Leaving the step NotStarted lets the next iteration re-poll via
		// the Nonce Manager's Case 3 read rather than re-submitting blind.
		return nil
	}

	curBlock, err := adapter.CurrentBlockNumber(ctx)
	if err != nil {
		curBlock = 0
	}
	setSubmitted(step, handle, curBlock)
	if d.Metrics != nil {
		d.Metrics.StepsSubmitted.Inc()
	}
	return nil
}

func setSubmitted(step *plan.ExecutionStep, handle chainadapter.TxHandle, block uint64) {
	switch step.Status.Family {
	case plan.StatusFamilyEVM:
		step.Status.EVM.Kind = plan.EVMSubmitted
		step.Status.EVM.TxHash = handle.TxHash
		step.Status.EVM.Nonce = handle.Nonce
		step.Status.EVM.BlockSubmitted = block
	case plan.StatusFamilyCrossChain:
		step.Status.CrossChain.Kind = plan.CrossChainSourceSubmitted
		step.Status.CrossChain.SourceTxHash = handle.TxHash
		step.Status.CrossChain.Nonce = handle.Nonce
		step.Status.CrossChain.BlockSubmitted = block
	}
}

func (d *Driver) pollStep(ctx context.Context, step *plan.ExecutionStep) error {
	chain := step.Meta.SrcChain
	adapter, err := d.Adapters.Adapter(chain)
	if err != nil {
		return fmt.Errorf("resolve adapter for chain %s: %w", chain, err)
	}

	handle := chainadapter.TxHandle{Nonce: currentNonce(step), TxHash: currentTxHash(step), WatchDest: step.Meta.DestAddr}
	switch step.Kind {
	case plan.StepKindErc20Transfer:
		handle.WatchToken = step.Transfer.Token.Key
	case plan.StepKindDexSwap:
		if n := len(step.DexSwap.TokenPath); n > 0 {
			handle.WatchToken = step.DexSwap.TokenPath[n-1].Key
		}
	}
	result, err := adapter.Poll(ctx, handle)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	switch result.Status {
	case chainadapter.PollPending, chainadapter.PollIncluded:
		return nil
	case chainadapter.PollFinalized:
		return d.finalizeSource(ctx, step, result)
	case chainadapter.PollDropped:
		signer, _ := d.Adapters.Signer(chain)
		mgr := noncemgr.New(d.Store, chain, signer)
		return d.dropStep(ctx, mgr, step)
	default:
		return nil
	}
}

func currentNonce(step *plan.ExecutionStep) uint64 {
	if step.Status.Family == plan.StatusFamilyCrossChain {
		return step.Status.CrossChain.Nonce
	}
	return step.Status.EVM.Nonce
}

func currentTxHash(step *plan.ExecutionStep) string {
	if step.Status.Family == plan.StatusFamilyCrossChain {
		return step.Status.CrossChain.SourceTxHash
	}
	return step.Status.EVM.TxHash
}

// finalizeSource handles the source-chain leg: release the nonce, and for
// an EVM step record the final Confirmed status directly (there is no
// destination leg to wait on).
func (d *Driver) finalizeSource(ctx context.Context, step *plan.ExecutionStep, result chainadapter.PollResult) error {
	chain := step.Meta.SrcChain
	signer, err := d.Adapters.Signer(chain)
	if err != nil {
		return err
	}
	mgr := noncemgr.New(d.Store, chain, signer)
	if err := mgr.Finalize(ctx, step.Id, result.Block); err != nil {
		return fmt.Errorf("finalize nonce: %w", err)
	}

	switch step.Status.Family {
	case plan.StatusFamilyEVM:
		step.Status.EVM.Kind = plan.EVMConfirmed
		step.Status.EVM.EffectiveAmountOut = result.EffectiveOutput
	case plan.StatusFamilyCrossChain:
		step.Status.CrossChain.Kind = plan.CrossChainSourceConfirmed
		step.Status.CrossChain.SourceBlock = result.Block
		step.Status.CrossChain.MessageIdentity = fmt.Sprintf("%s:%d", step.Status.CrossChain.SourceTxHash, result.Block)
	}
	return nil
}

func (d *Driver) pollDestination(ctx context.Context, step *plan.ExecutionStep) error {
	if step.Status.Family != plan.StatusFamilyCrossChain {
		return errors.New("pollDestination called on a non-cross-chain step")
	}
	destChain := step.CrossChain.DestToken.Chain
	adapter, err := d.Adapters.Adapter(step.Meta.SrcChain)
	if err != nil {
		return fmt.Errorf("resolve source adapter for chain %s: %w", step.Meta.SrcChain, err)
	}
	crossAdapter, ok := adapter.(chainadapter.CrossChainSourceAdapter)
	if !ok {
		return fmt.Errorf("chain %s adapter does not support cross-chain destination polling", step.Meta.SrcChain)
	}

	result, err := crossAdapter.PollDestination(ctx, destChain, step.Status.CrossChain.MessageIdentity)
	if err != nil {
		return fmt.Errorf("poll destination: %w", err)
	}
	if result.Status == chainadapter.DestArrived {
		step.Status.CrossChain.Kind = plan.CrossChainDestConfirmed
		step.Status.CrossChain.AmountReceived = result.AmountReceived
	}
	return nil
}

// dropStep executes the Nonce Manager Drop transition and either resets
// the step to retry or marks it Dropped once the retry budget is
// exhausted.
func (d *Driver) dropStep(ctx context.Context, mgr *noncemgr.Manager, step *plan.ExecutionStep) error {
	if err := mgr.Drop(ctx, step.Id); err != nil {
		return fmt.Errorf("drop nonce: %w", err)
	}
	step.RetryCount++

	exhausted := step.RetryCount >= d.retryBudget()
	switch step.Status.Family {
	case plan.StatusFamilyEVM:
		if exhausted {
			step.Status.EVM.Kind = plan.EVMDropped
			step.Status.EVM.DropReason = plan.DropReasonRetryBudgetExhausted
			if d.Metrics != nil {
				d.Metrics.StepsDropped.Inc()
			}
		} else {
			step.Status.EVM = plan.EVMStepStatus{}
		}
	case plan.StatusFamilyCrossChain:
		if exhausted {
			step.Status.CrossChain.Kind = plan.CrossChainDropped
			step.Status.CrossChain.DropReason = plan.DropReasonRetryBudgetExhausted
			if d.Metrics != nil {
				d.Metrics.StepsDropped.Inc()
			}
		} else {
			step.Status.CrossChain = plan.CrossChainStepStatus{}
		}
	}
	return nil
}
