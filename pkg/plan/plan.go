// Copyright 2025 Certen Protocol

package plan

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/types"
)

// ExecutionPath is an ordered, single-source single-destination sequence
// of steps.
type ExecutionPath struct {
	Steps []ExecutionStep
}

func (p *ExecutionPath) IsTerminal() bool {
	if len(p.Steps) == 0 {
		return true
	}
	last := p.Steps[len(p.Steps)-1]
	return last.Status.IsTerminal()
}

// ExecutionPlan is the top-level unit the Driver Loop advances.
type ExecutionPlan struct {
	PlanId PlanId

	UserSrcAddr  types.Address
	UserDestAddr types.Address
	SrcToken     types.UniversalTokenId
	DestToken    types.UniversalTokenId

	Prestart TransferStep
	Paths    []ExecutionPath
	Postend  TransferStep

	Status       PlanStatus
	AbortReason  AbortReason
	DropReason   DropReason
}

// PlanId is re-exported from types for readability within this package.
type PlanId = types.PlanId

// Validate checks the structural invariants placed on a freshly loaded
// plan. A failure here is the InvalidPlan condition, which the caller
// turns into a PlanAborted transition — Validate itself never mutates
// status.
func (p *ExecutionPlan) Validate(escrowAddr func(types.ChainId) types.Address) error {
	if len(p.Paths) == 0 {
		return fmt.Errorf("plan %s: must have at least one path", p.PlanId)
	}

	srcChain := p.Prestart.Meta.SrcChain
	destChain := p.Postend.Meta.SrcChain

	if !p.Prestart.Meta.SrcAddr.Equal(p.UserSrcAddr) {
		return fmt.Errorf("plan %s: prestart.src_addr must equal user_src_addr", p.PlanId)
	}
	if escrowAddr != nil && !p.Prestart.Meta.DestAddr.Equal(escrowAddr(srcChain)) {
		return fmt.Errorf("plan %s: prestart.dest_addr must equal escrow(src_chain)", p.PlanId)
	}
	if escrowAddr != nil && !p.Postend.Meta.SrcAddr.Equal(escrowAddr(destChain)) {
		return fmt.Errorf("plan %s: postend.src_addr must equal escrow(dest_chain)", p.PlanId)
	}
	if !p.Postend.Meta.DestAddr.Equal(p.UserDestAddr) {
		return fmt.Errorf("plan %s: postend.dest_addr must equal user_dest_addr", p.PlanId)
	}

	for pi, path := range p.Paths {
		if len(path.Steps) == 0 {
			return fmt.Errorf("plan %s: path %d has no steps", p.PlanId, pi)
		}
		for si := 0; si < len(path.Steps)-1; si++ {
			cur := &path.Steps[si]
			next := &path.Steps[si+1]

			if !cur.DestToken().Equal(next.SrcToken()) {
				return fmt.Errorf(
					"plan %s: path %d step %d dest_token must equal step %d src_token",
					p.PlanId, pi, si, si+1,
				)
			}

			if cur.Kind == StepKindDexSwap && next.Kind == StepKindDexSwap {
				curChain := cur.Meta.SrcChain
				nextChain := next.Meta.SrcChain
				sameRouter := curChain == nextChain && cur.DexSwap.RouterAddr.Equal(next.DexSwap.RouterAddr)
				_ = sameRouter // consecutive same-router swaps are permitted, nothing further to enforce here
			}
		}
	}

	return nil
}

// StepRef locates one step by (path index, step index): steps are
// identified by (PlanId, path_index, step_index) and looked up via
// indexed access rather than cyclic pointers.
type StepRef struct {
	PlanId    PlanId
	PathIndex int
	StepIndex int
}

func (p *ExecutionPlan) Step(ref StepRef) (*ExecutionStep, error) {
	if ref.PathIndex < 0 || ref.PathIndex >= len(p.Paths) {
		return nil, fmt.Errorf("plan %s: path index %d out of range", p.PlanId, ref.PathIndex)
	}
	path := &p.Paths[ref.PathIndex]
	if ref.StepIndex < 0 || ref.StepIndex >= len(path.Steps) {
		return nil, fmt.Errorf("plan %s: step index %d out of range in path %d", p.PlanId, ref.StepIndex, ref.PathIndex)
	}
	return &path.Steps[ref.StepIndex], nil
}

// AllPathsTerminalSuccess reports whether every path's final step reached
// a successful terminal state (Confirmed/DestConfirmed, not Dropped).
func (p *ExecutionPlan) AllPathsTerminalSuccess() bool {
	for i := range p.Paths {
		path := &p.Paths[i]
		if len(path.Steps) == 0 {
			continue
		}
		last := path.Steps[len(path.Steps)-1]
		switch last.Status.Family {
		case StatusFamilyEVM:
			if last.Status.EVM.Kind != EVMConfirmed {
				return false
			}
		case StatusFamilyCrossChain:
			if last.Status.CrossChain.Kind != CrossChainDestConfirmed {
				return false
			}
		}
	}
	return true
}

// AnyPathDropped reports whether any step anywhere in the plan has reached
// a Dropped terminal state with no retry budget remaining.
func (p *ExecutionPlan) AnyPathDropped() bool {
	for i := range p.Paths {
		for j := range p.Paths[i].Steps {
			s := &p.Paths[i].Steps[j]
			if s.Status.Family == StatusFamilyEVM && s.Status.EVM.Kind == EVMDropped {
				return true
			}
			if s.Status.Family == StatusFamilyCrossChain && s.Status.CrossChain.Kind == CrossChainDropped {
				return true
			}
		}
	}
	return false
}
