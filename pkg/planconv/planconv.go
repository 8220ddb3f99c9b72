// Copyright 2025 Certen Protocol
//
// Package planconv names the upstream collaborator that turns a
// routing-engine quote into a well-formed ExecutionPlan. This package
// holds only the interface boundary and the load-time invariant
// validation applied to whatever a Converter hands back — it never
// implements routing itself, representing the external collaborator as a
// narrow interface at the package boundary rather than a concrete
// client.

package planconv

import (
	"context"
	"fmt"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// RoutingSolution is the opaque upstream quote a Converter turns into an
// ExecutionPlan. Its shape is owned by the routing engine, not this module;
// PrivaDEX only needs enough to key and log the request.
type RoutingSolution struct {
	RequestId string
	Payload   []byte // routing-engine-defined encoding
}

// Converter produces a well-formed ExecutionPlan from a RoutingSolution.
// Implementations are expected to run outside this process; this module
// only ever consumes their output, via LoadPlan.
type Converter interface {
	Convert(ctx context.Context, solution RoutingSolution) (*plan.ExecutionPlan, error)
}

// LoadPlan runs solution through conv and validates the resulting plan's
// invariants before handing it to the rest of the system, rejecting
// malformed plans with InvalidPlan. A plan that fails validation is never
// written to the coordinator store — the caller should transition it to
// Aborted with plan.AbortReasonInvalidPlan without ever leasing or
// driving it.
func LoadPlan(ctx context.Context, conv Converter, solution RoutingSolution, escrowAddr func(types.ChainId) types.Address) (*plan.ExecutionPlan, error) {
	p, err := conv.Convert(ctx, solution)
	if err != nil {
		return nil, fmt.Errorf("planconv: convert %s: %w", solution.RequestId, err)
	}
	if err := p.Validate(escrowAddr); err != nil {
		return nil, fmt.Errorf("planconv: invalid plan: %w", err)
	}
	return p, nil
}
