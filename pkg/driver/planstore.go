// Copyright 2025 Certen Protocol
//
// The plan documents a Driver Loop advances aren't one of the coordinator's
// three allocation-bookkeeping namespaces (NonceState, PlanAllocation,
// PrestartDedup). The ExecutionPlan itself still has to live somewhere
// both workers can reach, so this module stores it in the same
// coordinator store under a fourth namespace, "plan/{plan_id}", keeping
// the coordinator store the sole shared mutable resource in the
// implementation as well as on paper.

package driver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// PlanStore loads and persists full ExecutionPlan documents, keyed by
// PlanId. The Driver Loop is the only writer; opstore.Store is a
// downstream read-only copy fed from the same snapshot.
type PlanStore interface {
	Load(ctx context.Context, id types.PlanId) (*plan.ExecutionPlan, error)
	Save(ctx context.Context, p *plan.ExecutionPlan) error
}

// CoordinatorPlanStore implements PlanStore over a coordinator.Store,
// serializing the plan as JSON into a single document attribute so it can
// use the same Get/ConditionalPut primitives as every other coordinator
// record.
type CoordinatorPlanStore struct {
	store coordinator.Store
}

func NewCoordinatorPlanStore(store coordinator.Store) *CoordinatorPlanStore {
	return &CoordinatorPlanStore{store: store}
}

func planKey(id types.PlanId) string {
	return "plan/" + id.String()
}

func (s *CoordinatorPlanStore) Load(ctx context.Context, id types.PlanId) (*plan.ExecutionPlan, error) {
	doc, err := s.store.Get(ctx, planKey(id))
	if err != nil {
		return nil, fmt.Errorf("planstore: get %s: %w", id, err)
	}
	raw, ok := doc["data"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("planstore: no plan document for %s", id)
	}
	var p plan.ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("planstore: decode %s: %w", id, err)
	}
	return &p, nil
}

// Save unconditionally overwrites the plan document. Writes only ever
// happen while the caller holds the plan's lease, so there is no
// concurrent writer to race against.
func (s *CoordinatorPlanStore) Save(ctx context.Context, p *plan.ExecutionPlan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("planstore: encode %s: %w", p.PlanId, err)
	}
	_, _, err = s.store.ConditionalPut(ctx, planKey(p.PlanId),
		coordinator.ConditionExpr{},
		coordinator.MutationExpr{coordinator.SetAttr("data", string(body))})
	if err != nil {
		return fmt.Errorf("planstore: save %s: %w", p.PlanId, err)
	}
	return nil
}
