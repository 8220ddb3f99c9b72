// Copyright 2025 Certen Protocol
//
// Package planassigner implements the Plan Assigner: lease
// acquisition over the single PlanAllocation coordinator record, so that
// multiple worker processes can poll for work without a central dispatcher.
// Uses the same conditional-update idiom as pkg/noncemgr, applied here to
// lease ownership instead of nonce allocation.

package planassigner

import (
	"context"
	"fmt"
	"time"

	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/types"
)

const planAllocationKey = "plans"

// DefaultLease is the default lease duration.
const DefaultLease = 60 * time.Second

func New(store coordinator.Store, lease time.Duration) *Lease {
	return &Lease{store: store, leaseMs: lease.Milliseconds()}
}

// Lease is the Plan Assigner. The name reflects what it hands out:
// time-bounded ownership of a plan_id for one worker.
type Lease struct {
	store   coordinator.Store
	leaseMs int64
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Acquire attempts to take ownership of planID. ok is false if another
// worker currently holds an unexpired lease.
func (l *Lease) Acquire(ctx context.Context, planID types.PlanId) (ok bool, leaseEpochMs int64, err error) {
	now := nowMs()
	idKey := planID.String()

	doc, err := l.store.Get(ctx, planAllocationKey)
	if err != nil {
		return false, 0, fmt.Errorf("planassigner: get: %w", err)
	}

	allocated := boolAt(doc, "allocated", idKey)
	leaseAt := int64At(doc, "lease_epoch_ms", idKey)

	if allocated && leaseAt >= now-l.leaseMs {
		return false, 0, nil // held by someone else, not yet expired
	}

	// The acquire condition is "allocated[id] == false OR lease_epoch_ms[id]
	// < now - lease_ms", which ConditionExpr cannot express directly (it
	// only ever needs AND of primitives). Instead this acquires via
	// optimistic CAS on the lease_epoch_ms value just observed: the write
	// only applies if nothing changed that attribute since Get, which is
	// exactly the race MemoryStore/FirestoreStore need to reject.
	leaseCond := coordinator.AttrAbsent("lease_epoch_ms." + idKey)
	if _, ok := lookupNested(doc, "lease_epoch_ms", idKey); ok {
		leaseCond = coordinator.AttrEquals("lease_epoch_ms."+idKey, leaseAt)
	}

	outcome, next, err := l.store.ConditionalPut(ctx, planAllocationKey,
		coordinator.ConditionExpr{leaseCond},
		coordinator.MutationExpr{
			coordinator.SetNestedAttr("allocated."+idKey, true),
			coordinator.SetNestedAttr("lease_epoch_ms."+idKey, now),
			coordinator.AddToSetIfAbsent("plans", idKey),
		})
	if err != nil {
		return false, 0, fmt.Errorf("planassigner: acquire put: %w", err)
	}
	if outcome != coordinator.Applied {
		return false, 0, nil
	}
	return true, int64At(next, "lease_epoch_ms", idKey), nil
}

// Refresh extends an already-held lease. The caller must pass the
// leaseEpochMs it last observed; if another worker has since refreshed or
// reclaimed the plan, Refresh fails and the caller must stop working on it
// this iteration.
func (l *Lease) Refresh(ctx context.Context, planID types.PlanId, lastSeenLeaseEpochMs int64) (ok bool, err error) {
	idKey := planID.String()
	now := nowMs()

	outcome, _, err := l.store.ConditionalPut(ctx, planAllocationKey,
		coordinator.ConditionExpr{coordinator.AttrEquals("lease_epoch_ms."+idKey, lastSeenLeaseEpochMs)},
		coordinator.MutationExpr{
			coordinator.SetNestedAttr("allocated."+idKey, true),
			coordinator.SetNestedAttr("lease_epoch_ms."+idKey, now),
		})
	if err != nil {
		return false, fmt.Errorf("planassigner: refresh: %w", err)
	}
	return outcome == coordinator.Applied, nil
}

// Release ends the current iteration's ownership unconditionally.
func (l *Lease) Release(ctx context.Context, planID types.PlanId) error {
	idKey := planID.String()
	now := nowMs()

	_, _, err := l.store.ConditionalPut(ctx, planAllocationKey,
		coordinator.ConditionExpr{}, // unconditional
		coordinator.MutationExpr{
			coordinator.SetNestedAttr("allocated."+idKey, false),
			coordinator.SetNestedAttr("lease_epoch_ms."+idKey, now),
			coordinator.AddToSetIfAbsent("plans", idKey),
		})
	if err != nil {
		return fmt.Errorf("planassigner: release: %w", err)
	}
	return nil
}

// Deregister removes planID from the allocation record entirely, once its
// plan has reached a terminal status: both status maps and the "plans" set
// itself, so ListPlans stops surfacing it on every subsequent iteration.
func (l *Lease) Deregister(ctx context.Context, planID types.PlanId) error {
	idKey := planID.String()
	_, _, err := l.store.ConditionalPut(ctx, planAllocationKey,
		coordinator.ConditionExpr{},
		coordinator.MutationExpr{
			coordinator.RemoveNestedAttr("allocated." + idKey),
			coordinator.RemoveNestedAttr("lease_epoch_ms." + idKey),
			coordinator.RemoveFromSet("plans", idKey),
		})
	if err != nil {
		return fmt.Errorf("planassigner: deregister: %w", err)
	}
	return nil
}

// ListPlans enumerates every plan_id currently tracked in the allocation
// record, so workers can discover work to attempt Acquire against.
func (l *Lease) ListPlans(ctx context.Context) ([]string, error) {
	doc, err := l.store.Get(ctx, planAllocationKey)
	if err != nil {
		return nil, fmt.Errorf("planassigner: list: %w", err)
	}
	set, ok := doc["plans"]
	if !ok {
		return nil, nil
	}
	switch t := set.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			out = append(out, fmt.Sprintf("%v", v))
		}
		return out, nil
	case map[string]bool:
		out := make([]string, 0, len(t))
		for k := range t {
			out = append(out, k)
		}
		return out, nil
	default:
		return nil, nil
	}
}

// nestedMap returns doc[top] as a map, whether the store handed it back as
// a plain map or as a nested coordinator.Document.
func nestedMap(doc coordinator.Document, top string) (map[string]any, bool) {
	switch m := doc[top].(type) {
	case map[string]any:
		return m, true
	case coordinator.Document:
		return m, true
	default:
		return nil, false
	}
}

func lookupNested(doc coordinator.Document, top, key string) (any, bool) {
	m, ok := nestedMap(doc, top)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func boolAt(doc coordinator.Document, top, key string) bool {
	m, ok := nestedMap(doc, top)
	if !ok {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func int64At(doc coordinator.Document, top, key string) int64 {
	m, ok := nestedMap(doc, top)
	if !ok {
		return 0
	}
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
