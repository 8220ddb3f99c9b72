// Copyright 2025 Certen Protocol

package planassigner

import (
	"context"
	"testing"
	"time"

	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/types"
)

func TestAcquireRefreshRelease(t *testing.T) {
	store := coordinator.NewMemoryStore()
	ctx := context.Background()
	lease := New(store, time.Minute)
	planID := types.NewPlanId()

	ok, leaseEpoch, err := lease.Acquire(ctx, planID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	// A second worker cannot acquire while the lease is fresh.
	ok2, _, err := lease.Acquire(ctx, planID)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second acquire to fail while lease is held")
	}

	time.Sleep(2 * time.Millisecond) // ensure the refreshed epoch differs from leaseEpoch
	if ok, err := lease.Refresh(ctx, planID, leaseEpoch); err != nil || !ok {
		t.Fatalf("expected refresh to succeed, got ok=%v err=%v", ok, err)
	}

	// Refresh against a stale epoch must fail (lease lost).
	if ok, err := lease.Refresh(ctx, planID, leaseEpoch); err != nil {
		t.Fatalf("stale refresh: %v", err)
	} else if ok {
		t.Fatalf("expected stale refresh to fail")
	}

	if err := lease.Release(ctx, planID); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok3, _, err := lease.Acquire(ctx, planID)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok3 {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestAcquireAfterLeaseExpiry(t *testing.T) {
	store := coordinator.NewMemoryStore()
	ctx := context.Background()
	lease := New(store, -1*time.Second) // already-expired lease duration, for the test
	planID := types.NewPlanId()

	ok, _, err := lease.Acquire(ctx, planID)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	// With a negative lease duration every lease is immediately stale, so a
	// second acquire must succeed without an intervening Release.
	ok2, _, err := lease.Acquire(ctx, planID)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if !ok2 {
		t.Fatalf("expected acquire to succeed once the lease is expired")
	}
}

func TestDeregisterRemovesPlan(t *testing.T) {
	store := coordinator.NewMemoryStore()
	ctx := context.Background()
	lease := New(store, time.Minute)
	planID := types.NewPlanId()

	if _, _, err := lease.Acquire(ctx, planID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lease.Deregister(ctx, planID); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	ok, _, err := lease.Acquire(ctx, planID)
	if err != nil {
		t.Fatalf("acquire after deregister: %v", err)
	}
	if !ok {
		t.Fatalf("expected a clean acquire after deregister")
	}
}

func TestListPlans(t *testing.T) {
	store := coordinator.NewMemoryStore()
	ctx := context.Background()
	lease := New(store, time.Minute)

	p1, p2 := types.NewPlanId(), types.NewPlanId()
	if _, _, err := lease.Acquire(ctx, p1); err != nil {
		t.Fatalf("acquire p1: %v", err)
	}
	if _, _, err := lease.Acquire(ctx, p2); err != nil {
		t.Fatalf("acquire p2: %v", err)
	}

	plans, err := lease.ListPlans(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d: %v", len(plans), plans)
	}
}
