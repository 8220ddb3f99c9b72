// Copyright 2025 Certen Protocol
//
// Requires a live Postgres reachable via PRIVADEX_TEST_DB; skipped otherwise.

package opstore

import (
	"context"
	"os"
	"testing"

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	connStr := os.Getenv("PRIVADEX_TEST_DB")
	if connStr == "" {
		t.Skip("PRIVADEX_TEST_DB not set; skipping opstore integration test")
	}
	s, err := New(&config.Config{DatabaseURL: connStr, DBMaxOpenConns: 5, DBMaxIdleConns: 2})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := testStore(t)
	defer s.Close()
	ctx := context.Background()

	p := &plan.ExecutionPlan{
		PlanId:       types.NewPlanId(),
		UserSrcAddr:  types.EVMAddress([20]byte{1}),
		UserDestAddr: types.EVMAddress([20]byte{2}),
		Status:       plan.PlanInProgress,
	}
	if err := s.Snapshot(ctx, p); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	got, err := s.Get(ctx, p.PlanId.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != "in_progress" {
		t.Fatalf("expected in_progress snapshot, got %+v", got)
	}

	// Re-snapshotting the same plan id is an upsert, not a duplicate row.
	p.Status = plan.PlanConfirmed
	if err := s.Snapshot(ctx, p); err != nil {
		t.Fatalf("re-snapshot: %v", err)
	}
	got2, err := s.Get(ctx, p.PlanId.String())
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got2.Status != "confirmed" {
		t.Fatalf("expected updated status confirmed, got %s", got2.Status)
	}
}
