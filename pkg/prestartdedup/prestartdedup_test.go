// Copyright 2025 Certen Protocol

package prestartdedup

import (
	"context"
	"testing"

	"github.com/certen/independant-validator/pkg/coordinator"
)

func TestTryConsume_SecondPlanRejected(t *testing.T) {
	store := coordinator.NewMemoryStore()
	ctx := context.Background()
	d := New(store)

	ok1, err := d.TryConsume(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !ok1 {
		t.Fatalf("expected first plan to claim the tx hash")
	}

	ok2, err := d.TryConsume(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second plan to be rejected (prestart replay)")
	}
}

func TestTryConsume_DistinctHashesBothClaimed(t *testing.T) {
	store := coordinator.NewMemoryStore()
	ctx := context.Background()
	d := New(store)

	ok1, _ := d.TryConsume(ctx, "0xaaaa")
	ok2, _ := d.TryConsume(ctx, "0xbbbb")
	if !ok1 || !ok2 {
		t.Fatalf("expected distinct tx hashes to both be claimed, got %v %v", ok1, ok2)
	}
}
