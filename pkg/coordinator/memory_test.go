// Copyright 2025 Certen Protocol

package coordinator

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryStore_ConditionalPutAppliesAndRejects(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	outcome, doc, err := store.ConditionalPut(ctx, "k1", ConditionExpr{AttrAbsent("pending")}, MutationExpr{SetNestedAttr("pending.s1", 7)})
	if err != nil {
		t.Fatalf("ConditionalPut: %v", err)
	}
	if outcome != Applied {
		t.Fatalf("expected Applied, got %v", outcome)
	}
	if v, ok := getAttr(doc, "pending.s1"); !ok || v != 7 {
		t.Fatalf("expected pending.s1 == 7, got %v", doc)
	}

	// Same condition should now fail: pending is no longer absent.
	outcome, _, err = store.ConditionalPut(ctx, "k1", ConditionExpr{AttrAbsent("pending")}, MutationExpr{SetNestedAttr("pending.s2", 1)})
	if err != nil {
		t.Fatalf("ConditionalPut: %v", err)
	}
	if outcome != ConditionFailed {
		t.Fatalf("expected ConditionFailed, got %v", outcome)
	}
}

func TestMemoryStore_ConcurrentConditionalPutIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	applied := make([]bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, _, err := store.ConditionalPut(ctx, "lock",
				ConditionExpr{AttrAbsent("held")},
				MutationExpr{SetAttr("held", true)})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			applied[i] = outcome == Applied
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range applied {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one worker to win the conditional put, got %d", count)
	}
}
