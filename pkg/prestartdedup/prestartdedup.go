// Copyright 2025 Certen Protocol
//
// Package prestartdedup implements the PrestartDedup coordinator record
//: a single append-only set of consumed prestart
// transaction hashes, guarding against two plans racing to claim the same
// user deposit. Grounded on the same single-conditional-update idiom as
// pkg/planassigner and pkg/noncemgr.

package prestartdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/certen/independant-validator/pkg/coordinator"
)

func nowMs() int64 {
	return time.Now().UnixMilli()
}

const dedupKey = "prestart_dedup"

// Dedup guards against the same prestart tx hash being consumed by two
// different plans.
type Dedup struct {
	store coordinator.Store
}

func New(store coordinator.Store) *Dedup {
	return &Dedup{store: store}
}

// TryConsume attempts to add txHash to consumed_tx_hashes. ok is true if
// this call is the one that claimed it; false means another plan already
// consumed it.
func (d *Dedup) TryConsume(ctx context.Context, txHash string) (ok bool, err error) {
	doc, err := d.store.Get(ctx, dedupKey)
	if err != nil {
		return false, fmt.Errorf("prestartdedup: get: %w", err)
	}
	if setContains(doc, txHash) {
		return false, nil
	}

	outcome, _, err := d.store.ConditionalPut(ctx, dedupKey,
		coordinator.ConditionExpr{coordinator.SetNotContains("consumed_tx_hashes", txHash)},
		coordinator.MutationExpr{
			coordinator.AddToSetIfAbsent("consumed_tx_hashes", txHash),
			coordinator.SetAttr("last_update_epoch_ms", nowMs()),
		})
	if err != nil {
		return false, fmt.Errorf("prestartdedup: put: %w", err)
	}
	return outcome == coordinator.Applied, nil
}

func setContains(doc coordinator.Document, v string) bool {
	set, ok := doc["consumed_tx_hashes"]
	if !ok {
		return false
	}
	switch t := set.(type) {
	case []any:
		for _, e := range t {
			if fmt.Sprintf("%v", e) == v {
				return true
			}
		}
	case map[string]bool:
		return t[v]
	}
	return false
}
