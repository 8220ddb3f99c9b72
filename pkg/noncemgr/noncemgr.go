// Copyright 2025 Certen Protocol
//
// Package noncemgr implements the Nonce Manager: per
// (chain_id, signer) nonce allocation, reclaim and release, expressed
// entirely as conditional updates against the coordinator store so that
// concurrent workers contend on the store rather than in-process state.
//
// The reserved/submitted/confirmed/dropped lifecycle is tracked through
// the store's atomic ConditionalPut rather than an in-process mutex, since
// state must be shared across worker processes.

package noncemgr

import (
	"context"
	"fmt"

	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/types"
)

// Manager allocates and reclaims nonces for one (chain, signer) pair per
// instance. Callers construct one Manager per pair they drive.
type Manager struct {
	store  coordinator.Store
	chain  types.ChainId
	signer types.Address
}

func New(store coordinator.Store, chain types.ChainId, signer types.Address) *Manager {
	return &Manager{store: store, chain: chain, signer: signer}
}

func (m *Manager) key() string {
	return fmt.Sprintf("nonce/%d/%s", m.chain, m.signer.Hex())
}

// ChainClient is the subset of chainadapter.Adapter the Nonce Manager needs
// to reconstruct state after a cold start.
type ChainClient interface {
	GetNextAccountNonce(ctx context.Context, signer types.Address) (uint64, error)
	CurrentBlockNumber(ctx context.Context) (uint64, error)
}

// Allocate returns the nonce to use for step, performing whichever of
// Cases 1-4 currently applies. It retries ConditionFailed outcomes against
// a fresh read, since concurrent workers may race the same key.
func (m *Manager) Allocate(ctx context.Context, chain ChainClient, stepID types.StepId) (uint64, error) {
	stepKey := stepID.String()

	for {
		doc, err := m.store.Get(ctx, m.key())
		if err != nil {
			return 0, fmt.Errorf("noncemgr: get %s: %w", m.key(), err)
		}

		pendingSize := collectionSize(doc, "pending")
		droppedSize := collectionSize(doc, "dropped_nonces")
		hasAssignment, assigned := pendingHas(doc, stepKey)

		switch {
		case hasAssignment:
			// Case 3 — Read existing: no write.
			return assigned, nil

		case pendingSize == 0:
			// Case 1 — Cold start / cleanup.
			onChainNext, err := chain.GetNextAccountNonce(ctx, m.signer)
			if err != nil {
				return 0, fmt.Errorf("noncemgr: cold start query nonce: %w", err)
			}
			curBlock, err := chain.CurrentBlockNumber(ctx)
			if err != nil {
				return 0, fmt.Errorf("noncemgr: cold start query block: %w", err)
			}

			outcome, _, err := m.store.ConditionalPut(ctx, m.key(),
				coordinator.ConditionExpr{coordinator.CollectionSize("pending", coordinator.CmpEq, 0)},
				coordinator.MutationExpr{
					coordinator.SetAttr("block_at_last_confirmed_nonce", curBlock),
					coordinator.SetAttr("dropped_nonces", []any{}),
					coordinator.SetNestedAttr("pending."+stepKey, onChainNext),
					coordinator.SetAttr("next_nonce", onChainNext+1),
				})
			if err != nil {
				return 0, fmt.Errorf("noncemgr: cold start put: %w", err)
			}
			if outcome == coordinator.Applied {
				return onChainNext, nil
			}
			continue // lost the race; re-read and pick again

		case droppedSize == 0:
			// Case 2 — Fresh assignment.
			nextNonce, ok := doc["next_nonce"].(uint64)
			if !ok {
				nextNonce = uint64(toFloatOr0(doc["next_nonce"]))
			}
			outcome, _, err := m.store.ConditionalPut(ctx, m.key(),
				coordinator.ConditionExpr{
					coordinator.AttrAbsent("pending." + stepKey),
					coordinator.CollectionSize("dropped_nonces", coordinator.CmpEq, 0),
					coordinator.CollectionSize("pending", coordinator.CmpGt, 0),
				},
				coordinator.MutationExpr{
					coordinator.SetNestedAttr("pending."+stepKey, nextNonce),
					coordinator.SetAttr("next_nonce", nextNonce+1),
				})
			if err != nil {
				return 0, fmt.Errorf("noncemgr: fresh assignment put: %w", err)
			}
			if outcome == coordinator.Applied {
				return nextNonce, nil
			}
			continue

		default:
			// Case 4 — Reclaim dropped.
			dropped := dropList(doc)
			if len(dropped) == 0 {
				continue // raced: someone else reclaimed already; re-read
			}
			reclaimed := dropped[0]
			rest := append([]any{}, dropped[1:]...)

			outcome, _, err := m.store.ConditionalPut(ctx, m.key(),
				coordinator.ConditionExpr{
					coordinator.AttrAbsent("pending." + stepKey),
					coordinator.CollectionSize("dropped_nonces", coordinator.CmpGt, 0),
					coordinator.CollectionSize("pending", coordinator.CmpGt, 0),
				},
				coordinator.MutationExpr{
					coordinator.SetNestedAttr("pending."+stepKey, reclaimed),
					coordinator.SetAttr("dropped_nonces", rest),
				})
			if err != nil {
				return 0, fmt.Errorf("noncemgr: reclaim put: %w", err)
			}
			if outcome == coordinator.Applied {
				return toUint64(reclaimed), nil
			}
			continue
		}
	}
}

// Finalize removes step's nonce from pending once its transaction has
// finalized, recording curBlock as the new high-water mark.
func (m *Manager) Finalize(ctx context.Context, stepID types.StepId, curBlock uint64) error {
	stepKey := stepID.String()
	for {
		outcome, _, err := m.store.ConditionalPut(ctx, m.key(),
			coordinator.ConditionExpr{coordinator.AttrExists("pending." + stepKey)},
			coordinator.MutationExpr{
				coordinator.RemoveNestedAttr("pending." + stepKey),
				coordinator.SetAttr("block_at_last_confirmed_nonce", curBlock),
			})
		if err != nil {
			return fmt.Errorf("noncemgr: finalize: %w", err)
		}
		if outcome == coordinator.Applied {
			return nil
		}
		// ConditionFailed here almost always means the step was already
		// finalized by a racing worker.
		doc, err := m.store.Get(ctx, m.key())
		if err != nil {
			return fmt.Errorf("noncemgr: finalize re-read: %w", err)
		}
		if ok, _ := pendingHas(doc, stepKey); !ok {
			return nil
		}
	}
}

// Drop moves step's nonce from pending into dropped_nonces, to be reclaimed
// by a later Allocate call.
func (m *Manager) Drop(ctx context.Context, stepID types.StepId) error {
	stepKey := stepID.String()
	for {
		doc, err := m.store.Get(ctx, m.key())
		if err != nil {
			return fmt.Errorf("noncemgr: drop get: %w", err)
		}
		nonce, ok := pendingHas(doc, stepKey)
		if !ok {
			return nil // already reclaimed/finalized by a racing worker
		}

		dropped := append(dropList(doc), nonce)
		outcome, _, err := m.store.ConditionalPut(ctx, m.key(),
			coordinator.ConditionExpr{coordinator.AttrExists("pending." + stepKey)},
			coordinator.MutationExpr{
				coordinator.RemoveNestedAttr("pending." + stepKey),
				coordinator.SetAttr("dropped_nonces", dropped),
			})
		if err != nil {
			return fmt.Errorf("noncemgr: drop put: %w", err)
		}
		if outcome == coordinator.Applied {
			return nil
		}
		continue
	}
}

func collectionSize(doc coordinator.Document, path string) int {
	v, ok := doc[path]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case coordinator.Document:
		return len(t)
	case []any:
		return len(t)
	default:
		return 0
	}
}

func pendingHas(doc coordinator.Document, stepKey string) (uint64, bool) {
	top, ok := doc["pending"]
	if !ok {
		return 0, false
	}
	m, ok := top.(map[string]any)
	if !ok {
		d, isDoc := top.(coordinator.Document)
		if !isDoc {
			return 0, false
		}
		m = d
	}
	v, ok := m[stepKey]
	if !ok {
		return 0, false
	}
	return toUint64(v), true
}

func dropList(doc coordinator.Document) []any {
	v, ok := doc["dropped_nonces"]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}

func toUint64(v any) uint64 {
	switch t := v.(type) {
	case uint64:
		return t
	case int:
		return uint64(t)
	case int64:
		return uint64(t)
	case float64:
		return uint64(t)
	default:
		return 0
	}
}

func toFloatOr0(v any) float64 {
	f, _ := v.(float64)
	return f
}
