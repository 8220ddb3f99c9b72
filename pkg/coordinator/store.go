// Copyright 2025 Certen Protocol
//
// Package coordinator implements the external coordinator KV store
// client: Get/ConditionalPut over an arbitrary document, where the
// condition is evaluated atomically against the stored document and the
// mutation applied only if it holds. Every
// higher-level operation in pkg/noncemgr, pkg/planassigner and
// pkg/prestartdedup is expressed as exactly one ConditionalPut call;
// callers re-read and retry their enclosing logic when it reports the
// ConditionFailed outcome.
package coordinator

import (
	"context"
	"errors"
)

// ErrConditionFailed names the failed-condition case as an error value.
// ConditionalPut itself does not return it: a condition that does not hold
// is reported as the ConditionFailed Outcome with a nil error.
var ErrConditionFailed = errors.New("coordinator: condition failed")

// ErrTransientNetwork is returned when the underlying store could not be
// reached within the call's deadline or suffered a retryable I/O error.
var ErrTransientNetwork = errors.New("coordinator: transient network error")

// Document is a generic keyed record as stored in the coordinator. Values
// are either scalars (string, bool, float64/int64, []byte), nested
// Documents, lists ([]any) or sets (map[string]bool) — the same shape Firestore
// and an in-memory map both speak natively.
type Document map[string]any

// Outcome reports whether a ConditionalPut actually applied its mutation.
type Outcome uint8

const (
	Applied Outcome = iota
	ConditionFailed
)

// Store is the coordinator KV store client interface. Implementations
// must make Get and ConditionalPut safe for concurrent use by multiple
// worker processes; ConditionalPut must be atomic with respect to the
// read-check-write cycle it performs.
type Store interface {
	// Get returns the current document at key, or an empty Document and no
	// error if the key does not exist.
	Get(ctx context.Context, key string) (Document, error)

	// ConditionalPut evaluates cond against the document currently stored
	// at key; if it holds, mut is applied and the result persisted. If it
	// does not hold, no write occurs and Outcome is ConditionFailed. The
	// returned Document is the document as it stood after the call
	// (post-mutation on Applied, unchanged on ConditionFailed).
	ConditionalPut(ctx context.Context, key string, cond ConditionExpr, mut MutationExpr) (Outcome, Document, error)
}
