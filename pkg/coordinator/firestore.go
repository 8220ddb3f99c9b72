// Copyright 2025 Certen Protocol
//
// FirestoreStore implements coordinator.Store over Google Cloud Firestore,
// wrapping firestore.Client.RunTransaction for atomic writes: a
// read-check-write conditional update built on a Firestore transaction as
// the atomicity boundary, rather than a fire-and-forget Set/merge call.

package coordinator

import (
	"context"
	"fmt"

	gcpfirestore "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore stores each coordinator key as one document in a single
// Firestore collection.
type FirestoreStore struct {
	client     *gcpfirestore.Client
	collection string
}

func NewFirestoreStore(client *gcpfirestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "privadex_coordinator"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (f *FirestoreStore) docRef(key string) *gcpfirestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(key)
}

func (f *FirestoreStore) Get(ctx context.Context, key string) (Document, error) {
	snap, err := f.docRef(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, nil
		}
		return nil, fmt.Errorf("coordinator: firestore get %q: %w", key, err)
	}
	var raw map[string]any
	if err := snap.DataTo(&raw); err != nil {
		return nil, fmt.Errorf("coordinator: firestore decode %q: %w", key, err)
	}
	return Document(raw), nil
}

func (f *FirestoreStore) ConditionalPut(ctx context.Context, key string, cond ConditionExpr, mut MutationExpr) (Outcome, Document, error) {
	var outcome Outcome
	var result Document

	ref := f.docRef(key)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		current := Document{}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return fmt.Errorf("coordinator: firestore tx get %q: %w", key, err)
			}
		} else {
			var raw map[string]any
			if err := snap.DataTo(&raw); err != nil {
				return fmt.Errorf("coordinator: firestore tx decode %q: %w", key, err)
			}
			current = Document(raw)
		}

		if !cond.Evaluate(current) {
			outcome = ConditionFailed
			result = cloneDocument(current)
			return nil
		}

		next, err := mut.Apply(current)
		if err != nil {
			return err
		}

		if err := tx.Set(ref, map[string]any(next)); err != nil {
			return fmt.Errorf("coordinator: firestore tx set %q: %w", key, err)
		}

		outcome = Applied
		result = next
		return nil
	})
	if err != nil {
		return ConditionFailed, nil, err
	}
	return outcome, result, nil
}
