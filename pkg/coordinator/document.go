// Copyright 2025 Certen Protocol

package coordinator

import (
	"fmt"
	"strings"
)

// PredicateKind is the closed set of condition primitives a
// ConditionalPut can check: attribute existence, attribute equality,
// list-size comparison, set membership.
type PredicateKind uint8

const (
	PredAttrExists PredicateKind = iota
	PredAttrEquals
	PredCollectionSizeCmp
	PredSetContains
	PredSetNotContains
)

// CompareOp is the comparison used by PredCollectionSizeCmp.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpLt
	CmpGt
	CmpGe
	CmpLe
)

// Predicate is a single condition term. ConditionExpr AND-s a list of
// these together, which is sufficient for every condition this package
// needs to express — none requires OR or NOT at the top level.
type Predicate struct {
	Kind  PredicateKind
	Path  string
	Value any
	N     int
	Op    CompareOp
}

type ConditionExpr []Predicate

func AttrExists(path string) Predicate  { return Predicate{Kind: PredAttrExists, Path: path, Value: true} }
func AttrAbsent(path string) Predicate  { return Predicate{Kind: PredAttrExists, Path: path, Value: false} }
func AttrEquals(path string, v any) Predicate {
	return Predicate{Kind: PredAttrEquals, Path: path, Value: v}
}
func CollectionSize(path string, op CompareOp, n int) Predicate {
	return Predicate{Kind: PredCollectionSizeCmp, Path: path, Op: op, N: n}
}
func SetContains(path string, v any) Predicate {
	return Predicate{Kind: PredSetContains, Path: path, Value: v}
}
func SetNotContains(path string, v any) Predicate {
	return Predicate{Kind: PredSetNotContains, Path: path, Value: v}
}

// MutationKind is the closed set of mutation primitives a ConditionalPut
// can apply.
type MutationKind uint8

const (
	MutSetAttr MutationKind = iota
	MutSetNestedAttr
	MutRemoveNestedAttr
	MutAppendToList
	MutRemoveListHead
	MutAddToSetIfAbsent
	MutRemoveFromSet
)

type Mutation struct {
	Kind  MutationKind
	Path  string
	Value any
}

type MutationExpr []Mutation

func SetAttr(path string, v any) Mutation       { return Mutation{Kind: MutSetAttr, Path: path, Value: v} }
func SetNestedAttr(path string, v any) Mutation { return Mutation{Kind: MutSetNestedAttr, Path: path, Value: v} }
func RemoveNestedAttr(path string) Mutation     { return Mutation{Kind: MutRemoveNestedAttr, Path: path} }
func AppendToList(path string, v any) Mutation  { return Mutation{Kind: MutAppendToList, Path: path, Value: v} }
func RemoveListHead(path string) Mutation       { return Mutation{Kind: MutRemoveListHead, Path: path} }
func AddToSetIfAbsent(path string, v any) Mutation {
	return Mutation{Kind: MutAddToSetIfAbsent, Path: path, Value: v}
}
func RemoveFromSet(path string, v any) Mutation {
	return Mutation{Kind: MutRemoveFromSet, Path: path, Value: v}
}

// splitPath breaks "pending.abc123" into ["pending", "abc123"]. Nested
// paths are at most two levels deep across every coordinator record this
// package stores (NonceState.pending[step], PlanAllocation.allocated[plan]),
// so a simple split is all document navigation needs.
func splitPath(path string) []string {
	return strings.SplitN(path, ".", 2)
}

// getAttr resolves a (possibly nested) path against doc. ok is false if
// any segment is missing.
func getAttr(doc Document, path string) (any, bool) {
	parts := splitPath(path)
	top, ok := doc[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return top, true
	}
	nested, ok := top.(Document)
	if !ok {
		if m, ok2 := top.(map[string]any); ok2 {
			nested = Document(m)
		} else {
			return nil, false
		}
	}
	v, ok := nested[parts[1]]
	return v, ok
}

// collectionLen returns the size of a list ([]any) or map (Document /
// map[string]any / map[string]bool) attribute, as required by
// PredCollectionSizeCmp. Absent attributes have length 0.
func collectionLen(doc Document, path string) int {
	v, ok := getAttr(doc, path)
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case []any:
		return len(t)
	case Document:
		return len(t)
	case map[string]any:
		return len(t)
	case map[string]bool:
		return len(t)
	default:
		return 0
	}
}

func compare(actual int, op CompareOp, n int) bool {
	switch op {
	case CmpEq:
		return actual == n
	case CmpLt:
		return actual < n
	case CmpGt:
		return actual > n
	case CmpGe:
		return actual >= n
	case CmpLe:
		return actual <= n
	default:
		return false
	}
}

// valueEqual compares two attribute values with the loose equality that's
// adequate for the scalar types (string, uint64, int, bool) used
// throughout the coordinator records — no document in this schema stores
// attributes that need deep structural comparison.
func valueEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// Evaluate reports whether every predicate in cond holds against doc.
func (cond ConditionExpr) Evaluate(doc Document) bool {
	for _, p := range cond {
		if !evaluatePredicate(doc, p) {
			return false
		}
	}
	return true
}

func evaluatePredicate(doc Document, p Predicate) bool {
	switch p.Kind {
	case PredAttrExists:
		_, ok := getAttr(doc, p.Path)
		want, _ := p.Value.(bool)
		return ok == want
	case PredAttrEquals:
		v, ok := getAttr(doc, p.Path)
		if !ok {
			return false
		}
		return valueEqual(v, p.Value)
	case PredCollectionSizeCmp:
		return compare(collectionLen(doc, p.Path), p.Op, p.N)
	case PredSetContains, PredSetNotContains:
		present := setContains(doc, p.Path, p.Value)
		if p.Kind == PredSetContains {
			return present
		}
		return !present
	default:
		return false
	}
}

func setContains(doc Document, path string, value any) bool {
	v, ok := getAttr(doc, path)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case map[string]bool:
		_, found := t[fmt.Sprintf("%v", value)]
		return found
	case Document:
		_, found := t[fmt.Sprintf("%v", value)]
		return found
	case map[string]any:
		_, found := t[fmt.Sprintf("%v", value)]
		return found
	case []any:
		for _, item := range t {
			if valueEqual(item, value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Apply mutates a deep-ish copy of doc according to mut and returns it.
// The original doc is left untouched so callers can compare before/after
// or retry against a freshly-read document.
func (mut MutationExpr) Apply(doc Document) (Document, error) {
	out := cloneDocument(doc)
	for _, m := range mut {
		if err := applyMutation(out, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return cloneDocument(t)
	case map[string]any:
		return cloneDocument(Document(t))
	case map[string]bool:
		out := make(map[string]bool, len(t))
		for k, vv := range t {
			out[k] = vv
		}
		return out
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func applyMutation(doc Document, m Mutation) error {
	switch m.Kind {
	case MutSetAttr:
		doc[m.Path] = m.Value
		return nil
	case MutSetNestedAttr:
		parts := splitPath(m.Path)
		if len(parts) != 2 {
			return fmt.Errorf("coordinator: set_nested_attr requires a dotted path, got %q", m.Path)
		}
		nested := asDocument(doc[parts[0]])
		nested[parts[1]] = m.Value
		doc[parts[0]] = nested
		return nil
	case MutRemoveNestedAttr:
		parts := splitPath(m.Path)
		if len(parts) != 2 {
			return fmt.Errorf("coordinator: remove_nested_attr requires a dotted path, got %q", m.Path)
		}
		nested := asDocument(doc[parts[0]])
		delete(nested, parts[1])
		doc[parts[0]] = nested
		return nil
	case MutAppendToList:
		list := asList(doc[m.Path])
		doc[m.Path] = append(list, m.Value)
		return nil
	case MutRemoveListHead:
		list := asList(doc[m.Path])
		if len(list) > 0 {
			doc[m.Path] = append([]any{}, list[1:]...)
		}
		return nil
	case MutAddToSetIfAbsent:
		set := asSet(doc[m.Path])
		set[fmt.Sprintf("%v", m.Value)] = true
		doc[m.Path] = set
		return nil
	case MutRemoveFromSet:
		set := asSet(doc[m.Path])
		delete(set, fmt.Sprintf("%v", m.Value))
		doc[m.Path] = set
		return nil
	default:
		return fmt.Errorf("coordinator: unknown mutation kind %d", m.Kind)
	}
}

func asDocument(v any) Document {
	switch t := v.(type) {
	case Document:
		return t
	case map[string]any:
		return Document(t)
	default:
		return Document{}
	}
}

func asList(v any) []any {
	if t, ok := v.([]any); ok {
		return t
	}
	return []any{}
}

func asSet(v any) map[string]bool {
	switch t := v.(type) {
	case map[string]bool:
		return t
	case Document:
		out := make(map[string]bool, len(t))
		for k := range t {
			out[k] = true
		}
		return out
	default:
		return map[string]bool{}
	}
}
