// Package strategy defines how a change is extracted from the original and
// current value of an expression, and how successive changes combine.
package strategy

import (
	"fmt"

	"github.com/hanpama/computed/internal/expr"
)

// Strategy turns original/current values of type V into change results of
// type R.
type Strategy[V, R any] interface {
	Name() string
	// Value converts an evaluated expression result to V.
	Value(v any) (V, error)
	GetChange(original, current V) R
	IsNoChange(r R) bool
	// MergeDelta composes previous, taken first, with current into the net change.
	MergeDelta(previous, current R) R
	// Apply folds delta into a previously materialized value.
	Apply(base V, delta R) V
	// Invert returns the change that undoes r.
	Invert(r R) R
	// Incremental reports whether changes can be computed from the elements
	// that changed instead of whole collections.
	Incremental() bool
}

// SinceLast is implemented by strategies that can tell a result is the same
// as the one reported before, when MergeDelta alone cannot.
type SinceLast[R any] interface {
	Unchanged(previous, current R) bool
}

// Current reports the current value.
type Current[V any] struct {
	Equal func(a, b V) bool
}

func NewCurrent[V any]() *Current[V] {
	return &Current[V]{Equal: func(a, b V) bool { return expr.Equals(a, b) }}
}

func (*Current[V]) Name() string { return "current" }

func (*Current[V]) Value(v any) (V, error) { return valueOf[V](v) }

func (*Current[V]) GetChange(_, current V) V { return current }

func (*Current[V]) IsNoChange(V) bool { return false }

func (*Current[V]) MergeDelta(_, current V) V { return current }

func (*Current[V]) Apply(_ V, delta V) V { return delta }

func (*Current[V]) Invert(r V) V { return r }

func (*Current[V]) Incremental() bool { return false }

func (s *Current[V]) Unchanged(previous, current V) bool {
	return s.Equal != nil && s.Equal(previous, current)
}

// Void only signals that something changed.
type Void struct{}

func (Void) Name() string { return "void" }

func (Void) Value(any) (struct{}, error) { return struct{}{}, nil }

func (Void) GetChange(_, _ struct{}) struct{} { return struct{}{} }

func (Void) IsNoChange(struct{}) bool { return false }

func (Void) MergeDelta(_, _ struct{}) struct{} { return struct{}{} }

func (Void) Apply(base struct{}, _ struct{}) struct{} { return base }

func (Void) Invert(r struct{}) struct{} { return r }

func (Void) Incremental() bool { return false }

// Pair is a change result carrying both sides.
type Pair[V any] struct {
	Original V
	Current  V
}

// ValuePair reports the original and current value.
type ValuePair[V any] struct {
	Equal func(a, b V) bool
}

func NewValuePair[V any]() *ValuePair[V] {
	return &ValuePair[V]{Equal: func(a, b V) bool { return expr.Equals(a, b) }}
}

func (*ValuePair[V]) Name() string { return "pair" }

func (*ValuePair[V]) Value(v any) (V, error) { return valueOf[V](v) }

func (*ValuePair[V]) GetChange(original, current V) Pair[V] {
	return Pair[V]{Original: original, Current: current}
}

func (s *ValuePair[V]) IsNoChange(r Pair[V]) bool {
	return s.Equal != nil && s.Equal(r.Original, r.Current)
}

func (*ValuePair[V]) MergeDelta(previous, current Pair[V]) Pair[V] {
	return Pair[V]{Original: previous.Original, Current: current.Current}
}

func (*ValuePair[V]) Apply(_ V, delta Pair[V]) V { return delta.Current }

func (*ValuePair[V]) Invert(r Pair[V]) Pair[V] {
	return Pair[V]{Original: r.Current, Current: r.Original}
}

func (*ValuePair[V]) Incremental() bool { return false }

func valueOf[V any](v any) (V, error) {
	var zero V
	if v == nil {
		return zero, nil
	}
	out, ok := expr.Normalize(v).(V)
	if !ok {
		return zero, fmt.Errorf("value %v (%T) is not a %T", v, v, zero)
	}
	return out, nil
}
