package strategy

import (
	"fmt"

	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
)

// SetChange lists the elements that entered and left a collection.
type SetChange[E any] struct {
	Added   []E
	Removed []E
}

// Set reports the symmetric difference of the original and current
// collection. Elements are identified by Key.
type Set[E any] struct {
	Key         func(E) any
	incremental bool
}

// NewSet identifies entities by their key and other values by equality.
func NewSet[E any]() *Set[E] { return &Set[E]{Key: elementKey[E]} }

// NewSetIncremental is Set evaluated over changed elements only.
func NewSetIncremental[E any]() *Set[E] { return &Set[E]{Key: elementKey[E], incremental: true} }

func elementKey[E any](e E) any {
	switch v := expr.Normalize(any(e)).(type) {
	case host.Entity:
		return v.Key()
	case int64:
		return float64(v)
	case nil, string, bool, float64:
		return v
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

func (s *Set[E]) Name() string {
	if s.incremental {
		return "set-incremental"
	}
	return "set"
}

func (*Set[E]) Value(v any) ([]E, error) {
	items, ok := expr.ToList(v)
	if !ok {
		return nil, fmt.Errorf("value %T is not a collection", v)
	}
	out := make([]E, 0, len(items))
	for _, item := range items {
		e, ok := item.(E)
		if !ok {
			var zero E
			return nil, fmt.Errorf("element %v (%T) is not a %T", item, item, zero)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Set[E]) index(items []E) map[any]struct{} {
	idx := make(map[any]struct{}, len(items))
	for _, item := range items {
		idx[s.Key(item)] = struct{}{}
	}
	return idx
}

// minus returns the elements of a whose key is not in b, without duplicates.
func (s *Set[E]) minus(a, b []E) []E {
	exclude := s.index(b)
	var out []E
	for _, item := range a {
		k := s.Key(item)
		if _, ok := exclude[k]; ok {
			continue
		}
		exclude[k] = struct{}{}
		out = append(out, item)
	}
	return out
}

func (s *Set[E]) GetChange(original, current []E) SetChange[E] {
	return SetChange[E]{Added: s.minus(current, original), Removed: s.minus(original, current)}
}

func (*Set[E]) IsNoChange(r SetChange[E]) bool { return len(r.Added) == 0 && len(r.Removed) == 0 }

// MergeDelta composes two changes: an element added then removed, or
// removed then added, cancels out.
func (s *Set[E]) MergeDelta(previous, current SetChange[E]) SetChange[E] {
	return SetChange[E]{
		Added:   append(s.minus(previous.Added, current.Removed), s.minus(current.Added, previous.Removed)...),
		Removed: append(s.minus(previous.Removed, current.Added), s.minus(current.Removed, previous.Added)...),
	}
}

func (s *Set[E]) Apply(base []E, delta SetChange[E]) []E {
	out := s.minus(base, delta.Removed)
	return append(out, s.minus(delta.Added, out)...)
}

func (*Set[E]) Invert(r SetChange[E]) SetChange[E] {
	return SetChange[E]{Added: r.Removed, Removed: r.Added}
}

func (s *Set[E]) Incremental() bool { return s.incremental }
