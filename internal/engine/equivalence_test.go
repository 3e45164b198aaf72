package engine_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/computed/internal/engine"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/memstore"
	"github.com/hanpama/computed/internal/model"
	"github.com/hanpama/computed/internal/strategy"
)

func familyModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.NewBuilder().
		Entity("Person").
		Property("threshold", model.Float).
		Collection("pets", "Pet", "owner").
		Entity("Pet").
		Property("name", model.String).
		Property("weight", model.Float).
		Reference("owner", "Person", "").
		Collection("toys", "Toy", "pet").
		Entity("Toy").
		Property("price", model.Float).
		Reference("pet", "Pet", "").
		Build()
	require.NoError(t, err)
	return m
}

type family struct {
	store            *memstore.Store
	alice, bob       *memstore.Record
	tom, kit, rex    *memstore.Record
	ball, bone, rope *memstore.Record
}

// seedFamily stores alice with pets tom (4), kit (8) and rex (30), tom and
// kit both named Tom, and bob with no pets. tom plays with ball (2) and
// bone (3), rex with rope (1).
func seedFamily(t *testing.T, m *model.Model) *family {
	t.Helper()
	s := memstore.New(m)
	add := func(typ, id string, values memstore.Values) *memstore.Record {
		rec, err := s.Add(typ, id, values)
		require.NoError(t, err)
		return rec
	}
	f := &family{store: s}
	f.alice = add("Person", "alice", memstore.Values{"threshold": 5.0})
	f.bob = add("Person", "bob", memstore.Values{"threshold": 5.0})
	f.tom = add("Pet", "tom", memstore.Values{"name": "Tom", "weight": 4.0})
	f.kit = add("Pet", "kit", memstore.Values{"name": "Tom", "weight": 8.0})
	f.rex = add("Pet", "rex", memstore.Values{"name": "Rex", "weight": 30.0})
	f.ball = add("Toy", "ball", memstore.Values{"price": 2.0})
	f.bone = add("Toy", "bone", memstore.Values{"price": 3.0})
	f.rope = add("Toy", "rope", memstore.Values{"price": 1.0})
	for _, pet := range []*memstore.Record{f.tom, f.kit, f.rex} {
		require.NoError(t, s.AddTo(f.alice, "pets", pet))
	}
	require.NoError(t, s.AddTo(f.tom, "toys", f.ball))
	require.NoError(t, s.AddTo(f.tom, "toys", f.bone))
	require.NoError(t, s.AddTo(f.rex, "toys", f.rope))
	s.AcceptChanges()
	return f
}

// changesOf reports the changes of src after mutate, keyed by entity id.
func changesOf[V, R any](t *testing.T, src string, s strategy.Strategy[V, R], mutate func(t *testing.T, f *family), format func(R) string) map[string]string {
	t.Helper()
	m := familyModel(t)
	f := seedFamily(t, m)
	e := engine.New(m)
	fn, err := e.Parse("Person", src)
	require.NoError(t, err)
	p, err := engine.NewChangeProvider(e.Artifacts(), fn, s, nil)
	require.NoError(t, err)

	mutate(t, f)
	changes, err := p.GetChanges(context.Background(), f.store)
	require.NoError(t, err)
	out := make(map[string]string)
	for _, ch := range changes {
		out[ch.Entity.Key().ID] = format(ch.Result)
	}
	return out
}

func formatNumber(r float64) string { return fmt.Sprint(r) }

func formatSet(r strategy.SetChange[any]) string {
	var out []string
	for _, v := range r.Added {
		out = append(out, "+"+element(v))
	}
	for _, v := range r.Removed {
		out = append(out, "-"+element(v))
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

func element(v any) string {
	if e, ok := v.(host.Entity); ok {
		return e.Key().String()
	}
	return fmt.Sprint(v)
}

func TestIncrementalMatchesFullNumber(t *testing.T) {
	for _, tc := range []struct {
		name   string
		src    string
		mutate func(t *testing.T, f *family)
		want   map[string]string
	}{
		{
			name: "filtered",
			src:  `pets.where(p => p.weight > 5).count()`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Set(f.tom, "weight", 6.0))
			},
			want: map[string]string{"alice": "1"},
		},
		{
			name: "filtered_moved",
			src:  `pets.where(p => p.weight > 5).count()`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Link(f.rex, "owner", f.bob))
			},
			want: map[string]string{"alice": "-1", "bob": "1"},
		},
		{
			name: "nested_count",
			src:  `pets.sum(p => p.toys.count())`,
			mutate: func(t *testing.T, f *family) {
				stick, err := f.store.Add("Toy", "stick", memstore.Values{"price": 1.0})
				require.NoError(t, err)
				require.NoError(t, f.store.Link(stick, "pet", f.rex))
			},
			want: map[string]string{"alice": "1"},
		},
		{
			name: "nested_sum",
			src:  `pets.sum(p => p.toys.sum(t => t.price))`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Set(f.ball, "price", 7.0))
			},
			want: map[string]string{"alice": "5"},
		},
		{
			name: "outer_member_predicate",
			src:  `pets.where(p => p.weight > threshold).count()`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Set(f.alice, "threshold", 10.0))
			},
			want: map[string]string{"alice": "-1"},
		},
		{
			name: "outer_member_in_nested_predicate",
			src:  `pets.sum(p => p.toys.where(t => t.price < threshold).count())`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Set(f.alice, "threshold", 2.5))
			},
			want: map[string]string{"alice": "-1"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			full := changesOf(t, tc.src, strategy.NewNumber[float64](), tc.mutate, formatNumber)
			incremental := changesOf(t, tc.src, strategy.NewNumberIncremental[float64](), tc.mutate, formatNumber)
			if diff := cmp.Diff(tc.want, full); diff != "" {
				t.Errorf("full changes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(full, incremental); diff != "" {
				t.Errorf("incremental changes mismatch (-full +incremental):\n%s", diff)
			}
		})
	}
}

func TestIncrementalMatchesFullSet(t *testing.T) {
	for _, tc := range []struct {
		name   string
		src    string
		mutate func(t *testing.T, f *family)
		want   map[string]string
	}{
		{
			name: "filtered_entities",
			src:  `pets.where(p => p.weight > threshold)`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Set(f.alice, "threshold", 10.0))
			},
			want: map[string]string{"alice": "-Pet:kit"},
		},
		{
			name: "filtered_entities_moved",
			src:  `pets.where(p => p.weight > 5)`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Link(f.kit, "owner", f.bob))
			},
			want: map[string]string{"alice": "-Pet:kit", "bob": "+Pet:kit"},
		},
		{
			name: "shared_name_survives_removal",
			src:  `pets.select(p => p.name)`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.RemoveFrom(f.alice, "pets", f.tom))
			},
			want: map[string]string{},
		},
		{
			name: "unique_name_moves",
			src:  `pets.select(p => p.name)`,
			mutate: func(t *testing.T, f *family) {
				require.NoError(t, f.store.Link(f.rex, "owner", f.bob))
			},
			want: map[string]string{"alice": "-Rex", "bob": "+Rex"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			full := changesOf(t, tc.src, strategy.NewSet[any](), tc.mutate, formatSet)
			incremental := changesOf(t, tc.src, strategy.NewSetIncremental[any](), tc.mutate, formatSet)
			if diff := cmp.Diff(tc.want, full); diff != "" {
				t.Errorf("full changes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(full, incremental); diff != "" {
				t.Errorf("incremental changes mismatch (-full +incremental):\n%s", diff)
			}
		})
	}
}
