package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	batchid "github.com/hanpama/computed/internal/batchid"
	"github.com/hanpama/computed/internal/engine"
	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/memstore"
	"github.com/hanpama/computed/internal/model"
	"github.com/hanpama/computed/internal/strategy"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.NewBuilder().
		Entity("Person").
		Property("firstName", model.String).
		Property("lastName", model.String).
		Property("fullName", model.String).
		Property("petCount", model.Int).
		Property("description", model.String).
		Property("totalWeight", model.Float).
		Property("passportNumber", model.String).
		Property("a", model.Int).
		Property("b", model.Int).
		Collection("pets", "Pet", "owner").
		Reference("passport", "Passport", "holder").
		Entity("Pet").
		Property("name", model.String).
		Property("type", model.String).
		Property("weight", model.Float).
		Reference("owner", "Person", "").
		Entity("Passport").
		Property("number", model.String).
		Reference("holder", "Person", "").
		Build()
	require.NoError(t, err)
	return m
}

type fixture struct {
	store    *memstore.Store
	alice    *memstore.Record
	bob      *memstore.Record
	tom      *memstore.Record
	rex      *memstore.Record
	passport *memstore.Record
}

func seed(t *testing.T, m *model.Model) *fixture {
	t.Helper()
	s := memstore.New(m)
	add := func(typ, id string, values memstore.Values) *memstore.Record {
		rec, err := s.Add(typ, id, values)
		require.NoError(t, err)
		return rec
	}
	f := &fixture{store: s}
	f.alice = add("Person", "alice", memstore.Values{
		"firstName": "Alice", "lastName": "Smith", "fullName": "Alice Smith",
		"petCount": 1, "description": "Alice Smith (1 pets)", "totalWeight": 4.0,
	})
	f.bob = add("Person", "bob", memstore.Values{
		"firstName": "Bob", "lastName": "Jones", "fullName": "Bob Jones",
		"petCount": 1, "description": "Bob Jones (1 pets)", "totalWeight": 30.0,
	})
	f.tom = add("Pet", "tom", memstore.Values{"name": "Tom", "type": "Cat", "weight": 4.0})
	f.rex = add("Pet", "rex", memstore.Values{"name": "Rex", "type": "Dog", "weight": 30.0})
	f.passport = add("Passport", "p1", memstore.Values{"number": "X1"})
	require.NoError(t, s.AddTo(f.alice, "pets", f.tom))
	require.NoError(t, s.AddTo(f.bob, "pets", f.rex))
	s.AcceptChanges()
	return f
}

func register(t *testing.T, e *engine.Engine, names ...string) {
	t.Helper()
	for _, name := range names {
		var err error
		switch name {
		case "fullName":
			err = engine.Computed(e, "Person", "fullName", `firstName + " " + lastName`, strategy.NewCurrent[any]())
		case "petCount":
			err = engine.Computed(e, "Person", "petCount", `pets.count()`, strategy.NewNumberIncremental[int64]())
		case "description":
			err = engine.Computed(e, "Person", "description", `fullName + " (" + petCount + " pets)"`, strategy.NewCurrent[any]())
		case "totalWeight":
			err = engine.Computed(e, "Person", "totalWeight", `pets.sum(p => p.weight)`, strategy.NewNumber[float64]())
		default:
			t.Fatalf("unknown member %q", name)
		}
		require.NoError(t, err)
	}
}

func keys[R any](changes engine.Changes[R]) []string {
	var out []string
	for _, k := range changes.Keys() {
		out = append(out, k.String())
	}
	return out
}

func entityKeys(entities []host.Entity) []string {
	var out []string
	for _, e := range entities {
		out = append(out, e.Key().String())
	}
	return out
}

func TestIncrementalCountOfAddedElement(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	fn, err := e.Parse("Person", `pets.count()`)
	require.NoError(t, err)
	p, err := engine.NewChangeProvider(e.Artifacts(), fn, strategy.NewNumberIncremental[int64](), nil)
	require.NoError(t, err)

	kit, err := f.store.Add("Pet", "kit", memstore.Values{"type": "Cat"})
	require.NoError(t, err)
	require.NoError(t, f.store.Link(kit, "owner", f.alice))

	changes, err := p.GetChanges(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []string{"Person:alice"}, keys(changes))
	delta, _ := changes.Get(f.alice.Key())
	require.Equal(t, int64(1), delta)

	register(t, e, "petCount")
	stats, err := e.RunStats(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []int{1, 0}, stats.PerPass)
	require.Equal(t, int64(2), f.store.Value(f.alice, "petCount"))
	require.Equal(t, 1, f.store.Value(f.bob, "petCount"))
}

func TestDependentMembersUpdateInOnePass(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "description", "fullName", "petCount")

	require.NoError(t, f.store.Set(f.alice, "firstName", "Alicia"))
	stats, err := e.RunStats(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []int{2, 0}, stats.PerPass)
	require.Equal(t, 2, stats.Changes)
	require.Equal(t, "Alicia Smith", f.store.Value(f.alice, "fullName"))
	require.Equal(t, "Alicia Smith (1 pets)", f.store.Value(f.alice, "description"))

	var order []string
	for _, member := range e.Members() {
		order = append(order, member.String())
	}
	require.Equal(t, []string{"Person.fullName", "Person.petCount", "Person.description"}, order)

	fullName := e.Members()[0]
	require.Len(t, fullName.Dependents(), 1)
	require.Equal(t, "Person.description", fullName.Dependents()[0].String())
}

func TestZeroResultIsStoredForNewEntity(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "description", "fullName", "petCount", "totalWeight")

	carol, err := f.store.Add("Person", "carol", memstore.Values{"firstName": "Carol", "lastName": "Lee"})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), f.store)
	require.NoError(t, err)

	require.Equal(t, int64(0), f.store.Value(carol, "petCount"))
	require.Equal(t, 0.0, f.store.Value(carol, "totalWeight"))
	require.Equal(t, "Carol Lee (0 pets)", f.store.Value(carol, "description"))

	petCount := m.EntityType("Person").Property("petCount")
	report, err := e.CheckConsistency(context.Background(), f.store, petCount, []host.Entity{carol})
	require.NoError(t, err)
	require.Equal(t, engine.ConsistencyReport{Member: "Person.petCount", Consistent: 1, Ratio: 1}, report)
}

func TestUnsetValueIsInconsistent(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "petCount")

	carol, err := f.store.Add("Person", "carol", nil)
	require.NoError(t, err)
	f.store.AcceptChanges()

	petCount := m.EntityType("Person").Property("petCount")
	report, err := e.CheckConsistency(context.Background(), f.store, petCount, []host.Entity{carol, f.alice})
	require.NoError(t, err)
	require.Equal(t, engine.ConsistencyReport{
		Member:       "Person.petCount",
		Consistent:   1,
		Inconsistent: 1,
		Ratio:        0.5,
		Mismatches:   []host.Key{carol.Key()},
	}, report)
}

func TestFilteredSetReportsRemovedElement(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	fn, err := e.Parse("Person", `pets.where(p => p.type == "Cat")`)
	require.NoError(t, err)
	p, err := engine.NewChangeProvider(e.Artifacts(), fn, strategy.NewSetIncremental[host.Entity](), nil)
	require.NoError(t, err)

	require.NoError(t, f.store.Set(f.tom, "type", "Dog"))
	changes, err := p.GetChanges(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []string{"Person:alice"}, keys(changes))
	change, _ := changes.Get(f.alice.Key())
	require.Empty(t, change.Added)
	require.Equal(t, []string{"Pet:tom"}, entityKeys(change.Removed))
}

func TestOneToOneUpdatedFromEitherSide(t *testing.T) {
	m := testModel(t)
	link := map[string]func(f *fixture) error{
		"forward": func(f *fixture) error { return f.store.Link(f.alice, "passport", f.passport) },
		"inverse": func(f *fixture) error { return f.store.Link(f.passport, "holder", f.alice) },
	}
	results := make(map[string][]string)
	for name, fn := range link {
		f := seed(t, m)
		e := engine.New(m)
		require.NoError(t, engine.Computed(e, "Person", "passportNumber", `passport.number`, strategy.NewCurrent[any]()))
		require.NoError(t, fn(f))
		n, err := e.Run(context.Background(), f.store)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, "X1", f.store.Value(f.alice, "passportNumber"))
		require.Nil(t, f.store.Value(f.bob, "passportNumber"))
		results[name] = []string{f.store.Value(f.alice, "passportNumber").(string)}
	}
	if diff := cmp.Diff(results["forward"], results["inverse"]); diff != "" {
		t.Errorf("values mismatch (-forward +inverse):\n%s", diff)
	}
}

func TestConfluence(t *testing.T) {
	m := testModel(t)
	mutate := func(f *fixture) {
		require.NoError(t, f.store.Set(f.alice, "firstName", "Alicia"))
		require.NoError(t, f.store.Set(f.tom, "weight", 5.0))
		kit, err := f.store.Add("Pet", "kit", memstore.Values{"type": "Cat", "weight": 2.0})
		require.NoError(t, err)
		require.NoError(t, f.store.Link(kit, "owner", f.alice))
		require.NoError(t, f.store.Link(f.rex, "owner", f.alice))
	}
	snapshot := func(f *fixture) map[string]any {
		out := make(map[string]any)
		for _, rec := range []*memstore.Record{f.alice, f.bob} {
			for _, name := range []string{"fullName", "petCount", "description", "totalWeight"} {
				out[rec.Key().ID+"."+name] = f.store.Value(rec, name)
			}
		}
		return out
	}

	var got []map[string]any
	for _, order := range [][]string{
		{"fullName", "petCount", "description", "totalWeight"},
		{"petCount", "totalWeight", "fullName", "description"},
		{"description", "totalWeight", "petCount", "fullName"},
	} {
		f := seed(t, m)
		e := engine.New(m)
		register(t, e, order...)
		mutate(f)
		_, err := e.Run(context.Background(), f.store)
		require.NoError(t, err)
		got = append(got, snapshot(f))
	}

	want := map[string]any{
		"alice.fullName":    "Alicia Smith",
		"alice.petCount":    int64(3),
		"alice.description": "Alicia Smith (3 pets)",
		"alice.totalWeight": 37.0,
		"bob.fullName":      "Bob Jones",
		"bob.petCount":      int64(0),
		"bob.description":   "Bob Jones (0 pets)",
		"bob.totalWeight":   0.0,
	}
	for i, g := range got {
		if diff := cmp.Diff(want, g); diff != "" {
			t.Errorf("order %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestGetChangesIsIdempotent(t *testing.T) {
	m := testModel(t)
	for _, tc := range []struct {
		name string
		run  func(t *testing.T, e *engine.Engine, rt host.Runtime) (int, int)
	}{
		{
			name: "current",
			run: func(t *testing.T, e *engine.Engine, rt host.Runtime) (int, int) {
				fn, err := e.Parse("Person", `firstName + " " + lastName`)
				require.NoError(t, err)
				p, err := engine.NewChangeProvider(e.Artifacts(), fn, strategy.NewCurrent[any](), nil)
				require.NoError(t, err)
				first, err := p.GetChanges(context.Background(), rt)
				require.NoError(t, err)
				second, err := p.GetChanges(context.Background(), rt)
				require.NoError(t, err)
				return len(first), len(second)
			},
		},
		{
			name: "numeric",
			run: func(t *testing.T, e *engine.Engine, rt host.Runtime) (int, int) {
				fn, err := e.Parse("Person", `pets.sum(p => p.weight)`)
				require.NoError(t, err)
				p, err := engine.NewChangeProvider(e.Artifacts(), fn, strategy.NewNumber[float64](), nil)
				require.NoError(t, err)
				first, err := p.GetChanges(context.Background(), rt)
				require.NoError(t, err)
				second, err := p.GetChanges(context.Background(), rt)
				require.NoError(t, err)
				return len(first), len(second)
			},
		},
		{
			name: "pair",
			run: func(t *testing.T, e *engine.Engine, rt host.Runtime) (int, int) {
				fn, err := e.Parse("Person", `pets.count()`)
				require.NoError(t, err)
				p, err := engine.NewChangeProvider(e.Artifacts(), fn, strategy.NewValuePair[any](), nil)
				require.NoError(t, err)
				first, err := p.GetChanges(context.Background(), rt)
				require.NoError(t, err)
				second, err := p.GetChanges(context.Background(), rt)
				require.NoError(t, err)
				return len(first), len(second)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := seed(t, m)
			require.NoError(t, f.store.Set(f.alice, "firstName", "Alicia"))
			require.NoError(t, f.store.Set(f.tom, "weight", 6.0))
			require.NoError(t, f.store.Link(f.rex, "owner", f.alice))
			first, second := tc.run(t, engine.New(m), f.store)
			require.NotZero(t, first)
			require.Zero(t, second)
		})
	}
}

func TestClosingDeltaForEntityNoLongerAffected(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	fn, err := e.Parse("Person", `pets.count()`)
	require.NoError(t, err)
	p, err := engine.NewChangeProvider(e.Artifacts(), fn, strategy.NewNumberIncremental[int64](), nil)
	require.NoError(t, err)

	kit, err := f.store.Add("Pet", "kit", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.AddTo(f.alice, "pets", kit))
	changes, err := p.GetChanges(context.Background(), f.store)
	require.NoError(t, err)
	delta, _ := changes.Get(f.alice.Key())
	require.Equal(t, int64(1), delta)
	require.Equal(t, 1, p.Remembered())

	require.NoError(t, f.store.RemoveFrom(f.alice, "pets", kit))
	changes, err = p.GetChanges(context.Background(), f.store)
	require.NoError(t, err)
	delta, _ = changes.Get(f.alice.Key())
	require.Equal(t, int64(-1), delta)
	require.Zero(t, p.Remembered())
}

func TestNotConverged(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m, engine.WithMaxPasses(1))
	register(t, e, "petCount")
	require.NoError(t, f.store.Link(f.rex, "owner", f.alice))

	stats, err := e.RunStats(context.Background(), f.store)
	require.ErrorIs(t, err, engine.ErrNotConverged)
	require.EqualError(t, err, "computed members did not converge after 1 passes")
	require.Equal(t, 1, stats.Passes)
}

func TestCycleIsRejected(t *testing.T) {
	m := testModel(t)
	e := engine.New(m)
	require.NoError(t, engine.Computed(e, "Person", "a", `b + 1`, strategy.NewCurrent[any]()))
	require.NoError(t, engine.Computed(e, "Person", "b", `a + 1`, strategy.NewCurrent[any]()))

	err := e.Finalize()
	var verr model.ValidationError
	require.ErrorAs(t, err, &verr)
	require.EqualError(t, err, "violations found:\n- Computed members depend on each other in a cycle: Person.a -> Person.b -> Person.a\n")
}

func TestConfigurationErrors(t *testing.T) {
	m := testModel(t)
	e := engine.New(m)

	err := engine.Computed(e, "Person", "petCount", `untracked(pets).count()`, strategy.NewNumber[int64]())
	require.ErrorIs(t, err, engine.ErrNoTrackedAccess)

	err = engine.Computed(e, "Person", "fullName", `firstName`, strategy.Void{})
	require.EqualError(t, err, `computed member Person.fullName: strategy "void" produces no value to store`)

	err = engine.Computed(e, "Person", "nickname", `firstName`, strategy.NewCurrent[any]())
	require.EqualError(t, err, `Person has no property "nickname"`)

	require.NoError(t, engine.Computed(e, "Person", "fullName", `firstName`, strategy.NewCurrent[any]()))
	err = engine.Computed(e, "Person", "fullName", `lastName`, strategy.NewCurrent[any]())
	require.EqualError(t, err, "computed member Person.fullName is already registered")

	require.NoError(t, e.Finalize())
	err = engine.Computed(e, "Person", "petCount", `pets.count()`, strategy.NewNumber[int64]())
	require.ErrorIs(t, err, engine.ErrFinalized)
}

func TestLoadErrorPropagates(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "totalWeight")
	require.NoError(t, f.store.Link(f.rex, "owner", f.alice))

	boom := errors.New("connection reset")
	f.store.FailLoads(boom)
	_, err := e.Run(context.Background(), f.store)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 4.0, f.store.Value(f.alice, "totalWeight"))
}

func TestNavigationLoadEventsCarryBatch(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "totalWeight")
	require.NoError(t, f.store.Link(f.rex, "owner", f.alice))

	var (
		mu    sync.Mutex
		run   int64
		loads = map[string]int64{}
	)
	defer eventbus.Subscribe(func(ctx context.Context, _ events.SchedulerStart) {
		run, _ = batchid.FromContext(ctx)
	})()
	defer eventbus.Subscribe(func(ctx context.Context, ev events.NavigationLoad) {
		id, _ := batchid.FromContext(ctx)
		mu.Lock()
		defer mu.Unlock()
		loads[ev.Navigation+"/"+ev.Mode] = id
	})()

	_, err := e.Run(context.Background(), f.store)
	require.NoError(t, err)
	require.NotZero(t, run)
	want := map[string]int64{"Person.pets/original": run, "Person.pets/current": run}
	if diff := cmp.Diff(want, loads); diff != "" {
		t.Fatalf("load events mismatch (-want +got):\n%s", diff)
	}
}

func TestObserve(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "petCount")

	var calls []map[string]int64
	_, err := engine.Observe(e, "Person", `pets.count()`, strategy.NewNumberIncremental[int64](),
		func(ctx context.Context, changes engine.Changes[int64]) error {
			got := make(map[string]int64)
			for _, ch := range changes {
				got[ch.Entity.Key().ID] = ch.Result
			}
			calls = append(calls, got)
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, f.store.Link(f.rex, "owner", f.alice))
	_, err = e.Run(context.Background(), f.store)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []map[string]int64{{"alice": 1, "bob": -1}}, calls)

	f.store.AcceptChanges()
	e.AcceptBatch()
	require.NoError(t, f.store.Link(f.tom, "owner", f.bob))
	_, err = e.Run(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []map[string]int64{{"alice": 1, "bob": -1}, {"alice": -1, "bob": 1}}, calls)
	require.Equal(t, int64(1), f.store.Value(f.alice, "petCount"))
	require.Equal(t, int64(1), f.store.Value(f.bob, "petCount"))
}

func TestObserveWithFilter(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)

	var seen []string
	_, err := engine.Observe(e, "Pet", `weight`, strategy.NewValuePair[any](),
		func(ctx context.Context, changes engine.Changes[strategy.Pair[any]]) error {
			seen = append(seen, keys(changes)...)
			return nil
		},
		engine.Filter(`type == "Cat"`))
	require.NoError(t, err)

	require.NoError(t, f.store.Set(f.tom, "weight", 4.5))
	require.NoError(t, f.store.Set(f.rex, "weight", 31.0))
	_, err = e.Run(context.Background(), f.store)
	require.NoError(t, err)
	require.Equal(t, []string{"Pet:tom"}, seen)
}

func TestObserverErrorIsReturned(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	boom := errors.New("webhook failed")
	_, err := engine.Observe(e, "Person", `firstName`, strategy.NewCurrent[any](),
		func(context.Context, engine.Changes[any]) error { return boom })
	require.NoError(t, err)

	require.NoError(t, f.store.Set(f.alice, "firstName", "Alicia"))
	_, err = e.Run(context.Background(), f.store)
	require.ErrorIs(t, err, boom)
}

func TestConsistency(t *testing.T) {
	m := testModel(t)
	f := seed(t, m)
	e := engine.New(m)
	register(t, e, "petCount")
	petCount := m.EntityType("Person").Property("petCount")
	people := f.store.Entities("Person")

	report, err := e.CheckConsistency(context.Background(), f.store, petCount, people)
	require.NoError(t, err)
	require.Equal(t, engine.ConsistencyReport{Member: "Person.petCount", Consistent: 2, Ratio: 1}, report)

	require.NoError(t, f.store.Set(f.alice, "petCount", 5))
	report, err = e.CheckConsistency(context.Background(), f.store, petCount, people)
	require.NoError(t, err)
	require.Equal(t, engine.ConsistencyReport{
		Member:       "Person.petCount",
		Consistent:   1,
		Inconsistent: 1,
		Ratio:        0.5,
		Mismatches:   []host.Key{f.alice.Key()},
	}, report)

	_, err = e.CheckConsistency(context.Background(), f.store, m.EntityType("Person").Property("firstName"), people)
	require.EqualError(t, err, "Person.firstName is not a computed member")
}
