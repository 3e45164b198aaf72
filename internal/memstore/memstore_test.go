package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/computed/internal/batchid"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/memstore"
	"github.com/hanpama/computed/internal/model"
)

func petModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.NewBuilder().
		Entity("Person").
		Property("name", model.String).
		Collection("pets", "Pet", "owner").
		Reference("passport", "Passport", "holder").
		Entity("Pet").
		Property("type", model.String).
		Reference("owner", "Person", "").
		Entity("Passport").
		Property("number", model.String).
		Reference("holder", "Person", "").
		Build()
	require.NoError(t, err)
	return m
}

func keys(entities []host.Entity) []string {
	var out []string
	for _, e := range entities {
		out = append(out, e.Key().String())
	}
	return out
}

func TestRelationshipFixup(t *testing.T) {
	m := petModel(t)
	s := memstore.New(m)
	alice, err := s.Add("Person", "alice", memstore.Values{"name": "Alice"})
	require.NoError(t, err)
	bob, err := s.Add("Person", "bob", memstore.Values{"name": "Bob"})
	require.NoError(t, err)
	tom, err := s.Add("Pet", "tom", memstore.Values{"type": "Cat"})
	require.NoError(t, err)

	require.NoError(t, s.Link(tom, "owner", alice))
	require.Equal(t, []string{"Pet:tom"}, keys(s.Value(alice, "pets").([]host.Entity)))

	require.NoError(t, s.AddTo(bob, "pets", tom))
	require.Empty(t, s.Value(alice, "pets"))
	require.Same(t, bob, s.Value(tom, "owner"))

	require.NoError(t, s.Delete(bob))
	require.Nil(t, s.Value(tom, "owner"))
}

func TestOneToOneSteal(t *testing.T) {
	m := petModel(t)
	s := memstore.New(m)
	alice, _ := s.Add("Person", "alice", nil)
	bob, _ := s.Add("Person", "bob", nil)
	pp, _ := s.Add("Passport", "p1", memstore.Values{"number": "X1"})

	require.NoError(t, s.Link(alice, "passport", pp))
	require.Same(t, alice, s.Value(pp, "holder"))

	require.NoError(t, s.Link(pp, "holder", bob))
	require.Nil(t, s.Value(alice, "passport"))
	require.Same(t, pp, s.Value(bob, "passport"))
}

func TestStates(t *testing.T) {
	m := petModel(t)
	s := memstore.New(m)
	alice, _ := s.Add("Person", "alice", memstore.Values{"name": "Alice"})
	tom, _ := s.Add("Pet", "tom", memstore.Values{"type": "Cat"})
	require.NoError(t, s.Link(tom, "owner", alice))
	require.Equal(t, host.Added, s.State(alice))
	s.AcceptChanges()
	require.Empty(t, s.Changed())

	require.NoError(t, s.Set(tom, "type", "Dog"))
	require.Equal(t, host.Modified, s.State(tom))
	require.Equal(t, host.Unchanged, s.State(alice))
	require.True(t, s.IsModified(tom, m.EntityType("Pet").Property("type")))
	require.False(t, s.IsModified(tom, m.EntityType("Pet").Navigation("owner")))
	require.Equal(t, "Cat", s.OriginalValue(tom, m.EntityType("Pet").Property("type")))

	kit, _ := s.Add("Pet", "kit", nil)
	require.NoError(t, s.Link(kit, "owner", alice))
	require.Equal(t, host.Modified, s.State(alice))
	require.Equal(t, []string{"Person:alice", "Pet:tom", "Pet:kit"}, keys(s.Changed()))

	pets := m.EntityType("Person").Navigation("pets")
	require.Equal(t, []string{"Pet:tom"}, keys(s.OriginalValue(alice, pets).([]host.Entity)))
	require.Equal(t, []string{"Pet:tom", "Pet:kit"}, keys(s.CurrentValue(alice, pets).([]host.Entity)))
}

func TestLoadCalls(t *testing.T) {
	m := petModel(t)
	s := memstore.New(m)
	alice, _ := s.Add("Person", "alice", nil)
	tom, _ := s.Add("Pet", "tom", nil)
	require.NoError(t, s.Link(tom, "owner", alice))
	s.AcceptChanges()

	ctx, id := batchid.NewContext(context.Background())
	pets := m.EntityType("Person").Navigation("pets")
	got, err := s.LoadCurrent(ctx, pets, []host.Entity{alice})
	require.NoError(t, err)
	require.Equal(t, []string{"Pet:tom"}, keys(got))

	want := []memstore.Call{{
		Method:     memstore.CallLoadCurrent,
		Navigation: "Person.pets",
		Keys:       []host.Key{{Type: "Person", ID: "alice"}},
		BatchID:    id,
	}}
	if diff := cmp.Diff(want, s.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	boom := errors.New("boom")
	s.FailLoads(boom)
	_, err = s.LoadOriginal(ctx, pets, []host.Entity{alice})
	require.ErrorIs(t, err, boom)
}

func TestAutoDetect(t *testing.T) {
	s := memstore.New(petModel(t))
	require.True(t, s.SetAutoDetectChanges(false))
	require.False(t, s.SetAutoDetectChanges(true))
	require.NoError(t, s.DetectChanges(context.Background()))
	require.Equal(t, 1, s.Detections())
}
