package model_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/computed/internal/model"
)

const petsSDL = `
enum PetType { Cat Dog }

type Person {
  id: ID!
  firstName: String!
  lastName: String!
  pets: [Pet!]! @inverse(field: "owner")
  fullName: String @computed(expr: "firstName + \" \" + lastName")
  petCount: Int @computed(expr: "pets.count()", strategy: "numeric-incremental")
}

type Pet {
  id: ID!
  type: PetType!
  owner: Person
}
`

func TestBuildFromSDL(t *testing.T) {
	m, err := model.BuildFromSDL("pets", petsSDL)
	require.NoError(t, err)

	person := m.EntityType("Person")
	pet := m.EntityType("Pet")
	require.NotNil(t, person)
	require.NotNil(t, pet)

	if diff := cmp.Diff([]string{"firstName", "fullName", "id", "lastName", "petCount", "pets"}, person.MemberNames()); diff != "" {
		t.Errorf("member names mismatch (-want +got):\n%s", diff)
	}

	pets := person.Navigation("pets")
	owner := pet.Navigation("owner")
	require.NotNil(t, pets)
	require.NotNil(t, owner)
	require.True(t, pets.Collection)
	require.False(t, owner.Collection)
	require.Same(t, pet, pets.Target)
	require.Same(t, owner, pets.Inverse)
	require.Same(t, pets, owner.Inverse)

	require.Equal(t, model.String, pet.Property("type").Kind)
	require.True(t, person.Property("fullName").Computed)

	type def struct{ Entity, Field, Expr, Strategy string }
	var got []def
	for _, c := range m.Computed {
		got = append(got, def{c.Entity, c.Field, c.Expr, c.Strategy})
	}
	want := []def{
		{"Person", "fullName", `firstName + " " + lastName`, ""},
		{"Person", "petCount", "pets.count()", "numeric-incremental"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("computed definitions mismatch (-want +got):\n%s", diff)
	}
}

func TestImplicitInverse(t *testing.T) {
	m, err := model.BuildFromSDL("implicit", `
type Person { passport: Passport }
type Passport { holder: Person }
`)
	require.NoError(t, err)
	passport := m.EntityType("Person").Navigation("passport")
	holder := m.EntityType("Passport").Navigation("holder")
	require.Same(t, holder, passport.Inverse)
	require.Same(t, passport, holder.Inverse)
}

func TestAmbiguousInverseStaysUnresolved(t *testing.T) {
	m, err := model.BuildFromSDL("ambiguous", `
type Person { cats: [Pet!]! dogs: [Pet!]! }
type Pet { owner: Person }
`)
	require.NoError(t, err)
	require.Nil(t, m.EntityType("Person").Navigation("cats").Inverse)
	require.Nil(t, m.EntityType("Person").Navigation("dogs").Inverse)
	require.Nil(t, m.EntityType("Pet").Navigation("owner").Inverse)
}

func TestAmbiguousInverseFromEitherSide(t *testing.T) {
	for _, tc := range []struct {
		name string
		sdl  string
		navs [][2]string
	}{
		{
			name: "target_declared_first",
			sdl: `
type Pet { owner: Person }
type Person { cats: [Pet!]! dogs: [Pet!]! }
`,
			navs: [][2]string{{"Pet", "owner"}, {"Person", "cats"}, {"Person", "dogs"}},
		},
		{
			name: "two_references_back",
			sdl: `
type Person { pets: [Pet!]! }
type Pet { owner: Person breeder: Person }
`,
			navs: [][2]string{{"Person", "pets"}, {"Pet", "owner"}, {"Pet", "breeder"}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := model.BuildFromSDL(tc.name, tc.sdl)
			require.NoError(t, err)
			for _, n := range tc.navs {
				require.Nil(t, m.EntityType(n[0]).Navigation(n[1]).Inverse, "%s.%s", n[0], n[1])
			}
		})
	}
}

func TestExplicitInverseLeavesOthersUnpaired(t *testing.T) {
	m, err := model.BuildFromSDL("explicit", `
type Person { cats: [Pet!]! @inverse(field: "owner") dogs: [Pet!]! }
type Pet { owner: Person }
`)
	require.NoError(t, err)
	cats := m.EntityType("Person").Navigation("cats")
	owner := m.EntityType("Pet").Navigation("owner")
	require.Same(t, owner, cats.Inverse)
	require.Same(t, cats, owner.Inverse)
	require.Nil(t, m.EntityType("Person").Navigation("dogs").Inverse)
}

func TestInMemorySourcePaths(t *testing.T) {
	src := model.NewInMemorySource([]model.InMemoryFile{
		{Name: "person", Content: `type Person { name: String }`},
		{Name: "pet.graphql", Content: `type Pet { name: String }`},
	})
	files, err := src.ListFiles(context.Background())
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.FilePath)
	}
	require.Equal(t, []string{"person.graphql", "pet.graphql"}, paths)

	_, err = model.BuildFromSDL("broken.graphql", "type A { b: B }")
	var verr model.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "broken.graphql", verr[0].File)
}

func TestExtensions(t *testing.T) {
	src := model.NewInMemorySource([]model.InMemoryFile{
		{Name: "person", Content: `type Person { name: String }`},
		{Name: "pet", Content: `
type Pet { name: String owner: Person }
extend type Person { pets: [Pet!]! @inverse(field: "owner") }
`},
	})
	m, err := model.Build(context.Background(), src)
	require.NoError(t, err)
	require.NotNil(t, m.EntityType("Person").Navigation("pets").Inverse)
}

func TestBuildViolations(t *testing.T) {
	for _, tc := range []struct {
		name string
		sdl  string
		want []string
	}{
		{
			name: "duplicate_entity",
			sdl:  "type A { x: Int }\ntype A { y: Int }",
			want: []string{`Entity type "A" is already defined`},
		},
		{
			name: "interface",
			sdl:  "interface Node { id: ID! }",
			want: []string{`Unsupported INTERFACE definition "Node"; only object, enum and scalar types describe entities`},
		},
		{
			name: "unknown_type",
			sdl:  "type A { b: B }",
			want: []string{`Unknown type "B" for member A.b`},
		},
		{
			name: "inverse_on_property",
			sdl:  `type A { x: Int @inverse(field: "y") }`,
			want: []string{`@inverse is only allowed on navigations; A.x is a property`},
		},
		{
			name: "computed_on_navigation",
			sdl:  "type A { b: B @computed(expr: \"b\") }\ntype B { a: A }",
			want: []string{`@computed is only allowed on properties; A.b is a navigation`},
		},
		{
			name: "missing_expr",
			sdl:  `type A { x: Int @computed(strategy: "numeric") }`,
			want: []string{`Missing required argument 'expr' in @computed directive`},
		},
		{
			name: "unknown_directive",
			sdl:  `type A { x: Int @cached }`,
			want: []string{`Unknown directive @cached on member A.x`},
		},
		{
			name: "unknown_inverse",
			sdl:  "type A { bs: [B!]! @inverse(field: \"parent\") }\ntype B { a: A }",
			want: []string{`Inverse "parent" of navigation A.bs not found on B`},
		},
		{
			name: "asymmetric_inverse",
			sdl: `
type A { b: B @inverse(field: "a1") b2: B }
type B { a1: A @inverse(field: "b2") }
`,
			want: []string{`Navigation B.a1 declares inverse "b2" but A.b declares it as its inverse`},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.BuildFromSDL(tc.name, tc.sdl)
			require.Error(t, err)
			var verr model.ValidationError
			require.ErrorAs(t, err, &verr)
			var got []string
			for _, v := range verr {
				got = append(got, v.Message)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("violations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	m, err := model.NewBuilder().
		Entity("Person").
		Property("name", model.String).
		Collection("pets", "Pet", "owner").
		Computed("petCount", model.Int, "pets.count()", "numeric").
		Entity("Pet").
		Property("type", model.String).
		Reference("owner", "Person", "").
		Build()
	require.NoError(t, err)

	pets := m.EntityType("Person").Navigation("pets")
	require.Same(t, m.EntityType("Pet").Navigation("owner"), pets.Inverse)
	require.Len(t, m.Computed, 1)
	require.Equal(t, "Person.pets", pets.String())
}

func TestBuilderMissingTarget(t *testing.T) {
	_, err := model.NewBuilder().Entity("A").Reference("b", "B", "").Build()
	require.EqualError(t, err, "violations found:\n- Navigation A.b targets unknown entity type \"B\"\n")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "zoo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zoo", "pets.graphql"), []byte(petsSDL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	m, err := model.Load(dir)
	require.NoError(t, err)
	require.Len(t, m.EntityTypes(), 2)
	require.Equal(t, "zoo/pets.graphql", filepath.ToSlash(m.Computed[0].File))
}
