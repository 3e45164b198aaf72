package model

// Builder assembles a model programmatically. Navigations may reference
// entity types declared later; they are resolved by Build.
type Builder struct {
	m          *Model
	violations []*Violation
}

func NewBuilder() *Builder {
	return &Builder{m: &Model{Types: make(map[string]*EntityType)}}
}

// EntityBuilder adds members to one entity type.
type EntityBuilder struct {
	b *Builder
	t *EntityType
}

// Entity returns the builder for the named entity type, declaring it on first use.
func (b *Builder) Entity(name string) *EntityBuilder {
	t := b.m.Types[name]
	if t == nil {
		t = newEntityType(name, "")
		b.m.addEntityType(t)
	}
	return &EntityBuilder{b: b, t: t}
}

func (e *EntityBuilder) add(m Member) *EntityBuilder {
	if !e.t.addMember(m) {
		e.b.violations = append(e.b.violations, violationDuplicateMember(m.MemberName(), e.t.Name, nil))
	}
	return e
}

func (e *EntityBuilder) Property(name string, kind ScalarKind) *EntityBuilder {
	return e.add(&Property{Name: name, Entity: e.t, Index: len(e.t.Members), Kind: kind})
}

func (e *EntityBuilder) ListProperty(name string, kind ScalarKind) *EntityBuilder {
	return e.add(&Property{Name: name, Entity: e.t, Index: len(e.t.Members), Kind: kind, List: true})
}

// Reference declares a single-valued navigation. inverse may be empty.
func (e *EntityBuilder) Reference(name, target, inverse string) *EntityBuilder {
	return e.add(&Navigation{Name: name, Entity: e.t, Index: len(e.t.Members), targetName: target, inverseName: inverse})
}

// Collection declares a collection navigation. inverse may be empty.
func (e *EntityBuilder) Collection(name, target, inverse string) *EntityBuilder {
	return e.add(&Navigation{Name: name, Entity: e.t, Index: len(e.t.Members), Collection: true, targetName: target, inverseName: inverse})
}

// Computed declares a computed property along with its expression source.
func (e *EntityBuilder) Computed(name string, kind ScalarKind, expr, strategy string) *EntityBuilder {
	e.add(&Property{Name: name, Entity: e.t, Index: len(e.t.Members), Kind: kind, Computed: true})
	e.b.m.Computed = append(e.b.m.Computed, &ComputedDefinition{Entity: e.t.Name, Field: name, Expr: expr, Strategy: strategy})
	return e
}

// Entity switches to another entity type.
func (e *EntityBuilder) Entity(name string) *EntityBuilder { return e.b.Entity(name) }

// Build resolves navigation targets and inverses.
func (e *EntityBuilder) Build() (*Model, error) { return e.b.Build() }

func (b *Builder) Build() (*Model, error) {
	violations := append([]*Violation(nil), b.violations...)
	violations = append(violations, resolveNavigations(b.m)...)
	if len(violations) > 0 {
		return nil, ValidationError(violations)
	}
	return b.m, nil
}
