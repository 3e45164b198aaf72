package model

import "sort"

// ScalarKind is the value kind of a property.
type ScalarKind string

const (
	String  ScalarKind = "String"
	Int     ScalarKind = "Int"
	Float   ScalarKind = "Float"
	Boolean ScalarKind = "Boolean"
	ID      ScalarKind = "ID"
	// Any is used for custom scalars; values are passed through untouched.
	Any ScalarKind = "Any"
)

// Model is the entity member model: the observable properties and navigable
// relationships of every entity type, independent of any expression.
type Model struct {
	Types    map[string]*EntityType `json:"types"`
	Computed []*ComputedDefinition  `json:"computed,omitempty"`

	order []*EntityType
}

// EntityTypes returns the entity types in declaration order.
func (m *Model) EntityTypes() []*EntityType { return m.order }

// EntityType returns the named entity type or nil.
func (m *Model) EntityType(name string) *EntityType { return m.Types[name] }

// Members returns every member of every entity type in declaration order.
func (m *Model) Members() []Member {
	var members []Member
	for _, t := range m.order {
		members = append(members, t.Members...)
	}
	return members
}

func (m *Model) addEntityType(t *EntityType) {
	if m.Types == nil {
		m.Types = make(map[string]*EntityType)
	}
	m.Types[t.Name] = t
	m.order = append(m.order, t)
}

// EntityType describes one kind of entity.
type EntityType struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []Member `json:"-"`

	byName map[string]Member
}

func newEntityType(name, description string) *EntityType {
	return &EntityType{Name: name, Description: description, byName: make(map[string]Member)}
}

// Member looks up a property or navigation by name.
func (t *EntityType) Member(name string) (Member, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Property returns the named property or nil.
func (t *EntityType) Property(name string) *Property {
	p, _ := t.byName[name].(*Property)
	return p
}

// Navigation returns the named navigation or nil.
func (t *EntityType) Navigation(name string) *Navigation {
	n, _ := t.byName[name].(*Navigation)
	return n
}

func (t *EntityType) Properties() []*Property {
	var props []*Property
	for _, m := range t.Members {
		if p, ok := m.(*Property); ok {
			props = append(props, p)
		}
	}
	return props
}

func (t *EntityType) Navigations() []*Navigation {
	var navs []*Navigation
	for _, m := range t.Members {
		if n, ok := m.(*Navigation); ok {
			navs = append(navs, n)
		}
	}
	return navs
}

// MemberNames returns the member names sorted alphabetically.
func (t *EntityType) MemberNames() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *EntityType) addMember(m Member) bool {
	if _, exists := t.byName[m.MemberName()]; exists {
		return false
	}
	t.byName[m.MemberName()] = m
	t.Members = append(t.Members, m)
	return true
}

func (t *EntityType) String() string { return t.Name }

// Member is either a *Property or a *Navigation.
type Member interface {
	MemberName() string
	DeclaringType() *EntityType
	String() string
	isMember()
}

// Property is a scalar (or list of scalars) member.
type Property struct {
	Name     string      `json:"name"`
	Entity   *EntityType `json:"-"`
	Index    int         `json:"index"`
	Kind     ScalarKind  `json:"kind"`
	List     bool        `json:"list,omitempty"`
	Computed bool        `json:"computed,omitempty"`
}

func (p *Property) MemberName() string         { return p.Name }
func (p *Property) DeclaringType() *EntityType { return p.Entity }
func (p *Property) String() string             { return p.Entity.Name + "." + p.Name }
func (*Property) isMember()                    {}

// Navigation is a relationship member. Inverse is nil when the relationship
// cannot be walked backwards.
type Navigation struct {
	Name       string      `json:"name"`
	Entity     *EntityType `json:"-"`
	Index      int         `json:"index"`
	Target     *EntityType `json:"-"`
	Collection bool        `json:"collection,omitempty"`
	Inverse    *Navigation `json:"-"`

	targetName  string
	inverseName string
}

func (n *Navigation) MemberName() string         { return n.Name }
func (n *Navigation) DeclaringType() *EntityType { return n.Entity }
func (n *Navigation) String() string             { return n.Entity.Name + "." + n.Name }
func (*Navigation) isMember()                    {}

// ComputedDefinition is a computed member declared in the model source.
type ComputedDefinition struct {
	Entity   string `json:"entity"`
	Field    string `json:"field"`
	Expr     string `json:"expr"`
	Strategy string `json:"strategy,omitempty"`
	Filter   string `json:"filter,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}
