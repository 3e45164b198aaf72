package expr

import (
	"github.com/hanpama/computed/internal/model"
)

// Kind classifies the static type of an expression.
type Kind int

const (
	Null Kind = iota
	Any
	String
	Int
	Float
	Bool
	Entity
	KindList
	KindObject
	Group
)

var kindNames = map[Kind]string{
	Null:       "Null",
	Any:        "Any",
	String:     "String",
	Int:        "Int",
	Float:      "Float",
	Bool:       "Boolean",
	Entity:     "Entity",
	KindList:   "List",
	KindObject: "Object",
	Group:      "Group",
}

func (k Kind) String() string { return kindNames[k] }

// Type is the static type of an expression node.
type Type struct {
	Kind   Kind
	Entity *model.EntityType
	// Elem is the element type of a List or Group.
	Elem *Type
	// Key is the grouping key type of a Group.
	Key *Type
}

func ScalarOf(k model.ScalarKind) Type {
	switch k {
	case model.String, model.ID:
		return Type{Kind: String}
	case model.Int:
		return Type{Kind: Int}
	case model.Float:
		return Type{Kind: Float}
	case model.Boolean:
		return Type{Kind: Bool}
	default:
		return Type{Kind: Any}
	}
}

func EntityOf(t *model.EntityType) Type { return Type{Kind: Entity, Entity: t} }

func ListOf(elem Type) Type { return Type{Kind: KindList, Elem: &elem} }

func GroupOf(key, elem Type) Type { return Type{Kind: Group, Key: &key, Elem: &elem} }

// MemberType returns the type produced by reading m.
func MemberType(m model.Member) Type {
	switch m := m.(type) {
	case *model.Property:
		if m.List {
			return ListOf(ScalarOf(m.Kind))
		}
		return ScalarOf(m.Kind)
	case *model.Navigation:
		if m.Collection {
			return ListOf(EntityOf(m.Target))
		}
		return EntityOf(m.Target)
	}
	return Type{Kind: Any}
}

func (t Type) IsNumeric() bool { return t.Kind == Int || t.Kind == Float }

// IsCollection reports whether values of t can be enumerated.
func (t Type) IsCollection() bool { return t.Kind == KindList || t.Kind == Group }

// ElemType returns the element type of a collection, or Any.
func (t Type) ElemType() Type {
	if t.Elem == nil {
		return Type{Kind: Any}
	}
	return *t.Elem
}

// IsEntity reports whether t is an entity or a collection of entities.
func (t Type) IsEntity() bool {
	if t.Kind == Entity {
		return true
	}
	return t.IsCollection() && t.ElemType().Kind == Entity
}

// AssignableTo reports whether a value of type t may be used where u is expected.
func (t Type) AssignableTo(u Type) bool {
	if t.Kind == Null || t.Kind == Any || u.Kind == Any {
		return true
	}
	if t.Kind != u.Kind {
		return t.Kind == Int && u.Kind == Float
	}
	switch t.Kind {
	case Entity:
		return t.Entity == nil || u.Entity == nil || t.Entity == u.Entity
	case KindList, Group:
		return t.ElemType().AssignableTo(u.ElemType())
	}
	return true
}

func (t Type) String() string {
	switch t.Kind {
	case Entity:
		if t.Entity != nil {
			return t.Entity.Name
		}
	case KindList:
		return "[" + t.ElemType().String() + "]"
	case Group:
		key := Type{Kind: Any}
		if t.Key != nil {
			key = *t.Key
		}
		return "Group<" + key.String() + ", " + t.ElemType().String() + ">"
	}
	return t.Kind.String()
}
