// Package expr defines the typed expression trees computed members are
// declared with, and evaluates them against host entities.
package expr

import (
	"fmt"

	"github.com/hanpama/computed/internal/model"
)

// Node is an expression tree node. Nodes are immutable once built and are
// compared by pointer identity during analysis.
type Node interface {
	Type() Type
	String() string
	node()
}

type Parameter struct {
	Name string
	T    Type
}

type Constant struct {
	Value any
	T     Type
}

// Member reads a property or navigation of the entity produced by Target.
type Member struct {
	Target Node
	Member model.Member
}

type Convert struct {
	Operand Node
	To      Type
}

type UnaryOp int

const (
	Not UnaryOp = iota
	Negate
)

type Unary struct {
	Op      UnaryOp
	Operand Node
}

type BinaryOp int

const (
	Add BinaryOp = iota
	Subtract
	Multiply
	Divide
	Modulo
	Equal
	NotEqual
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
	And
	Or
	Coalesce
)

var binaryOpSymbols = map[BinaryOp]string{
	Add:            "+",
	Subtract:       "-",
	Multiply:       "*",
	Divide:         "/",
	Modulo:         "%",
	Equal:          "==",
	NotEqual:       "!=",
	Less:           "<",
	LessOrEqual:    "<=",
	Greater:        ">",
	GreaterOrEqual: ">=",
	And:            "&&",
	Or:             "||",
	Coalesce:       "??",
}

func (op BinaryOp) String() string { return binaryOpSymbols[op] }

// IsComparison reports whether op produces a boolean from two operands.
func (op BinaryOp) IsComparison() bool { return op >= Equal && op <= GreaterOrEqual }

type Binary struct {
	Op          BinaryOp
	Left, Right Node
}

type Conditional struct {
	Test, Then, Else Node
}

// Method is a standard collection operator.
type Method string

const (
	Where          Method = "where"
	Select         Method = "select"
	SelectMany     Method = "selectMany"
	Count          Method = "count"
	Sum            Method = "sum"
	Min            Method = "min"
	Max            Method = "max"
	Average        Method = "average"
	AnyOf          Method = "any"
	All            Method = "all"
	First          Method = "first"
	FirstOrDefault Method = "firstOrDefault"
	Distinct       Method = "distinct"
	Concat         Method = "concat"
	Contains       Method = "contains"
	GroupBy        Method = "groupBy"
)

// Call applies a collection operator to Source. Lambda arguments receive
// the elements of Source.
type Call struct {
	Method Method
	Source Node
	Args   []Node
}

// Lambda returns the first lambda argument, if any.
func (c *Call) Lambda() *Lambda {
	for _, a := range c.Args {
		if l, ok := a.(*Lambda); ok {
			return l
		}
	}
	return nil
}

// GroupKey reads the grouping key of a group produced by GroupBy.
type GroupKey struct {
	Group Node
}

// List constructs an array from its items.
type List struct {
	Items []Node
}

type Field struct {
	Name  string
	Value Node
}

// Object constructs a dictionary from named fields.
type Object struct {
	Fields []Field
}

type Lambda struct {
	Params []*Parameter
	Body   Node
}

// Track marks Operand as tracked or untracked. Reads under an untracked
// marker never become dependencies.
type Track struct {
	Tracked bool
	Operand Node
}

func (*Parameter) node()   {}
func (*Constant) node()    {}
func (*Member) node()      {}
func (*Convert) node()     {}
func (*Unary) node()       {}
func (*Binary) node()      {}
func (*Conditional) node() {}
func (*Call) node()        {}
func (*GroupKey) node()    {}
func (*List) node()        {}
func (*Object) node()      {}
func (*Lambda) node()      {}
func (*Track) node()       {}

func (n *Parameter) Type() Type { return n.T }
func (n *Constant) Type() Type  { return n.T }
func (n *Member) Type() Type    { return MemberType(n.Member) }
func (n *Convert) Type() Type   { return n.To }
func (n *Lambda) Type() Type    { return n.Body.Type() }
func (n *Track) Type() Type     { return n.Operand.Type() }

func (n *Unary) Type() Type {
	if n.Op == Not {
		return Type{Kind: Bool}
	}
	return n.Operand.Type()
}

func (n *Binary) Type() Type {
	l, r := n.Left.Type(), n.Right.Type()
	switch {
	case n.Op.IsComparison(), n.Op == And, n.Op == Or:
		return Type{Kind: Bool}
	case n.Op == Coalesce:
		if l.Kind == Null {
			return r
		}
		return l
	case n.Op == Add && (l.Kind == String || r.Kind == String):
		return Type{Kind: String}
	case l.Kind == Float || r.Kind == Float:
		return Type{Kind: Float}
	case l.Kind == Int && r.Kind == Int:
		return Type{Kind: Int}
	}
	return Type{Kind: Any}
}

func (n *Conditional) Type() Type {
	if t := n.Then.Type(); t.Kind != Null {
		return t
	}
	return n.Else.Type()
}

func (n *Call) Type() Type {
	src := n.Source.Type()
	elem := src.ElemType()
	var body Type
	if l := n.Lambda(); l != nil {
		body = l.Body.Type()
	}
	switch n.Method {
	case Where, Distinct, Concat:
		if src.Kind == Group {
			return ListOf(elem)
		}
		return src
	case Select:
		return ListOf(body)
	case SelectMany:
		return ListOf(body.ElemType())
	case Count:
		return Type{Kind: Int}
	case Sum, Min, Max:
		if n.Lambda() != nil {
			return body
		}
		return elem
	case Average:
		return Type{Kind: Float}
	case AnyOf, All, Contains:
		return Type{Kind: Bool}
	case First, FirstOrDefault:
		return elem
	case GroupBy:
		return ListOf(GroupOf(body, elem))
	}
	return Type{Kind: Any}
}

func (n *GroupKey) Type() Type {
	if k := n.Group.Type().Key; k != nil {
		return *k
	}
	return Type{Kind: Any}
}

func (n *List) Type() Type {
	for _, item := range n.Items {
		if t := item.Type(); t.Kind != Null {
			return ListOf(t)
		}
	}
	return ListOf(Type{Kind: Any})
}

func (n *Object) Type() Type { return Type{Kind: KindObject} }

// Walk calls fn for n and every descendant in depth-first pre-order.
func Walk(n Node, fn func(Node)) {
	fn(n)
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Children returns the direct operands of n.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *Member:
		return []Node{n.Target}
	case *Convert:
		return []Node{n.Operand}
	case *Unary:
		return []Node{n.Operand}
	case *Binary:
		return []Node{n.Left, n.Right}
	case *Conditional:
		return []Node{n.Test, n.Then, n.Else}
	case *Call:
		return append([]Node{n.Source}, n.Args...)
	case *GroupKey:
		return []Node{n.Group}
	case *List:
		return n.Items
	case *Object:
		nodes := make([]Node, len(n.Fields))
		for i, f := range n.Fields {
			nodes[i] = f.Value
		}
		return nodes
	case *Lambda:
		return []Node{n.Body}
	case *Track:
		return []Node{n.Operand}
	}
	return nil
}

// Root returns the single parameter of a computed member expression.
func Root(fn *Lambda) (*Parameter, error) {
	if len(fn.Params) != 1 {
		return nil, fmt.Errorf("expression must take exactly one parameter, got %d", len(fn.Params))
	}
	if fn.Params[0].T.Kind != Entity {
		return nil, fmt.Errorf("expression parameter %s must be an entity, got %s", fn.Params[0].Name, fn.Params[0].T)
	}
	return fn.Params[0], nil
}
