// Package analysis assigns an entity context to every subexpression of a
// computed member expression and records the members it reads.
package analysis

import (
	"github.com/hanpama/computed/internal/expr"
)

// propagator handles one expression shape. It reports whether it matched.
type propagator func(a *analyzer, n expr.Node) (bool, error)

// propagators are consulted in order; the first match wins.
var propagators = []propagator{
	propagateTrack,
	propagateParameter,
	propagateMember,
	propagateConvert,
	propagateCall,
	propagateChoice,
	propagateConstruction,
	propagateGroupKey,
}

type paramKey struct {
	param  *expr.Parameter
	marker *expr.Track
}

type analyzer struct {
	fn   *expr.Lambda
	root *expr.Parameter
	g    *Graph

	ctxOf    map[expr.Node]ContextID
	depends  map[expr.Node]bool
	partials map[expr.Node][]ContextID

	// Lambda parameters seen before their call was visited.
	placeholders map[*expr.Parameter]ContextID
	// Contexts resolved for a parameter under a tracking marker.
	resolved map[paramKey]ContextID
	// Key selector contexts of GroupBy results, by group context.
	groupKeys map[ContextID]ContextID
	// Key contexts waiting for their group parameter to be bound.
	pendingKeys map[ContextID][]ContextID

	markers []*expr.Track
}

// Analyze builds the entity context graph of fn, a single-parameter lambda
// over the root entity type.
func Analyze(fn *expr.Lambda) (*Result, error) {
	root, err := expr.Root(fn)
	if err != nil {
		return nil, err
	}
	a := &analyzer{
		fn:           fn,
		root:         root,
		g:            newGraph(),
		ctxOf:        make(map[expr.Node]ContextID),
		depends:      make(map[expr.Node]bool),
		partials:     make(map[expr.Node][]ContextID),
		placeholders: make(map[*expr.Parameter]ContextID),
		resolved:     make(map[paramKey]ContextID),
		groupKeys:    make(map[ContextID]ContextID),
		pendingKeys:  make(map[ContextID][]ContextID),
	}
	a.g.add(&Context{Kind: Root, Entity: root.T.Entity, attached: true})

	if err := a.visit(fn.Body); err != nil {
		return nil, err
	}
	a.g.seal()

	return &Result{Lambda: fn, Graph: a.g, ctxOf: a.ctxOf}, nil
}

func (a *analyzer) visit(n expr.Node) error {
	if t, ok := n.(*expr.Track); ok {
		a.markers = append(a.markers, t)
		err := a.visit(t.Operand)
		a.markers = a.markers[:len(a.markers)-1]
		if err != nil {
			return err
		}
	} else {
		for _, c := range expr.Children(n) {
			if err := a.visit(c); err != nil {
				return err
			}
		}
	}

	for _, c := range expr.Children(n) {
		a.depends[n] = a.depends[n] || a.depends[c]
	}

	matched := false
	for _, p := range propagators {
		ok, err := p(a, n)
		if err != nil {
			return err
		}
		if ok {
			matched = true
			break
		}
	}
	if !matched {
		a.passThrough(n)
	}

	if n.Type().IsEntity() && a.depends[n] && a.context(n) == NoContext {
		return a.unsupported(n, "entity-valued result has no traceable provenance")
	}
	return nil
}

// passThrough handles shapes no propagator claims. They never invent a
// context; collections they consume are evaluated in full.
func (a *analyzer) passThrough(n expr.Node) {
	switch n := n.(type) {
	case *expr.Lambda:
		a.setContext(n, a.context(n.Body))
		a.partials[n] = a.partials[n.Body]
	case *expr.Unary:
		if n.Op == expr.Negate {
			a.partials[n] = a.partials[n.Operand]
			return
		}
		a.consume(n.Operand)
	case *expr.Binary:
		if (n.Op == expr.Add && n.Type().IsNumeric()) || n.Op == expr.Subtract {
			a.partials[n] = union(a.partials[n.Left], a.partials[n.Right])
			return
		}
		a.consume(n.Left, n.Right)
	default:
		a.consume(expr.Children(n)...)
	}
}

func (a *analyzer) context(n expr.Node) ContextID {
	if id, ok := a.ctxOf[n]; ok {
		return id
	}
	return NoContext
}

func (a *analyzer) setContext(n expr.Node, id ContextID) {
	if id != NoContext {
		a.ctxOf[n] = id
	}
}

// consume marks every partially enumerated collection feeding nodes as
// requiring a full load.
func (a *analyzer) consume(nodes ...expr.Node) {
	for _, n := range nodes {
		for _, id := range a.partials[n] {
			a.g.contexts[id].fullLoad = true
		}
	}
}

func (a *analyzer) marker() *expr.Track {
	if len(a.markers) == 0 {
		return nil
	}
	return a.markers[len(a.markers)-1]
}

func (a *analyzer) unsupported(n expr.Node, reason string) error {
	return &UnsupportedExpressionError{Expression: a.fn.String(), Node: n.String(), Reason: reason}
}

func union(a, b []ContextID) []ContextID {
	if len(a) == 0 {
		return b
	}
	out := append([]ContextID(nil), a...)
	for _, id := range b {
		dup := false
		for _, x := range a {
			if x == id {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}
