package analysis

import (
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/model"
)

// propagateTrack gives a marked subtree the context of its operand; the
// marker itself was applied to parameters resolved beneath it.
func propagateTrack(a *analyzer, n expr.Node) (bool, error) {
	t, ok := n.(*expr.Track)
	if !ok {
		return false, nil
	}
	a.setContext(t, a.context(t.Operand))
	a.partials[t] = a.partials[t.Operand]
	return true, nil
}

func propagateParameter(a *analyzer, n expr.Node) (bool, error) {
	p, ok := n.(*expr.Parameter)
	if !ok {
		return false, nil
	}
	a.depends[p] = true

	var base ContextID
	if p == a.root {
		base = a.g.Root()
	} else {
		base = a.placeholder(p)
	}
	if base == NoContext {
		return true, nil
	}

	m := a.marker()
	if m == nil {
		a.setContext(p, base)
		return true, nil
	}
	key := paramKey{p, m}
	id, ok := a.resolved[key]
	if !ok {
		kind := Untracked
		if m.Tracked {
			kind = Tracked
		}
		parent := a.g.contexts[base]
		id = a.g.add(&Context{Kind: kind, Entity: parent.Entity, Collection: parent.Collection}, base)
		a.resolved[key] = id
	}
	a.setContext(p, id)
	return true, nil
}

// placeholder returns the scoped context of a lambda parameter. It is
// attached to the collection the lambda ranges over once the enclosing call
// is visited.
func (a *analyzer) placeholder(p *expr.Parameter) ContextID {
	if id, ok := a.placeholders[p]; ok {
		return id
	}
	var c *Context
	switch p.T.Kind {
	case expr.Entity:
		c = &Context{Kind: Scoped, Entity: p.T.Entity}
	case expr.Group:
		if p.T.ElemType().Kind != expr.Entity {
			return NoContext
		}
		c = &Context{Kind: Scoped, Entity: p.T.ElemType().Entity, Collection: true}
	default:
		return NoContext
	}
	id := a.g.add(c)
	a.placeholders[p] = id
	return id
}

func propagateMember(a *analyzer, n expr.Node) (bool, error) {
	m, ok := n.(*expr.Member)
	if !ok {
		return false, nil
	}
	target := a.context(m.Target)
	if target == NoContext {
		return true, nil
	}
	a.g.read(target, m.Member)

	nav, ok := m.Member.(*model.Navigation)
	if !ok {
		return true, nil
	}
	id := a.g.navigation(target, nav)
	a.setContext(m, id)
	if nav.Collection {
		a.partials[m] = []ContextID{id}
	}
	return true, nil
}

func propagateConvert(a *analyzer, n expr.Node) (bool, error) {
	c, ok := n.(*expr.Convert)
	if !ok {
		return false, nil
	}
	a.setContext(c, a.context(c.Operand))
	if c.To.IsNumeric() && c.Operand.Type().IsNumeric() {
		a.partials[c] = a.partials[c.Operand]
	} else {
		a.consume(c.Operand)
	}
	return true, nil
}

var scopeRoles = map[expr.Method]Role{
	expr.Where:          RolePredicate,
	expr.Count:          RolePredicate,
	expr.AnyOf:          RolePredicate,
	expr.All:            RolePredicate,
	expr.First:          RolePredicate,
	expr.FirstOrDefault: RolePredicate,
	expr.Select:         RoleSelector,
	expr.SelectMany:     RoleSelector,
	expr.Sum:            RoleSelector,
	expr.Min:            RoleSelector,
	expr.Max:            RoleSelector,
	expr.Average:        RoleSelector,
	expr.GroupBy:        RoleGroup,
}

func propagateCall(a *analyzer, n expr.Node) (bool, error) {
	call, ok := n.(*expr.Call)
	if !ok {
		return false, nil
	}
	src := a.context(call.Source)
	fn := call.Lambda()

	if fn != nil {
		if id, ok := a.placeholders[fn.Params[0]]; ok && src != NoContext {
			s := a.g.contexts[id]
			s.Role = scopeRoles[call.Method]
			if s.Role == RolePredicate {
				s.Predicate = fn
			}
			a.g.link(src, id)
			for _, pending := range a.pendingKeys[id] {
				if key, ok := a.groupKeys[src]; ok {
					a.g.link(key, pending)
				}
			}
		}
	}

	if fn != nil && readsOuterScope(fn) {
		// Every element is re-evaluated when the lambda reads more than its
		// own element.
		a.consume(call.Source)
	}

	switch call.Method {
	case expr.Where:
		if src != NoContext {
			parent := a.g.contexts[src]
			a.setContext(call, a.g.add(&Context{Kind: Filtered, Entity: parent.Entity, Collection: true, Predicate: fn}, src))
		}
		a.partials[call] = union(a.partials[call.Source], a.partials[fn])
	case expr.Distinct:
		if src != NoContext {
			parent := a.g.contexts[src]
			a.setContext(call, a.g.add(&Context{Kind: Distinct, Entity: parent.Entity, Collection: true}, src))
		}
		a.consume(call.Source)
	case expr.Concat:
		other := a.context(call.Args[0])
		a.setContext(call, a.composite(src, other))
		a.partials[call] = union(a.partials[call.Source], a.partials[call.Args[0]])
	case expr.Select, expr.SelectMany:
		if fn == nil {
			return false, a.unsupported(call, "selector is required")
		}
		a.setContext(call, a.context(fn.Body))
		a.partials[call] = union(a.partials[call.Source], a.partials[fn])
	case expr.Count, expr.Sum:
		if fn != nil {
			a.partials[call] = union(a.partials[call.Source], a.partials[fn])
		} else {
			a.partials[call] = a.partials[call.Source]
		}
	case expr.First, expr.FirstOrDefault:
		a.setContext(call, src)
		a.consume(call.Source)
		if fn != nil {
			a.consume(fn)
		}
	case expr.GroupBy:
		if fn == nil {
			return false, a.unsupported(call, "key selector is required")
		}
		if src != NoContext {
			parent := a.g.contexts[src]
			id := a.g.add(&Context{Kind: Scoped, Role: RoleGroup, Entity: parent.Entity, Collection: true}, src)
			a.setContext(call, id)
			if key := a.context(fn.Body); key != NoContext {
				a.groupKeys[id] = key
			}
		}
		a.consume(call.Source, fn)
	default:
		// Min, Max, Average, Any, All, Contains
		a.consume(expr.Children(call)...)
	}
	return true, nil
}

// readsOuterScope reports whether fn refers to a parameter it does not
// declare itself, such as the root entity or an enclosing lambda's element.
func readsOuterScope(fn *expr.Lambda) bool {
	declared := make(map[*expr.Parameter]bool)
	outer := false
	var walk func(n expr.Node)
	walk = func(n expr.Node) {
		switch n := n.(type) {
		case *expr.Lambda:
			for _, p := range n.Params {
				declared[p] = true
			}
		case *expr.Parameter:
			outer = outer || !declared[n]
			return
		}
		for _, c := range expr.Children(n) {
			walk(c)
		}
	}
	walk(fn)
	return outer
}

func (a *analyzer) composite(ids ...ContextID) ContextID {
	var parents []ContextID
	for _, id := range ids {
		if id == NoContext {
			continue
		}
		dup := false
		for _, p := range parents {
			dup = dup || p == id
		}
		if !dup {
			parents = append(parents, id)
		}
	}
	switch len(parents) {
	case 0:
		return NoContext
	case 1:
		return parents[0]
	}
	first := a.g.contexts[parents[0]]
	return a.g.add(&Context{Kind: Composite, Entity: first.Entity, Collection: true}, parents...)
}

// propagateChoice handles conditionals and coalescing: an entity-valued
// result may come from either branch.
func propagateChoice(a *analyzer, n expr.Node) (bool, error) {
	switch n := n.(type) {
	case *expr.Conditional:
		if n.Type().IsEntity() {
			a.setContext(n, a.composite(a.context(n.Then), a.context(n.Else)))
		}
		a.consume(n.Test, n.Then, n.Else)
		return true, nil
	case *expr.Binary:
		if n.Op != expr.Coalesce {
			return false, nil
		}
		if n.Type().IsEntity() {
			a.setContext(n, a.composite(a.context(n.Left), a.context(n.Right)))
		}
		a.consume(n.Left, n.Right)
		return true, nil
	}
	return false, nil
}

func propagateConstruction(a *analyzer, n expr.Node) (bool, error) {
	switch n := n.(type) {
	case *expr.List:
		if n.Type().IsEntity() {
			ids := make([]ContextID, len(n.Items))
			for i, item := range n.Items {
				ids[i] = a.context(item)
			}
			a.setContext(n, a.composite(ids...))
		}
		a.consume(n.Items...)
		return true, nil
	case *expr.Object:
		a.consume(expr.Children(n)...)
		return true, nil
	}
	return false, nil
}

func propagateGroupKey(a *analyzer, n expr.Node) (bool, error) {
	k, ok := n.(*expr.GroupKey)
	if !ok {
		return false, nil
	}
	group := a.context(k.Group)
	if group != NoContext && !a.g.contexts[group].attached {
		// The group parameter is not bound yet; resolve the key once it is.
		if t := k.Type(); t.Kind == expr.Entity {
			id := a.g.add(&Context{Kind: Scoped, Role: RoleGroup, Entity: t.Entity})
			a.pendingKeys[group] = append(a.pendingKeys[group], id)
			a.setContext(k, id)
		}
		return true, nil
	}
	for group != NoContext {
		if key, ok := a.groupKeys[group]; ok {
			a.setContext(k, key)
			break
		}
		c := a.g.contexts[group]
		if len(c.Parents) != 1 {
			break
		}
		group = c.Parents[0]
	}
	return true, nil
}
