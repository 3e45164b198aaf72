package analysis

import (
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/model"
)

// ContextID indexes a context in its graph's arena. IDs are stable and
// parents always have lower IDs than their children.
type ContextID int

const NoContext ContextID = -1

// Kind is the variant of an entity context.
type Kind int

const (
	Root Kind = iota
	Navigation
	Scoped
	Distinct
	Filtered
	Composite
	Untracked
	Tracked
)

var kindNames = [...]string{"root", "navigation", "scoped", "distinct", "filtered", "composite", "untracked", "tracked"}

func (k Kind) String() string { return kindNames[k] }

// Role says why a scoped context was opened.
type Role int

const (
	RoleNone Role = iota
	RoleSelector
	RolePredicate
	RoleGroup
)

var roleNames = [...]string{"", "selector", "predicate", "group"}

func (r Role) String() string { return roleNames[r] }

// Context is a node of the entity context graph: the set of entities
// reachable at some point of an expression, and how they were reached.
type Context struct {
	ID       ContextID
	Kind     Kind
	Parents  []ContextID
	Children []ContextID

	// Entity is the type of the entities at this context.
	Entity *model.EntityType
	// Collection is set when values at this context are enumerated.
	Collection bool
	// Navigation is the relationship stepped through (Navigation only).
	Navigation *model.Navigation
	// Role is set on Scoped contexts.
	Role Role
	// Predicate restricts a Filtered context. Predicate scopes carry the
	// lambda they bind.
	Predicate *expr.Lambda

	// Accessed lists members read at this context while tracking.
	Accessed []model.Member

	reads    []model.Member
	fullLoad bool
	attached bool
}

type navKey struct {
	parent ContextID
	nav    *model.Navigation
}

// Graph is an arena of contexts. It is immutable once analysis completes.
type Graph struct {
	contexts []*Context
	navs     map[navKey]ContextID
	tracking []bool
	full     []bool
}

func newGraph() *Graph {
	return &Graph{navs: make(map[navKey]ContextID)}
}

func (g *Graph) add(c *Context, parents ...ContextID) ContextID {
	c.ID = ContextID(len(g.contexts))
	g.contexts = append(g.contexts, c)
	for _, p := range parents {
		g.link(p, c.ID)
	}
	return c.ID
}

func (g *Graph) link(parent, child ContextID) {
	c := g.contexts[child]
	for _, p := range c.Parents {
		if p == parent {
			return
		}
	}
	c.Parents = append(c.Parents, parent)
	g.contexts[parent].Children = append(g.contexts[parent].Children, child)
	c.attached = true
}

func (g *Graph) navigation(parent ContextID, nav *model.Navigation) ContextID {
	k := navKey{parent, nav}
	if id, ok := g.navs[k]; ok {
		return id
	}
	id := g.add(&Context{Kind: Navigation, Entity: nav.Target, Collection: nav.Collection, Navigation: nav}, parent)
	g.navs[k] = id
	return id
}

func (g *Graph) read(id ContextID, m model.Member) {
	c := g.contexts[id]
	for _, r := range c.reads {
		if r == m {
			return
		}
	}
	c.reads = append(c.reads, m)
}

// seal resolves tracking and full-load flags and registers accessed members.
func (g *Graph) seal() {
	g.tracking = make([]bool, len(g.contexts))
	g.full = make([]bool, len(g.contexts))
	for _, c := range g.contexts {
		switch c.Kind {
		case Root, Tracked:
			g.tracking[c.ID] = true
		case Untracked:
			g.tracking[c.ID] = false
		case Composite:
			for _, p := range c.Parents {
				g.tracking[c.ID] = g.tracking[c.ID] || g.tracking[p]
			}
		default:
			g.tracking[c.ID] = len(c.Parents) > 0 && g.tracking[c.Parents[0]]
		}
		g.full[c.ID] = c.fullLoad
		for _, p := range c.Parents {
			g.full[c.ID] = g.full[c.ID] || g.full[p]
		}
		if g.tracking[c.ID] {
			c.Accessed = c.reads
		}
	}
}

func (g *Graph) Root() ContextID { return 0 }

func (g *Graph) Context(id ContextID) *Context { return g.contexts[id] }

// Contexts returns every context in arena order, which is topological.
func (g *Graph) Contexts() []*Context { return g.contexts }

// IsTracking reports whether reads at id become dependencies.
func (g *Graph) IsTracking(id ContextID) bool { return g.tracking[id] }

// IsFullLoad reports whether the collection at id must always be evaluated
// in full rather than from the entities that changed.
func (g *Graph) IsFullLoad(id ContextID) bool { return g.full[id] }

// NavigationContext returns the context reached from parent through nav.
func (g *Graph) NavigationContext(parent ContextID, nav *model.Navigation) (ContextID, bool) {
	id, ok := g.navs[navKey{parent, nav}]
	return id, ok
}

// PredicateScopes returns the predicate scopes that decide membership of a
// Filtered context: the entities whose predicate inputs may flip it.
func (g *Graph) PredicateScopes(id ContextID) []ContextID {
	c := g.contexts[id]
	if c.Kind != Filtered || c.Predicate == nil || len(c.Parents) == 0 {
		return nil
	}
	var scopes []ContextID
	for _, child := range g.contexts[c.Parents[0]].Children {
		s := g.contexts[child]
		if s.Kind == Scoped && s.Role == RolePredicate && s.Predicate == c.Predicate {
			scopes = append(scopes, child)
		}
	}
	return scopes
}
