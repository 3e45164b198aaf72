package analysis

import (
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
)

// Result is the outcome of analyzing one expression.
type Result struct {
	Lambda *expr.Lambda
	Graph  *Graph

	ctxOf map[expr.Node]ContextID
}

func (r *Result) Root() ContextID { return r.Graph.Root() }

// ContextOf returns the context assigned to n, if any.
func (r *Result) ContextOf(n expr.Node) (ContextID, bool) {
	id, ok := r.ctxOf[n]
	return id, ok
}

// AccessedMembers returns every tracked member read, without duplicates.
func (r *Result) AccessedMembers() []model.Member {
	var members []model.Member
	seen := make(map[model.Member]struct{})
	for _, c := range r.Graph.contexts {
		for _, m := range c.Accessed {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			members = append(members, m)
		}
	}
	return members
}

// TrackedAccessCount counts tracked reads over all contexts.
func (r *Result) TrackedAccessCount() int {
	n := 0
	for _, c := range r.Graph.contexts {
		n += len(c.Accessed)
	}
	return n
}

// Mode selects which side of a write batch a getter reads.
type Mode int

const (
	Current Mode = iota
	Original
)

func (m Mode) String() string {
	if m == Original {
		return "original"
	}
	return "current"
}

// Source supplies member values to a Getter.
type Source interface {
	Value(e host.Entity, m model.Member, mode Mode) (any, error)
}

// PartialSource additionally narrows collections to the elements whose
// contribution may have changed. ok is false when the full collection must
// be used.
type PartialSource interface {
	Source
	Partial(id ContextID, parent host.Entity, nav *model.Navigation, mode Mode) (items []host.Entity, ok bool, err error)
}

// Getter evaluates the analyzed expression against one side of a batch.
type Getter struct {
	result *Result
	mode   Mode
}

func (r *Result) ValueGetter(mode Mode) *Getter {
	return &Getter{result: r, mode: mode}
}

func (g *Getter) Mode() Mode { return g.mode }

// Get evaluates the expression for root. When src is a PartialSource,
// collections that are not marked for full load are narrowed.
func (g *Getter) Get(root host.Entity, src Source) (any, error) {
	return expr.Eval(g.result.Lambda, &getterEnv{g: g, src: src}, root)
}

type getterEnv struct {
	g   *Getter
	src Source
}

func (env *getterEnv) MemberValue(n *expr.Member, target host.Entity) (any, error) {
	nav, ok := n.Member.(*model.Navigation)
	if ok && nav.Collection {
		if ps, ok := env.src.(PartialSource); ok {
			if id, ok := env.g.result.ContextOf(n); ok && !env.g.result.Graph.IsFullLoad(id) {
				items, ok, err := ps.Partial(id, target, nav, env.g.mode)
				if err != nil {
					return nil, err
				}
				if ok {
					return items, nil
				}
			}
		}
	}
	return env.src.Value(target, n.Member, env.g.mode)
}
