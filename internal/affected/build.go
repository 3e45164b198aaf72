package affected

import (
	"errors"
	"fmt"

	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/model"
)

// ErrMissingInverse is returned when changes beneath a navigation are
// tracked but the navigation cannot be walked backwards.
var ErrMissingInverse = errors.New("tracked navigation has no inverse")

type builder struct {
	g    *analysis.Graph
	memo map[analysis.ContextID]Provider
}

// Build composes the provider answering which root entities of g are
// affected by a batch.
func Build(g *analysis.Graph) (Provider, error) {
	b := &builder{g: g, memo: make(map[analysis.ContextID]Provider)}
	return b.build(g.Root())
}

func (b *builder) build(id analysis.ContextID) (Provider, error) {
	if p, ok := b.memo[id]; ok {
		return p, nil
	}
	c := b.g.Context(id)

	var providers []Provider
	for _, m := range c.Accessed {
		switch m := m.(type) {
		case *model.Property:
			providers = append(providers, &propertyChanged{prop: m})
		case *model.Navigation:
			navCtx, _ := b.g.NavigationContext(id, m)
			providers = append(providers, &navigationChanged{nav: m, navCtx: navCtx})
		}
	}

	for _, childID := range c.Children {
		inner, err := b.build(childID)
		if err != nil {
			return nil, err
		}
		if inner == Empty {
			continue
		}
		child := b.g.Context(childID)
		switch child.Kind {
		case analysis.Navigation:
			if child.Navigation.Inverse == nil {
				return nil, fmt.Errorf("%w: %s", ErrMissingInverse, child.Navigation)
			}
			providers = append(providers, &loadThroughInverse{nav: child.Navigation, navCtx: childID, inner: inner})
		case analysis.Filtered:
			if child.Predicate != nil && closed(child.Predicate) {
				inner = &filtered{predicate: child.Predicate, inner: inner}
			}
			providers = append(providers, inner)
		default:
			providers = append(providers, inner)
		}
	}

	p := Union(providers...)
	b.memo[id] = p
	return p, nil
}

// closed reports whether fn only refers to its own parameters and those of
// lambdas nested in it.
func closed(fn *expr.Lambda) bool {
	bound := make(map[*expr.Parameter]bool)
	expr.Walk(fn, func(n expr.Node) {
		if l, ok := n.(*expr.Lambda); ok {
			for _, p := range l.Params {
				bound[p] = true
			}
		}
	})
	ok := true
	expr.Walk(fn, func(n expr.Node) {
		if p, isParam := n.(*expr.Parameter); isParam && !bound[p] {
			ok = false
		}
	})
	return ok
}
