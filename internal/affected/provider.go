// Package affected finds the root entities whose computed value may be
// stale after a write batch, by walking relationship inverses from the
// members that changed up to the root of an expression.
package affected

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
)

// Provider answers which entities at some context are affected by the
// changes visible through Input. Two providers with the same String are
// interchangeable.
type Provider interface {
	AffectedEntities(ctx context.Context, in *Input) (*host.EntitySet, error)
	String() string
}

func touched(in *Input, e host.Entity, m model.Member) bool {
	switch in.Runtime.State(e) {
	case host.Added, host.Deleted:
		return true
	case host.Modified:
		return in.Runtime.IsModified(e, m)
	}
	return false
}

type propertyChanged struct {
	prop *model.Property
}

func (p *propertyChanged) AffectedEntities(ctx context.Context, in *Input) (*host.EntitySet, error) {
	out := host.NewEntitySet()
	for _, e := range in.Changed() {
		if e.Type() == p.prop.Entity && touched(in, e, p.prop) {
			out.Add(e)
		}
	}
	return out, nil
}

func (p *propertyChanged) String() string { return "property(" + p.prop.String() + ")" }

// navigationChanged reports entities whose navigation changed, from either
// side of the relationship. For collections it records which elements
// entered or left.
type navigationChanged struct {
	nav    *model.Navigation
	navCtx analysis.ContextID
}

func (p *navigationChanged) AffectedEntities(ctx context.Context, in *Input) (*host.EntitySet, error) {
	out := host.NewEntitySet()
	for _, e := range in.Changed() {
		if e.Type() != p.nav.Entity || !touched(in, e, p.nav) {
			continue
		}
		out.Add(e)
		if !p.nav.Collection {
			continue
		}
		original, current, err := in.Sides(ctx, p.nav, e)
		if err != nil {
			return nil, err
		}
		before, after := host.NewEntitySet(original...), host.NewEntitySet(current...)
		for _, child := range original {
			if !after.Contains(child) {
				in.Incremental.Record(p.navCtx, e, child, true)
			}
		}
		for _, child := range current {
			if !before.Contains(child) {
				in.Incremental.Record(p.navCtx, e, child, true)
			}
		}
	}

	inverse := p.nav.Inverse
	if inverse == nil {
		return out, nil
	}
	for _, x := range in.Changed() {
		if x.Type() != inverse.Entity || !touched(in, x, inverse) {
			continue
		}
		original, current, err := in.Sides(ctx, inverse, x)
		if err != nil {
			return nil, err
		}
		before, after := host.NewEntitySet(original...), host.NewEntitySet(current...)
		all := host.NewEntitySet(original...)
		all.AddAll(after)
		for _, parent := range all.Items() {
			if parent.Type() != p.nav.Entity {
				continue
			}
			if before.Contains(parent) == after.Contains(parent) {
				continue
			}
			out.Add(parent)
			if p.nav.Collection {
				in.Incremental.Record(p.navCtx, parent, x, true)
			}
		}
	}
	return out, nil
}

func (p *navigationChanged) String() string { return "navigation(" + p.nav.String() + ")" }

// loadThroughInverse maps entities affected at a navigation context to the
// entities at its parent, following the navigation's inverse on both sides
// of the batch.
type loadThroughInverse struct {
	nav    *model.Navigation
	navCtx analysis.ContextID
	inner  Provider
}

func (p *loadThroughInverse) AffectedEntities(ctx context.Context, in *Input) (*host.EntitySet, error) {
	children, err := p.inner.AffectedEntities(ctx, in)
	if err != nil {
		return nil, err
	}
	out := host.NewEntitySet()
	for _, child := range children.Items() {
		original, current, err := in.Sides(ctx, p.nav.Inverse, child)
		if err != nil {
			return nil, err
		}
		before, after := host.NewEntitySet(original...), host.NewEntitySet(current...)
		all := host.NewEntitySet(original...)
		all.AddAll(after)
		for _, parent := range all.Items() {
			out.Add(parent)
			if p.nav.Collection {
				in.Incremental.Record(p.navCtx, parent, child, before.Contains(parent) != after.Contains(parent))
			}
		}
	}
	return out, nil
}

func (p *loadThroughInverse) String() string {
	return "inverse(" + p.nav.String() + ", " + p.inner.String() + ")"
}

// filtered keeps the entities that satisfy the predicate before or after
// the batch.
type filtered struct {
	predicate *expr.Lambda
	inner     Provider
}

func (p *filtered) AffectedEntities(ctx context.Context, in *Input) (*host.EntitySet, error) {
	entities, err := p.inner.AffectedEntities(ctx, in)
	if err != nil {
		return nil, err
	}
	out := host.NewEntitySet()
	for _, e := range entities.Items() {
		ok, err := p.matches(ctx, in, e)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Add(e)
		}
	}
	return out, nil
}

func (p *filtered) matches(ctx context.Context, in *Input, e host.Entity) (bool, error) {
	state := in.Runtime.State(e)
	for _, mode := range []analysis.Mode{analysis.Original, analysis.Current} {
		if (mode == analysis.Original && state == host.Added) || (mode == analysis.Current && state == host.Deleted) {
			continue
		}
		v, err := expr.Eval(p.predicate, in.Env(ctx, mode), e)
		if err != nil {
			return false, fmt.Errorf("failed to evaluate %s: %w", p.predicate, err)
		}
		if b, _ := v.(bool); b {
			return true, nil
		}
	}
	return false, nil
}

func (p *filtered) String() string {
	return "where(" + p.predicate.String() + ", " + p.inner.String() + ")"
}

type union struct {
	providers []Provider
}

// Union composes providers, dropping structural duplicates.
func Union(providers ...Provider) Provider {
	seen := make(map[string]struct{})
	var flat []Provider
	var add func(p Provider)
	add = func(p Provider) {
		switch p := p.(type) {
		case nil, empty:
			return
		case *union:
			for _, q := range p.providers {
				add(q)
			}
			return
		}
		if _, ok := seen[p.String()]; ok {
			return
		}
		seen[p.String()] = struct{}{}
		flat = append(flat, p)
	}
	for _, p := range providers {
		add(p)
	}
	switch len(flat) {
	case 0:
		return Empty
	case 1:
		return flat[0]
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].String() < flat[j].String() })
	return &union{providers: flat}
}

func (p *union) AffectedEntities(ctx context.Context, in *Input) (*host.EntitySet, error) {
	out := host.NewEntitySet()
	for _, q := range p.providers {
		entities, err := q.AffectedEntities(ctx, in)
		if err != nil {
			return nil, err
		}
		out.AddAll(entities)
	}
	return out, nil
}

func (p *union) String() string {
	parts := make([]string, len(p.providers))
	for i, q := range p.providers {
		parts[i] = q.String()
	}
	return "union(" + strings.Join(parts, ", ") + ")"
}

type empty struct{}

// Empty never reports affected entities.
var Empty Provider = empty{}

func (empty) AffectedEntities(context.Context, *Input) (*host.EntitySet, error) {
	return host.NewEntitySet(), nil
}

func (empty) String() string { return "empty" }
