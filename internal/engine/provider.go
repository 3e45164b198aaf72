package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"

	"github.com/hanpama/computed/internal/affected"
	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/strategy"
)

// Change is the change result reported for one entity.
type Change[R any] struct {
	Entity host.Entity
	Result R
}

// Changes holds at most one change per entity, in the order entities were
// found affected.
type Changes[R any] []Change[R]

// Get returns the change reported for k.
func (c Changes[R]) Get(k host.Key) (R, bool) {
	for _, ch := range c {
		if ch.Entity.Key() == k {
			return ch.Result, true
		}
	}
	var zero R
	return zero, false
}

func (c Changes[R]) Keys() []host.Key {
	keys := make([]host.Key, len(c))
	for i, ch := range c {
		keys[i] = ch.Entity.Key()
	}
	return keys
}

// ChangeProvider computes, per evaluation cycle, the change of an expression
// for every affected entity, relative to what it reported before.
type ChangeProvider[V, R any] struct {
	strategy strategy.Strategy[V, R]
	artifact *Artifact
	filter   *Artifact
	affected affected.Provider
	memory   *strategy.Memory[R]
	// incremental is false when the strategy evaluates in full, or when
	// the result collection may hold one element for several entities.
	incremental bool
	// unset, when set, reports entities whose first result is a no-change
	// anyway.
	unset func(rt host.Runtime, e host.Entity) bool
}

// NewChangeProvider builds a provider for fn. filter, when not nil, must be
// a boolean expression over the same entity type; entities failing it are
// skipped.
func NewChangeProvider[V, R any](a *Artifacts, fn *expr.Lambda, s strategy.Strategy[V, R], filter *expr.Lambda) (*ChangeProvider[V, R], error) {
	root, err := expr.Root(fn)
	if err != nil {
		return nil, err
	}
	art, err := a.Get(fn)
	if err != nil {
		return nil, err
	}
	if art.Result.TrackedAccessCount() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTrackedAccess, fn)
	}
	p := &ChangeProvider[V, R]{
		strategy:    s,
		artifact:    art,
		affected:    art.Affected,
		memory:      strategy.NewMemory[R](),
		incremental: s.Incremental() && (!fn.Body.Type().IsCollection() || distinctElements(fn.Body)),
	}
	if filter != nil {
		froot, err := expr.Root(filter)
		if err != nil {
			return nil, err
		}
		if froot.T.Entity != root.T.Entity {
			return nil, fmt.Errorf("filter %s ranges over %s, not %s", filter, froot.T, root.T)
		}
		if k := filter.Body.Type().Kind; k != expr.Bool && k != expr.Any {
			return nil, fmt.Errorf("filter %s must be a Boolean, got %s", filter, filter.Body.Type())
		}
		if p.filter, err = a.Get(filter); err != nil {
			return nil, err
		}
		p.affected = affected.Union(art.Affected, p.filter.Affected)
	}
	return p, nil
}

// distinctElements reports whether each element of the collection n is an
// entity reached by navigation, so that the elements of changed entities
// can be added or removed on their own.
func distinctElements(n expr.Node) bool {
	switch n := n.(type) {
	case *expr.Member:
		return true
	case *expr.Track:
		return distinctElements(n.Operand)
	case *expr.Call:
		if n.Method == expr.Where {
			return distinctElements(n.Source)
		}
	}
	return false
}

func (p *ChangeProvider[V, R]) Strategy() strategy.Strategy[V, R] { return p.strategy }

func (p *ChangeProvider[V, R]) Artifact() *Artifact { return p.artifact }

// Remembered returns how many entities hold a change memory entry.
func (p *ChangeProvider[V, R]) Remembered() int { return p.memory.Len() }

// Forget clears the change memory. Call it once the host has accepted the
// batch.
func (p *ChangeProvider[V, R]) Forget() { p.memory.Clear() }

// GetChanges runs one evaluation cycle against rt.
func (p *ChangeProvider[V, R]) GetChanges(ctx context.Context, rt host.Runtime) (Changes[R], error) {
	in := affected.NewInput(rt)
	set, err := p.affected.AffectedEntities(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to find affected entities: %w", err)
	}

	roots := make([]host.Entity, 0, set.Len())
	for _, e := range set.Items() {
		if rt.State(e) == host.Deleted {
			continue
		}
		if p.filter != nil {
			ok, err := p.accepts(ctx, in, e)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		roots = append(roots, e)
	}

	if !p.incremental {
		if err := preload(ctx, in, p.artifact.Result.Graph, roots); err != nil {
			return nil, err
		}
	}

	var changes Changes[R]
	for _, e := range roots {
		raw, err := p.compute(ctx, in, e)
		if err != nil {
			return nil, err
		}
		prev, hasPrev := p.memory.Get(e.Key())
		p.memory.Put(e, raw)
		r, ok := p.sinceLast(prev, hasPrev, raw)
		if !ok && !hasPrev && p.unset != nil && p.unset(rt, e) {
			ok = true
		}
		if ok {
			changes = append(changes, Change[R]{Entity: e, Result: r})
		}
	}

	current := host.NewEntitySet(roots...)
	for _, e := range p.memory.Entities() {
		if current.Contains(e) {
			continue
		}
		prev, _ := p.memory.Get(e.Key())
		p.memory.Evict(e.Key())
		if rt.State(e) == host.Deleted {
			continue
		}
		raw, err := p.compute(ctx, in, e)
		if err != nil {
			return nil, err
		}
		if r, ok := p.sinceLast(prev, true, raw); ok {
			changes = append(changes, Change[R]{Entity: e, Result: r})
		}
	}
	return changes, nil
}

// sinceLast turns a raw result into the change since the result reported
// before, and says whether it is worth reporting.
func (p *ChangeProvider[V, R]) sinceLast(prev R, hasPrev bool, raw R) (R, bool) {
	s := p.strategy
	if !hasPrev {
		return raw, !s.IsNoChange(raw)
	}
	if sl, ok := s.(strategy.SinceLast[R]); ok && sl.Unchanged(prev, raw) {
		return raw, false
	}
	r := s.MergeDelta(s.Invert(prev), raw)
	return r, !s.IsNoChange(r)
}

func (p *ChangeProvider[V, R]) compute(ctx context.Context, in *affected.Input, e host.Entity) (R, error) {
	var zero R
	state := in.Runtime.State(e)
	incremental := p.incremental && state != host.Added

	var original V
	if state != host.Added {
		v, err := p.artifact.Original.Get(e, p.source(ctx, in, incremental))
		if err != nil {
			return zero, fmt.Errorf("failed to evaluate original value of %s for %s: %w", p.artifact.Result.Lambda, e.Key(), err)
		}
		if original, err = p.strategy.Value(v); err != nil {
			return zero, fmt.Errorf("original value of %s for %s: %w", p.artifact.Result.Lambda, e.Key(), err)
		}
	}
	v, err := p.artifact.Current.Get(e, p.source(ctx, in, incremental))
	if err != nil {
		return zero, fmt.Errorf("failed to evaluate current value of %s for %s: %w", p.artifact.Result.Lambda, e.Key(), err)
	}
	current, err := p.strategy.Value(v)
	if err != nil {
		return zero, fmt.Errorf("current value of %s for %s: %w", p.artifact.Result.Lambda, e.Key(), err)
	}
	return p.strategy.GetChange(original, current), nil
}

func (p *ChangeProvider[V, R]) source(ctx context.Context, in *affected.Input, incremental bool) analysis.Source {
	if incremental {
		return newPartialSource(ctx, in)
	}
	return &source{ctx: ctx, in: in}
}

func (p *ChangeProvider[V, R]) accepts(ctx context.Context, in *affected.Input, e host.Entity) (bool, error) {
	v, err := p.filter.Current.Get(e, &source{ctx: ctx, in: in})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %s for %s: %w", p.filter.Result.Lambda, e.Key(), err)
	}
	ok, _ := v.(bool)
	return ok, nil
}

// preload fetches, context by context, every navigation the expression may
// step through for roots, so that evaluation finds them cached. Parents
// always precede children in the arena, so one forward sweep suffices.
// Both sides of the batch load concurrently.
func preload(ctx context.Context, in *affected.Input, g *analysis.Graph, roots []host.Entity) error {
	if len(roots) == 0 {
		return nil
	}
	modes := []analysis.Mode{analysis.Original, analysis.Current}
	reached := make([][][]host.Entity, len(modes))
	for i, mode := range modes {
		reached[i] = make([][]host.Entity, len(g.Contexts()))
		for _, e := range roots {
			if mode == analysis.Original && in.Runtime.State(e) == host.Added {
				continue
			}
			reached[i][g.Root()] = append(reached[i][g.Root()], e)
		}
	}

	for _, c := range g.Contexts() {
		if c.ID == g.Root() {
			continue
		}
		eg, egctx := errgroup.WithContext(ctx)
		for i, mode := range modes {
			level := reached[i]
			eg.Go(func() error {
				parents := host.NewEntitySet()
				for _, pid := range c.Parents {
					for _, e := range level[pid] {
						if c.Kind == analysis.Navigation && e.Type() != c.Navigation.Entity {
							continue
						}
						parents.Add(e)
					}
				}
				if c.Kind != analysis.Navigation {
					level[c.ID] = parents.Items()
					return nil
				}
				if parents.Len() == 0 {
					return nil
				}
				start := time.Now()
				err := in.Load(egctx, c.Navigation, parents.Items(), mode)
				eventbus.Publish(egctx, events.NavigationLoad{
					Navigation: c.Navigation.String(),
					Mode:       mode.String(),
					Entities:   parents.Len(),
					Err:        err,
					Duration:   time.Since(start),
				})
				if err != nil {
					return err
				}
				targets := host.NewEntitySet()
				for _, e := range parents.Items() {
					targets.AddAll(host.NewEntitySet(affected.Entities(in.Value(e, c.Navigation, mode))...))
				}
				level[c.ID] = targets.Items()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}
