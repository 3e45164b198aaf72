package engine

import (
	"context"

	"github.com/hanpama/computed/internal/affected"
	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
)

// source reads values through the cycle's Input, loading navigations on
// first use.
type source struct {
	ctx context.Context
	in  *affected.Input
}

func (s *source) Value(e host.Entity, m model.Member, mode analysis.Mode) (any, error) {
	if nav, ok := m.(*model.Navigation); ok {
		if err := s.in.Load(s.ctx, nav, []host.Entity{e}, mode); err != nil {
			return nil, err
		}
	}
	return s.in.Value(e, m, mode), nil
}

// partialSource narrows collections to the elements recorded in the
// incremental context. An element that entered or left its collection, or
// was reached through a relationship that changed, is whole: collections
// beneath it are read in full.
type partialSource struct {
	source
	whole map[host.Key]bool
}

func newPartialSource(ctx context.Context, in *affected.Input) *partialSource {
	return &partialSource{source: source{ctx: ctx, in: in}, whole: make(map[host.Key]bool)}
}

func (s *partialSource) Value(e host.Entity, m model.Member, mode analysis.Mode) (any, error) {
	v, err := s.source.Value(e, m, mode)
	if err != nil {
		return nil, err
	}
	if nav, ok := m.(*model.Navigation); ok && !nav.Collection {
		if s.whole[e.Key()] || navigationChanged(s.in.Runtime, e, nav) {
			s.markWhole(affected.Entities(v))
		}
	}
	return v, nil
}

func (s *partialSource) Partial(id analysis.ContextID, parent host.Entity, nav *model.Navigation, mode analysis.Mode) ([]host.Entity, bool, error) {
	v, err := s.source.Value(parent, nav, mode)
	if err != nil {
		return nil, false, err
	}
	all := affected.Entities(v)
	pk := parent.Key()
	ic := s.in.Incremental
	if s.whole[pk] || ic.FullLoadRequested(id, pk) {
		s.markWhole(all)
		return all, true, nil
	}
	recorded := ic.Children(id, pk)
	var out []host.Entity
	for _, e := range all {
		if !recorded.Contains(e) {
			continue
		}
		out = append(out, e)
		if ic.IsWhole(id, pk, e.Key()) {
			s.whole[e.Key()] = true
		}
	}
	return out, true, nil
}

func (s *partialSource) markWhole(entities []host.Entity) {
	for _, e := range entities {
		s.whole[e.Key()] = true
	}
}

func navigationChanged(rt host.Runtime, e host.Entity, nav *model.Navigation) bool {
	switch rt.State(e) {
	case host.Added, host.Deleted:
		return true
	case host.Modified:
		return rt.IsModified(e, nav)
	}
	return false
}
