package affected

import (
	"context"
	"fmt"
	"sync"

	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
)

type loadKey struct {
	nav  *model.Navigation
	mode analysis.Mode
	key  host.Key
}

// Input is the per-cycle view of the host handed to providers. It remembers
// which navigations were already loaded so each is fetched at most once per
// cycle; nothing survives the cycle.
type Input struct {
	Runtime     host.Runtime
	Incremental *IncrementalContext

	mu      sync.Mutex
	changed []host.Entity
	loaded  map[loadKey]struct{}
}

func NewInput(rt host.Runtime) *Input {
	return &Input{
		Runtime:     rt,
		Incremental: NewIncrementalContext(),
		loaded:      make(map[loadKey]struct{}),
	}
}

// Changed returns the host's changed entities, read once per cycle.
func (in *Input) Changed() []host.Entity {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.changed == nil {
		in.changed = in.Runtime.Changed()
		if in.changed == nil {
			in.changed = []host.Entity{}
		}
	}
	return in.changed
}

// Load fetches nav for the given entities on one side of the batch,
// skipping entities already loaded this cycle.
func (in *Input) Load(ctx context.Context, nav *model.Navigation, entities []host.Entity, mode analysis.Mode) error {
	in.mu.Lock()
	var pending []host.Entity
	for _, e := range entities {
		k := loadKey{nav, mode, e.Key()}
		if _, ok := in.loaded[k]; ok {
			continue
		}
		in.loaded[k] = struct{}{}
		pending = append(pending, e)
	}
	in.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	var err error
	if mode == analysis.Original {
		_, err = in.Runtime.LoadOriginal(ctx, nav, pending)
	} else {
		_, err = in.Runtime.LoadCurrent(ctx, nav, pending)
	}
	if err != nil {
		in.mu.Lock()
		for _, e := range pending {
			delete(in.loaded, loadKey{nav, mode, e.Key()})
		}
		in.mu.Unlock()
		return fmt.Errorf("failed to load %s (%s): %w", nav, mode, err)
	}
	return nil
}

// Value reads m on e. Navigations must have been loaded.
func (in *Input) Value(e host.Entity, m model.Member, mode analysis.Mode) any {
	if mode == analysis.Original {
		return in.Runtime.OriginalValue(e, m)
	}
	return in.Runtime.CurrentValue(e, m)
}

// Targets loads nav on e and returns the entities it points at.
func (in *Input) Targets(ctx context.Context, nav *model.Navigation, e host.Entity, mode analysis.Mode) ([]host.Entity, error) {
	if err := in.Load(ctx, nav, []host.Entity{e}, mode); err != nil {
		return nil, err
	}
	return Entities(in.Value(e, nav, mode)), nil
}

// Sides returns the entities nav points at on e before and after the batch.
// Added entities have no original side and deleted entities no current side.
func (in *Input) Sides(ctx context.Context, nav *model.Navigation, e host.Entity) (original, current []host.Entity, err error) {
	state := in.Runtime.State(e)
	if state != host.Added {
		if original, err = in.Targets(ctx, nav, e, analysis.Original); err != nil {
			return nil, nil, err
		}
	}
	if state != host.Deleted {
		if current, err = in.Targets(ctx, nav, e, analysis.Current); err != nil {
			return nil, nil, err
		}
	}
	return original, current, nil
}

// Env returns an expression environment reading one side of the batch,
// loading navigations on demand.
func (in *Input) Env(ctx context.Context, mode analysis.Mode) expr.Env {
	return &inputEnv{ctx: ctx, in: in, mode: mode}
}

type inputEnv struct {
	ctx  context.Context
	in   *Input
	mode analysis.Mode
}

func (env *inputEnv) MemberValue(n *expr.Member, target host.Entity) (any, error) {
	if nav, ok := n.Member.(*model.Navigation); ok {
		if err := env.in.Load(env.ctx, nav, []host.Entity{target}, env.mode); err != nil {
			return nil, err
		}
	}
	return env.in.Value(target, n.Member, env.mode), nil
}

// Entities converts a navigation value to a slice.
func Entities(v any) []host.Entity {
	switch v := v.(type) {
	case nil:
		return nil
	case host.Entity:
		return []host.Entity{v}
	case []host.Entity:
		return v
	case []any:
		out := make([]host.Entity, 0, len(v))
		for _, item := range v {
			if e, ok := item.(host.Entity); ok {
				out = append(out, e)
			}
		}
		return out
	}
	return nil
}
