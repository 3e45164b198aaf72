package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	batchid "github.com/hanpama/computed/internal/batchid"
	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"

	"github.com/hanpama/computed/internal/host"
)

// RunStats describes one scheduler run.
type RunStats struct {
	Passes  int
	Changes int
	// PerPass holds the number of values written by each pass.
	PerPass []int
}

// Run brings every computed member up to date with the host's pending
// changes and returns the number of values written. Observers are notified
// once the members converged.
func (e *Engine) Run(ctx context.Context, rt host.Runtime) (int, error) {
	stats, err := e.RunStats(ctx, rt)
	return stats.Changes, err
}

// RunStats is Run, reporting every pass.
func (e *Engine) RunStats(ctx context.Context, rt host.Runtime) (RunStats, error) {
	if err := e.Finalize(); err != nil {
		return RunStats{}, err
	}
	id, ok := batchid.FromContext(ctx)
	if !ok {
		ctx, id = batchid.NewContext(ctx)
	}
	logger := e.logger.With("batch", id)
	members := e.Members()

	start := time.Now()
	eventbus.Publish(ctx, events.SchedulerStart{Members: len(members), MaxPasses: e.maxPasses})

	var stats RunStats
	err := e.converge(ctx, rt, logger, members, &stats)
	if err == nil {
		err = e.notify(ctx, rt)
	}

	eventbus.Publish(ctx, events.SchedulerFinish{
		Passes:   stats.Passes,
		Changes:  stats.Changes,
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		logger.Error("scheduler run failed", "passes", stats.Passes, "error", err)
		return stats, err
	}
	logger.Debug("scheduler run converged", "passes", stats.Passes, "changes", stats.Changes)
	return stats, nil
}

func (e *Engine) converge(ctx context.Context, rt host.Runtime, logger hclog.Logger, members []Member, stats *RunStats) error {
	autoDetect := rt.SetAutoDetectChanges(false)
	defer rt.SetAutoDetectChanges(autoDetect)

	for pass := 1; ; pass++ {
		if pass > e.maxPasses {
			return fmt.Errorf("%w after %d passes", ErrNotConverged, e.maxPasses)
		}
		rt.SetAutoDetectChanges(false)
		if err := rt.DetectChanges(ctx); err != nil {
			return fmt.Errorf("failed to detect changes: %w", err)
		}

		passStart := time.Now()
		applied := 0
		for _, m := range members {
			memberStart := time.Now()
			n, err := m.Update(ctx, rt)
			if err != nil {
				return fmt.Errorf("failed to update %s: %w", m, err)
			}
			if n == 0 {
				continue
			}
			logger.Debug("computed member updated", "member", m.String(), "pass", pass, "changes", n)
			eventbus.Publish(ctx, events.ComputedUpdated{
				Member:   m.String(),
				Pass:     pass,
				Changes:  n,
				Duration: time.Since(memberStart),
			})
			applied += n
		}

		stats.Passes = pass
		stats.Changes += applied
		stats.PerPass = append(stats.PerPass, applied)
		eventbus.Publish(ctx, events.PassFinish{Pass: pass, Changes: applied, Duration: time.Since(passStart)})
		if applied == 0 {
			return nil
		}
	}
}

func (e *Engine) notify(ctx context.Context, rt host.Runtime) error {
	e.mu.Lock()
	observers := append([]observer(nil), e.observers...)
	e.mu.Unlock()
	for _, o := range observers {
		if err := o.Notify(ctx, rt); err != nil {
			return fmt.Errorf("failed to notify %s: %w", o, err)
		}
	}
	return nil
}
