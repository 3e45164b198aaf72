package engine

import (
	"context"
	"fmt"

	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"

	"github.com/hanpama/computed/internal/affected"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
)

// ConsistencyReport compares stored values of a computed member with a
// fresh evaluation.
type ConsistencyReport struct {
	Member       string     `json:"member" yaml:"member"`
	Consistent   int        `json:"consistent" yaml:"consistent"`
	Inconsistent int        `json:"inconsistent" yaml:"inconsistent"`
	Ratio        float64    `json:"ratio" yaml:"ratio"`
	Mismatches   []host.Key `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
}

func (r *ConsistencyReport) add(k host.Key, ok bool) {
	if ok {
		r.Consistent++
	} else {
		r.Inconsistent++
		r.Mismatches = append(r.Mismatches, k)
	}
	r.Ratio = float64(r.Consistent) / float64(r.Consistent+r.Inconsistent)
}

func (c *ComputedMember[V, R]) CheckConsistency(ctx context.Context, rt host.Runtime, entities []host.Entity) (ConsistencyReport, error) {
	report := ConsistencyReport{Member: c.String(), Ratio: 1}
	s := c.provider.strategy
	src := &source{ctx: ctx, in: affected.NewInput(rt)}
	for _, e := range entities {
		if e.Type() != c.prop.Entity || rt.State(e) == host.Deleted {
			continue
		}
		v, err := c.provider.artifact.Current.Get(e, src)
		if err != nil {
			return report, fmt.Errorf("failed to evaluate %s for %s: %w", c, e.Key(), err)
		}
		fresh, err := s.Value(v)
		if err != nil {
			return report, err
		}
		raw := rt.CurrentValue(e, c.prop)
		if raw == nil {
			report.add(e.Key(), v == nil)
			continue
		}
		stored, err := s.Value(raw)
		if err != nil {
			report.add(e.Key(), false)
			continue
		}
		report.add(e.Key(), expr.Equals(stored, fresh) || s.IsNoChange(s.GetChange(stored, fresh)))
	}
	return report, nil
}

// CheckConsistency recomputes the computed member stored in prop for
// entities and reports how many stored values are still right.
func (e *Engine) CheckConsistency(ctx context.Context, rt host.Runtime, prop *model.Property, entities []host.Entity) (ConsistencyReport, error) {
	m := e.Member(prop)
	if m == nil {
		return ConsistencyReport{}, fmt.Errorf("%s is not a computed member", prop)
	}
	report, err := m.CheckConsistency(ctx, rt, entities)
	if err != nil {
		return report, err
	}
	eventbus.Publish(ctx, events.ConsistencyChecked{
		Member:       report.Member,
		Consistent:   report.Consistent,
		Inconsistent: report.Inconsistent,
		Ratio:        report.Ratio,
	})
	e.logger.Debug("consistency checked", "member", report.Member, "consistent", report.Consistent, "inconsistent", report.Inconsistent)
	return report, nil
}
