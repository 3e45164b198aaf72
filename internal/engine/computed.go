package engine

import (
	"context"
	"fmt"

	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
	"github.com/hanpama/computed/internal/strategy"
)

// Member is a computed member the scheduler keeps up to date.
type Member interface {
	Property() *model.Property
	// Observes lists the members the expression reads while tracking.
	Observes() []model.Member
	// Dependents lists the computed members reading this one. Set by Finalize.
	Dependents() []Member
	// Update writes the values that changed since the last update and
	// returns how many were written.
	Update(ctx context.Context, rt host.Runtime) (int, error)
	CheckConsistency(ctx context.Context, rt host.Runtime, entities []host.Entity) (ConsistencyReport, error)
	Describe() MemberInfo
	AcceptBatch()
	String() string

	setDependents([]Member)
}

type memberConfig struct {
	filter string
}

type MemberOption func(*memberConfig)

// Filter restricts a computed member or observer to the entities for which
// src, a Boolean expression, currently holds.
func Filter(src string) MemberOption {
	return func(c *memberConfig) { c.filter = src }
}

// ComputedMember materializes an expression into a property using a
// change calculation strategy.
type ComputedMember[V, R any] struct {
	prop       *model.Property
	provider   *ChangeProvider[V, R]
	observes   []model.Member
	dependents []Member
}

// NewComputed builds the computed member storing fn in prop.
func NewComputed[V, R any](a *Artifacts, prop *model.Property, fn *expr.Lambda, s strategy.Strategy[V, R], filter *expr.Lambda) (*ComputedMember[V, R], error) {
	if _, ok := any(s).(strategy.Void); ok {
		return nil, fmt.Errorf("computed member %s: strategy %q produces no value to store", prop, s.Name())
	}
	root, err := expr.Root(fn)
	if err != nil {
		return nil, fmt.Errorf("computed member %s: %w", prop, err)
	}
	if root.T.Entity != prop.Entity {
		return nil, fmt.Errorf("computed member %s: expression ranges over %s", prop, root.T)
	}
	p, err := NewChangeProvider(a, fn, s, filter)
	if err != nil {
		return nil, fmt.Errorf("computed member %s: %w", prop, err)
	}
	p.unset = func(rt host.Runtime, e host.Entity) bool {
		return rt.CurrentValue(e, prop) == nil
	}
	return &ComputedMember[V, R]{
		prop:     prop,
		provider: p,
		observes: p.artifact.Result.AccessedMembers(),
	}, nil
}

// Computed parses src over entity and registers it as the computed member
// field of that entity.
func Computed[V, R any](e *Engine, entity, field, src string, s strategy.Strategy[V, R], opts ...MemberOption) error {
	var cfg memberConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	prop, fn, filter, err := e.prepare(entity, field, src, cfg.filter)
	if err != nil {
		return err
	}
	m, err := NewComputed(e.artifacts, prop, fn, s, filter)
	if err != nil {
		return err
	}
	return e.Add(m)
}

func (e *Engine) prepare(entity, field, src, filterSrc string) (*model.Property, *expr.Lambda, *expr.Lambda, error) {
	t := e.model.EntityType(entity)
	if t == nil {
		return nil, nil, nil, fmt.Errorf("unknown entity type %q", entity)
	}
	prop := t.Property(field)
	if prop == nil {
		return nil, nil, nil, fmt.Errorf("%s has no property %q", entity, field)
	}
	fn, err := e.Parse(entity, src)
	if err != nil {
		return nil, nil, nil, err
	}
	var filter *expr.Lambda
	if filterSrc != "" {
		if filter, err = e.Parse(entity, filterSrc); err != nil {
			return nil, nil, nil, err
		}
	}
	return prop, fn, filter, nil
}

func (c *ComputedMember[V, R]) Property() *model.Property { return c.prop }

func (c *ComputedMember[V, R]) Observes() []model.Member { return c.observes }

func (c *ComputedMember[V, R]) Dependents() []Member { return c.dependents }

func (c *ComputedMember[V, R]) setDependents(d []Member) { c.dependents = d }

func (c *ComputedMember[V, R]) Provider() *ChangeProvider[V, R] { return c.provider }

func (c *ComputedMember[V, R]) String() string { return c.prop.String() }

func (c *ComputedMember[V, R]) AcceptBatch() { c.provider.Forget() }

func (c *ComputedMember[V, R]) Update(ctx context.Context, rt host.Runtime) (int, error) {
	changes, err := c.provider.GetChanges(ctx, rt)
	if err != nil {
		return 0, err
	}
	s := c.provider.strategy
	written := 0
	for _, ch := range changes {
		stored := rt.CurrentValue(ch.Entity, c.prop)
		base, err := s.Value(stored)
		if err != nil {
			return written, fmt.Errorf("stored value of %s on %s: %w", c.prop, ch.Entity.Key(), err)
		}
		next := s.Apply(base, ch.Result)
		// An unset value is written even when the result is the zero value.
		if expr.Equals(base, next) && (stored != nil || any(next) == nil) {
			continue
		}
		if err := rt.SetCurrentValue(ch.Entity, c.prop, next); err != nil {
			return written, fmt.Errorf("failed to store %s on %s: %w", c.prop, ch.Entity.Key(), err)
		}
		written++
	}
	return written, nil
}

type observer interface {
	Notify(ctx context.Context, rt host.Runtime) error
	AcceptBatch()
	String() string
}

// Observer calls back with the changes of an expression once per scheduler
// run in which there are any.
type Observer[V, R any] struct {
	provider *ChangeProvider[V, R]
	callback func(context.Context, Changes[R]) error
}

// Observe registers callback for the changes of src over entity.
func Observe[V, R any](e *Engine, entity, src string, s strategy.Strategy[V, R], callback func(context.Context, Changes[R]) error, opts ...MemberOption) (*Observer[V, R], error) {
	var cfg memberConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	fn, err := e.Parse(entity, src)
	if err != nil {
		return nil, err
	}
	var filter *expr.Lambda
	if cfg.filter != "" {
		if filter, err = e.Parse(entity, cfg.filter); err != nil {
			return nil, err
		}
	}
	p, err := NewChangeProvider(e.artifacts, fn, s, filter)
	if err != nil {
		return nil, err
	}
	o := &Observer[V, R]{provider: p, callback: callback}
	if err := e.addObserver(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer[V, R]) Notify(ctx context.Context, rt host.Runtime) error {
	changes, err := o.provider.GetChanges(ctx, rt)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	return o.callback(ctx, changes)
}

func (o *Observer[V, R]) AcceptBatch() { o.provider.Forget() }

func (o *Observer[V, R]) String() string {
	return "observer(" + o.provider.artifact.Result.Lambda.String() + ")"
}
