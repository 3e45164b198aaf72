// Package engine keeps computed members of an entity model up to date as
// the host's entity graph changes, and notifies observers of the changes.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/hanpama/computed/internal/affected"
	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/model"
	"github.com/hanpama/computed/internal/syntax"
)

var (
	// ErrNoTrackedAccess is returned for expressions whose value could never
	// be invalidated by a change.
	ErrNoTrackedAccess = errors.New("expression reads no tracked member")
	// ErrNotConverged is returned when computed members keep changing
	// after the maximum number of scheduler passes.
	ErrNotConverged = errors.New("computed members did not converge")
	// ErrFinalized is returned when registering after Finalize.
	ErrFinalized = errors.New("engine is already finalized")
)

const DefaultMaxPasses = 10

type Option func(*Engine)

func WithLogger(l hclog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMaxPasses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPasses = n
		}
	}
}

// Engine owns the computed members and observers registered for a model.
type Engine struct {
	model     *model.Model
	logger    hclog.Logger
	maxPasses int
	artifacts *Artifacts

	mu        sync.Mutex
	members   []Member
	ordered   []Member
	observers []observer
	finalized bool
}

func New(m *model.Model, opts ...Option) *Engine {
	e := &Engine{
		model:     m,
		logger:    hclog.NewNullLogger(),
		maxPasses: DefaultMaxPasses,
		artifacts: NewArtifacts(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Model() *model.Model { return e.model }

func (e *Engine) Artifacts() *Artifacts { return e.artifacts }

func (e *Engine) MaxPasses() int { return e.maxPasses }

// Parse parses src as an expression over the entity type named entity.
func (e *Engine) Parse(entity, src string) (*expr.Lambda, error) {
	t := e.model.EntityType(entity)
	if t == nil {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	return syntax.Parse(t, src)
}

// AffectedEntitiesProvider returns the provider of root entities affected
// by changes to what fn reads.
func (e *Engine) AffectedEntitiesProvider(fn *expr.Lambda) (affected.Provider, error) {
	art, err := e.artifacts.Get(fn)
	if err != nil {
		return nil, err
	}
	return art.Affected, nil
}

// ValueGetter returns the evaluator of fn on one side of a write batch.
func (e *Engine) ValueGetter(fn *expr.Lambda, mode analysis.Mode) (*analysis.Getter, error) {
	art, err := e.artifacts.Get(fn)
	if err != nil {
		return nil, err
	}
	if mode == analysis.Original {
		return art.Original, nil
	}
	return art.Current, nil
}

// Add registers a computed member built with NewComputed.
func (e *Engine) Add(m Member) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return ErrFinalized
	}
	for _, other := range e.members {
		if other.Property() == m.Property() {
			return fmt.Errorf("computed member %s is already registered", m)
		}
	}
	e.members = append(e.members, m)
	return nil
}

func (e *Engine) addObserver(o observer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return ErrFinalized
	}
	e.observers = append(e.observers, o)
	return nil
}

// Finalize orders computed members so that every member comes after the
// members it reads. Cycles are reported as a model.ValidationError.
// Finalize runs once; later calls return nil.
func (e *Engine) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return nil
	}
	ordered, err := TopoSort(e.members)
	if err != nil {
		return err
	}
	e.ordered = ordered
	e.finalized = true
	e.logger.Debug("engine finalized", "members", len(ordered), "observers", len(e.observers), "artifacts", e.artifacts.Len())
	return nil
}

// Members returns the computed members, in dependency order once finalized.
func (e *Engine) Members() []Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return append([]Member(nil), e.ordered...)
	}
	return append([]Member(nil), e.members...)
}

// Member returns the computed member stored in prop.
func (e *Engine) Member(prop *model.Property) Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.members {
		if m.Property() == prop {
			return m
		}
	}
	return nil
}

// AcceptBatch forgets every remembered change. Call it after the host
// accepted the write batch.
func (e *Engine) AcceptBatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.members {
		m.AcceptBatch()
	}
	for _, o := range e.observers {
		o.AcceptBatch()
	}
}
