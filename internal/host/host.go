// Package host declares the boundary between the engine and the data store
// that owns entities, tracks their original values and loads relationships.
package host

import (
	"context"
	"fmt"

	"github.com/hanpama/computed/internal/model"
)

// Key is a stable entity identity. Change memory and per-cycle caches are
// keyed by it rather than by pointer identity.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string { return fmt.Sprintf("%s:%s", k.Type, k.ID) }

// Entity is an instance tracked by the host store.
type Entity interface {
	Key() Key
	Type() *model.EntityType
}

// State is the lifecycle state of an entity within the current write batch.
type State int

const (
	Unchanged State = iota
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "Unchanged"
	}
}

// Runtime is implemented by the host store.
//
// Values of a property are returned as Go scalars (string, int64, float64,
// bool or nil). Values of a reference navigation are an Entity or nil; values
// of a collection navigation are []Entity. Original values are the values at
// the start of the write batch.
type Runtime interface {
	// Changed returns every entity that is added, modified or deleted in the batch.
	Changed() []Entity
	State(e Entity) State
	IsModified(e Entity, m model.Member) bool

	CurrentValue(e Entity, m model.Member) any
	OriginalValue(e Entity, m model.Member) any

	// LoadCurrent makes nav available through CurrentValue for the given
	// entities and returns the entities reached through it.
	LoadCurrent(ctx context.Context, nav *model.Navigation, entities []Entity) ([]Entity, error)
	// LoadOriginal does the same for OriginalValue.
	LoadOriginal(ctx context.Context, nav *model.Navigation, entities []Entity) ([]Entity, error)

	SetCurrentValue(e Entity, p *model.Property, value any) error

	// DetectChanges synchronizes the host's change tracker.
	DetectChanges(ctx context.Context) error
	// SetAutoDetectChanges toggles automatic detection and returns the previous setting.
	SetAutoDetectChanges(enabled bool) bool
}
