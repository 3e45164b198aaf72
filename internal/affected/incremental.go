package affected

import (
	"sync"

	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/host"
)

type slot struct {
	ctx    analysis.ContextID
	parent host.Key
}

// IncrementalContext collects, per collection context and parent entity,
// the elements whose contribution may have changed during a cycle. Elements
// that entered or left the collection are recorded as whole: everything
// beneath them counts, not only what changed.
type IncrementalContext struct {
	mu       sync.Mutex
	children map[slot]*host.EntitySet
	whole    map[slot]map[host.Key]bool
	full     map[slot]bool
}

func NewIncrementalContext() *IncrementalContext {
	return &IncrementalContext{
		children: make(map[slot]*host.EntitySet),
		whole:    make(map[slot]map[host.Key]bool),
		full:     make(map[slot]bool),
	}
}

// Record notes that child, an element of the collection at id under parent,
// may contribute differently.
func (ic *IncrementalContext) Record(id analysis.ContextID, parent, child host.Entity, whole bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	s := slot{id, parent.Key()}
	set, ok := ic.children[s]
	if !ok {
		set = host.NewEntitySet()
		ic.children[s] = set
	}
	set.Add(child)
	if whole {
		if ic.whole[s] == nil {
			ic.whole[s] = make(map[host.Key]bool)
		}
		ic.whole[s][child.Key()] = true
	}
}

// RequestFullLoad asks for the whole collection at id under parent.
func (ic *IncrementalContext) RequestFullLoad(id analysis.ContextID, parent host.Entity) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.full[slot{id, parent.Key()}] = true
}

func (ic *IncrementalContext) FullLoadRequested(id analysis.ContextID, parent host.Key) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.full[slot{id, parent}]
}

// Children returns the recorded elements at id under parent.
func (ic *IncrementalContext) Children(id analysis.ContextID, parent host.Key) *host.EntitySet {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.children[slot{id, parent}]
}

// IsWhole reports whether child entered or left the collection at id under parent.
func (ic *IncrementalContext) IsWhole(id analysis.ContextID, parent, child host.Key) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.whole[slot{id, parent}][child]
}

// Parents returns every parent with recorded elements at id.
func (ic *IncrementalContext) Parents(id analysis.ContextID) []host.Key {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	var keys []host.Key
	for s := range ic.children {
		if s.ctx == id {
			keys = append(keys, s.parent)
		}
	}
	for s := range ic.full {
		if s.ctx == id && ic.children[s] == nil {
			keys = append(keys, s.parent)
		}
	}
	return keys
}
