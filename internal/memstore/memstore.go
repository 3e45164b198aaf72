// Package memstore is an in-memory host store: it tracks original and
// current values of entities over a write batch, keeps both sides of a
// relationship in sync and records every load it serves.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/hanpama/computed/internal/batchid"
	"github.com/hanpama/computed/internal/host"
	"github.com/hanpama/computed/internal/model"
)

// Record is an entity held by a Store.
type Record struct {
	typ *model.EntityType
	id  string
}

func (r *Record) Key() host.Key { return host.Key{Type: r.typ.Name, ID: r.id} }

func (r *Record) Type() *model.EntityType { return r.typ }

func (r *Record) String() string { return r.Key().String() }

// Values holds property values by member name.
type Values map[string]any

type entry struct {
	rec     *Record
	added   bool
	deleted bool

	// Navigation values hold *Record (reference) or []*Record (collection).
	current  map[string]any
	original map[string]any
}

// Call is one load served by the store. Loads issued within the same
// scheduler run share a BatchID.
type Call struct {
	Method     string
	Navigation string
	Keys       []host.Key
	BatchID    int64
}

const (
	CallLoadCurrent  = "LoadCurrent"
	CallLoadOriginal = "LoadOriginal"
)

// Store implements host.Runtime.
type Store struct {
	mu         sync.RWMutex
	model      *model.Model
	entries    map[host.Key]*entry
	order      []host.Key
	autoDetect bool
	detections int
	calls      []Call
	loadErr    error
}

func New(m *model.Model) *Store {
	return &Store{model: m, entries: make(map[host.Key]*entry), autoDetect: true}
}

// Model returns the entity model the store was created with.
func (s *Store) Model() *model.Model { return s.model }

// Add creates an entity in the Added state.
func (s *Store) Add(typeName, id string, values Values) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.model.EntityType(typeName)
	if t == nil {
		return nil, fmt.Errorf("unknown entity type %q", typeName)
	}
	rec := &Record{typ: t, id: id}
	if _, exists := s.entries[rec.Key()]; exists {
		return nil, fmt.Errorf("entity %s already exists", rec.Key())
	}
	e := &entry{rec: rec, added: true, current: make(map[string]any), original: make(map[string]any)}
	for name, v := range values {
		if t.Property(name) == nil {
			return nil, fmt.Errorf("%s has no property %q", t.Name, name)
		}
		e.current[name] = v
	}
	s.entries[rec.Key()] = e
	s.order = append(s.order, rec.Key())
	return rec, nil
}

// Get returns the entity with the given key, or nil.
func (s *Store) Get(typeName, id string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.entries[host.Key{Type: typeName, ID: id}]; e != nil {
		return e.rec
	}
	return nil
}

// Entities returns every live entity of the named type in insertion order.
func (s *Store) Entities(typeName string) []host.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []host.Entity
	for _, k := range s.order {
		if e := s.entries[k]; k.Type == typeName && !e.deleted {
			out = append(out, e.rec)
		}
	}
	return out
}

// Set writes a property.
func (s *Store) Set(rec *Record, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.live(rec)
	if err != nil {
		return err
	}
	if rec.typ.Property(name) == nil {
		return fmt.Errorf("%s has no property %q", rec.typ.Name, name)
	}
	e.current[name] = value
	return nil
}

// Value reads the current value of a member by name.
func (s *Store) Value(rec *Record, name string) any {
	m, ok := rec.typ.Member(name)
	if !ok {
		return nil
	}
	return s.CurrentValue(rec, m)
}

// Link points the reference navigation name of rec at target, which may be
// nil. The inverse side is kept in sync.
func (s *Store) Link(rec *Record, name string, target *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav, err := s.navigation(rec, name)
	if err != nil {
		return err
	}
	if nav.Collection {
		return fmt.Errorf("%s is a collection; use AddTo", nav)
	}
	if _, err := s.live(rec); err != nil {
		return err
	}
	if target != nil {
		if _, err := s.live(target); err != nil {
			return err
		}
	}
	s.setReference(rec, nav, target)
	return nil
}

// AddTo adds child to the collection navigation name of rec.
func (s *Store) AddTo(rec *Record, name string, child *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav, err := s.collection(rec, name)
	if err != nil {
		return err
	}
	if _, err := s.live(child); err != nil {
		return err
	}
	s.attach(rec, nav, child)
	return nil
}

// RemoveFrom removes child from the collection navigation name of rec.
func (s *Store) RemoveFrom(rec *Record, name string, child *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nav, err := s.collection(rec, name)
	if err != nil {
		return err
	}
	s.detach(rec, nav, child)
	return nil
}

// Delete marks rec deleted and removes it from every relationship.
func (s *Store) Delete(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.live(rec)
	if err != nil {
		return err
	}
	for _, nav := range rec.typ.Navigations() {
		if nav.Collection {
			for _, child := range records(e.current[nav.Name]) {
				s.detach(rec, nav, child)
			}
		} else {
			s.setReference(rec, nav, nil)
		}
	}
	e.deleted = true
	return nil
}

// AcceptChanges ends the write batch: current values become original
// values, deleted entities are forgotten and every entity is Unchanged.
func (s *Store) AcceptChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.order[:0]
	for _, k := range s.order {
		e := s.entries[k]
		if e.deleted {
			delete(s.entries, k)
			continue
		}
		e.added = false
		e.original = make(map[string]any, len(e.current))
		for name, v := range e.current {
			if list, ok := v.([]*Record); ok {
				v = append([]*Record(nil), list...)
			}
			e.original[name] = v
		}
		order = append(order, k)
	}
	s.order = order
}

// Calls returns the loads served so far.
func (s *Store) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Call(nil), s.calls...)
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Detections returns how many times DetectChanges ran.
func (s *Store) Detections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detections
}

// FailLoads makes every subsequent load return err. A nil err restores loading.
func (s *Store) FailLoads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

func (s *Store) live(rec *Record) (*entry, error) {
	e := s.entries[rec.Key()]
	if e == nil || e.rec != rec {
		return nil, fmt.Errorf("entity %s is not tracked", rec.Key())
	}
	if e.deleted {
		return nil, fmt.Errorf("entity %s is deleted", rec.Key())
	}
	return e, nil
}

func (s *Store) navigation(rec *Record, name string) (*model.Navigation, error) {
	nav := rec.typ.Navigation(name)
	if nav == nil {
		return nil, fmt.Errorf("%s has no navigation %q", rec.typ.Name, name)
	}
	return nav, nil
}

func (s *Store) collection(rec *Record, name string) (*model.Navigation, error) {
	nav, err := s.navigation(rec, name)
	if err != nil {
		return nil, err
	}
	if !nav.Collection {
		return nil, fmt.Errorf("%s is a reference; use Link", nav)
	}
	if _, err := s.live(rec); err != nil {
		return nil, err
	}
	return nav, nil
}

// setReference and the helpers below mutate one side and fix up the inverse.
func (s *Store) setReference(rec *Record, nav *model.Navigation, target *Record) {
	e := s.entries[rec.Key()]
	old, _ := e.current[nav.Name].(*Record)
	if old == target {
		return
	}
	if target == nil {
		delete(e.current, nav.Name)
	} else {
		e.current[nav.Name] = target
	}
	inv := nav.Inverse
	if inv == nil {
		return
	}
	if old != nil {
		s.unlinkOne(old, inv, rec)
	}
	if target != nil {
		s.linkOne(target, inv, rec)
	}
}

func (s *Store) attach(rec *Record, nav *model.Navigation, child *Record) {
	if s.linkOne(rec, nav, child) && nav.Inverse != nil {
		if nav.Inverse.Collection {
			s.linkOne(child, nav.Inverse, rec)
		} else {
			s.setReference(child, nav.Inverse, rec)
		}
	}
}

func (s *Store) detach(rec *Record, nav *model.Navigation, child *Record) {
	if s.unlinkOne(rec, nav, child) && nav.Inverse != nil {
		if nav.Inverse.Collection {
			s.unlinkOne(child, nav.Inverse, rec)
		} else if cur, _ := s.entries[child.Key()].current[nav.Inverse.Name].(*Record); cur == rec {
			delete(s.entries[child.Key()].current, nav.Inverse.Name)
		}
	}
}

// linkOne adds other to rec's side of nav without touching the inverse
// of nav, except to steal other from a previous one-to-one partner.
func (s *Store) linkOne(rec *Record, nav *model.Navigation, other *Record) bool {
	e := s.entries[rec.Key()]
	if nav.Collection {
		list := records(e.current[nav.Name])
		for _, r := range list {
			if r == other {
				return false
			}
		}
		e.current[nav.Name] = append(list, other)
		return true
	}
	old, _ := e.current[nav.Name].(*Record)
	if old == other {
		return false
	}
	e.current[nav.Name] = other
	if old != nil && nav.Inverse != nil {
		s.unlinkOne(old, nav.Inverse, rec)
	}
	return true
}

func (s *Store) unlinkOne(rec *Record, nav *model.Navigation, other *Record) bool {
	e := s.entries[rec.Key()]
	if nav.Collection {
		list := records(e.current[nav.Name])
		for i, r := range list {
			if r == other {
				e.current[nav.Name] = append(append([]*Record(nil), list[:i]...), list[i+1:]...)
				return true
			}
		}
		return false
	}
	if cur, _ := e.current[nav.Name].(*Record); cur == other {
		delete(e.current, nav.Name)
		return true
	}
	return false
}

func records(v any) []*Record {
	list, _ := v.([]*Record)
	return list
}

// host.Runtime

func (s *Store) Changed() []host.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []host.Entity
	for _, k := range s.order {
		e := s.entries[k]
		if s.state(e) != host.Unchanged {
			out = append(out, e.rec)
		}
	}
	return out
}

func (s *Store) State(ent host.Entity) host.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[ent.Key()]
	if e == nil {
		return host.Unchanged
	}
	return s.state(e)
}

func (s *Store) state(e *entry) host.State {
	switch {
	case e.deleted:
		return host.Deleted
	case e.added:
		return host.Added
	}
	for _, m := range e.rec.typ.Members {
		if !sameValue(e.original[m.MemberName()], e.current[m.MemberName()]) {
			return host.Modified
		}
	}
	return host.Unchanged
}

func (s *Store) IsModified(ent host.Entity, m model.Member) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[ent.Key()]
	if e == nil || e.added || e.deleted {
		return false
	}
	return !sameValue(e.original[m.MemberName()], e.current[m.MemberName()])
}

func (s *Store) CurrentValue(ent host.Entity, m model.Member) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[ent.Key()]
	if e == nil {
		return nil
	}
	return exported(e.current[m.MemberName()], m)
}

func (s *Store) OriginalValue(ent host.Entity, m model.Member) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[ent.Key()]
	if e == nil || e.added {
		return exported(nil, m)
	}
	return exported(e.original[m.MemberName()], m)
}

func exported(v any, m model.Member) any {
	nav, ok := m.(*model.Navigation)
	if !ok {
		return v
	}
	if nav.Collection {
		list := records(v)
		out := make([]host.Entity, len(list))
		for i, r := range list {
			out[i] = r
		}
		return out
	}
	if r, ok := v.(*Record); ok && r != nil {
		return r
	}
	return nil
}

func (s *Store) LoadCurrent(ctx context.Context, nav *model.Navigation, entities []host.Entity) ([]host.Entity, error) {
	return s.load(ctx, CallLoadCurrent, nav, entities, s.CurrentValue)
}

func (s *Store) LoadOriginal(ctx context.Context, nav *model.Navigation, entities []host.Entity) ([]host.Entity, error) {
	return s.load(ctx, CallLoadOriginal, nav, entities, s.OriginalValue)
}

func (s *Store) load(ctx context.Context, method string, nav *model.Navigation, entities []host.Entity, read func(host.Entity, model.Member) any) ([]host.Entity, error) {
	id, _ := batchid.FromContext(ctx)
	call := Call{Method: method, Navigation: nav.String(), BatchID: id}
	for _, e := range entities {
		call.Keys = append(call.Keys, e.Key())
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	set := host.NewEntitySet()
	for _, e := range entities {
		switch v := read(e, nav).(type) {
		case host.Entity:
			set.Add(v)
		case []host.Entity:
			for _, t := range v {
				set.Add(t)
			}
		}
	}
	return set.Items(), nil
}

func (s *Store) SetCurrentValue(ent host.Entity, p *model.Property, value any) error {
	rec, ok := ent.(*Record)
	if !ok {
		return fmt.Errorf("entity %s does not belong to this store", ent.Key())
	}
	return s.Set(rec, p.Name, value)
}

func (s *Store) DetectChanges(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections++
	return nil
}

func (s *Store) SetAutoDetectChanges(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.autoDetect
	s.autoDetect = enabled
	return prev
}

func sameValue(a, b any) bool {
	la, aList := a.([]*Record)
	lb, bList := b.([]*Record)
	if aList || bList {
		if len(la) != len(lb) {
			return false
		}
		seen := make(map[*Record]bool, len(la))
		for _, r := range la {
			seen[r] = true
		}
		for _, r := range lb {
			if !seen[r] {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	}
	return v
}
