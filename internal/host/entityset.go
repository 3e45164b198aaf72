package host

// EntitySet is an insertion-ordered set of entities keyed by Key.
type EntitySet struct {
	index map[Key]int
	items []Entity
}

func NewEntitySet(entities ...Entity) *EntitySet {
	s := &EntitySet{index: make(map[Key]int)}
	for _, e := range entities {
		s.Add(e)
	}
	return s
}

// Add inserts e and reports whether it was absent.
func (s *EntitySet) Add(e Entity) bool {
	if e == nil {
		return false
	}
	if s.index == nil {
		s.index = make(map[Key]int)
	}
	k := e.Key()
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.items)
	s.items = append(s.items, e)
	return true
}

func (s *EntitySet) AddAll(other *EntitySet) {
	if other == nil {
		return
	}
	for _, e := range other.items {
		s.Add(e)
	}
}

func (s *EntitySet) Contains(e Entity) bool {
	if s == nil || e == nil {
		return false
	}
	_, ok := s.index[e.Key()]
	return ok
}

func (s *EntitySet) ContainsKey(k Key) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[k]
	return ok
}

func (s *EntitySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the entities in insertion order. The slice must not be modified.
func (s *EntitySet) Items() []Entity {
	if s == nil {
		return nil
	}
	return s.items
}

// Keys returns the keys in insertion order.
func (s *EntitySet) Keys() []Key {
	if s == nil {
		return nil
	}
	keys := make([]Key, len(s.items))
	for i, e := range s.items {
		keys[i] = e.Key()
	}
	return keys
}

// Filter returns a new set holding the entities for which keep returns true.
func (s *EntitySet) Filter(keep func(Entity) bool) *EntitySet {
	out := NewEntitySet()
	for _, e := range s.Items() {
		if keep(e) {
			out.Add(e)
		}
	}
	return out
}
