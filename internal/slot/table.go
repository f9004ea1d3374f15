package slot

import (
	"fmt"
	"sort"
	"sync"
)

// Table is the in-memory keyed set of slot records. All mutations go
// through a single serialization point: the embedded mutex. Slots are
// never reparented, renamed, or removed except at pool shutdown.
type Table struct {
	mu    sync.Mutex
	byName map[string]*Slot
	order  []string // insertion order == index order, for reproducible scans
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byName: make(map[string]*Slot)}
}

// Put inserts a new slot record. Put is only used during pool init;
// subsequent changes go through Mutate.
func (t *Table) Put(s Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Labels == nil {
		s.Labels = make(map[string]string)
	}
	cp := s
	t.byName[s.Name] = &cp
	t.order = append(t.order, s.Name)
}

// Get returns a copy of the named slot.
func (t *Table) Get(name string) (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byName[name]
	if !ok {
		return Slot{}, false
	}
	return s.clone(), true
}

// Mutate applies fn to the named slot under the table's lock and
// returns the resulting copy. fn must not retain the pointer it is
// given. Mutate and ReserveFirstReady are the only ways to change a
// slot's state, labels, or session; neither changes Name, Index, or
// Ports.
func (t *Table) Mutate(name string, fn func(s *Slot)) (Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byName[name]
	if !ok {
		return Slot{}, fmt.Errorf("slot %q not found", name)
	}
	nameBefore, idxBefore, portsBefore := s.Name, s.Index, s.Ports
	fn(s)
	s.Name, s.Index, s.Ports = nameBefore, idxBefore, portsBefore
	return s.clone(), nil
}

// Names returns slot names in index order (spec.md §9's chosen
// reservation-ordering tie-break).
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	sort.Slice(out, func(i, j int) bool { return t.byName[out[i]].Index < t.byName[out[j]].Index })
	return out
}

// Snapshot returns a copy of every slot, in index order.
func (t *Table) Snapshot() []Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Slot, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name].clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FindByLabelID returns the slot whose labels["id"] equals id. Linear
// scan is deliberate: N is small and fixed (spec.md §4.3).
func (t *Table) FindByLabelID(id string) (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range t.order {
		s := t.byName[name]
		if s.Labels["id"] == id {
			return s.clone(), true
		}
	}
	return Slot{}, false
}

// FindBySessionID returns the slot whose session ID matches.
func (t *Table) FindBySessionID(sessionID string) (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range t.order {
		s := t.byName[name]
		if s.Session.SessionID == sessionID {
			return s.clone(), true
		}
	}
	return Slot{}, false
}

// ReserveFirstReady finds the first available slot (in index order)
// and applies fn to it atomically under the table's lock, so a
// concurrent reserve cannot observe the same slot as Ready. ok=false
// if no slot is available.
func (t *Table) ReserveFirstReady(fn func(s *Slot)) (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range t.order {
		s := t.byName[name]
		if s.Available() {
			fn(s)
			return s.clone(), true
		}
	}
	return Slot{}, false
}

// FirstReady returns the first slot (in index order) available for
// reservation, or ok=false if none exists.
func (t *Table) FirstReady() (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range t.order {
		s := t.byName[name]
		if s.Available() {
			return s.clone(), true
		}
	}
	return Slot{}, false
}
