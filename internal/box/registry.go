package box

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrOutOfRange   = errors.New("box: registry cursor out of range")
	ErrInvalidPiste = errors.New("box: invalid piste")
	ErrPisteUnknown = errors.New("box: piste not in registry")
)

// Registry stores the last known state of every remote piste, in the order
// each piste was first heard.
type Registry struct {
	mu       sync.RWMutex
	maxPiste int
	items    []State
	heard    []time.Time
	index    map[int]int
	cursor   int
}

// NewRegistry creates an empty registry accepting pistes 1..maxPiste.
func NewRegistry(maxPiste int) *Registry {
	if maxPiste <= 0 {
		maxPiste = MaxPiste
	}
	return &Registry{maxPiste: maxPiste, index: make(map[int]int)}
}

// Upsert replaces the entry for s.Piste wholesale, or appends it, and stamps
// it as heard now. It reports whether a new piste was added.
func (r *Registry) Upsert(s State) (bool, error) {
	return r.UpsertAt(s, time.Now())
}

// UpsertAt is Upsert with an explicit receive time.
func (r *Registry) UpsertAt(s State, at time.Time) (bool, error) {
	if s.Piste < 1 || s.Piste > r.maxPiste {
		return false, fmt.Errorf("%w: %d", ErrInvalidPiste, s.Piste)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[s.Piste]; ok {
		r.items[i] = s
		r.heard[i] = at
		return false, nil
	}
	r.index[s.Piste] = len(r.items)
	r.items = append(r.items, s)
	r.heard = append(r.heard, at)
	return true, nil
}

func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items) == 0
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) Get(piste int) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[piste]
	if !ok {
		return State{}, false
	}
	return r.items[i], true
}

// List returns a copy of all entries in insertion order.
func (r *Registry) List() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]State, len(r.items))
	copy(out, r.items)
	return out
}

// Current returns the entry under the cursor.
func (r *Registry) Current() (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cursor < 0 || r.cursor >= len(r.items) {
		return State{}, ErrOutOfRange
	}
	return r.items[r.cursor], nil
}

// Next advances the cursor. At the last entry it returns ErrOutOfRange and
// leaves the cursor where it was.
func (r *Registry) Next() (State, error) {
	return r.move(1)
}

// Prev moves the cursor back. At the first entry it returns ErrOutOfRange and
// leaves the cursor where it was.
func (r *Registry) Prev() (State, error) {
	return r.move(-1)
}

func (r *Registry) move(step int) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cursor + step
	if next < 0 || next >= len(r.items) {
		return State{}, ErrOutOfRange
	}
	r.cursor = next
	return r.items[next], nil
}

// Select moves the cursor to piste.
func (r *Registry) Select(piste int) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[piste]
	if !ok {
		return State{}, fmt.Errorf("%w: %d", ErrPisteUnknown, piste)
	}
	r.cursor = i
	return r.items[i], nil
}

// MarkStale clears RxOk on every entry. Entries keep their last known values.
func (r *Registry) MarkStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		r.items[i].RxOk = false
	}
}

// Expire clears RxOk on entries not heard within maxAge of now and returns
// the pistes that just went stale.
func (r *Registry) Expire(maxAge time.Duration, now time.Time) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []int
	for i := range r.items {
		if !r.items[i].RxOk || now.Sub(r.heard[i]) <= maxAge {
			continue
		}
		r.items[i].RxOk = false
		stale = append(stale, r.items[i].Piste)
	}
	return stale
}
