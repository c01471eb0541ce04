// Package queue implements the rotation engine: an active queue that recycles
// and a priority queue that plays each request once.
package queue

import (
	"math/rand/v2"
	"sync"
)

// Engine owns the queue state for one player. All methods are safe for
// concurrent use; mutations are serialized by a single mutex.
type Engine struct {
	mu    sync.Mutex
	state State
	intN  func(n int) int
}

// Option configures an Engine
type Option func(*Engine)

// WithRand makes shuffles draw from r instead of the global source
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.intN = r.IntN
	}
}

// NewEngine creates an empty engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		intN: rand.IntN,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddActive appends item to the tail of the active queue
func (e *Engine) AddActive(item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Active = append(e.state.Active, item)
}

// InsertActive inserts item at position in the active queue. Positions
// outside the queue are clamped to the head or tail.
func (e *Engine) InsertActive(position int, item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Active = insertAt(e.state.Active, clamp(position, len(e.state.Active)), item)
}

// AddPriority appends item to the tail of the priority queue
func (e *Engine) AddPriority(item Item) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Priority = append(e.state.Priority, item)
}

// RemoveActive removes and returns the active item at index.
// Returns false if index is out of bounds.
func (e *Engine) RemoveActive(index int) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var item Item
	var ok bool
	e.state.Active, item, ok = removeAt(e.state.Active, index)
	return item, ok
}

// RemovePriority removes and returns the priority item at index.
// Returns false if index is out of bounds.
func (e *Engine) RemovePriority(index int) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var item Item
	var ok bool
	e.state.Priority, item, ok = removeAt(e.state.Priority, index)
	return item, ok
}

// IndexOfActive returns the index of the first active item with id, or -1
func (e *Engine) IndexOfActive(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return indexOf(e.state.Active, id)
}

// IndexOfPriority returns the index of the first priority item with id, or -1
func (e *Engine) IndexOfPriority(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return indexOf(e.state.Priority, id)
}

// MoveActive moves the active item at from so that it ends up at index to.
// to is clamped; returns false if from is out of bounds.
func (e *Engine) MoveActive(from, to int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ok bool
	e.state.Active, ok = move(e.state.Active, from, to)
	return ok
}

// MovePriority moves the priority item at from so that it ends up at index to.
// to is clamped; returns false if from is out of bounds.
func (e *Engine) MovePriority(from, to int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ok bool
	e.state.Priority, ok = move(e.state.Priority, from, to)
	return ok
}

// ReplaceActive swaps the active queue for a copy of items and returns how
// many were left out. Repeated ids keep their first occurrence. An item with
// the id of the current item is skipped when that item came from the active
// queue, since rotating will append it back.
func (e *Engine) ReplaceActive(items []Item) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(items)+1)
	s := &e.state
	if s.NowPlaying != nil && s.NowPlayingSource == SourceActive {
		seen[s.NowPlaying.ID] = true
	}

	active := make([]Item, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		active = append(active, it)
	}
	s.Active = active
	return len(items) - len(active)
}

// PeekNext reports what Rotate would return, without mutating anything.
// Returns false when both queues are empty and nothing would be recycled.
func (e *Engine) PeekNext() (Item, Source, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.state
	switch {
	case len(s.Priority) > 0:
		return s.Priority[0], SourcePriority, true
	case len(s.Active) > 0:
		return s.Active[0], SourceActive, true
	case s.NowPlayingSource == SourceActive && s.NowPlaying != nil:
		// Rotate would recycle the current item and play it again.
		return *s.NowPlaying, SourceActive, true
	default:
		return Item{}, SourceNone, false
	}
}

// Rotate advances to the next item.
//
// The priority queue always wins and its items are consumed. Otherwise the
// previous now-playing item is appended to the active tail if it came from
// the active queue, and the active head is dequeued. Recycling therefore
// happens one rotation late: a single-item active queue replays its item.
func (e *Engine) Rotate() (Item, Source, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.advance(true)
}

// StartPlayback is Rotate without recycling. It is the cold-start entry point
// used before the first rotation.
func (e *Engine) StartPlayback() (Item, Source, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.advance(false)
}

// advance must be called with the lock held
func (e *Engine) advance(recycle bool) (Item, Source, bool) {
	s := &e.state

	if len(s.Priority) > 0 {
		next := s.Priority[0]
		s.Priority = s.Priority[1:]
		s.NowPlaying = &next
		s.NowPlayingSource = SourcePriority
		return next, SourcePriority, true
	}

	if recycle && s.NowPlayingSource == SourceActive && s.NowPlaying != nil {
		s.Active = append(s.Active, *s.NowPlaying)
	}

	if len(s.Active) > 0 {
		next := s.Active[0]
		s.Active = s.Active[1:]
		s.NowPlaying = &next
		s.NowPlayingSource = SourceActive
		return next, SourceActive, true
	}

	s.NowPlaying = nil
	s.NowPlayingSource = SourceNone
	return Item{}, SourceNone, false
}

// ShuffleActive permutes the active queue with a Fisher-Yates shuffle.
// With keepFirst the head stays in place so the item about to play is not
// disturbed. Queues of length <= 1 are left unchanged.
func (e *Engine) ShuffleActive(keepFirst bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.state.Active
	if len(items) <= 1 {
		return
	}
	start := 0
	if keepFirst {
		start = 1
	}
	for i := len(items) - 1; i > start; i-- {
		j := start + e.intN(i-start+1)
		items[i], items[j] = items[j], items[i]
	}
}

// ClearActive empties the active queue. The now-playing item is untouched.
func (e *Engine) ClearActive() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Active = nil
}

// ClearPriority empties the priority queue. The now-playing item is untouched.
func (e *Engine) ClearPriority() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Priority = nil
}

// State returns a deep copy of the current state. Mutating the result never
// affects the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Clone()
}

// Restore replaces the engine state with a copy of s, typically one loaded
// from the state store at startup
func (e *Engine) Restore(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = s.Clone()
	if e.state.NowPlaying == nil {
		e.state.NowPlayingSource = SourceNone
	} else if e.state.NowPlayingSource == SourceNone {
		e.state.NowPlaying = nil
	}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func insertAt(items []Item, i int, item Item) []Item {
	out := make([]Item, 0, len(items)+1)
	out = append(out, items[:i]...)
	out = append(out, item)
	return append(out, items[i:]...)
}

func removeAt(items []Item, i int) ([]Item, Item, bool) {
	if i < 0 || i >= len(items) {
		return items, Item{}, false
	}
	item := items[i]
	out := make([]Item, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...), item, true
}

func move(items []Item, from, to int) ([]Item, bool) {
	rest, item, ok := removeAt(items, from)
	if !ok {
		return items, false
	}
	return insertAt(rest, clamp(to, len(rest)), item), true
}

func indexOf(items []Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
