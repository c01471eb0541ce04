package queue

// State is a point-in-time view of both queues and the now-playing slot.
//
// Invariant: NowPlaying is nil iff NowPlayingSource is SourceNone.
type State struct {
	Active           []Item `json:"active"`
	Priority         []Item `json:"priority"`
	NowPlaying       *Item  `json:"now_playing,omitempty"`
	NowPlayingSource Source `json:"now_playing_source"`
}

// Clone returns a deep copy that shares no memory with s
func (s State) Clone() State {
	out := State{
		Active:           cloneItems(s.Active),
		Priority:         cloneItems(s.Priority),
		NowPlayingSource: s.NowPlayingSource,
	}
	if s.NowPlaying != nil {
		np := *s.NowPlaying
		out.NowPlaying = &np
	}
	return out
}

// Display returns the sequence a controller shows: the now-playing item
// (when present) followed by the priority queue and then the active queue.
func (s State) Display() []Item {
	out := make([]Item, 0, len(s.Active)+len(s.Priority)+1)
	if s.NowPlaying != nil {
		out = append(out, *s.NowPlaying)
	}
	out = append(out, s.Priority...)
	out = append(out, s.Active...)
	return out
}

// Len returns the number of queued items, excluding the now-playing slot
func (s State) Len() int {
	return len(s.Active) + len(s.Priority)
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
