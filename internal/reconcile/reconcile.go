// Package reconcile merges an authoritative queue snapshot into the queue a
// client is currently displaying, without yanking items that are mid-transition.
package reconcile

import "github.com/jfmyers9/carousel/internal/queue"

// transitionPreserve is how many local entries survive a merge while a
// crossfade is running: the item finishing and the item being preloaded.
const transitionPreserve = 2

// Input describes one merge
type Input struct {
	Local           []queue.Item // sequence currently displayed
	Remote          []queue.Item // latest authoritative sequence
	IsPlaying       bool
	CurrentID       string // id this client shows as playing
	IsTransitioning bool   // crossfade or swap in progress on this client
}

// PreserveCount returns how many leading local entries a merge keeps
func PreserveCount(in Input) int {
	switch {
	case in.IsTransitioning:
		return min(transitionPreserve, len(in.Local))
	case in.IsPlaying && len(in.Local) > 0 && in.Local[0].ID == in.CurrentID:
		return 1
	default:
		return 0
	}
}

// Merge combines the remote sequence with the local one.
//
// An empty remote never wipes the display. Otherwise the first PreserveCount
// local entries are kept and followed by everything after the remote head,
// whose view of "now playing" may lag this client's. The result never
// shares memory with either input.
func Merge(in Input) []queue.Item {
	if len(in.Remote) == 0 {
		return clone(in.Local)
	}
	if len(in.Local) == 0 {
		return clone(in.Remote)
	}

	n := PreserveCount(in)
	if n == 0 {
		return clone(in.Remote)
	}

	out := make([]queue.Item, 0, n+len(in.Remote)-1)
	out = append(out, in.Local[:n]...)
	return append(out, in.Remote[1:]...)
}

// Equivalent reports whether a and b have the same length and the same id at
// every index. It decides whether a re-render is needed, not how to merge.
func Equivalent(a, b []queue.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func clone(items []queue.Item) []queue.Item {
	out := make([]queue.Item, len(items))
	copy(out, items)
	return out
}
