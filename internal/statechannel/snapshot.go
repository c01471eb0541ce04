// Package statechannel distributes the player's authoritative queue state.
//
// The player publishes versioned snapshots; subscribers drop anything not
// newer than what they already applied and coalesce bursts, so observers
// converge on the latest state no matter how messages are delayed or
// reordered.
package statechannel

import (
	"time"

	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/queue"
)

// MaxResults bounds how many acknowledgements a snapshot carries
const MaxResults = 32

// Snapshot is the complete observable state of a player
type Snapshot struct {
	PlayerID      string           `json:"player_id"`
	Version       uint64           `json:"version"`
	State         queue.State      `json:"state"`
	Playing       bool             `json:"playing"`
	Transitioning bool             `json:"transitioning"` // crossfade out of NowPlaying under way
	Volume        int              `json:"volume"`
	Position      time.Duration    `json:"position"`           // offset into NowPlaying when published
	Playlist      string           `json:"playlist,omitempty"` // last loaded playlist
	PublishedAt   time.Time        `json:"published_at"`
	Results       []command.Result `json:"results,omitempty"` // oldest first
}

// Result returns the acknowledgement for a command, if the snapshot carries it
func (s Snapshot) Result(commandID string) (command.Result, bool) {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if s.Results[i].CommandID == commandID {
			return s.Results[i], true
		}
	}
	return command.Result{}, false
}

// AppendResult adds r to results, keeping at most MaxResults of the newest
func AppendResult(results []command.Result, r command.Result) []command.Result {
	results = append(results, r)
	if over := len(results) - MaxResults; over > 0 {
		results = append([]command.Result(nil), results[over:]...)
	}
	return results
}
