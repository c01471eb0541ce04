// Package playback drives whatever actually renders media. The player only
// tells a Renderer what to play and reacts to the events it reports.
package playback

import (
	"context"
	"errors"
	"time"

	"github.com/jfmyers9/carousel/internal/queue"
)

var (
	ErrUnsupported    = errors.New("not supported by this renderer")
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrClosed         = errors.New("renderer closed")
)

// PlayState represents the current playback state of a renderer
type PlayState int

const (
	StateStopped PlayState = iota // Nothing loaded
	StatePlaying                  // Item is currently playing
	StatePaused                   // Item is paused
)

// String returns a human-readable representation of the PlayState
func (s PlayState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// EventKind identifies a renderer event
type EventKind int

const (
	EventStarted         EventKind = iota // item began playing
	EventTransitionStart                  // crossfade into the next item began
	EventTransitionEnd                    // crossfade finished
	EventFinished                         // item reached its end
	EventFailed                           // item could not be played
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventTransitionStart:
		return "transition-start"
	case EventTransitionEnd:
		return "transition-end"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is something that happened to the item identified by ItemID
type Event struct {
	Kind   EventKind
	ItemID string
	Err    error // set for EventFailed
	At     time.Time
}

// Status is a renderer's current state
type Status struct {
	State    PlayState
	ItemID   string
	Position time.Duration
}

// Renderer plays one item at a time
type Renderer interface {
	// Play starts item, replacing whatever was playing
	Play(ctx context.Context, item queue.Item) error

	// Pause pauses playback
	Pause(ctx context.Context) error

	// Resume resumes paused playback
	Resume(ctx context.Context) error

	// Stop ends playback without reporting the item as finished
	Stop(ctx context.Context) error

	// Seek moves to pos within the current item
	Seek(ctx context.Context, pos time.Duration) error

	// SetVolume sets the output level, 0-100
	SetVolume(ctx context.Context, level int) error

	// Status reports what is playing and where
	Status() Status

	// Events delivers playback events
	Events() <-chan Event

	// Close stops playback and releases resources
	Close() error
}

func validVolume(level int) error {
	if level < 0 || level > 100 {
		return errors.New("volume must be between 0 and 100")
	}
	return nil
}
