package queue

import (
	"fmt"
	"time"
)

// Item is a single playable entry. Items are values: once created they are
// never mutated, a metadata change replaces the item wholesale.
type Item struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Artist      string        `json:"artist,omitempty"`
	Locator     string        `json:"locator"`
	Duration    time.Duration `json:"duration,omitempty"` // zero when unknown
	PlaylistTag string        `json:"playlist_tag,omitempty"`
}

// String returns "Artist - Title", or just the title when no artist is known
func (i Item) String() string {
	if i.Artist == "" {
		return i.Title
	}
	return fmt.Sprintf("%s - %s", i.Artist, i.Title)
}

// Source records which queue produced the now-playing item
type Source int

const (
	SourceNone     Source = iota // Nothing playing
	SourcePriority               // Dequeued from the priority queue
	SourceActive                 // Dequeued from the active queue
)

// String returns a human-readable representation of the Source
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourcePriority:
		return "priority"
	case SourceActive:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText encodes the source as its string form
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a source from its string form
func (s *Source) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*s = SourceNone
	case "priority":
		*s = SourcePriority
	case "active":
		*s = SourceActive
	default:
		return fmt.Errorf("unknown queue source %q", string(text))
	}
	return nil
}
