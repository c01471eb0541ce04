package command

import (
	"context"
	"time"

	"github.com/jfmyers9/carousel/internal/queue"
)

// Target selects which queue a queue command acts on
type Target string

const (
	TargetActive   Target = "active"
	TargetPriority Target = "priority"
	TargetAll      Target = "all" // queueClear only
)

// Handler applies commands. The player implements it; there is exactly one
// method per payload type.
type Handler interface {
	Skip(ctx context.Context, p Skip) error
	Pause(ctx context.Context, p Pause) error
	Resume(ctx context.Context, p Resume) error
	SetVolume(ctx context.Context, p SetVolume) error
	SeekTo(ctx context.Context, p SeekTo) error
	QueueAdd(ctx context.Context, p QueueAdd) error
	QueueRemove(ctx context.Context, p QueueRemove) error
	QueueMove(ctx context.Context, p QueueMove) error
	QueueClear(ctx context.Context, p QueueClear) error
	QueueShuffle(ctx context.Context, p QueueShuffle) error
	LoadPlaylist(ctx context.Context, p LoadPlaylist) error
}

// Skip ends the current item and rotates to the next
type Skip struct{}

// Pause pauses playback
type Pause struct{}

// Resume resumes paused playback
type Resume struct{}

// SetVolume sets the output volume (0-100)
type SetVolume struct {
	Level int `json:"level"`
}

// SeekTo seeks within the current item
type SeekTo struct {
	Position time.Duration `json:"position"`
}

// QueueAdd adds an item to a queue. Position only applies to the active
// queue; nil appends.
type QueueAdd struct {
	Target   Target     `json:"target"`
	Item     queue.Item `json:"item"`
	Position *int       `json:"position,omitempty"`
}

// QueueRemove removes the item with ID from a queue
type QueueRemove struct {
	Target Target `json:"target"`
	ID     string `json:"id"`
}

// QueueMove moves the item with ID to index To within its queue
type QueueMove struct {
	Target Target `json:"target"`
	ID     string `json:"id"`
	To     int    `json:"to"`
}

// QueueClear empties one queue, or both with TargetAll
type QueueClear struct {
	Target Target `json:"target"`
}

// QueueShuffle shuffles the active queue
type QueueShuffle struct {
	KeepFirst bool `json:"keep_first"`
}

// LoadPlaylist replaces the active queue with a catalog playlist. A nil
// Shuffle falls back to the player's shuffle-on-load setting.
type LoadPlaylist struct {
	Name    string `json:"name"`
	Shuffle *bool  `json:"shuffle,omitempty"`
}

func (Skip) Type() Type         { return TypeSkip }
func (Pause) Type() Type        { return TypePause }
func (Resume) Type() Type       { return TypeResume }
func (SetVolume) Type() Type    { return TypeSetVolume }
func (SeekTo) Type() Type       { return TypeSeekTo }
func (QueueAdd) Type() Type     { return TypeQueueAdd }
func (QueueRemove) Type() Type  { return TypeQueueRemove }
func (QueueMove) Type() Type    { return TypeQueueMove }
func (QueueClear) Type() Type   { return TypeQueueClear }
func (QueueShuffle) Type() Type { return TypeQueueShuffle }
func (LoadPlaylist) Type() Type { return TypeLoadPlaylist }

func (p Skip) dispatch(ctx context.Context, h Handler) error      { return h.Skip(ctx, p) }
func (p Pause) dispatch(ctx context.Context, h Handler) error     { return h.Pause(ctx, p) }
func (p Resume) dispatch(ctx context.Context, h Handler) error    { return h.Resume(ctx, p) }
func (p SetVolume) dispatch(ctx context.Context, h Handler) error { return h.SetVolume(ctx, p) }
func (p SeekTo) dispatch(ctx context.Context, h Handler) error    { return h.SeekTo(ctx, p) }
func (p QueueAdd) dispatch(ctx context.Context, h Handler) error  { return h.QueueAdd(ctx, p) }
func (p QueueRemove) dispatch(ctx context.Context, h Handler) error {
	return h.QueueRemove(ctx, p)
}
func (p QueueMove) dispatch(ctx context.Context, h Handler) error  { return h.QueueMove(ctx, p) }
func (p QueueClear) dispatch(ctx context.Context, h Handler) error { return h.QueueClear(ctx, p) }
func (p QueueShuffle) dispatch(ctx context.Context, h Handler) error {
	return h.QueueShuffle(ctx, p)
}
func (p LoadPlaylist) dispatch(ctx context.Context, h Handler) error {
	return h.LoadPlaylist(ctx, p)
}
