package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfmyers9/carousel/internal/queue"
)

// eventBuffer is how many events may queue before the renderer blocks
const eventBuffer = 32

// Clock is a Renderer that plays nothing and only keeps time. Each item
// lasts its Duration (or the configured default when unknown) and the last
// Crossfade of it is reported as a transition.
type Clock struct {
	crossfade       time.Duration
	defaultDuration time.Duration

	events chan Event
	done   chan struct{}

	mu            sync.Mutex
	gen           uint64 // invalidates timers of replaced items
	item          queue.Item
	duration      time.Duration
	state         PlayState
	offset        time.Duration // position when last started or paused
	startedAt     time.Time
	transitioning bool
	timer         *time.Timer
	volume        int
	closed        bool
}

// NewClock creates a clock renderer
func NewClock(crossfade, defaultDuration time.Duration) *Clock {
	return &Clock{
		crossfade:       crossfade,
		defaultDuration: defaultDuration,
		events:          make(chan Event, eventBuffer),
		done:            make(chan struct{}),
		volume:          100,
	}
}

// Play starts item from the beginning
func (c *Clock) Play(_ context.Context, item queue.Item) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	wasTransitioning := c.transitioning
	previous := c.item.ID

	c.stopTimerLocked()
	c.gen++
	c.item = item
	c.duration = item.Duration
	if c.duration <= 0 {
		c.duration = c.defaultDuration
	}
	c.state = StatePlaying
	c.offset = 0
	c.startedAt = time.Now()
	c.transitioning = false
	c.scheduleLocked()
	c.mu.Unlock()

	if wasTransitioning {
		c.emit(Event{Kind: EventTransitionEnd, ItemID: previous})
	}
	c.emit(Event{Kind: EventStarted, ItemID: item.ID})
	return nil
}

// Pause freezes the position
func (c *Clock) Pause(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStopped:
		return ErrNothingPlaying
	case StatePaused:
		return nil
	}
	c.offset = c.positionLocked()
	c.state = StatePaused
	c.stopTimerLocked()
	return nil
}

// Resume continues from the paused position
func (c *Clock) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStopped:
		return ErrNothingPlaying
	case StatePlaying:
		return nil
	}
	c.state = StatePlaying
	c.startedAt = time.Now()
	c.scheduleLocked()
	return nil
}

// Stop ends the current item without a finished event
func (c *Clock) Stop(context.Context) error {
	c.mu.Lock()
	wasTransitioning := c.transitioning
	id := c.item.ID
	c.stopTimerLocked()
	c.gen++
	c.state = StateStopped
	c.offset = 0
	c.transitioning = false
	c.mu.Unlock()

	if wasTransitioning {
		c.emit(Event{Kind: EventTransitionEnd, ItemID: id})
	}
	return nil
}

// Seek jumps to pos within the item
func (c *Clock) Seek(_ context.Context, pos time.Duration) error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return ErrNothingPlaying
	}
	if pos < 0 || pos > c.duration {
		c.mu.Unlock()
		return fmt.Errorf("position %s outside item length %s", pos, c.duration)
	}

	wasTransitioning := c.transitioning
	id := c.item.ID

	c.stopTimerLocked()
	c.offset = pos
	c.startedAt = time.Now()
	c.transitioning = false
	if c.state == StatePlaying {
		c.scheduleLocked()
	}
	c.mu.Unlock()

	if wasTransitioning {
		c.emit(Event{Kind: EventTransitionEnd, ItemID: id})
	}
	return nil
}

// SetVolume records the level; the clock has no output
func (c *Clock) SetVolume(_ context.Context, level int) error {
	if err := validVolume(level); err != nil {
		return err
	}
	c.mu.Lock()
	c.volume = level
	c.mu.Unlock()
	return nil
}

// Status reports the simulated position
func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, ItemID: c.item.ID, Position: c.positionLocked()}
}

// Events delivers playback events
func (c *Clock) Events() <-chan Event {
	return c.events
}

// Close stops the clock. Pending events are discarded.
func (c *Clock) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.gen++
	c.state = StateStopped
	close(c.done)
	return nil
}

func (c *Clock) positionLocked() time.Duration {
	pos := c.offset
	if c.state == StatePlaying {
		pos += time.Since(c.startedAt)
	}
	return min(pos, c.duration)
}

// scheduleLocked arms a timer for the next transition point or the end of
// the item, whichever comes first
func (c *Clock) scheduleLocked() {
	pos := c.positionLocked()
	fadeAt := c.duration - c.crossfade

	gen := c.gen
	if c.crossfade > 0 && !c.transitioning && pos < c.duration {
		c.timer = time.AfterFunc(max(fadeAt-pos, 0), func() { c.fire(gen, EventTransitionStart) })
		return
	}
	c.timer = time.AfterFunc(c.duration-pos, func() { c.fire(gen, EventFinished) })
}

func (c *Clock) fire(gen uint64, kind EventKind) {
	c.mu.Lock()
	if gen != c.gen || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	id := c.item.ID
	switch kind {
	case EventTransitionStart:
		c.transitioning = true
		c.scheduleLocked()
	case EventFinished:
		c.offset = c.duration
		c.state = StateStopped
		c.timer = nil
	}
	c.mu.Unlock()

	c.emit(Event{Kind: kind, ItemID: id})
}

func (c *Clock) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Clock) emit(e Event) {
	e.At = time.Now()
	select {
	case c.events <- e:
	case <-c.done:
	}
}
