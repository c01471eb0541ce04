// Package controller keeps a controller's display queue in step with the
// player it is attached to.
package controller

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/queue"
	"github.com/jfmyers9/carousel/internal/reconcile"
	"github.com/jfmyers9/carousel/internal/statechannel"
)

// Frame is what a controller renders
type Frame struct {
	Queue     []queue.Item // now playing first, then priority, then active
	Snapshot  statechannel.Snapshot
	Connected bool
}

// NowPlaying returns the head of the display queue when something is playing
func (f Frame) NowPlaying() (queue.Item, bool) {
	if f.Snapshot.State.NowPlaying == nil || len(f.Queue) == 0 {
		return queue.Item{}, false
	}
	return f.Queue[0], true
}

// View merges snapshots into the local display queue. Handlers registered
// with OnChange run only when the rendered frame would differ.
type View struct {
	logger zerolog.Logger

	mu            sync.Mutex
	local         []queue.Item
	snap          statechannel.Snapshot
	transitioning bool // local crossfade, independent of the player's
	connected     bool
	handlers      []func(Frame)
}

// NewView creates an empty view
func NewView(logger zerolog.Logger) *View {
	return &View{
		logger:    logger.With().Str("component", "view").Logger(),
		connected: true,
	}
}

// Attach feeds the view from sub and tracks t's connectivity
func (v *View) Attach(sub *statechannel.Subscriber, t pubsub.Transport) {
	v.mu.Lock()
	v.connected = t.Connected()
	v.mu.Unlock()

	t.OnStatus(v.setConnected)
	sub.OnSnapshot(v.Apply)
}

// OnChange registers fn
func (v *View) OnChange(fn func(Frame)) {
	v.mu.Lock()
	v.handlers = append(v.handlers, fn)
	v.mu.Unlock()
}

// Apply merges snap into the display queue
func (v *View) Apply(snap statechannel.Snapshot) {
	v.mu.Lock()

	in := reconcile.Input{
		Local:           v.local,
		Remote:          snap.State.Display(),
		IsPlaying:       snap.Playing,
		IsTransitioning: v.transitioning || snap.Transitioning,
	}
	if snap.State.NowPlaying != nil {
		in.CurrentID = snap.State.NowPlaying.ID
	}
	merged := reconcile.Merge(in)

	changed := !reconcile.Equivalent(v.local, merged) ||
		snap.Playing != v.snap.Playing ||
		snap.Volume != v.snap.Volume ||
		snap.Transitioning != v.snap.Transitioning

	v.local = merged
	v.snap = snap
	frame, handlers := v.frameLocked(), v.handlersLocked(changed)
	v.mu.Unlock()

	v.logger.Debug().
		Uint64("version", snap.Version).
		Int("preserved", reconcile.PreserveCount(in)).
		Bool("changed", changed).
		Msg("Applied snapshot")

	for _, h := range handlers {
		h(frame)
	}
}

// SetTransitioning marks a local crossfade. While set, the first two
// displayed entries survive merges.
func (v *View) SetTransitioning(on bool) {
	v.mu.Lock()
	v.transitioning = on
	v.mu.Unlock()
}

// Frame returns the current frame
func (v *View) Frame() Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frameLocked()
}

func (v *View) setConnected(connected bool) {
	v.mu.Lock()
	changed := v.connected != connected
	v.connected = connected
	frame, handlers := v.frameLocked(), v.handlersLocked(changed)
	v.mu.Unlock()

	if changed {
		v.logger.Info().Bool("connected", connected).Msg("Connectivity changed")
	}
	for _, h := range handlers {
		h(frame)
	}
}

func (v *View) frameLocked() Frame {
	return Frame{
		Queue:     append([]queue.Item(nil), v.local...),
		Snapshot:  v.snap,
		Connected: v.connected,
	}
}

func (v *View) handlersLocked(changed bool) []func(Frame) {
	if !changed {
		return nil
	}
	return append([]func(Frame){}, v.handlers...)
}
