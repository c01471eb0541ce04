package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/queue"
)

// placeholder is replaced by the item locator (or volume level) in command
// templates
const placeholder = "{}"

// Exec is a Renderer that runs an external player process per item, for
// example ["afplay", "{}"] or ["mpv", "--no-video", "{}"]. The item is
// finished when the process exits.
type Exec struct {
	command       []string
	volumeCommand []string // optional, e.g. ["osascript", "-e", "set volume output volume {}"]
	logger        zerolog.Logger

	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	gen       uint64
	proc      *exec.Cmd
	item      queue.Item
	state     PlayState
	offset    time.Duration
	startedAt time.Time
	closed    bool
}

// NewExec creates an exec renderer. command must contain the {} placeholder.
func NewExec(command, volumeCommand []string, logger zerolog.Logger) (*Exec, error) {
	if len(command) == 0 {
		return nil, errors.New("playback command is empty")
	}
	if !hasPlaceholder(command) {
		return nil, fmt.Errorf("playback command %q has no %s placeholder", strings.Join(command, " "), placeholder)
	}
	return &Exec{
		command:       command,
		volumeCommand: volumeCommand,
		logger:        logger.With().Str("component", "renderer").Logger(),
		events:        make(chan Event, eventBuffer),
		done:          make(chan struct{}),
	}, nil
}

// Play kills any running process and starts one for item
func (e *Exec) Play(_ context.Context, item queue.Item) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.killLocked()
	e.gen++
	gen := e.gen

	args := expand(e.command, item.Locator)
	// not tied to the caller's ctx: the process outlives the Play call
	proc := exec.Command(args[0], args[1:]...)
	if err := proc.Start(); err != nil {
		e.state = StateStopped
		e.mu.Unlock()
		e.emit(Event{Kind: EventFailed, ItemID: item.ID, Err: err})
		return fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	e.proc = proc
	e.item = item
	e.state = StatePlaying
	e.offset = 0
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.logger.Debug().Str("item", item.ID).Int("pid", proc.Process.Pid).Msg("Started player process")
	e.emit(Event{Kind: EventStarted, ItemID: item.ID})

	go e.wait(gen, item.ID, proc)
	return nil
}

func (e *Exec) wait(gen uint64, id string, proc *exec.Cmd) {
	err := proc.Wait()

	e.mu.Lock()
	if gen != e.gen {
		// replaced or closed, the exit was ours
		e.mu.Unlock()
		return
	}
	e.proc = nil
	e.state = StateStopped
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn().Err(err).Str("item", id).Msg("Player process failed")
		e.emit(Event{Kind: EventFailed, ItemID: id, Err: err})
		return
	}
	e.emit(Event{Kind: EventFinished, ItemID: id})
}

// Pause stops the process without killing it
func (e *Exec) Pause(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.proc == nil:
		return ErrNothingPlaying
	case e.state == StatePaused:
		return nil
	}
	if err := suspend(e.proc); err != nil {
		return err
	}
	e.offset += time.Since(e.startedAt)
	e.state = StatePaused
	return nil
}

// Resume continues a paused process
func (e *Exec) Resume(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.proc == nil:
		return ErrNothingPlaying
	case e.state == StatePlaying:
		return nil
	}
	if err := resume(e.proc); err != nil {
		return err
	}
	e.startedAt = time.Now()
	e.state = StatePlaying
	return nil
}

// Stop kills the running process without a finished event
func (e *Exec) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	e.killLocked()
	e.state = StateStopped
	e.offset = 0
	return nil
}

// Seek is not possible with an opaque process
func (e *Exec) Seek(context.Context, time.Duration) error {
	return ErrUnsupported
}

// SetVolume runs the volume command, if one is configured
func (e *Exec) SetVolume(ctx context.Context, level int) error {
	if err := validVolume(level); err != nil {
		return err
	}
	if len(e.volumeCommand) == 0 {
		return ErrUnsupported
	}

	args := expand(e.volumeCommand, strconv.Itoa(level))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set volume: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Status reports elapsed wall time as the position
func (e *Exec) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.offset
	if e.state == StatePlaying {
		pos += time.Since(e.startedAt)
	}
	return Status{State: e.state, ItemID: e.item.ID, Position: pos}
}

// Events delivers playback events
func (e *Exec) Events() <-chan Event {
	return e.events
}

// Close kills the running process
func (e *Exec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.gen++
	e.killLocked()
	e.state = StateStopped
	close(e.done)
	return nil
}

func (e *Exec) killLocked() {
	if e.proc == nil || e.proc.Process == nil {
		return
	}
	// a stopped process must be continued to receive the kill
	_ = resume(e.proc)
	_ = e.proc.Process.Kill()
	e.proc = nil
}

func (e *Exec) emit(ev Event) {
	ev.At = time.Now()
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func expand(template []string, value string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, placeholder, value)
	}
	return out
}

func hasPlaceholder(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}
	return false
}
