package player

import (
	"context"
	"errors"

	"github.com/jfmyers9/carousel/internal/catalog"
	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/playback"
)

// applier implements command.Handler on top of the player. It only runs on
// the Run goroutine.
type applier struct {
	p *Player
}

var _ command.Handler = applier{}

func (a applier) Skip(ctx context.Context, _ command.Skip) error {
	p := a.p
	if p.engine.State().NowPlaying == nil {
		if _, _, ok := p.engine.PeekNext(); !ok {
			return command.Reject(command.CodeInvalid, "nothing to skip to")
		}
	}
	p.paused = false
	p.transitioning = false
	if p.engine.State().NowPlaying == nil {
		p.startIfIdle(ctx)
		return nil
	}
	p.advance(ctx)
	return nil
}

func (a applier) Pause(ctx context.Context, _ command.Pause) error {
	p := a.p
	if p.engine.State().NowPlaying == nil {
		return command.Reject(command.CodeInvalid, "nothing is playing")
	}
	if p.paused {
		return nil
	}
	if err := p.renderer.Pause(ctx); err != nil {
		return rendererError(err)
	}
	p.paused = true
	return nil
}

func (a applier) Resume(ctx context.Context, _ command.Resume) error {
	p := a.p
	st := p.engine.State()
	if st.NowPlaying == nil {
		p.paused = false
		p.startIfIdle(ctx)
		if p.engine.State().NowPlaying == nil {
			return command.Reject(command.CodeInvalid, "queue is empty")
		}
		return nil
	}
	if !p.paused {
		return nil
	}

	p.paused = false
	if p.renderer.Status().State == playback.StateStopped {
		// nothing loaded in the renderer after a restart
		p.play(ctx, *st.NowPlaying)
		return nil
	}
	if err := p.renderer.Resume(ctx); err != nil {
		p.paused = true
		return rendererError(err)
	}
	return nil
}

func (a applier) SetVolume(ctx context.Context, c command.SetVolume) error {
	if c.Level < 0 || c.Level > 100 {
		return command.Reject(command.CodeInvalid, "volume %d out of range 0-100", c.Level)
	}
	if err := a.p.renderer.SetVolume(ctx, c.Level); err != nil {
		return rendererError(err)
	}
	a.p.volume = c.Level
	return nil
}

func (a applier) SeekTo(ctx context.Context, c command.SeekTo) error {
	if a.p.engine.State().NowPlaying == nil {
		return command.Reject(command.CodeInvalid, "nothing is playing")
	}
	if c.Position < 0 {
		return command.Reject(command.CodeInvalid, "negative seek position %s", c.Position)
	}
	if err := a.p.renderer.Seek(ctx, c.Position); err != nil {
		return rendererError(err)
	}
	a.p.transitioning = false
	return nil
}

func (a applier) QueueAdd(ctx context.Context, c command.QueueAdd) error {
	p := a.p
	item := c.Item
	if item.ID == "" {
		return command.Reject(command.CodeInvalid, "item has no id")
	}
	if item.Locator == "" {
		return command.Reject(command.CodeInvalid, "item %s has no locator", item.ID)
	}
	if item.Title == "" {
		item.Title = item.ID
	}
	if p.engine.IndexOfActive(item.ID) >= 0 || p.engine.IndexOfPriority(item.ID) >= 0 {
		return command.Reject(command.CodeInvalid, "item %s is already queued", item.ID)
	}
	if np := p.engine.State().NowPlaying; np != nil && np.ID == item.ID {
		return command.Reject(command.CodeInvalid, "item %s is playing", item.ID)
	}

	switch c.Target {
	case command.TargetActive, "":
		if c.Position != nil {
			p.engine.InsertActive(*c.Position, item)
		} else {
			p.engine.AddActive(item)
		}
	case command.TargetPriority:
		if c.Position != nil {
			return command.Reject(command.CodeInvalid, "position is not supported for the priority queue")
		}
		p.engine.AddPriority(item)
	default:
		return invalidTarget(c.Target)
	}

	p.startIfIdle(ctx)
	return nil
}

func (a applier) QueueRemove(_ context.Context, c command.QueueRemove) error {
	e := a.p.engine
	switch c.Target {
	case command.TargetActive, "":
		if _, ok := e.RemoveActive(e.IndexOfActive(c.ID)); !ok {
			return notQueued(c.ID, command.TargetActive)
		}
	case command.TargetPriority:
		if _, ok := e.RemovePriority(e.IndexOfPriority(c.ID)); !ok {
			return notQueued(c.ID, command.TargetPriority)
		}
	default:
		return invalidTarget(c.Target)
	}
	return nil
}

func (a applier) QueueMove(_ context.Context, c command.QueueMove) error {
	e := a.p.engine
	switch c.Target {
	case command.TargetActive, "":
		i := e.IndexOfActive(c.ID)
		if i < 0 {
			return notQueued(c.ID, command.TargetActive)
		}
		e.MoveActive(i, c.To)
	case command.TargetPriority:
		i := e.IndexOfPriority(c.ID)
		if i < 0 {
			return notQueued(c.ID, command.TargetPriority)
		}
		e.MovePriority(i, c.To)
	default:
		return invalidTarget(c.Target)
	}
	return nil
}

func (a applier) QueueClear(_ context.Context, c command.QueueClear) error {
	e := a.p.engine
	switch c.Target {
	case command.TargetActive:
		e.ClearActive()
	case command.TargetPriority:
		e.ClearPriority()
	case command.TargetAll, "":
		e.ClearActive()
		e.ClearPriority()
	default:
		return invalidTarget(c.Target)
	}
	return nil
}

func (a applier) QueueShuffle(_ context.Context, c command.QueueShuffle) error {
	a.p.engine.ShuffleActive(c.KeepFirst)
	return nil
}

func (a applier) LoadPlaylist(ctx context.Context, c command.LoadPlaylist) error {
	p := a.p
	if p.catalog == nil {
		return command.Reject(command.CodeUnsupported, "player has no playlist catalog")
	}
	if c.Name == "" {
		return command.Reject(command.CodeInvalid, "playlist name is required")
	}

	err := p.loadPlaylist(c.Name, c.Shuffle)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return command.Reject(command.CodeNotFound, "playlist %q not found", c.Name)
	case errors.Is(err, catalog.ErrInvalidEntry):
		return command.Reject(command.CodeInvalid, "%v", err)
	case err != nil:
		return err
	}

	p.startIfIdle(ctx)
	return nil
}

// rendererError maps renderer failures onto result codes
func rendererError(err error) error {
	switch {
	case errors.Is(err, playback.ErrUnsupported):
		return command.Reject(command.CodeUnsupported, "%v", err)
	case errors.Is(err, playback.ErrNothingPlaying):
		return command.Reject(command.CodeInvalid, "%v", err)
	default:
		return err
	}
}

func notQueued(id string, t command.Target) error {
	return command.Reject(command.CodeNotFound, "item %s is not in the %s queue", id, t)
}

func invalidTarget(t command.Target) error {
	return command.Reject(command.CodeInvalid, "unknown queue target %q", t)
}
