// Package player runs the authoritative player: the one process that owns
// the queue, applies commands from controllers and publishes the result.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/catalog"
	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/playback"
	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/queue"
	"github.com/jfmyers9/carousel/internal/statechannel"
	"github.com/jfmyers9/carousel/internal/store"
)

// commandBuffer is how many delivered commands may wait for the loop
const commandBuffer = 64

// Config holds player configuration
type Config struct {
	PlayerID         string
	CommandMaxAge    time.Duration // older commands are ignored
	Heartbeat        time.Duration // how often the latest snapshot is resent
	CleanupInterval  time.Duration // how often the command log is pruned
	CommandRetention time.Duration // how long command log entries are kept
	DefaultVolume    int
	ShuffleOnLoad    bool
	DefaultPlaylist  string // loaded on start when the queue is empty
}

// Fallbacks for unset or non-positive Config intervals
const (
	defaultHeartbeat        = 10 * time.Second
	defaultCleanupInterval  = time.Hour
	defaultCommandRetention = 7 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	// a zero retention would prune the entries duplicate detection needs
	if c.CommandRetention <= 0 {
		c.CommandRetention = defaultCommandRetention
	}
	return c
}

// Catalog supplies playlists
type Catalog interface {
	Load(name string) (catalog.Playlist, error)
}

// Player applies commands to its queue engine and publishes snapshots.
// Everything that touches the queue runs on the Run goroutine.
type Player struct {
	cfg       Config
	engine    *queue.Engine
	renderer  playback.Renderer
	catalog   Catalog
	store     *store.Store
	transport pubsub.Transport
	logger    zerolog.Logger

	commands chan command.Command
	reloads  chan catalog.Playlist
	ready    chan struct{}

	// owned by the Run goroutine
	publisher     *statechannel.Publisher
	paused        bool
	transitioning bool
	volume        int
	playlist      string
	results       []command.Result
	failures      int
	now           func() time.Time
}

// New creates a Player. catalog may be nil, in which case loadPlaylist is
// rejected as unsupported. Non-positive intervals in cfg fall back to
// defaults.
func New(cfg Config, engine *queue.Engine, renderer playback.Renderer, cat Catalog, st *store.Store, t pubsub.Transport, logger zerolog.Logger) *Player {
	cfg = cfg.withDefaults()
	return &Player{
		cfg:       cfg,
		engine:    engine,
		renderer:  renderer,
		catalog:   cat,
		store:     st,
		transport: t,
		logger:    logger.With().Str("component", "player").Str("player", cfg.PlayerID).Logger(),
		commands:  make(chan command.Command, commandBuffer),
		reloads:   make(chan catalog.Playlist, 4),
		ready:     make(chan struct{}),
		volume:    cfg.DefaultVolume,
		now:       time.Now,
	}
}

// Ready is closed once the player is subscribed and has published its
// first snapshot
func (p *Player) Ready() <-chan struct{} {
	return p.ready
}

// PlaylistChanged tells the player a playlist file was edited. If it is the
// loaded playlist the active queue is replaced.
func (p *Player) PlaylistChanged(pl catalog.Playlist) {
	select {
	case p.reloads <- pl:
	default:
		p.logger.Warn().Str("playlist", pl.Name).Msg("Dropping playlist reload, player busy")
	}
}

// Run restores the last saved state, starts playback and processes commands
// and renderer events until ctx is cancelled
func (p *Player) Run(ctx context.Context) error {
	p.logger.Info().Msg("Starting player")

	var lastVersion uint64
	snap, ok, err := p.store.LoadSnapshot(ctx, p.cfg.PlayerID)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	if ok {
		lastVersion = snap.Version
		p.restore(snap)
	}
	p.publisher = statechannel.NewPublisher(p.transport, p.cfg.PlayerID, lastVersion, p.logger)

	sub, err := p.transport.Subscribe(pubsub.CommandTopic(p.cfg.PlayerID), p.receive)
	if err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}
	defer p.transport.Unsubscribe(sub)

	p.start(ctx, ok && snap.State.NowPlaying != nil)
	p.publish(ctx)
	close(p.ready)

	heartbeat := time.NewTicker(p.cfg.Heartbeat)
	defer heartbeat.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Player stopped")
			return nil
		case cmd := <-p.commands:
			p.handleCommand(ctx, cmd)
		case ev := <-p.renderer.Events():
			p.handleEvent(ctx, ev)
		case pl := <-p.reloads:
			p.handleReload(ctx, pl)
		case <-heartbeat.C:
			if err := p.publisher.Republish(ctx); err != nil {
				p.logger.Debug().Err(err).Msg("Heartbeat failed")
			}
		case <-cleanup.C:
			p.cleanup(ctx)
		}
	}
}

func (p *Player) restore(snap statechannel.Snapshot) {
	p.engine.Restore(snap.State)
	p.volume = snap.Volume
	p.playlist = snap.Playlist
	p.results = snap.Results
	p.paused = !snap.Playing && snap.State.NowPlaying != nil

	p.logger.Info().
		Uint64("version", snap.Version).
		Int("queued", snap.State.Len()).
		Bool("paused", p.paused).
		Msg("Restored state")
}

// start begins playback after a (re)start. A restored now-playing item is
// replayed from the beginning unless it was paused.
func (p *Player) start(ctx context.Context, restored bool) {
	if err := p.renderer.SetVolume(ctx, p.volume); err != nil && !errors.Is(err, playback.ErrUnsupported) {
		p.logger.Warn().Err(err).Int("volume", p.volume).Msg("Failed to set volume")
	}

	if restored {
		if !p.paused {
			st := p.engine.State()
			p.play(ctx, *st.NowPlaying)
		}
		return
	}

	if p.cfg.DefaultPlaylist != "" && p.engine.State().Len() == 0 && p.catalog != nil {
		if err := p.loadPlaylist(p.cfg.DefaultPlaylist, nil); err != nil {
			p.logger.Warn().Err(err).Str("playlist", p.cfg.DefaultPlaylist).Msg("Failed to load default playlist")
		}
	}
	p.startIfIdle(ctx)
}

// receive runs on the transport's goroutine and hands commands to the loop
func (p *Player) receive(m pubsub.Message) {
	var cmd command.Command
	if err := json.Unmarshal(m.Data, &cmd); err != nil {
		p.logger.Warn().Err(err).Msg("Dropping undecodable command")
		return
	}

	select {
	case p.commands <- cmd:
	default:
		p.logger.Warn().Str("command", cmd.ID).Msg("Command buffer full, dropping")
	}
}

func (p *Player) handleCommand(ctx context.Context, cmd command.Command) {
	log := p.logger.With().
		Str("command", cmd.ID).
		Str("type", string(cmd.Type())).
		Str("origin", cmd.Origin).
		Logger()

	if cmd.PlayerID != p.cfg.PlayerID {
		log.Warn().Str("target", cmd.PlayerID).Msg("Ignoring command for another player")
		return
	}

	seen, err := p.store.Processed(ctx, cmd.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check command log")
	}
	if seen {
		log.Debug().Msg("Ignoring duplicate command")
		return
	}

	now := p.now()
	rec := store.CommandRecord{
		ID:          cmd.ID,
		PlayerID:    cmd.PlayerID,
		Type:        cmd.Type(),
		Origin:      cmd.Origin,
		IssuedAt:    cmd.IssuedAt,
		ProcessedAt: now,
	}

	if cmd.Expired(now, p.cfg.CommandMaxAge) {
		log.Warn().Dur("age", now.Sub(cmd.IssuedAt)).Msg("Ignoring expired command")
		rec.Status = store.StatusExpired
		p.record(ctx, rec)
		return
	}

	err = command.Dispatch(ctx, applier{p: p}, cmd)

	var result command.Result
	if err != nil {
		result = command.Failed(cmd.ID, err, now)
		rec.Status = store.StatusRejected
		rec.Code = result.Code
		rec.Message = result.Message
		log.Info().Str("code", string(result.Code)).Str("reason", result.Message).Msg("Command rejected")
	} else {
		result = command.Succeeded(cmd.ID, now)
		rec.Status = store.StatusApplied
		log.Info().Msg("Command applied")
	}

	p.record(ctx, rec)
	p.results = statechannel.AppendResult(p.results, result)
	p.publish(ctx)
}

func (p *Player) record(ctx context.Context, rec store.CommandRecord) {
	if err := p.store.RecordCommand(ctx, rec); err != nil {
		p.logger.Error().Err(err).Str("command", rec.ID).Msg("Failed to record command")
	}
}

func (p *Player) handleEvent(ctx context.Context, ev playback.Event) {
	current := p.engine.State().NowPlaying

	switch ev.Kind {
	case playback.EventStarted:
		p.failures = 0
		return

	case playback.EventTransitionStart:
		if current == nil || current.ID != ev.ItemID {
			return
		}
		p.transitioning = true

	case playback.EventTransitionEnd:
		if !p.transitioning {
			return
		}
		p.transitioning = false

	case playback.EventFinished, playback.EventFailed:
		if current == nil || current.ID != ev.ItemID {
			p.logger.Debug().Str("item", ev.ItemID).Msg("Ignoring event for replaced item")
			return
		}
		if ev.Kind == playback.EventFailed {
			p.failures++
			p.logger.Warn().Err(ev.Err).Str("item", ev.ItemID).Int("failures", p.failures).Msg("Playback failed")

			// every queued item failed in a row, stop instead of spinning
			if p.failures > p.engine.State().Len()+1 {
				p.logger.Error().Msg("Too many consecutive playback failures, stopping")
				p.stop(ctx)
				p.paused = true
				p.publish(ctx)
				return
			}
		}
		p.advance(ctx)
	}

	p.publish(ctx)
}

func (p *Player) handleReload(ctx context.Context, pl catalog.Playlist) {
	if pl.Name != p.playlist {
		return
	}
	p.replaceActive(pl)
	if p.shuffleFor(pl, nil) {
		p.engine.ShuffleActive(false)
	}
	p.logger.Info().Str("playlist", pl.Name).Int("items", len(pl.Items)).Msg("Reloaded active playlist")
	p.startIfIdle(ctx)
	p.publish(ctx)
}

func (p *Player) cleanup(ctx context.Context) {
	deleted, err := p.store.Cleanup(ctx, p.cfg.CommandRetention)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to clean up command log")
		return
	}
	if deleted > 0 {
		p.logger.Debug().Int64("deleted", deleted).Msg("Cleaned up command log")
	}
}

// advance rotates to the next item and plays it, or stops when both queues
// are empty
func (p *Player) advance(ctx context.Context) {
	item, source, ok := p.engine.Rotate()
	if !ok {
		p.logger.Info().Msg("Queue exhausted")
		p.stop(ctx)
		return
	}
	p.logger.Info().Str("item", item.String()).Str("source", source.String()).Msg("Rotated")
	p.play(ctx, item)
}

// startIfIdle starts playback when nothing is playing and the player is
// not paused
func (p *Player) startIfIdle(ctx context.Context) {
	if p.paused || p.engine.State().NowPlaying != nil {
		return
	}
	item, _, ok := p.engine.StartPlayback()
	if !ok {
		return
	}
	p.play(ctx, item)
}

func (p *Player) play(ctx context.Context, item queue.Item) {
	if err := p.renderer.Play(ctx, item); err != nil {
		// the renderer reports EventFailed, which moves on
		p.logger.Warn().Err(err).Str("item", item.ID).Msg("Failed to start item")
	}
}

func (p *Player) stop(ctx context.Context) {
	if err := p.renderer.Stop(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to stop renderer")
	}
	p.transitioning = false
}

func (p *Player) shuffleFor(pl catalog.Playlist, override *bool) bool {
	shuffle := p.cfg.ShuffleOnLoad
	if pl.Shuffle != nil {
		shuffle = *pl.Shuffle
	}
	if override != nil {
		shuffle = *override
	}
	return shuffle
}

func (p *Player) loadPlaylist(name string, shuffle *bool) error {
	pl, err := p.catalog.Load(name)
	if err != nil {
		return err
	}
	p.replaceActive(pl)
	if p.shuffleFor(pl, shuffle) {
		p.engine.ShuffleActive(false)
	}
	p.playlist = pl.Name
	p.logger.Info().Str("playlist", pl.Name).Int("items", len(pl.Items)).Msg("Loaded playlist")
	return nil
}

// replaceActive installs pl as the active queue. The engine leaves out
// the playing item, which rejoins the tail on the next rotation.
func (p *Player) replaceActive(pl catalog.Playlist) {
	if dropped := p.engine.ReplaceActive(pl.Items); dropped > 0 {
		p.logger.Debug().Str("playlist", pl.Name).Int("dropped", dropped).Msg("Skipped items already queued")
	}
}

// publish sends the current state and saves it. A failed send is retried
// by the heartbeat.
func (p *Player) publish(ctx context.Context) {
	st := p.engine.State()
	status := p.renderer.Status()

	snap := statechannel.Snapshot{
		State:         st,
		Playing:       st.NowPlaying != nil && !p.paused,
		Transitioning: p.transitioning,
		Volume:        p.volume,
		Playlist:      p.playlist,
		Results:       append([]command.Result(nil), p.results...),
	}
	if st.NowPlaying != nil && status.ItemID == st.NowPlaying.ID {
		snap.Position = status.Position
	}

	published, err := p.publisher.Publish(ctx, snap)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish snapshot")
	}
	if err := p.store.SaveSnapshot(ctx, published); err != nil {
		p.logger.Error().Err(err).Msg("Failed to save snapshot")
	}
}
