package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfmyers9/carousel/internal/catalog"
	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/commander"
	"github.com/jfmyers9/carousel/internal/playback"
	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/queue"
	"github.com/jfmyers9/carousel/internal/statechannel"
	"github.com/jfmyers9/carousel/internal/store"
)

const testPlayerID = "STUDIO"

type memCatalog map[string]catalog.Playlist

func (m memCatalog) Load(name string) (catalog.Playlist, error) {
	pl, ok := m[name]
	if !ok {
		return catalog.Playlist{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, name)
	}
	return pl, nil
}

func tracks(ids ...string) []queue.Item {
	out := make([]queue.Item, len(ids))
	for i, id := range ids {
		out[i] = queue.Item{ID: id, Title: id, Locator: "/music/" + id + ".mp3"}
	}
	return out
}

func noShuffle() *bool {
	v := false
	return &v
}

type harness struct {
	player *Player
	engine *queue.Engine
	bus    *pubsub.Bus
	store  *store.Store
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func testConfig() Config {
	return Config{
		PlayerID:         testPlayerID,
		CommandMaxAge:    30 * time.Second,
		Heartbeat:        time.Hour,
		CleanupInterval:  time.Hour,
		CommandRetention: 24 * time.Hour,
		DefaultVolume:    80,
		DefaultPlaylist:  "morning",
	}
}

func defaultCatalog() memCatalog {
	return memCatalog{
		"morning": {Name: "morning", Shuffle: noShuffle(), Items: tracks("A", "B", "C")},
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Claim(context.Background(), testPlayerID))
	return st
}

// startPlayer runs a player on bus and waits until it is ready
func startPlayer(t *testing.T, cfg Config, cat Catalog, st *store.Store, bus *pubsub.Bus, r playback.Renderer) *harness {
	t.Helper()

	engine := queue.NewEngine()
	p := New(cfg, engine, r, cat, st, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{player: p, engine: engine, bus: bus, store: st, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.err = p.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)

	select {
	case <-p.Ready():
	case <-h.done:
		t.Fatalf("player exited early: %v", h.err)
	case <-time.After(2 * time.Second):
		t.Fatal("player never became ready")
	}
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	bus := pubsub.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	clock := playback.NewClock(0, time.Hour)
	t.Cleanup(func() { _ = clock.Close() })
	return startPlayer(t, testConfig(), defaultCatalog(), newStore(t), bus, clock)
}

// controller wires a commander to the player's state channel
func (h *harness) controller(t *testing.T) *commander.Commander {
	t.Helper()

	cfg := commander.DefaultConfig()
	cfg.AckTimeout = 2 * time.Second
	cfg.RetryBase = 10 * time.Millisecond

	c := commander.New(h.bus, testPlayerID, "test", cfg, zerolog.Nop())
	sub := statechannel.NewSubscriber(h.bus, testPlayerID, 0, zerolog.Nop())
	sub.OnSnapshot(c.Observe)
	require.NoError(t, sub.Start())
	t.Cleanup(sub.Close)
	return c
}

func send(c *commander.Commander, p command.Payload) error {
	_, err := c.SendBlocking(context.Background(), func() (command.Payload, error) { return p, nil })
	return err
}

func nowPlayingID(e *queue.Engine) string {
	if np := e.State().NowPlaying; np != nil {
		return np.ID
	}
	return ""
}

func requireCode(t *testing.T, err error, code command.Code) {
	t.Helper()

	var rej *command.RejectedError
	require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
	assert.Equal(t, code, rej.Code)
}

func TestPlayer_StartsDefaultPlaylist(t *testing.T) {
	h := newHarness(t)

	st := h.engine.State()
	require.NotNil(t, st.NowPlaying)
	assert.Equal(t, "A", st.NowPlaying.ID)
	assert.Equal(t, queue.SourceActive, st.NowPlayingSource)
	assert.Len(t, st.Active, 2)

	snap, ok, err := h.store.LoadSnapshot(context.Background(), testPlayerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.Playing)
	assert.Equal(t, 80, snap.Volume)
	assert.Equal(t, "morning", snap.Playlist)
}

func TestPlayer_AppliesAndAcks(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t)

	err := send(c, command.QueueAdd{
		Target: command.TargetPriority,
		Item:   queue.Item{ID: "REQ", Title: "Request", Locator: "/music/req.mp3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []queue.Item{{ID: "REQ", Title: "Request", Locator: "/music/req.mp3"}}, h.engine.State().Priority)

	require.NoError(t, send(c, command.Skip{}))
	assert.Equal(t, "REQ", nowPlayingID(h.engine))
	assert.Empty(t, h.engine.State().Priority)

	recs, err := h.store.RecentCommands(context.Background(), testPlayerID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, command.TypeSkip, recs[0].Type)
	assert.Equal(t, store.StatusApplied, recs[0].Status)
}

func TestPlayer_Rejections(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t)

	tests := []struct {
		name    string
		payload command.Payload
		code    command.Code
	}{
		{"remove unknown id", command.QueueRemove{Target: command.TargetActive, ID: "missing"}, command.CodeNotFound},
		{"move unknown id", command.QueueMove{Target: command.TargetPriority, ID: "missing", To: 0}, command.CodeNotFound},
		{"volume out of range", command.SetVolume{Level: 101}, command.CodeInvalid},
		{"add without locator", command.QueueAdd{Item: queue.Item{ID: "X"}}, command.CodeInvalid},
		{"add duplicate id", command.QueueAdd{Item: queue.Item{ID: "B", Locator: "/b.mp3"}}, command.CodeInvalid},
		{"unknown playlist", command.LoadPlaylist{Name: "nope"}, command.CodeNotFound},
		{"unknown target", command.QueueClear{Target: "sideways"}, command.CodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, send(c, tt.payload), tt.code)
		})
	}

	// nothing above changed the queue
	assert.Equal(t, "A", nowPlayingID(h.engine))
	assert.Len(t, h.engine.State().Active, 2)
}

func TestPlayer_LoadPlaylistWithoutCatalog(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	clock := playback.NewClock(0, time.Hour)
	defer clock.Close()

	cfg := testConfig()
	cfg.DefaultPlaylist = ""
	h := startPlayer(t, cfg, nil, newStore(t), bus, clock)
	c := h.controller(t)

	requireCode(t, send(c, command.LoadPlaylist{Name: "morning"}), command.CodeUnsupported)
}

func TestPlayer_LoadPlaylistReplacesActive(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	clock := playback.NewClock(0, time.Hour)
	defer clock.Close()

	cat := defaultCatalog()
	cat["evening"] = catalog.Playlist{Name: "evening", Shuffle: noShuffle(), Items: tracks("E1", "E2")}

	h := startPlayer(t, testConfig(), cat, newStore(t), bus, clock)
	c := h.controller(t)

	require.NoError(t, send(c, command.LoadPlaylist{Name: "evening"}))
	assert.Equal(t, "A", nowPlayingID(h.engine), "current item keeps playing")
	assert.Equal(t, tracks("E1", "E2"), h.engine.State().Active)
}

func TestPlayer_ReloadWhilePlayingKeepsIDsUnique(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t)
	require.Equal(t, "A", nowPlayingID(h.engine))

	require.NoError(t, send(c, command.LoadPlaylist{Name: "morning", Shuffle: noShuffle()}))
	assert.Equal(t, tracks("B", "C"), h.engine.State().Active)

	require.NoError(t, send(c, command.Skip{}))
	require.NoError(t, send(c, command.Skip{}))

	st := h.engine.State()
	assert.Equal(t, "C", nowPlayingID(h.engine))
	assert.Equal(t, tracks("A", "B"), st.Active)
}

func TestPlayer_ZeroIntervalsFallBackToDefaults(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	clock := playback.NewClock(0, time.Hour)
	defer clock.Close()

	cfg := testConfig()
	cfg.Heartbeat = 0
	cfg.CleanupInterval = -time.Second
	cfg.CommandRetention = 0

	h := startPlayer(t, cfg, defaultCatalog(), newStore(t), bus, clock)
	assert.Equal(t, defaultHeartbeat, h.player.cfg.Heartbeat)
	assert.Equal(t, defaultCleanupInterval, h.player.cfg.CleanupInterval)
	assert.Equal(t, defaultCommandRetention, h.player.cfg.CommandRetention)

	c := h.controller(t)
	require.NoError(t, send(c, command.Skip{}))
	assert.Equal(t, "B", nowPlayingID(h.engine))
}

func TestPlayer_IgnoresExpiredCommands(t *testing.T) {
	h := newHarness(t)

	cmd, err := command.New(testPlayerID, "test", command.QueueClear{Target: command.TargetAll})
	require.NoError(t, err)
	cmd.IssuedAt = time.Now().Add(-time.Minute)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), pubsub.CommandTopic(testPlayerID), data))

	require.Eventually(t, func() bool {
		recs, err := h.store.RecentCommands(context.Background(), testPlayerID, 10)
		return err == nil && len(recs) == 1 && recs[0].Status == store.StatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, h.engine.State().Active, 2, "expired clear was not applied")

	snap, _, err := h.store.LoadSnapshot(context.Background(), testPlayerID)
	require.NoError(t, err)
	_, ok := snap.Result(cmd.ID)
	assert.False(t, ok, "expired commands get no result")
}

func TestPlayer_DuplicateDeliveryAppliedOnce(t *testing.T) {
	h := newHarness(t)

	cmd, err := command.New(testPlayerID, "test", command.QueueAdd{
		Target: command.TargetPriority,
		Item:   queue.Item{ID: "REQ", Locator: "/music/req.mp3"},
	})
	require.NoError(t, err)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, h.bus.Publish(context.Background(), pubsub.CommandTopic(testPlayerID), data))
	}

	require.Eventually(t, func() bool {
		snap, _, err := h.store.LoadSnapshot(context.Background(), testPlayerID)
		if err != nil {
			return false
		}
		_, ok := snap.Result(cmd.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// give any duplicates time to be (not) applied
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, h.engine.State().Priority, 1)
	recs, err := h.store.RecentCommands(context.Background(), testPlayerID, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPlayer_IgnoresOtherPlayers(t *testing.T) {
	h := newHarness(t)

	cmd, err := command.New("OTHER", "test", command.QueueClear{Target: command.TargetAll})
	require.NoError(t, err)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	// delivered on our topic but addressed elsewhere
	require.NoError(t, h.bus.Publish(context.Background(), pubsub.CommandTopic(testPlayerID), data))
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, h.engine.State().Active, 2)
	recs, err := h.store.RecentCommands(context.Background(), testPlayerID, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPlayer_RotatesWhenItemFinishes(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	clock := playback.NewClock(0, 30*time.Millisecond)
	defer clock.Close()

	h := startPlayer(t, testConfig(), defaultCatalog(), newStore(t), bus, clock)

	require.Eventually(t, func() bool {
		return nowPlayingID(h.engine) == "B"
	}, 2*time.Second, 5*time.Millisecond)

	// A was recycled to the tail
	require.Eventually(t, func() bool {
		active := h.engine.State().Active
		return len(active) > 0 && active[len(active)-1].ID != "C"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPlayer_ReportsTransitions(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	clock := playback.NewClock(time.Hour, time.Hour)
	defer clock.Close()

	cat := memCatalog{"morning": {Name: "morning", Shuffle: noShuffle(), Items: []queue.Item{
		{ID: "A", Title: "A", Locator: "/a.mp3", Duration: 2 * time.Hour},
		{ID: "B", Title: "B", Locator: "/b.mp3"},
	}}}

	sub := statechannel.NewSubscriber(bus, testPlayerID, 0, zerolog.Nop())
	seen := make(chan statechannel.Snapshot, 32)
	sub.OnSnapshot(func(s statechannel.Snapshot) { seen <- s })
	require.NoError(t, sub.Start())
	defer sub.Close()

	h := startPlayer(t, testConfig(), cat, newStore(t), bus, clock)
	c := h.controller(t)

	// seeking past the fade point starts the crossfade right away
	require.NoError(t, send(c, command.SeekTo{Position: time.Hour + time.Minute}))

	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-seen:
				if s.Transitioning {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPlayer_RestartRestoresState(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	st := newStore(t)

	clock := playback.NewClock(0, time.Hour)
	first := startPlayer(t, testConfig(), defaultCatalog(), st, bus, clock)
	c := first.controller(t)
	require.NoError(t, send(c, command.QueueAdd{
		Target: command.TargetPriority,
		Item:   queue.Item{ID: "REQ", Locator: "/music/req.mp3"},
	}))
	require.NoError(t, send(c, command.Pause{}))
	first.stop()
	_ = clock.Close()

	before, ok, err := st.LoadSnapshot(context.Background(), testPlayerID)
	require.NoError(t, err)
	require.True(t, ok)

	clock = playback.NewClock(0, time.Hour)
	defer clock.Close()
	second := startPlayer(t, testConfig(), defaultCatalog(), st, bus, clock)

	st2 := second.engine.State()
	assert.Equal(t, "A", nowPlayingID(second.engine))
	assert.Len(t, st2.Priority, 1)
	assert.Len(t, st2.Active, 2, "default playlist is not reloaded over restored state")

	after, _, err := st.LoadSnapshot(context.Background(), testPlayerID)
	require.NoError(t, err)
	assert.Greater(t, after.Version, before.Version)
	assert.False(t, after.Playing, "paused state survives restart")
	assert.Equal(t, playback.StateStopped, clock.Status().State)

	// resume replays the restored item
	c2 := second.controller(t)
	require.NoError(t, send(c2, command.Resume{}))
	assert.Equal(t, playback.StatePlaying, clock.Status().State)
	assert.Equal(t, "A", clock.Status().ItemID)
}

func TestPlayer_PlaylistChangedReloadsLoadedPlaylist(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t)

	h.player.PlaylistChanged(catalog.Playlist{Name: "other", Items: tracks("X")})
	h.player.PlaylistChanged(catalog.Playlist{Name: "morning", Shuffle: noShuffle(), Items: tracks("A", "B", "C", "D")})

	// a command round trip orders us after both reloads
	require.NoError(t, send(c, command.QueueShuffle{KeepFirst: true}))
	require.Eventually(t, func() bool {
		return len(h.engine.State().Active) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, -1, h.engine.IndexOfActive("A"), "playing item is not queued twice")
	assert.NotEqual(t, -1, h.engine.IndexOfActive("D"))
}
