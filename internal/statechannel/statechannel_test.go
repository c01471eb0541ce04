package statechannel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/queue"
)

// collector records delivered snapshots
type collector struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (c *collector) add(s Snapshot) {
	c.mu.Lock()
	c.seen = append(c.seen, s)
	c.mu.Unlock()
}

func (c *collector) versions() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.seen))
	for i, s := range c.seen {
		out[i] = s.Version
	}
	return out
}

func rawSnapshot(t *testing.T, playerID string, version uint64) []byte {
	t.Helper()
	data, err := json.Marshal(Snapshot{PlayerID: playerID, Version: version})
	require.NoError(t, err)
	return data
}

func TestPublisher_VersionsIncrease(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()

	pub := NewPublisher(bus, "P1", 41, zerolog.Nop())
	ctx := context.Background()

	first, err := pub.Publish(ctx, Snapshot{Volume: 10})
	require.NoError(t, err)
	second, err := pub.Publish(ctx, Snapshot{Volume: 20})
	require.NoError(t, err)

	assert.Equal(t, uint64(42), first.Version)
	assert.Equal(t, uint64(43), second.Version)
	assert.Equal(t, "P1", second.PlayerID)
	assert.False(t, second.PublishedAt.IsZero())
	assert.Equal(t, uint64(43), pub.Version())
}

func TestPublisher_FailedSendStillConsumesVersion(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	pub := NewPublisher(bus, "P1", 0, zerolog.Nop())

	bus.SetConnected(false)
	snap, err := pub.Publish(context.Background(), Snapshot{})
	assert.ErrorIs(t, err, pubsub.ErrDisconnected)
	assert.Equal(t, uint64(1), snap.Version)

	got := make(chan Snapshot, 1)
	sub := NewSubscriber(bus, "P1", 0, zerolog.Nop())
	sub.OnSnapshot(func(s Snapshot) { got <- s })
	require.NoError(t, sub.Start())
	defer sub.Close()

	bus.SetConnected(true)
	require.NoError(t, pub.Republish(context.Background()))

	select {
	case s := <-got:
		assert.Equal(t, uint64(1), s.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("republished snapshot not delivered")
	}
}

func TestPublisher_RepublishBeforePublishIsNoop(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()
	pub := NewPublisher(bus, "P1", 0, zerolog.Nop())
	assert.NoError(t, pub.Republish(context.Background()))
}

func TestSubscriber_DropsStaleVersions(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()

	var c collector
	sub := NewSubscriber(bus, "P1", 0, zerolog.Nop())
	sub.OnSnapshot(c.add)

	for _, v := range []uint64{3, 1, 3, 5, 4, 6} {
		sub.offer(Snapshot{PlayerID: "P1", Version: v})
	}

	assert.Equal(t, []uint64{3, 5, 6}, c.versions())
	assert.Equal(t, uint64(6), sub.Applied())
}

func TestSubscriber_IgnoresOtherPlayers(t *testing.T) {
	var c collector
	sub := NewSubscriber(pubsub.NewBus(), "P1", 0, zerolog.Nop())
	sub.OnSnapshot(c.add)

	sub.offer(Snapshot{PlayerID: "P2", Version: 9})
	assert.Empty(t, c.versions())
}

func TestSubscriber_DebounceKeepsLatest(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()

	var c collector
	sub := NewSubscriber(bus, "P1", 50*time.Millisecond, zerolog.Nop())
	sub.OnSnapshot(c.add)

	for v := uint64(1); v <= 5; v++ {
		sub.offer(Snapshot{PlayerID: "P1", Version: v})
	}
	assert.Empty(t, c.versions(), "nothing delivered inside the window")

	require.Eventually(t, func() bool { return len(c.versions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []uint64{5}, c.versions())

	sub.offer(Snapshot{PlayerID: "P1", Version: 4})
	sub.offer(Snapshot{PlayerID: "P1", Version: 7})
	require.Eventually(t, func() bool { return len(c.versions()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{5, 7}, c.versions())
}

func TestSubscriber_EndToEnd(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()

	pub := NewPublisher(bus, "P1", 0, zerolog.Nop())

	var a, b collector
	sub := NewSubscriber(bus, "P1", 10*time.Millisecond, zerolog.Nop())
	sub.OnSnapshot(a.add)
	sub.OnSnapshot(b.add)
	require.NoError(t, sub.Start())
	require.NoError(t, sub.Start())
	defer sub.Close()

	item := queue.Item{ID: "x", Title: "X"}
	_, err := pub.Publish(context.Background(), Snapshot{
		State:   queue.State{NowPlaying: &item, NowPlayingSource: queue.SourceActive},
		Playing: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(b.versions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	got := a.seen[0]
	assert.Equal(t, "x", got.State.NowPlaying.ID)
	assert.Equal(t, queue.SourceActive, got.State.NowPlayingSource)
	assert.True(t, got.Playing)
}

func TestSubscriber_IgnoresGarbage(t *testing.T) {
	bus := pubsub.NewBus()
	defer bus.Close()

	var c collector
	sub := NewSubscriber(bus, "P1", 0, zerolog.Nop())
	sub.OnSnapshot(c.add)
	require.NoError(t, sub.Start())
	defer sub.Close()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, pubsub.StateTopic("P1"), []byte("{not json")))
	require.NoError(t, bus.Publish(ctx, pubsub.StateTopic("P1"), rawSnapshot(t, "P1", 1)))

	require.Eventually(t, func() bool { return len(c.versions()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestResults(t *testing.T) {
	var results []command.Result
	for i := range MaxResults + 5 {
		results = AppendResult(results, command.Result{CommandID: string(rune('a' + i%26)), OK: true})
	}
	assert.Len(t, results, MaxResults)

	snap := Snapshot{Results: []command.Result{
		{CommandID: "c1", OK: false, Code: command.CodeNotFound},
		{CommandID: "c2", OK: true},
	}}
	r, ok := snap.Result("c1")
	require.True(t, ok)
	assert.Equal(t, command.CodeNotFound, r.Code)

	_, ok = snap.Result("missing")
	assert.False(t, ok)
}
