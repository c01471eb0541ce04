package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Message, 4)
	_, err := bus.Subscribe("a", func(m Message) { got <- m })
	require.NoError(t, err)
	_, err = bus.Subscribe("b", func(m Message) { t.Errorf("unexpected message on b: %s", m.Data) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "a", []byte("one")))
	require.NoError(t, bus.Publish(context.Background(), "a", []byte("two")))

	assert.Equal(t, "one", string(receive(t, got).Data))
	assert.Equal(t, "two", string(receive(t, got).Data))
}

func TestBus_PublishCopiesData(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Message, 1)
	_, err := bus.Subscribe("a", func(m Message) { got <- m })
	require.NoError(t, err)

	data := []byte("original")
	require.NoError(t, bus.Publish(context.Background(), "a", data))
	copy(data, "mutated!")

	assert.Equal(t, "original", string(receive(t, got).Data))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe("a", func(Message) {})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("a"))

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.Subscribers("a"))
}

func TestBus_Disconnected(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	statuses := make(chan bool, 4)
	bus.OnStatus(func(connected bool) { statuses <- connected })

	bus.SetConnected(false)
	bus.SetConnected(false)

	err := bus.Publish(context.Background(), "a", []byte("x"))
	assert.True(t, errors.Is(err, ErrDisconnected))
	assert.True(t, IsTemporary(err))
	assert.False(t, bus.Connected())

	bus.SetConnected(true)
	assert.NoError(t, bus.Publish(context.Background(), "a", []byte("x")))

	assert.False(t, <-statuses)
	assert.True(t, <-statuses)
	assert.Len(t, statuses, 0, "repeated status should not notify")
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	release := make(chan struct{})
	_, err := bus.Subscribe("a", func(Message) { <-release })
	require.NoError(t, err)

	for range listenerBuffer * 2 {
		require.NoError(t, bus.Publish(context.Background(), "a", []byte("x")))
	}
	close(release)

	assert.Greater(t, bus.Dropped(), uint64(0))
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe("a", func(Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), "a", nil), ErrClosed)
	assert.False(t, IsTemporary(ErrClosed))
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "players/STUDIO/state", StateTopic("STUDIO"))
	assert.Equal(t, "players/STUDIO/commands", CommandTopic("STUDIO"))
}

func TestBus_Retain(t *testing.T) {
	bus := NewBus(WithRetain(IsStateTopic))
	defer bus.Close()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, StateTopic("P1"), []byte(`{"v":1}`)))
	require.NoError(t, bus.Publish(ctx, StateTopic("P1"), []byte(`{"v":2}`)))
	require.NoError(t, bus.Publish(ctx, CommandTopic("P1"), []byte(`{}`)))

	states := make(chan Message, 4)
	_, err := bus.Subscribe(StateTopic("P1"), func(m Message) { states <- m })
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(receive(t, states).Data))

	commands := make(chan Message, 4)
	_, err = bus.Subscribe(CommandTopic("P1"), func(m Message) { commands <- m })
	require.NoError(t, err)
	select {
	case m := <-commands:
		t.Fatalf("command topic replayed %s", m.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIsStateTopic(t *testing.T) {
	assert.True(t, IsStateTopic(StateTopic("STUDIO")))
	assert.False(t, IsStateTopic(CommandTopic("STUDIO")))
	assert.False(t, IsStateTopic("players/a/b/state"))
	assert.False(t, IsStateTopic("state"))
}
