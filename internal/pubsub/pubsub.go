// Package pubsub carries opaque messages between the player and its
// controllers. Delivery is at-least-once at best: messages may be dropped,
// duplicated or reordered across reconnects, and callers must tolerate that.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is a payload published on a topic
type Message struct {
	Topic string
	Data  []byte
}

// Handler receives messages for a subscription. Handlers for one
// subscription are called sequentially.
type Handler func(Message)

// Subscription identifies one Subscribe call
type Subscription struct {
	Topic string
	id    uint64
}

// Transport is a topic-based publish/subscribe channel
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Unsubscribe(sub Subscription)
	Connected() bool
	// OnStatus registers fn to be called whenever connectivity changes
	OnStatus(fn func(connected bool))
}

// transientError is an error worth retrying
type transientError struct {
	msg string
}

func (e *transientError) Error() string   { return e.msg }
func (e *transientError) Temporary() bool { return true }

var (
	// ErrDisconnected is returned when publishing without a live connection
	ErrDisconnected error = &transientError{msg: "pubsub: not connected"}

	ErrClosed = errors.New("pubsub: transport closed")
)

// StateTopic is where a player publishes its snapshots
func StateTopic(playerID string) string {
	return fmt.Sprintf("players/%s/state", playerID)
}

// IsStateTopic reports whether topic is some player's state topic
func IsStateTopic(topic string) bool {
	rest, ok := strings.CutPrefix(topic, "players/")
	return ok && strings.HasSuffix(rest, "/state") && !strings.Contains(strings.TrimSuffix(rest, "/state"), "/")
}

// CommandTopic is where controllers publish commands for a player
func CommandTopic(playerID string) string {
	return fmt.Sprintf("players/%s/commands", playerID)
}

// IsTemporary reports whether err, or anything it wraps, is marked as
// temporary.
func IsTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
