package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// listenerBuffer is how many undelivered messages a subscriber may fall
// behind before new ones are dropped
const listenerBuffer = 64

type listener struct {
	ch   chan Message
	done chan struct{}
}

// Bus is an in-process Transport. Each subscriber has its own buffered
// queue and goroutine; slow subscribers lose messages rather than block
// publishers.
type Bus struct {
	mu        sync.RWMutex
	topics    map[string]map[uint64]*listener
	nextID    uint64
	connected bool
	closed    bool
	status    []func(bool)
	retain    func(topic string) bool
	retained  map[string][]byte

	dropped atomic.Uint64
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithRetain keeps the last message of every topic keep accepts and hands
// it to new subscribers as their first message
func WithRetain(keep func(topic string) bool) BusOption {
	return func(b *Bus) {
		b.retain = keep
	}
}

// NewBus creates a connected Bus
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		topics:    make(map[string]map[uint64]*listener),
		connected: true,
		retained:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers a copy of data to every current subscriber of topic
func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if !b.connected {
		return ErrDisconnected
	}

	if b.retain != nil && b.retain(topic) {
		b.retained[topic] = append([]byte(nil), data...)
	}
	for _, l := range b.topics[topic] {
		msg := Message{Topic: topic, Data: append([]byte(nil), data...)}
		select {
		case l.ch <- msg:
		default:
			// subscriber too slow, drop to keep publishers moving
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers h for topic. Subscribing works while disconnected.
func (b *Bus) Subscribe(topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Subscription{}, ErrClosed
	}

	b.nextID++
	sub := Subscription{Topic: topic, id: b.nextID}
	l := &listener{
		ch:   make(chan Message, listenerBuffer),
		done: make(chan struct{}),
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*listener)
	}
	b.topics[topic][sub.id] = l
	if data, ok := b.retained[topic]; ok {
		l.ch <- Message{Topic: topic, Data: append([]byte(nil), data...)}
	}

	go func() {
		for {
			select {
			case <-l.done:
				return
			case msg := <-l.ch:
				h(msg)
			}
		}
	}()

	return sub, nil
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.topics[sub.Topic][sub.id]
	if !ok {
		return
	}
	delete(b.topics[sub.Topic], sub.id)
	if len(b.topics[sub.Topic]) == 0 {
		delete(b.topics, sub.Topic)
	}
	close(l.done)
}

// Subscribers returns the number of subscriptions on topic
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Dropped returns how many messages were discarded for slow subscribers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Connected reports whether publishing is currently possible
func (b *Bus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && !b.closed
}

// SetConnected simulates losing or regaining the network
func (b *Bus) SetConnected(connected bool) {
	b.mu.Lock()
	if b.connected == connected {
		b.mu.Unlock()
		return
	}
	b.connected = connected
	fns := append([]func(bool){}, b.status...)
	b.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// OnStatus registers fn for connectivity changes
func (b *Bus) OnStatus(fn func(connected bool)) {
	b.mu.Lock()
	b.status = append(b.status, fn)
	b.mu.Unlock()
}

// Close drops every subscription. Later calls fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, listeners := range b.topics {
		for _, l := range listeners {
			close(l.done)
		}
		delete(b.topics, topic)
	}
	return nil
}
