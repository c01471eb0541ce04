package statechannel

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/pubsub"
)

// DefaultDebounce is the coalescing window for snapshot bursts
const DefaultDebounce = 150 * time.Millisecond

// Subscriber delivers a player's snapshots to handlers, newest only.
//
// Snapshots whose version is not greater than the last one delivered are
// discarded. Snapshots arriving within the debounce window of the first
// pending one are coalesced and only the newest is delivered.
type Subscriber struct {
	transport pubsub.Transport
	playerID  string
	debounce  time.Duration
	logger    zerolog.Logger

	deliverMu sync.Mutex // serializes handler calls

	mu       sync.Mutex
	handlers []func(Snapshot)
	applied  uint64
	pending  *Snapshot
	timer    *time.Timer
	sub      *pubsub.Subscription
}

// NewSubscriber creates a subscriber for playerID. A zero debounce delivers
// every fresh snapshot immediately.
func NewSubscriber(t pubsub.Transport, playerID string, debounce time.Duration, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		transport: t,
		playerID:  playerID,
		debounce:  debounce,
		logger:    logger.With().Str("component", "state-subscriber").Str("player", playerID).Logger(),
	}
}

// OnSnapshot registers fn. Handlers run sequentially in registration order
// and must not block for long.
func (s *Subscriber) OnSnapshot(fn func(Snapshot)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Start subscribes to the player's state topic
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return nil
	}
	sub, err := s.transport.Subscribe(pubsub.StateTopic(s.playerID), s.receive)
	if err != nil {
		return fmt.Errorf("failed to subscribe to state: %w", err)
	}
	s.sub = &sub
	return nil
}

// Close unsubscribes and discards any pending snapshot
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		s.transport.Unsubscribe(*s.sub)
		s.sub = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

// Applied returns the version of the last delivered snapshot
func (s *Subscriber) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

func (s *Subscriber) receive(m pubsub.Message) {
	var snap Snapshot
	if err := json.Unmarshal(m.Data, &snap); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable snapshot")
		return
	}
	s.offer(snap)
}

// offer queues snap for delivery unless something at least as new is
// already applied or pending
func (s *Subscriber) offer(snap Snapshot) {
	s.mu.Lock()

	if snap.PlayerID != s.playerID {
		s.mu.Unlock()
		s.logger.Warn().Str("from", snap.PlayerID).Msg("Dropping snapshot for another player")
		return
	}
	if snap.Version <= s.applied || (s.pending != nil && snap.Version <= s.pending.Version) {
		s.mu.Unlock()
		s.logger.Debug().Uint64("version", snap.Version).Msg("Dropping stale snapshot")
		return
	}

	s.pending = &snap
	if s.debounce <= 0 {
		s.mu.Unlock()
		s.flush()
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flush)
	}
	s.mu.Unlock()
}

func (s *Subscriber) flush() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	snap := s.pending
	s.pending = nil
	s.timer = nil
	if snap == nil || snap.Version <= s.applied {
		s.mu.Unlock()
		return
	}
	s.applied = snap.Version
	handlers := append([]func(Snapshot){}, s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(*snap)
	}
}
