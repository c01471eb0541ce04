package statechannel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/pubsub"
)

// Publisher stamps snapshots with increasing versions and publishes them on
// a player's state topic
type Publisher struct {
	transport pubsub.Transport
	playerID  string
	topic     string
	logger    zerolog.Logger

	mu      sync.Mutex
	version uint64
	last    *Snapshot
}

// NewPublisher creates a publisher whose next snapshot gets version
// lastVersion+1. Pass the last persisted version so restarts never go
// backwards.
func NewPublisher(t pubsub.Transport, playerID string, lastVersion uint64, logger zerolog.Logger) *Publisher {
	return &Publisher{
		transport: t,
		playerID:  playerID,
		topic:     pubsub.StateTopic(playerID),
		version:   lastVersion,
		logger:    logger.With().Str("component", "state-publisher").Logger(),
	}
}

// Publish assigns the next version to s and sends it. The version is
// consumed even when sending fails; Republish retries delivery.
func (p *Publisher) Publish(ctx context.Context, s Snapshot) (Snapshot, error) {
	p.mu.Lock()
	p.version++
	s.PlayerID = p.playerID
	s.Version = p.version
	s.PublishedAt = time.Now().UTC()
	s.State = s.State.Clone()
	stored := s
	p.last = &stored
	p.mu.Unlock()

	return s, p.send(ctx, s)
}

// Republish sends the latest snapshot again without a new version, for
// subscribers that joined late or missed it
func (p *Publisher) Republish(ctx context.Context) error {
	p.mu.Lock()
	if p.last == nil {
		p.mu.Unlock()
		return nil
	}
	s := *p.last
	p.mu.Unlock()

	return p.send(ctx, s)
}

// Version returns the version of the latest snapshot
func (p *Publisher) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

func (p *Publisher) send(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := p.transport.Publish(ctx, p.topic, data); err != nil {
		return fmt.Errorf("failed to publish snapshot v%d: %w", s.Version, err)
	}

	p.logger.Debug().
		Uint64("version", s.Version).
		Int("queued", s.State.Len()).
		Msg("Published snapshot")
	return nil
}
