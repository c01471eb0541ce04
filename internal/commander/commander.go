// Package commander sends commands to a player and waits for the player to
// acknowledge them.
package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/statechannel"
)

// Config controls acknowledgement and retry behaviour
type Config struct {
	AckTimeout  time.Duration // how long SendBlocking waits for a result
	RetryBase   time.Duration // first backoff after a transient failure
	RetryMax    time.Duration // backoff cap
	MaxAttempts int           // publish attempts per command
}

// DefaultConfig returns the standard timings
func DefaultConfig() Config {
	return Config{
		AckTimeout:  5 * time.Second,
		RetryBase:   250 * time.Millisecond,
		RetryMax:    2 * time.Second,
		MaxAttempts: 3,
	}
}

// Factory builds the payload for a blocking command. It is only called
// once the pending slot has been taken.
type Factory func() (command.Payload, error)

// Commander publishes commands for one player on behalf of one controller
type Commander struct {
	transport pubsub.Transport
	playerID  string
	origin    string
	cfg       Config
	logger    zerolog.Logger

	pending atomic.Bool

	mu      sync.Mutex
	waiters map[string]chan command.Result
}

// New creates a Commander. origin names the controller in every command.
// A non-positive AckTimeout falls back to the default.
func New(t pubsub.Transport, playerID, origin string, cfg Config, logger zerolog.Logger) *Commander {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	return &Commander{
		transport: t,
		playerID:  playerID,
		origin:    origin,
		cfg:       cfg,
		logger:    logger.With().Str("component", "commander").Str("player", playerID).Logger(),
		waiters:   make(map[string]chan command.Result),
	}
}

// Send publishes a command without waiting for acknowledgement
func (c *Commander) Send(ctx context.Context, p command.Payload) (command.Command, error) {
	cmd, err := command.New(c.playerID, c.origin, p)
	if err != nil {
		return command.Command{}, err
	}
	if err := c.publish(ctx, cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// SendBlocking publishes a command and waits until the player acknowledges
// it. Only one blocking command may be in flight: a concurrent call fails
// with command.ErrAlreadyPending without building or sending anything.
//
// It returns nil on success, a *command.RejectedError when the player
// refused the command, or command.ErrTimeout when no acknowledgement
// arrived in time. Running out of retries on a lost connection also counts
// as a timeout and wraps the transport error; other send failures are
// returned as is.
func (c *Commander) SendBlocking(ctx context.Context, factory Factory) (command.Command, error) {
	if !c.pending.CompareAndSwap(false, true) {
		return command.Command{}, command.ErrAlreadyPending
	}
	defer c.pending.Store(false)

	p, err := factory()
	if err != nil {
		return command.Command{}, err
	}
	cmd, err := command.New(c.playerID, c.origin, p)
	if err != nil {
		return command.Command{}, err
	}

	results := make(chan command.Result, 1)
	c.mu.Lock()
	c.waiters[cmd.ID] = results
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.publish(ctx, cmd); err != nil {
		if pubsub.IsTemporary(err) {
			return cmd, fmt.Errorf("%w: %w", command.ErrTimeout, err)
		}
		return cmd, err
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if err := r.Err(); err != nil {
			c.logger.Debug().Str("command", cmd.ID).Err(err).Msg("Command rejected")
			return cmd, err
		}
		return cmd, nil
	case <-timer.C:
		c.logger.Warn().
			Str("command", cmd.ID).
			Str("type", string(cmd.Type())).
			Dur("timeout", c.cfg.AckTimeout).
			Msg("No acknowledgement")
		return cmd, fmt.Errorf("%w: %s after %s", command.ErrTimeout, cmd.Type(), c.cfg.AckTimeout)
	case <-ctx.Done():
		return cmd, ctx.Err()
	}
}

// Pending reports whether a blocking command is awaiting acknowledgement
func (c *Commander) Pending() bool {
	return c.pending.Load()
}

// Observe correlates the results carried by a snapshot with waiting
// commands. Register it with the state subscriber.
func (c *Commander) Observe(s statechannel.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range s.Results {
		ch, ok := c.waiters[r.CommandID]
		if !ok {
			continue
		}
		select {
		case ch <- r:
		default:
			// already resolved by an earlier snapshot
		}
	}
}

// publish sends cmd, retrying transient transport failures with exponential
// backoff. Every attempt carries the same command id so the player can
// discard duplicates.
func (c *Commander) publish(ctx context.Context, cmd command.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	topic := pubsub.CommandTopic(c.playerID)

	var lastErr error
	backoff := c.cfg.RetryBase

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := c.transport.Publish(ctx, topic, data)
		if err == nil {
			c.logger.Debug().
				Str("command", cmd.ID).
				Str("type", string(cmd.Type())).
				Int("attempt", attempt).
				Msg("Sent command")
			return nil
		}
		lastErr = err

		if !pubsub.IsTemporary(err) || attempt == c.cfg.MaxAttempts {
			break
		}

		c.logger.Debug().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient send failure, retrying")
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, c.cfg.RetryMax)
	}

	return fmt.Errorf("failed to send %s command: %w", cmd.Type(), lastErr)
}

// sleep waits for d or until ctx is cancelled.
// Returns true if sleep completed, false if context was cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles d up to limit
func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
