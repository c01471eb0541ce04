package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/poll"
)

const (
	initialReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay     = 5 * time.Second
)

type clientSub struct {
	topic   string
	handler Handler
}

// Client is a Transport connected to a remote Hub. It reconnects with
// backoff and restores its subscriptions after every reconnect. Payloads
// must be JSON.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[uint64]clientSub
	nextID    uint64
	status    []func(bool)

	wmu sync.Mutex // protects websocket writes
}

// NewClient creates a client for the hub at url (ws://host/path). Call Run
// to connect.
func NewClient(url string, logger zerolog.Logger) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.With().Str("component", "pubsub-client").Logger(),
		subs:   make(map[uint64]clientSub),
	}
}

// Run keeps the connection up until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	delay := initialReconnectDelay

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug().Err(err).Dur("retry_in", delay).Msg("Dial failed")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		delay = initialReconnectDelay
		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// WaitConnected blocks until the client is connected or maxWait elapses
func (c *Client) WaitConnected(ctx context.Context, maxWait time.Duration) error {
	err := poll.Until(ctx, 20*time.Millisecond, maxWait, func(context.Context) (bool, error) {
		return c.Connected(), nil
	})
	if errors.Is(err, poll.ErrDeadline) {
		return fmt.Errorf("hub %s unreachable: %w", c.url, err)
	}
	return err
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	topics := c.topicsLocked()
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.write(conn, frame{Op: opSubscribe, Topic: topic}); err != nil {
			c.logger.Debug().Err(err).Str("topic", topic).Msg("Resubscribe failed")
		}
	}

	c.setConnected(true)
	c.logger.Info().Str("url", c.url).Msg("Connected to hub")

	// unblock ReadJSON when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Lost connection to hub")
			}
			break
		}

		switch f.Op {
		case opMessage:
			c.deliver(Message{Topic: f.Topic, Data: f.Data})
		case opError:
			c.logger.Warn().Str("topic", f.Topic).Str("error", f.Error).Msg("Hub reported error")
		}
	}

	_ = conn.Close()
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.setConnected(false)
}

func (c *Client) deliver(m Message) {
	c.mu.Lock()
	var handlers []Handler
	for _, s := range c.subs {
		if s.topic == m.Topic {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(m)
	}
}

// Publish sends data to topic through the hub
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("pubsub: payload for %s is not JSON", topic)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}

	if err := c.write(conn, frame{Op: opPublish, Topic: topic, Data: data}); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Subscribe registers h for topic. While disconnected the subscription is
// sent once the connection comes up.
func (c *Client) Subscribe(topic string, h Handler) (Subscription, error) {
	c.mu.Lock()
	c.nextID++
	sub := Subscription{Topic: topic, id: c.nextID}
	first := !c.hasTopicLocked(topic)
	c.subs[sub.id] = clientSub{topic: topic, handler: h}
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		if err := c.write(conn, frame{Op: opSubscribe, Topic: topic}); err != nil {
			// the next reconnect resubscribes
			c.logger.Debug().Err(err).Str("topic", topic).Msg("Subscribe failed")
		}
	}
	return sub, nil
}

// Unsubscribe removes a subscription
func (c *Client) Unsubscribe(sub Subscription) {
	c.mu.Lock()
	if _, ok := c.subs[sub.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sub.id)
	last := !c.hasTopicLocked(sub.Topic)
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		_ = c.write(conn, frame{Op: opUnsubscribe, Topic: sub.Topic})
	}
}

// Connected reports whether the hub connection is up
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnStatus registers fn for connectivity changes
func (c *Client) OnStatus(fn func(connected bool)) {
	c.mu.Lock()
	c.status = append(c.status, fn)
	c.mu.Unlock()
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	fns := append([]func(bool){}, c.status...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

func (c *Client) write(conn *websocket.Conn, f frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

func (c *Client) hasTopicLocked(topic string) bool {
	for _, s := range c.subs {
		if s.topic == topic {
			return true
		}
	}
	return false
}

func (c *Client) topicsLocked() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, s := range c.subs {
		if !seen[s.topic] {
			seen[s.topic] = true
			topics = append(topics, s.topic)
		}
	}
	return topics
}

// sleep waits for d or until ctx is cancelled.
// Returns true if the full duration elapsed.
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
