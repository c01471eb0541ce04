package pubsub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 10 * time.Second

// Hub bridges websocket clients onto a Bus, so remote controllers share
// topics with the in-process player.
type Hub struct {
	bus      *Bus
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[*hubConn]struct{}
}

// NewHub creates a Hub serving bus
func NewHub(bus *Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "hub").Logger(),
		conns:  make(map[*hubConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &hubConn{
		hub:    h,
		ws:     ws,
		subs:   make(map[string]Subscription),
		logger: h.logger.With().Str("remote", r.RemoteAddr).Logger(),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	c.logger.Debug().Msg("Client connected")
	c.serve(r.Context())

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.logger.Debug().Msg("Client disconnected")
}

// Clients returns the number of open websocket connections
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.ws.Close()
	}
	return nil
}

type hubConn struct {
	hub    *Hub
	ws     *websocket.Conn
	wmu    sync.Mutex // protects websocket writes
	subs   map[string]Subscription
	logger zerolog.Logger
}

func (c *hubConn) serve(ctx context.Context) {
	defer func() {
		for _, sub := range c.subs {
			c.hub.bus.Unsubscribe(sub)
		}
		_ = c.ws.Close()
	}()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}

		switch f.Op {
		case opSubscribe:
			if _, ok := c.subs[f.Topic]; ok {
				continue
			}
			topic := f.Topic
			sub, err := c.hub.bus.Subscribe(topic, func(m Message) {
				c.write(frame{Op: opMessage, Topic: m.Topic, Data: m.Data})
			})
			if err != nil {
				c.write(frame{Op: opError, Topic: topic, Error: err.Error()})
				continue
			}
			c.subs[topic] = sub

		case opUnsubscribe:
			if sub, ok := c.subs[f.Topic]; ok {
				c.hub.bus.Unsubscribe(sub)
				delete(c.subs, f.Topic)
			}

		case opPublish:
			if err := c.hub.bus.Publish(ctx, f.Topic, f.Data); err != nil {
				c.write(frame{Op: opError, Topic: f.Topic, Error: err.Error()})
			}

		default:
			c.write(frame{Op: opError, Error: "unknown op " + f.Op})
		}
	}
}

func (c *hubConn) write(f frame) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(f); err != nil {
		c.logger.Debug().Err(err).Str("topic", f.Topic).Msg("Write failed")
	}
}
