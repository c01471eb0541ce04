// Package command defines the control intents controllers send to the
// authoritative player, and the result markers the player sends back.
//
// Payloads form a closed set: every payload type implements the unexported
// dispatch method, and Dispatch routes it to the matching Handler method, so
// adding a command type without handling it fails to compile.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names a command on the wire
type Type string

const (
	TypeSkip         Type = "skip"
	TypePause        Type = "pause"
	TypeResume       Type = "resume"
	TypeSetVolume    Type = "setVolume"
	TypeSeekTo       Type = "seekTo"
	TypeQueueAdd     Type = "queueAdd"
	TypeQueueRemove  Type = "queueRemove"
	TypeQueueMove    Type = "queueMove"
	TypeQueueClear   Type = "queueClear"
	TypeQueueShuffle Type = "queueShuffle"
	TypeLoadPlaylist Type = "loadPlaylist"
)

// Payload is the typed body of a command
type Payload interface {
	Type() Type
	dispatch(ctx context.Context, h Handler) error
}

// Command is a single control intent
type Command struct {
	ID       string
	PlayerID string
	Origin   string // controller that issued it
	IssuedAt time.Time
	Payload  Payload
}

// New builds a command with a fresh time-ordered id
func New(playerID, origin string, p Payload) (Command, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Command{}, fmt.Errorf("failed to generate command id: %w", err)
	}
	return Command{
		ID:       id.String(),
		PlayerID: playerID,
		Origin:   origin,
		IssuedAt: time.Now().UTC(),
		Payload:  p,
	}, nil
}

// Type returns the payload's command type
func (c Command) Type() Type {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Type()
}

// Expired reports whether the command is older than maxAge at now.
// A non-positive maxAge disables expiry.
func (c Command) Expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(c.IssuedAt) > maxAge
}

// envelope is the JSON shape of a command
type envelope struct {
	ID       string          `json:"id"`
	Type     Type            `json:"type"`
	PlayerID string          `json:"player_id"`
	Origin   string          `json:"origin,omitempty"`
	IssuedAt time.Time       `json:"issued_at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the command with its payload type as a discriminator
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Payload == nil {
		return nil, fmt.Errorf("command %s has no payload", c.ID)
	}
	body, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", c.Payload.Type(), err)
	}
	return json.Marshal(envelope{
		ID:       c.ID,
		Type:     c.Payload.Type(),
		PlayerID: c.PlayerID,
		Origin:   c.Origin,
		IssuedAt: c.IssuedAt,
		Payload:  body,
	})
}

// UnmarshalJSON decodes a command, rejecting unknown types
func (c *Command) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	p, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}

	*c = Command{
		ID:       env.ID,
		PlayerID: env.PlayerID,
		Origin:   env.Origin,
		IssuedAt: env.IssuedAt,
		Payload:  p,
	}
	return nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeSkip:
		return decode[Skip](t, raw)
	case TypePause:
		return decode[Pause](t, raw)
	case TypeResume:
		return decode[Resume](t, raw)
	case TypeSetVolume:
		return decode[SetVolume](t, raw)
	case TypeSeekTo:
		return decode[SeekTo](t, raw)
	case TypeQueueAdd:
		return decode[QueueAdd](t, raw)
	case TypeQueueRemove:
		return decode[QueueRemove](t, raw)
	case TypeQueueMove:
		return decode[QueueMove](t, raw)
	case TypeQueueClear:
		return decode[QueueClear](t, raw)
	case TypeQueueShuffle:
		return decode[QueueShuffle](t, raw)
	case TypeLoadPlaylist:
		return decode[LoadPlaylist](t, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decode[T Payload](t Type, raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
		}
	}
	return p, nil
}

// Dispatch routes c to the Handler method for its payload type
func Dispatch(ctx context.Context, h Handler, c Command) error {
	if c.Payload == nil {
		return Reject(CodeInvalid, "command has no payload")
	}
	return c.Payload.dispatch(ctx, h)
}
