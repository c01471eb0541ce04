// Package identity decides which player a process is attached to.
//
// The player claims an identifier, creating it if it has none. Controllers
// only validate that an identifier already exists and never create one.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	MinLength = 4
	MaxLength = 20

	generatedLength = 8
	claimAttempts   = 5
)

var validID = regexp.MustCompile(`^[A-Z0-9_]+$`)

var (
	ErrInvalidFormat = errors.New("player id must be 4-20 letters, digits or underscores")
	ErrTaken         = errors.New("player id already claimed")
	ErrUnknownPlayer = errors.New("no player with that id")
)

// Directory records which player ids exist
type Directory interface {
	// Claim records id, failing with ErrTaken if it already exists
	Claim(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Normalize trims and upper-cases raw and checks the format rules
func Normalize(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if len(id) < MinLength || len(id) > MaxLength || !validID.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	return id, nil
}

// Generate returns a fresh random id that satisfies Normalize
func Generate() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(hex[:generatedLength])
}

// Gate applies the claim and validate rules against a Directory
type Gate struct {
	dir    Directory
	logger zerolog.Logger
}

// NewGate creates a Gate backed by dir
func NewGate(dir Directory, logger zerolog.Logger) *Gate {
	return &Gate{
		dir:    dir,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Claim returns the player's id, for the player role only. A stored id is
// kept (and re-recorded if the directory lost it); without one a new id is
// generated and claimed.
func (g *Gate) Claim(ctx context.Context, stored string) (string, error) {
	if stored != "" {
		id, err := Normalize(stored)
		if err != nil {
			return "", err
		}
		exists, err := g.dir.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to look up player id: %w", err)
		}
		if exists {
			return id, nil
		}
		if err := g.dir.Claim(ctx, id); err != nil && !errors.Is(err, ErrTaken) {
			return "", fmt.Errorf("failed to claim player id %s: %w", id, err)
		}
		g.logger.Info().Str("player", id).Msg("Re-claimed stored player id")
		return id, nil
	}

	for range claimAttempts {
		id := Generate()
		err := g.dir.Claim(ctx, id)
		if errors.Is(err, ErrTaken) {
			g.logger.Debug().Str("player", id).Msg("Generated id collided, retrying")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to claim player id %s: %w", id, err)
		}
		g.logger.Info().Str("player", id).Msg("Claimed new player id")
		return id, nil
	}
	return "", fmt.Errorf("failed to claim a player id after %d attempts: %w", claimAttempts, ErrTaken)
}

// Validate normalizes raw and checks that the player exists, for the
// controller role. It never creates an id.
func (g *Gate) Validate(ctx context.Context, raw string) (string, error) {
	id, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	exists, err := g.dir.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to look up player id: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	return id, nil
}
