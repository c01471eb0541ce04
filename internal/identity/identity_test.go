package identity

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDirectory is an in-memory Directory
type memDirectory struct {
	mu       sync.Mutex
	ids      map[string]bool
	claims   int
	taken    int // next n claims fail with ErrTaken
	failWith error
}

func newMemDirectory(ids ...string) *memDirectory {
	d := &memDirectory{ids: make(map[string]bool)}
	for _, id := range ids {
		d.ids[id] = true
	}
	return d
}

func (d *memDirectory) Claim(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims++
	if d.failWith != nil {
		return d.failWith
	}
	if d.taken > 0 {
		d.taken--
		return ErrTaken
	}
	if d.ids[id] {
		return ErrTaken
	}
	d.ids[id] = true
	return nil
}

func (d *memDirectory) Exists(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return false, d.failWith
	}
	return d.ids[id], nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"studio_1", "STUDIO_1", false},
		{"  lobby  ", "LOBBY", false},
		{"ABCD", "ABCD", false},
		{"A1B2C3D4E5F6G7H8I9J0", "A1B2C3D4E5F6G7H8I9J0", false},
		{"abc", "", true},
		{"A1B2C3D4E5F6G7H8I9J0K", "", true},
		{"has-dash", "", true},
		{"with space", "", true},
		{"ÜBER", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		id := Generate()
		normalized, err := Normalize(id)
		require.NoError(t, err)
		assert.Equal(t, id, normalized)
		assert.Len(t, id, generatedLength)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestClaim_GeneratesWhenNothingStored(t *testing.T) {
	dir := newMemDirectory()
	g := NewGate(dir, zerolog.Nop())

	id, err := g.Claim(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, dir.ids[id])
}

func TestClaim_RetriesCollisions(t *testing.T) {
	dir := newMemDirectory()
	dir.taken = 2
	g := NewGate(dir, zerolog.Nop())

	_, err := g.Claim(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, dir.claims)
}

func TestClaim_GivesUp(t *testing.T) {
	dir := newMemDirectory()
	dir.taken = claimAttempts
	g := NewGate(dir, zerolog.Nop())

	_, err := g.Claim(context.Background(), "")
	assert.ErrorIs(t, err, ErrTaken)
}

func TestClaim_KeepsStoredID(t *testing.T) {
	dir := newMemDirectory("STUDIO")
	g := NewGate(dir, zerolog.Nop())

	id, err := g.Claim(context.Background(), "studio")
	require.NoError(t, err)
	assert.Equal(t, "STUDIO", id)
	assert.Equal(t, 0, dir.claims)
}

func TestClaim_RestoresLostStoredID(t *testing.T) {
	dir := newMemDirectory()
	g := NewGate(dir, zerolog.Nop())

	id, err := g.Claim(context.Background(), "LOBBY")
	require.NoError(t, err)
	assert.Equal(t, "LOBBY", id)
	assert.True(t, dir.ids["LOBBY"])
}

func TestClaim_InvalidStoredID(t *testing.T) {
	g := NewGate(newMemDirectory(), zerolog.Nop())
	_, err := g.Claim(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestValidate(t *testing.T) {
	dir := newMemDirectory("STUDIO")
	g := NewGate(dir, zerolog.Nop())
	ctx := context.Background()

	id, err := g.Validate(ctx, " studio ")
	require.NoError(t, err)
	assert.Equal(t, "STUDIO", id)

	_, err = g.Validate(ctx, "LOBBY")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
	assert.False(t, dir.ids["LOBBY"], "validate must never create")
	assert.Equal(t, 0, dir.claims)

	_, err = g.Validate(ctx, "no")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestPrompt(t *testing.T) {
	dir := newMemDirectory("STUDIO")
	g := NewGate(dir, zerolog.Nop())

	in := strings.NewReader("x\nlobby\nstudio\n")
	var out bytes.Buffer

	id, err := Prompt(context.Background(), g, in, &out, "")
	require.NoError(t, err)
	assert.Equal(t, "STUDIO", id)
	assert.Equal(t, 3, strings.Count(out.String(), "Player ID: "))
	assert.Contains(t, out.String(), "no player with that id")
	assert.Contains(t, out.String(), "letters, digits or underscores")
}

func TestPrompt_InitialAccepted(t *testing.T) {
	g := NewGate(newMemDirectory("STUDIO"), zerolog.Nop())
	var out bytes.Buffer

	id, err := Prompt(context.Background(), g, strings.NewReader(""), &out, "studio")
	require.NoError(t, err)
	assert.Equal(t, "STUDIO", id)
	assert.Empty(t, out.String())
}

func TestPrompt_InitialRejectedThenEOF(t *testing.T) {
	g := NewGate(newMemDirectory(), zerolog.Nop())
	var out bytes.Buffer

	_, err := Prompt(context.Background(), g, strings.NewReader(""), &out, "LOBBY")
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, out.String(), "no player with that id")
}

func TestPrompt_LookupFailureStops(t *testing.T) {
	dir := newMemDirectory()
	dir.failWith = errors.New("network down")
	g := NewGate(dir, zerolog.Nop())

	_, err := Prompt(context.Background(), g, strings.NewReader("STUDIO\nSTUDIO\n"), io.Discard, "")
	assert.ErrorIs(t, err, dir.failWith)
}

func TestRemoteDirectory(t *testing.T) {
	srv := httptest.NewServer(Handler(newMemDirectory("STUDIO")))
	defer srv.Close()

	remote := NewRemoteDirectory(srv.URL + "/")
	ctx := context.Background()

	exists, err := remote.Exists(ctx, "STUDIO")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = remote.Exists(ctx, "LOBBY")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = remote.Exists(ctx, "x")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	assert.ErrorIs(t, remote.Claim(ctx, "NEW_ONE"), ErrReadOnly)

	g := NewGate(remote, zerolog.Nop())
	id, err := g.Validate(ctx, "studio")
	require.NoError(t, err)
	assert.Equal(t, "STUDIO", id)

	_, err = g.Claim(ctx, "")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestHandler(t *testing.T) {
	h := Handler(newMemDirectory("STUDIO"))

	tests := []struct {
		path string
		want int
	}{
		{"/players/STUDIO", http.StatusOK},
		{"/players/studio", http.StatusOK},
		{"/players/LOBBY", http.StatusNotFound},
		{"/players/no", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/players/studio", nil))
	assert.JSONEq(t, `{"id":"STUDIO"}`, rec.Body.String())
}
