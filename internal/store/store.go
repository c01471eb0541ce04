// Package store persists player state in SQLite: claimed player ids, the
// latest snapshot per player and the log of processed commands.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/identity"
	"github.com/jfmyers9/carousel/internal/statechannel"
)

// Store is the player's authoritative state store
type Store struct {
	db *sql.DB
}

// Status is what happened to a delivered command
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// CommandRecord is one entry of the processed-command log
type CommandRecord struct {
	ID          string
	PlayerID    string
	Type        command.Type
	Origin      string
	IssuedAt    time.Time
	ProcessedAt time.Time
	Status      Status
	Code        command.Code
	Message     string
}

// Open opens (creating if needed) the database at path. ":memory:" works
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			claimed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			player_id TEXT PRIMARY KEY REFERENCES players(id),
			version INTEGER NOT NULL,
			data BLOB NOT NULL,
			saved_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			type TEXT NOT NULL,
			origin TEXT,
			issued_at INTEGER NOT NULL,
			processed_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			code TEXT,
			message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_commands_player ON commands(player_id, processed_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Claim records a new player id. It fails with identity.ErrTaken when the
// id already exists.
func (s *Store) Claim(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO players (id, claimed_at) VALUES (?, ?)`,
		id, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to claim player id: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", identity.ErrTaken, id)
	}
	return nil
}

// Exists reports whether a player id has been claimed
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up player: %w", err)
	}
	return n > 0, nil
}

// SaveSnapshot stores snap as the player's latest state. Older versions
// never overwrite newer ones.
func (s *Store) SaveSnapshot(ctx context.Context, snap statechannel.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := `
		INSERT INTO snapshots (player_id, version, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			saved_at = excluded.saved_at
		WHERE excluded.version > snapshots.version
	`

	if _, err := s.db.ExecContext(ctx, query, snap.PlayerID, int64(snap.Version), data, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the player's latest saved snapshot. ok is false when
// nothing was saved yet.
func (s *Store) LoadSnapshot(ctx context.Context, playerID string) (snap statechannel.Snapshot, ok bool, err error) {
	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE player_id = ?`, playerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return statechannel.Snapshot{}, false, nil
	}
	if err != nil {
		return statechannel.Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return statechannel.Snapshot{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Processed reports whether a command id is already in the log
func (s *Store) Processed(ctx context.Context, commandID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands WHERE id = ?`, commandID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up command: %w", err)
	}
	return n > 0, nil
}

// RecordCommand appends a processed command to the log. Recording the same
// command id twice keeps the first entry.
func (s *Store) RecordCommand(ctx context.Context, rec CommandRecord) error {
	query := `
		INSERT OR IGNORE INTO commands
			(id, player_id, type, origin, issued_at, processed_at, status, code, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.PlayerID,
		string(rec.Type),
		rec.Origin,
		rec.IssuedAt.UnixMilli(),
		rec.ProcessedAt.UnixMilli(),
		string(rec.Status),
		string(rec.Code),
		rec.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record command %s: %w", rec.ID, err)
	}
	return nil
}

// RecentCommands returns up to limit log entries for a player, newest first
func (s *Store) RecentCommands(ctx context.Context, playerID string, limit int) ([]CommandRecord, error) {
	query := `
		SELECT id, player_id, type, COALESCE(origin, ''), issued_at, processed_at,
			status, COALESCE(code, ''), COALESCE(message, '')
		FROM commands
		WHERE player_id = ?
		ORDER BY processed_at DESC, rowid DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var typ, status, code string
		var issuedMs, processedMs int64

		err := rows.Scan(
			&rec.ID,
			&rec.PlayerID,
			&typ,
			&rec.Origin,
			&issuedMs,
			&processedMs,
			&status,
			&code,
			&rec.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}

		rec.Type = command.Type(typ)
		rec.Status = Status(status)
		rec.Code = command.Code(code)
		rec.IssuedAt = time.UnixMilli(issuedMs)
		rec.ProcessedAt = time.UnixMilli(processedMs)

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}

	return records, nil
}

// Cleanup removes command log entries processed more than maxAge ago
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	result, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up commands: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}
