package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// The DB doubles as a state.Checkpointer: session snapshots are stored as
// opaque JSON keyed by session key. The store that owns the live states
// decides when to push and pull.

// SaveState writes (or replaces) a session snapshot.
func (db *DB) SaveState(ctx context.Context, sessionKey string, data []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversation_states (session_key, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, sessionKey, string(data), now)
	if err != nil {
		return fmt.Errorf("save state %s: %w", sessionKey, err)
	}
	return nil
}

// LoadState returns a session snapshot, or nil if none exists.
func (db *DB) LoadState(ctx context.Context, sessionKey string) ([]byte, error) {
	var snapshot string
	err := db.QueryRowContext(ctx,
		`SELECT snapshot FROM conversation_states WHERE session_key = ?`,
		sessionKey).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", sessionKey, err)
	}
	return []byte(snapshot), nil
}

// DeleteState removes a session snapshot. Deleting a missing key is a no-op.
func (db *DB) DeleteState(ctx context.Context, sessionKey string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM conversation_states WHERE session_key = ?`, sessionKey)
	if err != nil {
		return fmt.Errorf("delete state %s: %w", sessionKey, err)
	}
	return nil
}
