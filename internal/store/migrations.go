package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "stories: narrative corpus",
		SQL: `
CREATE TABLE stories (
    id         TEXT PRIMARY KEY,
    title      TEXT,
    content    TEXT NOT NULL,
    summary    TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "story_analyses: structured psychological metadata per story",
		SQL: `
CREATE TABLE story_analyses (
    story_id            TEXT PRIMARY KEY,
    trigger_title       TEXT,
    trigger_description TEXT,
    trigger_category    TEXT,
    emotions            TEXT,  -- JSON array
    internal_monologue  TEXT,
    violated_value      TEXT,
    value_reasoning     TEXT,
    confidence_score    INTEGER CHECK (confidence_score BETWEEN 1 AND 5),

    FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "conversation_states: checkpointed session snapshots",
		SQL: `
CREATE TABLE conversation_states (
    session_key TEXT PRIMARY KEY,
    snapshot    TEXT NOT NULL,  -- JSON
    updated_at  INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
