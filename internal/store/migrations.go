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
		Description: "programs: one row per application class",
		SQL: `
CREATE TABLE programs (
    class          TEXT PRIMARY KEY,

    -- Last floating geometry, all NULL when unknown
    floating_x     INTEGER,
    floating_y     INTEGER,
    floating_w     INTEGER,
    floating_h     INTEGER,

    updated_at     INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "placements: bounded workspace history per program",
		SQL: `
CREATE TABLE placements (
    id             INTEGER PRIMARY KEY,
    class          TEXT NOT NULL,
    seq            INTEGER NOT NULL,
    workspace      INTEGER NOT NULL,
    timestamp      INTEGER NOT NULL,

    UNIQUE (class, seq),
    FOREIGN KEY (class) REFERENCES programs(class) ON DELETE CASCADE
);

CREATE INDEX idx_placements_class ON placements(class, seq);
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
