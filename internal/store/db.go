package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lazypower/nest/internal/affinity"
)

// DB wraps a sql.DB connection to the nest SQLite database. It implements
// Backend with one row per program and one row per placement.
type DB struct {
	*sql.DB
	Path string
}

var _ Backend = (*DB)(nil)

// OpenSQLite opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func OpenSQLite(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %w", ErrStorage, err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStorage, err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrStorage, err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each new connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (db *DB) Location() string { return db.Path }

// Load returns all programs ordered by class with their placements in
// insertion order.
func (db *DB) Load(ctx context.Context) ([]affinity.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT class, floating_x, floating_y, floating_w, floating_h
		FROM programs
		ORDER BY class
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query programs: %w", ErrStorage, err)
	}
	defer rows.Close()

	var records []affinity.Record
	index := make(map[string]int)
	for rows.Next() {
		var (
			r          affinity.Record
			x, y, w, h sql.NullInt16
		)
		if err := rows.Scan(&r.Class, &x, &y, &w, &h); err != nil {
			return nil, fmt.Errorf("%w: scan program: %w", ErrStorage, err)
		}
		if x.Valid && y.Valid && w.Valid && h.Valid {
			r.Floating = &affinity.Geometry{X: x.Int16, Y: y.Int16, W: w.Int16, H: h.Int16}
		}
		index[r.Class] = len(records)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read programs: %w", ErrStorage, err)
	}

	prow, err := db.QueryContext(ctx, `
		SELECT class, workspace, timestamp
		FROM placements
		ORDER BY class, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query placements: %w", ErrStorage, err)
	}
	defer prow.Close()

	for prow.Next() {
		var (
			class string
			p     affinity.Placement
		)
		if err := prow.Scan(&class, &p.Workspace, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan placement: %w", ErrStorage, err)
		}
		i, ok := index[class]
		if !ok {
			continue
		}
		records[i].Placements = append(records[i].Placements, p)
	}
	if err := prow.Err(); err != nil {
		return nil, fmt.Errorf("%w: read placements: %w", ErrStorage, err)
	}
	return records, nil
}

// Save replaces every stored program inside one transaction.
func (db *DB) Save(ctx context.Context, records []affinity.Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save: %w", ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM placements"); err != nil {
		return fmt.Errorf("%w: clear placements: %w", ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM programs"); err != nil {
		return fmt.Errorf("%w: clear programs: %w", ErrStorage, err)
	}

	progStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO programs (class, floating_x, floating_y, floating_w, floating_h, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare program insert: %w", ErrStorage, err)
	}
	defer progStmt.Close()

	placeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO placements (class, seq, workspace, timestamp)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare placement insert: %w", ErrStorage, err)
	}
	defer placeStmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range records {
		var x, y, w, h sql.NullInt16
		if g := r.Floating; g != nil {
			x = sql.NullInt16{Int16: g.X, Valid: true}
			y = sql.NullInt16{Int16: g.Y, Valid: true}
			w = sql.NullInt16{Int16: g.W, Valid: true}
			h = sql.NullInt16{Int16: g.H, Valid: true}
		}
		if _, err := progStmt.ExecContext(ctx, r.Class, x, y, w, h, now); err != nil {
			return fmt.Errorf("%w: insert program %s: %w", ErrStorage, r.Class, err)
		}
		for seq, p := range r.Placements {
			if _, err := placeStmt.ExecContext(ctx, r.Class, seq, p.Workspace, p.Timestamp); err != nil {
				return fmt.Errorf("%w: insert placement %s/%d: %w", ErrStorage, r.Class, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save: %w", ErrStorage, err)
	}
	return nil
}
