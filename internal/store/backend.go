package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lazypower/nest/internal/affinity"
)

// ErrStorage wraps every failure to read or write persisted state.
var ErrStorage = errors.New("storage")

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Backend persists full snapshots of program records.
type Backend interface {
	// Load returns every stored record. A missing store is empty, not an error.
	Load(ctx context.Context) ([]affinity.Record, error)
	// Save replaces the stored records with records.
	Save(ctx context.Context, records []affinity.Record) error
	// Location describes where the state lives, for logs and status output.
	Location() string
	Close() error
}

// DefaultPath returns the default state location for kind:
// <user config dir>/nest/state.txt or state.db.
func DefaultPath(kind string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	name := "state.txt"
	if kind == KindSQLite {
		name = "state.db"
	}
	return filepath.Join(dir, "nest", name), nil
}

// Open returns the backend of the given kind at path, or at DefaultPath when
// path is empty.
func Open(kind, path string) (Backend, error) {
	if path == "" {
		p, err := DefaultPath(kind)
		if err != nil {
			return nil, err
		}
		path = p
	}

	switch kind {
	case KindFile, "":
		return NewFileBackend(path), nil
	case KindSQLite:
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}
