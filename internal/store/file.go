package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lazypower/nest/internal/affinity"
)

// FileBackend stores one record per line in a plain text file.
type FileBackend struct {
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a backend for the state file at path. Nothing is
// touched on disk until Save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Location() string { return b.path }

func (b *FileBackend) Close() error { return nil }

// Load reads and decodes the state file. One malformed line fails the whole
// load.
func (b *FileBackend) Load(ctx context.Context) ([]affinity.Record, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, b.path, err)
	}
	defer f.Close()

	records, err := affinity.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrStorage, b.path, err)
	}
	return records, nil
}

// Save writes records to a temporary file beside the state file, syncs it,
// and renames it into place. The previous file survives any failure.
func (b *FileBackend) Save(ctx context.Context, records []affinity.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create state dir: %w", ErrStorage, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStorage, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if tmp != nil {
			tmp.Close()
		}
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := affinity.EncodeAll(w, records); err != nil {
		return fmt.Errorf("%w: write state: %w", ErrStorage, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: write state: %w", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync state: %w", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close state: %w", ErrStorage, err)
	}
	tmp = nil

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("%w: chmod state: %w", ErrStorage, err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", ErrStorage, b.path, err)
	}
	success = true
	return nil
}
