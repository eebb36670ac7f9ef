package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore is a Store backed by a single JSON file holding an array of
// account records. The hosting application owns the file; writes use the
// temp file + rename pattern so watchers and concurrent readers never see a
// partial document. All methods are safe for concurrent use.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at the given path. The file does
// not need to exist yet; a missing file reads as an empty account list.
func NewFileStore(path string) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve path: %w", err)
	}
	return &FileStore{path: absPath}, nil
}

// Path returns the absolute path of the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// ListAccounts returns every persisted account.
func (f *FileStore) ListAccounts(_ context.Context) ([]Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

// GetAccount returns the account with the given id.
func (f *FileStore) GetAccount(_ context.Context, id string) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sources, err := f.readLocked()
	if err != nil {
		return Source{}, err
	}
	for _, src := range sources {
		if src.ID == id {
			return src, nil
		}
	}
	return Source{}, ErrAccountNotFound
}

// UpdateAccount replaces the record matching src.ID and rewrites the file.
func (f *FileStore) UpdateAccount(_ context.Context, src Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sources, err := f.readLocked()
	if err != nil {
		return err
	}

	found := false
	for i := range sources {
		if sources[i].ID == src.ID {
			sources[i] = src
			found = true
			break
		}
	}
	if !found {
		return ErrAccountNotFound
	}

	if err := f.writeLocked(sources); err != nil {
		return err
	}

	log.Debug().
		Str("account_id", src.ID).
		Str("path", f.path).
		Msg("Updated account in store")
	return nil
}

func (f *FileStore) readLocked() ([]Source, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", f.path, err)
	}

	var sources []Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	return sources, nil
}

func (f *FileStore) writeLocked(sources []Source) error {
	data, err := json.MarshalIndent(sources, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode accounts: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("store: rename %s: %w", tmp, err)
	}
	return nil
}
