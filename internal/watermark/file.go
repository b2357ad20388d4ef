package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"orderpulse/internal/types"
)

// fileState is the on-disk schema for the FileStore. Version enables future
// schema migrations.
type fileState struct {
	Version         int       `json:"version"`
	LastProcessedID int64     `json:"last_processed_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const fileStateVersion = 1

// FileStore persists the watermark in a small JSON file, written atomically
// via rename. It serves daemon/local deployments that have no Postgres.
type FileStore struct {
	path string

	mu      sync.Mutex
	current int64
	loaded  bool
}

// NewFileStore creates a FileStore at the given path. The parent directory
// must exist; the file itself is created on first Advance.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read returns the current watermark, loading the state file on first use.
// A missing file means zero; a corrupt file is an error, not silent data
// loss, because resetting the cursor would re-notify every historical order.
func (s *FileStore) Read(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	return s.current, nil
}

// Advance raises the watermark monotonically and persists it atomically.
func (s *FileStore) Advance(ctx context.Context, candidate int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}

	if candidate <= s.current {
		return s.current, nil
	}

	if err := s.saveLocked(candidate); err != nil {
		return 0, err
	}
	s.current = candidate
	return s.current, nil
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.current = 0
			s.loaded = true
			return nil
		}
		return types.NewAppError(types.ErrCodeWatermarkStore,
			fmt.Sprintf("reading watermark file %s", s.path), err)
	}

	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		return types.NewAppError(types.ErrCodeWatermarkStore,
			fmt.Sprintf("watermark file %s is corrupt", s.path), err)
	}

	s.current = state.LastProcessedID
	s.loaded = true
	return nil
}

// saveLocked writes the state to a temp file in the same directory and
// renames it into place, so a crash mid-write never truncates the cursor.
func (s *FileStore) saveLocked(value int64) error {
	state := fileState{
		Version:         fileStateVersion,
		LastProcessedID: value,
		UpdatedAt:       time.Now().UTC(),
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return types.NewAppError(types.ErrCodeWatermarkStore,
			"marshalling watermark state", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".watermark-*.tmp")
	if err != nil {
		return types.NewAppError(types.ErrCodeWatermarkStore,
			fmt.Sprintf("creating temp watermark file in %s", dir), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeWatermarkStore,
			"writing watermark state", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeWatermarkStore,
			"closing watermark temp file", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeWatermarkStore,
			fmt.Sprintf("replacing watermark file %s", s.path), err)
	}

	return nil
}
