package driver

import (
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotStore is the durability side-channel for the memory backend: the
// whole store's binary export is persisted under one fixed key. On startup,
// presence of the key means "load the existing store"; absence means "start
// empty".
type SnapshotStore interface {
	// Load returns the stored snapshot. ok is false when no snapshot exists.
	Load() (data []byte, ok bool, err error)

	// Save replaces the stored snapshot.
	Save(data []byte) error
}

// snapshotKey is the fixed name the store's binary export lives under.
const snapshotKey = "localstore.snapshot"

// fileSnapshotStore keeps the snapshot as a single file in a directory.
type fileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore returns a SnapshotStore backed by a file in dir.
func NewFileSnapshotStore(dir string) SnapshotStore {
	return &fileSnapshotStore{dir: dir}
}

func (s *fileSnapshotStore) path() string {
	return filepath.Join(s.dir, snapshotKey)
}

func (s *fileSnapshotStore) Load() ([]byte, bool, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, true, nil
}

func (s *fileSnapshotStore) Save(data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	// Write-then-rename so a crash never leaves a torn snapshot behind.
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
