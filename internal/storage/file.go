package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the snapshot as one JSON document. Saves go to a temp file
// in the same directory which then replaces the target, so the file on disk
// is always a complete snapshot.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotCorrupt, s.path, err)
	}
	if snap.Groups == nil {
		snap.Groups = map[string]GroupRecord{}
	}
	return &snap, nil
}

func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Quarantine copies the current file to <path>.bad so that an unreadable
// snapshot survives being overwritten by the seed.
func (s *FileStore) Quarantine() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path+".bad", data, 0o600)
}
