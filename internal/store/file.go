package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"fest_router/native/internal/domain"
)

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func NewFileStore(path string, ttl time.Duration) *FileStore {
	return &FileStore{path: path, ttl: ttl, now: time.Now}
}

// Save writes snap next to the target and renames it into place.
func (s *FileStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load returns an empty snapshot when the file is missing or expired.
func (s *FileStore) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Snapshot{}, nil
		}
		return domain.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := decode(data, s.ttl, s.now())
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%s: %w", s.path, err)
	}
	if snap.Empty() {
		log.Printf("[store] %s holds no usable snapshot", s.path)
	}
	return snap, nil
}

func (s *FileStore) Close() error { return nil }
