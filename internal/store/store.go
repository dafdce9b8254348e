// Package store persists Router snapshots so sessions survive a restart.
package store

import (
	"context"
	"fmt"
	"time"

	"fest_router/native/internal/domain"

	"github.com/bytedance/sonic"
)

// DefaultTTL is how long a snapshot stays usable after it was saved.
const DefaultTTL = 7 * 24 * time.Hour

var api = sonic.ConfigStd

// Options selects and configures a snapshot store.
type Options struct {
	Kind string // none, file or redis
	Path string
	TTL  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Open returns the store selected by opts.Kind. Kind none returns nil.
func Open(ctx context.Context, opts Options) (domain.SnapshotStore, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	switch opts.Kind {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileStore(opts.Path, opts.TTL), nil
	case "redis":
		s, err := NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Key:      opts.RedisKey,
			TTL:      opts.TTL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("store: unknown kind %q", opts.Kind)
}

func encode(snap domain.Snapshot) ([]byte, error) {
	return api.MarshalIndent(snap, "", "  ")
}

// decode parses data and discards snapshots that are too old or from an
// incompatible version.
func decode(data []byte, ttl time.Duration, now time.Time) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := api.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version != domain.SnapshotVersion {
		return domain.Snapshot{}, fmt.Errorf("%w: unsupported snapshot version %d", domain.ErrRestore, snap.Version)
	}
	if ttl > 0 && now.Sub(snap.SavedAt) > ttl {
		return domain.Snapshot{}, nil
	}
	return snap, nil
}
