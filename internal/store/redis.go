package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fest_router/native/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "festrouter:snapshot"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisStore keeps the snapshot under one key that expires after the TTL.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Key == "" {
		opts.Key = DefaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, key: opts.Key, ttl: opts.TTL}, nil
}

func (s *RedisStore) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (domain.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	// the key expires on its own; SavedAt is checked for keys written without one
	return decode(data, s.ttl, time.Now())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
