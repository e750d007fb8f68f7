// Package state checkpoints the ingestion watermark so a restart does not
// re-ingest or skip matches.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces watermark keys per tracked player
const DefaultKeyPrefix = "omnic:watermark:"

var ErrNoKey = errors.New("watermark key is not configured")

// RedisStore keeps the watermark in a single Redis string
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Key returns the watermark key for subject
func Key(subject string) string {
	return DefaultKeyPrefix + subject
}

// Load returns the checkpoint, or false when none has been saved
func (s *RedisStore) Load(ctx context.Context) (time.Time, bool, error) {
	if s.key == "" {
		return time.Time{}, false, ErrNoKey
	}

	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis GET %s: %w", s.key, err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", raw, err)
	}

	return t, true, nil
}

func (s *RedisStore) Save(ctx context.Context, t time.Time) error {
	if s.key == "" {
		return ErrNoKey
	}

	if err := s.client.Set(ctx, s.key, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}

	return nil
}

// MemoryStore is a process local store
type MemoryStore struct {
	mu sync.Mutex
	t  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t, !s.t.IsZero(), nil
}

func (s *MemoryStore) Save(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = t
	return nil
}
