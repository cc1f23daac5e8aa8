package changes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnreadableSnapshot is returned by Get when the stored value cannot be
// decoded. The next Put replaces it.
var ErrUnreadableSnapshot = errors.New("unreadable change snapshot")

// TrackerStore keeps the last Snapshot. Get returns nil when nothing has
// been stored yet.
type TrackerStore interface {
	Get(ctx context.Context) (*Snapshot, error)
	Put(ctx context.Context, snap Snapshot) error
}

// MemoryStore keeps the snapshot for the life of the process.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	cp := *m.snap
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	m.snap = &snap
	m.mu.Unlock()
	return nil
}

// RedisStore keeps the snapshot as JSON under one key so a restart does
// not announce every row again.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore stores under key with ttl; a ttl of zero keeps the key
// forever.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = "allotment:changes"
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context) (*Snapshot, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("%w: redis key %s: %w", ErrUnreadableSnapshot, s.key, err)
	}
	return &snap, nil
}

func (s *RedisStore) Put(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
