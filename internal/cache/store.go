package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreFull is returned by MemoryStore when writes are disabled.
var ErrStoreFull = errors.New("cache: store quota exceeded")

// Store is a durable string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// RedisStore persists values in Redis under an optional key prefix. Entries
// never expire on the Redis side; freshness is decided by StorageCache.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore constructs a Redis backed store.
func NewRedisStore(client *redis.Client, prefix string) RedisStore {
	return RedisStore{Client: client, Prefix: prefix}
}

func (s RedisStore) key(k string) string {
	if s.Prefix == "" {
		return k
	}
	return s.Prefix + ":" + k
}

// Get returns the stored value and whether it existed.
func (s RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.Client == nil {
		return "", false, errors.New("cache: redis client not configured")
	}
	val, err := s.Client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key.
func (s RedisStore) Set(ctx context.Context, key, value string) error {
	if s.Client == nil {
		return errors.New("cache: redis client not configured")
	}
	return s.Client.Set(ctx, s.key(key), value, 0).Err()
}

// Remove deletes key. Missing keys are not an error.
func (s RedisStore) Remove(ctx context.Context, key string) error {
	if s.Client == nil {
		return errors.New("cache: redis client not configured")
	}
	return s.Client.Del(ctx, s.key(key)).Err()
}

// Ping checks Redis connectivity; readiness checks call it.
func (s RedisStore) Ping(ctx context.Context) error {
	if s.Client == nil {
		return errors.New("cache: redis client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Client.Ping(ctx).Err()
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[string]string
	failWrites bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// FailWrites makes subsequent Set calls return ErrStoreFull.
func (s *MemoryStore) FailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return ErrStoreFull
	}
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
