package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Entry is the persisted envelope: the value plus the unix-millisecond time
// it was written.
type Entry[T any] struct {
	Value     T     `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// StorageCache is a single-key TTL cache over a Store. Reads never fail:
// missing, malformed or expired entries are reported as absent. Write and
// clear failures are logged and swallowed.
type StorageCache[T any] struct {
	store  Store
	key    string
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
	onRead func(key string, hit bool)
}

// Option configures a StorageCache.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger zerolog.Logger
	onRead func(key string, hit bool)
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for swallowed failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReadHook registers a callback invoked after every Get with the hit
// outcome.
func WithReadHook(fn func(key string, hit bool)) Option {
	return func(o *options) { o.onRead = fn }
}

// New builds a StorageCache bound to key with the given freshness window.
func New[T any](store Store, key string, ttl time.Duration, opts ...Option) *StorageCache[T] {
	o := options{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &StorageCache[T]{
		store:  store,
		key:    key,
		ttl:    ttl,
		now:    o.now,
		logger: o.logger,
		onRead: o.onRead,
	}
}

// Key returns the storage key.
func (c *StorageCache[T]) Key() string { return c.key }

// TTL returns the freshness window.
func (c *StorageCache[T]) TTL() time.Duration { return c.ttl }

// Get returns the cached value when present and fresh.
func (c *StorageCache[T]) Get(ctx context.Context) (T, bool) {
	v, ok := c.get(ctx)
	if c.onRead != nil {
		c.onRead(c.key, ok)
	}
	return v, ok
}

func (c *StorageCache[T]) get(ctx context.Context) (T, bool) {
	var zero T
	if c == nil || c.store == nil {
		return zero, false
	}
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", c.key).Msg("cache_read_failed")
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var entry Entry[T]
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", c.key).Msg("cache_entry_malformed")
		c.remove(ctx)
		return zero, false
	}
	age := c.now().Sub(time.UnixMilli(entry.Timestamp))
	if age > c.ttl {
		c.remove(ctx)
		return zero, false
	}
	return entry.Value, true
}

// Set stores value stamped with the current time.
func (c *StorageCache[T]) Set(ctx context.Context, value T) {
	if c == nil || c.store == nil {
		return
	}
	raw, err := json.Marshal(Entry[T]{Value: value, Timestamp: c.now().UnixMilli()})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", c.key).Msg("cache_encode_failed")
		return
	}
	if err := c.store.Set(ctx, c.key, string(raw)); err != nil {
		c.logger.Warn().Err(err).Str("key", c.key).Msg("cache_write_failed")
	}
}

// Clear removes the entry.
func (c *StorageCache[T]) Clear(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}
	c.remove(ctx)
}

func (c *StorageCache[T]) remove(ctx context.Context) {
	if err := c.store.Remove(ctx, c.key); err != nil {
		c.logger.Warn().Err(err).Str("key", c.key).Msg("cache_clear_failed")
	}
}
