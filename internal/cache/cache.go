// Package cache implements a key/value cache that serves stale values while
// recomputing them in the background.
//
// A key moves through four states:
//
//	MISS   no record; the caller blocks on create
//	FRESH  now < expires; the cached value is returned
//	STALE  expires <= now < expires+MaxStale; the cached value is returned
//	       and at most one background revalidation starts
//	DEAD   now >= expires+MaxStale; the caller blocks on create
//
// Concurrent blocking creates for the same key share one call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/linkmeta/internal/metrics"
)

// Lookup states reported to metrics.
const (
	StateMiss  = "miss"
	StateFresh = "fresh"
	StateStale = "stale"
	StateDead  = "dead"
)

const (
	defaultTTL      = 10 * time.Minute
	defaultMaxStale = 2 * time.Hour
)

// ErrNoValue is returned when a CreateFunc succeeds without producing an entry.
var ErrNoValue = errors.New("cacheable item should return an entry with a value")

// Entry is what a CreateFunc produces. A non-positive TTL means the cache default.
type Entry[V any] struct {
	TTL   time.Duration
	Value V
}

// CreateFunc computes the value for a key.
type CreateFunc[V any] func(ctx context.Context) (*Entry[V], error)

// Clock abstracts time for expiry decisions.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Config tunes the cache. Zero values fall back to defaults; a zero
// Capacity means unbounded.
type Config struct {
	Capacity   int
	DefaultTTL time.Duration
	MaxStale   time.Duration
}

type record[V any] struct {
	mu           sync.Mutex
	value        V
	expires      time.Time
	revalidating bool
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	cfg    Config
	clock  Clock
	logger *zap.Logger

	mu       sync.Mutex
	entries  *lru.Cache
	dropping bool

	group singleflight.Group
	bg    sync.WaitGroup
}

// New builds a Cache. A nil clock uses the wall clock.
func New[V any](cfg Config, clock Clock, logger *zap.Logger) *Cache[V] {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.MaxStale <= 0 {
		cfg.MaxStale = defaultMaxStale
	}
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache[V]{cfg: cfg, clock: clock, logger: logger}
	c.entries = lru.New(cfg.Capacity)
	c.entries.OnEvicted = c.onEvicted
	return c
}

// Get returns the value for key, calling create when the key is missing or
// dead, or in the background when it is stale.
func (c *Cache[V]) Get(ctx context.Context, key string, create CreateFunc[V]) (V, error) {
	rec, ok := c.lookup(key)
	if !ok {
		metrics.ObserveCacheLookup(StateMiss)
		return c.create(ctx, key, create)
	}

	now := c.clock.Now()
	rec.mu.Lock()
	switch {
	case now.Before(rec.expires):
		value := rec.value
		rec.mu.Unlock()
		metrics.ObserveCacheLookup(StateFresh)
		return value, nil

	case now.Before(rec.expires.Add(c.cfg.MaxStale)):
		value := rec.value
		start := !rec.revalidating
		rec.revalidating = true
		rec.mu.Unlock()
		metrics.ObserveCacheLookup(StateStale)
		if start {
			c.bg.Add(1)
			go c.revalidate(context.WithoutCancel(ctx), key, rec, create)
		}
		return value, nil

	default:
		rec.mu.Unlock()
		metrics.ObserveCacheLookup(StateDead)
		c.logger.Debug("cache entry past stale ceiling", zap.String("key", key))
		return c.create(ctx, key, create)
	}
}

// create runs one shared create per key and stores the result. Waiters give
// up when their own context ends; the shared call keeps running for the rest.
func (c *Cache[V]) create(ctx context.Context, key string, create CreateFunc[V]) (V, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		entry, err := call(context.WithoutCancel(ctx), create)
		if err != nil {
			return nil, err
		}
		c.store(key, entry)
		return entry.Value, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		value, _ := res.Val.(V)
		return value, nil
	}
}

func (c *Cache[V]) revalidate(ctx context.Context, key string, rec *record[V], create CreateFunc[V]) {
	defer c.bg.Done()

	entry, err := call(ctx, create)
	metrics.ObserveRevalidation(err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.revalidating = false
	if err != nil {
		c.logger.Warn("background revalidation failed", zap.String("key", key), zap.Error(err))
		return
	}
	rec.value = entry.Value
	rec.expires = c.clock.Now().Add(c.ttl(entry))
}

func call[V any](ctx context.Context, create CreateFunc[V]) (entry *Entry[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache create panicked: %v", r)
		}
	}()
	entry, err = create(ctx)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNoValue
	}
	return entry, nil
}

func (c *Cache[V]) ttl(entry *Entry[V]) time.Duration {
	if entry.TTL > 0 {
		return entry.TTL
	}
	return c.cfg.DefaultTTL
}

func (c *Cache[V]) store(key string, entry *Entry[V]) {
	rec := &record[V]{
		value:   entry.Value,
		expires: c.clock.Now().Add(c.ttl(entry)),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, rec)
}

func (c *Cache[V]) lookup(key string) (*record[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*record[V]), true
}

// Delete drops key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries.Get(key); !ok {
		return false
	}
	c.dropping = true
	c.entries.Remove(key)
	c.dropping = false
	return true
}

// Clear drops every record.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropping = true
	c.entries.Clear()
	c.dropping = false
}

// Len returns the number of records.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Wait blocks until in-flight background revalidations finish.
func (c *Cache[V]) Wait() {
	c.bg.Wait()
}

// onEvicted runs with c.mu held.
func (c *Cache[V]) onEvicted(key lru.Key, _ any) {
	if c.dropping {
		return
	}
	metrics.ObserveEviction()
	c.logger.Debug("cache evicted least recently used entry", zap.Any("key", key))
}
