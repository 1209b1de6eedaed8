package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lastRunKey    = "cfprogress:lastrun"
	profileKeyFmt = "cfprogress:profile:%s:%d:%d" // handle, contestDays, problemDays
)

// ErrCacheMiss is returned when a requested key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// Cache keeps small JSON blobs in redis: the latest run report and
// short-lived per-handle profile responses so the dashboard does not
// hammer the Codeforces API on every page view.
type Cache struct {
	rdb *redis.Client
}

// NewCache builds a cache over an existing redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// SaveLastRun stores the serialized run report. It survives API restarts
// so the dashboard keeps showing the previous run until the next one lands.
func (c *Cache) SaveLastRun(ctx context.Context, report []byte) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, lastRunKey, report, 0).Err()
}

// LastRun returns the serialized latest run report.
func (c *Cache) LastRun(ctx context.Context) ([]byte, error) {
	if c == nil || c.rdb == nil {
		return nil, ErrCacheMiss
	}
	data, err := c.rdb.Get(ctx, lastRunKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

// SetProfile caches a profile payload for the given handle and window.
func (c *Cache) SetProfile(ctx context.Context, handle string, contestDays, problemDays int, payload []byte, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	key := fmt.Sprintf(profileKeyFmt, handle, contestDays, problemDays)
	return c.rdb.Set(ctx, key, payload, ttl).Err()
}

// Profile returns a cached profile payload, or ErrCacheMiss.
func (c *Cache) Profile(ctx context.Context, handle string, contestDays, problemDays int) ([]byte, error) {
	if c == nil || c.rdb == nil {
		return nil, ErrCacheMiss
	}
	key := fmt.Sprintf(profileKeyFmt, handle, contestDays, problemDays)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}
