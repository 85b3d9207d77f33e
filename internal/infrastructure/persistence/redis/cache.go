// Package redis implements the Redis-backed pieces of the progression engine.
//
// Key components:
//   - Cache: JSON values with TTL management
//   - Locker: per-practitioner promotion lock shared across processes
//   - EligibilityCache: short-lived eligibility assessments
//   - SweepMarker: de-duplicates eligibility notifications of the sweep
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection settings. URL wins over Host/Port when set.
type Config struct {
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

func (c Config) options() (*redis.Options, error) {
	opts := &redis.Options{Addr: fmt.Sprintf("%s:%d", c.Host, c.Port), Password: c.Password, DB: c.DB}
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		opts.MinIdleConns = c.MinIdleConns
	}
	if c.MaxRetries != 0 {
		opts.MaxRetries = c.MaxRetries
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		opts.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		opts.WriteTimeout = c.WriteTimeout
	}
	if c.PoolTimeout > 0 {
		opts.PoolTimeout = c.PoolTimeout
	}
	return opts, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned by Get for an absent or expired key.
	ErrCacheMiss = errors.New("redis: cache miss")

	errEmptyKey = errors.New("redis: empty key")
)

const (
	PrefixEligibility = "progression:eligibility:"
	PrefixSweep       = "progression:sweep:"
)

const (
	TTLEligibility     = 5 * time.Minute
	TTLSweepNotified   = 7 * 24 * time.Hour
	TTLDistributedLock = 30 * time.Second

	// keys deleted per UNLINK while invalidating by prefix
	scanBatch = 200
)

// EligibilityKey is the cache key of a practitioner's assessment.
func EligibilityKey(practitionerID string) string {
	return PrefixEligibility + practitionerID
}

// SweepKey marks that a target was already announced for a practitioner.
func SweepKey(practitionerID, target string) string {
	return PrefixSweep + practitionerID + ":" + target
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache is the shared Redis client with JSON helpers.
type Cache struct {
	client *redis.Client
}

// NewCache connects and pings once, bounded by the dial timeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the client for lock scripts and pub/sub.
func (c *Cache) Client() *redis.Client { return c.client }

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }

// Ping is used by the readiness check.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set stores value as JSON. A zero ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON stored under key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return errEmptyKey
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// SetNX stores value only when key is absent and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// DeletePrefix removes every key starting with prefix. It walks the keyspace
// with SCAN, so keys written concurrently may survive.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errEmptyKey
	}
	iter := c.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Unlink(ctx, batch...).Err()
	}
	return nil
}
