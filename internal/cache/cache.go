/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based read-through cache for booking policies.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultPolicyTTL bounds how long a policy read may be stale when a write
// bypassed the lookup's invalidation (for example a direct SQL edit).
const DefaultPolicyTTL = 5 * time.Minute

// Key prefixes for Redis cache
const (
	KeyPrefix      = "slotbook:cache:"
	KeyCapRule     = KeyPrefix + "cap:"      // + resource:label
	KeyCancelRule  = KeyPrefix + "cancel:"   // + resource:label
	KeyAdvanceDays = KeyPrefix + "advance:"  // + resource
	KeyApproval    = KeyPrefix + "approval:" // + resource:experiment
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PolicyTTL time.Duration

	// DisableOnError trips the circuit breaker on the first Redis error; the
	// lookup then reads straight from the database until restart.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		PolicyTTL:      DefaultPolicyTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.PolicyTTL <= 0 {
		cfg.PolicyTTL = DefaultPolicyTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis cache unavailable, reading policies from the database")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.PolicyTTL).Msg("redis policy cache initialized")

	return &Cache{
		client: client,
		logger: logger,
		config: cfg,
	}, nil
}

// Disabled returns a cache that always misses.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{logger: logger, config: DefaultConfig(), disabled: true}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.PolicyTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes keys from cache.
func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() || len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// SCAN rather than KEYS so large keyspaces do not block redis.
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Entry wraps a cached policy value. Present=false records a known absence so
// resources without rules do not hit the database on every booking.
type Entry[T any] struct {
	Present bool `json:"present"`
	Value   T    `json:"value"`
}

// Load reads a typed entry.
func Load[T any](ctx context.Context, c *Cache, key string) (Entry[T], bool) {
	var e Entry[T]
	found, err := c.get(ctx, key, &e)
	if err != nil || !found {
		return Entry[T]{}, false
	}
	return e, true
}

// Store writes a typed entry.
func Store[T any](ctx context.Context, c *Cache, key string, e Entry[T]) error {
	return c.set(ctx, key, e)
}

// keyEscaper percent-encodes the part separator and redis glob characters.
var keyEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"*", "%2A",
	"?", "%3F",
	"[", "%5B",
	"]", "%5D",
	"\\", "%5C",
)

func part(s string) string {
	return keyEscaper.Replace(s)
}

// CapRuleKey is the key of the cap rule for (resource, label).
func CapRuleKey(resourceID, label string) string {
	return KeyCapRule + part(resourceID) + ":" + part(label)
}

// CancelRuleKey is the key of the cancel rule for (resource, label).
func CancelRuleKey(resourceID, label string) string {
	return KeyCancelRule + part(resourceID) + ":" + part(label)
}

// AdvanceDaysKey is the key of a resource's advance window.
func AdvanceDaysKey(resourceID string) string {
	return KeyAdvanceDays + part(resourceID)
}

// ApprovalKey is the key of the resolved approval policy for (resource, experiment).
func ApprovalKey(resourceID, experimentCode string) string {
	return KeyApproval + part(resourceID) + ":" + part(experimentCode)
}

// Invalidate removes specific keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	c.logger.Debug().Strs("keys", keys).Msg("invalidating policy cache keys")
	return c.delete(ctx, keys...)
}

// InvalidateExperiment removes the resolved approval of an experiment on
// every resource.
func (c *Cache) InvalidateExperiment(ctx context.Context, experimentCode string) error {
	c.logger.Debug().Str("experiment", experimentCode).Msg("invalidating experiment approval caches")
	return c.deletePattern(ctx, KeyApproval+"*:"+part(experimentCode))
}

// InvalidateResource removes every cached policy of a resource.
func (c *Cache) InvalidateResource(ctx context.Context, resourceID string) error {
	c.logger.Debug().Str("resource", resourceID).Msg("invalidating resource policy caches")
	if err := c.delete(ctx, AdvanceDaysKey(resourceID)); err != nil {
		return err
	}
	for _, prefix := range []string{KeyCapRule, KeyCancelRule, KeyApproval} {
		if err := c.deletePattern(ctx, prefix+part(resourceID)+":*"); err != nil {
			return err
		}
	}
	return nil
}

// FlushAll removes every cached policy.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, KeyPrefix+"*")
}
