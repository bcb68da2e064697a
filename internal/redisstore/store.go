// Package redisstore implements the coordination-store primitives: the
// time-windowed seen set, idempotent job dispatch, run-metrics
// persistence, and the catch-up high-water mark.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout in the coordination store.
const (
	seenKey      = "poller:seen"
	lastIDKey    = "poller:last_id"
	publishedKey = "jobs:published"
	queuePrefix  = "queue:"
	metricPrefix = "metrics:"
	lastRunKey   = "metrics:last_run"
)

// Store wraps a Redis client with the pipeline's coordination operations.
type Store struct {
	rdb     *redis.Client
	seenTTL time.Duration
}

// New connects to Redis and verifies the connection with a ping. Startup
// connectivity failures are fatal for the process, so New returns them.
func New(ctx context.Context, url string, seenTTL time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // connection is unusable
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(rdb, seenTTL), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(rdb *redis.Client, seenTTL time.Duration) *Store {
	if seenTTL <= 0 {
		seenTTL = 7 * 24 * time.Hour
	}
	return &Store{rdb: rdb, seenTTL: seenTTL}
}

// Ping reports store reachability for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// HighWaterMark returns the last processed max-id, or 0 when unset.
func (s *Store) HighWaterMark(ctx context.Context) (int64, error) {
	val, err := s.rdb.Get(ctx, lastIDKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get high-water mark: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse high-water mark %q: %w", val, err)
	}
	return id, nil
}

// SetHighWaterMark records the last processed max-id.
func (s *Store) SetHighWaterMark(ctx context.Context, id int64) error {
	if err := s.rdb.Set(ctx, lastIDKey, strconv.FormatInt(id, 10), 0).Err(); err != nil {
		return fmt.Errorf("set high-water mark: %w", err)
	}
	return nil
}
