// Package sessionvars keeps session-scoped bookkeeping variables in Redis
// hashes, one hash per session keyed by "<prefix><session id>". The store is
// best-effort: it is optional (disabled when no address is configured) and
// never fails the relay path.
package sessionvars

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store is a Redis-backed session variable store. A nil Store or a Store
// built without an address is disabled and all writes are no-ops.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a store. An empty addr returns a disabled store.
func New(addr, prefix string, ttl time.Duration) *Store {
	if addr == "" {
		return &Store{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Enabled reports whether the store is backed by a Redis client.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Set writes one session variable and refreshes the hash TTL.
func (s *Store) Set(ctx context.Context, sessionID, field, value string) error {
	if !s.Enabled() {
		return nil
	}
	key := s.key(sessionID)
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", key, field, err)
	}
	s.client.Expire(ctx, key, s.ttl)
	return nil
}

// Incr increments a numeric session variable.
func (s *Store) Incr(ctx context.Context, sessionID, field string) error {
	if !s.Enabled() {
		return nil
	}
	key := s.key(sessionID)
	if err := s.client.HIncrBy(ctx, key, field, 1).Err(); err != nil {
		return fmt.Errorf("redis HINCRBY %s %s: %w", key, field, err)
	}
	return nil
}

// Get reads one session variable. Unlike writes, reads on a disabled store
// are an error: the caller asked for data that cannot exist.
func (s *Store) Get(ctx context.Context, sessionID, field string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("session variable store not configured")
	}
	key := s.key(sessionID)
	val, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		return "", fmt.Errorf("redis HGET %s %s: %w", key, field, err)
	}
	return val, nil
}

// Drop removes all variables for a session.
func (s *Store) Drop(ctx context.Context, sessionID string) error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Close()
}
