// Package cache provides small Redis-backed helpers: a scoped expiring
// key/value store for transient tokens and a best-effort once-guard used by
// the dispatcher. Nothing here is authoritative; correctness always rests on
// the database compare-and-swap discipline.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenNotFound is returned when a key is absent or already expired.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore is a key → {value, expiresAt} store with TTL eviction handled by
// Redis. It replaces ad-hoc process-global maps for transient values.
type TokenStore struct {
	client *redis.Client
	prefix string
}

func NewTokenStore(client *redis.Client, prefix string) *TokenStore {
	return &TokenStore{client: client, prefix: prefix}
}

func (s *TokenStore) key(k string) string {
	return s.prefix + ":" + k
}

// Put stores a value with an explicit TTL.
func (s *TokenStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

// Get retrieves a value; expired or missing keys yield ErrTokenNotFound.
func (s *TokenStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	return val, err
}

// Delete evicts a key eagerly.
func (s *TokenStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Acquire sets the key only if it is absent, returning whether this caller
// won. The dispatcher uses it as a cheap duplicate-firing suppressor in front
// of the database claim.
func (s *TokenStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), owner, ttl).Result()
}
