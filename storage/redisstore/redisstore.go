// Package redisstore provides a Redis-backed vault storage so tabs running in
// separate processes share one credential record.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps client failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store implements vault.Storage over Redis string keys.
type Store struct {
	redis     redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// New creates a Store. namespace is prepended to every key ("ns:key"); ttl of
// zero keeps keys until removed.
func New(client redis.UniversalClient, namespace string, ttl time.Duration) *Store {
	return &Store{
		redis:     client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *Store) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.redis.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
