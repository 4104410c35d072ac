package sharedstate

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore wraps a go-redis client as a Store: a thin pass-through
// with no logic of its own, so Redis' own atomicity guarantees
// (INCR/DECR) do the real work.
type RedisStore struct {
	c   *goredis.Client
	ttl time.Duration
}

// NewRedisStore builds a RedisStore. ttl, if non-zero, is (re-)applied
// on every Incr so a counter left behind by a crashed process
// eventually expires instead of staying incremented forever.
func NewRedisStore(c *goredis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{c: c, ttl: ttl}
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.c.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if s.ttl > 0 {
		s.c.Expire(ctx, key, s.ttl)
	}
	return n, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	n, err := s.c.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		s.c.Del(ctx, key)
	}
	return n, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.c.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.c.Del(ctx, key).Err()
}
