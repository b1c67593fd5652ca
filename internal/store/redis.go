package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/agbru/primecount/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements KV on a Redis server.
type RedisStore struct {
	rc *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rc *redis.Client) *RedisStore {
	return &RedisStore{rc: rc}
}

// Dial parses a redis:// URL, connects and pings the server.
func Dial(ctx context.Context, url string, dialTimeout time.Duration) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	rc := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	return rc, nil
}

// Client exposes the underlying client for components that need list and
// sorted-set commands.
func (s *RedisStore) Client() *redis.Client { return s.rc }

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rc.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewInfrastructureError("incr", err)
	}
	return n, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rc.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewInfrastructureError("get", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return apperrors.NewInfrastructureError("set", s.rc.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rc.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apperrors.NewInfrastructureError("setnx", err)
	}
	return ok, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.rc.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, apperrors.NewInfrastructureError("sadd", err)
	}
	return n == 1, nil
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rc.SCard(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewInfrastructureError("scard", err)
	}
	return n, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return apperrors.NewInfrastructureError("del", s.rc.Del(ctx, keys...).Err())
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return apperrors.NewInfrastructureError("expire", s.rc.Expire(ctx, key, ttl).Err())
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return apperrors.NewInfrastructureError("ping", s.rc.Ping(ctx).Err())
}
