package kv

import (
	"context"
	"errors"
	"time"

	"pickofgods/internal/redis"
)

// Redis is a Store backed by the shared redis client.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl)
}

func (r *Redis) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(raw), nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}

func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	return r.client.Keys(ctx, escapeGlob(prefix)+"*")
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
