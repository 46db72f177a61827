package kv

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"pickofgods/internal/config"
	"pickofgods/internal/redis"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()

	store := NewRedis(client)
	ctx := context.Background()
	if err := store.Put(ctx, "script:demo*", []byte(`{"x":1}`), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "script:demo*")
	if err != nil || string(got) != `{"x":1}` {
		t.Fatalf("Get mismatch: %q %v", got, err)
	}
	keys, err := store.List(ctx, "script:demo*")
	if err != nil || len(keys) != 1 {
		t.Fatalf("List mismatch: %v %v", keys, err)
	}
	ok, err := store.PutIfAbsent(ctx, "script:demo*", []byte("y"), time.Minute)
	if err != nil || ok {
		t.Fatalf("PutIfAbsent should refuse existing key: %v %v", ok, err)
	}
	if err := store.Delete(ctx, "script:demo*"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "script:demo*"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`a*b?[c]`); got != `a\*b\?\[c\]` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed kv tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	return client
}
