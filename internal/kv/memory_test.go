package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"
)

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(10)

	if err := store.Put(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil || string(got) != "1" {
		t.Fatalf("Get mismatch: %q %v", got, err)
	}
	got[0] = 'x'
	again, _ := store.Get(ctx, "a")
	if string(again) != "1" {
		t.Fatalf("stored value aliased caller slice")
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Put(ctx, "session:1", []byte("s"), time.Minute)
	if _, err := store.Get(ctx, "session:1"); err != nil {
		t.Fatalf("fresh key should be readable: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "session:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key should be gone, got %v", err)
	}
	if keys, _ := store.List(ctx, "session:"); len(keys) != 0 {
		t.Fatalf("expired key listed: %v", keys)
	}
}

func TestMemoryPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(10)
	ok, err := store.PutIfAbsent(ctx, "log-1", []byte("first"), 0)
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent should win: %v %v", ok, err)
	}
	ok, _ = store.PutIfAbsent(ctx, "log-1", []byte("second"), 0)
	if ok {
		t.Fatalf("second PutIfAbsent should not overwrite")
	}
	got, _ := store.Get(ctx, "log-1")
	if string(got) != "first" {
		t.Fatalf("value overwritten: %q", got)
	}
}

func TestMemoryListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(10)
	_ = store.Put(ctx, "script:a", nil, 0)
	_ = store.Put(ctx, "script:b", nil, 0)
	_ = store.Put(ctx, "session:c", nil, 0)

	keys, err := store.List(ctx, "script:")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "script:a" || keys[1] != "script:b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(2)
	_ = store.Put(ctx, "k1", []byte("1"), 0)
	_ = store.Put(ctx, "k2", []byte("2"), 0)
	_ = store.Put(ctx, "k3", []byte("3"), 0)
	if _, err := store.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest key should be evicted")
	}
}

func TestMemoryReadRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(2)
	_ = store.Put(ctx, "k1", []byte("1"), 0)
	_ = store.Put(ctx, "k2", []byte("2"), 0)
	if _, err := store.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get k1: %v", err)
	}
	_ = store.Put(ctx, "k3", []byte("3"), 0)
	if _, err := store.Get(ctx, "k1"); err != nil {
		t.Fatalf("recently read key should survive eviction: %v", err)
	}
	if _, err := store.Get(ctx, "k2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("least recently used key should be evicted")
	}
}

func TestMemoryZeroCapacityNeverEvicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(0)
	for i := 0; i < 3*DefaultMemoryCapacity; i++ {
		_ = store.Put(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	if _, err := store.Get(ctx, "k0"); err != nil {
		t.Fatalf("first key evicted from unbounded store: %v", err)
	}
}
