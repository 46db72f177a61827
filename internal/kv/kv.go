package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value binding shared by audit, sessions, the script
// registry and chat rooms. Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent writes only when key is free and reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Stores splits state by lifetime. Audit takes the high-volume chat records
// and may be bounded. State holds sessions, the script registry and room
// transcripts and must never evict.
type Stores struct {
	State Store
	Audit Store
}

// NewMemoryStores is the in-process pair used when redis is off.
func NewMemoryStores(auditCapacity int) Stores {
	if auditCapacity <= 0 {
		auditCapacity = DefaultMemoryCapacity
	}
	return Stores{
		State: NewMemory(0),
		Audit: NewMemory(auditCapacity),
	}
}

// Shared backs both roles with one store, as with redis.
func Shared(s Store) Stores {
	return Stores{State: s, Audit: s}
}
