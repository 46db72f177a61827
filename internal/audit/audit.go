package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pickofgods/internal/kv"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
)

const KeyPrefix = "log-"

// Appender is what the gateway depends on.
type Appender interface {
	Append(ctx context.Context, record models.AuditRecord)
}

// Logger persists audit records to a KV store. Append is best effort: it
// never returns an error and never blocks the response on a store failure.
type Logger struct {
	store    kv.Store
	ttl      time.Duration
	l        logger.Logger
	now      func() time.Time
	failures atomic.Int64
}

var _ Appender = (*Logger)(nil)

// New creates an audit logger. A nil store logs records locally instead.
func New(store kv.Store, ttl time.Duration, l logger.Logger) *Logger {
	return &Logger{store: store, ttl: ttl, l: l, now: time.Now}
}

// NewKey returns a key unique even for records appended in the same millisecond.
func NewKey(at time.Time) string {
	return fmt.Sprintf("%s%d-%s", KeyPrefix, at.UnixMilli(), uuid.NewString())
}

func (a *Logger) Append(ctx context.Context, record models.AuditRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = a.now().UTC()
	}
	if record.ID == "" {
		record.ID = NewKey(record.Timestamp)
	}

	data, err := json.Marshal(record)
	if err != nil {
		a.failures.Add(1)
		a.l.Warnf(ctx, "audit: encode record %s: %v", record.ID, err)
		return
	}

	if a.store == nil {
		a.l.Infof(ctx, "audit: %s", data)
		return
	}

	ok, err := a.store.PutIfAbsent(ctx, record.ID, data, a.ttl)
	if err == nil && !ok {
		err = errors.New("key already taken")
	}
	if err != nil {
		a.failures.Add(1)
		a.l.Warnf(ctx, "audit: persist record %s (status %s): %v", record.ID, record.Status, err)
	}
}

// Failures counts records that could not be persisted since start.
func (a *Logger) Failures() int64 {
	return a.failures.Load()
}

// Recent returns up to n records, newest first.
func (a *Logger) Recent(ctx context.Context, n int) ([]models.AuditRecord, error) {
	if a.store == nil {
		return []models.AuditRecord{}, nil
	}
	keys, err := a.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list audit keys: %w", err)
	}
	records := make([]models.AuditRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := a.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read audit record %s: %w", key, err)
		}
		var rec models.AuditRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			a.l.Warnf(ctx, "audit: skip undecodable record %s: %v", key, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}
