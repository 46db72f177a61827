package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"pickofgods/internal/logger"
)

const (
	DefaultSweepTTL      = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// StartSweeper removes objects under prefix older than ttl every interval
// until ctx is done.
func (b *Bucket) StartSweeper(ctx context.Context, prefix string, ttl, interval time.Duration, l logger.Logger) {
	if ttl <= 0 {
		ttl = DefaultSweepTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go b.sweepLoop(ctx, prefix, ttl, interval, l)
}

func (b *Bucket) sweepLoop(ctx context.Context, prefix string, ttl, interval time.Duration, l logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := b.Sweep(ctx, prefix, time.Now().Add(-ttl))
			if err != nil && !errors.Is(err, context.Canceled) {
				l.Warnf(ctx, "sweep %s failed: %v", prefix, err)
				continue
			}
			if removed > 0 {
				l.Infof(ctx, "sweep %s removed %d objects", prefix, removed)
			}
		}
	}
}

// Sweep deletes objects under prefix last modified before cutoff and prunes
// directories left empty.
func (b *Bucket) Sweep(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	objects, err := b.List(ctx, prefix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, obj := range objects {
		if !obj.Modified.Before(cutoff) {
			continue
		}
		full, _, err := b.resolve(obj.Key)
		if err != nil {
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", obj.Key, err)
		}
		removed++
		// prune empty directories
		for dir := filepath.Dir(full); dir != b.baseDir && len(dir) > len(b.baseDir); dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break
			}
		}
	}
	return removed, nil
}
