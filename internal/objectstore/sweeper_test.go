package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSweepRemovesOnlyExpiredObjects(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bucket, err := NewBucket(dir, "/api/objects")
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	_, _ = bucket.Put(ctx, "images/20240101/old.png", strings.NewReader("old"))
	_, _ = bucket.Put(ctx, "images/20240102/new.png", strings.NewReader("new"))
	_, _ = bucket.Put(ctx, "notes/keep.txt", strings.NewReader("keep"))

	stale := time.Now().Add(-48 * time.Hour)
	for _, key := range []string{"images/20240101/old.png", "notes/keep.txt"} {
		if err := os.Chtimes(filepath.Join(dir, filepath.FromSlash(key)), stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed, err := bucket.Sweep(ctx, "images/", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, _, err := bucket.Open(ctx, "images/20240101/old.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired image should be gone, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images", "20240101")); !os.IsNotExist(err) {
		t.Fatalf("empty directory should be pruned, got %v", err)
	}
	for _, key := range []string{"images/20240102/new.png", "notes/keep.txt"} {
		rc, _, err := bucket.Open(ctx, key)
		if err != nil {
			t.Fatalf("%s should survive: %v", key, err)
		}
		rc.Close()
	}
}
