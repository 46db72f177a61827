package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestBucketPutOpenList(t *testing.T) {
	ctx := context.Background()
	bucket, err := NewBucket(t.TempDir(), "/api/objects/")
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}

	obj, err := bucket.Put(ctx, "images/puppy.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Key != "images/puppy.png" || obj.Size != 9 || obj.ContentType != "image/png" {
		t.Fatalf("unexpected object %#v", obj)
	}
	if obj.URL != "/api/objects/images/puppy.png" {
		t.Fatalf("unexpected url %q", obj.URL)
	}
	_, _ = bucket.Put(ctx, "notes/a.txt", strings.NewReader("hello"))

	rc, info, err := bucket.Open(ctx, "images/puppy.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png-bytes" || info.Size != 9 {
		t.Fatalf("unexpected content %q %#v", data, info)
	}

	all, err := bucket.List(ctx, "")
	if err != nil || len(all) != 2 || all[0].Key != "images/puppy.png" {
		t.Fatalf("List all mismatch: %#v %v", all, err)
	}
	images, err := bucket.List(ctx, "images/")
	if err != nil || len(images) != 1 {
		t.Fatalf("List prefix mismatch: %#v %v", images, err)
	}
}

func TestBucketRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	bucket, err := NewBucket(t.TempDir(), "/api/objects")
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	for _, key := range []string{"", "../etc/passwd", "a/../../b", `a\b`} {
		if _, err := bucket.Put(ctx, key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Put(%q) expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, _, err := bucket.Open(ctx, "missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
