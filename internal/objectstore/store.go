package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidKey = errors.New("objectstore: invalid key")
	ErrNotFound   = errors.New("objectstore: object not found")
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	URL         string    `json:"url"`
	Modified    time.Time `json:"modified"`
}

// Bucket keeps objects as files under a base directory. Keys use forward
// slashes and may not escape the base.
type Bucket struct {
	baseDir    string
	publicBase string
}

// NewBucket creates the base directory when missing.
func NewBucket(baseDir, publicBase string) (*Bucket, error) {
	if baseDir == "" {
		return nil, errors.New("objectstore: base dir required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve bucket dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &Bucket{baseDir: abs, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

// Put writes r under key, replacing any existing object.
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader) (*Object, error) {
	full, clean, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create object: %w", err)
	}
	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write object: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("commit object: %w", err)
	}
	return &Object{
		Key:         clean,
		Size:        size,
		ContentType: contentType(clean),
		URL:         b.URL(clean),
		Modified:    time.Now().UTC(),
	}, nil
}

// Open returns a reader for key; callers must close it.
func (b *Bucket) Open(ctx context.Context, key string) (io.ReadCloser, *Object, error) {
	full, clean, err := b.resolve(key)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, b.describe(clean, info), nil
}

// List returns objects whose key starts with prefix, sorted by key.
func (b *Bucket) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix = strings.TrimLeft(prefix, "/")
	objects := make([]Object, 0)
	err := filepath.WalkDir(b.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, *b.describe(key, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// URL is the public path under which key is served.
func (b *Bucket) URL(key string) string {
	return b.publicBase + "/" + key
}

func (b *Bucket) describe(key string, info fs.FileInfo) *Object {
	return &Object{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType(key),
		URL:         b.URL(key),
		Modified:    info.ModTime().UTC(),
	}
}

func (b *Bucket) resolve(key string) (string, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") || strings.ContainsRune(key, 0) {
		return "", "", ErrInvalidKey
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean == "." {
		return "", "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", "", ErrInvalidKey
		}
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(clean)), clean, nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
