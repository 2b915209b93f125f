// Package storage provides the path-addressed blob store used for source
// videos, streaming artifacts and the shared video index.
// It defines the BlobStore interface (port) and implementations for local
// disk, S3 and MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Cache directives applied on upload.
const (
	// CacheImmutable is used for every video artifact; keys are fixed per video
	// and content never changes between runs.
	CacheImmutable = "public, max-age=31536000"
	// CacheNoCache is used for the shared index so readers see recent state.
	CacheNoCache = "no-cache"
)

// Metadata is the HTTP metadata stored alongside an object.
type Metadata struct {
	ContentType  string `json:"content_type"`
	CacheControl string `json:"cache_control"`
}

// BlobStore defines the interface for path-addressed object storage.
type BlobStore interface {
	// Get opens the object at key. The caller closes the returned reader.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores body under key, replacing any existing object.
	// size may be -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) error

	// Stat returns the metadata of the object at key.
	// Returns ErrNotFound if the object does not exist.
	Stat(ctx context.Context, key string) (Metadata, error)

	// List returns the keys that start with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DownloadFile copies the object at key into a new local file at path.
// A partially written file is removed on failure.
func DownloadFile(ctx context.Context, store BlobStore, key, path string) error {
	body, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	f, err := os.Create(path) // #nosec G304 - path is built from the job workspace
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}

// UploadFile stores the local file at path under key.
func UploadFile(ctx context.Context, store BlobStore, path, key string, meta Metadata) error {
	f, err := os.Open(path) // #nosec G304 - path is built from the job workspace
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	if err := store.Put(ctx, key, f, info.Size(), meta); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
