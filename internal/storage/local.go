package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Compile-time check that LocalStorage implements BlobStore.
var _ BlobStore = (*LocalStorage)(nil)

// ErrInvalidKey is returned for keys that would escape the storage root.
var ErrInvalidKey = errors.New("storage: invalid object key")

const (
	objectsDir  = "objects"
	metadataDir = "meta"
)

// LocalStorage implements BlobStore on local disk. Object bodies live under
// <root>/objects/<key> and their metadata under <root>/meta/<key>.json.
// Suitable for development and tests; use S3 or MinIO in production.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at root.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "gauntlet-videos")
	}

	for _, dir := range []string{objectsDir, metadataDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the storage root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Get opens the object at key.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	p, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p) // #nosec G304 - key is validated by objectPath
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Put writes body to key via a temporary file and rename, so readers never
// observe a partially written object.
func (s *LocalStorage) Put(ctx context.Context, key string, body io.Reader, _ int64, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	p, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := writeAtomic(p, body); err != nil {
		return fmt.Errorf("write object: %w", err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeAtomic(s.metadataPath(key), strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Stat returns the stored metadata for key.
func (s *LocalStorage) Stat(ctx context.Context, key string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, fmt.Errorf("context cancelled: %w", err)
	}

	p, err := s.objectPath(key)
	if err != nil {
		return Metadata{}, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Metadata{}, fmt.Errorf("stat object: %w", err)
	}

	var meta Metadata
	raw, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// List walks the objects directory and returns keys that start with prefix.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	base := filepath.Join(s.root, objectsDir)
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// objectPath maps key to a file under the objects directory.
func (s *LocalStorage) objectPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || strings.HasSuffix(key, "/") || clean == "/" || clean[1:] != key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, objectsDir, filepath.FromSlash(key)), nil
}

func (s *LocalStorage) metadataPath(key string) string {
	return filepath.Join(s.root, metadataDir, filepath.FromSlash(key)+".json")
}

// writeAtomic writes data to a temporary sibling of target and renames it
// into place.
func writeAtomic(target string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
