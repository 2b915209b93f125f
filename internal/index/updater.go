// Package index maintains the shared catalog of published video ids.
//
// The catalog is a single JSON object updated by read-modify-write with no
// concurrency control: two runs updating it at the same time can lose one
// of the additions. A lost id reappears the next time that video is
// processed.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/paul-shell/gauntlet-exchange/internal/hls"
	"github.com/paul-shell/gauntlet-exchange/internal/storage"
)

// DefaultKey is the object key of the catalog.
const DefaultKey = "allvideos.json"

// Updater reads and appends to the catalog in a BlobStore.
type Updater struct {
	store  storage.BlobStore
	key    string
	logger *slog.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithKey overrides the catalog object key.
func WithKey(key string) Option {
	return func(u *Updater) {
		u.key = key
	}
}

// NewUpdater creates an Updater on store.
func NewUpdater(store storage.BlobStore, logger *slog.Logger, opts ...Option) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Updater{store: store, key: DefaultKey, logger: logger}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Key returns the catalog object key.
func (u *Updater) Key() string {
	return u.key
}

// Load returns the ids in the catalog in insertion order. A missing or
// unparseable catalog is treated as empty; other read errors are returned.
func (u *Updater) Load(ctx context.Context) ([]string, error) {
	body, err := u.store.Get(ctx, u.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	ids, err := decode(data)
	if err != nil {
		u.logger.Warn("index unreadable, starting from empty", "key", u.key, "error", err)
		return []string{}, nil
	}
	return ids, nil
}

// Add appends videoID to the catalog unless it is already listed.
func (u *Updater) Add(ctx context.Context, videoID string) error {
	ids, err := u.Load(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, videoID) {
		u.logger.Debug("video already indexed", "video_id", videoID)
		return nil
	}

	ids = append(ids, videoID)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	err = u.store.Put(ctx, u.key, bytes.NewReader(data), int64(len(data)), storage.Metadata{
		ContentType:  hls.ContentTypeJSON,
		CacheControl: storage.CacheNoCache,
	})
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	u.logger.Info("video indexed", "video_id", videoID, "total", len(ids))
	return nil
}

// decode accepts a JSON array of ids or an object with a "videos" array.
func decode(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []string{}, nil
	}

	var ids []string
	if data[0] == '[' {
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Videos []string `json:"videos"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		ids = wrapped.Videos
	}

	// Drop duplicates and blanks left by older writers.
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
