package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndDownloadFile(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "thumbnail.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg-bytes"), 0600))

	meta := Metadata{ContentType: "image/jpeg", CacheControl: CacheImmutable}
	require.NoError(t, UploadFile(ctx, store, src, "abc123/thumbnail.jpg", meta))

	got, err := store.Stat(ctx, "abc123/thumbnail.jpg")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	dst := filepath.Join(dir, "copy.jpg")
	require.NoError(t, DownloadFile(ctx, store, "abc123/thumbnail.jpg", dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(content))
}

func TestDownloadFile_NotFoundLeavesNoFile(t *testing.T) {
	store := setupTestStorage(t)
	dst := filepath.Join(t.TempDir(), "original.mp4")

	err := DownloadFile(context.Background(), store, "missing/original.mp4", dst)
	require.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "no local file should be created")
}

func TestUploadFile_MissingLocalFile(t *testing.T) {
	store := setupTestStorage(t)

	err := UploadFile(context.Background(), store, filepath.Join(t.TempDir(), "nope"), "k", Metadata{})
	require.Error(t, err)

	keys, listErr := store.List(context.Background(), "")
	require.NoError(t, listErr)
	assert.Empty(t, keys)
}
