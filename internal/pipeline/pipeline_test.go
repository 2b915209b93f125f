package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/encoder"
	"github.com/paul-shell/gauntlet-exchange/internal/hls"
	"github.com/paul-shell/gauntlet-exchange/internal/index"
	"github.com/paul-shell/gauntlet-exchange/internal/job"
	"github.com/paul-shell/gauntlet-exchange/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes plausible output files instead of running ffmpeg.
type fakeEncoder struct {
	mu        sync.Mutex
	tasks     []encoder.Task
	active    int
	maxActive int

	// fail maps an output file name to the error returned for it.
	fail map[string]error
	// hook runs before any output is written.
	hook func(ctx context.Context, t encoder.Task) error
}

func (f *fakeEncoder) Encode(ctx context.Context, t encoder.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.hook != nil {
		if err := f.hook(ctx, t); err != nil {
			return err
		}
	}
	if err := f.fail[filepath.Base(t.OutputPath)]; err != nil {
		return err
	}
	if _, err := os.Stat(t.InputPath); err != nil {
		return err
	}

	switch t.Kind.(type) {
	case encoder.Rendition:
		dir := filepath.Dir(t.OutputPath)
		name := strings.TrimSuffix(filepath.Base(t.OutputPath), ".m3u8")
		if err := os.WriteFile(t.OutputPath, []byte("#EXTM3U\n"), 0o600); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			segment := filepath.Join(dir, fmt.Sprintf("%s%03d.ts", name, i))
			if err := os.WriteFile(segment, []byte("ts"), 0o600); err != nil {
				return err
			}
		}
		return nil
	default:
		return os.WriteFile(t.OutputPath, []byte(t.KindName()), 0o600)
	}
}

func (f *fakeEncoder) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.KindName()+":"+filepath.Base(t.OutputPath))
	}
	return out
}

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) Add(ctx context.Context, videoID string) error {
	args := m.Called(ctx, videoID)
	return args.Error(0)
}

type testEnv struct {
	store   *storage.LocalStorage
	enc     *fakeEncoder
	scratch string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return &testEnv{store: store, enc: &fakeEncoder{}, scratch: t.TempDir()}
}

func (e *testEnv) putSource(t *testing.T, key string) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), key, strings.NewReader("source"), 6, storage.Metadata{ContentType: "video/mp4"}))
}

func (e *testEnv) pipeline(idx Indexer, opts ...Option) *Pipeline {
	opts = append([]Option{WithScratchDir(e.scratch), withRunID(func() string { return "run-1" })}, opts...)
	return New(e.store, e.enc, idx, nil, opts...)
}

func (e *testEnv) read(t *testing.T, key string) string {
	t.Helper()
	body, err := e.store.Get(context.Background(), key)
	require.NoError(t, err, key)
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func TestProcess_PublishesAllArtifacts(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	updater := index.NewUpdater(env.store, nil)
	ctx := context.Background()

	err := env.pipeline(updater, WithMaxParallelEncodes(2)).Process(ctx, "abc123")
	require.NoError(t, err)

	assert.Equal(t, string(hls.MasterPlaylist(hls.Ladder)), env.read(t, "abc123/master.m3u8"))
	master := env.read(t, "abc123/master.m3u8")
	for _, name := range []string{"high.m3u8", "medium.m3u8", "low.m3u8"} {
		assert.Contains(t, master, name)
	}

	wantTypes := map[string]string{
		"abc123/audio.wav":     hls.ContentTypeAudio,
		"abc123/thumbnail.jpg": hls.ContentTypeThumbnail,
		"abc123/master.m3u8":   hls.ContentTypePlaylist,
	}
	for _, r := range hls.Ladder {
		wantTypes["abc123/"+r.Playlist()] = hls.ContentTypePlaylist
		wantTypes["abc123/"+r.Name+"000.ts"] = hls.ContentTypeSegment
		wantTypes["abc123/"+r.Name+"001.ts"] = hls.ContentTypeSegment
	}
	for key, contentType := range wantTypes {
		meta, err := env.store.Stat(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, contentType, meta.ContentType, key)
		assert.Equal(t, storage.CacheImmutable, meta.CacheControl, key)
	}

	ids, err := updater.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, ids)

	env.assertScratchEmpty(t)
}

func TestProcess_StageOrder(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	idx := &mockIndexer{}
	idx.On("Add", mock.Anything, "abc123").Return(nil)

	require.NoError(t, env.pipeline(idx).Process(context.Background(), "abc123"))

	assert.Equal(t, []string{
		"audio:audio.wav",
		"rendition:high.m3u8",
		"rendition:medium.m3u8",
		"rendition:low.m3u8",
		"thumbnail:thumbnail.jpg",
	}, env.enc.kinds())
	idx.AssertExpectations(t)
}

func TestProcess_UsesSourceFromWorkspace(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mov")
	env.putSource(t, "abc123/original.mp4")
	env.putSource(t, "abc123/original.d/nested")
	idx := &mockIndexer{}
	idx.On("Add", mock.Anything, "abc123").Return(nil)

	var inputs []string
	env.enc.hook = func(_ context.Context, t encoder.Task) error {
		inputs = append(inputs, t.InputPath)
		return nil
	}

	require.NoError(t, env.pipeline(idx).Process(context.Background(), "abc123"))
	require.NotEmpty(t, inputs)
	assert.Equal(t, filepath.Join(env.scratch, "abc123-run-1", "input", "original.mov"), inputs[0])
}

func TestProcess_MissingSource(t *testing.T) {
	env := newTestEnv(t)
	idx := &mockIndexer{}

	err := env.pipeline(idx).Process(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Empty(t, env.enc.kinds())
	idx.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	env.assertScratchEmpty(t)
}

func TestProcess_InvalidVideoID(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline(&mockIndexer{}).Process(context.Background(), "../etc")
	assert.ErrorIs(t, err, ErrInvalidVideoID)
	env.assertScratchEmpty(t)
}

func TestProcess_RenditionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	encErr := &encoder.Error{ExitCode: 1, Stderr: "Conversion failed!", Err: errors.New("exit status 1")}
	env.enc.fail = map[string]error{"medium.m3u8": encErr}
	idx := &mockIndexer{}

	err := env.pipeline(idx).Process(context.Background(), "abc123")
	require.Error(t, err)

	var got *encoder.Error
	require.True(t, errors.As(err, &got))
	assert.Equal(t, "Conversion failed!", got.Stderr)

	_, err = env.store.Stat(context.Background(), "abc123/master.m3u8")
	assert.ErrorIs(t, err, storage.ErrNotFound, "manifest must not be published after a failed rendition")
	idx.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	env.assertScratchEmpty(t)
}

func TestProcess_AudioFailureStopsPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	env.enc.fail = map[string]error{"audio.wav": errors.New("no audio stream")}

	err := env.pipeline(&mockIndexer{}).Process(context.Background(), "abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio stream")
	assert.Equal(t, []string{"audio:audio.wav"}, env.enc.kinds())
	env.assertScratchEmpty(t)
}

func TestProcess_FailureCancelsSiblingRenditions(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")

	var cancelled sync.Map
	env.enc.hook = func(ctx context.Context, t encoder.Task) error {
		switch filepath.Base(t.OutputPath) {
		case "high.m3u8":
			time.Sleep(20 * time.Millisecond)
			return errors.New("high failed")
		case "medium.m3u8", "low.m3u8":
			select {
			case <-ctx.Done():
				cancelled.Store(filepath.Base(t.OutputPath), true)
				return fmt.Errorf("%w: %w", encoder.ErrCancelled, ctx.Err())
			case <-time.After(5 * time.Second):
				return nil
			}
		}
		return nil
	}

	err := env.pipeline(&mockIndexer{}, WithMaxParallelEncodes(3)).Process(context.Background(), "abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high failed")
	_, mediumCancelled := cancelled.Load("medium.m3u8")
	_, lowCancelled := cancelled.Load("low.m3u8")
	assert.True(t, mediumCancelled)
	assert.True(t, lowCancelled)
	env.assertScratchEmpty(t)
}

func TestProcess_BoundedParallelism(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	env.enc.hook = func(_ context.Context, t encoder.Task) error {
		if _, ok := t.Kind.(encoder.Rendition); ok {
			time.Sleep(30 * time.Millisecond)
		}
		return nil
	}
	idx := &mockIndexer{}
	idx.On("Add", mock.Anything, "abc123").Return(nil)

	require.NoError(t, env.pipeline(idx, WithMaxParallelEncodes(2)).Process(context.Background(), "abc123"))
	assert.Equal(t, 2, env.enc.maxActive)
	assert.Len(t, env.enc.kinds(), 5)
}

func TestProcess_Cancellation(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.enc.hook = func(ctx context.Context, t encoder.Task) error {
		if _, ok := t.Kind.(encoder.AudioExtract); ok {
			cancel()
			return fmt.Errorf("%w: %w", encoder.ErrCancelled, ctx.Err())
		}
		return nil
	}
	idx := &mockIndexer{}

	err := env.pipeline(idx).Process(ctx, "abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"audio:audio.wav"}, env.enc.kinds())
	idx.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	env.assertScratchEmpty(t)
}

func TestProcess_CancelledBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.pipeline(&mockIndexer{}).Process(ctx, "abc123")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, env.enc.kinds())
	env.assertScratchEmpty(t)
}

func TestProcess_CancelledBetweenRenditions(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.enc.hook = func(_ context.Context, t encoder.Task) error {
		if filepath.Base(t.OutputPath) == "high.m3u8" {
			cancel()
		}
		return nil
	}

	err := env.pipeline(&mockIndexer{}, WithMaxParallelEncodes(1)).Process(ctx, "abc123")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, env.enc.kinds(), "rendition:medium.m3u8")
	assert.NotContains(t, env.enc.kinds(), "thumbnail:thumbnail.jpg")
	env.assertScratchEmpty(t)
}

func TestProcess_IndexFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	idx := &mockIndexer{}
	idx.On("Add", mock.Anything, "abc123").Return(errors.New("precondition failed"))

	err := env.pipeline(idx).Process(context.Background(), "abc123")
	require.NoError(t, err)

	_, err = env.store.Stat(context.Background(), "abc123/master.m3u8")
	assert.NoError(t, err)
	idx.AssertExpectations(t)
	env.assertScratchEmpty(t)
}

func TestProcess_CustomLadder(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	idx := &mockIndexer{}
	idx.On("Add", mock.Anything, "abc123").Return(nil)
	ladder := []hls.Rendition{{Name: "sd", Height: 360, VideoBitrate: "800k"}}

	require.NoError(t, env.pipeline(idx, WithLadder(ladder), WithThumbnailOffset(time.Second)).Process(context.Background(), "abc123"))

	assert.Equal(t, string(hls.MasterPlaylist(ladder)), env.read(t, "abc123/master.m3u8"))
	assert.Contains(t, env.enc.kinds(), "rendition:sd.m3u8")
}

func TestNew_Defaults(t *testing.T) {
	p := New(nil, nil, nil, nil, WithMaxParallelEncodes(0), WithScratchDir(""), WithLadder(nil), WithThumbnailOffset(-time.Second))
	assert.Equal(t, 1, p.maxParallel)
	assert.Equal(t, 5*time.Second, p.thumbnailOffset)
	assert.Equal(t, hls.Ladder, p.ladder)
	assert.NotEmpty(t, p.scratchDir)
	assert.NotNil(t, p.logger)
}

func TestProcess_RunIDFromContext(t *testing.T) {
	env := newTestEnv(t)
	env.putSource(t, "abc123/original.mp4")
	idx := &mockIndexer{}
	idx.On("Add", mock.Anything, "abc123").Return(nil)

	ctx := job.ContextWithRunID(context.Background(), "run-from-loop")
	require.NoError(t, env.pipeline(idx).Process(ctx, "abc123"))

	require.NotEmpty(t, env.enc.tasks)
	for _, task := range env.enc.tasks {
		assert.Contains(t, task.InputPath, filepath.Join(env.scratch, "abc123-run-from-loop"))
	}
}
