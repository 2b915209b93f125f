// Package pipeline turns one source video into HLS renditions, an audio
// track, a thumbnail and a master playlist, uploading each artifact under
// the video's prefix in the blob store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/encoder"
	"github.com/paul-shell/gauntlet-exchange/internal/hls"
	"github.com/paul-shell/gauntlet-exchange/internal/job"
	"github.com/paul-shell/gauntlet-exchange/internal/job/id"
	"github.com/paul-shell/gauntlet-exchange/internal/metrics"
	"github.com/paul-shell/gauntlet-exchange/internal/storage"
)

// Static errors for pipeline runs.
var (
	// ErrSourceNotFound is returned when no {videoId}/original.<ext> object exists.
	ErrSourceNotFound = errors.New("source video not found")
	// ErrInvalidVideoID is returned for ids that are not a safe path segment.
	ErrInvalidVideoID = errors.New("invalid video id")
)

// Artifact names under {videoId}/.
const (
	sourcePrefix  = "original."
	audioName     = "audio.wav"
	thumbnailName = "thumbnail.jpg"
)

// Stage names used in logs and metrics.
const (
	stageWorkspace  = "workspace"
	stageDownload   = "download"
	stageAudio      = "audio"
	stageRenditions = "renditions"
	stageThumbnail  = "thumbnail"
	stageManifest   = "manifest"
	stageIndex      = "index"
)

// Indexer records a published video in the shared catalog.
type Indexer interface {
	Add(ctx context.Context, videoID string) error
}

// Pipeline runs the transcoding stages for one video at a time per call.
// Process is safe for concurrent use; each call gets its own workspace.
type Pipeline struct {
	store   storage.BlobStore
	encoder encoder.Encoder
	index   Indexer
	logger  *slog.Logger

	scratchDir      string
	ladder          []hls.Rendition
	maxParallel     int
	thumbnailOffset time.Duration
	newRunID        func() string
}

// New creates a Pipeline.
func New(store storage.BlobStore, enc encoder.Encoder, index Indexer, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:           store,
		encoder:         enc,
		index:           index,
		logger:          logger,
		scratchDir:      filepath.Join(os.TempDir(), "gauntlet-worker"),
		ladder:          append([]hls.Rendition(nil), hls.Ladder...),
		maxParallel:     1,
		thumbnailOffset: 5 * time.Second,
		newRunID:        id.NewRun,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every stage for videoID. The run id is taken from ctx when
// set with job.ContextWithRunID, otherwise generated. The workspace is removed on every
// exit path. A cancelled run returns an error matching context.Canceled.
// Index failures are logged and do not fail the run.
func (p *Pipeline) Process(ctx context.Context, videoID string) (err error) {
	if !job.ValidVideoID(videoID) {
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, videoID)
	}

	runID := job.RunIDFromContext(ctx)
	if runID == "" {
		runID = p.newRunID()
	}
	logger := p.logger.With("video_id", videoID, "run_id", runID)
	start := time.Now()

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	defer func() {
		if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}()

	var ws *Workspace
	err = p.runStage(ctx, logger, stageWorkspace, func(context.Context) error {
		var err error
		ws, err = acquireWorkspace(p.scratchDir, videoID, runID)
		return err
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Warn("workspace cleanup failed", "path", ws.Root, "error", err)
		}
	}()

	var input string
	err = p.runStage(ctx, logger, stageDownload, func(ctx context.Context) error {
		var err error
		input, err = p.downloadSource(ctx, ws, videoID)
		return err
	})
	if err != nil {
		return err
	}

	err = p.runStage(ctx, logger, stageAudio, func(ctx context.Context) error {
		return p.encodeAndUpload(ctx, logger, encoder.Task{
			InputPath:  input,
			OutputPath: filepath.Join(ws.OutputDir, audioName),
			Kind:       encoder.AudioExtract{},
		}, videoID+"/"+audioName, hls.ContentTypeAudio)
	})
	if err != nil {
		return err
	}

	err = p.runStage(ctx, logger, stageRenditions, func(ctx context.Context) error {
		return p.encodeRenditions(ctx, logger, ws, input, videoID)
	})
	if err != nil {
		return err
	}

	err = p.runStage(ctx, logger, stageThumbnail, func(ctx context.Context) error {
		return p.encodeAndUpload(ctx, logger, encoder.Task{
			InputPath:  input,
			OutputPath: filepath.Join(ws.OutputDir, thumbnailName),
			Kind:       encoder.Thumbnail{Offset: p.thumbnailOffset},
		}, videoID+"/"+thumbnailName, hls.ContentTypeThumbnail)
	})
	if err != nil {
		return err
	}

	err = p.runStage(ctx, logger, stageManifest, func(ctx context.Context) error {
		return p.publishManifest(ctx, logger, ws, videoID)
	})
	if err != nil {
		return err
	}

	if err := p.runStage(ctx, logger, stageIndex, func(ctx context.Context) error {
		return p.index.Add(ctx, videoID)
	}); err != nil {
		if ctx.Err() != nil {
			return err
		}
		metrics.IndexUpdateFailures.Inc()
		logger.Warn("index update failed, artifacts remain published", "error", err)
	}

	elapsed := time.Since(start)
	metrics.JobDuration.Observe(elapsed.Seconds())
	logger.Info("video processed", "duration", elapsed, "renditions", len(p.ladder))
	return nil
}

// runStage checks for cancellation, runs fn and records its duration.
func (p *Pipeline) runStage(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		logger.Error("stage failed", "stage", name, "duration", elapsed, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("stage completed", "stage", name, "duration", elapsed)
	return nil
}

// downloadSource finds {videoId}/original.<ext> and copies it into the
// workspace. When several extensions exist the lexically first one wins.
func (p *Pipeline) downloadSource(ctx context.Context, ws *Workspace, videoID string) (string, error) {
	prefix := videoID + "/" + sourcePrefix
	keys, err := p.store.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list source: %w", err)
	}
	slices.Sort(keys)

	var key string
	for _, k := range keys {
		if !strings.Contains(strings.TrimPrefix(k, videoID+"/"), "/") {
			key = k
			break
		}
	}
	if key == "" {
		return "", fmt.Errorf("%w: %s*", ErrSourceNotFound, prefix)
	}

	local := filepath.Join(ws.InputDir, path.Base(key))
	if err := storage.DownloadFile(ctx, p.store, key, local); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, key)
		}
		return "", fmt.Errorf("download source: %w", err)
	}
	return local, nil
}

// encodeAndUpload runs a single-file task, uploads the output and removes
// the local file whatever the outcome.
func (p *Pipeline) encodeAndUpload(ctx context.Context, logger *slog.Logger, task encoder.Task, key, contentType string) error {
	defer removeFile(logger, task.OutputPath)

	if err := p.encoder.Encode(ctx, task); err != nil {
		logEncodeFailure(logger, task, err)
		return err
	}
	return storage.UploadFile(ctx, p.store, task.OutputPath, key, storage.Metadata{
		ContentType:  contentType,
		CacheControl: storage.CacheImmutable,
	})
}

// encodeRenditions encodes the ladder with at most maxParallel encodes in
// flight. The first failure cancels the remaining renditions; all started
// encodes are awaited before returning.
func (p *Pipeline) encodeRenditions(ctx context.Context, logger *slog.Logger, ws *Workspace, input, videoID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, p.maxParallel)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

loop:
	for _, r := range p.ladder {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		if ctx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(r hls.Rendition) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.encodeRendition(ctx, logger, ws, input, videoID, r); err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("rendition %s: %w", r.Name, err)
					cancel()
				})
			}
		}(r)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// encodeRendition encodes one rendition into its own directory, uploads the
// playlist then every segment, and removes the directory afterwards.
func (p *Pipeline) encodeRendition(ctx context.Context, logger *slog.Logger, ws *Workspace, input, videoID string, r hls.Rendition) error {
	logger = logger.With("rendition", r.Name)
	dir := filepath.Join(ws.OutputDir, r.Name)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return fmt.Errorf("create rendition dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("rendition cleanup failed", "path", dir, "error", err)
		}
	}()

	task := encoder.Task{
		InputPath:  input,
		OutputPath: filepath.Join(dir, r.Playlist()),
		Kind:       encoder.Rendition{Height: r.Height, Bitrate: r.VideoBitrate},
	}
	if err := p.encoder.Encode(ctx, task); err != nil {
		logEncodeFailure(logger, task, err)
		return err
	}

	immutable := func(contentType string) storage.Metadata {
		return storage.Metadata{ContentType: contentType, CacheControl: storage.CacheImmutable}
	}
	if err := storage.UploadFile(ctx, p.store, task.OutputPath, videoID+"/"+r.Playlist(), immutable(hls.ContentTypePlaylist)); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read rendition dir: %w", err)
	}
	segments := 0
	for _, e := range entries {
		if e.IsDir() || !r.IsSegment(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		local := filepath.Join(dir, e.Name())
		if err := storage.UploadFile(ctx, p.store, local, videoID+"/"+e.Name(), immutable(hls.ContentTypeSegment)); err != nil {
			return err
		}
		segments++
	}
	logger.Info("rendition published", "segments", segments)
	return nil
}

// publishManifest writes the master playlist for the ladder and uploads it.
func (p *Pipeline) publishManifest(ctx context.Context, logger *slog.Logger, ws *Workspace, videoID string) error {
	local := filepath.Join(ws.OutputDir, hls.MasterPlaylistName)
	defer removeFile(logger, local)

	if err := os.WriteFile(local, hls.MasterPlaylist(p.ladder), 0o600); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	return storage.UploadFile(ctx, p.store, local, videoID+"/"+hls.MasterPlaylistName, storage.Metadata{
		ContentType:  hls.ContentTypePlaylist,
		CacheControl: storage.CacheImmutable,
	})
}

func removeFile(logger *slog.Logger, file string) {
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("local cleanup failed", "path", file, "error", err)
	}
}

// logEncodeFailure logs the encoder diagnostics, which are the only detail
// available for a failed encode.
func logEncodeFailure(logger *slog.Logger, task encoder.Task, err error) {
	var encErr *encoder.Error
	if errors.As(err, &encErr) {
		logger.Error("encoder failed",
			"kind", task.KindName(),
			"exit_code", encErr.ExitCode,
			"stderr", encErr.Stderr,
		)
	}
}
