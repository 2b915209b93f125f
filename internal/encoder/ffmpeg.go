package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/metrics"
)

// Fixed encoder settings.
const (
	audioChannels     = "2"
	audioSampleRate   = "48000"
	hlsSegmentSeconds = "10"
	thumbnailQuality  = "2"

	// waitDelay bounds how long Wait blocks on output pipes after the
	// process is killed.
	waitDelay = 5 * time.Second
)

// Compile-time check that FFmpegEncoder implements Encoder.
var _ Encoder = (*FFmpegEncoder)(nil)

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath       string
	logger           *slog.Logger
	progressInterval time.Duration
}

// Option configures an FFmpegEncoder.
type Option func(*FFmpegEncoder)

// WithProgressInterval sets the minimum time between progress log lines.
func WithProgressInterval(d time.Duration) Option {
	return func(e *FFmpegEncoder) {
		e.progressInterval = d
	}
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEncoder(ffmpegPath string, logger *slog.Logger, opts ...Option) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &FFmpegEncoder{
		ffmpegPath:       ffmpegPath,
		logger:           logger,
		progressInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildArgs returns the ffmpeg arguments for t.
func (e *FFmpegEncoder) BuildArgs(t Task) ([]string, error) {
	if t.InputPath == "" || t.OutputPath == "" {
		return nil, fmt.Errorf("%w: input and output paths are required", ErrInvalidTask)
	}

	args := []string{
		"-y",           // Overwrite output files
		"-hide_banner", // Keep stderr to diagnostics
		"-nostats",
		"-progress", "pipe:1", // Machine-readable progress on stdout
	}

	switch k := t.Kind.(type) {
	case Rendition:
		if k.Height <= 0 || k.Bitrate == "" {
			return nil, fmt.Errorf("%w: rendition needs a positive height and a bitrate", ErrInvalidTask)
		}
		dir := filepath.Dir(t.OutputPath)
		name := strings.TrimSuffix(filepath.Base(t.OutputPath), filepath.Ext(t.OutputPath))
		args = append(args,
			"-i", t.InputPath,
			"-vf", fmt.Sprintf("scale=-2:%d", k.Height), // Keep aspect, even width
			"-c:v", "libx264",
			"-b:v", k.Bitrate,
			"-c:a", "aac",
			"-ac", audioChannels,
			"-ar", audioSampleRate,
			"-hls_time", hlsSegmentSeconds,
			"-hls_list_size", "0", // Keep every segment in the playlist
			"-hls_segment_filename", filepath.Join(dir, name+"%03d.ts"),
			"-f", "hls",
			t.OutputPath,
		)
	case AudioExtract:
		args = append(args,
			"-i", t.InputPath,
			"-vn",          // Drop video
			"-ac", "1",     // Mono
			"-ar", "16000", // 16 kHz
			"-c:a", "pcm_s16le",
			t.OutputPath,
		)
	case Thumbnail:
		if k.Offset < 0 {
			return nil, fmt.Errorf("%w: negative thumbnail offset", ErrInvalidTask)
		}
		args = append(args,
			"-ss", formatTimestamp(k.Offset), // Seek before decoding
			"-i", t.InputPath,
			"-frames:v", "1",
			"-q:v", thumbnailQuality,
			t.OutputPath,
		)
	default:
		return nil, fmt.Errorf("%w: unknown kind %T", ErrInvalidTask, t.Kind)
	}
	return args, nil
}

// Encode runs ffmpeg for t. Progress markers on stdout are logged at most
// once per progress interval; stderr is captured in full and returned in an
// *Error when ffmpeg exits non-zero.
func (e *FFmpegEncoder) Encode(ctx context.Context, t Task) error {
	kind := t.KindName()

	if err := ctx.Err(); err != nil {
		metrics.EncoderRunsTotal.WithLabelValues(kind, metrics.StatusCancelled).Inc()
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	args, err := e.BuildArgs(t)
	if err != nil {
		metrics.EncoderRunsTotal.WithLabelValues(kind, metrics.StatusError).Inc()
		return err
	}

	logger := e.logger.With("kind", kind, "output", filepath.Base(t.OutputPath))

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = newProgressWriter(logger, e.progressInterval)

	start := time.Now()
	err = cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			metrics.EncoderRunsTotal.WithLabelValues(kind, metrics.StatusCancelled).Inc()
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		metrics.EncoderRunsTotal.WithLabelValues(kind, metrics.StatusError).Inc()
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &Error{
			Args:     args,
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Err:      err,
		}
	}

	metrics.EncoderRunsTotal.WithLabelValues(kind, metrics.StatusSuccess).Inc()
	logger.Debug("encode finished", "duration", time.Since(start))
	return nil
}

// Error represents a failed ffmpeg run, including the full stderr output.
type Error struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %v\nargs: %v\nstderr: %s", e.ExitCode, e.Err, e.Args, e.Stderr)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// formatTimestamp renders d as HH:MM:SS.mmm.
func formatTimestamp(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// parseTimestamp parses ffmpeg's HH:MM:SS.micro out_time value.
func parseTimestamp(v string) (time.Duration, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || s < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second)), true
}
