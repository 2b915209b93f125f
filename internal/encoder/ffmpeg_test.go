package encoder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeFFmpeg writes an executable shell script standing in for ffmpeg.
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755)) // #nosec G306 - test executable
	return path
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestNewFFmpegEncoder_Defaults(t *testing.T) {
	e := NewFFmpegEncoder("", nil)
	assert.Equal(t, "ffmpeg", e.ffmpegPath)
	assert.Equal(t, 5*time.Second, e.progressInterval)
	assert.NotNil(t, e.logger)

	e = NewFFmpegEncoder("/usr/bin/ffmpeg", nil, WithProgressInterval(time.Second))
	assert.Equal(t, "/usr/bin/ffmpeg", e.ffmpegPath)
	assert.Equal(t, time.Second, e.progressInterval)
}

func TestBuildArgs(t *testing.T) {
	e := NewFFmpegEncoder("ffmpeg", nil)
	prefix := []string{"-y", "-hide_banner", "-nostats", "-progress", "pipe:1"}

	t.Run("rendition", func(t *testing.T) {
		out := filepath.Join("work", "output", "high", "high.m3u8")
		args, err := e.BuildArgs(Task{
			InputPath:  "in.mp4",
			OutputPath: out,
			Kind:       Rendition{Height: 1080, Bitrate: "6000k"},
		})
		require.NoError(t, err)

		want := append(append([]string{}, prefix...),
			"-i", "in.mp4",
			"-vf", "scale=-2:1080",
			"-c:v", "libx264",
			"-b:v", "6000k",
			"-c:a", "aac",
			"-ac", "2",
			"-ar", "48000",
			"-hls_time", "10",
			"-hls_list_size", "0",
			"-hls_segment_filename", filepath.Join("work", "output", "high", "high%03d.ts"),
			"-f", "hls",
			out,
		)
		assert.Equal(t, want, args)
	})

	t.Run("audio", func(t *testing.T) {
		args, err := e.BuildArgs(Task{InputPath: "in.mp4", OutputPath: "audio.wav", Kind: AudioExtract{}})
		require.NoError(t, err)
		want := append(append([]string{}, prefix...),
			"-i", "in.mp4", "-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", "audio.wav")
		assert.Equal(t, want, args)
	})

	t.Run("thumbnail", func(t *testing.T) {
		args, err := e.BuildArgs(Task{InputPath: "in.mp4", OutputPath: "thumbnail.jpg", Kind: Thumbnail{Offset: 5 * time.Second}})
		require.NoError(t, err)
		want := append(append([]string{}, prefix...),
			"-ss", "00:00:05.000", "-i", "in.mp4", "-frames:v", "1", "-q:v", "2", "thumbnail.jpg")
		assert.Equal(t, want, args)
	})

	t.Run("invalid tasks", func(t *testing.T) {
		invalid := []Task{
			{OutputPath: "out", Kind: AudioExtract{}},
			{InputPath: "in", Kind: AudioExtract{}},
			{InputPath: "in", OutputPath: "out", Kind: Rendition{Height: 0, Bitrate: "1k"}},
			{InputPath: "in", OutputPath: "out", Kind: Rendition{Height: 720}},
			{InputPath: "in", OutputPath: "out", Kind: Thumbnail{Offset: -time.Second}},
			{InputPath: "in", OutputPath: "out"},
		}
		for _, task := range invalid {
			_, err := e.BuildArgs(task)
			assert.ErrorIs(t, err, ErrInvalidTask, "task %+v", task)
		}
	})
}

func TestTask_KindName(t *testing.T) {
	assert.Equal(t, "rendition", Task{Kind: Rendition{}}.KindName())
	assert.Equal(t, "audio", Task{Kind: AudioExtract{}}.KindName())
	assert.Equal(t, "thumbnail", Task{Kind: Thumbnail{}}.KindName())
	assert.Equal(t, "unknown", Task{}.KindName())
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00.000", formatTimestamp(0))
	assert.Equal(t, "00:00:05.000", formatTimestamp(5*time.Second))
	assert.Equal(t, "01:02:03.450", formatTimestamp(time.Hour+2*time.Minute+3450*time.Millisecond))
}

func TestParseTimestamp(t *testing.T) {
	d, ok := parseTimestamp("00:01:02.500000")
	require.True(t, ok)
	assert.Equal(t, time.Minute+2500*time.Millisecond, d)

	_, ok = parseTimestamp("N/A")
	assert.False(t, ok)
	_, ok = parseTimestamp("-1:00:00")
	assert.False(t, ok)
}

func TestEncode_Success(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `for last; do :; done
echo "frame=1"
echo "out_time_us=1000000"
echo "out_time_ms=2000000"
echo "out_time=00:00:03.000000"
echo "progress=end"
echo "encoded" > "$last"`)
	logger, logs := newTestLogger()
	e := NewFFmpegEncoder(ffmpeg, logger, WithProgressInterval(0))

	out := filepath.Join(t.TempDir(), "audio.wav")
	err := e.Encode(context.Background(), Task{InputPath: "in.mp4", OutputPath: out, Kind: AudioExtract{}})
	require.NoError(t, err)

	data, err := os.ReadFile(out) // #nosec G304 - test path
	require.NoError(t, err)
	assert.Equal(t, "encoded\n", string(data))

	assert.Equal(t, 3, strings.Count(logs.String(), `msg="encode progress" kind=audio`))
	assert.Contains(t, logs.String(), "position=1s")
	assert.Contains(t, logs.String(), "position=3s")
}

func TestEncode_FailureCapturesStderr(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `echo "in.mp4: Invalid data found when processing input" >&2
exit 3`)
	logger, _ := newTestLogger()
	e := NewFFmpegEncoder(ffmpeg, logger)

	err := e.Encode(context.Background(), Task{InputPath: "in.mp4", OutputPath: "out.jpg", Kind: Thumbnail{Offset: 5 * time.Second}})
	require.Error(t, err)

	var encErr *Error
	require.True(t, errors.As(err, &encErr), "expected *Error, got %T", err)
	assert.Equal(t, 3, encErr.ExitCode)
	assert.Contains(t, encErr.Stderr, "Invalid data found when processing input")
	assert.Contains(t, encErr.Error(), "code 3")
	assert.NotErrorIs(t, err, ErrCancelled)
}

func TestEncode_MissingBinary(t *testing.T) {
	e := NewFFmpegEncoder(filepath.Join(t.TempDir(), "no-ffmpeg"), nil)

	err := e.Encode(context.Background(), Task{InputPath: "in.mp4", OutputPath: "out.wav", Kind: AudioExtract{}})
	var encErr *Error
	require.True(t, errors.As(err, &encErr), "expected *Error, got %T", err)
	assert.Equal(t, -1, encErr.ExitCode)
}

func TestEncode_Cancellation(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `exec sleep 30`)
	logger, _ := newTestLogger()
	e := NewFFmpegEncoder(ffmpeg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	err := e.Encode(ctx, Task{InputPath: "in.mp4", OutputPath: "out.wav", Kind: AudioExtract{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestEncode_AlreadyCancelled(t *testing.T) {
	e := NewFFmpegEncoder("ffmpeg", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Encode(ctx, Task{InputPath: "in.mp4", OutputPath: "out.wav", Kind: AudioExtract{}})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncode_InvalidTask(t *testing.T) {
	e := NewFFmpegEncoder("ffmpeg", nil)
	err := e.Encode(context.Background(), Task{Kind: AudioExtract{}})
	assert.ErrorIs(t, err, ErrInvalidTask)
}
