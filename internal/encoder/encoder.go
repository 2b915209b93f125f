// Package encoder runs media encodes for the transcoding pipeline.
package encoder

import (
	"context"
	"errors"
	"time"
)

// Static errors for encoder operations.
var (
	// ErrInvalidTask is returned when a task is missing paths or has invalid parameters.
	ErrInvalidTask = errors.New("invalid encoder task")
	// ErrCancelled is returned when the encode was stopped by context cancellation.
	ErrCancelled = errors.New("encode cancelled")
)

// Encoder runs a single encode task to completion.
type Encoder interface {
	// Encode produces t.OutputPath from t.InputPath. It blocks until the
	// encoder exits and kills it if ctx is cancelled.
	Encode(ctx context.Context, t Task) error
}

// Task describes one encode.
type Task struct {
	InputPath  string
	OutputPath string
	Kind       Kind
}

// Kind selects what the encode produces. Implemented by Rendition,
// AudioExtract and Thumbnail.
type Kind interface {
	kindName() string
}

// Rendition produces an HLS media playlist and its segments at OutputPath.
// Segments are written next to the playlist, named after the playlist file.
type Rendition struct {
	Height  int
	Bitrate string
}

// AudioExtract produces a mono 16 kHz PCM WAV file.
type AudioExtract struct{}

// Thumbnail produces a single JPEG frame taken at Offset.
type Thumbnail struct {
	Offset time.Duration
}

func (Rendition) kindName() string    { return "rendition" }
func (AudioExtract) kindName() string { return "audio" }
func (Thumbnail) kindName() string    { return "thumbnail" }

// KindName returns a short label for the task kind, for logs and metrics.
func (t Task) KindName() string {
	if t.Kind == nil {
		return "unknown"
	}
	return t.Kind.kindName()
}
