package pipeline

import (
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/hls"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithScratchDir sets the parent directory for run workspaces.
func WithScratchDir(dir string) Option {
	return func(p *Pipeline) {
		if dir != "" {
			p.scratchDir = dir
		}
	}
}

// WithLadder replaces the rendition ladder.
func WithLadder(ladder []hls.Rendition) Option {
	return func(p *Pipeline) {
		if len(ladder) > 0 {
			p.ladder = append([]hls.Rendition(nil), ladder...)
		}
	}
}

// WithMaxParallelEncodes bounds concurrent rendition encodes.
// Values below 1 are ignored.
func WithMaxParallelEncodes(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxParallel = n
		}
	}
}

// WithThumbnailOffset sets the source position the thumbnail is taken at.
func WithThumbnailOffset(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.thumbnailOffset = d
		}
	}
}

// withRunID overrides run id generation in tests.
func withRunID(fn func() string) Option {
	return func(p *Pipeline) {
		p.newRunID = fn
	}
}
