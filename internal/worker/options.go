package worker

import (
	"context"
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/job"
	"github.com/paul-shell/gauntlet-exchange/internal/queue"
)

// Defaults for the job loop.
const (
	DefaultLeaseDuration = 30 * time.Minute
	DefaultPollDelay     = time.Second
	DefaultMaxDeliveries = 5

	// ackTimeout bounds deletes and dead-letter sends, which run even
	// after shutdown was requested.
	ackTimeout = 10 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration)

// Option configures a Loop.
type Option func(*Loop)

// WithLeaseDuration sets how long a received message stays hidden.
func WithLeaseDuration(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.leaseDuration = d
		}
	}
}

// WithPollDelay sets the delay after an empty receive or a receive error.
func WithPollDelay(d time.Duration) Option {
	return func(l *Loop) {
		if d >= 0 {
			l.pollDelay = d
		}
	}
}

// WithMaxDeliveries sets the delivery cap; 0 disables it.
func WithMaxDeliveries(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.maxDeliveries = n
		}
	}
}

// WithDeadLetter sets the sink for messages over the delivery cap.
func WithDeadLetter(dl queue.DeadLetter) Option {
	return func(l *Loop) {
		if dl != nil {
			l.deadLetter = dl
		}
	}
}

// WithHistory sets the repository runs are recorded in.
func WithHistory(repo job.Repository) Option {
	return func(l *Loop) {
		if repo != nil {
			l.history = repo
		}
	}
}

// WithClock replaces the sleep and time functions, for tests.
func WithClock(sleep SleepFunc, now func() time.Time) Option {
	return func(l *Loop) {
		if sleep != nil {
			l.sleep = sleep
		}
		if now != nil {
			l.now = now
		}
	}
}
