// Package worker runs the job loop: it leases messages from the work queue,
// runs the transcoding pipeline for each and acknowledges them.
//
// Delivery is at-least-once. A message is deleted only after the pipeline
// succeeded, after it was found malformed, or after it was handed to the
// dead-letter sink. Anything else is left for redelivery when its lease
// expires.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/job"
	"github.com/paul-shell/gauntlet-exchange/internal/metrics"
	"github.com/paul-shell/gauntlet-exchange/internal/queue"
)

// Processor runs the pipeline for one video.
type Processor interface {
	Process(ctx context.Context, videoID string) error
}

// Loop polls a queue and dispatches jobs to a Processor one at a time.
type Loop struct {
	queue     queue.Queue
	processor Processor
	logger    *slog.Logger

	leaseDuration time.Duration
	pollDelay     time.Duration
	maxDeliveries int
	deadLetter    queue.DeadLetter
	history       job.Repository
	sleep         SleepFunc
	now           func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates a Loop.
func New(q queue.Queue, processor Processor, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		queue:         q,
		processor:     processor,
		logger:        logger,
		leaseDuration: DefaultLeaseDuration,
		pollDelay:     DefaultPollDelay,
		maxDeliveries: DefaultMaxDeliveries,
		deadLetter:    queue.NewNopDeadLetter(logger),
		history:       job.NewMemoryRepository(job.DefaultHistorySize),
		sleep:         sleepContext,
		now:           time.Now,
		status:        Status{State: StateStarting},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// History returns the repository runs are recorded in.
func (l *Loop) History() job.Repository {
	return l.history
}

// Run polls until ctx is cancelled and returns ctx.Err(). Transient queue
// errors never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker started",
		"lease_duration", l.leaseDuration,
		"poll_delay", l.pollDelay,
		"max_deliveries", l.maxDeliveries,
	)
	defer l.updateStatus(func(s *Status) { s.State = StateStopped })

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("worker stopped")
			return err
		}

		now := l.now()
		l.updateStatus(func(s *Status) {
			s.State = StateIdle
			s.LastPollAt = &now
		})

		msgs, err := l.queue.Receive(ctx, 1, l.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.QueueReceiveErrors.Inc()
			l.updateStatus(func(s *Status) { s.ReceiveErrors++ })
			l.logger.Error("queue receive failed", "error", err, "retry_in", l.pollDelay)
			l.sleep(ctx, l.pollDelay)
			continue
		}
		if len(msgs) == 0 {
			l.sleep(ctx, l.pollDelay)
			continue
		}

		for _, msg := range msgs {
			l.handle(ctx, msg)
		}
	}
}

// handle applies the disposition rules to one leased message.
func (l *Loop) handle(ctx context.Context, msg queue.Message) {
	logger := l.logger.With("message_id", msg.ID, "delivery", msg.DeliveryCount)

	d, err := job.Parse(msg.Body)
	if err != nil {
		logger.Warn("discarding malformed message", "error", err)
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
		l.updateStatus(func(s *Status) { s.Malformed++ })
		l.ack(ctx, logger, msg)
		return
	}
	logger = logger.With("video_id", d.VideoID)

	run := job.NewRun(d.VideoID, msg.ID, msg.DeliveryCount)
	logger = logger.With("run_id", run.ID)

	if l.maxDeliveries > 0 && msg.DeliveryCount > l.maxDeliveries {
		l.deadLetterMessage(ctx, logger, msg, run)
		return
	}

	l.record(ctx, logger, run)
	startedAt := run.StartedAt
	l.updateStatus(func(s *Status) {
		s.State = StateProcessing
		s.CurrentVideoID = d.VideoID
		s.CurrentRunID = run.ID
		s.StartedAt = &startedAt
	})
	defer l.updateStatus(func(s *Status) {
		s.CurrentVideoID = ""
		s.CurrentRunID = ""
		s.StartedAt = nil
	})

	logger.Info("processing video")
	err = l.processor.Process(job.ContextWithRunID(ctx, run.ID), d.VideoID)

	switch {
	case err == nil:
		_ = run.Complete()
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeSucceeded).Inc()
		l.updateStatus(func(s *Status) { s.Succeeded++ })
		logger.Info("video processed", "duration", run.Duration())
		l.ack(ctx, logger, msg)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		_ = run.Cancel()
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		logger.Info("processing cancelled by shutdown, message left for redelivery")
	default:
		_ = run.Fail(err.Error())
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		l.updateStatus(func(s *Status) { s.Failed++ })
		logger.Error("processing failed, message left for redelivery",
			"error", err,
			"redelivery_after", msg.LeaseExpiry,
		)
	}
	l.record(ctx, logger, run)
}

// deadLetterMessage hands msg to the dead-letter sink and deletes it. When
// the sink fails the message is left alone so a later delivery retries.
func (l *Loop) deadLetterMessage(ctx context.Context, logger *slog.Logger, msg queue.Message, run *job.Run) {
	reason := fmt.Sprintf("delivery count %d exceeds limit %d", msg.DeliveryCount, l.maxDeliveries)

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()

	err := l.deadLetter.Send(ackCtx, queue.DeadLetterEntry{
		MessageID:     msg.ID,
		Body:          string(msg.Body),
		DeliveryCount: msg.DeliveryCount,
		Reason:        reason,
		FailedAt:      l.now().UTC(),
	})
	if err != nil {
		logger.Error("dead-letter send failed, message left in queue", "error", err)
		return
	}

	_ = run.DeadLetter(reason)
	l.record(ctx, logger, run)
	metrics.JobsTotal.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
	l.updateStatus(func(s *Status) { s.DeadLettered++ })
	logger.Warn("message dead-lettered", "reason", reason)
	l.ack(ctx, logger, msg)
}

// ack deletes msg. It runs detached from shutdown so finished work is not
// redone; a failed delete only means the message is redelivered.
func (l *Loop) ack(ctx context.Context, logger *slog.Logger, msg queue.Message) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()

	if err := l.queue.Delete(ackCtx, msg.Handle); err != nil {
		logger.Warn("message delete failed, it will be redelivered", "error", err)
	}
}

func (l *Loop) record(ctx context.Context, logger *slog.Logger, run *job.Run) {
	if err := l.history.Save(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("run history save failed", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
