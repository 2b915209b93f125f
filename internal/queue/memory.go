package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time check that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process implementation of Queue with visibility
// timeouts. Suitable for local runs and tests; use SQS in production.
type MemoryQueue struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int
	messages []*memoryMessage
}

type memoryMessage struct {
	id         string
	body       []byte
	deliveries int
	handle     string
	visibleAt  time.Time
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithNow sets the clock used for lease bookkeeping.
func WithNow(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) {
		q.now = now
	}
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send appends a message that is immediately visible.
func (q *MemoryQueue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.messages = append(q.messages, &memoryMessage{
		id:   fmt.Sprintf("msg-%d", q.seq),
		body: append([]byte(nil), body...),
	})
	return nil
}

// Receive leases up to maxMessages visible messages in enqueue order.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, lease time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, m := range q.messages {
		if len(out) == maxMessages {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}
		m.deliveries++
		m.handle = fmt.Sprintf("%s/%d", m.id, m.deliveries)
		m.visibleAt = now.Add(lease)
		out = append(out, Message{
			ID:            m.id,
			Body:          append([]byte(nil), m.body...),
			Handle:        m.handle,
			DeliveryCount: m.deliveries,
			LeaseExpiry:   m.visibleAt,
		})
	}
	return out, nil
}

// Delete removes the message leased under handle. A handle from an expired
// lease is rejected, matching visibility-timeout queues where a redelivered
// message gets a new receipt.
func (q *MemoryQueue) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, m := range q.messages {
		if m.handle != handle {
			continue
		}
		if !m.visibleAt.After(now) {
			return ErrInvalidHandle
		}
		q.messages = append(q.messages[:i], q.messages[i+1:]...)
		return nil
	}
	return ErrInvalidHandle
}

// Len returns the number of messages not yet deleted, leased or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
