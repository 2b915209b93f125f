// Package queue provides the lease-based work queue the worker polls and the
// dead-letter sinks for messages that exceed their delivery budget.
//
// Delivery is at-least-once: a received message is hidden for the lease
// duration and reappears unless it is deleted with its lease handle first.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidHandle is returned when deleting with a handle whose lease has
// expired or that was never issued.
var ErrInvalidHandle = errors.New("queue: invalid or expired lease handle")

// Message is a leased queue message.
type Message struct {
	// ID is the queue-assigned message identifier, stable across deliveries.
	ID string
	// Body is the raw payload.
	Body []byte
	// Handle identifies this lease; it is required to delete the message.
	Handle string
	// DeliveryCount is how many times the message has been received,
	// including this delivery.
	DeliveryCount int
	// LeaseExpiry is when the message becomes visible again if not deleted.
	LeaseExpiry time.Time
}

// Queue defines the interface for a lease-based message queue.
type Queue interface {
	// Receive leases up to maxMessages visible messages for the lease
	// duration. An empty slice means no work is available.
	Receive(ctx context.Context, maxMessages int, lease time.Duration) ([]Message, error)

	// Delete acknowledges a message using its lease handle.
	Delete(ctx context.Context, handle string) error

	// Send enqueues a new message.
	Send(ctx context.Context, body []byte) error
}
