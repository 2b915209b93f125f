package job

import (
	"errors"
	"sync"
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/job/id"
)

// Status represents the current state of a Run.
type Status string

const (
	// StatusRunning indicates the pipeline is processing the video.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every artifact was published.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the pipeline failed; the message will be redelivered.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the run was interrupted by shutdown.
	StatusCancelled Status = "CANCELLED"
	// StatusDeadLettered indicates the message exceeded its delivery limit.
	StatusDeadLettered Status = "DEAD_LETTERED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusRunning:      {StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLettered},
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusCancelled:    {},
	StatusDeadLettered: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run records one attempt at processing one queue message.
type Run struct {
	mu sync.RWMutex

	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// VideoID is the video being transcoded.
	VideoID string `json:"videoId"`
	// MessageID is the queue message that triggered the run.
	MessageID string `json:"messageId"`
	// Delivery is the delivery count of the message for this run.
	Delivery int `json:"delivery"`
	// Status is the current run state.
	Status Status `json:"status"`
	// Error contains the failure reason for failed runs.
	Error string `json:"error,omitempty"`
	// StartedAt is when the run started.
	StartedAt time.Time `json:"startedAt"`
	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// NewRun creates a RUNNING run with a generated ID.
func NewRun(videoID, messageID string, delivery int) *Run {
	return NewRunWithID(id.NewRun(), videoID, messageID, delivery)
}

// NewRunWithID creates a RUNNING run with the specified ID.
// Useful for testing or when the ID is generated elsewhere.
func NewRunWithID(runID, videoID, messageID string, delivery int) *Run {
	return &Run{
		ID:        runID,
		VideoID:   videoID,
		MessageID: messageID,
		Delivery:  delivery,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

// TransitionTo attempts to change the run status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(status Status) error {
	return r.transition(status, "")
}

// Complete transitions the run to COMPLETED.
func (r *Run) Complete() error {
	return r.transition(StatusCompleted, "")
}

// Fail transitions the run to FAILED with an error message.
func (r *Run) Fail(errMsg string) error {
	return r.transition(StatusFailed, errMsg)
}

// Cancel transitions the run to CANCELLED.
func (r *Run) Cancel() error {
	return r.transition(StatusCancelled, "")
}

// DeadLetter transitions the run to DEAD_LETTERED with the reason.
func (r *Run) DeadLetter(reason string) error {
	return r.transition(StatusDeadLettered, reason)
}

func (r *Run) transition(status Status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}
	r.Status = status
	r.Error = errMsg
	r.CompletedAt = time.Now()
	return nil
}

// GetStatus returns the current run status (thread-safe).
func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// IsTerminal returns true if the run is in a terminal state.
func (r *Run) IsTerminal() bool {
	return r.GetStatus() != StatusRunning
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Clone creates a copy of the run for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &Run{
		ID:          r.ID,
		VideoID:     r.VideoID,
		MessageID:   r.MessageID,
		Delivery:    r.Delivery,
		Status:      r.Status,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
