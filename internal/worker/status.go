package worker

import "time"

// State is the lifecycle state of the loop.
type State string

// Loop states reported by Status.
const (
	StateStarting   State = "starting"
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateStopped    State = "stopped"
)

// Status is a point-in-time snapshot of the loop for the ops server.
type Status struct {
	State          State      `json:"state"`
	CurrentVideoID string     `json:"currentVideoId,omitempty"`
	CurrentRunID   string     `json:"currentRunId,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	LastPollAt     *time.Time `json:"lastPollAt,omitempty"`
	Succeeded      int64      `json:"succeeded"`
	Failed         int64      `json:"failed"`
	Malformed      int64      `json:"malformed"`
	DeadLettered   int64      `json:"deadLettered"`
	ReceiveErrors  int64      `json:"receiveErrors"`
}

// Status returns a snapshot of the loop state.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.status
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.LastPollAt != nil {
		t := *s.LastPollAt
		s.LastPollAt = &t
	}
	return s
}

func (l *Loop) updateStatus(fn func(*Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.status)
}
