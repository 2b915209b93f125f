// Package server provides the ops HTTP server of the worker: health,
// status, metrics, run history and an operator requeue endpoint.
package server

import (
	"time"

	"github.com/paul-shell/gauntlet-exchange/internal/job"
)

// EnqueueJobRequest is the HTTP request body for requeueing a video.
type EnqueueJobRequest struct {
	// VideoID names the uploaded source under {videoId}/ in the store.
	VideoID string `json:"VideoId" validate:"required,videoid"`
}

// EnqueueJobResponse is the HTTP response after a job was enqueued.
type EnqueueJobResponse struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
}

// RunResponse is the HTTP representation of one pipeline run.
type RunResponse struct {
	ID          string     `json:"id"`
	VideoID     string     `json:"videoId"`
	MessageID   string     `json:"messageId"`
	Delivery    int        `json:"delivery"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// DurationSeconds is the elapsed time so far for running runs.
	DurationSeconds float64 `json:"durationSeconds"`
}

// RunListResponse is the HTTP response for the run history.
type RunListResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func newRunResponse(r *job.Run) RunResponse {
	resp := RunResponse{
		ID:              r.ID,
		VideoID:         r.VideoID,
		MessageID:       r.MessageID,
		Delivery:        r.Delivery,
		Status:          string(r.Status),
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		DurationSeconds: r.Duration().Seconds(),
	}
	if !r.CompletedAt.IsZero() {
		completed := r.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}
