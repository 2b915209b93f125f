package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/paul-shell/gauntlet-exchange/internal/job"
	"github.com/paul-shell/gauntlet-exchange/internal/queue"
	"github.com/paul-shell/gauntlet-exchange/internal/worker"
)

// StatusSource reports the worker loop state.
type StatusSource interface {
	Status() worker.Status
}

// Handlers contains the HTTP handlers for the ops server.
type Handlers struct {
	queue     queue.Queue
	worker    StatusSource
	runs      job.Repository
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(q queue.Queue, w StatusSource, runs job.Repository, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		queue:     q,
		worker:    w,
		runs:      runs,
		validator: job.Validator(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Status handles GET /status requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.worker.Status())
}

// EnqueueJob handles POST /jobs requests. It puts a job descriptor on the
// work queue so an already uploaded video is transcoded (again).
func (h *Handlers) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	body, err := job.Marshal(job.Descriptor{VideoID: req.VideoID})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if err := h.queue.Send(r.Context(), body); err != nil {
		h.logger.Error("failed to enqueue job",
			slog.String("video_id", req.VideoID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to enqueue job", "ENQUEUE_FAILED")
		return
	}

	h.logger.Info("job enqueued", slog.String("video_id", req.VideoID))

	writeJSON(w, http.StatusAccepted, EnqueueJobResponse{
		VideoID: req.VideoID,
		Status:  "queued",
	})
}

// ListRuns handles GET /runs requests.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list runs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs", "RUN_LIST_FAILED")
		return
	}

	resp := RunListResponse{Runs: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, newRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /runs/{id} requests.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return
	}

	run, err := h.runs.FindByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, job.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get run", "RUN_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newRunResponse(run))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
