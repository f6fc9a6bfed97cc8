package dialogue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Handler wires HTTP requests to the dialogue engine and the async queue.
type Handler struct {
	engine    Processor
	publisher *Publisher
	jobs      JobRecorder
	logger    *logging.Logger
}

// NewHandler creates a dialogue handler. publisher and jobs may be nil, in
// which case the async endpoints answer 503.
func NewHandler(engine Processor, publisher *Publisher, jobs JobRecorder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, publisher: publisher, jobs: jobs, logger: logger}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return req, errors.New("session_id is required")
	}
	return req, nil
}

// Message handles POST /v1/messages and answers with the reply.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		h.logger.Warn("invalid message request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	reply, err := h.engine.ProcessMessage(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to process message", "error", err, "session_id", req.SessionID)
		status := http.StatusInternalServerError
		if apperr.Is(err, apperr.KindUserInput) {
			status = http.StatusBadRequest
		}
		h.writeJSON(w, status, map[string]string{"error": apperr.UserMessage(err)})
		return
	}
	h.writeJSON(w, http.StatusOK, reply)
}

// EnqueueMessage handles POST /v1/messages/async.
func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async processing disabled"})
		return
	}
	req, err := decodeRequest(w, r)
	if err != nil {
		h.logger.Warn("invalid async message request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	jobID, err := h.publisher.Enqueue(r.Context(), "", req)
	if err != nil {
		h.logger.Error("failed to enqueue message", "error", err, "session_id", req.SessionID)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue message"})
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(JobStatusPending)})
}

// JobStatus handles GET /v1/jobs/{jobID}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job tracking disabled"})
		return
	}
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, ErrJobNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	case err != nil:
		h.logger.Error("failed to load job", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
