package dialogue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/internal/session"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/messages", h.Message)
	r.Post("/v1/messages/async", h.EnqueueMessage)
	r.Get("/v1/jobs/{jobID}", h.JobStatus)
	return r
}

func TestHandlerMessageReturnsReply(t *testing.T) {
	proc := &stubProcessor{reply: Reply{Text: "Which day works for you?", Step: session.StepSelectingDate, Mode: session.ModeMenu}}
	router := newTestRouter(NewHandler(proc, nil, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"session_id":"s1","text":"1"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reply Reply
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, session.StepSelectingDate, reply.Step)
	require.Len(t, proc.reqs, 1)
	assert.Equal(t, "1", proc.reqs[0].Text)
}

func TestHandlerMessageRejectsBadInput(t *testing.T) {
	router := newTestRouter(NewHandler(&stubProcessor{}, nil, nil, logging.Discard()))

	for name, body := range map[string]string{
		"malformed":       `{"session_id":`,
		"missing session": `{"text":"hi"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlerMessageHidesInternalErrors(t *testing.T) {
	proc := &stubProcessor{err: apperr.Wrap(apperr.KindInternal, "dialogue.ProcessMessage", context.DeadlineExceeded)}
	router := newTestRouter(NewHandler(proc, nil, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"session_id":"s1","text":"1"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadline")
}

func TestHandlerAsyncRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(4)
	jobs := NewMemoryJobStore()
	proc := &stubProcessor{reply: Reply{Text: "ok", Step: session.StepMainMenu}}
	h := NewHandler(proc, NewPublisher(queue, jobs, logging.Discard()), jobs, logging.Discard())
	router := newTestRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages/async", strings.NewReader(`{"session_id":"s1","text":"hi"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&accepted))
	jobID := accepted["job_id"]
	require.NotEmpty(t, jobID)
	assert.Equal(t, "pending", accepted["status"])

	msgs, err := queue.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	NewWorker(proc, queue, jobs, logging.Discard()).handleMessage(context.Background(), msgs[0])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job JobRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.Reply)
	assert.Equal(t, "ok", job.Reply.Text)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerAsyncDisabled(t *testing.T) {
	router := newTestRouter(NewHandler(&stubProcessor{}, nil, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages/async", strings.NewReader(`{"session_id":"s1"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
