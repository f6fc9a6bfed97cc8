package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/internal/booking"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
	"github.com/wolfman30/dental-booking-agent/internal/reminders"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// TriggerRunner is satisfied by *reminders.Runner.
type TriggerRunner interface {
	RunOnce(ctx context.Context, trigger reminders.Trigger) (reminders.Result, error)
	SendReviewRequest(ctx context.Context, appointmentID string) (reminders.Result, error)
	Triggers() []reminders.Trigger
}

// BlocklistAdmin is satisfied by *notify.Blocklist.
type BlocklistAdmin interface {
	ListBlocked(ctx context.Context) ([]notify.BlockRecord, error)
	Get(ctx context.Context, phone string) (*notify.BlockRecord, error)
	Unblock(ctx context.Context, phone string) error
}

// PaymentMarker is satisfied by *booking.Actions.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, id string) (*booking.Appointment, error)
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	runner     TriggerRunner
	blocklist  BlocklistAdmin
	bookings   PaymentMarker
	deliveries notify.DeliveryLog
	logger     *logging.Logger
}

func NewAdminHandler(runner TriggerRunner, blocklist BlocklistAdmin, bookings PaymentMarker, deliveries notify.DeliveryLog, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{runner: runner, blocklist: blocklist, bookings: bookings, deliveries: deliveries, logger: logger}
}

// Routes mounts the admin API under the caller's prefix.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/blocklist", h.ListBlocked)
	r.Get("/blocklist/{phone}", h.GetBlock)
	r.Delete("/blocklist/{phone}", h.Unblock)
	r.Post("/triggers/{trigger}", h.RunTrigger)
	r.Route("/appointments/{appointmentID}", func(r chi.Router) {
		r.Post("/mark-paid", h.MarkPaid)
		r.Post("/review-request", h.ReviewRequest)
		r.Get("/deliveries", h.Deliveries)
	})
	return r
}

// ListBlocked handles GET /admin/blocklist.
func (h *AdminHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	records, err := h.blocklist.ListBlocked(r.Context())
	if err != nil {
		h.logger.Error("failed to list blocked phones", "error", err)
		jsonError(w, "failed to list blocked phones", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []notify.BlockRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": records})
}

// GetBlock handles GET /admin/blocklist/{phone}.
func (h *AdminHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	phone := messaging.NormalizeE164(chi.URLParam(r, "phone"))
	if phone == "" {
		jsonError(w, "invalid phone", http.StatusBadRequest)
		return
	}
	rec, err := h.blocklist.Get(r.Context(), phone)
	if err != nil {
		h.logger.Error("failed to load block record", "error", err, "phone", phone)
		jsonError(w, "failed to load block record", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		rec = &notify.BlockRecord{Phone: phone}
	}
	writeJSON(w, http.StatusOK, rec)
}

// Unblock handles DELETE /admin/blocklist/{phone}.
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	phone := messaging.NormalizeE164(chi.URLParam(r, "phone"))
	if phone == "" {
		jsonError(w, "invalid phone", http.StatusBadRequest)
		return
	}
	if err := h.blocklist.Unblock(r.Context(), phone); err != nil {
		h.logger.Error("failed to unblock phone", "error", err, "phone", phone)
		jsonError(w, "failed to unblock phone", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phone": phone, "status": "unblocked"})
}

// RunTrigger handles POST /admin/triggers/{trigger}.
func (h *AdminHandler) RunTrigger(w http.ResponseWriter, r *http.Request) {
	trigger := reminders.Trigger(chi.URLParam(r, "trigger"))
	if !h.knownTrigger(trigger) {
		jsonError(w, "unknown trigger", http.StatusBadRequest)
		return
	}
	res, err := h.runner.RunOnce(r.Context(), trigger)
	if err != nil {
		h.logger.Error("manual trigger failed", "error", err, "trigger", trigger)
		jsonError(w, "trigger failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) knownTrigger(trigger reminders.Trigger) bool {
	for _, t := range h.runner.Triggers() {
		if t == trigger {
			return true
		}
	}
	return false
}

// MarkPaid handles POST /admin/appointments/{appointmentID}/mark-paid.
func (h *AdminHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	appt, err := h.bookings.MarkPaid(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "appointment_id", id)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// ReviewRequest handles POST /admin/appointments/{appointmentID}/review-request.
func (h *AdminHandler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	res, err := h.runner.SendReviewRequest(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "appointment_id", id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Deliveries handles GET /admin/appointments/{appointmentID}/deliveries.
func (h *AdminHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	entries, err := h.deliveries.List(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err, "appointment_id", id)
		jsonError(w, "failed to list deliveries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []notify.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": id, "deliveries": entries})
}

func (h *AdminHandler) writeDomainError(w http.ResponseWriter, err error, args ...any) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUserInput:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("admin request failed", append([]any{"error", err}, args...)...)
	}
	jsonError(w, apperr.UserMessage(err), status)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
