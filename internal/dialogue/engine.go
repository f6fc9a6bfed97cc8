// Package dialogue drives a patient's booking conversation: it reads one
// message, advances the session's state machine and produces the reply.
package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/internal/booking"
	"github.com/wolfman30/dental-booking-agent/internal/intent"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/messaging/compliance"
	"github.com/wolfman30/dental-booking-agent/internal/messaging/templates"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/session"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	defaultDateOptions    = 5
	defaultAgentThreshold = 0.6
	maxNameLength         = 80
	maxDescriptionLength  = 500
)

// Sender is the outbound path for live replies and status notifications.
// *notify.Gateway implements it.
type Sender interface {
	Send(ctx context.Context, msg notify.Message) (notify.Receipt, error)
}

// Config wires an Engine. Sender, Catalog and Metrics are optional.
type Config struct {
	Sessions         *session.Manager
	Actions          *booking.Actions
	Classifier       *intent.Classifier
	Sender           Sender
	Catalog          *templates.Catalog
	Metrics          *metrics.DialogueMetrics
	ClinicID         string
	ClinicName       string
	DefaultDentistID string
	DateOptions      int
	AgentThreshold   float64
	Logger           *logging.Logger
}

// Request is one inbound patient message.
type Request struct {
	SessionID string       `json:"session_id"`
	Text      string       `json:"text"`
	PatientID string       `json:"patient_id,omitempty"`
	Phone     string       `json:"phone,omitempty"`
	Name      string       `json:"name,omitempty"`
	Mode      session.Mode `json:"mode,omitempty"`
}

// Reply is the engine's answer to a Request.
type Reply struct {
	SessionID string       `json:"session_id"`
	Text      string       `json:"response_text"`
	Step      session.Step `json:"next_step"`
	Mode      session.Mode `json:"mode"`
	Delivered bool         `json:"delivered"`
}

// Engine is safe for concurrent use; per-session ordering comes from the
// session manager's lock.
type Engine struct {
	sessions   *session.Manager
	actions    *booking.Actions
	classifier *intent.Classifier
	sender     Sender
	catalog    *templates.Catalog
	metrics    *metrics.DialogueMetrics
	cfg        Config
	now        func() time.Time
	logger     *logging.Logger
	tracer     trace.Tracer
}

// turn carries the state of a single ProcessMessage call.
type turn struct {
	c      *session.ConversationContext
	req    Request
	outbox []notify.Message
}

func NewEngine(cfg Config) *Engine {
	if cfg.Sessions == nil {
		panic("dialogue: session manager required")
	}
	if cfg.Actions == nil {
		panic("dialogue: booking actions required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = intent.NewClassifier(intent.WithLogger(cfg.Logger))
	}
	if cfg.DateOptions <= 0 {
		cfg.DateOptions = defaultDateOptions
	}
	if cfg.AgentThreshold <= 0 {
		cfg.AgentThreshold = defaultAgentThreshold
	}
	if strings.TrimSpace(cfg.ClinicName) == "" {
		cfg.ClinicName = "our clinic"
	}
	return &Engine{
		sessions:   cfg.Sessions,
		actions:    cfg.Actions,
		classifier: cfg.Classifier,
		sender:     cfg.Sender,
		catalog:    cfg.Catalog,
		metrics:    cfg.Metrics,
		cfg:        cfg,
		now:        time.Now,
		logger:     cfg.Logger,
		tracer:     otel.Tracer("dental.internal.dialogue.engine"),
	}
}

// WithClock overrides time.Now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// ProcessMessage runs one turn. Domain failures never surface as errors:
// they become reply text and the session rolls back to a step the patient
// can continue from. An error is returned only when the session itself
// could not be loaded or saved.
func (e *Engine) ProcessMessage(ctx context.Context, req Request) (Reply, error) {
	const op = "dialogue.process"
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return Reply{}, apperr.UserInput(op, "A session id is required.")
	}
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "dialogue.process", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
	))
	defer span.End()

	var (
		text   string
		outbox []notify.Message
	)
	c, err := e.sessions.Update(ctx, req.SessionID, req.Mode, func(c *session.ConversationContext) error {
		t := &turn{c: c, req: req}
		text = e.handleTurn(ctx, t)
		outbox = t.outbox
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.logger.Error("session update failed", "session_id", req.SessionID, "error", err)
		return Reply{}, apperr.Wrap(apperr.KindInternal, op, err)
	}

	// The step is already saved. A rate-limited reply leaves the patient on
	// the new step without its prompt, and the next message is read against it.
	reply := e.deliver(ctx, c, Reply{SessionID: c.SessionID, Text: text, Step: c.Step, Mode: c.Mode})
	e.sendOutbox(ctx, outbox)

	span.SetAttributes(attribute.String("step", string(c.Step)), attribute.String("mode", string(c.Mode)))
	e.metrics.ObserveTurn(string(c.Mode), string(c.Step), e.now().Sub(started).Seconds())
	return reply, nil
}

func (e *Engine) handleTurn(ctx context.Context, t *turn) string {
	c := t.c
	bindUser(c, t.req)
	redacted, _ := compliance.RedactPAN(strings.TrimSpace(t.req.Text))
	c.AddTurn(session.RoleUser, redacted, e.now())

	snapshot := c.Clone()
	text, err := e.route(ctx, t)
	if err != nil {
		text = e.recover(ctx, t, snapshot, err)
	}
	if !c.Consistent() {
		e.logger.Warn("session left inconsistent, returning to menu", "session_id", c.SessionID, "step", c.Step)
		c.ResetToMenu()
		text = joinBlocks(text, mainMenuText)
	}
	c.AddTurn(session.RoleAssistant, text, e.now())
	return text
}

func bindUser(c *session.ConversationContext, req Request) {
	if id := strings.TrimSpace(req.PatientID); id != "" {
		c.User.PatientID = id
	}
	if phone := messaging.NormalizeE164(req.Phone); phone != "" {
		c.User.Phone = phone
	}
	if name := strings.TrimSpace(req.Name); name != "" && c.User.DisplayName == "" {
		c.User.DisplayName = name
	}
}

// route dispatches the message: global commands first, then numeric choices
// for the current step, then free text.
func (e *Engine) route(ctx context.Context, t *turn) (string, error) {
	c := t.c
	text := strings.TrimSpace(t.req.Text)
	lower := strings.ToLower(text)

	switch lower {
	case "menu", "0":
		c.ResetToMenu()
		return mainMenuText, nil
	case "switch mode", "change mode":
		return e.switchMode(ctx, c, c.Mode.Toggle()), nil
	case "agent mode":
		return e.switchMode(ctx, c, session.ModeAgent), nil
	case "menu mode":
		return e.switchMode(ctx, c, session.ModeMenu), nil
	}

	n, numeric := parseChoice(text)
	if c.Step == session.StepInitial {
		c.ResetToMenu()
		if !numeric && (c.Mode == session.ModeMenu || text == "") {
			return welcomeText(e.cfg.ClinicName, c.Mode), nil
		}
	}
	if numeric {
		return e.choose(ctx, t, n)
	}

	switch c.Step {
	case session.StepAwaitingClientName:
		return e.takeName(ctx, t, text)
	case session.StepAwaitingDescription:
		return e.takeDescription(ctx, t, text)
	}
	if c.Mode == session.ModeAgent {
		return e.interpret(ctx, t, text)
	}
	return joinBlocks("Please reply with one of the numbers below.", e.prompt(ctx, c)), nil
}

func (e *Engine) switchMode(ctx context.Context, c *session.ConversationContext, mode session.Mode) string {
	c.Mode = mode
	if c.Step == session.StepInitial {
		c.ResetToMenu()
	}
	intro := "Switched to menu mode. Reply with a number to choose."
	if mode == session.ModeAgent {
		intro = "Switched to agent mode. Tell me what you need in your own words, or keep using the numbers."
	}
	return joinBlocks(intro, e.prompt(ctx, c))
}

// recover restores the pre-turn state and picks a step the patient can
// continue from. Slot problems re-offer the day's times; anything else that
// is not the patient's input goes back to the main menu.
func (e *Engine) recover(ctx context.Context, t *turn, snapshot *session.ConversationContext, err error) string {
	c := t.c
	*c = *snapshot.Clone()
	msg := apperr.UserMessage(err)
	kind := apperr.KindOf(err)

	if kind == apperr.KindInternal {
		e.logger.Error("dialogue turn failed", "session_id", c.SessionID, "step", c.Step, "error", err)
	} else {
		e.logger.Info("dialogue turn rejected", "session_id", c.SessionID, "step", c.Step, "kind", string(kind), "error", err)
	}

	switch kind {
	case apperr.KindUserInput, apperr.KindConflict:
		if date := c.Entities.SelectedDate; date != "" {
			text, rerr := e.selectDate(ctx, t, date)
			if rerr == nil {
				return joinBlocks(msg, text)
			}
			*c = *snapshot.Clone()
		} else if kind == apperr.KindUserInput {
			return joinBlocks(msg, e.prompt(ctx, c))
		}
	}
	c.ResetToMenu()
	return joinBlocks(msg, mainMenuText)
}

// deliver sends the reply as a live message when the session has a phone.
func (e *Engine) deliver(ctx context.Context, c *session.ConversationContext, reply Reply) Reply {
	if e.sender == nil || c.User.Phone == "" {
		return reply
	}
	rec, err := e.sender.Send(ctx, notify.Message{
		Recipient: c.User.Phone,
		Body:      reply.Text,
		EventType: notify.EventLiveReply,
		Live:      true,
	})
	switch {
	case err == nil:
		reply.Delivered = rec.Outcome == notify.OutcomeSent
	case apperr.Is(err, apperr.KindRateLimited):
		reply.Text = apperr.TooManyMessagesNotice(apperr.RetryAfter(err))
		reply.Delivered = false
	default:
		e.logger.Warn("live reply not delivered", "session_id", c.SessionID, "outcome", string(rec.Outcome), "error", err)
	}
	return reply
}

func (e *Engine) sendOutbox(ctx context.Context, outbox []notify.Message) {
	for _, msg := range outbox {
		rec, err := e.sender.Send(ctx, msg)
		if err != nil {
			e.logger.Warn("status notification not sent", "event_type", string(msg.EventType), "entity_id", msg.EntityID, "outcome", string(rec.Outcome), "error", err)
			continue
		}
		e.logger.Debug("status notification handled", "event_type", string(msg.EventType), "entity_id", msg.EntityID, "outcome", string(rec.Outcome))
	}
}

// queueStatus renders a status notification to be sent once the turn is saved.
func (e *Engine) queueStatus(t *turn, event notify.EventType, appt *booking.Appointment, dentistName string) {
	if e.sender == nil || e.catalog == nil || t.c.User.Phone == "" || appt == nil {
		return
	}
	data := templates.Data{
		ClinicName:  e.cfg.ClinicName,
		PatientName: t.c.User.DisplayName,
		DentistName: dentistName,
		StartsAt:    appt.StartsAt.In(e.actions.Location()),
		Reason:      appt.Reason,
	}
	if appt.PaymentDueAt != nil {
		data.Deposit = true
		data.PaymentDueAt = appt.PaymentDueAt.In(e.actions.Location())
	}
	body, err := e.catalog.Render(string(event), data)
	if err != nil {
		e.logger.Error("status notification render failed", "event_type", string(event), "error", err)
		return
	}
	t.outbox = append(t.outbox, notify.Message{
		Recipient: t.c.User.Phone,
		Body:      body,
		EventType: event,
		EntityID:  fmt.Sprintf("%s:%d", appt.ID, appt.Version),
	})
}
