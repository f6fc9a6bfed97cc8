// Package notify is the outbound delivery pipeline. Every message a patient
// receives, live reply or scheduled reminder, goes through Gateway.Send and so
// shares the same rate limiting, retry, blocklist and audit behavior.
package notify

import (
	"time"
)

// EventType names the reason a message is sent. It doubles as the
// notification type in the delivery log.
type EventType string

const (
	EventAppointmentCreated     EventType = "appointment_created"
	EventAppointmentRescheduled EventType = "appointment_rescheduled"
	EventAppointmentCancelled   EventType = "appointment_cancelled"
	EventReminder24h            EventType = "reminder_24h"
	EventReminder2h             EventType = "reminder_2h"
	EventPaymentPending         EventType = "payment_pending"
	EventHistoryNudge           EventType = "history_nudge"
	EventReviewRequest          EventType = "review_request"
	EventAutoCancelled          EventType = "auto_cancelled"
	EventLiveReply              EventType = "live_reply"
)

// Message is one outbound text.
type Message struct {
	ID        string
	Recipient string
	Body      string
	EventType EventType
	// EntityID is the idempotency subject, usually an appointment id.
	EntityID string
	// Live marks a reply to an inbound turn. Live messages are dropped, not
	// queued, when the recipient is rate limited.
	Live       bool
	RetryCount int
}

// Outcome is what the gateway did with a message.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeQueued    Outcome = "queued"
	OutcomeDropped   Outcome = "dropped"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
)

// Receipt reports the result of Gateway.Send.
type Receipt struct {
	MessageID         string
	Outcome           Outcome
	Provider          string
	ProviderMessageID string
	RetryAfter        time.Duration
}

// Entry is an append-only delivery log record.
type Entry struct {
	EntityID          string    `json:"entity_id"`
	NotificationType  EventType `json:"notification_type"`
	Recipient         string    `json:"recipient"`
	Provider          string    `json:"provider,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// AttemptStatus is the lifecycle of a queued retry.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
)

// Attempt is a message waiting in the retry queue. RetryCount is the number
// of the retry it represents, so the first queued attempt carries 1.
type Attempt struct {
	ID           string
	Message      Message
	Status       AttemptStatus
	RetryCount   int
	LastError    string
	ScheduledFor time.Time
	LeaseUntil   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FailureEvent is one entry of BlockRecord.RecentFailures.
type FailureEvent struct {
	EventType EventType `json:"event_type"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// BlockRecord is the blocklist state of one normalized phone number.
type BlockRecord struct {
	Phone               string         `json:"phone"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastEventType       EventType      `json:"last_event_type,omitempty"`
	Blocked             bool           `json:"blocked"`
	BlockedAt           *time.Time     `json:"blocked_at,omitempty"`
	BlockedUntil        *time.Time     `json:"blocked_until,omitempty"`
	Reason              string         `json:"reason,omitempty"`
	RecentFailures      []FailureEvent `json:"recent_failures"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

const maxRecentFailures = 5

func (r *BlockRecord) addFailure(ev FailureEvent) {
	r.RecentFailures = append(r.RecentFailures, ev)
	if len(r.RecentFailures) > maxRecentFailures {
		r.RecentFailures = append([]FailureEvent(nil), r.RecentFailures[len(r.RecentFailures)-maxRecentFailures:]...)
	}
}

func (r *BlockRecord) expired(now time.Time) bool {
	return r.Blocked && r.BlockedUntil != nil && !now.Before(*r.BlockedUntil)
}

func (r *BlockRecord) clear() {
	r.Blocked = false
	r.BlockedAt = nil
	r.BlockedUntil = nil
	r.Reason = ""
	r.ConsecutiveFailures = 0
	r.LastEventType = ""
}

func (r BlockRecord) clone() BlockRecord {
	out := r
	out.RecentFailures = append([]FailureEvent(nil), r.RecentFailures...)
	if r.BlockedAt != nil {
		t := *r.BlockedAt
		out.BlockedAt = &t
	}
	if r.BlockedUntil != nil {
		t := *r.BlockedUntil
		out.BlockedUntil = &t
	}
	return out
}
