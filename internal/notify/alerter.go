package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// OperatorAlerter e-mails the clinic operator when a phone gets blocked.
type OperatorAlerter struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

func NewOperatorAlerter(email EmailSender, to string, logger *logging.Logger) *OperatorAlerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &OperatorAlerter{email: email, to: strings.TrimSpace(to), logger: logger}
}

// Enabled reports whether alerts have somewhere to go.
func (a *OperatorAlerter) Enabled() bool {
	return a != nil && a.email != nil && a.to != ""
}

// PhoneBlocked is a BlockHook.
func (a *OperatorAlerter) PhoneBlocked(ctx context.Context, rec BlockRecord) {
	if !a.Enabled() {
		return
	}
	until := "unknown"
	if rec.BlockedUntil != nil {
		until = rec.BlockedUntil.UTC().Format(time.RFC1123)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Deliveries to %s are paused until %s.\n\n", rec.Phone, until)
	fmt.Fprintf(&b, "Reason: %s\n\nRecent failures:\n", rec.Reason)
	for _, f := range rec.RecentFailures {
		fmt.Fprintf(&b, "- %s %s: %s\n", f.At.UTC().Format(time.RFC3339), f.EventType, f.Error)
	}
	b.WriteString("\nUse the admin API to unblock the number once the contact details are fixed.")

	msg := EmailMessage{
		To:      a.to,
		Subject: fmt.Sprintf("Patient phone %s blocked after repeated delivery failures", rec.Phone),
		Body:    b.String(),
	}
	if err := a.email.Send(ctx, msg); err != nil {
		a.logger.Error("operator alert failed", "error", err, "phone", rec.Phone)
	}
}
