package messaging

import (
	"context"
	"errors"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// FailoverTransport attempts a primary send, then falls back to a secondary provider on error.
type FailoverTransport struct {
	primary       Transport
	secondary     Transport
	primaryName   string
	secondaryName string
	logger        *logging.Logger
}

// NewFailoverTransport builds a failover transport with named providers.
func NewFailoverTransport(primary Transport, primaryName string, secondary Transport, secondaryName string, logger *logging.Logger) *FailoverTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverTransport{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

var _ Transport = (*FailoverTransport)(nil)

// SendText tries the primary provider first. Permanent rejections are
// returned as-is since the recipient is the problem, not the provider.
func (f *FailoverTransport) SendText(ctx context.Context, recipient, body string) (SendResult, error) {
	if f == nil || f.primary == nil {
		return SendResult{}, errors.New("messaging: failover primary transport not configured")
	}
	res, err := f.primary.SendText(ctx, recipient, body)
	if err == nil {
		return res, nil
	}
	if f.secondary == nil || IsPermanent(err) || ctx.Err() != nil {
		return SendResult{}, err
	}
	f.logger.Warn("primary sms send failed; attempting fallback",
		"provider", f.primaryName,
		"fallback", f.secondaryName,
		"error", err,
		"to", recipient,
	)
	res, fallbackErr := f.secondary.SendText(ctx, recipient, body)
	if fallbackErr != nil {
		f.logger.Error("fallback sms send failed",
			"provider", f.secondaryName,
			"error", fallbackErr,
			"to", recipient,
		)
		return SendResult{}, fallbackErr
	}
	return res, nil
}
