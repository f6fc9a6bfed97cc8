package messaging

import (
	"context"
	"errors"
	"fmt"
)

// SendResult is what a provider reports for an accepted message.
type SendResult struct {
	ID       string
	Status   string
	Provider string
}

// Transport sends a single text message to a recipient.
type Transport interface {
	SendText(ctx context.Context, recipient, body string) (SendResult, error)
}

// PermanentError marks a provider rejection that will not succeed on retry
// (invalid number, opted-out recipient, unroutable destination).
type PermanentError struct {
	Provider string
	Code     string
	Err      error
}

func (e *PermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("messaging: %s rejected message (code %s): %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("messaging: %s rejected message: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(provider, code string, err error) error {
	if err == nil {
		err = errors.New("rejected")
	}
	return &PermanentError{Provider: provider, Code: code, Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

var (
	errRecipientRequired = errors.New("messaging: recipient required")
	errBodyRequired      = errors.New("messaging: body required")
)
