// Package apperr defines the error kinds shared by the booking and delivery layers
// and the single mapping from those kinds to text that is safe to show a patient.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation and user-facing rendering.
type Kind string

const (
	KindUserInput         Kind = "user_input"
	KindNotFound          Kind = "not_found"
	KindTransientDelivery Kind = "transient_delivery"
	KindPermanentDelivery Kind = "permanent_delivery"
	KindRateLimited       Kind = "rate_limited"
	KindDataIntegrity     Kind = "data_integrity"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Error carries a kind, the operation that failed, an optional safe message and the cause.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error with a safe message and no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to cause. A nil cause yields nil.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Wrapf is Wrap with a safe message.
func Wrapf(kind Kind, op, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

func UserInput(op, message string) *Error {
	return New(KindUserInput, op, message)
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

func Conflict(op, message string, cause error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message, Err: cause}
}

func DataIntegrity(op, message string) *Error {
	return New(KindDataIntegrity, op, message)
}

func RateLimited(op string, wait time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Op: op, RetryAfter: wait}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfter returns the wait attached to a rate-limit error.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// SafeMessage returns the message attached by the layer that raised err, if any.
func SafeMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// UserMessage maps any error to text that can be sent to a patient.
// Causes are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindUserInput, KindConflict:
		if msg := SafeMessage(err); msg != "" {
			return msg
		}
		if KindOf(err) == KindConflict {
			return "That time was just taken. Please pick another one."
		}
		return "Sorry, I didn't understand that."
	case KindNotFound:
		if msg := SafeMessage(err); msg != "" {
			return msg
		}
		return "I couldn't find that. Let's start again from the menu."
	case KindRateLimited:
		return TooManyMessagesNotice(RetryAfter(err))
	case KindDataIntegrity:
		return "There is no availability for that day right now."
	default:
		return "Something went wrong on our side. Please try again in a moment."
	}
}

// TooManyMessagesNotice is shown when a live reply is dropped by the rate limiter.
func TooManyMessagesNotice(wait time.Duration) string {
	if wait <= 0 {
		return "You're sending too many messages. Please wait a little before trying again."
	}
	minutes := int(wait.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("You're sending too many messages. Please try again in about %d %s.", minutes, unit)
}
