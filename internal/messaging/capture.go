package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Captured is one message recorded by CaptureTransport.
type Captured struct {
	ID        string
	Recipient string
	Body      string
	At        time.Time
}

// CaptureTransport records messages instead of sending them. Synchronous
// channels (the HTTP chat endpoint) read replies back with Drain.
type CaptureTransport struct {
	mu       sync.Mutex
	messages []Captured
	failures []error
}

// NewCaptureTransport returns an empty capture transport.
func NewCaptureTransport() *CaptureTransport {
	return &CaptureTransport{}
}

var _ Transport = (*CaptureTransport)(nil)

// FailNext scripts the next len(errs) sends to fail with the given errors, in order.
func (c *CaptureTransport) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// SendText records the message, or returns the next scripted failure.
func (c *CaptureTransport) SendText(ctx context.Context, recipient, body string) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	if recipient == "" {
		return SendResult{}, errRecipientRequired
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, errBodyRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		if err != nil {
			return SendResult{}, err
		}
	}
	id := fmt.Sprintf("cap_%s", uuid.NewString())
	c.messages = append(c.messages, Captured{ID: id, Recipient: recipient, Body: body, At: time.Now().UTC()})
	return SendResult{ID: id, Status: "captured", Provider: "capture"}, nil
}

// Messages returns a copy of everything recorded so far.
func (c *CaptureTransport) Messages() []Captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Captured, len(c.messages))
	copy(out, c.messages)
	return out
}

// Drain removes and returns the messages recorded for recipient.
func (c *CaptureTransport) Drain(recipient string) []Captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Captured
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.Recipient == recipient {
			out = append(out, m)
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	return out
}
