package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const defaultTelnyxEndpoint = "https://api.telnyx.com/v2/messages"

var telnyxTracer = otel.Tracer("dental.internal.messaging.telnyx")

// TelnyxTransport posts SMS messages using Telnyx's V2 API.
type TelnyxTransport struct {
	apiKey             string
	messagingProfileID string
	from               string
	endpoint           string
	maxAttempts        int
	backoff            func(attempt int) time.Duration
	httpClient         *http.Client
	logger             *logging.Logger
}

// NewTelnyxTransport builds a Telnyx sender.
func NewTelnyxTransport(apiKey, messagingProfileID, from string, logger *logging.Logger) *TelnyxTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxTransport{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		from:               from,
		endpoint:           defaultTelnyxEndpoint,
		maxAttempts:        3,
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithEndpoint overrides the API URL.
func (t *TelnyxTransport) WithEndpoint(endpoint string) *TelnyxTransport {
	if endpoint != "" {
		t.endpoint = endpoint
	}
	return t
}

// WithBackoff overrides the pause between attempts.
func (t *TelnyxTransport) WithBackoff(fn func(attempt int) time.Duration) *TelnyxTransport {
	if fn != nil {
		t.backoff = fn
	}
	return t
}

// WithHTTPClient swaps the HTTP client.
func (t *TelnyxTransport) WithHTTPClient(c *http.Client) *TelnyxTransport {
	if c != nil {
		t.httpClient = c
	}
	return t
}

var _ Transport = (*TelnyxTransport)(nil)

type telnyxResponse struct {
	Data struct {
		ID string `json:"id"`
		To []struct {
			Status string `json:"status"`
		} `json:"to"`
	} `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// SendText dispatches one SMS. 5xx and 429 responses are retried in place;
// other 4xx responses are permanent.
func (t *TelnyxTransport) SendText(ctx context.Context, recipient, body string) (SendResult, error) {
	if t.apiKey == "" {
		return SendResult{}, errors.New("messaging: telnyx api key missing")
	}
	if recipient == "" {
		return SendResult{}, errRecipientRequired
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, errBodyRequired
	}

	ctx, span := telnyxTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(attribute.String("dental.to", recipient))

	payload := map[string]any{
		"to":   recipient,
		"text": body,
	}
	if t.from != "" {
		payload["from"] = t.from
	}
	if t.messagingProfileID != "" {
		payload["messaging_profile_id"] = t.messagingProfileID
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		result, retry, err := t.post(ctx, raw)
		if err == nil {
			t.logger.Info("telnyx sms sent", "to", recipient, "provider_message_id", result.ID)
			return result, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		if attempt < t.maxAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = t.maxAttempts
			case <-time.After(t.backoff(attempt)):
			}
		}
	}
	span.RecordError(lastErr)
	t.logger.Error("failed to send telnyx sms", "error", lastErr, "to", recipient)
	return SendResult{}, lastErr
}

func (t *TelnyxTransport) post(ctx context.Context, raw []byte) (SendResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(raw))
	if err != nil {
		return SendResult{}, false, fmt.Errorf("messaging: build telnyx request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return SendResult{}, true, fmt.Errorf("messaging: telnyx request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var parsed telnyxResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result := SendResult{ID: parsed.Data.ID, Status: "queued", Provider: SMSProviderTelnyx}
		if len(parsed.Data.To) > 0 && parsed.Data.To[0].Status != "" {
			result.Status = parsed.Data.To[0].Status
		}
		return result, false, nil
	}

	cause := fmt.Errorf("telnyx send failed: status %d", resp.StatusCode)
	code := strconv.Itoa(resp.StatusCode)
	if len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		code = e.Code
		cause = fmt.Errorf("telnyx send failed: status %d: %s %s", resp.StatusCode, e.Title, e.Detail)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return SendResult{}, true, cause
	}
	return SendResult{}, false, Permanent(SMSProviderTelnyx, code, cause)
}
