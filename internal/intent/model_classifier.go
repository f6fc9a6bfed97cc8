package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const intentSystemPrompt = `You label messages sent to a dental clinic's booking assistant.
Reply with exactly one label from this list and nothing else:
%s
Use "unknown" when none fits.`

// ModelClassifier asks an LLM for a single intent label.
type ModelClassifier struct {
	client  LLMClient
	model   string
	timeout time.Duration
}

// NewModelClassifier wraps client. model may be empty for clients that carry their own model id.
func NewModelClassifier(client LLMClient, model string) *ModelClassifier {
	return &ModelClassifier{client: client, model: model, timeout: 5 * time.Second}
}

// WithTimeout bounds each model call.
func (m *ModelClassifier) WithTimeout(d time.Duration) *ModelClassifier {
	if d > 0 {
		m.timeout = d
	}
	return m
}

var _ ExternalClassifier = (*ModelClassifier)(nil)

// ClassifyIntent returns the first declared label found in the model output,
// or "" if the model answered with something else.
func (m *ModelClassifier) ClassifyIntent(ctx context.Context, text string, allowed []Intent) (Intent, error) {
	if m == nil || m.client == nil {
		return "", errors.New("intent: model client not configured")
	}
	labels := make([]string, 0, len(allowed))
	for _, in := range allowed {
		labels = append(labels, string(in))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	resp, err := m.client.Complete(ctx, LLMRequest{
		Model:       m.model,
		System:      []string{fmt.Sprintf(intentSystemPrompt, strings.Join(labels, "\n"))},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: text}},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("intent: model classify: %w", err)
	}

	for _, field := range strings.Fields(resp.Text) {
		in, ok := Parse(field)
		if !ok {
			continue
		}
		for _, a := range allowed {
			if a == in {
				return in, nil
			}
		}
	}
	return "", nil
}
