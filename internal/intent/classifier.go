package intent

import (
	"context"
	"time"

	"github.com/wolfman30/dental-booking-agent/internal/session"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	stepConfidence     = 0.8
	externalConfidence = 0.7
	defaultConfidence  = 0.3
)

// ExternalClassifier is an optional model-backed fallback. It should return
// one of allowed; anything else is discarded.
type ExternalClassifier interface {
	ClassifyIntent(ctx context.Context, text string, allowed []Intent) (Intent, error)
}

// Classifier is a deterministic keyword/step matcher with an optional
// external escape hatch.
type Classifier struct {
	external ExternalClassifier
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithExternal enables the model fallback.
func WithExternal(ext ExternalClassifier) Option {
	return func(c *Classifier) { c.external = ext }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now for relative date resolution.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClassifier builds a Classifier.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{logger: logging.Default(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs keyword scoring, then the step fallback, then the external
// model (if any), then defaults to Unknown.
func (c *Classifier) Classify(ctx context.Context, text string, step session.Step) Result {
	entities := ExtractEntities(text, c.now())

	if in, score := scoreKeywords(text); score > 0 {
		return Result{Intent: in, Confidence: keywordConfidence(score), Method: MethodKeyword, Entities: entities}
	}

	switch step {
	case session.StepSelectingDate, session.StepReschedulingDate:
		return Result{Intent: SelectDate, Confidence: stepConfidence, Method: MethodStep, Entities: entities}
	case session.StepSelectingTime, session.StepReschedulingTime:
		return Result{Intent: SelectTime, Confidence: stepConfidence, Method: MethodStep, Entities: entities}
	}

	if c.external != nil {
		in, err := c.external.ClassifyIntent(ctx, text, Declared)
		switch {
		case err != nil:
			c.logger.Warn("external intent classifier failed", "error", err)
		case isDeclared(in) && in != Unknown:
			return Result{Intent: in, Confidence: externalConfidence, Method: MethodExternal, Entities: entities}
		default:
			c.logger.Debug("external intent ignored", "intent", string(in))
		}
	}

	return Result{Intent: Unknown, Confidence: defaultConfidence, Method: MethodDefault, Entities: entities}
}

func isDeclared(in Intent) bool {
	for _, d := range Declared {
		if d == in {
			return true
		}
	}
	return false
}
