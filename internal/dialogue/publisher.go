package dialogue

import (
	"context"
	"fmt"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Publisher enqueues messages for the conversation worker.
type Publisher struct {
	queue  queueClient
	jobs   JobRecorder
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher. jobs may be nil when job
// status is not tracked.
func NewPublisher(queue queueClient, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("dialogue: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, jobs: jobs, logger: logger}
}

// Enqueue records a pending job (when tracking) and publishes it. It returns the job id.
func (p *Publisher) Enqueue(ctx context.Context, jobID string, req Request) (string, error) {
	payload, body, err := encodePayload(queuePayload{ID: jobID, Request: req, TrackStatus: p.jobs != nil})
	if err != nil {
		return "", err
	}
	if p.jobs != nil {
		if err := p.jobs.PutPending(ctx, &JobRecord{JobID: payload.ID, SessionID: req.SessionID, Request: &req}); err != nil {
			return "", err
		}
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("dialogue: failed to enqueue job: %w", err)
	}
	p.logger.Debug("dialogue job enqueued", "job_id", payload.ID, "session_id", req.SessionID)
	return payload.ID, nil
}
