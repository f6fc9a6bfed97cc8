package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/dialogue"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// JobStore records async job status for both the publisher and the worker.
type JobStore interface {
	dialogue.JobRecorder
	dialogue.JobUpdater
}

// Pipeline is the async message path: the API enqueues through Publisher,
// Worker consumes and Jobs reports status.
type Pipeline struct {
	Publisher *dialogue.Publisher
	Worker    *dialogue.Worker
	Jobs      JobStore
	Backend   string
}

// BuildPipeline uses SQS and DynamoDB when a queue URL and AWS config are
// present, otherwise an in-process queue whose worker must run in the same
// binary as the publisher.
func BuildPipeline(cfg *appconfig.Config, awsCfg *aws.Config, processor dialogue.Processor, logger *logging.Logger) *Pipeline {
	logger = orDefault(logger)
	opts := []dialogue.WorkerOption{dialogue.WithWorkerCount(cfg.WorkerCount)}

	if !cfg.UseMemoryQueue && awsCfg != nil && strings.TrimSpace(cfg.ConversationQueueURL) != "" {
		queue := dialogue.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.ConversationQueueURL)
		jobs := dialogue.NewDynamoJobStore(dynamodb.NewFromConfig(*awsCfg), cfg.ConversationJobsTable, logger)
		logger.Info("conversation pipeline: sqs", "queue_url", cfg.ConversationQueueURL, "jobs_table", cfg.ConversationJobsTable)
		return &Pipeline{
			Publisher: dialogue.NewPublisher(queue, jobs, logger),
			Worker:    dialogue.NewWorker(processor, queue, jobs, logger, append(opts, dialogue.WithReceiveWaitSeconds(20))...),
			Jobs:      jobs,
			Backend:   "sqs",
		}
	}

	queue := dialogue.NewMemoryQueue(256)
	jobs := dialogue.NewMemoryJobStore()
	logger.Info("conversation pipeline: memory")
	return &Pipeline{
		Publisher: dialogue.NewPublisher(queue, jobs, logger),
		Worker:    dialogue.NewWorker(processor, queue, jobs, logger, opts...),
		Jobs:      jobs,
		Backend:   "memory",
	}
}
