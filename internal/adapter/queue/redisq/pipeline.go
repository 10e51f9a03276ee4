package redisq

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// Named queues of the two-stage pipeline.
const (
	TaskQueueName       = "taskQueue"
	DownloaderQueueName = "downloaderQueue"
)

// Pipeline implements domain.Queue over the two named queues.
type Pipeline struct {
	Tasks     *Queue
	Downloads *Queue
}

// NewPipeline builds both queue handles on one Redis client.
func NewPipeline(rdb *redis.Client) *Pipeline {
	return &Pipeline{
		Tasks:     New(rdb, TaskQueueName),
		Downloads: New(rdb, DownloaderQueueName),
	}
}

// EnqueueTask enqueues a stage-one job keyed by the fingerprint.
func (p *Pipeline) EnqueueTask(ctx domain.Context, payload domain.TaskJobPayload) (bool, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("op=pipeline.enqueue_task: %w", err)
	}
	added, err := p.Tasks.Enqueue(ctx, payload.JobID, b, 0)
	if err != nil {
		return false, err
	}
	if added {
		observability.EnqueueJob(TaskQueueName)
	}
	return added, nil
}

// EnqueueDownload enqueues a stage-two job under the same fingerprint.
// Duplicate webhooks collapse into the first enqueue.
func (p *Pipeline) EnqueueDownload(ctx domain.Context, payload domain.DownloadJobPayload) (bool, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("op=pipeline.enqueue_download: %w", err)
	}
	added, err := p.Downloads.Enqueue(ctx, payload.JobID, b, 0)
	if err != nil {
		return false, err
	}
	if added {
		observability.EnqueueJob(DownloaderQueueName)
	}
	return added, nil
}
