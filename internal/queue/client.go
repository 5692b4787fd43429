package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueProcessJob hands a job to the worker. The task ID is derived from
// the job ID, so enqueueing the same job twice (duplicate webhook delivery)
// collapses into one task.
func (c *Client) EnqueueProcessJob(ctx context.Context, jobID string) error {
	task, err := NewProcessJobTask(ProcessJobPayload{
		JobID:       jobID,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID("job:restore:"+jobID),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
