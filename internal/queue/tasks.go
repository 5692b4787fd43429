package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeProcessJob = "job:restore"

type ProcessJobPayload struct {
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewProcessJobTask(payload ProcessJobPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessJob, body), nil
}

func ParseProcessJobPayload(task *asynq.Task) (ProcessJobPayload, error) {
	var payload ProcessJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessJobPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
