package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestProcessJobTaskRoundTrip(t *testing.T) {
	requested := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	task, err := NewProcessJobTask(ProcessJobPayload{JobID: "job-42", RequestedAt: requested})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TypeProcessJob {
		t.Fatalf("unexpected task type %s", task.Type())
	}

	payload, err := ParseProcessJobPayload(task)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.JobID != "job-42" {
		t.Fatalf("unexpected job id %s", payload.JobID)
	}
	if !payload.RequestedAt.Equal(requested) {
		t.Fatalf("unexpected requested at %s", payload.RequestedAt)
	}
}

func TestParseProcessJobPayloadRejectsGarbage(t *testing.T) {
	task := asynq.NewTask(TypeProcessJob, []byte("not json"))
	if _, err := ParseProcessJobPayload(task); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
