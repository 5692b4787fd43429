package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumenandco/restoreflow/internal/config"
	"github.com/lumenandco/restoreflow/internal/queue"
	"github.com/lumenandco/restoreflow/internal/store"
)

type stubProcessor struct {
	err    error
	jobIDs []string
}

func (p *stubProcessor) ProcessJob(ctx context.Context, jobID string) error {
	p.jobIDs = append(p.jobIDs, jobID)
	return p.err
}

func newTestWorker(t *testing.T, processor jobProcessor) *Server {
	t.Helper()

	s, err := NewServer(
		log.New(io.Discard, "", 0),
		config.QueueConfig{Name: "default"},
		config.WorkerConfig{Concurrency: 1, MaxActiveJobs: 1},
		processor,
	)
	if err != nil {
		t.Fatalf("new worker server: %v", err)
	}
	return s
}

func processTask(jobID string) *asynq.Task {
	task, err := queue.NewProcessJobTask(queue.ProcessJobPayload{JobID: jobID, RequestedAt: time.Now()})
	if err != nil {
		panic(err)
	}
	return task
}

func TestHandleProcessJob(t *testing.T) {
	processor := &stubProcessor{}
	s := newTestWorker(t, processor)

	if err := s.handleProcessJob(context.Background(), processTask("job-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(processor.jobIDs) != 1 || processor.jobIDs[0] != "job-1" {
		t.Fatalf("unexpected processed jobs %v", processor.jobIDs)
	}
}

func TestHandleProcessJobSkipsMalformedPayload(t *testing.T) {
	s := newTestWorker(t, &stubProcessor{})

	err := s.handleProcessJob(context.Background(), asynq.NewTask(queue.TypeProcessJob, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload must skip retry, got %v", err)
	}
}

func TestHandleProcessJobSkipsUnknownJob(t *testing.T) {
	processor := &stubProcessor{err: fmt.Errorf("load job: %w", store.ErrJobNotFound)}
	s := newTestWorker(t, processor)

	err := s.handleProcessJob(context.Background(), processTask("gone"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("unknown job must skip retry, got %v", err)
	}
}

func TestHandleProcessJobRetriesTransientFailures(t *testing.T) {
	processor := &stubProcessor{err: errors.New("redis is down")}
	s := newTestWorker(t, processor)

	err := s.handleProcessJob(context.Background(), processTask("job-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient failure must stay retryable, got %v", err)
	}
}

func TestNewServerRequiresProcessor(t *testing.T) {
	if _, err := NewServer(log.New(io.Discard, "", 0), config.QueueConfig{}, config.WorkerConfig{}, nil); err == nil {
		t.Fatal("expected error for nil processor")
	}
}
