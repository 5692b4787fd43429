package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenandco/restoreflow/internal/config"
	"github.com/lumenandco/restoreflow/internal/queue"
	"github.com/lumenandco/restoreflow/internal/store"
)

// jobProcessor is the orchestrator as the worker sees it.
type jobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

type Server struct {
	logger    *log.Logger
	server    *asynq.Server
	sem       chan struct{}
	processor jobProcessor
	metrics   *metrics
	tracer    trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	processor jobProcessor,
) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("job processor is required")
	}

	maxActive := workerCfg.MaxActiveJobs
	if maxActive < 1 {
		maxActive = 1
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:       make(chan struct{}, maxActive),
		processor: processor,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("restoreflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessJob, s.handleProcessJob)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessJob(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "error"

	payload, err := queue.ParseProcessJobPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_job", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("job.id", payload.JobID))
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("Working... job_id=%s requested_at=%s", payload.JobID, payload.RequestedAt.Format(time.RFC3339))

	if err := s.processor.ProcessJob(ctx, payload.JobID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job processing failed")
		if errors.Is(err, store.ErrJobNotFound) {
			// A job row that never existed cannot appear on retry.
			return fmt.Errorf("process job: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("process job: %w", err)
	}

	outcome = "ok"
	span.SetStatus(codes.Ok, "processed")
	s.logger.Printf("Processed job_id=%s duration=%s", payload.JobID, time.Since(startedAt).Round(time.Millisecond))
	return nil
}
