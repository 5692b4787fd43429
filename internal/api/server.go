package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenandco/restoreflow/internal/domain"
	"github.com/lumenandco/restoreflow/internal/storage"
	"github.com/lumenandco/restoreflow/internal/store"
)

type Server struct {
	logger        *log.Logger
	creator       jobCreator
	jobStore      store.JobStore
	blobs         storage.BlobStore
	webhookSecret string
	rateLimiter   RateLimiter
	metrics       *metrics
	tracer        trace.Tracer
	mux           *http.ServeMux
}

// jobCreator is the orchestrator as the ingress sees it.
type jobCreator interface {
	CreateJob(ctx context.Context, event domain.PaymentEvent, sources []domain.ImageSource) (domain.Job, bool, error)
}

type Options struct {
	WebhookSecret string
	RateLimiter   RateLimiter
	Tracing       bool
}

func NewServer(logger *log.Logger, creator jobCreator, jobStore store.JobStore, blobs storage.BlobStore, opts Options) *Server {
	s := &Server{
		logger:        logger,
		creator:       creator,
		jobStore:      jobStore,
		blobs:         blobs,
		webhookSecret: opts.WebhookSecret,
		rateLimiter:   opts.RateLimiter,
		metrics:       newMetrics(),
		mux:           http.NewServeMux(),
	}
	if opts.Tracing {
		s.tracer = otel.Tracer("restoreflow/api")
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.metrics.withHTTPMetrics(handler)
	handler = s.withRateLimit(handler)
	handler = s.withTracing(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/payments/webhook", s.handlePaymentWebhook)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /v1/files/{key...}", s.handleGetFile)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePaymentWebhook turns a "payment succeeded" event into a restoration
// job. Redeliveries are safe: the order ID is the idempotency key, so the
// second delivery answers with the job the first one created.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = 1 << 20
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if s.webhookSecret != "" {
		if err := verifySignature(s.webhookSecret, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature), body); err != nil {
			s.metrics.webhookRejected.Inc()
			s.logger.Printf("payment webhook rejected err=%v", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "webhook verification failed"})
			return
		}
	}

	var event domain.PaymentEvent
	if err := decodeJSONBytes(body, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := event.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sources, err := s.loadStagedUploads(r.Context(), event.Uploads)
	if err != nil {
		s.logger.Printf("staged upload fetch failed order_id=%s err=%v", event.OrderID, err)
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "uploaded file is missing"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load uploaded files"})
		return
	}

	job, fresh, err := s.creator.CreateJob(r.Context(), event, sources)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrImageCountMismatch),
			errors.Is(err, domain.ErrNoImages),
			errors.Is(err, domain.ErrUnknownPackage):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			s.logger.Printf("create job failed order_id=%s err=%v", event.OrderID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		}
		return
	}

	if fresh {
		s.metrics.jobsCreated.Inc()
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Status,
		"duplicate": !fresh,
	})
}

// loadStagedUploads pulls the checkout-time uploads out of staging storage
// so the orchestrator receives bytes, not references.
func (s *Server) loadStagedUploads(ctx context.Context, uploads []domain.UploadRef) ([]domain.ImageSource, error) {
	sources := make([]domain.ImageSource, 0, len(uploads))
	for _, ref := range uploads {
		data, err := s.blobs.Get(ctx, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("load staged upload %s: %w", ref.Key, err)
		}
		sources = append(sources, domain.ImageSource{
			Name:     ref.Name,
			MimeType: ref.MimeType,
			Size:     int64(len(data)),
			Data:     data,
		})
	}
	return sources, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, ok, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email query parameter is required"})
		return
	}

	jobs, err := s.jobStore.ListJobsByEmail(r.Context(), email)
	if err != nil {
		s.logger.Printf("list jobs failed email=%s err=%v", email, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list jobs"})
		return
	}

	views := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	data, err := s.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}
		s.logger.Printf("fetch file failed key=%s err=%v", key, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load file"})
		return
	}

	w.Header().Set("Content-Type", contentTypeForPath(key))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}

// jobView is the customer-facing status document. Internal failure detail
// stays out of it; ErrorMessage is already customer-safe.
func jobView(job domain.Job) map[string]any {
	images := make([]map[string]any, 0, len(job.Images))
	for _, img := range job.Images {
		view := map[string]any{
			"id":            img.ID,
			"original_name": img.OriginalName,
			"status":        img.Status,
		}
		if img.RestoredURL != "" {
			view["restored_url"] = img.RestoredURL
		}
		images = append(images, view)
	}

	view := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"package_id": job.PackageID,
		"images":     images,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.ErrorMessage != "" {
		view["error_message"] = job.ErrorMessage
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func contentTypeForPath(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func decodeJSONBytes(body []byte, into any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
