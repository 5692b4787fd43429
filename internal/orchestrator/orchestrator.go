package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenandco/restoreflow/internal/domain"
	"github.com/lumenandco/restoreflow/internal/notify"
	"github.com/lumenandco/restoreflow/internal/provider"
	"github.com/lumenandco/restoreflow/internal/storage"
	"github.com/lumenandco/restoreflow/internal/store"
)

// ErrImageTimeout means one image's poll loop hit its wall-clock deadline.
// It counts against that image's retry budget like any transient failure.
var ErrImageTimeout = errors.New("image processing timed out")

// Enqueuer hands a created job off to background processing.
type Enqueuer interface {
	EnqueueProcessJob(ctx context.Context, jobID string) error
}

type Settings struct {
	MaxRetries       int
	RetryDelay       time.Duration
	PollInterval     time.Duration
	ImageTimeout     time.Duration
	ImageConcurrency int
	PartialPolicy    domain.PartialPolicy
	DownloadLinkTTL  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MaxRetries < 1 {
		s.MaxRetries = 3
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 5 * time.Second
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 3 * time.Second
	}
	if s.ImageTimeout <= 0 {
		s.ImageTimeout = 5 * time.Minute
	}
	if s.ImageConcurrency < 1 {
		s.ImageConcurrency = 2
	}
	if s.PartialPolicy == "" {
		s.PartialPolicy = domain.PartialBestEffort
	}
	if s.DownloadLinkTTL <= 0 {
		s.DownloadLinkTTL = 7 * 24 * time.Hour
	}
	return s
}

// Orchestrator drives a job from payment to its terminal state: originals
// into object storage, each image through the provider with bounded retry,
// restored bytes back into storage, and the aggregate outcome onto the job
// record. It is the only component that transitions job status.
type Orchestrator struct {
	logger   *log.Logger
	jobs     store.JobStore
	blobs    storage.BlobStore
	provider provider.Provider
	notifier notify.Notifier
	enqueuer Enqueuer
	settings Settings
	now      func() time.Time
}

func New(
	logger *log.Logger,
	jobs store.JobStore,
	blobs storage.BlobStore,
	prov provider.Provider,
	notifier notify.Notifier,
	enqueuer Enqueuer,
	settings Settings,
) (*Orchestrator, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if prov == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	return &Orchestrator{
		logger:   logger,
		jobs:     jobs,
		blobs:    blobs,
		provider: prov,
		notifier: notifier,
		enqueuer: enqueuer,
		settings: settings.withDefaults(),
		now:      time.Now,
	}, nil
}

// CreateJob validates the order, uploads the originals, persists the job in
// state paid and hands it to background processing. Creation is synchronous;
// processing is not. The returned bool is false when the order ID already
// had a job, in which case that job is returned untouched.
func (o *Orchestrator) CreateJob(ctx context.Context, event domain.PaymentEvent, sources []domain.ImageSource) (domain.Job, bool, error) {
	pkg, ok := domain.PackageByID(event.PackageID)
	if !ok {
		return domain.Job{}, false, fmt.Errorf("%w: %s", domain.ErrUnknownPackage, event.PackageID)
	}
	if len(sources) == 0 {
		return domain.Job{}, false, domain.ErrNoImages
	}
	if len(sources) != pkg.PhotoCount {
		return domain.Job{}, false, fmt.Errorf(
			"%w: package %s expects %d photos, got %d",
			domain.ErrImageCountMismatch, pkg.ID, pkg.PhotoCount, len(sources),
		)
	}

	if event.OrderID != "" {
		if existing, ok, err := o.jobs.GetJobByOrderID(ctx, event.OrderID); err != nil {
			return domain.Job{}, false, fmt.Errorf("look up order %s: %w", event.OrderID, err)
		} else if ok {
			return existing, false, nil
		}
	}

	now := o.now().UTC()
	images := make([]domain.Image, 0, len(sources))
	uploadedKeys := make([]string, 0, len(sources))
	for _, src := range sources {
		obj, err := o.blobs.Put(ctx, src.Data, src.Name, storage.CategoryOriginal)
		if err != nil {
			_ = storage.DeleteAll(ctx, o.blobs, uploadedKeys)
			return domain.Job{}, false, fmt.Errorf("upload original %s: %w", src.Name, err)
		}
		uploadedKeys = append(uploadedKeys, obj.Key)
		images = append(images, domain.Image{
			ID:           uuid.NewString(),
			OriginalName: src.Name,
			Size:         src.Size,
			MimeType:     src.MimeType,
			Status:       domain.ImageStatusPending,
			OriginalURL:  obj.URL,
			OriginalKey:  obj.Key,
		})
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		OrderID:     event.OrderID,
		Email:       event.Email,
		PackageID:   event.PackageID,
		ServiceType: event.ServiceType,
		Status:      domain.JobStatusPaid,
		Images:      images,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, fresh, err := o.jobs.CreateJob(ctx, job)
	if err != nil {
		_ = storage.DeleteAll(ctx, o.blobs, uploadedKeys)
		return domain.Job{}, false, fmt.Errorf("persist job: %w", err)
	}
	if !fresh {
		// Lost the race against a concurrent redelivery; drop our uploads.
		_ = storage.DeleteAll(ctx, o.blobs, uploadedKeys)
		return created, false, nil
	}

	if err := o.notifier.OrderConfirmed(ctx, job.Email, job.ID, pkg); err != nil {
		o.logger.Printf("order confirmation email failed job_id=%s err=%v", job.ID, err)
	}

	if o.enqueuer != nil {
		if err := o.enqueuer.EnqueueProcessJob(ctx, job.ID); err != nil {
			return created, true, fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
	}

	return created, true, nil
}

type imageOutcome struct {
	imageID string
	url     string
	err     error
	fatal   bool
}

// ProcessJob drives every image of the job to a terminal per-image outcome,
// then aggregates them into the job's terminal status. Safe to re-run: a
// terminal job is a no-op and images already restored are skipped.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) error {
	job, ok, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !ok {
		return fmt.Errorf("load job %s: %w", jobID, store.ErrJobNotFound)
	}
	if job.Terminal() {
		o.logger.Printf("job already terminal job_id=%s status=%s", job.ID, job.Status)
		return nil
	}
	if len(job.Images) == 0 {
		return o.failJob(ctx, job, "order contained no photos")
	}

	claimed, err := o.jobs.ClaimProcessing(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		o.logger.Printf("job not claimable job_id=%s", job.ID)
		return nil
	}

	outcomes := o.processImages(ctx, job)

	for _, out := range outcomes {
		if out.fatal {
			o.logger.Printf("job aborted job_id=%s image_id=%s err=%v", job.ID, out.imageID, out.err)
			return o.failJob(ctx, job, "restoration service is unavailable")
		}
	}

	var (
		links     []string
		firstErr  error
		failCount int
	)
	for _, out := range outcomes {
		if out.err != nil {
			failCount++
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		links = append(links, out.url)
	}

	switch {
	case failCount == 0:
		return o.completeJob(ctx, job, links, 0)
	case len(links) > 0 && o.settings.PartialPolicy == domain.PartialBestEffort:
		o.logger.Printf("job partially restored job_id=%s ok=%d failed=%d", job.ID, len(links), failCount)
		return o.completeJob(ctx, job, links, failCount)
	case len(links) > 0:
		o.logger.Printf("job failed under all-or-nothing policy job_id=%s ok=%d failed=%d", job.ID, len(links), failCount)
		return o.failJob(ctx, job, "some photos could not be restored")
	default:
		o.logger.Printf("job failed job_id=%s err=%v", job.ID, firstErr)
		return o.failJob(ctx, job, representativeReason(firstErr))
	}
}

// processImages runs the per-image pipelines under a bounded worker pool and
// blocks until every image has a terminal outcome. Images restored by an
// earlier interrupted run are carried over, not re-submitted.
func (o *Orchestrator) processImages(ctx context.Context, job domain.Job) []imageOutcome {
	outcomes := make([]imageOutcome, len(job.Images))
	sem := make(chan struct{}, o.settings.ImageConcurrency)
	var wg sync.WaitGroup

	for i := range job.Images {
		img := job.Images[i]
		if img.Status == domain.ImageStatusRestored && img.RestoredURL != "" {
			outcomes[i] = imageOutcome{imageID: img.ID, url: img.RestoredURL}
			continue
		}

		wg.Add(1)
		go func(i int, img domain.Image) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = o.processImage(ctx, job, img)
		}(i, img)
	}

	wg.Wait()
	return outcomes
}

// processImage runs one image's upload -> restore -> poll -> fetch -> store
// pipeline with bounded fixed-delay retry. Provider misconfiguration aborts
// without retry; everything else burns one attempt.
func (o *Orchestrator) processImage(ctx context.Context, job domain.Job, img domain.Image) imageOutcome {
	var lastErr error

	for attempt := 1; attempt <= o.settings.MaxRetries; attempt++ {
		obj, err := o.restoreOnce(ctx, img)
		if err == nil {
			if err := o.jobs.UpdateImageResult(ctx, job.ID, img.ID, obj.URL, obj.Key); err != nil {
				// The restoration happened but its outcome cannot be
				// recorded; stop rather than do unrecordable work.
				o.logger.Printf("persist image result failed job_id=%s image_id=%s err=%v", job.ID, img.ID, err)
				return imageOutcome{imageID: img.ID, err: fmt.Errorf("persist image result: %w", err)}
			}
			return imageOutcome{imageID: img.ID, url: obj.URL}
		}

		if errors.Is(err, provider.ErrNotConfigured) {
			return imageOutcome{imageID: img.ID, err: err, fatal: true}
		}

		lastErr = err
		o.logger.Printf(
			"image attempt failed job_id=%s image_id=%s attempt=%d/%d err=%v",
			job.ID, img.ID, attempt, o.settings.MaxRetries, err,
		)

		if attempt < o.settings.MaxRetries {
			select {
			case <-ctx.Done():
				return imageOutcome{imageID: img.ID, err: ctx.Err()}
			case <-time.After(o.settings.RetryDelay):
			}
		}
	}

	if err := o.jobs.UpdateImageError(ctx, job.ID, img.ID, representativeReason(lastErr)); err != nil {
		o.logger.Printf("persist image error failed job_id=%s image_id=%s err=%v", job.ID, img.ID, err)
	}
	return imageOutcome{imageID: img.ID, err: lastErr}
}

// restoreOnce is a single attempt of the per-image pipeline. The poll loop
// checks a wall-clock deadline on every iteration so an unresponsive
// provider cannot stall the job.
func (o *Orchestrator) restoreOnce(ctx context.Context, img domain.Image) (storage.Object, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.settings.ImageTimeout)
	defer cancel()

	data, err := o.blobs.Get(attemptCtx, img.OriginalURL)
	if err != nil {
		return storage.Object{}, fmt.Errorf("fetch original: %w", err)
	}

	ref, err := o.provider.Submit(attemptCtx, data, img.OriginalName)
	if err != nil {
		return storage.Object{}, fmt.Errorf("submit to provider: %w", err)
	}

	if err := o.provider.Start(attemptCtx, ref); err != nil {
		return storage.Object{}, fmt.Errorf("start restoration: %w", err)
	}

	deadline := o.now().Add(o.settings.ImageTimeout)
	for {
		status, err := o.provider.PollStatus(attemptCtx, ref)
		if err != nil {
			return storage.Object{}, fmt.Errorf("poll status: %w", err)
		}

		if status == provider.StatusCompleted {
			break
		}
		if status == provider.StatusFailed {
			return storage.Object{}, fmt.Errorf("provider reported failure for %s", ref)
		}
		if !o.now().Before(deadline) {
			return storage.Object{}, ErrImageTimeout
		}

		select {
		case <-attemptCtx.Done():
			return storage.Object{}, fmt.Errorf("%w: %v", ErrImageTimeout, attemptCtx.Err())
		case <-time.After(o.settings.PollInterval):
		}
	}

	restored, err := o.provider.FetchResult(attemptCtx, ref)
	if err != nil {
		return storage.Object{}, fmt.Errorf("fetch result: %w", err)
	}

	obj, err := o.blobs.Put(attemptCtx, restored, "restored_"+img.OriginalName, storage.CategoryRestored)
	if err != nil {
		return storage.Object{}, fmt.Errorf("store restored image: %w", err)
	}
	return obj, nil
}

// completeJob persists the terminal status before any notification goes out,
// so the record never trails what the customer was told.
func (o *Orchestrator) completeJob(ctx context.Context, job domain.Job, links []string, failedCount int) error {
	completedAt := o.now().UTC()
	if err := o.jobs.CompleteJob(ctx, job.ID, completedAt); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	expiresAt := completedAt.Add(o.settings.DownloadLinkTTL)
	if err := o.notifier.RestorationComplete(ctx, job.Email, job.ID, links, failedCount, expiresAt); err != nil {
		o.logger.Printf("completion email failed job_id=%s err=%v", job.ID, err)
	}

	o.logger.Printf("job completed job_id=%s links=%d failed=%d", job.ID, len(links), failedCount)
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, job domain.Job, reason string) error {
	if _, err := o.jobs.ClaimProcessing(ctx, job.ID); err != nil {
		return fmt.Errorf("claim job %s before failing: %w", job.ID, err)
	}
	if err := o.jobs.FailJob(ctx, job.ID, reason, o.now().UTC()); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	if err := o.notifier.RestorationFailed(ctx, job.Email, job.ID, reason); err != nil {
		o.logger.Printf("failure email failed job_id=%s err=%v", job.ID, err)
	}

	o.logger.Printf("job failed job_id=%s reason=%s", job.ID, reason)
	return nil
}

// representativeReason maps an internal error onto customer-safe wording.
// Provider responses and stack detail stay in the logs.
func representativeReason(err error) string {
	switch {
	case err == nil:
		return "restoration failed"
	case errors.Is(err, ErrImageTimeout):
		return "restoration timed out"
	case errors.Is(err, provider.ErrTransient):
		return "restoration service was unavailable"
	default:
		return "restoration failed"
	}
}
