package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
	"github.com/lumenandco/restoreflow/internal/provider"
	"github.com/lumenandco/restoreflow/internal/storage"
	"github.com/lumenandco/restoreflow/internal/store"
)

type completeCall struct {
	jobID       string
	links       []string
	failedCount int
	expiresAt   time.Time
}

type failCall struct {
	jobID  string
	reason string
}

// captureNotifier records every notification instead of sending it.
type captureNotifier struct {
	mu        sync.Mutex
	confirmed []string
	completes []completeCall
	failures  []failCall
}

func (n *captureNotifier) OrderConfirmed(ctx context.Context, email, jobID string, pkg domain.Package) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, jobID)
	return nil
}

func (n *captureNotifier) RestorationComplete(ctx context.Context, email, jobID string, links []string, failedCount int, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completes = append(n.completes, completeCall{jobID: jobID, links: links, failedCount: failedCount, expiresAt: expiresAt})
	return nil
}

func (n *captureNotifier) RestorationFailed(ctx context.Context, email, jobID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, failCall{jobID: jobID, reason: reason})
	return nil
}

type captureEnqueuer struct {
	mu     sync.Mutex
	jobIDs []string
}

func (e *captureEnqueuer) EnqueueProcessJob(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobIDs = append(e.jobIDs, jobID)
	return nil
}

// scriptedProvider delegates to a Fake but fails Submit for chosen filenames
// and counts submits per filename.
type scriptedProvider struct {
	*provider.Fake

	mu        sync.Mutex
	failNames map[string]bool
	submits   map[string]int
}

func newScriptedProvider(failNames ...string) *scriptedProvider {
	fails := make(map[string]bool, len(failNames))
	for _, name := range failNames {
		fails[name] = true
	}
	return &scriptedProvider{
		Fake:      provider.NewFake(),
		failNames: fails,
		submits:   make(map[string]int),
	}
}

func (p *scriptedProvider) Submit(ctx context.Context, data []byte, filename string) (provider.JobRef, error) {
	p.mu.Lock()
	p.submits[filename]++
	fail := p.failNames[filename]
	p.mu.Unlock()

	if fail {
		return "", fmt.Errorf("scripted outage for %s: %w", filename, provider.ErrTransient)
	}
	return p.Fake.Submit(ctx, data, filename)
}

func (p *scriptedProvider) submitCount(filename string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits[filename]
}

// misconfiguredProvider simulates late discovery of missing credentials.
type misconfiguredProvider struct{}

func (misconfiguredProvider) Name() string { return "broken" }
func (misconfiguredProvider) Submit(ctx context.Context, data []byte, filename string) (provider.JobRef, error) {
	return "", fmt.Errorf("submit: %w", provider.ErrNotConfigured)
}
func (misconfiguredProvider) Start(ctx context.Context, ref provider.JobRef) error { return nil }
func (misconfiguredProvider) PollStatus(ctx context.Context, ref provider.JobRef) (provider.Status, error) {
	return provider.StatusProcessing, nil
}
func (misconfiguredProvider) FetchResult(ctx context.Context, ref provider.JobRef) ([]byte, error) {
	return nil, provider.ErrResultUnavailable
}

type fixture struct {
	orch     *Orchestrator
	jobs     *store.MemoryJobStore
	blobs    *storage.FileStore
	notifier *captureNotifier
	enqueuer *captureEnqueuer
}

func fastSettings() Settings {
	return Settings{
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
		PollInterval:     time.Millisecond,
		ImageTimeout:     time.Second,
		ImageConcurrency: 2,
		PartialPolicy:    domain.PartialBestEffort,
		DownloadLinkTTL:  48 * time.Hour,
	}
}

func newFixture(t *testing.T, prov provider.Provider, settings Settings) *fixture {
	t.Helper()

	blobs, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/v1/files")
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	jobs := store.NewMemoryJobStore()
	notifier := &captureNotifier{}
	enqueuer := &captureEnqueuer{}

	orch, err := New(log.New(io.Discard, "", 0), jobs, blobs, prov, notifier, enqueuer, settings)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &fixture{orch: orch, jobs: jobs, blobs: blobs, notifier: notifier, enqueuer: enqueuer}
}

func testEvent(orderID string) domain.PaymentEvent {
	return domain.PaymentEvent{
		OrderID:     orderID,
		Email:       "ada@example.com",
		PackageID:   "3-photos",
		ServiceType: domain.ServiceRestoration,
	}
}

func testSources(names ...string) []domain.ImageSource {
	sources := make([]domain.ImageSource, 0, len(names))
	for _, name := range names {
		sources = append(sources, domain.ImageSource{
			Name:     name,
			MimeType: "image/jpeg",
			Size:     int64(len("bytes-of-" + name)),
			Data:     []byte("bytes-of-" + name),
		})
	}
	return sources
}

func TestCreateJobUploadsAndEnqueues(t *testing.T) {
	f := newFixture(t, provider.NewFake(), fastSettings())
	ctx := context.Background()

	job, fresh, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if !fresh {
		t.Fatal("expected a fresh job")
	}
	if job.Status != domain.JobStatusPaid {
		t.Fatalf("expected paid, got %s", job.Status)
	}
	if len(job.Images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(job.Images))
	}
	for _, img := range job.Images {
		if img.Status != domain.ImageStatusPending {
			t.Fatalf("expected pending image, got %s", img.Status)
		}
		data, err := f.blobs.Get(ctx, img.OriginalURL)
		if err != nil {
			t.Fatalf("original not stored: %v", err)
		}
		if string(data) != "bytes-of-"+img.OriginalName {
			t.Fatalf("stored bytes do not match upload for %s", img.OriginalName)
		}
	}

	if len(f.enqueuer.jobIDs) != 1 || f.enqueuer.jobIDs[0] != job.ID {
		t.Fatalf("expected one enqueue for %s, got %v", job.ID, f.enqueuer.jobIDs)
	}
	if len(f.notifier.confirmed) != 1 || f.notifier.confirmed[0] != job.ID {
		t.Fatalf("expected one confirmation, got %v", f.notifier.confirmed)
	}
}

func TestCreateJobIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t, provider.NewFake(), fastSettings())
	ctx := context.Background()

	first, fresh, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil || !fresh {
		t.Fatalf("first create: fresh=%v err=%v", fresh, err)
	}

	second, fresh, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if fresh {
		t.Fatal("redelivered event must not create a second job")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the original job back, got %s vs %s", second.ID, first.ID)
	}
	if len(f.enqueuer.jobIDs) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(f.enqueuer.jobIDs))
	}
	if len(f.notifier.confirmed) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(f.notifier.confirmed))
	}
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t, provider.NewFake(), fastSettings())
	ctx := context.Background()

	if _, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg")); !errors.Is(err, domain.ErrImageCountMismatch) {
		t.Fatalf("expected ErrImageCountMismatch, got %v", err)
	}
	if _, _, err := f.orch.CreateJob(ctx, testEvent("order-2"), nil); !errors.Is(err, domain.ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}

	event := testEvent("order-3")
	event.PackageID = "99-photos"
	if _, _, err := f.orch.CreateJob(ctx, event, testSources("a.jpg")); !errors.Is(err, domain.ErrUnknownPackage) {
		t.Fatalf("expected ErrUnknownPackage, got %v", err)
	}

	if _, ok, err := f.jobs.GetJobByOrderID(ctx, "order-1"); err != nil || ok {
		t.Fatalf("rejected order must not persist a job: ok=%v err=%v", ok, err)
	}
	if len(f.enqueuer.jobIDs) != 0 {
		t.Fatalf("rejected order must not enqueue, got %v", f.enqueuer.jobIDs)
	}
}

func TestProcessJobHappyPath(t *testing.T) {
	f := newFixture(t, provider.NewFake(), fastSettings())
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, ok, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("load job: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	for _, img := range got.Images {
		if img.Status != domain.ImageStatusRestored {
			t.Fatalf("expected restored image, got %s", img.Status)
		}
		if img.RestoredURL == "" {
			t.Fatal("expected restored url")
		}
		restored, err := f.blobs.Get(ctx, img.RestoredURL)
		if err != nil {
			t.Fatalf("restored blob missing: %v", err)
		}
		// The fake provider echoes the submitted bytes back.
		if string(restored) != "bytes-of-"+img.OriginalName {
			t.Fatalf("restored bytes do not match for %s", img.OriginalName)
		}
	}

	if len(f.notifier.completes) != 1 {
		t.Fatalf("expected one completion email, got %d", len(f.notifier.completes))
	}
	call := f.notifier.completes[0]
	if len(call.links) != 3 || call.failedCount != 0 {
		t.Fatalf("unexpected completion call %+v", call)
	}
	if want := got.CompletedAt.Add(48 * time.Hour); !call.expiresAt.Equal(want) {
		t.Fatalf("expected links to expire at %s, got %s", want, call.expiresAt)
	}
	if len(f.notifier.failures) != 0 {
		t.Fatalf("unexpected failure emails %v", f.notifier.failures)
	}
}

func TestProcessJobRetriesThenFails(t *testing.T) {
	prov := newScriptedProvider("a.jpg", "b.jpg", "c.jpg")
	f := newFixture(t, prov, fastSettings())
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if got := prov.submitCount(name); got != 3 {
			t.Fatalf("expected 3 attempts for %s, got %d", name, got)
		}
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "restoration service was unavailable" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
	for _, img := range got.Images {
		if img.Status != domain.ImageStatusFailed {
			t.Fatalf("expected failed image, got %s", img.Status)
		}
		if img.Error == "" {
			t.Fatal("expected per-image error message")
		}
	}

	if len(f.notifier.failures) != 1 {
		t.Fatalf("expected one failure email, got %d", len(f.notifier.failures))
	}
	if f.notifier.failures[0].reason != "restoration service was unavailable" {
		t.Fatalf("unexpected reason %q", f.notifier.failures[0].reason)
	}
	if len(f.notifier.completes) != 0 {
		t.Fatalf("unexpected completion emails %v", f.notifier.completes)
	}
}

func TestProcessJobImageTimeout(t *testing.T) {
	prov := provider.NewFake()
	prov.NeverComplete = true

	settings := fastSettings()
	settings.MaxRetries = 1
	settings.ImageTimeout = 50 * time.Millisecond

	f := newFixture(t, prov, settings)
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "restoration timed out" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
}

func TestProcessJobPartialBestEffort(t *testing.T) {
	prov := newScriptedProvider("bad.jpg")
	f := newFixture(t, prov, fastSettings())
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "bad.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("best effort should complete, got %s", got.Status)
	}

	var restored, failed int
	for _, img := range got.Images {
		switch img.Status {
		case domain.ImageStatusRestored:
			restored++
		case domain.ImageStatusFailed:
			failed++
		}
	}
	if restored != 2 || failed != 1 {
		t.Fatalf("expected 2 restored and 1 failed, got %d/%d", restored, failed)
	}

	if len(f.notifier.completes) != 1 {
		t.Fatalf("expected one completion email, got %d", len(f.notifier.completes))
	}
	call := f.notifier.completes[0]
	if len(call.links) != 2 || call.failedCount != 1 {
		t.Fatalf("unexpected completion call %+v", call)
	}
}

func TestProcessJobPartialAllOrNothing(t *testing.T) {
	prov := newScriptedProvider("bad.jpg")
	settings := fastSettings()
	settings.PartialPolicy = domain.PartialAllOrNothing

	f := newFixture(t, prov, settings)
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "bad.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("all-or-nothing should fail, got %s", got.Status)
	}
	if got.ErrorMessage != "some photos could not be restored" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
	if len(f.notifier.failures) != 1 {
		t.Fatalf("expected one failure email, got %d", len(f.notifier.failures))
	}
}

func TestProcessJobProviderMisconfigurationAborts(t *testing.T) {
	f := newFixture(t, misconfiguredProvider{}, fastSettings())
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "restoration service is unavailable" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
}

func TestProcessJobTerminalIsNoOp(t *testing.T) {
	f := newFixture(t, provider.NewFake(), fastSettings())
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if len(f.notifier.completes) != 1 {
		t.Fatalf("expected one completion email, got %d", len(f.notifier.completes))
	}

	// A redelivered task for a finished job must change nothing.
	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("second process: %v", err)
	}
	if len(f.notifier.completes) != 1 {
		t.Fatalf("terminal rerun must not notify again, got %d", len(f.notifier.completes))
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestProcessJobUnknownJob(t *testing.T) {
	f := newFixture(t, provider.NewFake(), fastSettings())

	err := f.orch.ProcessJob(context.Background(), "no-such-job")
	if !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestProcessJobResumeSkipsRestoredImages(t *testing.T) {
	prov := newScriptedProvider()
	f := newFixture(t, prov, fastSettings())
	ctx := context.Background()

	job, _, err := f.orch.CreateJob(ctx, testEvent("order-1"), testSources("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// Simulate a crashed earlier run that had restored the first image.
	done := job.Images[0]
	if err := f.jobs.UpdateImageResult(ctx, job.ID, done.ID, "http://localhost:8080/v1/files/restored/done.jpg", "restored/done.jpg"); err != nil {
		t.Fatalf("seed restored image: %v", err)
	}

	if err := f.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	if got := prov.submitCount(done.OriginalName); got != 0 {
		t.Fatalf("restored image must not be re-submitted, got %d submits", got)
	}
	for _, name := range []string{job.Images[1].OriginalName, job.Images[2].OriginalName} {
		if got := prov.submitCount(name); got != 1 {
			t.Fatalf("expected one submit for %s, got %d", name, got)
		}
	}

	got, _, err := f.jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if len(f.notifier.completes) != 1 || len(f.notifier.completes[0].links) != 3 {
		t.Fatalf("expected completion with 3 links, got %+v", f.notifier.completes)
	}
}

func TestRepresentativeReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "restoration failed"},
		{fmt.Errorf("wrap: %w", ErrImageTimeout), "restoration timed out"},
		{fmt.Errorf("wrap: %w", provider.ErrTransient), "restoration service was unavailable"},
		{errors.New("provider reported failure for ref-1"), "restoration failed"},
	}
	for _, tc := range cases {
		if got := representativeReason(tc.err); got != tc.want {
			t.Fatalf("representativeReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if got := representativeReason(errors.New("raw socket detail")); strings.Contains(got, "socket") {
		t.Fatalf("reason leaked internal detail: %q", got)
	}
}
