package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenandco/restoreflow/internal/id"
)

// Fake is a deterministic in-process backend: it returns the submitted bytes
// unchanged once a short synthetic delay has elapsed. Failure knobs let tests
// script outages without a network.
type Fake struct {
	mu   sync.Mutex
	jobs map[JobRef]*fakeJob

	// Delay is how long a submitted image reports processing before
	// completing. Zero completes on the first poll.
	Delay time.Duration

	// FailSubmit makes every Submit return a transient error.
	FailSubmit bool

	// FailRestore makes every submitted image end in StatusFailed.
	FailRestore bool

	// NeverComplete pins every image at StatusProcessing forever.
	NeverComplete bool
}

type fakeJob struct {
	data      []byte
	filename  string
	started   bool
	startedAt time.Time
	failed    bool
}

func NewFake() *Fake {
	return &Fake{jobs: make(map[JobRef]*fakeJob)}
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) Submit(ctx context.Context, data []byte, filename string) (JobRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.FailSubmit {
		return "", fmt.Errorf("fake submit: %w: scripted outage", ErrTransient)
	}

	ref := JobRef("fake-" + id.NewToken())
	buf := make([]byte, len(data))
	copy(buf, data)

	f.mu.Lock()
	f.jobs[ref] = &fakeJob{data: buf, filename: filename, failed: f.FailRestore}
	f.mu.Unlock()

	return ref, nil
}

func (f *Fake) Start(ctx context.Context, ref JobRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[ref]
	if !ok {
		return fmt.Errorf("fake start: unknown job %s", ref)
	}
	job.started = true
	job.startedAt = time.Now()
	return nil
}

func (f *Fake) PollStatus(ctx context.Context, ref JobRef) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[ref]
	if !ok {
		return "", fmt.Errorf("fake status: unknown job %s", ref)
	}
	if !job.started {
		return StatusProcessing, nil
	}
	if job.failed {
		return StatusFailed, nil
	}
	if f.NeverComplete || time.Since(job.startedAt) < f.Delay {
		return StatusProcessing, nil
	}
	return StatusCompleted, nil
}

func (f *Fake) FetchResult(ctx context.Context, ref JobRef) ([]byte, error) {
	status, err := f.PollStatus(ctx, ref)
	if err != nil {
		return nil, err
	}
	if status != StatusCompleted {
		return nil, fmt.Errorf("fake result: %w", ErrResultUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(f.jobs[ref].data))
	copy(out, f.jobs[ref].data)
	return out, nil
}
