package store

import (
	"context"
	"errors"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore is the durable record of restoration jobs. It supports concurrent
// readers; status transitions go through the guarded methods below so that
// terminal states stay terminal and only one worker drives a job.
type JobStore interface {
	// CreateJob persists a new job. When a job with the same order ID
	// already exists the existing job is returned with created=false;
	// a redelivered payment event must never produce a second job.
	CreateJob(ctx context.Context, job domain.Job) (created domain.Job, fresh bool, err error)

	GetJob(ctx context.Context, id string) (domain.Job, bool, error)
	GetJobByOrderID(ctx context.Context, orderID string) (domain.Job, bool, error)
	ListJobsByEmail(ctx context.Context, email string) ([]domain.Job, error)

	// ClaimProcessing transitions paid -> processing. A job already in
	// processing is re-claimable (supervisory retry after a crash); a
	// terminal job is not, and claimed=false is returned.
	ClaimProcessing(ctx context.Context, id string) (claimed bool, err error)

	// CompleteJob and FailJob move a processing job to its terminal state.
	// Calls against a job already terminal are no-ops.
	CompleteJob(ctx context.Context, id string, completedAt time.Time) error
	FailJob(ctx context.Context, id string, errorMessage string, completedAt time.Time) error

	UpdateImageResult(ctx context.Context, jobID, imageID, restoredURL, restoredKey string) error
	UpdateImageError(ctx context.Context, jobID, imageID, message string) error
}
