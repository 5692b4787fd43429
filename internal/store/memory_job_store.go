package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
)

// MemoryJobStore keeps jobs in process memory. Used by tests and single-node
// development runs; production uses PostgresJobStore.
type MemoryJobStore struct {
	mu       sync.RWMutex
	jobs     map[string]domain.Job
	byOrder  map[string]string
	sequence int
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]domain.Job),
		byOrder: make(map[string]string),
	}
}

func (s *MemoryJobStore) CreateJob(_ context.Context, job domain.Job) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.OrderID != "" {
		if existingID, ok := s.byOrder[job.OrderID]; ok {
			return copyJob(s.jobs[existingID]), false, nil
		}
	}

	s.sequence++
	s.jobs[job.ID] = copyJob(job)
	if job.OrderID != "" {
		s.byOrder[job.OrderID] = job.ID
	}
	return copyJob(job), true, nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return copyJob(job), true, nil
}

func (s *MemoryJobStore) GetJobByOrderID(_ context.Context, orderID string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return domain.Job{}, false, nil
	}
	return copyJob(s.jobs[id]), true, nil
}

func (s *MemoryJobStore) ListJobsByEmail(_ context.Context, email string) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Job
	for _, job := range s.jobs {
		if job.Email == email {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryJobStore) ClaimProcessing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("claim job %s: %w", id, ErrJobNotFound)
	}
	if job.Terminal() {
		return false, nil
	}

	job.Status = domain.JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return true, nil
}

func (s *MemoryJobStore) CompleteJob(_ context.Context, id string, completedAt time.Time) error {
	return s.finish(id, domain.JobStatusCompleted, "", completedAt)
}

func (s *MemoryJobStore) FailJob(_ context.Context, id string, errorMessage string, completedAt time.Time) error {
	return s.finish(id, domain.JobStatusFailed, errorMessage, completedAt)
}

func (s *MemoryJobStore) finish(id, status, errorMessage string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("finish job %s: %w", id, ErrJobNotFound)
	}
	if job.Terminal() {
		return nil
	}

	job.Status = status
	job.ErrorMessage = errorMessage
	done := completedAt.UTC()
	job.CompletedAt = &done
	job.UpdatedAt = done
	s.jobs[id] = job
	return nil
}

func (s *MemoryJobStore) UpdateImageResult(_ context.Context, jobID, imageID, restoredURL, restoredKey string) error {
	return s.updateImage(jobID, imageID, func(img *domain.Image) {
		img.Status = domain.ImageStatusRestored
		img.RestoredURL = restoredURL
		img.RestoredKey = restoredKey
		img.Error = ""
	})
}

func (s *MemoryJobStore) UpdateImageError(_ context.Context, jobID, imageID, message string) error {
	return s.updateImage(jobID, imageID, func(img *domain.Image) {
		img.Status = domain.ImageStatusFailed
		img.Error = message
	})
}

func (s *MemoryJobStore) updateImage(jobID, imageID string, apply func(*domain.Image)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update image on job %s: %w", jobID, ErrJobNotFound)
	}
	if job.Terminal() {
		return nil
	}

	for i := range job.Images {
		if job.Images[i].ID == imageID {
			apply(&job.Images[i])
			job.UpdatedAt = time.Now().UTC()
			s.jobs[jobID] = job
			return nil
		}
	}
	return fmt.Errorf("image %s not found on job %s", imageID, jobID)
}

func copyJob(job domain.Job) domain.Job {
	out := job
	out.Images = make([]domain.Image, len(job.Images))
	copy(out.Images, job.Images)
	if job.CompletedAt != nil {
		done := *job.CompletedAt
		out.CompletedAt = &done
	}
	return out
}
