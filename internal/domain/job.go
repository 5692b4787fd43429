package domain

import (
	"time"
)

const (
	JobStatusPending    = "pending"
	JobStatusPaid       = "paid"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"

	ImageStatusPending  = "pending"
	ImageStatusRestored = "restored"
	ImageStatusFailed   = "failed"

	ServiceRestoration  = "restoration"
	ServiceColorization = "colorization"
	ServiceFull         = "restoration_colorization"
)

// Job is one customer order's unit of restoration work. The job store is the
// only writer of these records and the orchestrator is the only component
// allowed to transition Status.
type Job struct {
	ID           string
	OrderID      string
	Email        string
	PackageID    string
	ServiceType  string
	Status       string
	ErrorMessage string
	Images       []Image
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Image is one photo within a Job. Images have no lifecycle outside their Job.
type Image struct {
	ID           string
	OriginalName string
	Size         int64
	MimeType     string
	Status       string
	OriginalURL  string
	OriginalKey  string
	RestoredURL  string
	RestoredKey  string
	Error        string
}

// Terminal reports whether the job has reached a final state. Terminal jobs
// are never mutated again.
func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func (i Image) Terminal() bool {
	return i.Status == ImageStatusRestored || i.Status == ImageStatusFailed
}

// ImageSource carries the bytes of one uploaded photo into job creation.
type ImageSource struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

func ValidServiceType(serviceType string) bool {
	switch serviceType {
	case ServiceRestoration, ServiceColorization, ServiceFull:
		return true
	}
	return false
}
