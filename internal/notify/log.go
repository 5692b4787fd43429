package notify

import (
	"context"
	"log"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
)

// LogNotifier writes notifications to the process log instead of sending
// email. Default in development when no email API key is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) OrderConfirmed(_ context.Context, email, jobID string, pkg domain.Package) error {
	n.Logger.Printf("notify template=%s to=%s job_id=%s package=%s", TemplateOrderConfirmed, email, jobID, pkg.ID)
	return nil
}

func (n LogNotifier) RestorationComplete(_ context.Context, email, jobID string, downloadLinks []string, failedCount int, expiresAt time.Time) error {
	n.Logger.Printf(
		"notify template=%s to=%s job_id=%s links=%d failed=%d expires_at=%s",
		TemplateRestorationComplete, email, jobID, len(downloadLinks), failedCount, expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func (n LogNotifier) RestorationFailed(_ context.Context, email, jobID, reason string) error {
	n.Logger.Printf("notify template=%s to=%s job_id=%s reason=%s", TemplateRestorationFailed, email, jobID, reason)
	return nil
}
