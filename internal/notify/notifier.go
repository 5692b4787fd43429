package notify

import (
	"context"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
)

const (
	TemplateOrderConfirmed      = "order_confirmed"
	TemplateRestorationComplete = "restoration_complete"
	TemplateRestorationFailed   = "restoration_failed"
)

// Notifier sends customer emails. All methods are best-effort side effects:
// callers log failures and move on, a lost email never changes job state.
type Notifier interface {
	OrderConfirmed(ctx context.Context, email, jobID string, pkg domain.Package) error
	RestorationComplete(ctx context.Context, email, jobID string, downloadLinks []string, failedCount int, expiresAt time.Time) error
	RestorationFailed(ctx context.Context, email, jobID, reason string) error
}
