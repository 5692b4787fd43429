package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
)

var subjects = map[string]string{
	TemplateOrderConfirmed:      "Your Photo Restoration Order Confirmation",
	TemplateRestorationComplete: "Your Restored Photos Are Ready!",
	TemplateRestorationFailed:   "Issue with Your Photo Restoration",
}

type EmailConfig struct {
	APIKey         string
	BaseURL        string
	From           string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// EmailNotifier delivers templated emails through a Resend-compatible HTTP
// API. Transport failures are retried with capped exponential backoff.
type EmailNotifier struct {
	httpClient     *http.Client
	apiKey         string
	baseURL        string
	from           string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("email api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 1 * time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}

	return &EmailNotifier{
		httpClient:     &http.Client{Timeout: timeout},
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		from:           cfg.From,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}, nil
}

func (n *EmailNotifier) OrderConfirmed(ctx context.Context, email, jobID string, pkg domain.Package) error {
	return n.send(ctx, email, TemplateOrderConfirmed, map[string]any{
		"job_id":      jobID,
		"package":     pkg.Name,
		"photo_count": pkg.PhotoCount,
		"price_cents": pkg.PriceCents,
	})
}

func (n *EmailNotifier) RestorationComplete(ctx context.Context, email, jobID string, downloadLinks []string, failedCount int, expiresAt time.Time) error {
	return n.send(ctx, email, TemplateRestorationComplete, map[string]any{
		"job_id":         jobID,
		"download_links": downloadLinks,
		"failed_count":   failedCount,
		"expires_at":     expiresAt.UTC().Format(time.RFC3339),
	})
}

func (n *EmailNotifier) RestorationFailed(ctx context.Context, email, jobID, reason string) error {
	return n.send(ctx, email, TemplateRestorationFailed, map[string]any{
		"job_id": jobID,
		"reason": reason,
	})
}

func (n *EmailNotifier) send(ctx context.Context, to, template string, data map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"from":    n.from,
		"to":      []string{to},
		"subject": subjects[template],
		"text":    renderText(template, data),
		"tags": []map[string]string{
			{"name": "template", "value": template},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	backoff := n.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/emails", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build email request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+n.apiKey)

		resp, err := n.httpClient.Do(req)
		if err == nil && resp != nil {
			resp.Body.Close()
		}

		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = classifySendError(err, resp)
		if err == nil && resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// The API rejected the message; retrying the same payload
			// cannot succeed.
			break
		}
		if attempt == n.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > n.maxBackoff {
			backoff = n.maxBackoff
		}
	}

	return fmt.Errorf("email delivery failed template=%s: %w", template, lastErr)
}

// renderText builds the plain-text fallback body. The rich HTML templates
// live with the email provider, keyed by the template tag.
func renderText(template string, data map[string]any) string {
	var b strings.Builder
	switch template {
	case TemplateOrderConfirmed:
		fmt.Fprintf(&b, "Thanks for your order. Your restoration job is %v.\n", data["job_id"])
		fmt.Fprintf(&b, "Package: %v (%v photos).\n", data["package"], data["photo_count"])
	case TemplateRestorationComplete:
		fmt.Fprintf(&b, "Your restored photos for job %v are ready.\n", data["job_id"])
		if links, ok := data["download_links"].([]string); ok {
			for _, link := range links {
				fmt.Fprintf(&b, "%s\n", link)
			}
		}
		if failed, ok := data["failed_count"].(int); ok && failed > 0 {
			fmt.Fprintf(&b, "%d photo(s) could not be restored; we will follow up.\n", failed)
		}
		fmt.Fprintf(&b, "Links expire at %v.\n", data["expires_at"])
	case TemplateRestorationFailed:
		fmt.Fprintf(&b, "We could not restore the photos for job %v.\n", data["job_id"])
		fmt.Fprintf(&b, "Reason: %v. Your payment will be refunded.\n", data["reason"])
	}
	return b.String()
}

func classifySendError(err error, resp *http.Response) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("email request failed: no response")
	}
	return fmt.Errorf("email api returned status=%d", resp.StatusCode)
}
