package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status is a provider-side restoration state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobRef identifies one submitted image on the provider's side.
type JobRef string

var (
	// ErrNotConfigured means the selected provider is missing credentials.
	// Construction fails with it; it is never retried.
	ErrNotConfigured = errors.New("provider is not configured")

	// ErrResultUnavailable is returned by FetchResult before the provider
	// reports completion.
	ErrResultUnavailable = errors.New("restoration result is not available")

	// ErrTransient marks provider failures worth retrying: network errors
	// and 5xx responses.
	ErrTransient = errors.New("transient provider error")
)

// Provider is the uniform contract over restoration backends.
type Provider interface {
	Name() string
	Submit(ctx context.Context, data []byte, filename string) (JobRef, error)
	Start(ctx context.Context, ref JobRef) error
	PollStatus(ctx context.Context, ref JobRef) (Status, error)
	FetchResult(ctx context.Context, ref JobRef) ([]byte, error)
}

type Config struct {
	Name   string
	APIKey string
	APIURL string
}

// New selects a backend by name. Missing credentials for a real vendor fail
// here so misconfiguration surfaces at startup, not mid-batch.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "vanceai":
		return NewVanceAI(cfg.APIKey, cfg.APIURL)
	case "hotpot":
		return NewHotpot(cfg.APIKey, cfg.APIURL)
	case "fake":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}

func classifyHTTPError(op string, err error, resp *http.Response) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: %w: status=%d", op, ErrTransient, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status=%d", op, resp.StatusCode)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
