package config

import (
	"testing"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Fatalf("unexpected api addr %s", cfg.API.Addr)
	}
	if cfg.Queue.RedisAddr != "localhost:6379" || cfg.Queue.Name != "default" {
		t.Fatalf("unexpected queue config %+v", cfg.Queue)
	}
	if cfg.Storage.Backend != StorageBackendLocal {
		t.Fatalf("unexpected storage backend %s", cfg.Storage.Backend)
	}
	if cfg.Job.MaxRetries != 3 || cfg.Job.RetryDelay != 5*time.Second || cfg.Job.PollInterval != 3*time.Second {
		t.Fatalf("unexpected job tuning %+v", cfg.Job)
	}
	if cfg.Job.ImageTimeout != 5*time.Minute || cfg.Job.ImageConcurrency != 2 {
		t.Fatalf("unexpected job tuning %+v", cfg.Job)
	}
	if cfg.Job.PartialPolicy != domain.PartialBestEffort {
		t.Fatalf("unexpected partial policy %s", cfg.Job.PartialPolicy)
	}
	if cfg.Job.DownloadLinkTTL != 7*24*time.Hour {
		t.Fatalf("unexpected link ttl %s", cfg.Job.DownloadLinkTTL)
	}
	if cfg.Provider.Name != "vanceai" {
		t.Fatalf("unexpected provider %s", cfg.Provider.Name)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RESTOREFLOW_API_ADDR", ":9999")
	t.Setenv("JOB_MAX_RETRIES", "5")
	t.Setenv("JOB_RETRY_DELAY", "250ms")
	t.Setenv("JOB_PARTIAL_POLICY", "all_or_nothing")
	t.Setenv("STORAGE_BACKEND", "MINIO")
	t.Setenv("AI_PROVIDER", "hotpot")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Fatalf("unexpected api addr %s", cfg.API.Addr)
	}
	if cfg.Job.MaxRetries != 5 || cfg.Job.RetryDelay != 250*time.Millisecond {
		t.Fatalf("unexpected job tuning %+v", cfg.Job)
	}
	if cfg.Job.PartialPolicy != domain.PartialAllOrNothing {
		t.Fatalf("unexpected partial policy %s", cfg.Job.PartialPolicy)
	}
	if cfg.Storage.Backend != StorageBackendMinio {
		t.Fatalf("backend should be lowercased, got %s", cfg.Storage.Backend)
	}
	if cfg.Provider.Name != "hotpot" {
		t.Fatalf("unexpected provider %s", cfg.Provider.Name)
	}
}

func TestLoadRejectsMisconfiguration(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "ftp")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported storage backend")
	}

	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("JOB_PARTIAL_POLICY", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown partial policy")
	}

	t.Setenv("JOB_PARTIAL_POLICY", "best_effort")
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("EMAIL_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when email is enabled without a key")
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("JOB_MAX_RETRIES", "many")
	t.Setenv("JOB_RETRY_DELAY", "soon")
	t.Setenv("RATE_LIMIT_ENABLED", "yep")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Job.MaxRetries != 3 {
		t.Fatalf("expected fallback retries, got %d", cfg.Job.MaxRetries)
	}
	if cfg.Job.RetryDelay != 5*time.Second {
		t.Fatalf("expected fallback delay, got %s", cfg.Job.RetryDelay)
	}
	if cfg.API.RateLimitEnabled {
		t.Fatal("expected fallback rate limit flag")
	}
}
