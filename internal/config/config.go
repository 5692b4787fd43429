package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumenandco/restoreflow/internal/domain"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Provider ProviderConfig
	Notify   NotifyConfig
	Job      JobConfig
	Trace    TraceConfig
}

type APIConfig struct {
	Addr             string
	WebhookSecret    string
	RateLimitPerMin  int
	RateLimitEnabled bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

const (
	StorageBackendLocal = "local"
	StorageBackendMinio = "minio"
)

type StorageConfig struct {
	Backend       string
	LocalDir      string
	PublicBaseURL string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
}

type DatabaseConfig struct {
	DSN string
}

type ProviderConfig struct {
	Name   string
	APIKey string
	APIURL string
}

type NotifyConfig struct {
	APIKey  string
	BaseURL string
	From    string
	Enabled bool
}

type JobConfig struct {
	MaxRetries       int
	RetryDelay       time.Duration
	PollInterval     time.Duration
	ImageTimeout     time.Duration
	ImageConcurrency int
	PartialPolicy    domain.PartialPolicy
	DownloadLinkTTL  time.Duration
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() (Config, error) {
	policy, err := domain.ParsePartialPolicy(env("JOB_PARTIAL_POLICY", ""))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		API: APIConfig{
			Addr:             env("RESTOREFLOW_API_ADDR", ":8080"),
			WebhookSecret:    env("PAYMENT_WEBHOOK_SECRET", ""),
			RateLimitPerMin:  envInt("RATE_LIMIT_REQUESTS", 10),
			RateLimitEnabled: envBool("RATE_LIMIT_ENABLED", false),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", maxInt(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", maxInt(1, runtime.NumCPU()/2)),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(env("STORAGE_BACKEND", StorageBackendLocal)),
			LocalDir:      env("STORAGE_LOCAL_DIR", "./.restoreflow-uploads"),
			PublicBaseURL: env("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/v1/files"),
			Endpoint:      env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:     env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:        env("MINIO_BUCKET", "restoreflow-photos"),
			UseSSL:        envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Provider: ProviderConfig{
			Name:   strings.ToLower(env("AI_PROVIDER", "vanceai")),
			APIKey: env("AI_PROVIDER_API_KEY", ""),
			APIURL: env("AI_PROVIDER_API_URL", ""),
		},
		Notify: NotifyConfig{
			APIKey:  env("EMAIL_API_KEY", ""),
			BaseURL: env("EMAIL_API_URL", "https://api.resend.com"),
			From:    env("EMAIL_FROM", "restoreflow <no-reply@restoreflow.dev>"),
			Enabled: envBool("EMAIL_ENABLED", false),
		},
		Job: JobConfig{
			MaxRetries:       envInt("JOB_MAX_RETRIES", 3),
			RetryDelay:       envDuration("JOB_RETRY_DELAY", 5*time.Second),
			PollInterval:     envDuration("JOB_POLL_INTERVAL", 3*time.Second),
			ImageTimeout:     envDuration("JOB_IMAGE_TIMEOUT", 5*time.Minute),
			ImageConcurrency: envInt("JOB_IMAGE_CONCURRENCY", 2),
			PartialPolicy:    policy,
			DownloadLinkTTL:  envDuration("JOB_DOWNLOAD_LINK_TTL", 7*24*time.Hour),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate surfaces misconfiguration at startup. A provider with missing
// credentials must fail here, not mid-batch.
func (c Config) validate() error {
	switch c.Storage.Backend {
	case StorageBackendLocal, StorageBackendMinio:
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.Job.MaxRetries < 1 {
		return fmt.Errorf("JOB_MAX_RETRIES must be at least 1")
	}
	if c.Job.ImageConcurrency < 1 {
		return fmt.Errorf("JOB_IMAGE_CONCURRENCY must be at least 1")
	}
	if c.Notify.Enabled && strings.TrimSpace(c.Notify.APIKey) == "" {
		return fmt.Errorf("EMAIL_API_KEY is required when EMAIL_ENABLED=true")
	}
	return nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
