package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lumenandco/restoreflow/internal/api"
	"github.com/lumenandco/restoreflow/internal/config"
	"github.com/lumenandco/restoreflow/internal/notify"
	"github.com/lumenandco/restoreflow/internal/orchestrator"
	"github.com/lumenandco/restoreflow/internal/provider"
	"github.com/lumenandco/restoreflow/internal/queue"
	"github.com/lumenandco/restoreflow/internal/ratelimit"
	"github.com/lumenandco/restoreflow/internal/storage"
	"github.com/lumenandco/restoreflow/internal/store"
	"github.com/lumenandco/restoreflow/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "restoreflow-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}

	blobs, err := buildBlobStore(cfg.Storage)
	if err != nil {
		logger.Fatalf("build blob store: %v", err)
	}

	jobStore, closeStore, err := buildJobStore(cfg.Database)
	if err != nil {
		logger.Fatalf("build job store: %v", err)
	}
	defer closeStore()

	// Construct the provider even though the API never calls it: a missing
	// API key must kill the process at startup, not the first batch.
	prov, err := provider.New(provider.Config{
		Name:   cfg.Provider.Name,
		APIKey: cfg.Provider.APIKey,
		APIURL: cfg.Provider.APIURL,
	})
	if err != nil {
		logger.Fatalf("build provider: %v", err)
	}

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		logger.Fatalf("build notifier: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	orch, err := orchestrator.New(logger, jobStore, blobs, prov, notifier, queueClient, orchestrator.Settings{
		MaxRetries:       cfg.Job.MaxRetries,
		RetryDelay:       cfg.Job.RetryDelay,
		PollInterval:     cfg.Job.PollInterval,
		ImageTimeout:     cfg.Job.ImageTimeout,
		ImageConcurrency: cfg.Job.ImageConcurrency,
		PartialPolicy:    cfg.Job.PartialPolicy,
		DownloadLinkTTL:  cfg.Job.DownloadLinkTTL,
	})
	if err != nil {
		logger.Fatalf("build orchestrator: %v", err)
	}

	var limiter api.RateLimiter
	if cfg.API.RateLimitEnabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitPerMin, time.Minute, "")
		if err != nil {
			logger.Fatalf("build rate limiter: %v", err)
		}
	}

	app := api.NewServer(logger, orch, jobStore, blobs, api.Options{
		WebhookSecret: cfg.API.WebhookSecret,
		RateLimiter:   limiter,
		Tracing:       cfg.Trace.Exporter != "none",
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s provider=%s storage=%s", cfg.API.Addr, prov.Name(), cfg.Storage.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func buildBlobStore(cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendMinio:
		client, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return client, nil
	default:
		return storage.NewFileStore(cfg.LocalDir, cfg.PublicBaseURL)
	}
}

func buildJobStore(cfg config.DatabaseConfig) (store.JobStore, func(), error) {
	if cfg.DSN == "" {
		return store.NewMemoryJobStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func buildNotifier(cfg config.NotifyConfig, logger *log.Logger) (notify.Notifier, error) {
	if !cfg.Enabled {
		return notify.LogNotifier{Logger: logger}, nil
	}
	return notify.NewEmailNotifier(notify.EmailConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		From:    cfg.From,
	})
}
