package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/lumenandco/restoreflow/internal/config"
	"github.com/lumenandco/restoreflow/internal/notify"
	"github.com/lumenandco/restoreflow/internal/orchestrator"
	"github.com/lumenandco/restoreflow/internal/provider"
	"github.com/lumenandco/restoreflow/internal/storage"
	"github.com/lumenandco/restoreflow/internal/store"
	"github.com/lumenandco/restoreflow/internal/telemetry"
	"github.com/lumenandco/restoreflow/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "restoreflow-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	blobs, err := buildBlobStore(cfg.Storage)
	if err != nil {
		logger.Fatalf("build blob store: %v", err)
	}

	jobStore, closeStore, err := buildJobStore(cfg.Database)
	if err != nil {
		logger.Fatalf("build job store: %v", err)
	}
	defer closeStore()

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

	orch, err := orchestrator.New(logger, jobStore, blobs, prov, notifier, nil, orchestrator.Settings{
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

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, orch)
	if err != nil {
		logger.Fatalf("build worker: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s provider=%s policy=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		prov.Name(),
		cfg.Job.PartialPolicy,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
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
