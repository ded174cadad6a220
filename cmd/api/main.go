package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachcall/partner-api/internal/analysis"
	"github.com/coachcall/partner-api/internal/cache"
	"github.com/coachcall/partner-api/internal/config"
	httpserver "github.com/coachcall/partner-api/internal/http"
	"github.com/coachcall/partner-api/internal/http/handlers"
	"github.com/coachcall/partner-api/internal/queue"
	"github.com/coachcall/partner-api/internal/repository"
	"github.com/coachcall/partner-api/internal/service"
	"github.com/coachcall/partner-api/internal/webhook"
	"github.com/coachcall/partner-api/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[partner-api] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	analysisClient := analysis.NewHTTPClient(analysis.Config{
		APIKey:     cfg.AnalysisAPIKey,
		BaseURL:    cfg.AnalysisBaseURL,
		Timeout:    time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.AnalysisMaxRetries,
	})
	if !analysisClient.Available() {
		logger.Printf("ANALYSIS_API_KEY not configured, jobs will fail as analysis_unavailable")
	}

	statusCache := cache.NewStatusCache(cache.Config{
		TTL:        time.Duration(cfg.StatusCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.StatusCacheMaxEntries,
	})

	jobsService := service.NewJobsService(repo, producer)
	api := handlers.NewAPI(jobsService, statusCache)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		PartnerAPIKeys: cfg.PartnerAPIKeys,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		dispatcher := webhook.NewDispatcher(webhook.Config{
			Secret:      cfg.WebhookSecret,
			Timeout:     time.Duration(cfg.WebhookTimeoutMS) * time.Millisecond,
			MaxAttempts: cfg.WebhookMaxAttempts,
			Backoff:     time.Duration(cfg.WebhookBackoffMS) * time.Millisecond,
		}, repo, logger)

		processor := worker.NewProcessor(worker.Config{
			Concurrency:     cfg.WorkerConcurrency,
			AnalysisTimeout: time.Duration(cfg.AnalysisTimeoutMS) * time.Millisecond,
		}, consumer, repo, analysisClient, dispatcher, logger)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started concurrency=%d", cfg.WorkerConcurrency)
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: 3,
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			local := queue.NewLocalQueue(512, 3, logger)
			baseProducer = local
			consumer = local
		} else {
			logger.Printf("redis streams queue initialized")
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d queue_capacity=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchQueueCapacity,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}
