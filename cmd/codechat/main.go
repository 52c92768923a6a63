// Command codechat runs the code-aware RAG backend: webhook intake, the
// ingestion worker, and the query API in one process.
//
// Usage:
//
//	codechat serve            run the HTTP server and queue worker (default)
//	codechat ingest           one-shot bulk ingestion of configured repositories
//	codechat sync FROM TO     incremental sync of the first configured repository
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/modelearth/codechat/internal/chunker"
	"github.com/modelearth/codechat/internal/config"
	"github.com/modelearth/codechat/internal/embedding"
	"github.com/modelearth/codechat/internal/ingest"
	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/query"
	"github.com/modelearth/codechat/internal/queue"
	"github.com/modelearth/codechat/internal/server"
	"github.com/modelearth/codechat/internal/tokenizer"
	"github.com/modelearth/codechat/internal/vectorstore"
	"github.com/modelearth/codechat/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "codechat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Observability.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Observability.Sentry.DSN,
			Environment: cfg.Observability.Sentry.Environment,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	tracer, err := observability.NewTracerProvider(observability.TracerConfig{
		ServiceName:  "codechat",
		Environment:  cfg.Observability.Sentry.Environment,
		OTLPEndpoint: cfg.Observability.Tracing.Endpoint,
		SamplingRate: cfg.Observability.Tracing.SampleRate,
		Enabled:      cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background()) //nolint:errcheck

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("codechat")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tokenizer encoding and embedding dimensions are pinned in config and
	// asserted here, once, for the whole process.
	counter, err := tokenizer.NewCounter(cfg.Embedding.Encoding)
	if err != nil {
		return fmt.Errorf("init tokenizer (%s): %w", cfg.Embedding.Encoding, err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	if embedder.Dimensions() != cfg.Embedding.Dimensions {
		return fmt.Errorf("embedder dimensions %d do not match configured %d",
			embedder.Dimensions(), cfg.Embedding.Dimensions)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var chunkOpts []chunker.Option
	if cfg.Ingest.OverlapTokens > 0 {
		chunkOpts = append(chunkOpts, chunker.WithOverlap(cfg.Ingest.OverlapTokens))
	}
	ck := chunker.New(counter, chunkOpts...)

	var archiver *ingest.Archiver
	if cfg.Archive.Enabled {
		archiver, err = ingest.NewArchiver(ctx, cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Endpoint)
		if err != nil {
			return fmt.Errorf("init archiver: %w", err)
		}
	}

	journal := observability.NewErrorJournal(cfg.Ingest.ErrorJournal)
	cloner := ingest.NewCloner(cfg.Ingest.CloneBaseURL, cfg.Ingest.CloneTimeout)
	ingester := ingest.NewIngester(cloner, ck, embedder, store, archiver, journal, logger, metrics, ingest.Options{
		MaxWorkers:  cfg.Ingest.MaxWorkers,
		MaxFileSize: cfg.Ingest.MaxFileSize,
	})
	syncDriver := ingest.NewSyncDriver(ingester, journal, logger)

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "serve":
		return serve(ctx, cfg, logger, metrics, store, embedder, cloner, ingester, syncDriver)
	case "ingest":
		return bulkIngest(ctx, cfg, logger, ingester)
	case "sync":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: codechat sync FROM_REV TO_REV")
		}
		return oneShotSync(ctx, cfg, cloner, syncDriver, os.Args[2], os.Args[3])
	default:
		return fmt.Errorf("unknown mode %q (serve, ingest, sync)", mode)
	}
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY is required for the openai provider")
		}
		inner = embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions,
			embedding.WithBatchSize(cfg.Embedding.BatchSize))
	case "mock":
		inner = embedding.NewMock(cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	if cfg.Embedding.Hybrid {
		return embedding.NewHybrid(inner, embedding.HybridWeights{
			Content: cfg.Embedding.HybridContentWeight,
			Summary: cfg.Embedding.HybridSummaryWeight,
			Context: cfg.Embedding.HybridContextWeight,
		}), nil
	}
	return inner, nil
}

func buildStore(cfg *config.Config) (vectorstore.Store, error) {
	var store vectorstore.Store
	var err error

	switch cfg.VectorStore.Backend {
	case "qdrant":
		dsn := cfg.VectorStore.DSN
		if cfg.VectorStore.APIKey != "" {
			dsn += "?api_key=" + cfg.VectorStore.APIKey
		}
		store, err = vectorstore.NewQdrant(dsn, cfg.VectorStore.Index, cfg.Embedding.Dimensions)
	case "sqlite":
		store, err = vectorstore.NewSQLiteStore(cfg.VectorStore.Index)
	case "memory":
		store = vectorstore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
	if err != nil {
		return nil, err
	}
	return vectorstore.WithTimeout(store, cfg.VectorStore.Timeout), nil
}

func serve(
	ctx context.Context,
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
	store vectorstore.Store,
	embedder embedding.Embedder,
	cloner *ingest.Cloner,
	ingester *ingest.Ingester,
	syncDriver *ingest.SyncDriver,
) error {
	var q queue.Queue
	var idempotency queue.IdempotencyTable
	var locker queue.RepoLocker

	if cfg.Queue.URL != "" {
		redisQueue, err := queue.NewRedisQueue(ctx, queue.RedisQueueConfig{
			URL:              cfg.Queue.URL,
			Stream:           cfg.Queue.Stream,
			Group:            cfg.Queue.Group,
			IdempotencyTable: cfg.Queue.IdempotencyTable,
			MaxAttempts:      cfg.Queue.MaxAttempts,
		})
		if err != nil {
			return fmt.Errorf("init queue: %w", err)
		}
		defer redisQueue.Close()
		q, idempotency, locker = redisQueue, redisQueue, redisQueue
	} else {
		logger.Warn("QUEUE_URL not set, using in-process queue (jobs do not survive restarts)")
		memQueue := queue.NewMemoryQueue(cfg.Queue.MaxAttempts)
		q, idempotency, locker = memQueue, memQueue, memQueue
	}

	worker := queue.NewWorker(q, locker, cloner, ingester, syncDriver, logger, metrics)
	workerErr := make(chan error, 1)
	go func() { workerErr <- worker.Run(ctx) }()

	planner := query.NewPlanner()
	executor := query.NewExecutor(store, embedder, logger, metrics)
	composer := query.NewComposer(query.NewOpenAIGenerator(cfg.LLM.APIKey, cfg.LLM.Model))
	webhookHandler := webhook.NewHandler(cfg.Webhook.Secret, cfg.Webhook.Branch,
		q, idempotency, cfg.Queue.IdempotencyTTL, logger, metrics)

	srv := server.New(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		planner, executor, composer, store, webhookHandler, logger, metrics,
		cfg.Observability.Metrics.Enabled, cfg.Observability.Metrics.Path,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case err := <-workerErr:
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// bulkIngest runs a full ingestion of every configured repository at its
// default branch head, serially.
func bulkIngest(ctx context.Context, cfg *config.Config, logger *observability.Logger, ingester *ingest.Ingester) error {
	if len(cfg.Repositories) == 0 {
		return fmt.Errorf("no repositories configured")
	}
	for _, repo := range cfg.Repositories {
		namespace := repo.NamespaceOrDefault()
		logger.Info("ingesting repository", "repository", repo.Name, "namespace", namespace)
		if err := ingester.Run(ctx, repo.Name, "", namespace); err != nil {
			return fmt.Errorf("ingest %s: %w", repo.Name, err)
		}
	}
	return nil
}

// oneShotSync applies an incremental sync of the first configured
// repository between two revisions.
func oneShotSync(ctx context.Context, cfg *config.Config, cloner *ingest.Cloner, syncDriver *ingest.SyncDriver, fromRev, toRev string) error {
	if len(cfg.Repositories) == 0 {
		return fmt.Errorf("no repositories configured")
	}
	repo := cfg.Repositories[0]

	dir, _, err := cloner.Clone(ctx, repo.Name, toRev)
	if err != nil {
		return fmt.Errorf("clone for sync: %w", err)
	}
	defer os.RemoveAll(dir)

	plan, err := syncDriver.ComputePlan(ctx, dir, fromRev, toRev)
	if err != nil {
		return fmt.Errorf("compute plan: %w", err)
	}
	return syncDriver.Apply(ctx, chunker.RepoContext{
		Repository: repo.Name,
		Ref:        toRev,
		Namespace:  repo.NamespaceOrDefault(),
	}, dir, plan)
}
