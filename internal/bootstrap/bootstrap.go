// Package bootstrap wires infrastructure to use cases for both binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docquery/internal/config"
	"github.com/kirillkom/docquery/internal/core/ports"
	"github.com/kirillkom/docquery/internal/core/usecase"
	"github.com/kirillkom/docquery/internal/index"
	"github.com/kirillkom/docquery/internal/infrastructure/chunking"
	"github.com/kirillkom/docquery/internal/infrastructure/extractor"
	"github.com/kirillkom/docquery/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docquery/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docquery/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docquery/internal/infrastructure/rerank/tei"
	"github.com/kirillkom/docquery/internal/infrastructure/resilience"
	sessionmemory "github.com/kirillkom/docquery/internal/infrastructure/sessionstore/memory"
	sessionredis "github.com/kirillkom/docquery/internal/infrastructure/sessionstore/redis"
	"github.com/kirillkom/docquery/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docquery/internal/infrastructure/tokenizer"
	"github.com/kirillkom/docquery/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue    *nats.Queue
	Repo     ports.DocumentRepository
	Index    *index.Manager
	Executor *resilience.Executor

	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	BatchUC   ports.BatchReader
	DeleteUC  ports.DocumentDeleter
	QueryUC   *usecase.QueryUseCase
	Sessions  *usecase.ConversationManager
	Enricher  *usecase.PassageEnricher

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	indexManager := index.NewManager(vectors, logger)

	var rerankModel ports.RerankerModel
	if cfg.RerankerURL != "" {
		rerankModel = tei.New(cfg.RerankerURL)
	}
	reranker := usecase.NewReranker(rerankModel, cfg.RAGRerankTopN, cfg.RAGTopK)

	sessionStore, closeSessions := newSessionStore(ctx, cfg, logger)
	conversations := usecase.NewConversationManager(
		sessionStore,
		generator,
		tokenizer.New(),
		logger,
		time.Duration(cfg.SessionTTLSeconds)*time.Second,
		detectTokenBudget(ctx, generator, cfg, logger),
	)

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	textExtractor := extractor.NewExtractor(storage)
	enricher := usecase.NewPassageEnricher(generator, logger, cfg.EnrichmentEnabled)

	ingestUC := usecase.NewIngestUseCase(repo, storage, queue, logger)
	processUC := usecase.NewProcessUseCase(repo, textExtractor, chunker, enricher, embedder, indexManager, logger)
	batchUC := usecase.NewBatchUseCase(repo)
	deleteUC := usecase.NewDeleteUseCase(repo, storage, indexManager, logger)
	queryUC := usecase.NewQueryUseCase(
		conversations,
		embedder,
		indexManager,
		reranker,
		generator,
		logger,
		usecase.QueryConfig{
			HybridCandidates: cfg.RAGHybridCandidates,
			Fusion: usecase.FusionConfig{
				K:    cfg.RAGFusionRRFK,
				TopK: cfg.RAGTopK,
			},
		},
	)

	// Best effort: pre-load the generation model so the first query does not
	// pay its load latency.
	warmCtx, cancelWarm := context.WithTimeout(ctx, 30*time.Second)
	if err := generator.Warm(warmCtx); err != nil {
		logger.Warn("model_warmup_failed", "error", err)
	}
	cancelWarm()

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:    queue,
		Repo:     repo,
		Index:    indexManager,
		Executor: executor,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		BatchUC:   batchUC,
		DeleteUC:  deleteUC,
		QueryUC:   queryUC,
		Sessions:  conversations,
		Enricher:  enricher,

		closeFn: func() {
			queue.Close()
			closeSessions()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// newSessionStore prefers redis when configured, so sessions survive restarts
// and are shared across api replicas. Without an address the in-process store
// is used.
func newSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.SessionStore, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("session_store", "backend", "memory")
		return sessionmemory.New(), func() {}
	}

	store := sessionredis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis_unreachable_using_memory_sessions", "addr", cfg.RedisAddr, "error", err)
		_ = store.Close()
		return sessionmemory.New(), func() {}
	}
	logger.Info("session_store", "backend", "redis", "addr", cfg.RedisAddr)
	return store, func() { _ = store.Close() }
}

// detectTokenBudget asks the model for its context window and budgets half of
// it for conversation history; the configured fallback covers models that do
// not report a window.
func detectTokenBudget(ctx context.Context, generator *ollama.Generator, cfg config.Config, logger *slog.Logger) int {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	window, err := generator.ContextWindow(probeCtx)
	if err != nil || window <= 0 {
		window = cfg.ContextWindowFallback
		logger.Warn("context_window_fallback", "window", window, "error", err)
	} else {
		logger.Info("context_window_detected", "window", window)
	}
	return window / 2
}
