package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/docquery/internal/bootstrap"
	"github.com/kirillkom/docquery/internal/config"
	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/infrastructure/resilience"
	"github.com/kirillkom/docquery/internal/observability/logging"
	"github.com/kirillkom/docquery/internal/observability/metrics"
)

const processTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app.Enricher.SetFallbackHook(func() {
		workerMetrics.RecordEnrichmentFallback("worker")
	})
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIngestTasks(ctx, func(handlerCtx context.Context, job domain.IngestJob) error {
		if !job.EnqueuedAt.IsZero() {
			workerMetrics.ObserveQueueLag("worker", time.Since(job.EnqueuedAt))
		}

		workerMetrics.StartDocument()
		start := time.Now()

		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		err := app.Executor.Execute(processCtx, "worker.process_document", func(callCtx context.Context) error {
			return app.ProcessUC.ProcessTask(callCtx, job)
		}, resilience.DefaultClassifier)

		workerMetrics.FinishDocument("worker", time.Since(start), err)
		if err != nil {
			return err
		}

		if doc, docErr := app.Repo.GetByID(processCtx, job.DocumentID); docErr == nil {
			workerMetrics.ObserveChunksIndexed("worker", doc.ChunkCount)
		}

		// Fold the new chunks into this worker's keyword snapshot; api
		// replicas pick them up on their own refresh cycle.
		if refreshErr := app.Index.RefreshKeyword(processCtx); refreshErr != nil {
			logger.Warn("keyword_refresh_failed", "document_id", job.DocumentID, "error", refreshErr)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
