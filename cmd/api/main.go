package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/docquery/internal/adapters/http"
	"github.com/kirillkom/docquery/internal/bootstrap"
	"github.com/kirillkom/docquery/internal/config"
	"github.com/kirillkom/docquery/internal/observability/logging"
	"github.com/kirillkom/docquery/internal/observability/metrics"
)

const keywordRefreshInterval = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Build the keyword snapshot from whatever is already indexed, then keep
	// it fresh in the background. Failure means vector-only retrieval until
	// the next attempt, not a dead api.
	if err := app.Index.RefreshKeyword(ctx); err != nil {
		logger.Warn("initial_keyword_refresh_failed", "error", err)
	}
	go refreshLoop(ctx, app)

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app.QueryUC.SetObserver(retrievalObserver{m: httpMetrics})
	router := httpadapter.NewRouter(
		app.QueryUC,
		app.IngestUC,
		app.BatchUC,
		app.DeleteUC,
		app.Sessions,
		app.Index,
		httpMetrics,
		logger,
		httpadapter.Config{
			Service:        "api",
			RateLimitRPS:   float64(cfg.APIRateLimitRPS),
			RateLimitBurst: cfg.APIRateLimitBurst,
			MaxInFlight:    cfg.APIMaxInFlight,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}

// retrievalObserver feeds pipeline degradation events into the api metrics.
type retrievalObserver struct {
	m *metrics.HTTPServerMetrics
}

func (o retrievalObserver) KeywordAbsent()  { o.m.RecordKeywordAbsent("api") }
func (o retrievalObserver) RerankFallback() { o.m.RecordRerankFallback("api") }
func (o retrievalObserver) CondensedQuery() { o.m.RecordCondensedQuery("api") }

func refreshLoop(ctx context.Context, app *bootstrap.App) {
	ticker := time.NewTicker(keywordRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.Index.RefreshKeyword(ctx); err != nil {
				app.Logger.Warn("keyword_refresh_failed", "error", err)
			}
		}
	}
}
