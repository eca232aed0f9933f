package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opositia/enforce/internal"
	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/handler"
	"github.com/opositia/enforce/internal/jobs"
	"github.com/opositia/enforce/internal/metrics"
	"github.com/opositia/enforce/internal/middleware"
	"github.com/opositia/enforce/internal/repository"
	"github.com/opositia/enforce/internal/service"
	"github.com/opositia/enforce/internal/worker"
)

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Every period boundary in the engine is computed in this zone
	loc := cfg.Location()

	// Initialize repository
	queries := repository.New(db)

	// Initialize services
	catalog := service.NewPlanCatalog(queries, cfg.CatalogTTL, logger)

	valve, err := service.NewEscapeValve(queries, catalog, service.EscapeValveConfig{
		ThresholdFactor: cfg.EscapeValveThreshold,
		WindowDays:      cfg.EscapeValveWindow,
	}, logger)
	if err != nil {
		return fmt.Errorf("escape valve initialization failed: %w", err)
	}

	experiments := service.NewExperiments(queries, cfg.ExperimentPriority, cfg.CatalogTTL, logger)
	audit := service.NewAuditLog(queries, logger)
	policy := service.NewPolicy(catalog, experiments, queries, valve, audit, loc, logger)
	recorder := service.NewMetricsRecorder(queries, loc, logger)

	// Initialize middleware
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	metricsAuth := middleware.NewBasicAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, "metrics")
	adminAuth := middleware.NewBasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, "admin")
	adminLimiter := middleware.NewRateLimitMiddleware(
		middleware.NewRateLimiter(cfg.AdminRateLimit, cfg.AdminRateWindow, logger),
		logger,
	)
	requireAdmin := func(next http.Handler) http.Handler {
		return adminLimiter.Limit(adminAuth.Handler(next))
	}

	// Initialize handlers
	policyHandler := handler.NewPolicyHandler(policy, experiments, queries, loc, logger)
	adminHandler := handler.NewAdminHandler(queries, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	policyHandler.RegisterRoutes(mux)
	adminHandler.RegisterRoutes(mux, requireAdmin)

	// ==========================================================================
	// Start background worker
	// ==========================================================================

	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.Concurrency = cfg.WorkerConcurrency
		workerCfg.PollInterval = cfg.WorkerPollInterval
		workerCfg.JobTimeout = cfg.WorkerJobTimeout

		w, err := worker.New(db, queries, workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Register(jobs.NewAggregateMetricsHandler(recorder, loc, logger))
		w.Start(ctx)
		defer w.Stop()

		// Enqueue yesterday's aggregation hourly. The dedupe key makes
		// repeated enqueues for the same day a no-op, and re-running a
		// day only rewrites the same rows.
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()

			enqueue := func() {
				yesterday := domain.DayKey(time.Now().In(loc).AddDate(0, 0, -1))
				if _, err := worker.EnqueueAggregateMetrics(ctx, queries, yesterday); err != nil {
					logger.Error("failed to enqueue metric aggregation", "day", yesterday, "error", err)
				}
			}

			enqueue()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					enqueue()
				}
			}
		}()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: loggingMw.Handler(metrics.Middleware(mux)),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "timezone", cfg.Timezone)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
