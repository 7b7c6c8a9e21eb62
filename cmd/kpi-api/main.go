package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/adspend-kpi/internal/config"
	"github.com/radiusdt/adspend-kpi/internal/database"
	"github.com/radiusdt/adspend-kpi/internal/httpserver"
	"github.com/radiusdt/adspend-kpi/internal/metrics"
	"github.com/radiusdt/adspend-kpi/internal/middleware"
	"github.com/radiusdt/adspend-kpi/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting adspend-kpi",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("driver", cfg.Database.Driver),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics("adspend_kpi", nil)

	// Initialize the spend data source
	source, db, err := openSpendSource(ctx, cfg, logger, m)
	if err != nil {
		logger.Fatal("failed to initialize data source", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	// Initialize Redis (optional, backs the shared rate limiter)
	var redis *database.RedisDB
	if cfg.Redis.Addr != "" {
		redis, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, using in-process rate limiting", zap.Error(err))
			redis = nil
		} else {
			defer redis.Close()
		}
	}

	server := httpserver.NewServer(&httpserver.Dependencies{
		Source:  source,
		Redis:   redis,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Prometheus lives on its own port; /metrics on the API port is the KPI report
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.Metrics.Port,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting",
				zap.String("addr", metricsSrv.Addr),
				zap.String("path", cfg.Metrics.Path),
			)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start rate limiter cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				server.RateLimiter().CleanupIPLimiters()
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server forced to shutdown", zap.Error(err))
		}
	}

	// Cancel main context to stop background goroutines
	cancel()

	logger.Info("server stopped")
}

// openSpendSource builds the SpendSource for the configured driver. The
// returned *sql.DB is nil for the memory driver.
func openSpendSource(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (storage.SpendSource, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := database.OpenPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		source, err := storage.NewPostgresSpendSource(db, cfg.Database.Table, m)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return source, db, nil

	case "clickhouse":
		db, err := database.OpenClickHouse(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		source, err := storage.NewClickHouseSpendSource(db, cfg.Database.Table, m)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return source, db, nil

	case "memory":
		source := storage.NewMemorySpendSource()
		if cfg.Seed.CSVPath != "" {
			f, err := os.Open(cfg.Seed.CSVPath)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open seed file: %w", err)
			}
			defer f.Close()

			records, err := storage.LoadSpendCSV(f)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load seed file: %w", err)
			}
			source.Add(records...)
		}
		logger.Info("using in-memory spend source",
			zap.String("seed", cfg.Seed.CSVPath),
			zap.Int("records", source.Len()),
		)
		return source, nil, nil
	}

	return nil, nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
}
