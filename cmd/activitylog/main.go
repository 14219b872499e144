package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/worklenz/activitylog/internal/activitylog/artifacts"
	activityloghttp "github.com/worklenz/activitylog/internal/activitylog/http"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	"github.com/worklenz/activitylog/internal/activitylog/store"
	"github.com/worklenz/activitylog/internal/app"
	"github.com/worklenz/activitylog/internal/observability"
	"github.com/worklenz/activitylog/internal/platform/cache"
	"github.com/worklenz/activitylog/internal/platform/db"
	"github.com/worklenz/activitylog/jobs"
	"github.com/worklenz/activitylog/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// pages are served uncached until redis is back
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := store.NewRepository(dbpool)
	metrics := observability.NewMetrics()

	reportClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	reportHandler := report.NewHandler(reportClient, logger)
	renderers, err := render.NewFactory(reportClient)
	if err != nil {
		logger.Error("parse report templates", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	activityHandler := activityloghttp.NewHandler(activityloghttp.HandlerConfig{
		Logger:             logger,
		Sources:            app.ActivitySources(repo, redisClient, cfg.ActivityCacheTTL, logger),
		ExportSources:      app.ActivitySources(repo, nil, 0, logger),
		Projects:           repo,
		Renderers:          renderers,
		Enqueuer:           jobClient,
		Inspector:          inspector,
		Artifacts:          artifacts.NewStore(cfg.ExportStorageDir),
		Metrics:            metrics,
		PageSize:           cfg.ActivityPageSize,
		ExportPageSize:     cfg.ActivityExportPageSize,
		OutputPageCapacity: cfg.ActivityOutputPageCapacity,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ActivityHandler: activityHandler,
		ReportHandler:   reportHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
