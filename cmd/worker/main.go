package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worklenz/activitylog/internal/activitylog/artifacts"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	"github.com/worklenz/activitylog/internal/activitylog/store"
	"github.com/worklenz/activitylog/internal/activitylog/worker"
	"github.com/worklenz/activitylog/internal/app"
	jobmetrics "github.com/worklenz/activitylog/internal/jobs"
	"github.com/worklenz/activitylog/internal/platform/db"
	"github.com/worklenz/activitylog/jobs"
	"github.com/worklenz/activitylog/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	pdfClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	renderers, err := render.NewFactory(pdfClient)
	if err != nil {
		logger.Error("init export renderer", slog.Any("error", err))
		os.Exit(1)
	}
	exportStore := artifacts.NewStore(cfg.ExportStorageDir)
	metrics := jobmetrics.NewMetrics(nil)

	// exports always read fresh rows, never the page cache
	exportJob := worker.NewExportJob(worker.ExportJobConfig{
		Sources:            app.ActivitySources(store.NewRepository(pool), nil, 0, logger),
		Renderers:          renderers,
		Store:              exportStore,
		PageSize:           cfg.ActivityExportPageSize,
		OutputPageCapacity: cfg.ActivityOutputPageCapacity,
		Metrics:            metrics,
		Logger:             logger,
	})
	sweepJob := worker.NewSweepJob(exportStore, logger)

	sweepTask, err := jobs.NewExportSweepTask(jobs.ExportRetention)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	w, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskActivityLogExport, Handler: exportJob.Handle},
			{Type: jobs.TaskActivityExportSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
