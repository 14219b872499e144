// Package worker runs queued activity log exports.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/internal/activitylog/artifacts"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	jobmetrics "github.com/worklenz/activitylog/internal/jobs"
	"github.com/worklenz/activitylog/jobs"
)

// SourceFactory returns the page source of one project.
type SourceFactory func(projectID string) activitylog.PageSource

// RendererFactory returns a fresh renderer for one export.
type RendererFactory interface {
	New(format render.Format, project string) (activitylog.DocumentRenderer, error)
}

// ExportJobConfig wires dependencies required by the export job.
type ExportJobConfig struct {
	Sources            SourceFactory
	Renderers          RendererFactory
	Store              *artifacts.Store
	PageSize           int
	OutputPageCapacity int
	Metrics            *jobmetrics.Metrics
	Logger             *slog.Logger
}

// ExportJob processes export requests coming from the queue.
type ExportJob struct {
	cfg    ExportJobConfig
	logger *slog.Logger
}

// NewExportJob constructs an ExportJob handler.
func NewExportJob(cfg ExportJobConfig) *ExportJob {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportJob{cfg: cfg, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ExportJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.cfg.Sources == nil || j.cfg.Renderers == nil || j.cfg.Store == nil {
		return errors.New("activity export job not configured")
	}
	payload, err := jobs.DecodeActivityLogExport(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if _, err := j.cfg.Store.Stat(payload.JobID); err == nil {
		return nil
	}
	tracker := j.cfg.Metrics.Track(jobs.TaskActivityLogExport)
	return tracker.End(j.run(ctx, payload))
}

func (j *ExportJob) run(ctx context.Context, payload jobs.ActivityLogExportPayload) error {
	logger := j.logger.With(slog.String("job_id", payload.JobID), slog.String("project_id", payload.ProjectID))
	filter, _ := activitylog.ParseFilter(payload.Filter)
	format := render.Format(payload.Format)

	exporter, err := activitylog.NewExporter(activitylog.ExporterConfig{
		Source:             j.cfg.Sources(payload.ProjectID),
		PageSize:           j.cfg.PageSize,
		OutputPageCapacity: j.cfg.OutputPageCapacity,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	renderer, err := j.cfg.Renderers.New(format, payload.ProjectName)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	artifact, err := exporter.ExportAll(ctx, activitylog.ExportRequest{
		Filter: filter,
		Progress: func(p activitylog.Progress) {
			logger.Debug("activity export progress", slog.String("progress", p.String()))
		},
	}, renderer)
	if errors.Is(err, activitylog.ErrNoRecords) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	meta, err := j.cfg.Store.Save(payload.JobID, artifact)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	j.cfg.Metrics.AddExported(payload.Format, artifact.Records, artifact.Skipped)
	logger.Info("activity export ready",
		slog.String("file", meta.File),
		slog.Int("records", meta.Records),
		slog.Int("pages", meta.Pages),
		slog.Int("skipped", meta.Skipped))
	return nil
}

// SweepJob deletes expired artifacts.
type SweepJob struct {
	store  *artifacts.Store
	logger *slog.Logger
}

// NewSweepJob constructs a SweepJob handler.
func NewSweepJob(store *artifacts.Store, logger *slog.Logger) *SweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepJob{store: store, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ExportSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.MaxAge <= 0 {
		return asynq.SkipRetry
	}
	removed, err := j.store.Sweep(payload.MaxAge)
	if removed > 0 {
		j.logger.Info("swept activity exports", slog.Int("removed", removed))
	}
	return err
}
