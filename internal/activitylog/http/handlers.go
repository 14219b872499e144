package activityloghttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/internal/activitylog/artifacts"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	"github.com/worklenz/activitylog/internal/activitylog/store"
	"github.com/worklenz/activitylog/internal/observability"
	"github.com/worklenz/activitylog/internal/platform/httpx"
	"github.com/worklenz/activitylog/jobs"
)

// SourceFactory returns the page source of one project.
type SourceFactory func(projectID string) activitylog.PageSource

// RendererFactory returns a fresh renderer for one export.
type RendererFactory interface {
	New(format render.Format, project string) (activitylog.DocumentRenderer, error)
}

// ProjectDirectory resolves project display names.
type ProjectDirectory interface {
	ProjectName(ctx context.Context, projectID string) (string, error)
}

// Enqueuer submits background exports.
type Enqueuer interface {
	EnqueueActivityLogExport(ctx context.Context, payload jobs.ActivityLogExportPayload) (*asynq.TaskInfo, error)
}

// TaskInspector reports the state of queued exports.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// HandlerConfig wires the handler dependencies. Enqueuer, Inspector,
// Artifacts and Metrics are optional. ExportSources feeds synchronous
// exports and must read fresh rows; it defaults to Sources.
type HandlerConfig struct {
	Logger             *slog.Logger
	Sources            SourceFactory
	ExportSources      SourceFactory
	Projects           ProjectDirectory
	Renderers          RendererFactory
	Enqueuer           Enqueuer
	Inspector          TaskInspector
	Artifacts          *artifacts.Store
	Metrics            *observability.Metrics
	PageSize           int
	ExportPageSize     int
	OutputPageCapacity int
}

// Handler serves the activity log page endpoint and its exports.
type Handler struct {
	cfg       HandlerConfig
	logger    *slog.Logger
	validate  *validator.Validate
	exporters sync.Map
	newID     func() string
	now       func() time.Time
}

// NewHandler builds a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = activitylog.DefaultPageSize
	}
	if cfg.ExportSources == nil {
		cfg.ExportSources = cfg.Sources
	}
	return &Handler{
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

type pageQuery struct {
	ProjectID string `validate:"required,uuid"`
	Filter    string `validate:"omitempty,oneof=all name status priority assignee end_date start_date estimation description phase"`
	Page      int    `validate:"gte=1"`
	Size      int    `validate:"gte=1,lte=100"`
}

type exportQuery struct {
	ProjectID string `validate:"required,uuid"`
	Filter    string `validate:"omitempty,oneof=all name status priority assignee end_date start_date estimation description phase"`
	Format    string `validate:"omitempty,oneof=pdf csv"`
}

type exportRequest struct {
	Filter string `json:"filter"`
	Format string `json:"format"`
}

type enqueueResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type jobStatusResponse struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Retried   int    `json:"retried"`
	LastError string `json:"last_error,omitempty"`
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	q := pageQuery{
		ProjectID: chi.URLParam(r, "projectID"),
		Filter:    normalise(r.URL.Query().Get("filter")),
		Page:      1,
		Size:      h.cfg.PageSize,
	}
	var err error
	if q.Page, err = intParam(r, "page", q.Page); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if q.Size, err = intParam(r, "size", q.Size); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validateQuery(q); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, _ := activitylog.ParseFilter(q.Filter)

	result, err := h.cfg.Sources(q.ProjectID).FetchPage(r.Context(), filter, q.Page, q.Size)
	if err != nil {
		h.respondFetchError(w, "load activity logs", err)
		return
	}
	body := activitylog.EncodePage(result)
	httpx.JSON(w, http.StatusOK, activitylog.PageEnvelope{Done: true, Body: &body})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	q := exportQuery{
		ProjectID: chi.URLParam(r, "projectID"),
		Filter:    normalise(r.URL.Query().Get("filter")),
		Format:    normalise(r.URL.Query().Get("format")),
	}
	if err := h.validateQuery(q); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, _ := activitylog.ParseFilter(q.Filter)
	format, _ := render.ParseFormat(q.Format)

	project, err := h.projectName(r.Context(), q.ProjectID)
	if err != nil {
		h.respondProjectError(w, err)
		return
	}
	renderer, err := h.cfg.Renderers.New(format, project)
	if err != nil {
		h.handleServerError(w, "build renderer", err)
		return
	}
	exporter, err := h.exporter(q.ProjectID)
	if err != nil {
		h.handleServerError(w, "build exporter", err)
		return
	}

	artifact, err := exporter.ExportAll(r.Context(), activitylog.ExportRequest{
		Filter:             filter,
		OutputPageCapacity: h.cfg.OutputPageCapacity,
	}, renderer)
	switch {
	case err == nil:
	case errors.Is(err, activitylog.ErrExportInProgress):
		h.cfg.Metrics.ObserveExport(string(format), "conflict", 0)
		httpx.RespondError(w, fmt.Errorf("%w: an export for this project is already running", httpx.ErrConflict))
		return
	case errors.Is(err, activitylog.ErrNoRecords):
		h.cfg.Metrics.ObserveExport(string(format), "empty", 0)
		httpx.RespondError(w, fmt.Errorf("%w: no activity logs to export", httpx.ErrNotFound))
		return
	case errors.Is(err, activitylog.ErrExportAborted):
		h.cfg.Metrics.ObserveExport(string(format), "aborted", 0)
		h.logger.Warn("activity export aborted", slog.String("project_id", q.ProjectID), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: export aborted, try again", httpx.ErrUpstream))
		return
	default:
		h.handleServerError(w, "export activity logs", err)
		return
	}
	h.cfg.Metrics.ObserveExport(string(format), "success", len(artifact.Data))

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", attachment(artifact.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.Header().Set("X-Activity-Records", strconv.Itoa(artifact.Records))
	w.Header().Set("X-Activity-Skipped", strconv.Itoa(artifact.Skipped))
	if _, err := w.Write(artifact.Data); err != nil {
		h.logger.Warn("write export", slog.Any("error", err))
	}
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Enqueuer == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	var req exportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	q := exportQuery{
		ProjectID: chi.URLParam(r, "projectID"),
		Filter:    normalise(req.Filter),
		Format:    normalise(req.Format),
	}
	if err := h.validateQuery(q); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, _ := activitylog.ParseFilter(q.Filter)
	format, _ := render.ParseFormat(q.Format)
	project, err := h.projectName(r.Context(), q.ProjectID)
	if err != nil {
		h.respondProjectError(w, err)
		return
	}

	payload := jobs.ActivityLogExportPayload{
		JobID:       h.newID(),
		ProjectID:   q.ProjectID,
		ProjectName: project,
		Filter:      string(filter),
		Format:      string(format),
	}
	if _, err := h.cfg.Enqueuer.EnqueueActivityLogExport(r.Context(), payload); err != nil {
		h.logger.Error("enqueue activity export", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: queue unavailable", httpx.ErrUpstream))
		return
	}
	h.logger.Info("activity export queued", slog.String("job_id", payload.JobID), slog.String("project_id", q.ProjectID))
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{
		JobID:     payload.JobID,
		StatusURL: "/api/v1/activity-exports/" + payload.JobID,
	})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.validate.Var(jobID, "required,uuid"); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: job id", httpx.ErrValidation))
		return
	}
	if h.cfg.Artifacts == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	meta, f, err := h.cfg.Artifacts.Open(jobID)
	if err == nil {
		defer func() { _ = f.Close() }()
		contentType := meta.ContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(meta.File)))
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", attachment(meta.Name))
		http.ServeContent(w, r, "", meta.CreatedAt, f)
		return
	}
	if !errors.Is(err, artifacts.ErrNotFound) {
		h.handleServerError(w, "open export", err)
		return
	}
	h.respondJobState(w, jobID)
}

func (h *Handler) respondJobState(w http.ResponseWriter, jobID string) {
	if h.cfg.Inspector == nil {
		httpx.RespondError(w, fmt.Errorf("%w: export %s", httpx.ErrNotFound, jobID))
		return
	}
	info, err := h.cfg.Inspector.GetTaskInfo(jobs.QueueDefault, jobID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		httpx.RespondError(w, fmt.Errorf("%w: export %s", httpx.ErrNotFound, jobID))
		return
	}
	if err != nil {
		h.logger.Warn("inspect export task", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: queue unavailable", httpx.ErrUpstream))
		return
	}
	status := jobStatusResponse{JobID: jobID, State: info.State.String(), Retried: info.Retried, LastError: info.LastErr}
	switch info.State {
	case asynq.TaskStateArchived:
		httpx.JSON(w, http.StatusUnprocessableEntity, status)
	case asynq.TaskStateCompleted:
		// finished but swept or written to another node's disk
		httpx.RespondError(w, fmt.Errorf("%w: export %s expired", httpx.ErrNotFound, jobID))
	default:
		w.Header().Set("Retry-After", "5")
		httpx.JSON(w, http.StatusAccepted, status)
	}
}

func (h *Handler) exporter(projectID string) (*activitylog.Exporter, error) {
	if cached, ok := h.exporters.Load(projectID); ok {
		return cached.(*activitylog.Exporter), nil
	}
	exporter, err := activitylog.NewExporter(activitylog.ExporterConfig{
		Source:             h.cfg.ExportSources(projectID),
		PageSize:           h.cfg.ExportPageSize,
		OutputPageCapacity: h.cfg.OutputPageCapacity,
		Logger:             h.logger.With(slog.String("project_id", projectID)),
		Now:                h.now,
	})
	if err != nil {
		return nil, err
	}
	actual, _ := h.exporters.LoadOrStore(projectID, exporter)
	return actual.(*activitylog.Exporter), nil
}

func (h *Handler) projectName(ctx context.Context, projectID string) (string, error) {
	if h.cfg.Projects == nil {
		return projectID, nil
	}
	return h.cfg.Projects.ProjectName(ctx, projectID)
}

func (h *Handler) validateQuery(q any) error {
	if err := h.validate.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: invalid %s", httpx.ErrValidation, strings.ToLower(fieldErrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) respondFetchError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, activitylog.ErrTransport) || errors.Is(err, activitylog.ErrInvalidResponse) {
		h.logger.Warn(message, slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: activity log storage unavailable", httpx.ErrUpstream))
		return
	}
	h.handleServerError(w, message, err)
}

func (h *Handler) respondProjectError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrProjectNotFound) {
		httpx.RespondError(w, fmt.Errorf("%w: project", httpx.ErrNotFound))
		return
	}
	h.handleServerError(w, "load project", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func normalise(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name)
	}
	return v, nil
}

func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
