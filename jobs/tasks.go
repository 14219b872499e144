package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/worklenz/activitylog/internal/activitylog"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskActivityLogExport renders a full activity log export into the storage dir.
	TaskActivityLogExport = "activitylog:export"
	// TaskActivityExportSweep removes expired export artifacts.
	TaskActivityExportSweep = "activitylog:export_sweep"

	// ExportRetention is how long finished export tasks stay inspectable.
	ExportRetention = 24 * time.Hour
)

// ActivityLogExportPayload describes one queued export.
type ActivityLogExportPayload struct {
	JobID       string `json:"job_id"`
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	Filter      string `json:"filter"`
	Format      string `json:"format"`
}

// Validate checks ids and the filter token.
func (p ActivityLogExportPayload) Validate() error {
	if _, err := uuid.Parse(p.JobID); err != nil {
		return fmt.Errorf("jobs: invalid job id %q", p.JobID)
	}
	if _, err := uuid.Parse(p.ProjectID); err != nil {
		return fmt.Errorf("jobs: invalid project id %q", p.ProjectID)
	}
	if _, err := activitylog.ParseFilter(p.Filter); err != nil {
		return err
	}
	switch p.Format {
	case "pdf", "csv":
	default:
		return fmt.Errorf("jobs: unsupported export format %q", p.Format)
	}
	return nil
}

// NewActivityLogExportTask constructs an export task whose asynq id is the job id.
func NewActivityLogExportTask(payload ActivityLogExportPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityLogExport, data,
		asynq.TaskID(payload.JobID),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Retention(ExportRetention),
	), nil
}

// DecodeActivityLogExport reads and validates a task payload.
func DecodeActivityLogExport(t *asynq.Task) (ActivityLogExportPayload, error) {
	var payload ActivityLogExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, payload.Validate()
}

// ExportSweepPayload configures the artifact sweep.
type ExportSweepPayload struct {
	MaxAge time.Duration `json:"max_age"`
}

// NewExportSweepTask constructs a sweep task.
func NewExportSweepTask(maxAge time.Duration) (*asynq.Task, error) {
	if maxAge <= 0 {
		return nil, errors.New("jobs: sweep max age must be positive")
	}
	data, err := json.Marshal(ExportSweepPayload{MaxAge: maxAge})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityExportSweep, data), nil
}
