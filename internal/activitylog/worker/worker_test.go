package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/internal/activitylog/artifacts"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	jobmetrics "github.com/worklenz/activitylog/internal/jobs"
	"github.com/worklenz/activitylog/jobs"
)

const (
	jobID     = "0b8f6c3e-5a7d-4d7e-9a43-1f2e3d4c5b6a"
	projectID = "9b2f4c1e-0000-4000-8000-000000000001"
)

type stubSource struct {
	mu      sync.Mutex
	total   int
	failOn  int
	calls   int
	project string
}

func (s *stubSource) FetchPage(ctx context.Context, filter activitylog.Filter, page, size int) (activitylog.PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if page == s.failOn {
		return activitylog.PageResult{}, fmt.Errorf("%w: connection reset", activitylog.ErrTransport)
	}
	start := min((page-1)*size, s.total)
	end := min(start+size, s.total)
	records := make([]activitylog.LogRecord, 0, end-start)
	for i := start; i < end; i++ {
		records = append(records, activitylog.LogRecord{
			ID:                fmt.Sprintf("log-%03d", i),
			Actor:             activitylog.Actor{Name: "Ava"},
			Subject:           activitylog.Subject{Key: "WL-1", Name: "Ship"},
			ChangeDescription: "changed " + string(filter),
			Timestamp:         time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Minute),
		})
	}
	return activitylog.PageResult{
		Records:    records,
		PageNumber: page,
		PageSize:   size,
		TotalPages: activitylog.TotalPagesFor(s.total, size),
		TotalCount: s.total,
	}, nil
}

func newJob(t *testing.T, src *stubSource) (*ExportJob, *artifacts.Store, *prometheus.Registry) {
	t.Helper()
	factory, err := render.NewFactory(nil)
	require.NoError(t, err)
	store := artifacts.NewStore(t.TempDir())
	registry := prometheus.NewRegistry()
	job := NewExportJob(ExportJobConfig{
		Sources: func(id string) activitylog.PageSource {
			src.project = id
			return src
		},
		Renderers: factory,
		Store:     store,
		PageSize:  50,
		Metrics:   jobmetrics.NewMetrics(registry),
	})
	return job, store, registry
}

func exportTask(t *testing.T, mutate func(*jobs.ActivityLogExportPayload)) *asynq.Task {
	t.Helper()
	payload := jobs.ActivityLogExportPayload{
		JobID: jobID, ProjectID: projectID, ProjectName: "Apollo", Filter: "status", Format: "csv",
	}
	if mutate != nil {
		mutate(&payload)
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(jobs.TaskActivityLogExport, data)
}

func metricNames(t *testing.T, registry *prometheus.Registry) []string {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func TestExportJobStoresArtifact(t *testing.T) {
	src := &stubSource{total: 120}
	job, store, registry := newJob(t, src)

	require.NoError(t, job.Handle(context.Background(), exportTask(t, nil)))
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, projectID, src.project)

	meta, err := store.Stat(jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID+".csv", meta.File)
	assert.Equal(t, 120, meta.Records)
	assert.True(t, strings.HasPrefix(meta.Name, "Activity-Log-Apollo-"))
	assert.Contains(t, metricNames(t, registry), "activitylog_exported_records_total")

	// a redelivered task does not export twice
	require.NoError(t, job.Handle(context.Background(), exportTask(t, nil)))
	assert.Equal(t, 3, src.calls)
}

func TestExportJobSkipsRetryOnBadPayload(t *testing.T) {
	job, _, _ := newJob(t, &stubSource{total: 3})
	err := job.Handle(context.Background(), exportTask(t, func(p *jobs.ActivityLogExportPayload) { p.Filter = "labels" }))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskActivityLogExport, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestExportJobRetriesAbortedExport(t *testing.T) {
	src := &stubSource{total: 120, failOn: 2}
	job, store, registry := newJob(t, src)

	err := job.Handle(context.Background(), exportTask(t, nil))
	assert.ErrorIs(t, err, activitylog.ErrExportAborted)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	_, statErr := store.Stat(jobID)
	assert.ErrorIs(t, statErr, artifacts.ErrNotFound)
	assert.Contains(t, metricNames(t, registry), "activitylog_jobs_failures_total")
}

func TestExportJobEmptyResultIsFinal(t *testing.T) {
	job, _, _ := newJob(t, &stubSource{total: 0})
	err := job.Handle(context.Background(), exportTask(t, nil))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, activitylog.ErrNoRecords)
}

func TestExportJobPDFWithoutClientIsFinal(t *testing.T) {
	job, _, _ := newJob(t, &stubSource{total: 3})
	err := job.Handle(context.Background(), exportTask(t, func(p *jobs.ActivityLogExportPayload) { p.Format = "pdf" }))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepJob(t *testing.T) {
	store := artifacts.NewStore(t.TempDir())
	_, err := store.Save(jobID, activitylog.Artifact{Name: "a.csv", Data: []byte("x")})
	require.NoError(t, err)

	sweep := NewSweepJob(store, nil)
	assert.ErrorIs(t, sweep.Handle(context.Background(), asynq.NewTask(jobs.TaskActivityExportSweep, []byte("{}"))), asynq.SkipRetry)

	task, err := jobs.NewExportSweepTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, sweep.Handle(context.Background(), task))
	_, err = store.Stat(jobID)
	assert.NoError(t, err)
}
