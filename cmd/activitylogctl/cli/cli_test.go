package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklenz/activitylog/internal/activitylog"
)

const testProject = "9b2f4c1e-0000-4000-8000-000000000001"

type logServer struct {
	total    int
	requests atomic.Int32
	filters  []string
}

func (s *logServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.filters = append(s.filters, r.URL.Query().Get("filter"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	start := min((page-1)*size, s.total)
	end := min(start+size, s.total)
	records := make([]activitylog.LogRecord, 0, end-start)
	for i := start; i < end; i++ {
		records = append(records, activitylog.LogRecord{
			ID:                fmt.Sprintf("log-%03d", i),
			Actor:             activitylog.Actor{Name: "ava", ColorCode: "#1890ff"},
			Subject:           activitylog.Subject{Key: "WL-" + strconv.Itoa(i), Name: "Ship"},
			ChangeDescription: "changed status",
			Timestamp:         time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Minute),
		})
	}
	body := activitylog.EncodePage(activitylog.PageResult{
		Records:    records,
		PageNumber: page,
		PageSize:   size,
		TotalPages: activitylog.TotalPagesFor(s.total, size),
		TotalCount: s.total,
	})
	_ = json.NewEncoder(w).Encode(activitylog.PageEnvelope{Done: true, Body: &body})
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := Execute(context.Background(), cmd)
	return stdout.String(), stderr.String(), err
}

func TestBrowseLoadsRequestedRows(t *testing.T) {
	logs := &logServer{total: 45}
	srv := httptest.NewServer(logs)
	defer srv.Close()

	out, _, err := run(t, "browse", "--base-url", srv.URL, "-p", testProject, "--rows", "25", "--filter", "status")
	require.NoError(t, err)

	assert.Equal(t, int32(2), logs.requests.Load())
	assert.Equal(t, []string{"status", "status"}, logs.filters)
	assert.Contains(t, out, "Status Changes")
	assert.Contains(t, out, "WL-0 - Ship")
	assert.Contains(t, out, "WL-24 - Ship")
	assert.NotContains(t, out, "WL-25 ")
	assert.Contains(t, out, "25 shown, page 2 of 3, more with --rows")
}

func TestBrowseStopsAtEnd(t *testing.T) {
	srv := httptest.NewServer(&logServer{total: 3})
	defer srv.Close()

	out, _, err := run(t, "browse", "--base-url", srv.URL, "-p", testProject, "--rows", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "All Activities")
	assert.Contains(t, out, "3 shown, page 1 of 1")
	assert.NotContains(t, out, "more with")
}

func TestBrowseEmptyLog(t *testing.T) {
	srv := httptest.NewServer(&logServer{})
	defer srv.Close()

	out, _, err := run(t, "browse", "--base-url", srv.URL, "-p", testProject)
	require.NoError(t, err)
	assert.Contains(t, out, "No activity yet")
}

func TestBrowseValidatesInput(t *testing.T) {
	_, stderr, err := run(t, "browse", "--base-url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, stderr, "--project is required")

	_, _, err = run(t, "browse", "-p", testProject, "--filter", "labels")
	assert.Error(t, err)

	_, _, err = run(t, "browse", "-p", testProject, "--rows", "0")
	assert.Error(t, err)
}

func TestBrowseReportsServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, stderr, err := run(t, "browse", "--base-url", srv.URL, "-p", testProject)
	require.ErrorIs(t, err, activitylog.ErrTransport)
	assert.Contains(t, stderr, "load activity")
}

func TestExportCSVWritesFile(t *testing.T) {
	logs := &logServer{total: 30}
	srv := httptest.NewServer(logs)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.csv")
	out, stderr, err := run(t, "export", "--base-url", srv.URL, "-p", testProject,
		"--format", "csv", "--page-size", "10", "-o", path, "--name", "Apollo")
	require.NoError(t, err)

	assert.Equal(t, int32(3), logs.requests.Load())
	assert.Contains(t, out, "wrote "+path+": 30 entries on 3 pages")
	assert.Contains(t, stderr, "Fetching logs... Page 3 of 3")
	assert.Contains(t, stderr, "Generating document... Processing page 1 of 3")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 32)
	assert.Equal(t, "log-000", rows[1][0])
}

func TestExportToStdout(t *testing.T) {
	srv := httptest.NewServer(&logServer{total: 2})
	defer srv.Close()

	out, stderr, err := run(t, "export", "--base-url", srv.URL, "-p", testProject, "--format", "csv", "-o", "-", "-q")
	require.NoError(t, err)
	assert.Empty(t, stderr)
	assert.True(t, strings.HasPrefix(out, "id,timestamp,actor,task_key,task_name,change\n"))
}

func TestExportNothing(t *testing.T) {
	srv := httptest.NewServer(&logServer{})
	defer srv.Close()

	_, stderr, err := run(t, "export", "--base-url", srv.URL, "-p", testProject, "--format", "csv", "--filter", "phase", "-q")
	require.Error(t, err)
	assert.Contains(t, stderr, "nothing to export for Phase Changes")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	_, _, err := run(t, "export", "-p", testProject, "--format", "xlsx")
	assert.Error(t, err)
}

func TestJobsStatusValidatesID(t *testing.T) {
	_, stderr, err := run(t, "jobs", "status", "not-a-job")
	require.Error(t, err)
	assert.Contains(t, stderr, `invalid job id "not-a-job"`)
}

func TestJobsEnqueueValidatesPayload(t *testing.T) {
	_, _, err := run(t, "jobs", "enqueue", "--project", "nope", "--format", "csv")
	assert.Error(t, err)
}

func TestJobsCLIRequiresConfiguration(t *testing.T) {
	_, err := NewJobsCLI("")
	assert.Error(t, err)

	var c *JobsCLI
	_, err = c.InspectQueue(context.Background())
	assert.Error(t, err)
	_, err = c.ListFailed(context.Background(), 5)
	assert.Error(t, err)
	_, err = c.Status(context.Background(), "0b8f6c3e-5a7d-4d7e-9a43-1f2e3d4c5b6a")
	assert.Error(t, err)
}
