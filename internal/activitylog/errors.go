package activitylog

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network and 5xx failures. Retrying the same call may succeed.
	ErrTransport = errors.New("activitylog: transport error")
	// ErrInvalidResponse marks malformed payloads or pagination metadata.
	ErrInvalidResponse = errors.New("activitylog: invalid response")
	// ErrExportAborted matches every ExportAbortedError.
	ErrExportAborted = errors.New("activitylog: export aborted")
	// ErrRenderSkipped matches every RenderSkippedError.
	ErrRenderSkipped = errors.New("activitylog: record skipped")
	// ErrExportInProgress is returned when an exporter is already running a job.
	ErrExportInProgress = errors.New("activitylog: export already in progress")
	// ErrNoRecords is returned when the filter matches nothing to export.
	ErrNoRecords = errors.New("activitylog: no activity logs to export")
)

// ExportAbortedError reports an export that stopped before producing an artifact.
type ExportAbortedError struct {
	SourcePage int
	Cause      error
}

func (e *ExportAbortedError) Error() string {
	if e.SourcePage > 0 {
		return fmt.Sprintf("activitylog: export aborted at source page %d: %v", e.SourcePage, e.Cause)
	}
	return fmt.Sprintf("activitylog: export aborted: %v", e.Cause)
}

func (e *ExportAbortedError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrExportAborted) match.
func (e *ExportAbortedError) Is(target error) bool { return target == ErrExportAborted }

// RenderSkippedError reports a single record a renderer could not draw.
type RenderSkippedError struct {
	RecordID string
	Cause    error
}

func (e *RenderSkippedError) Error() string {
	return fmt.Sprintf("activitylog: record %q skipped: %v", e.RecordID, e.Cause)
}

func (e *RenderSkippedError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrRenderSkipped) match.
func (e *RenderSkippedError) Is(target error) bool { return target == ErrRenderSkipped }

// SkippedRecords extracts every RenderSkippedError joined into err.
// The remaining error is nil when err only carried skips.
func SkippedRecords(err error) ([]*RenderSkippedError, error) {
	if err == nil {
		return nil, nil
	}
	var skipped []*RenderSkippedError
	var rest []error
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var skip *RenderSkippedError
		if errors.As(e, &skip) {
			skipped = append(skipped, skip)
			return
		}
		rest = append(rest, e)
	}
	walk(err)
	return skipped, errors.Join(rest...)
}
