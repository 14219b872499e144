package activitylog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultExportPageSize is the source page size used while exporting.
	DefaultExportPageSize = 5 * DefaultPageSize
	// DefaultOutputPageCapacity is the number of records per A4 output page.
	DefaultOutputPageCapacity = 13
)

// ExportState is the lifecycle of one export run.
type ExportState string

const (
	ExportIdle      ExportState = "idle"
	ExportFetching  ExportState = "fetching"
	ExportRendering ExportState = "rendering"
	ExportDone      ExportState = "done"
	ExportAborted   ExportState = "aborted"
)

// Progress is reported after each fetched source page and before each
// rendered output page.
type Progress struct {
	State   ExportState
	Current int
	Total   int
}

func (p Progress) String() string {
	switch p.State {
	case ExportFetching:
		return fmt.Sprintf("Fetching logs... Page %d of %d", p.Current, p.Total)
	case ExportRendering:
		return fmt.Sprintf("Generating document... Processing page %d of %d", p.Current, p.Total)
	default:
		return string(p.State)
	}
}

// ProgressFunc receives export progress.
type ProgressFunc func(Progress)

// OutputPage is one page of the exported document.
type OutputPage struct {
	Records     []LogRecord
	Index       int
	Count       int
	Filter      Filter
	GeneratedAt time.Time
}

// Number is the 1-based page number.
func (p OutputPage) Number() int { return p.Index + 1 }

// Last reports whether this is the final output page.
func (p OutputPage) Last() bool { return p.Index == p.Count-1 }

// Summary closes the exported document.
type Summary struct {
	TotalRecords int
	Filter       Filter
	GeneratedAt  time.Time
}

// DocumentRenderer draws an export. A renderer instance serves one export.
// RenderPage may return RenderSkippedError values, joined with errors.Join,
// for records it could not draw; any other error stops the export.
type DocumentRenderer interface {
	RenderPage(ctx context.Context, page OutputPage) error
	RenderSummary(ctx context.Context, summary Summary) error
	Assemble(ctx context.Context) (Artifact, error)
}

// ExportRequest describes one export.
type ExportRequest struct {
	Filter             Filter
	OutputPageCapacity int
	Progress           ProgressFunc
}

// ExporterConfig wires the exporter dependencies.
type ExporterConfig struct {
	Source             PageSource
	PageSize           int
	OutputPageCapacity int
	Logger             *slog.Logger
	Now                func() time.Time
}

// Exporter walks a page source to exhaustion and renders the complete
// result set. It runs one export at a time.
type Exporter struct {
	source   PageSource
	pageSize int
	capacity int
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	state   ExportState
}

// NewExporter constructs an Exporter.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	if cfg.Source == nil {
		return nil, errors.New("activitylog: exporter requires a page source")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultExportPageSize
	}
	capacity := cfg.OutputPageCapacity
	if capacity <= 0 {
		capacity = DefaultOutputPageCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Exporter{
		source:   cfg.Source,
		pageSize: pageSize,
		capacity: capacity,
		logger:   logger,
		now:      now,
		state:    ExportIdle,
	}, nil
}

// State returns the state of the current or last export.
func (e *Exporter) State() ExportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Exporter) setState(state ExportState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// ExportAll fetches every record matching req.Filter, splits them into
// output pages and renders them. A failed fetch aborts the whole export
// with an ExportAbortedError and no artifact.
func (e *Exporter) ExportAll(ctx context.Context, req ExportRequest, renderer DocumentRenderer) (Artifact, error) {
	if renderer == nil {
		return Artifact{}, errors.New("activitylog: export requires a renderer")
	}
	if !e.running.CompareAndSwap(false, true) {
		return Artifact{}, ErrExportInProgress
	}
	defer e.running.Store(false)

	filter := req.Filter
	if filter == "" {
		filter = FilterAll
	}
	capacity := req.OutputPageCapacity
	if capacity <= 0 {
		capacity = e.capacity
	}
	report := req.Progress
	if report == nil {
		report = func(Progress) {}
	}
	started := e.now()

	e.setState(ExportFetching)
	accumulated, err := e.accumulate(ctx, filter, report)
	if err != nil {
		e.setState(ExportAborted)
		e.logger.Warn("activity export aborted", slog.String("filter", string(filter)), slog.Any("error", err))
		return Artifact{}, err
	}
	if len(accumulated) == 0 {
		e.setState(ExportDone)
		return Artifact{}, ErrNoRecords
	}

	e.setState(ExportRendering)
	skipped, err := e.render(ctx, accumulated, capacity, filter, started, report, renderer)
	total := len(accumulated)
	if err != nil {
		e.setState(ExportAborted)
		return Artifact{}, err
	}
	artifact, err := renderer.Assemble(ctx)
	if err != nil {
		e.setState(ExportAborted)
		return Artifact{}, &ExportAbortedError{Cause: fmt.Errorf("assemble document: %w", err)}
	}
	artifact.Pages = OutputPageCount(total, capacity)
	artifact.Records = total
	artifact.Skipped = skipped
	e.setState(ExportDone)
	e.logger.Info("activity export complete",
		slog.String("filter", string(filter)),
		slog.Int("records", total),
		slog.Int("pages", artifact.Pages),
		slog.Int("skipped", skipped),
		slog.Duration("elapsed", e.now().Sub(started)))
	return artifact, nil
}

func (e *Exporter) accumulate(ctx context.Context, filter Filter, report ProgressFunc) ([]LogRecord, error) {
	var accumulated []LogRecord
	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &ExportAbortedError{SourcePage: page, Cause: err}
		}
		result, err := e.source.FetchPage(ctx, filter, page, e.pageSize)
		if err == nil {
			err = result.Validate()
		}
		if err == nil && result.PageNumber != page {
			err = fmt.Errorf("%w: asked for page %d, got %d", ErrInvalidResponse, page, result.PageNumber)
		}
		if err != nil {
			return nil, &ExportAbortedError{SourcePage: page, Cause: err}
		}
		accumulated = append(accumulated, result.Records...)
		totalPages = result.TotalPages
		report(Progress{State: ExportFetching, Current: page, Total: totalPages})
	}
	return accumulated, nil
}

func (e *Exporter) render(ctx context.Context, records []LogRecord, capacity int, filter Filter, generatedAt time.Time, report ProgressFunc, renderer DocumentRenderer) (int, error) {
	count := OutputPageCount(len(records), capacity)
	skipped := 0
	for index := 0; index < count; index++ {
		if err := ctx.Err(); err != nil {
			return skipped, &ExportAbortedError{Cause: err}
		}
		report(Progress{State: ExportRendering, Current: index + 1, Total: count})
		start := index * capacity
		end := min(start+capacity, len(records))
		page := OutputPage{
			Records:     records[start:end:end],
			Index:       index,
			Count:       count,
			Filter:      filter,
			GeneratedAt: generatedAt,
		}
		skips, err := SkippedRecords(renderer.RenderPage(ctx, page))
		for _, skip := range skips {
			e.logger.Warn("skip activity record", slog.String("record_id", skip.RecordID), slog.Any("error", skip.Cause))
		}
		skipped += len(skips)
		if err != nil {
			return skipped, &ExportAbortedError{Cause: fmt.Errorf("render output page %d: %w", index+1, err)}
		}
		if page.Last() {
			summary := Summary{TotalRecords: len(records), Filter: filter, GeneratedAt: generatedAt}
			if err := renderer.RenderSummary(ctx, summary); err != nil {
				return skipped, &ExportAbortedError{Cause: fmt.Errorf("render summary: %w", err)}
			}
		}
	}
	return skipped, nil
}

// OutputPageCount returns ceil(records/capacity).
func OutputPageCount(records, capacity int) int {
	if records <= 0 || capacity <= 0 {
		return 0
	}
	return (records + capacity - 1) / capacity
}
