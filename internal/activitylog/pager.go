package activitylog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultPageSize is the interactive page size.
const DefaultPageSize = 20

// Status describes what the pager is doing.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusLoadingInitial Status = "loading_initial"
	StatusLoadingMore    Status = "loading_more"
	StatusError          Status = "error"
)

// PagerConfig wires the pager dependencies.
type PagerConfig struct {
	Source   PageSource
	PageSize int
	Filter   Filter
	Logger   *slog.Logger
}

// PagerState is a snapshot of the pager for display.
type PagerState struct {
	Filter      Filter
	Loaded      int
	CurrentPage int
	TotalPages  int
	Status      Status
	Err         error
}

// Pager keeps the loaded prefix of the log for the current filter and loads
// further pages on demand. At most one page fetch runs per epoch; an epoch
// ends whenever the filter changes.
type Pager struct {
	source   PageSource
	pageSize int
	logger   *slog.Logger
	flights  singleflight.Group

	mu          sync.Mutex
	epoch       uint64
	filter      Filter
	records     []LogRecord
	seen        map[string]struct{}
	currentPage int
	totalPages  int
	inflight    bool
	status      Status
	err         error
}

var _ Window = (*Pager)(nil)

// NewPager constructs a pager positioned before the first page of cfg.Filter.
func NewPager(cfg PagerConfig) (*Pager, error) {
	if cfg.Source == nil {
		return nil, errors.New("activitylog: pager requires a page source")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	filter := cfg.Filter
	if filter == "" {
		filter = FilterAll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pager{source: cfg.Source, pageSize: pageSize, logger: logger}
	p.resetLocked(filter)
	p.status = StatusIdle
	return p, nil
}

// resetLocked starts a new epoch. Until the first page arrives the pager
// assumes one page exists so the sentinel row asks for it.
func (p *Pager) resetLocked(filter Filter) {
	p.epoch++
	p.filter = filter
	p.records = nil
	p.seen = make(map[string]struct{})
	p.currentPage = 0
	p.totalPages = 1
	p.inflight = false
	p.status = StatusLoadingInitial
	p.err = nil
}

// SetFilter switches to filter and loads its first page. Setting the current
// filter again does nothing.
func (p *Pager) SetFilter(ctx context.Context, filter Filter) error {
	if filter == "" {
		filter = FilterAll
	}
	p.mu.Lock()
	if filter == p.filter {
		p.mu.Unlock()
		return nil
	}
	p.resetLocked(filter)
	p.mu.Unlock()
	return p.RequestRange(ctx, 0, 0)
}

// Filter returns the active filter.
func (p *Pager) Filter() Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// IsItemLoaded reports whether the row at index can render immediately.
func (p *Pager) IsItemLoaded(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return index >= 0 && index < len(p.records)
}

// ItemCount returns the number of rows, including one trailing loading row
// while more pages exist.
func (p *Pager) ItemCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentPage < p.totalPages {
		return len(p.records) + 1
	}
	return len(p.records)
}

// HasMore reports whether further pages exist for the current filter.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPage < p.totalPages
}

// Record returns the loaded record at index.
func (p *Pager) Record(index int) (LogRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.records) {
		return LogRecord{}, false
	}
	return p.records[index], true
}

// Records returns a copy of the loaded records.
func (p *Pager) Records() []LogRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LogRecord, len(p.records))
	copy(out, p.records)
	return out
}

// State returns a snapshot of the pager.
func (p *Pager) State() PagerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PagerState{
		Filter:      p.filter,
		Loaded:      len(p.records),
		CurrentPage: p.currentPage,
		TotalPages:  p.totalPages,
		Status:      p.status,
		Err:         p.err,
	}
}

// LoadMoreItems implements Window.
func (p *Pager) LoadMoreItems(ctx context.Context, startIndex, stopIndex int) error {
	return p.RequestRange(ctx, startIndex, stopIndex)
}

// RequestRange makes sure rows up to stopIndex are loaded, fetching the next
// page when needed. Calls made while a fetch is in flight wait for that
// fetch instead of starting another one. A failed fetch is not retried;
// the next call asks for the same page again.
func (p *Pager) RequestRange(ctx context.Context, startIndex, stopIndex int) error {
	for attempt := 0; attempt < 2; attempt++ {
		p.mu.Lock()
		epoch := p.epoch
		page := p.currentPage
		if !p.inflight && (p.currentPage >= p.totalPages || stopIndex < len(p.records)) {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		key := strconv.FormatUint(epoch, 10)
		fetchCtx := context.WithoutCancel(ctx)
		ch := p.flights.DoChan(key, func() (interface{}, error) {
			return nil, p.loadNext(fetchCtx, epoch, stopIndex)
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
		}

		// A flight that finished just before this call joined it may have
		// loaded nothing for stopIndex; ask once more in that case.
		p.mu.Lock()
		stalled := p.epoch == epoch && p.currentPage == page
		p.mu.Unlock()
		if !stalled {
			return nil
		}
	}
	return nil
}

func (p *Pager) loadNext(ctx context.Context, epoch uint64, stopIndex int) error {
	p.mu.Lock()
	if p.epoch != epoch || p.currentPage >= p.totalPages || stopIndex < len(p.records) {
		p.mu.Unlock()
		return nil
	}
	page := p.currentPage + 1
	filter := p.filter
	if p.currentPage == 0 {
		p.status = StatusLoadingInitial
	} else {
		p.status = StatusLoadingMore
	}
	p.inflight = true
	p.mu.Unlock()

	result, err := p.source.FetchPage(ctx, filter, page, p.pageSize)
	if err == nil {
		err = result.Validate()
	}
	if err == nil && result.PageNumber != page {
		err = fmt.Errorf("%w: asked for page %d, got %d", ErrInvalidResponse, page, result.PageNumber)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch != epoch {
		p.logger.Debug("discard stale activity page",
			slog.String("filter", string(filter)), slog.Int("page", page))
		return nil
	}
	p.inflight = false
	if err != nil {
		p.status = StatusError
		p.err = err
		p.logger.Warn("load activity page",
			slog.String("filter", string(filter)), slog.Int("page", page), slog.Any("error", err))
		return err
	}
	for _, record := range result.Records {
		if _, dup := p.seen[record.ID]; dup {
			continue
		}
		p.seen[record.ID] = struct{}{}
		p.records = append(p.records, record)
	}
	p.currentPage = page
	p.totalPages = result.TotalPages
	p.status = StatusIdle
	p.err = nil
	return nil
}
