package activitylog

import (
	"fmt"
	"strings"
	"time"
)

// Filter is the category token used to narrow the activity log.
type Filter string

// Filter vocabulary accepted by the page endpoint.
const (
	FilterAll         Filter = "all"
	FilterName        Filter = "name"
	FilterStatus      Filter = "status"
	FilterPriority    Filter = "priority"
	FilterAssignee    Filter = "assignee"
	FilterEndDate     Filter = "end_date"
	FilterStartDate   Filter = "start_date"
	FilterEstimation  Filter = "estimation"
	FilterDescription Filter = "description"
	FilterPhase       Filter = "phase"
)

var filterLabels = map[Filter]string{
	FilterAll:         "All Activities",
	FilterName:        "Name Changes",
	FilterStatus:      "Status Changes",
	FilterPriority:    "Priority Changes",
	FilterAssignee:    "Assignee Changes",
	FilterEndDate:     "Due Date Changes",
	FilterStartDate:   "Start Date Changes",
	FilterEstimation:  "Estimation Changes",
	FilterDescription: "Description Changes",
	FilterPhase:       "Phase Changes",
}

// Filters returns the vocabulary in display order.
func Filters() []Filter {
	return []Filter{
		FilterAll, FilterName, FilterStatus, FilterPriority, FilterAssignee,
		FilterEndDate, FilterStartDate, FilterEstimation, FilterDescription, FilterPhase,
	}
}

// ParseFilter normalises raw input. Empty input means FilterAll.
func ParseFilter(raw string) (Filter, error) {
	value := Filter(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return FilterAll, nil
	}
	if !value.Valid() {
		return "", fmt.Errorf("activitylog: unknown filter %q", raw)
	}
	return value, nil
}

// Valid reports whether f belongs to the vocabulary.
func (f Filter) Valid() bool {
	_, ok := filterLabels[f]
	return ok
}

// IsAll reports whether the filter selects every record.
func (f Filter) IsAll() bool {
	return f == "" || f == FilterAll
}

// Label returns the human readable name of the filter.
func (f Filter) Label() string {
	if label, ok := filterLabels[f]; ok {
		return label
	}
	return string(f)
}

// Actor is who performed the change.
type Actor struct {
	Name      string
	ColorCode string
}

// Subject is the entity a log entry is about.
type Subject struct {
	Key  string
	Name string
}

// LogRecord is one immutable audit entry.
type LogRecord struct {
	ID                string
	Actor             Actor
	Subject           Subject
	ChangeDescription string
	Timestamp         time.Time
}

// Validate reports whether the record carries enough data to be rendered.
func (r LogRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("activitylog: record without id")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("activitylog: record %s without timestamp", r.ID)
	}
	return nil
}

// PageResult is the outcome of one page fetch.
type PageResult struct {
	Records    []LogRecord
	PageNumber int
	PageSize   int
	TotalPages int
	TotalCount int
}

// TotalPagesFor returns ceil(total/size).
func TotalPagesFor(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Validate checks the pagination metadata for internal consistency.
func (p PageResult) Validate() error {
	if p.PageNumber < 1 || p.PageSize < 1 {
		return fmt.Errorf("%w: page %d size %d", ErrInvalidResponse, p.PageNumber, p.PageSize)
	}
	if p.TotalCount < 0 || p.TotalPages < 0 {
		return fmt.Errorf("%w: negative totals", ErrInvalidResponse)
	}
	if want := TotalPagesFor(p.TotalCount, p.PageSize); want != p.TotalPages {
		return fmt.Errorf("%w: total pages %d disagrees with %d records at size %d",
			ErrInvalidResponse, p.TotalPages, p.TotalCount, p.PageSize)
	}
	if len(p.Records) > p.PageSize {
		return fmt.Errorf("%w: %d records exceed page size %d", ErrInvalidResponse, len(p.Records), p.PageSize)
	}
	return nil
}

// IsLast reports whether no page follows this one.
func (p PageResult) IsLast() bool {
	return p.PageNumber >= p.TotalPages
}

// Artifact is a rendered export document.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	Pages       int
	Records     int
	Skipped     int
}
