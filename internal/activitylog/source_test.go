package activitylog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeSource serves totals[filter] generated records. Pages listed in gates
// block until the gate channel is closed; pages listed in fail return the
// configured error.
type fakeSource struct {
	mu      sync.Mutex
	totals  map[Filter]int
	gates   map[string]chan struct{}
	started chan string
	fail    map[string]error
	calls   []string
	repeat  bool
}

func newFakeSource(totals map[Filter]int) *fakeSource {
	return &fakeSource{
		totals:  totals,
		gates:   map[string]chan struct{}{},
		started: make(chan string, 64),
		fail:    map[string]error{},
	}
}

func pageKey(filter Filter, page int) string {
	return fmt.Sprintf("%s#%d", filter, page)
}

func (f *fakeSource) gate(filter Filter, page int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[pageKey(filter, page)] = ch
	return ch
}

func (f *fakeSource) failOn(filter Filter, page int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[pageKey(filter, page)] = err
}

func (f *fakeSource) clearFailure(filter Filter, page int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fail, pageKey(filter, page))
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) FetchPage(ctx context.Context, filter Filter, page, size int) (PageResult, error) {
	key := pageKey(filter, page)
	f.mu.Lock()
	f.calls = append(f.calls, key)
	gate := f.gates[key]
	failure := f.fail[key]
	total := f.totals[filter]
	repeat := f.repeat
	f.mu.Unlock()

	select {
	case f.started <- key:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return PageResult{}, ctx.Err()
		}
	}
	if failure != nil {
		return PageResult{}, failure
	}
	start := (page - 1) * size
	end := min(start+size, total)
	var records []LogRecord
	for i := start; i < end; i++ {
		records = append(records, makeRecord(filter, i))
	}
	if repeat && page > 1 && len(records) > 0 {
		records[0] = makeRecord(filter, start-1)
	}
	return PageResult{
		Records:    records,
		PageNumber: page,
		PageSize:   size,
		TotalPages: TotalPagesFor(total, size),
		TotalCount: total,
	}, nil
}

func makeRecord(filter Filter, i int) LogRecord {
	return LogRecord{
		ID:                fmt.Sprintf("%s-%03d", filter, i),
		Actor:             Actor{Name: "Ava", ColorCode: "#7265e6"},
		Subject:           Subject{Key: fmt.Sprintf("PRJ-%d", i+1), Name: "Ship release"},
		ChangeDescription: "changed status",
		Timestamp:         time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Minute),
	}
}

var errUnavailable = fmt.Errorf("%w: 503 service unavailable", ErrTransport)
