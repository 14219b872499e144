package store

import (
	"context"
	"fmt"

	"github.com/worklenz/activitylog/internal/activitylog"
)

// Source serves one project's log as an activitylog.PageSource.
type Source struct {
	Reader    PageReader
	ProjectID string
}

// FetchPage implements activitylog.PageSource. Database failures surface
// as transport errors, like a 5xx from the remote endpoint.
func (s Source) FetchPage(ctx context.Context, filter activitylog.Filter, page, size int) (activitylog.PageResult, error) {
	if s.Reader == nil {
		return activitylog.PageResult{}, fmt.Errorf("store: source without reader")
	}
	result, err := s.Reader.Page(ctx, Query{ProjectID: s.ProjectID, Filter: filter, Page: page, Size: size})
	if err != nil {
		return activitylog.PageResult{}, fmt.Errorf("%w: %w", activitylog.ErrTransport, err)
	}
	return result, nil
}
