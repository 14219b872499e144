package activitylog

import "context"

// PageSource fetches one page of the filtered log. Implementations hold no
// cursor state and must be safe for concurrent use.
type PageSource interface {
	FetchPage(ctx context.Context, filter Filter, page, size int) (PageResult, error)
}

// PageSourceFunc adapts a function into a PageSource.
type PageSourceFunc func(ctx context.Context, filter Filter, page, size int) (PageResult, error)

// FetchPage implements PageSource.
func (f PageSourceFunc) FetchPage(ctx context.Context, filter Filter, page, size int) (PageResult, error) {
	return f(ctx, filter, page, size)
}

// Window is the contract an infinite-loading list consumes.
type Window interface {
	ItemCount() int
	IsItemLoaded(index int) bool
	LoadMoreItems(ctx context.Context, startIndex, stopIndex int) error
}
