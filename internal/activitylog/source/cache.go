package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/worklenz/activitylog/internal/activitylog"
)

const cacheKeyPrefix = "activitylog:page"

// Cached keeps recently fetched pages in Redis. Redis problems never fail a
// fetch; the inner source is used instead.
type Cached struct {
	inner  activitylog.PageSource
	client *redis.Client
	ttl    time.Duration
	scope  string
	logger *slog.Logger
}

// NewCached wraps inner. scope separates key spaces, typically a project id.
func NewCached(inner activitylog.PageSource, client *redis.Client, ttl time.Duration, scope string, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, client: client, ttl: ttl, scope: scope, logger: logger}
}

// Key returns the cache key of one page.
func (c *Cached) Key(filter activitylog.Filter, page, size int) string {
	if filter == "" {
		filter = activitylog.FilterAll
	}
	return fmt.Sprintf("%s:%s:%s:%d:%d", cacheKeyPrefix, c.scope, filter, page, size)
}

// FetchPage implements activitylog.PageSource.
func (c *Cached) FetchPage(ctx context.Context, filter activitylog.Filter, page, size int) (activitylog.PageResult, error) {
	if c.inner == nil {
		return activitylog.PageResult{}, errors.New("source: cache without inner source")
	}
	if c.client == nil || c.ttl <= 0 {
		return c.inner.FetchPage(ctx, filter, page, size)
	}
	key := c.Key(filter, page, size)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var body activitylog.PageBody
		if jsonErr := json.Unmarshal(raw, &body); jsonErr == nil {
			if result, decodeErr := body.Decode(); decodeErr == nil {
				return result, nil
			}
		}
		c.logger.Warn("discard corrupt activity cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("activity cache get", slog.String("key", key), slog.Any("error", err))
	}

	result, err := c.inner.FetchPage(ctx, filter, page, size)
	if err != nil {
		return activitylog.PageResult{}, err
	}
	payload, err := json.Marshal(activitylog.EncodePage(result))
	if err != nil {
		return result, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("activity cache set", slog.String("key", key), slog.Any("error", err))
	}
	return result, nil
}
