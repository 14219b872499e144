package app

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/internal/activitylog/source"
	"github.com/worklenz/activitylog/internal/activitylog/store"
)

// ActivitySources returns a per-project page source factory over reader.
// Pages are cached in Redis when client is set and ttl is positive.
func ActivitySources(reader store.PageReader, client *redis.Client, ttl time.Duration, logger *slog.Logger) func(projectID string) activitylog.PageSource {
	return func(projectID string) activitylog.PageSource {
		base := store.Source{Reader: reader, ProjectID: projectID}
		if client == nil || ttl <= 0 {
			return base
		}
		return source.NewCached(base, client, ttl, projectID, logger)
	}
}
