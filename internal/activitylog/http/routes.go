// Package activityloghttp exposes the project activity log over HTTP.
package activityloghttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// MountRoutes registers the activity log page and export endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects/{projectID}/activity-logs", h.handlePage)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Get("/projects/{projectID}/activity-logs/export", h.handleExport)
			gr.Post("/projects/{projectID}/activity-logs/exports", h.handleEnqueue)
		})
		r.Get("/activity-exports/{jobID}", h.handleDownload)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
