// Package source provides activitylog.PageSource implementations backed by
// the remote page endpoint and by a Redis cache.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/worklenz/activitylog/internal/activitylog"
)

// HTTPConfig configures the remote page source.
type HTTPConfig struct {
	BaseURL   string
	ProjectID string
	Client    *http.Client
}

// HTTP fetches pages from GET /api/v1/projects/{id}/activity-logs.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP builds a remote page source for one project.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("source: base url required")
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("source: project id required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{
		endpoint: base + "/api/v1/projects/" + url.PathEscape(cfg.ProjectID) + "/activity-logs",
		client:   client,
	}, nil
}

// FetchPage implements activitylog.PageSource. The filter parameter is
// omitted for FilterAll.
func (s *HTTP) FetchPage(ctx context.Context, filter activitylog.Filter, page, size int) (activitylog.PageResult, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	if !filter.IsAll() {
		query.Set("filter", string(filter))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return activitylog.PageResult{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return activitylog.PageResult{}, fmt.Errorf("%w: %w", activitylog.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return activitylog.PageResult{}, fmt.Errorf("%w: status %d: %s", activitylog.ErrTransport, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return activitylog.PageResult{}, fmt.Errorf("%w: status %d", activitylog.ErrInvalidResponse, resp.StatusCode)
	}

	var envelope activitylog.PageEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&envelope); err != nil {
		return activitylog.PageResult{}, fmt.Errorf("%w: decode body: %v", activitylog.ErrInvalidResponse, err)
	}
	if !envelope.Done || envelope.Body == nil {
		return activitylog.PageResult{}, fmt.Errorf("%w: %s", activitylog.ErrInvalidResponse, envelopeMessage(envelope))
	}
	result, err := envelope.Body.Decode()
	if err != nil {
		return activitylog.PageResult{}, err
	}
	if err := result.Validate(); err != nil {
		return activitylog.PageResult{}, err
	}
	return result, nil
}

func envelopeMessage(envelope activitylog.PageEnvelope) string {
	if envelope.Message != "" {
		return envelope.Message
	}
	return "request not done"
}
