// Package videostats wraps the hosted video analytics provider that serves
// aggregate view metrics for session recordings.
package videostats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Config carries the provider credentials.
type Config struct {
	BaseURL   string
	APIToken  string
	AccountID string
}

// ViewMetrics is the aggregate result for one recording.
type ViewMetrics struct {
	TotalViews        int     `json:"total_views"`
	UniqueViewers     int     `json:"unique_viewers"`
	WatchTimeMinutes  float64 `json:"watch_time_minutes"`
	CompletionPercent float64 `json:"completion_percent"`
}

// Client calls the provider's aggregate metrics endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// New creates a provider client. An empty base URL yields a nil client; the
// analytics service treats a nil provider as "metrics unavailable".
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		return nil
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "videostats").Logger(),
	}
}

// ViewMetrics fetches aggregate metrics for a recording within a time range.
func (c *Client) ViewMetrics(ctx context.Context, videoID string, since, until time.Time) (ViewMetrics, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/videos/%s/analytics", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountID), url.PathEscape(videoID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ViewMetrics{}, fmt.Errorf("failed to build analytics request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	query := req.URL.Query()
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("until", until.UTC().Format(time.RFC3339))
	req.URL.RawQuery = query.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return ViewMetrics{}, fmt.Errorf("analytics request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return ViewMetrics{}, fmt.Errorf("analytics provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		Result ViewMetrics `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ViewMetrics{}, fmt.Errorf("failed to decode analytics response: %w", err)
	}

	return payload.Result, nil
}
