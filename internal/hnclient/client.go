// Package hnclient implements the discovery-API client used by the poller.
package hnclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newsdeck/hn-ingest/internal/ingest"
)

// Config controls client behavior.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	RateLimit      float64
	RateBurst      int
}

// Client talks to the list-style discovery endpoints and the item detail
// endpoint. It implements ingest.ListClient and ingest.ItemClient.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	retry   *LinearRetryPolicy
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "hn-ingest/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		retry:   NewLinearRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial),
		logger:  logger,
	}
}

// List returns the ordered candidate ids for a named list, truncated to cap.
func (c *Client) List(ctx context.Context, name string, cap int) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, fmt.Sprintf("/%s.json", name), &ids); err != nil {
		return nil, fmt.Errorf("fetch list %s: %w", name, err)
	}
	if cap > 0 && len(ids) > cap {
		ids = ids[:cap]
	}
	return ids, nil
}

// MaxItem returns the current maximum item id.
func (c *Client) MaxItem(ctx context.Context) (int64, error) {
	var id int64
	if err := c.getJSON(ctx, "/maxitem.json", &id); err != nil {
		return 0, fmt.Errorf("fetch maxitem: %w", err)
	}
	return id, nil
}

// Updates returns the recently-changed item ids from the updates feed.
func (c *Client) Updates(ctx context.Context) ([]int64, error) {
	var feed struct {
		Items    []int64  `json:"items"`
		Profiles []string `json:"profiles"`
	}
	if err := c.getJSON(ctx, "/updates.json", &feed); err != nil {
		return nil, fmt.Errorf("fetch updates: %w", err)
	}
	return feed.Items, nil
}

// Item fetches one detail record. A nil item with nil error means the id
// resolved to JSON null upstream.
func (c *Client) Item(ctx context.Context, id int64) (*ingest.Item, error) {
	var item *ingest.Item
	if err := c.getJSON(ctx, fmt.Sprintf("/item/%d.json", id), &item); err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", id, err)
	}
	return item, nil
}

// getJSON performs a GET with per-attempt timeout and bounded linear
// retry. The retry loop is iterative; backoff sleeps are cancellable.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	url := c.cfg.BaseURL + path
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		lastErr = c.doOnce(ctx, url, v)
		if lastErr == nil {
			return nil
		}
		if !c.retry.ShouldRetry(ctx, lastErr, attempt) {
			return lastErr
		}
		c.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		if err := c.retry.Sleep(ctx, attempt); err != nil {
			return lastErr
		}
	}
}

func (c *Client) doOnce(ctx context.Context, url string, v any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keep-alive
		return fmt.Errorf("request failed: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
