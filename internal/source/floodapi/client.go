package floodapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
)

const DefaultBaseURL = "https://environment.data.gov.uk/flood-monitoring/id"

// Config holds API client configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	PageDelay      time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Page is one decoded page of a paginated collection.
type Page struct {
	Offset int
	Items  []domain.Record
}

// FetchError reports the request that ended a paginated fetch.
type FetchError struct {
	Endpoint string
	Offset   int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s at offset %d: %v", e.Endpoint, e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type listResponse struct {
	Items []domain.Record `json:"items"`
}

// Client pages through collections of the flood monitoring API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	pageDelay      time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	metrics        *observability.Metrics
	logger         *slog.Logger
}

func NewClient(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		pageDelay:      cfg.PageDelay,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		metrics:        metrics,
		logger:         logger.With("component", "floodapi"),
	}
}

// Pages lazily yields pages of endpoint starting at offset 0. The sequence
// ends at the first empty page, or with a *FetchError when a request fails
// after all retries. Pages yielded before the error are complete.
func (c *Client) Pages(ctx context.Context, endpoint string, params url.Values, pageSize int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if pageSize <= 0 {
			yield(Page{}, &FetchError{Endpoint: endpoint, Err: fmt.Errorf("invalid page size %d", pageSize)})
			return
		}

		for offset := 0; ; offset += pageSize {
			if offset > 0 && c.pageDelay > 0 {
				select {
				case <-ctx.Done():
					yield(Page{Offset: offset}, &FetchError{Endpoint: endpoint, Offset: offset, Err: ctx.Err()})
					return
				case <-time.After(c.pageDelay):
				}
			}

			items, err := c.fetchPage(ctx, endpoint, params, offset, pageSize)
			if err != nil {
				c.logger.Warn("page fetch failed",
					"endpoint", endpoint,
					"offset", offset,
					"error", err,
				)
				yield(Page{Offset: offset}, &FetchError{Endpoint: endpoint, Offset: offset, Err: err})
				return
			}
			if len(items) == 0 {
				return
			}

			c.metrics.PagesFetched.WithLabelValues(endpoint).Inc()
			c.metrics.RecordsExtracted.WithLabelValues(endpoint).Add(float64(len(items)))

			if !yield(Page{Offset: offset, Items: items}, nil) {
				return
			}
		}
	}
}

// FetchAll collects every page of endpoint. On failure the returned
// extraction keeps all records fetched so far and carries the error.
func (c *Client) FetchAll(ctx context.Context, kind domain.EntityKind, endpoint string, params url.Values, pageSize int) domain.Extraction {
	ext := domain.Extraction{Kind: kind}

	for page, err := range c.Pages(ctx, endpoint, params, pageSize) {
		if err != nil {
			ext.Err = err
			break
		}
		ext.Records = append(ext.Records, page.Items...)
		ext.Pages++

		c.logger.Debug("fetched page",
			"endpoint", endpoint,
			"offset", page.Offset,
			"records", len(page.Items),
			"total", len(ext.Records),
		)
	}

	return ext
}

func (c *Client) fetchPage(ctx context.Context, endpoint string, params url.Values, offset, limit int) ([]domain.Record, error) {
	pageURL, err := c.pageURL(endpoint, params, offset, limit)
	if err != nil {
		return nil, err
	}

	var resp *listResponse

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err = c.doRequest(ctx, endpoint, pageURL)
		if err == nil {
			return resp.Items, nil
		}

		c.metrics.FetchErrors.WithLabelValues(endpoint).Inc()

		if attempt == c.maxAttempts || ctx.Err() != nil {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"endpoint", endpoint,
			"offset", offset,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) pageURL(endpoint string, params url.Values, offset, limit int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u = u.JoinPath(endpoint)

	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("_limit", strconv.Itoa(limit))
	q.Set("_offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) doRequest(ctx context.Context, endpoint, pageURL string) (*listResponse, error) {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FloodETL/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var apiResp listResponse
	if err := dec.Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &apiResp, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
