// Package client provides an HTTP client SDK for the product record store.
// Calls are retried with exponential backoff and wrapped in a circuit breaker,
// so a struggling server does not get hammered by every caller.
package client

import (
	"bytes"
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

	"github.com/crawlkit/prodstore/pkg/config"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/sony/gobreaker/v2"
)

// Sentinel errors returned by the SDK. They mirror the server's domain errors
// so callers can branch with errors.Is without knowing HTTP status codes.
var (
	ErrNotFound  = errors.New("product not found")
	ErrDuplicate = errors.New("product already exists")
	ErrInvalid   = errors.New("invalid product")
)

// Config holds the settings for a Client.
type Config struct {
	// BaseURL is the server address, e.g. "http://localhost:8080".
	BaseURL string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// Resilience controls retry and circuit breaker behavior. Zero values
	// fall back to sensible defaults.
	Resilience config.ResilienceConfig
}

// ListOptions selects, orders and pages the product listing.
type ListOptions struct {
	Brand     string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// ListResult is one page of products plus the total match count.
type ListResult struct {
	Items  []model.Record `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type batchResponse struct {
	IDs []string `json:"ids"`
}

type batchItemsResponse struct {
	Items []model.Record `json:"items"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      config.RetryConfig
	cb         *gobreaker.CircuitBreaker[[]byte]
}

// New creates a Client for the server at cfg.BaseURL.
func New(cfg Config) *Client {
	retry := cfg.Resilience.Retry
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 3
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 100 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		cb:         newCircuitBreaker(cfg.Resilience.CircuitBreaker),
	}
}

// newCircuitBreaker builds a breaker that trips on transport failures and
// server errors while treating domain errors (not found, duplicate, invalid)
// as successful round trips.
func newCircuitBreaker(cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker[[]byte] {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.ErrorRatePercent == 0 {
		cfg.ErrorRatePercent = 50
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "prodstore-client-cb",
		MaxRequests: 3,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.ConsecutiveFailures ||
				(counts.TotalSuccesses+counts.TotalFailures > cfg.ConsecutiveFailures &&
					float64(counts.TotalFailures)/float64(counts.TotalSuccesses+counts.TotalFailures)*100 > float64(cfg.ErrorRatePercent))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Domain errors come from a healthy server.
			return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrInvalid)
		},
	}
	return gobreaker.NewCircuitBreaker[[]byte](st)
}

// SaveProduct stores a new product and returns it with the assigned ID.
func (c *Client) SaveProduct(ctx context.Context, rec model.Record) (*model.Record, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/products", nil, rec, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	var saved model.Record
	if err := json.Unmarshal(body, &saved); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &saved, nil
}

// SaveProducts stores a group of products atomically and returns the assigned
// IDs in input order. Either every record is stored or none is.
func (c *Client) SaveProducts(ctx context.Context, recs []model.Record) ([]string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/products/batch", nil, recs, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.IDs, nil
}

// GetProduct retrieves a product by its ID.
func (c *Client) GetProduct(ctx context.Context, id string) (*model.Record, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(id), nil, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

// GetProducts retrieves the products for the given IDs, in input order.
// Returns ErrNotFound if any ID is unknown.
func (c *Client) GetProducts(ctx context.Context, ids []string) ([]model.Record, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	body, err := c.do(ctx, http.MethodGet, "/api/v1/products/batch", query, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var resp batchItemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Items, nil
}

// UpdateProduct replaces an existing product.
func (c *Client) UpdateProduct(ctx context.Context, id string, rec model.Record) (*model.Record, error) {
	body, err := c.do(ctx, http.MethodPut, "/api/v1/products/"+url.PathEscape(id), nil, rec, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var updated model.Record
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &updated, nil
}

// UpdateProducts atomically replaces a group of products; each record names
// its target through its ID field. Either every update applies or none does.
func (c *Client) UpdateProducts(ctx context.Context, recs []model.Record) ([]model.Record, error) {
	body, err := c.do(ctx, http.MethodPut, "/api/v1/products/batch", nil, recs, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var resp batchItemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Items, nil
}

// DeleteProduct removes a product by its ID.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/products/"+url.PathEscape(id), nil, nil, http.StatusNoContent)
	return err
}

// DeleteProducts atomically removes the products with the given IDs: either
// every product is deleted or none is.
func (c *Client) DeleteProducts(ctx context.Context, ids []string) error {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/products/batch", query, nil, http.StatusNoContent)
	return err
}

// ListProducts retrieves one page of products.
func (c *Client) ListProducts(ctx context.Context, opts ListOptions) (*ListResult, error) {
	query := url.Values{}
	if opts.Brand != "" {
		query.Set("brand", opts.Brand)
	}
	if opts.SortBy != "" {
		query.Set("sort_by", opts.SortBy)
	}
	if opts.SortOrder != "" {
		query.Set("sort_order", opts.SortOrder)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v1/products", query, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var result ListResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// do performs one API call through the circuit breaker, retrying transient
// failures with exponential backoff. The response body is returned when the
// server answers with wantStatus.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, wantStatus int) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	return c.cb.Execute(func() ([]byte, error) {
		var lastErr error
		backoff := c.retry.InitialBackoff
		for attempt := uint(0); attempt < c.retry.MaxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
			}

			body, retryable, err := c.roundTrip(ctx, method, reqURL, reqBody, wantStatus)
			if err == nil {
				return body, nil
			}
			lastErr = err
			if !retryable {
				return nil, err
			}
		}
		return nil, lastErr
	})
}

// roundTrip performs a single HTTP attempt. The second return value reports
// whether the failure is transient and worth retrying.
func (c *Client) roundTrip(ctx context.Context, method, reqURL string, reqBody []byte, wantStatus int) ([]byte, bool, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == wantStatus {
		return body, false, nil
	}
	return nil, resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
		statusError(resp.StatusCode, body)
}

// statusError maps an HTTP status onto the SDK's sentinel errors.
func statusError(status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrDuplicate
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
	}
}
