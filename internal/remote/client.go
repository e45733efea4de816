// Package remote is the HTTP client for the assessment service. It answers
// the refresh scheduler's due-check and executes queued operations.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (1MB)
	MaxResponseSize = 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "cadence-sync/1.0"

	// IdempotencyKeyHeader carries the operation id so retried writes are deduplicated
	IdempotencyKeyHeader = "Idempotency-Key"

	duePath        = "/v1/assessments/due"
	operationsPath = "/v1/operations/"
)

// Client talks to the assessment service
type Client struct {
	endpoint    *url.URL
	client      *http.Client
	cadenceDays int
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client, e.g. an oauth2 client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithCadenceDays sets the threshold used when the service reports only
// daysSinceLast
func WithCadenceDays(days int) Option {
	return func(c *Client) {
		c.cadenceDays = days
	}
}

// NewClient creates a client for the service at endpoint
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid remote endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote endpoint must be http or https, got %q", endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		endpoint:    u,
		client:      &http.Client{Timeout: DefaultTimeout},
		cadenceDays: 90,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckDue asks the service whether a new assessment is due
func (c *Client) CheckDue(ctx context.Context) (refresh.DueStatus, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint.JoinPath(duePath).String(), nil, nil)
	if err != nil {
		return refresh.DueStatus{}, err
	}

	if !gjson.ValidBytes(body) {
		return refresh.DueStatus{}, errors.New("due-check response is not valid JSON")
	}
	days := gjson.GetBytes(body, "daysSinceLast")
	if !days.Exists() {
		return refresh.DueStatus{}, errors.New("due-check response is missing daysSinceLast")
	}

	status := refresh.DueStatus{DaysSinceLast: int(days.Int())}
	if due := gjson.GetBytes(body, "due"); due.Exists() {
		status.Due = due.Bool()
	} else {
		status.Due = status.DaysSinceLast >= c.cadenceDays
	}
	return status, nil
}

// Execute sends a queued operation to its write endpoint. Errors that a retry
// cannot fix are wrapped with backoff.Permanent.
func (c *Client) Execute(ctx context.Context, op queue.Operation) error {
	target := c.endpoint.JoinPath(operationsPath, url.PathEscape(op.Type)).String()
	headers := map[string]string{
		IdempotencyKeyHeader: op.ID,
		"Content-Type":       "application/json",
	}

	_, err := c.do(ctx, http.MethodPost, target, op.Payload, headers)
	if err != nil && !IsTransient(err) {
		return backoff.Permanent(err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewHTTPError(resp.StatusCode, target, resp.Status)
	}

	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
