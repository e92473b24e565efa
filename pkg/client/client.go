// Package client is a Go client for the ConstructOps HTTP API. It speaks the
// success and error envelopes, retries transient failures and honours
// Retry-After on 429.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const Version = "0.1.0"

// APIPrefix is the server's resource mount point.
const APIPrefix = "/api/v1"

// ErrInvalidConfig is returned by NewClient for an unusable base URL or token.
var ErrInvalidConfig = stderrors.New("constructops: invalid client configuration")

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// Client talks to one ConstructOps deployment with one bearer token.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	token        string
	userAgent    string
	logger       Logger
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// FieldError is one entry of a validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Details    []FieldError
	RequestID  string
	// RetryAfter is set on 429 responses that carry the header.
	RetryAfter time.Duration

	hasRetryAfter bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("constructops: HTTP %d: %s [request_id=%s]", e.StatusCode, e.Message, e.RequestID)
}

func (e *APIError) IsNotFound() bool     { return e.StatusCode == http.StatusNotFound }
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }
func (e *APIError) IsForbidden() bool    { return e.StatusCode == http.StatusForbidden }
func (e *APIError) IsRateLimited() bool  { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsValidation() bool   { return e.StatusCode == http.StatusBadRequest && len(e.Details) > 0 }
func (e *APIError) IsServerError() bool  { return e.StatusCode >= 500 && e.StatusCode < 600 }

// PageInfo is the pagination block of a list response.
type PageInfo struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *PageInfo       `json:"pagination,omitempty"`
	Error      string          `json:"error"`
	Details    []FieldError    `json:"details,omitempty"`
	RequestID  string          `json:"requestId"`
}

// NewClient creates a client for baseURL (scheme and host, no API prefix)
// authenticating with token.
func NewClient(baseURL string, token string, opts ...Option) (*Client, error) {
	if baseURL == "" || token == "" {
		return nil, ErrInvalidConfig
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid baseURL: %v", ErrInvalidConfig, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: baseURL scheme must be http or https", ErrInvalidConfig)
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		userAgent:    fmt.Sprintf("constructops-go/%s", Version),
		logger:       noopLogger{},
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do performs one API call with retries. out receives the decoded envelope of
// a successful response; a 204 leaves it untouched.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out *envelope) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	// a POST may have been applied before a transport or server failure
	idempotent := method != http.MethodPost

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			wait := c.calculateBackoff(attempt)
			if apiErr, ok := lastErr.(*APIError); ok && apiErr.IsRateLimited() {
				wait = apiErr.RetryAfter
			}
			c.logger.Debugf("retry attempt %d after %v", attempt, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		requestID := uuid.New().String()
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-ID", requestID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Errorf("request failed: %v", err)
			if !idempotent {
				return err
			}
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		c.logger.Debugf("%s %s %d (%v)", method, path, resp.StatusCode, time.Since(start))

		if resp.StatusCode >= 400 {
			apiErr := decodeError(resp, respBody, requestID)
			lastErr = apiErr
			if c.shouldRetry(apiErr, idempotent) {
				continue
			}
			return apiErr
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func decodeError(resp *http.Response, body []byte, requestID string) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
	var env envelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Error != "" {
		apiErr.Message = env.Error
		apiErr.Details = env.Details
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds >= 0 {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
			apiErr.hasRetryAfter = true
		}
	}
	return apiErr
}

// shouldRetry retries server errors of idempotent calls and rate limits
// that name an acceptable wait.
func (c *Client) shouldRetry(err *APIError, idempotent bool) bool {
	if err.IsServerError() {
		return idempotent
	}
	return err.IsRateLimited() && err.hasRetryAfter && err.RetryAfter <= c.retryWaitMax
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.retryWaitMin * time.Duration(1<<uint(attempt-1))
	if backoff > c.retryWaitMax {
		backoff = c.retryWaitMax
	}
	if quarter := int64(backoff / 4); quarter > 0 {
		backoff += time.Duration(rand.Int63n(quarter))
	}
	return backoff
}
