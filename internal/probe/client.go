package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRetries      = 2
	defaultRetryBackoff = 500 * time.Millisecond
	defaultUserAgent    = "CodeStreak/1.0"

	maxResponseBytes = 4 << 20
)

// ErrUnexpectedStatus reports a non-success HTTP status from a platform.
var ErrUnexpectedStatus = errors.New("probe: unexpected response status")

// ClientConfig tunes the shared outbound HTTP client used by all probes.
type ClientConfig struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	UserAgent    string
	Logger       *zap.Logger
}

// Client wraps http.Client with request retries and linear backoff for the
// transient failures third-party platforms produce routinely.
type Client struct {
	httpClient   *http.Client
	retries      int
	retryBackoff time.Duration
	userAgent    string
	logger       *zap.Logger
}

// NewClient constructs the retrying client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	if retries < 0 {
		retries = 0
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:   httpClient,
		retries:      retries,
		retryBackoff: backoff,
		userAgent:    userAgent,
		logger:       logger,
	}
}

// GetJSON fetches the URL and decodes a JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.fetch(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// PostJSON sends a JSON payload and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := c.fetch(ctx, http.MethodPost, url, encoded, "application/json")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// GetBody fetches the URL and returns the raw response body as text.
func (c *Client) GetBody(ctx context.Context, url string) (string, error) {
	body, err := c.fetch(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) fetch(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := c.attempt(ctx, method, url, payload, contentType)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		c.logger.Debug("probe request retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &statusError{status: response.StatusCode, url: url}
	}
	return body, nil
}

type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("probe: unexpected response status %d from %s", e.status, e.url)
}

func (e *statusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// StatusCode exposes the HTTP status for callers mapping 404s to "no user".
func (e *statusError) StatusCode() int {
	return e.status
}

// NotFound reports whether the error is a 404 response, which the probes map
// to "unknown username" rather than a failure.
func NotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

// ClientRejected reports whether the platform answered with a 4xx status,
// which platforms use for malformed or unknown handles.
func ClientRejected(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status >= 400 && se.status < 500
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
