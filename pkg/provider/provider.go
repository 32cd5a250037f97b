// Package provider implements read-only clients for the Google mail,
// drive, and calendar REST APIs. Every call goes through a shared retry
// wrapper: exponential backoff on 429/5xx up to 3 attempts, immediate
// failure on other 4xx, and a distinguished ErrUnauthorized on 401 so
// callers can route the account back through the token guard.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultTimeout bounds each provider HTTP call.
const DefaultTimeout = 30 * time.Second

// maxAttempts is the retry budget for 429/5xx responses.
const maxAttempts = 3

// ErrUnauthorized marks a 401 from the provider. The caller refreshes
// the token and retries; the client never refreshes on its own.
var ErrUnauthorized = errors.New("provider rejected access token")

// APIError is a non-retryable provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is a retryable provider failure that
// survived the retry budget.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// Network-level errors are transient by definition.
	return err != nil && !errors.Is(err, ErrUnauthorized)
}

// restClient is the shared HTTP plumbing behind the three API surfaces.
type restClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func newRESTClient(httpClient *http.Client, logger *slog.Logger) *restClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &restClient{httpClient: httpClient, logger: logger}
}

// getJSON fetches u with the bearer token and decodes the response into
// out, retrying transient failures.
func (c *restClient) getJSON(ctx context.Context, token, u string, out any) error {
	body, err := c.get(ctx, token, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// get fetches u with the bearer token and returns the raw body,
// retrying transient failures.
func (c *restClient) get(ctx context.Context, token, u string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("provider request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return fmt.Errorf("failed to read provider response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body = data
			return nil
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &APIError{StatusCode: resp.StatusCode, Body: truncateForLog(data)}
		default:
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: truncateForLog(data)})
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExpBackoff(), maxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func newExpBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

func truncateForLog(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// withQuery appends query parameters to base.
func withQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	return base + "?" + params.Encode()
}
