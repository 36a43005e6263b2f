// Package extraction provides a client for the external crawl and
// extraction service. The service fetches sources, extracts fields, and
// validates; this process orchestrates it and owns everything durable.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/CdubVentures/spec-harvester-sub015/internal/harvest"
)

// Option configures the extraction client.
type Option func(*client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

type client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an extraction service client. The returned runner
// blocks for the full duration of a crawl round, so its timeout is the
// round's wall-clock ceiling.
func NewClient(apiKey string, opts ...Option) harvest.RoundRunner {
	c := &client{
		apiKey:  apiKey,
		baseURL: "http://127.0.0.1:8900",
		http: &http.Client{
			Timeout: 15 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunRound posts the round input and decodes the service's result.
func (c *client) RunRound(ctx context.Context, input harvest.RoundInput) (*harvest.RoundResult, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: marshal round input")
	}

	body, status, err := c.retryDo(ctx, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("extraction: status %d: %s", status, string(body))
	}

	var result harvest.RoundResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "extraction: decode round result")
	}
	return &result, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo posts the round payload with exponential backoff retries on
// transient failures (429, 500, 502, 503). A round request is idempotent
// on the service side, which is what makes the retry safe.
func (c *client) retryDo(ctx context.Context, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rounds", bytes.NewReader(payload))
		if err != nil {
			return nil, 0, eris.Wrap(err, "extraction: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, eris.Wrap(lastErr, "extraction: run round")
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "extraction: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("extraction: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}
