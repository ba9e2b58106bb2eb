package bodies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/telemetry"
)

// HTTPOptions configures the body service client.
type HTTPOptions struct {
	BaseURL  string
	Timeout  time.Duration
	Retries  int
	MaxBytes int64
	Backoff  time.Duration
}

// HTTPClient talks to the body retrieval service over HTTP.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	retries  int
	maxBytes int64
	backoff  time.Duration
	logger   *zap.Logger
}

// NewHTTPClient builds a client for the body service at opts.BaseURL.
func NewHTTPClient(opts HTTPOptions, logger *zap.Logger) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := opts.MaxBytes
	if limit == 0 {
		limit = 25 * 1024 * 1024
	}
	backoff := opts.Backoff
	if backoff == 0 {
		backoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		retries:  max(opts.Retries, 0),
		maxBytes: limit,
		backoff:  backoff,
		logger:   logger,
	}
}

// Fetch downloads the raw body for id.
func (c *HTTPClient) Fetch(ctx context.Context, id string) (Body, error) {
	if id == "" {
		return Body{}, fmt.Errorf("message id is required: %w", models.ErrInvalidArgument)
	}
	data, contentType, err := c.get(ctx, "/bodies/"+url.PathEscape(id))
	if err != nil {
		telemetry.BodyFetches.WithLabelValues("http", outcome(err)).Inc()
		return Body{}, fmt.Errorf("fetch body %s: %w", id, err)
	}
	telemetry.BodyFetches.WithLabelValues("http", "ok").Inc()
	return Body{ID: id, ContentType: contentType, Data: data}, nil
}

// Stats returns the body service's own statistics document.
func (c *HTTPClient) Stats(ctx context.Context) (map[string]any, error) {
	data, _, err := c.get(ctx, "/stats")
	if err != nil {
		return nil, fmt.Errorf("body service stats: %w", err)
	}
	var stats map[string]any
	if err := sonic.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode body service stats: %w: %w", models.ErrUpstream, err)
	}
	return stats, nil
}

// Ping checks the body service health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if _, _, err := c.get(ctx, "/health"); err != nil {
		return fmt.Errorf("body service health: %w", err)
	}
	return nil
}

// get issues an idempotent GET, retrying connection failures only. HTTP error
// statuses and client timeouts are returned immediately, so one call never
// waits longer than a single client timeout plus backoff.
func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", models.FromContext(ctx.Err())
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, "", fmt.Errorf("build request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", models.FromContext(ctx.Err())
			}
			lastErr = transportError(err)
			c.logger.Warn("body service request failed",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if errors.Is(lastErr, models.ErrTimeout) {
				return nil, "", lastErr
			}
			continue
		}
		return c.read(resp)
	}
	return nil, "", lastErr
}

func (c *HTTPClient) read(resp *http.Response) ([]byte, string, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", models.ErrNotFound
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, "", fmt.Errorf("status %d: %w", resp.StatusCode, models.ErrUpstream)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", transportError(err))
	}
	if int64(len(body)) > c.maxBytes {
		return nil, "", fmt.Errorf("body too large (>%d bytes): %w", c.maxBytes, models.ErrUpstream)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func transportError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", models.ErrUpstream, err)
}

func outcome(err error) string {
	switch models.KindOf(err) {
	case models.KindNotFound:
		return "not_found"
	case models.KindTimeout:
		return "timeout"
	default:
		return "error"
	}
}
