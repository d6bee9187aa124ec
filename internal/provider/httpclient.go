package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fulfillment-sync/internal/metrics"

	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorSnippet    = 512
	userAgent          = "fulfillment-sync/1.0"
)

// Client is the HTTP transport shared by adapters. It rate limits, records
// per-endpoint metrics and classifies provider failures.
type Client struct {
	key     Key
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Request describes one provider call.
type Request struct {
	Method string
	// Endpoint is the metrics label; Path may contain ids.
	Endpoint string
	Path     string
	Query    url.Values
	JSON     any
	Form     url.Values
	Header   http.Header
}

// NewClient builds a client for baseURL.
func NewClient(key Key, baseURL string, cfg HTTPConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		key:     key,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		logger:  logger.With("component", "provider_http", "provider", string(key)),
	}
}

// Do executes req and decodes a JSON response into dest when dest is not nil.
func (c *Client) Do(ctx context.Context, req Request, dest any) error {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return err
	}

	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, reqURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", c.key, err)
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}

	start := time.Now()
	res, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(endpoint, "error", time.Since(start))
		return fmt.Errorf("%s request %s: %w", c.key, endpoint, err)
	}
	defer res.Body.Close()
	c.observe(endpoint, strconv.Itoa(res.StatusCode), time.Since(start))

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.key, err)
	}

	if res.StatusCode >= 400 {
		return classifyHTTPError(c.key, res.StatusCode, string(bodyBytes))
	}
	if dest == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode %s %s response: %w", c.key, endpoint, err)
	}
	return nil
}

func (c *Client) observe(endpoint, statusLabel string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProviderRequests.WithLabelValues(string(c.key), endpoint, statusLabel).Inc()
	c.metrics.ProviderLatency.WithLabelValues(string(c.key), endpoint, statusLabel).Observe(elapsed.Seconds())
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	case req.Form != nil:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

func classifyHTTPError(key Key, status int, body string) error {
	snippet := strings.TrimSpace(body)
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}
	lower := strings.ToLower(snippet)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(lower, "invalid token") ||
		strings.Contains(lower, "token expired") ||
		strings.Contains(lower, "invalid api key"):
		return fmt.Errorf("%w: %s status=%d body=%s", ErrUnauthorized, key, status, snippet)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s body=%s", ErrRateLimited, key, snippet)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s body=%s", ErrNotFound, key, snippet)
	default:
		return fmt.Errorf("%s error: status=%d body=%s", key, status, snippet)
	}
}
