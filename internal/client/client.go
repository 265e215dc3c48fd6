package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"gigsync/internal/common"
	"gigsync/internal/logger"
	"gigsync/internal/metrics"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every request, including the wait for a rate token.
	DefaultTimeout = 10 * time.Second

	// DefaultTTL is the age after which a cached GET is served stale and revalidated.
	DefaultTTL = 5 * time.Minute

	maxResponseBytes = 4 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	TTL               time.Duration
	RequestsPerSecond float64
	Burst             int
	Cache             Cache
	Clock             clockwork.Clock
	HTTPClient        *http.Client
	Logger            *logger.Logger
}

// Client is the cache-augmented REST client shared by every component of a
// session. It never retries on its own; retrying is the caller's decision.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	ttl        time.Duration
	cache      Cache
	clock      clockwork.Clock
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger

	loads singleflight.Group

	mu         sync.Mutex
	refreshing map[string]bool
	bg         sync.WaitGroup
}

// New creates a request client. Zero-valued options fall back to defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		timeout:    opts.Timeout,
		ttl:        opts.TTL,
		cache:      opts.Cache,
		clock:      opts.Clock,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		logger:     opts.Logger.WithComponent("request_client"),
		refreshing: make(map[string]bool),
	}
}

// Get fetches endpoint. With useCache, a cached payload is returned without a
// network call; a payload older than the TTL additionally starts one background
// refresh. Without useCache the cache is not consulted but the fresh payload
// still replaces the cached one.
func (c *Client) Get(ctx context.Context, endpoint string, useCache bool) (json.RawMessage, error) {
	if useCache {
		entry, err := c.cache.Get(ctx, endpoint)
		if err != nil {
			c.logger.Warn("cache read failed, fetching", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		}
		if entry != nil {
			if c.clock.Since(entry.StoredAt) > c.ttl {
				metrics.CacheLookups.WithLabelValues("stale").Inc()
				c.revalidate(endpoint)
			} else {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
			}
			return entry.Payload, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()

		// Concurrent misses on one endpoint share a single request.
		v, err, _ := c.loads.Do(endpoint, func() (any, error) {
			return c.fetchAndStore(context.WithoutCancel(ctx), endpoint)
		})
		if err != nil {
			return nil, err
		}
		return v.(json.RawMessage), nil
	}

	return c.fetchAndStore(ctx, endpoint)
}

// Post sends a JSON body with POST.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPost, endpoint, body)
}

// Put sends a JSON body with PUT.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPut, endpoint, body)
}

// Patch sends a JSON body with PATCH.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPatch, endpoint, body)
}

// Delete sends a DELETE, with an optional JSON body.
func (c *Client) Delete(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodDelete, endpoint, body)
}

// ClearCache removes cached GETs whose endpoint matches pattern, or everything
// when pattern is empty.
func (c *Client) ClearCache(ctx context.Context, pattern string) error {
	if pattern == "" {
		return c.cache.Clear(ctx, nil)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return common.NewValidationError(fmt.Sprintf("invalid cache pattern %q: %s", pattern, err))
	}
	return c.cache.Clear(ctx, re)
}

// Wait blocks until in-flight background refreshes have finished.
func (c *Client) Wait() {
	c.bg.Wait()
}

// Decode unmarshals a raw response body, mapping failures to PARSE_ERROR.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, common.NewParseError(err)
	}
	return out, nil
}

func (c *Client) mutate(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	var rb requestBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		rb = requestBody{reader: bytes.NewReader(data), contentType: "application/json", length: int64(len(data))}
	}
	return c.do(ctx, method, endpoint, rb)
}

func (c *Client) fetchAndStore(ctx context.Context, endpoint string) (json.RawMessage, error) {
	payload, err := c.do(ctx, http.MethodGet, endpoint, requestBody{})
	if err != nil {
		return nil, err
	}
	entry := &Entry{Key: endpoint, Payload: payload, StoredAt: c.clock.Now()}
	if err := c.cache.Set(ctx, entry); err != nil {
		c.logger.Warn("cache write failed", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
	}
	return payload, nil
}

// revalidate starts one background refresh per endpoint. The refresh is not
// tied to any caller's context; a view switch does not cancel it.
func (c *Client) revalidate(endpoint string) {
	c.mu.Lock()
	if c.refreshing[endpoint] {
		c.mu.Unlock()
		return
	}
	c.refreshing[endpoint] = true
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, endpoint)
			c.mu.Unlock()
		}()

		if _, err := c.fetchAndStore(context.Background(), endpoint); err != nil {
			metrics.BackgroundRefreshes.WithLabelValues("failed").Inc()
			c.logger.Warn("background refresh failed",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()))
			return
		}
		metrics.BackgroundRefreshes.WithLabelValues("ok").Inc()
		c.logger.Debug("background refresh complete", slog.String("endpoint", endpoint))
	}()
}

type requestBody struct {
	reader      io.Reader
	contentType string
	length      int64
}

func (c *Client) do(ctx context.Context, method, endpoint string, body requestBody) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.roundTrip(ctx, method, endpoint, body)
	outcome := "ok"
	if err != nil {
		outcome = string(common.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.RequestsTotal.WithLabelValues(method, outcome).Inc()
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body requestBody) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, common.NewNetworkError(err)
		}
		return nil, common.NewTimeoutError(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body.reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body.reader != nil {
		req.ContentLength = body.length
		req.Header.Set("Content-Type", body.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serverError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// transportError separates a blown request budget from a request that never
// got an answer.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return common.NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.NewTimeoutError(err)
	}
	return common.NewNetworkError(err)
}

// errorBody is the structured error payload returned by the marketplace API.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Details    any    `json:"details"`
}

func serverError(status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || (eb.Message == "" && eb.Error == "") {
		return common.NewUnknownError(status)
	}
	return common.NewServerError(status, eb.Error, eb.Message, eb.Details)
}
