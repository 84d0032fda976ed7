// Copyright 2025 James Ross
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/obs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// JSONResponse is returned by GetJSON/PostJSON. Data is kept as raw bytes
// so callers run it through a payload.Guard before committing to a full
// unmarshal.
type JSONResponse struct {
	StatusCode int
	Header     http.Header
	Data       json.RawMessage
}

// TextResponse is returned by GetText.
type TextResponse struct {
	StatusCode int
	Header     http.Header
	Text       string
}

// BytesResponse is returned by GetBytes.
type BytesResponse struct {
	StatusCode int
	Header     http.Header
	Data       []byte
}

// Client is the typed HTTP client shared by every adapter. One Client is
// constructed per process and handed to every adapter instance; its
// per-host rate limiters and retry policy are therefore shared state
// the same way a single redis.Client is shared by every worker goroutine
// in a queue-based system.
type Client struct {
	http        *http.Client
	cfg         config.HTTPClient
	log         *zap.Logger
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	subscribers []Subscriber
}

// New constructs a Client from config. The metrics subscriber is always
// registered; additional subscribers can be added with Subscribe.
func New(cfg config.HTTPClient, log *zap.Logger) *Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DialContext:         dialer.DialContext,
	}

	c := &Client{
		http: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
			Transport: transport,
		},
		cfg:      cfg,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
	c.Subscribe(metricsSubscriber)
	return c
}

// Subscribe registers an additional telemetry subscriber. Subscribers
// must not block.
func (c *Client) Subscribe(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, sub)
}

// SetRateLimit installs a per-host token bucket. Hosts without an
// explicit limit use the configured default rate/burst.
func (c *Client) SetRateLimit(host string, perSecond float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[host] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.DefaultRatePerS), c.cfg.DefaultBurst)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	subs := append([]Subscriber(nil), c.subscribers...)
	c.mu.Unlock()
	for _, s := range subs {
		s(ev)
	}
}

// GetJSON issues a GET request and returns the body as raw JSON bytes,
// retrying transient failures per the client's retry policy.
func (c *Client) GetJSON(ctx context.Context, url string) (*JSONResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := c.readBody(resp)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	if !json.Valid(body) {
		return nil, &DecodeError{URL: url, Err: fmt.Errorf("response body is not valid JSON")}
	}
	return &JSONResponse{StatusCode: resp.StatusCode, Header: resp.Header, Data: body}, nil
}

// PostJSON issues a POST request with a JSON-encoded body.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}) (*JSONResponse, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: fmt.Errorf("encode request payload: %w", err)}
	}
	resp, err := c.do(ctx, http.MethodPost, url, buf, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := c.readBody(resp)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	return &JSONResponse{StatusCode: resp.StatusCode, Header: resp.Header, Data: body}, nil
}

// GetText issues a GET request and returns the body decoded as UTF-8 text.
func (c *Client) GetText(ctx context.Context, url string) (*TextResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "text/plain")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := c.readBody(resp)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	return &TextResponse{StatusCode: resp.StatusCode, Header: resp.Header, Text: string(body)}, nil
}

// GetBytes issues a GET request and returns the raw (decompressed) body.
func (c *Client) GetBytes(ctx context.Context, url string) (*BytesResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := c.readBody(resp)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	return &BytesResponse{StatusCode: resp.StatusCode, Header: resp.Header, Data: body}, nil
}

// StreamBytes issues a GET request and returns the live response for the
// caller to stream from. The caller owns resp.Body and must close it;
// unlike the other accessors this does not buffer the body and therefore
// does not retry once the caller has begun reading.
func (c *Client) StreamBytes(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, "")
}

// readBody decompresses a gzip-encoded body when the server set
// Content-Encoding: gzip and the transport did not already handle it.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// do executes a single logical request with retry, backoff+jitter,
// Retry-After honoring, and per-host rate limiting. It returns the final
// http.Response (the caller owns and must close resp.Body) or a
// TransportError/HTTPStatusError once retries are exhausted.
func (c *Client) do(ctx context.Context, method, url string, body []byte, contentType string) (*http.Response, error) {
	host := hostOf(url)
	limiter := c.limiterFor(host)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryMaxAttempts; attempt++ {
		waitStart := time.Now()
		if err := limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: url, Err: err}
		}
		rateWait := time.Since(waitStart)

		spanCtx, span := obs.StartHTTPSpan(ctx, method, url)

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(spanCtx, method, url, reqBody)
		if err != nil {
			obs.RecordError(spanCtx, err)
			span.End()
			return nil, &TransportError{URL: url, Err: err}
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Accept", contentType)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept-Encoding", "gzip")
		for k, v := range obs.InjectTraceContext(spanCtx) {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		duration := time.Since(start)

		if err != nil {
			lastErr = &TransportError{URL: url, Err: err}
			obs.RecordError(spanCtx, lastErr)
			span.End()
			c.emit(Event{Method: method, URL: url, Host: host, Attempt: attempt, Duration: duration, Err: lastErr, RateWait: rateWait})
			if attempt == c.cfg.RetryMaxAttempts {
				break
			}
			if c.log != nil {
				c.log.Warn("http transport error, retrying", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			}
			c.sleepBackoff(ctx, attempt, 0)
			continue
		}

		c.emit(Event{Method: method, URL: url, Host: host, Attempt: attempt, StatusCode: resp.StatusCode, Duration: duration, RateWait: rateWait})

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			obs.SetSpanSuccess(spanCtx)
			span.End()
			return resp, nil
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == c.cfg.RetryMaxAttempts {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			statusErr := &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Body: string(b)}
			obs.RecordError(spanCtx, statusErr)
			span.End()
			return nil, statusErr
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		lastErr = &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
		obs.RecordError(spanCtx, lastErr)
		span.End()
		c.sleepBackoff(ctx, attempt, retryAfter)
	}
	return nil, lastErr
}

// sleepBackoff waits the retry delay for attempt, honoring an explicit
// Retry-After duration when the server supplied one.
func (c *Client) sleepBackoff(ctx context.Context, attempt int, retryAfter time.Duration) {
	d := retryAfter
	if d <= 0 {
		d = backoffDuration(attempt, c.cfg.RetryInitialMS, c.cfg.RetryMaxMS, c.cfg.RetryMultiplier)
	} else if maxD := time.Duration(c.cfg.RetryMaxMS) * time.Millisecond; d > maxD {
		d = maxD
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// backoffDuration computes exponential backoff with full jitter, the
// same shape as the worker pool's retry delay but parameterized in
// milliseconds since HTTP retry intervals are configured that way.
func backoffDuration(attempt int, initialMS, maxMS int, multiplier float64) time.Duration {
	base := float64(initialMS)
	for i := 1; i < attempt; i++ {
		base *= multiplier
	}
	if base > float64(maxMS) {
		base = float64(maxMS)
	}
	jittered := base * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered) * time.Millisecond
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
