// Package httpclient provides the HTTP client used to reach the detection service,
// with context management, a default timeout, connection pooling and observability hooks.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a whole detection round trip when the caller's
	// context has no deadline. Video detections are slow, so this is generous.
	DefaultTimeout = 10 * time.Minute

	// DefaultMaxResponseBytes caps how much of a response body ReadBody accepts.
	DefaultMaxResponseBytes int64 = 1 << 30

	defaultMaxIdleConns        = 16
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 30 * time.Second
	defaultDialKeepAlive       = 30 * time.Second

	defaultUserAgent = "markdetect"
)

// Client wraps http.Client with per-request timeouts, User-Agent injection and
// before/after hooks used for metrics and logging. Safe for concurrent use.
type Client struct {
	client           *http.Client
	defaultTimeout   time.Duration
	userAgent        string
	maxResponseBytes int64

	hookMu        sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is the timeout applied if request context has no deadline
	DefaultTimeout time.Duration

	// UserAgent is added to all requests
	UserAgent string

	// MaxResponseBytes limits ReadBody (default: 1 GiB)
	MaxResponseBytes int64

	// MaxIdleConns controls connection pool size (default: 16)
	MaxIdleConns int

	// MaxIdleConnsPerHost controls per-host connection pool (default: 4)
	MaxIdleConnsPerHost int

	// ResponseHeaderTimeout is how long to wait for headers after the upload
	// completes. Zero means no limit, since the service only answers once
	// processing has finished.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      DefaultTimeout,
		UserAgent:           defaultUserAgent,
		MaxResponseBytes:    DefaultMaxResponseBytes,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	}
}

// New creates a new HTTP client. A nil cfg falls back to DefaultConfig; the
// caller's config is not mutated.
func New(cfg *Config) *Client {
	var c Config
	if cfg == nil {
		c = DefaultConfig()
	} else {
		c = *cfg
		if c.DefaultTimeout == 0 {
			c.DefaultTimeout = DefaultTimeout
		}
		if c.UserAgent == "" {
			c.UserAgent = defaultUserAgent
		}
		if c.MaxResponseBytes == 0 {
			c.MaxResponseBytes = DefaultMaxResponseBytes
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = defaultMaxIdleConns
		}
		if c.MaxIdleConnsPerHost == 0 {
			c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
	}

	return &Client{
		client:           &http.Client{Transport: transport},
		defaultTimeout:   c.DefaultTimeout,
		userAgent:        c.UserAgent,
		maxResponseBytes: c.MaxResponseBytes,
	}
}

// Do executes an HTTP request with context management and timeout enforcement.
// If ctx has no deadline the client's default timeout applies. The response body
// must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hookMu.RLock()
	beforeHook := c.beforeRequest
	afterHook := c.afterResponse
	c.hookMu.RUnlock()

	if beforeHook != nil {
		beforeHook(req)
	}

	resp, err := c.client.Do(req)

	if afterHook != nil {
		afterHook(req, resp, err)
	}

	if cancel != nil {
		if err != nil || resp == nil {
			cancel()
		} else {
			// The timeout must outlive Do so the caller can still read the body.
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		}
	}

	return resp, err
}

// Post performs a POST request with the given body and content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(ctx, req)
}

// ReadBody reads the whole response body, enforcing the configured size limit,
// and closes it.
func (c *Client) ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.maxResponseBytes)
	}
	return data, nil
}

// DefaultRequestTimeout returns the timeout applied to requests without a deadline.
func (c *Client) DefaultRequestTimeout() time.Duration {
	return c.defaultTimeout
}

// StandardClient exposes the underlying http.Client, e.g. for transport mocking in tests.
func (c *Client) StandardClient() *http.Client {
	return c.client
}

// SetBeforeRequestHook sets a function to be called before each request.
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.beforeRequest = fn
}

// SetAfterResponseHook sets a function to be called after each request.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// cancelOnClose releases the per-request timeout once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
