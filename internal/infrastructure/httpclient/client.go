// Package httpclient is the outbound HTTP client shared by integration channels.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseSize = 10 << 20

var (
	// ErrTransport wraps connection, timeout and read failures
	ErrTransport = errors.New("httpclient: transport error")
)

// Config holds client configuration
type Config struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	// Retries is the number of extra attempts on transport errors and 502/503/504
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Retries:        2,
		RetryDelay:     500 * time.Millisecond,
		UserAgent:      "leadflow/1.0",
	}
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess returns true for 2xx responses
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body as a JSON object. Non-object or invalid bodies
// yield nil.
func (r *Response) JSON() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(r.Body, &m); err != nil {
		return nil
	}
	return m
}

// Decode decodes the body into v
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Text returns the body as a trimmed string
func (r *Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

// RequestOption customizes an outgoing request
type RequestOption func(*http.Request)

// WithBearer sets an Authorization: Bearer header
func WithBearer(token string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// WithBasicAuth sets HTTP basic authentication
func WithBasicAuth(user, password string) RequestOption {
	return func(r *http.Request) {
		r.SetBasicAuth(user, password)
	}
}

// WithHeader sets an arbitrary header
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// Client performs JSON and form requests with transport-level retries
type Client struct {
	http   *http.Client
	config Config
	logger *zap.Logger
}

// New creates a client
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
		logger: logger.Named("httpclient"),
	}
}

// NewWithHTTPClient wraps an existing http.Client
func NewWithHTTPClient(hc *http.Client, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: hc, config: cfg, logger: logger.Named("httpclient")}
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", opts)
}

// Post sends body as JSON
func (c *Client) Post(ctx context.Context, rawURL string, body any, opts ...RequestOption) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to marshal body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, payload, "application/json", opts)
}

// Patch sends body as JSON with the PATCH method
func (c *Client) Patch(ctx context.Context, rawURL string, body any, opts ...RequestOption) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to marshal body: %w", err)
	}
	return c.do(ctx, http.MethodPatch, rawURL, payload, "application/json", opts)
}

// PostForm sends values as application/x-www-form-urlencoded
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, []byte(values.Encode()), "application/x-www-form-urlencoded", opts)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string, opts []RequestOption) (*Response, error) {
	attempts := c.config.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.once(ctx, method, rawURL, body, contentType, opts)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt >= attempts || ctx.Err() != nil {
			return resp, err
		}

		c.logger.Debug("retrying request",
			zap.String("method", method),
			zap.String("host", hostOf(rawURL)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
		}
	}
}

func (c *Client) once(ctx context.Context, method, rawURL string, body []byte, contentType string, opts []RequestOption) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrTransport, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
