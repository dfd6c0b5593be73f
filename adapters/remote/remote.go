// Package remote provides adapters that delegate to external HTTP services:
// the pricing service (plans, tax rates, metering) and the auth service
// (tenants, user info).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/meterbill/ports"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
	maxBody        = 8 << 20
	userAgent      = "meterbill"
)

// ClientConfig configures the remote client. Credentials are passed here
// explicitly; the client never reads the process environment.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration     // 0 = 10s
	Headers map[string]string // sent on every request
}

// Client is a JSON client for one upstream service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	headers    http.Header
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		headers:    headers,
	}
}

// Request calls the service with the client's API key. body, when not nil,
// is sent as JSON; the response is decoded into result when not nil.
func (c *Client) Request(ctx context.Context, method, path string, body, result any) error {
	return c.do(ctx, call{method: method, path: path, token: c.apiKey, body: body, result: result})
}

// RequestAs calls the service with a caller's bearer token instead of the
// API key.
func (c *Client) RequestAs(ctx context.Context, token, method, path string, body, result any) error {
	return c.do(ctx, call{method: method, path: path, token: token, body: body, result: result})
}

type call struct {
	method string
	path   string
	token  string
	body   any
	result any
}

func (c *Client) do(ctx context.Context, cl call) error {
	var payload io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", cl.method, cl.path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, payload)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", cl.method, cl.path, err)
	}

	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteError{
			Method:     cl.method,
			Path:       cl.path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if cl.result == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(cl.result); err != nil {
		return fmt.Errorf("decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

// RemoteError is a non-2xx answer from an upstream service.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: remote error %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// HTTPStatus returns the upstream status code.
func (e *RemoteError) HTTPStatus() int {
	return e.StatusCode
}

// Is maps upstream 404 to ports.ErrNotFound and 401 to ports.ErrUnauthorized.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ports.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ports.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

func escape(s string) string {
	return url.PathEscape(s)
}
