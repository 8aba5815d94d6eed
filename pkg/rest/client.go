// Package rest is the synchronous HTTP client for the IoT management
// service. It handles auth, retries, typed errors, streamed file
// transfer, and opening device API sockets.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is used when neither the option nor the environment
// provides a service URL.
const DefaultBaseURL = "https://things.example-iot.net/"

// Environment variables consulted by New.
const (
	EnvURL   = "IOTKIT_URL"
	EnvToken = "IOTKIT_TOKEN"
)

// Client talks to the management service. All methods are safe for
// concurrent use.
type Client struct {
	baseURL    string
	token      string
	project    string
	httpClient *http.Client
	retry      RetryConfig
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithProject scopes requests to a project subdomain.
func WithProject(project string) Option {
	return func(c *Client) { c.project = project }
}

// WithHTTPClient substitutes the underlying HTTP client (timeouts,
// TLS, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the given base URL. An empty url falls back
// to IOTKIT_URL, then to the public service. The token falls back to
// IOTKIT_TOKEN.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv(EnvURL)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      os.Getenv(EnvToken),
		httpClient: http.DefaultClient,
		retry:      DefaultRetryConfig(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Project returns the current project scope, empty when unscoped.
func (c *Client) Project() string { return c.project }

// SetProject changes the project scope for subsequent requests.
func (c *Client) SetProject(project string) { c.project = project }

type requestOptions struct {
	method string
	query  url.Values
	body   io.Reader
	ctype  string
}

// RequestOption adjusts one request.
type RequestOption func(*requestOptions)

// WithMethod overrides the HTTP method (default POST for Call, GET for
// Do without a body).
func WithMethod(method string) RequestOption {
	return func(ro *requestOptions) { ro.method = method }
}

// WithQuery appends query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(ro *requestOptions) { ro.query = q }
}

// WithRawBody sends the given bytes instead of JSON-encoded params.
func WithRawBody(data []byte, contentType string) RequestOption {
	return func(ro *requestOptions) {
		ro.body = bytes.NewReader(data)
		ro.ctype = contentType
	}
}

// Call performs an API operation and returns the decoded JSON body.
// Params, when non-nil, are JSON-encoded as the request body; the
// default method is POST. Non-2xx responses become *APIError.
func (c *Client) Call(ctx context.Context, path string, params any, opts ...RequestOption) (json.RawMessage, error) {
	resp, err := c.Do(ctx, path, params, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp, path); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: read response for %s: %w", path, err)
	}
	return json.RawMessage(body), nil
}

// CallInto performs Call and unmarshals the result into out.
func (c *Client) CallInto(ctx context.Context, path string, params any, out any, opts ...RequestOption) error {
	raw, err := c.Call(ctx, path, params, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rest: decode response for %s: %w", path, err)
	}
	return nil
}

// Do performs a request and returns the raw response. The caller owns
// the body and the status check; the file-transfer helpers use this.
func (c *Client) Do(ctx context.Context, path string, params any, opts ...RequestOption) (*http.Response, error) {
	ro := requestOptions{}
	for _, opt := range opts {
		opt(&ro)
	}

	if ro.body == nil && params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rest: marshal params for %s: %w", path, err)
		}
		ro.body = bytes.NewReader(data)
		ro.ctype = "application/json"
		if ro.method == "" {
			ro.method = http.MethodPost
		}
	}
	if ro.method == "" {
		ro.method = http.MethodGet
	}

	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(ro.query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + ro.query.Encode()
	}

	requestID := uuid.NewString()
	c.log.Debug().Str("method", ro.method).Str("path", path).Str("request_id", requestID).
		Msg("api request")

	// Reread the body on every retry attempt.
	var bodyBytes []byte
	if ro.body != nil {
		var err error
		bodyBytes, err = io.ReadAll(ro.body)
		if err != nil {
			return nil, fmt.Errorf("rest: read request body: %w", err)
		}
	}

	return doWithRetry(ctx, c.retry, func(ctx context.Context) (*http.Response, error) {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, ro.method, u, body)
		if err != nil {
			return nil, err
		}
		if ro.ctype != "" {
			req.Header.Set("Content-Type", ro.ctype)
		}
		req.Header.Set("X-Request-ID", requestID)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if c.project != "" {
			req.Header.Set("X-Project", c.project)
		}
		return c.httpClient.Do(req)
	})
}
