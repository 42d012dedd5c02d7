package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default limits for HTTP exchanges.
const (
	// defaultTimeout bounds a whole request/response exchange.
	defaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is retained.
	maxResponseSize = 1 << 20 // 1 MB
)

// Client starts non-blocking HTTP exchanges against one base URL.
//
// Thread Safety: all methods are safe for concurrent use, though each
// uploader instance keeps at most one request in flight at a time.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the given base URL.
//
// Parameters:
//   - baseURL: Server base URL; a trailing slash is trimmed
//   - timeout: Per-exchange timeout; 0 uses the default
//
// Returns:
//   - *Client: Client ready for use
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Request is a single in-flight HTTP exchange.
//
// A Request becomes Ready exactly once and never changes afterwards.
// All accessors are safe to call from the polling goroutine while the
// exchange completes in the background.
type Request struct {
	mu     sync.Mutex
	ready  bool
	status int
	body   []byte
	err    error
}

// Ready reports whether the exchange has reached its terminal state.
func (r *Request) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// StatusCode returns the HTTP status code, or 0 if the exchange failed
// at the transport level. Only meaningful once Ready.
func (r *Request) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Body returns the response body (truncated to the retention cap).
// Only meaningful once Ready.
func (r *Request) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Err returns the transport-level error, or nil if the exchange produced
// an HTTP response (of any status). Only meaningful once Ready.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// finish records the terminal state.
func (r *Request) finish(status int, body []byte, err error) {
	r.mu.Lock()
	r.ready = true
	r.status = status
	r.body = body
	r.err = err
	r.mu.Unlock()
}

// Get starts a GET exchange and returns immediately.
//
// Parameters:
//   - path: Request path appended to the base URL (may include a query)
//   - headers: Extra headers (may be nil)
//
// Returns:
//   - *Request: Handle to poll for completion
func (c *Client) Get(path string, headers map[string]string) *Request {
	return c.start(http.MethodGet, path, "", nil, headers)
}

// Post starts a POST exchange and returns immediately.
//
// Parameters:
//   - path: Request path appended to the base URL
//   - contentType: Content-Type header value
//   - body: Request body
//   - headers: Extra headers (may be nil)
//
// Returns:
//   - *Request: Handle to poll for completion
func (c *Client) Post(path string, contentType string, body []byte, headers map[string]string) *Request {
	return c.start(http.MethodPost, path, contentType, body, headers)
}

// start launches the exchange in the background.
func (c *Client) start(method, path, contentType string, body []byte, headers map[string]string) *Request {
	req := &Request{}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			req.finish(0, nil, fmt.Errorf("creating request: %w", err))
			return
		}
		if contentType != "" {
			httpReq.Header.Set("Content-Type", contentType)
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			req.finish(0, nil, fmt.Errorf("executing request: %w", err))
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			req.finish(0, nil, fmt.Errorf("reading response: %w", err))
			return
		}
		// Drain any remainder to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)

		req.finish(resp.StatusCode, respBody, nil)
	}()

	return req
}
