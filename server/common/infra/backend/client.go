// Package backend is a JSON-over-HTTP client for the chat backend. Requests
// rotate across the configured endpoints; an endpoint that fails
// repeatedly is skipped for a cooldown period.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultHTTPTimeout      = 5 * time.Second
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second
)

var (
	ErrNoEndpoint  = errors.New("backend endpoint is not configured")
	ErrUnavailable = errors.New("backend unavailable")
)

// StatusError is returned for 4xx responses. They are never retried on
// another endpoint.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d endpoint=%s", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("backend status %d endpoint=%s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// IsStatus reports whether err carries a backend response with the given status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type Client struct {
	endpoints []string
	http      *http.Client
	token     func() string
	next      uint32

	failThreshold    int
	endpointCooldown time.Duration
	now              func() time.Time

	mu         sync.Mutex
	failureCnt map[string]int
	cooldownTo map[string]time.Time
}

type Option interface {
	apply(*Client)
}

type optionFunc func(c *Client)

func (f optionFunc) apply(c *Client) { f(c) }

func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	})
}

func WithFailThreshold(n int) Option {
	return optionFunc(func(c *Client) {
		if n > 0 {
			c.failThreshold = n
		}
	})
}

func WithCooldown(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.endpointCooldown = d
		}
	})
}

// WithTokenSource sets the bearer token attached to every request.
func WithTokenSource(token func() string) Option {
	return optionFunc(func(c *Client) {
		c.token = token
	})
}

func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	})
}

func withClock(now func() time.Time) Option {
	return optionFunc(func(c *Client) {
		c.now = now
	})
}

func NewClient(endpoints []string, opts ...Option) *Client {
	normalized := normalizeEndpoints(endpoints)
	c := &Client{
		endpoints:        normalized,
		http:             &http.Client{Timeout: defaultHTTPTimeout},
		failThreshold:    defaultFailThreshold,
		endpointCooldown: defaultEndpointCooldown,
		now:              time.Now,
		failureCnt:       make(map[string]int, len(normalized)),
		cooldownTo:       make(map[string]time.Time, len(normalized)),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Do sends payload (when non-nil) as JSON and decodes the response body into
// out (when non-nil). Transport errors and 5xx responses move on to the
// next endpoint.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if len(c.endpoints) == 0 {
		return ErrNoEndpoint
	}
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode backend payload: %w", err)
		}
		body = encoded
	}
	normalizedPath := path
	if !strings.HasPrefix(normalizedPath, "/") {
		normalizedPath = "/" + normalizedPath
	}
	if len(query) > 0 {
		normalizedPath += "?" + query.Encode()
	}

	start := int(atomic.AddUint32(&c.next, 1)-1) % len(c.endpoints)
	var lastErr error
	for offset := 0; offset < len(c.endpoints); offset++ {
		endpoint := c.endpoints[(start+offset)%len(c.endpoints)]
		if c.isCoolingDown(endpoint, c.now()) {
			continue
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, endpoint+normalizedPath, reader)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != nil {
			if token := c.token(); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("backend request failed endpoint=%s: %w", endpoint, doErr)
			c.onFailure(endpoint, c.now())
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("backend status %d endpoint=%s: %w", resp.StatusCode, endpoint, ErrUnavailable)
			c.onFailure(endpoint, c.now())
			continue
		}
		if resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint, Message: readErrorMessage(resp.Body)}
			_ = resp.Body.Close()
			c.onSuccess(endpoint)
			return statusErr
		}

		var decodeErr error
		if out != nil && resp.StatusCode != http.StatusNoContent {
			decodeErr = json.NewDecoder(resp.Body).Decode(out)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
		}
		_ = resp.Body.Close()
		if decodeErr != nil {
			c.onFailure(endpoint, c.now())
			return fmt.Errorf("decode backend response endpoint=%s: %w", endpoint, decodeErr)
		}
		c.onSuccess(endpoint)
		return nil
	}

	if lastErr == nil {
		return ErrUnavailable
	}
	return lastErr
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, payload, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, payload, out)
}

func (c *Client) Put(ctx context.Context, path string, payload, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, payload, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// readErrorMessage extracts {"error": "..."} or {"message": "..."} bodies.
func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	if json.Unmarshal(raw, &payload) != nil {
		return strings.TrimSpace(string(raw))
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

func normalizeEndpoints(endpoints []string) []string {
	result := make([]string, 0, len(endpoints))
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		normalized := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func (c *Client) isCoolingDown(endpoint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldownTo[endpoint]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.cooldownTo, endpoint)
		return false
	}
	return true
}

func (c *Client) onFailure(endpoint string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.failureCnt[endpoint] + 1
	c.failureCnt[endpoint] = count
	if count >= c.failThreshold {
		c.cooldownTo[endpoint] = now.Add(c.endpointCooldown)
		c.failureCnt[endpoint] = 0
	}
}

func (c *Client) onSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt[endpoint] = 0
	delete(c.cooldownTo, endpoint)
}
