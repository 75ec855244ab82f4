// Package authhttp implements the gateway interfaces against the hosted auth
// service's REST surface.
package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/meridianhq/stepup/internal/stepup/gateway"
	"github.com/meridianhq/stepup/pkg/httpx"
)

// Client talks to the auth service. It implements gateway.Gateway.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	mu     sync.RWMutex
	bearer string
}

// New creates a client for the service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBearer installs the access token used for authenticated calls
// (enrollment and factor management). Pass "" to clear it.
func (c *Client) SetBearer(token string) {
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// requestOpts controls per-call behavior of doJSON.
type requestOpts struct {
	authed  bool // attach the bearer token
	noStore bool // decorate no-store and refuse cached responses
}

// doJSON performs a JSON request/response cycle. A nil target discards the
// response body. Non-2xx responses come back as *gateway.Error.
func (c *Client) doJSON(
	ctx context.Context,
	method, path string,
	body, target any,
	expected int,
	opts requestOpts,
) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.authed {
		c.mu.RLock()
		bearer := c.bearer
		c.mu.RUnlock()
		if bearer == "" {
			return gateway.ErrInvalidToken
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if opts.noStore {
		httpx.DecorateNoStore(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if opts.noStore {
		if err := httpx.VerifyUncached(resp); err != nil {
			return fmt.Errorf("%w: %v", gateway.ErrStaleStatus, err)
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expected {
		return parseError(resp, raw)
	}

	if target != nil {
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// parseError turns a non-2xx response into a typed gateway error.
func parseError(resp *http.Response, body []byte) error {
	var wire gateway.Error
	if err := json.Unmarshal(body, &wire); err == nil && wire.Code != "" {
		wire.StatusCode = resp.StatusCode
		return &wire
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return gateway.ErrRateLimited
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return gateway.ErrServer
	}

	return &gateway.Error{
		StatusCode:  resp.StatusCode,
		Code:        gateway.CodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
