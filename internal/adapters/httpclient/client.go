// Package httpclient provides a shared HTTP client for *arr API communication.
// Every controller instance gets its own Client; requests carry the instance's
// API key in the X-Api-Key header and decode JSON responses.
package httpclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 5 * time.Second

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client is an HTTP client for *arr API communication.
// It handles authentication via X-Api-Key header and JSON serialization.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config contains configuration options for creating a new Client.
type Config struct {
	// BaseURL is the base URL of the *arr API (e.g., "http://sonarr:8989")
	BaseURL string

	// APIKey is the API key for authentication
	APIKey string

	// InsecureSkipVerify disables TLS certificate verification
	// Warning: Only use this for self-signed certificates in trusted environments
	InsecureSkipVerify bool

	// Timeout is the HTTP request timeout (defaults to DefaultTimeout if zero)
	Timeout time.Duration
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	hc := &http.Client{
		Timeout: timeout,
	}

	if cfg.InsecureSkipVerify {
		hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // User explicitly requested insecure
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: hc,
	}
}

// BaseURL returns the base URL configured for this client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and decodes the JSON response into result.
func (c *Client) Get(ctx context.Context, path string, query url.Values, result interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodGet, path, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	resp, err := c.do(ctx, http.MethodDelete, path, query)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(http.MethodDelete, path, resp)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func statusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
