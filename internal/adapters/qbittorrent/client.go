// Package qbittorrent provides an authenticated qBittorrent WebUI session
// used to tag, pause, resume and delete grabbed torrents.
package qbittorrent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultTimeout is the per-call HTTP timeout
const DefaultTimeout = 5 * time.Second

// WebUI API endpoints
const (
	endpointLogin      = "/api/v2/auth/login"
	endpointVersion    = "/api/v2/app/version"
	endpointInfo       = "/api/v2/torrents/info"
	endpointAddTags    = "/api/v2/torrents/addTags"
	endpointRemoveTags = "/api/v2/torrents/removeTags"
	endpointDelete     = "/api/v2/torrents/delete"

	// qBittorrent v5 renamed pause/resume to stop/start
	endpointStop   = "/api/v2/torrents/stop"
	endpointPause  = "/api/v2/torrents/pause"
	endpointStart  = "/api/v2/torrents/start"
	endpointResume = "/api/v2/torrents/resume"
)

// Config contains configuration options for creating a new Session.
type Config struct {
	// BaseURL is the WebUI base URL (e.g., "http://qbittorrent:8080")
	BaseURL string

	Username string
	Password string

	// InsecureSkipVerify disables TLS certificate verification
	InsecureSkipVerify bool

	// Timeout is the per-call timeout (defaults to DefaultTimeout if zero)
	Timeout time.Duration
}

// Session is a process-wide qBittorrent WebUI session. Login is lazy and
// cached; the SID cookie lives in the client's cookie jar. Safe for
// concurrent use.
type Session struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// New creates a new qBittorrent session. No request is made until the first call.
func New(cfg Config) *Session {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	jar, _ := cookiejar.New(nil)
	hc := &http.Client{
		Timeout: timeout,
		Jar:     jar,
	}
	if cfg.InsecureSkipVerify {
		hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // User explicitly requested insecure
		}
	}

	return &Session{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: hc,
	}
}

// BaseURL returns the WebUI URL this session talks to.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Authenticated reports whether a login has succeeded and not been invalidated.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Authenticate logs in unless the session is already authenticated.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedIn {
		return nil
	}

	data := url.Values{}
	data.Set("username", s.username)
	data.Set("password", s.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpointLogin, strings.NewReader(data.Encode()))
	if err != nil {
		return &AuthenticationError{Err: fmt.Errorf("failed to create login request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent rejects logins whose Referer/Origin does not match the WebUI host
	req.Header.Set("Referer", s.baseURL)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &AuthenticationError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	result := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK || result != "Ok." {
		return &AuthenticationError{StatusCode: resp.StatusCode, Body: result}
	}

	s.loggedIn = true
	logf.FromContext(ctx).V(1).Info("Logged in to qBittorrent", "url", s.baseURL)
	return nil
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
}

// do makes an authenticated request and returns the raw status and body.
// A 403 means the SID expired: the session logs in again and replays once.
func (s *Session) do(ctx context.Context, method, endpoint string, data url.Values) (int, []byte, error) {
	if err := s.Authenticate(ctx); err != nil {
		return 0, nil, err
	}

	status, body, err := s.send(ctx, method, endpoint, data)
	if err != nil {
		return 0, nil, err
	}

	if status == http.StatusForbidden {
		s.invalidate()
		if err := s.Authenticate(ctx); err != nil {
			return 0, nil, err
		}
		status, body, err = s.send(ctx, method, endpoint, data)
		if err != nil {
			return 0, nil, err
		}
	}

	return status, body, nil
}

func (s *Session) send(ctx context.Context, method, endpoint string, data url.Values) (int, []byte, error) {
	var body io.Reader
	if data != nil && method != http.MethodGet {
		body = strings.NewReader(data.Encode())
	}

	target := s.baseURL + endpoint
	if data != nil && method == http.MethodGet {
		target += "?" + data.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Referer", s.baseURL)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	logf.FromContext(ctx).V(1).Info("qBittorrent request", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
	return resp.StatusCode, respBody, nil
}

// call runs one operation and turns any non-200 status into a ClientOperationError.
func (s *Session) call(ctx context.Context, op, method, endpoint string, data url.Values) ([]byte, error) {
	status, body, err := s.do(ctx, method, endpoint, data)
	if err != nil {
		return nil, wrapOpError(op, endpoint, err)
	}
	if status != http.StatusOK {
		return nil, &ClientOperationError{Op: op, Endpoint: endpoint, StatusCode: status, Body: truncate(body)}
	}
	return body, nil
}

// callWithFallback tries the primary endpoint and only falls back to the
// legacy one when the primary answers 404. Any other failure is returned as-is.
func (s *Session) callWithFallback(ctx context.Context, op, primary, legacy string, data url.Values) error {
	_, err := s.call(ctx, op, http.MethodPost, primary, data)

	var opErr *ClientOperationError
	if errors.As(err, &opErr) && opErr.NotFound() {
		logf.FromContext(ctx).V(1).Info("Falling back to legacy endpoint", "op", op, "endpoint", legacy)
		_, err = s.call(ctx, op, http.MethodPost, legacy, data)
	}
	return err
}

// AddTags adds tags to a torrent.
func (s *Session) AddTags(ctx context.Context, hash string, tags []string) error {
	data := hashForm(hash)
	data.Set("tags", strings.Join(tags, ","))
	_, err := s.call(ctx, "addTags", http.MethodPost, endpointAddTags, data)
	return err
}

// RemoveTag removes a single tag from a torrent.
func (s *Session) RemoveTag(ctx context.Context, hash, tag string) error {
	data := hashForm(hash)
	data.Set("tags", tag)
	_, err := s.call(ctx, "removeTags", http.MethodPost, endpointRemoveTags, data)
	return err
}

// Pause stops a torrent. Supports qBittorrent v5 (stop) and v4 (pause).
func (s *Session) Pause(ctx context.Context, hash string) error {
	return s.callWithFallback(ctx, "pause", endpointStop, endpointPause, hashForm(hash))
}

// Resume starts a torrent. Supports qBittorrent v5 (start) and v4 (resume).
func (s *Session) Resume(ctx context.Context, hash string) error {
	return s.callWithFallback(ctx, "resume", endpointStart, endpointResume, hashForm(hash))
}

// Delete removes a torrent, and its data when deleteFiles is set.
func (s *Session) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	data := hashForm(hash)
	data.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))
	_, err := s.call(ctx, "delete", http.MethodPost, endpointDelete, data)
	return err
}

// ListAll returns every torrent known to the client.
func (s *Session) ListAll(ctx context.Context) ([]Torrent, error) {
	return s.list(ctx, nil)
}

// Exists reports whether the client knows the torrent yet.
func (s *Session) Exists(ctx context.Context, hash string) (bool, error) {
	torrents, err := s.list(ctx, hashForm(hash))
	if err != nil {
		return false, err
	}
	return len(torrents) > 0, nil
}

func (s *Session) list(ctx context.Context, filter url.Values) ([]Torrent, error) {
	body, err := s.call(ctx, "list", http.MethodGet, endpointInfo, filter)
	if err != nil {
		return nil, err
	}

	var torrents []Torrent
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent list: %w", err)
	}
	return torrents, nil
}

// Version gets the qBittorrent application version
func (s *Session) Version(ctx context.Context) (string, error) {
	body, err := s.call(ctx, "version", http.MethodGet, endpointVersion, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// NormalizeHash lower-cases and trims a torrent hash; the WebUI treats hashes
// case-insensitively but only matches lower-case values.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

func hashForm(hash string) url.Values {
	data := url.Values{}
	data.Set("hashes", NormalizeHash(hash))
	return data
}

func wrapOpError(op, endpoint string, err error) error {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return err
	}
	return &ClientOperationError{Op: op, Endpoint: endpoint, Err: err}
}

func truncate(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
