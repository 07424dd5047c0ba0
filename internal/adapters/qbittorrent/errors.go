package qbittorrent

import (
	"fmt"
	"net/http"
)

// AuthenticationError is returned when the WebUI login does not succeed.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("qBittorrent login failed: %v", e.Err)
	case e.Body == "Fails.":
		return "qBittorrent login failed: invalid credentials"
	default:
		return fmt.Sprintf("qBittorrent login failed with status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ClientOperationError is returned when a torrent operation fails. It carries
// the backend's status and body so callers can show them to the operator.
type ClientOperationError struct {
	Op         string
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ClientOperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qBittorrent %s (%s) failed: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("qBittorrent %s (%s) failed: HTTP %d - %s", e.Op, e.Endpoint, e.StatusCode, e.Body)
}

func (e *ClientOperationError) Unwrap() error { return e.Err }

// NotFound reports a 404 from the backend.
func (e *ClientOperationError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
