package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnauthorized is returned when the backend rejects the session
// credentials. It is terminal for a sync cycle and must be handled at
// the session layer, not retried.
var ErrUnauthorized = errors.New("remote: unauthorized")

// RequestError carries the HTTP status of a rejected call so callers
// can tell validation rejections from server-side failures.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: %s (status %d)", e.Message, e.StatusCode)
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err is worth retrying with backoff:
// timeouts, connectivity loss, throttling and 5xx responses.
func IsTransient(err error) bool {
	if err == nil || IsUnauthorized(err) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode >= 500 ||
			reqErr.StatusCode == http.StatusTooManyRequests ||
			reqErr.StatusCode == http.StatusRequestTimeout
	}

	// Unclassified errors (connection reset, DNS) default to transient.
	return true
}

// IsTerminal reports whether err is a permanent rejection of the
// specific request: the action should be marked failed and surfaced
// for user resolution instead of retried.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if IsUnauthorized(err) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 &&
			reqErr.StatusCode != http.StatusTooManyRequests &&
			reqErr.StatusCode != http.StatusRequestTimeout
	}
	return false
}
