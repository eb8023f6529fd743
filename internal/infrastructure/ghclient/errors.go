package ghclient

import (
	"errors"
	"fmt"
	"net/http"
)

const maxErrorBody = 512

var errInvalidPage = errors.New("invalid page body")

// HTTPError is a non-success GitHub response.
type HTTPError struct {
	Status int
	Method string
	URL    string
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("github %s %s: status %d: %s", e.Method, e.URL, e.Status, body)
}

// Retryable reports whether the status is a rate limit or server failure.
func (e *HTTPError) Retryable() bool {
	return IsRetryableStatus(e.Status)
}

func IsRetryableStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusTooManyRequests || status >= 500
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
