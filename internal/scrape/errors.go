package scrape

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by store reads when no row matches.
var ErrNotFound = errors.New("not found")

// HTTPError reports a non-2xx response. 4xx responses are not transient and
// are never retried.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.StatusCode, e.URL)
}

// IsClientError reports whether the status is a non-retryable 4xx.
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// FetchError is the terminal failure raised after the fetcher exhausts its
// retries.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
