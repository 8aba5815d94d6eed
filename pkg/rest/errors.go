package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx response from the management service.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("rest: %s returned HTTP %d: %s", e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("rest: %s returned HTTP %d", e.Path, e.Status)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// CheckStatus converts a non-2xx response into an *APIError, consuming
// the body for the error message.
func CheckStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Path: path, Body: msg}
}
