package analysis

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned before any network activity when the API key is blank.
var ErrMissingCredential = errors.New("analysis API key is missing")

// Body prefix limits for error messages.
const (
	httpErrorBodyLimit = 500
	malformedBodyLimit = 200
)

// RequestError is a transport-level failure (DNS, TLS, reset, unreadable body).
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("request failed: %v", e.Err) }
func (e *RequestError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. Body holds at most the first 500 characters.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body) }

// MalformedResponseError means the response body is not JSON.
// Body holds at most the first 200 characters.
type MalformedResponseError struct {
	Err  error
	Body string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v (body: %s)", e.Err, e.Body)
}
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// UnexpectedShapeError carries the whole parsed document when no known
// provider shape matched, so a new format can be identified by eye.
type UnexpectedShapeError struct {
	Document string
}

func (e *UnexpectedShapeError) Error() string {
	return "unexpected response: " + e.Document
}
