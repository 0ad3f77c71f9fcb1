package portal

import (
	"errors"
	"fmt"
)

// ErrLoginRedirect is returned when the portal redirected a request to its
// login page, which is how it signals an expired session.
var ErrLoginRedirect = errors.New("portal: redirected to login page")

// NetworkError is a transport failure or a timeout.
type NetworkError struct {
	Url string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("portal: could not reach %s: %s", e.Url, e.Err.Error())
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HttpError is a response with a non-2xx status.
type HttpError struct {
	StatusCode int
	Status     string
	Url        string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("portal: %s responded with %s", e.Url, e.Status)
}

// Temporary reports whether retrying the request later may succeed.
func (e *HttpError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}
