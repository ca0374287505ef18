// SPDX-License-Identifier: MIT

package backend

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrAuth        = errors.New("backend: authentication rejected")
	ErrRateLimited = errors.New("backend: rate limited")
	ErrUnavailable = errors.New("backend: internal error (5xx)")
	ErrBadResponse = errors.New("backend: invalid response format or malformed data")
	ErrTransport   = errors.New("backend: host unreachable or transport failure")
	ErrExhausted   = errors.New("backend: retry attempts exhausted")
)

// BackendError is a rich error type that wraps the sentinel errors with context.
type BackendError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("backend: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Sentinel
}
