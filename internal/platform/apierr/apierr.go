// Package apierr is the typed error the service's layers hand upward:
// Code carries the wire error code (NOT_FOUND, INVALID_STEP_STATE,
// COUPON_CODE_EXHAUSTED, ...) and Status the HTTP status it maps to, so
// handlers and the worker branch on Code instead of re-deriving either
// from error text.
package apierr

import (
	"errors"
	"fmt"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// CodeOf returns the wire code carried anywhere in err's chain, or "" for
// errors that never passed through this package.
func CodeOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
