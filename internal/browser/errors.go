// File: internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy of browser adapter failures. Input errors fail
// fast and are never retried; the remaining kinds are subject to the
// executor's fallback chain.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindNotInteractable  ErrorKind = "not_interactable"
	KindNavigationFailed ErrorKind = "navigation_failed"
	KindScriptError      ErrorKind = "script_error"
	KindTimeout          ErrorKind = "timeout"
	KindInvalidLocator   ErrorKind = "invalid_locator"
	KindSessionClosed    ErrorKind = "session_closed"
)

// Error is a typed adapter failure.
type Error struct {
	Kind    ErrorKind
	Locator string
	Err     error
}

func (e *Error) Error() string {
	if e.Locator != "" {
		if e.Err != nil {
			return fmt.Sprintf("browser %s (%s): %v", e.Kind, e.Locator, e.Err)
		}
		return fmt.Sprintf("browser %s (%s)", e.Kind, e.Locator)
	}
	if e.Err != nil {
		return fmt.Sprintf("browser %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("browser %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and the locator involved, if any.
func NewError(kind ErrorKind, locator string, err error) *Error {
	return &Error{Kind: kind, Locator: locator, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the fallback chain may retry after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindNotInteractable, KindTimeout:
		return true
	}
	return false
}
