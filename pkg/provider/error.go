package provider

import (
	"context"
	"errors"
	"net"
)

// ErrorKind classifies provider failures so callers can decide whether a
// different candidate might succeed where this one failed.
type ErrorKind string

const (
	// ErrorKindRateLimited covers provider-reported throttling.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindUnavailable covers transient 5xx-class and region failures.
	ErrorKindUnavailable ErrorKind = "unavailable"

	// ErrorKindTimeout covers request timeouts against the provider.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindUnauthorized covers authentication and authorization failures.
	ErrorKindUnauthorized ErrorKind = "unauthorized"

	// ErrorKindContextTooLong means the prompt exceeds the model context window.
	ErrorKindContextTooLong ErrorKind = "context_too_long"

	// ErrorKindBadRequest covers any other malformed request.
	ErrorKindBadRequest ErrorKind = "bad_request"
)

type Error struct {
	Provider string
	Kind     ErrorKind

	err error
}

func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{
		Provider: provider,
		Kind:     kind,

		err: err,
	}
}

func (e *Error) Error() string {
	text := e.Provider + ": " + string(e.Kind)

	if e.err != nil {
		text += ": " + e.err.Error()
	}

	return text
}

func (e *Error) Unwrap() error {
	return e.err
}

// ErrorKindOf extracts the kind from an error chain, or "" if none is set.
func ErrorKindOf(err error) ErrorKind {
	var pe *Error

	if errors.As(err, &pe) {
		return pe.Kind
	}

	return ""
}

// Retryable reports whether a failed attempt is worth repeating against a
// different candidate with the same request. Authentication problems and
// oversized prompts are not transient, but a different provider or region
// may still accept the request, so callers advance on those too.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	switch ErrorKindOf(err) {
	case ErrorKindRateLimited, ErrorKindUnavailable, ErrorKindTimeout:
		return true
	}

	return false
}

// ErrorKindFromStatus maps an HTTP status code to an error kind.
func ErrorKindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrorKindUnauthorized

	case status == 429:
		return ErrorKindRateLimited

	case status == 408 || status == 504:
		return ErrorKindTimeout

	case status >= 500:
		return ErrorKindUnavailable
	}

	return ErrorKindBadRequest
}
