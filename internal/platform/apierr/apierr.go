package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies pipeline failures; each kind maps to one HTTP status.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUpstream    Kind = "upstream"
	KindPersistence Kind = "persistence"
)

type Error struct {
	Status int
	Kind   Kind
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
	return &Error{Status: status, Kind: kindForStatus(status), Code: code, Err: err}
}

func Validation(code string, format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Kind: KindValidation, Code: code, Err: fmt.Errorf(format, args...)}
}

func NotFound(code string, format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Kind: KindNotFound, Code: code, Err: fmt.Errorf(format, args...)}
}

func Conflict(code string, format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Kind: KindConflict, Code: code, Err: fmt.Errorf(format, args...)}
}

// Upstream wraps a generation service failure or timeout.
func Upstream(code string, err error) *Error {
	return &Error{Status: http.StatusBadGateway, Kind: KindUpstream, Code: code, Err: err}
}

// Persistence wraps a store write/read failure.
func Persistence(code string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Kind: KindPersistence, Code: code, Err: err}
}

// StatusOf returns the HTTP status carried by err, or 500 when err is not an *Error.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine code carried by err, or fallback.
func CodeOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return fallback
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindUpstream
	default:
		return KindPersistence
	}
}
