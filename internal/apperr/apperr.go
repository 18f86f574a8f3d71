// Package apperr is the error taxonomy shared by the HTTP server and the
// client SDK. Callers discriminate failures by Kind instead of by message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindServer     Kind = "server"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status is the HTTP status the server answers with for this error.
func (e *Error) Status() int {
	return StatusFor(e.Kind)
}

func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus maps a response status back to a kind on the client side.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindServer
	}
}

func Validation(field, code, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Code: code, Message: message}
}

func Auth(code, message string) *Error {
	return &Error{Kind: KindAuth, Code: code, Message: message}
}

func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Code: "network_error", Message: "Network error", Err: err}
}

func Server(code string, err error) *Error {
	return &Error{Kind: KindServer, Code: code, Message: "Server error", Err: err}
}

func NotFound(code string) *Error {
	return &Error{Kind: KindNotFound, Code: code}
}

func Forbidden(code string) *Error {
	return &Error{Kind: KindForbidden, Code: code}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// HasCode reports whether err carries an *Error with the given code.
func HasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// From returns err as an *Error, wrapping anything else as a server error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Server("server_error", err)
}
