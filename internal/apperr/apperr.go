// Package apperr defines the error taxonomy shared by services, handlers and
// the session client.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how it is surfaced to callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string // safe to show to clients for validation and conflict kinds
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrConflict)
// works for every conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrConflict       = &Error{Kind: KindConflict, Message: "conflict"}
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "unauthorized"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUpstream       = &Error{Kind: KindUpstream, Message: "upstream failure"}
	ErrInternal       = &Error{Kind: KindInternal, Message: "internal error"}
)

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Upstream(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code returned to clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message a client may see. Internal and upstream
// details never leave the server.
func PublicMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return ErrInternal.Message
	}
	switch appErr.Kind {
	case KindValidation, KindConflict, KindAuthentication, KindNotFound:
		if appErr.Message != "" {
			return appErr.Message
		}
	case KindUpstream:
		return ErrUpstream.Message
	}
	return ErrInternal.Message
}
