package entity

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/acksell/entities/store"
)

// Error is an entity layer failure with a stable code and an HTTP-style status.
type Error struct {
	Code       string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrEntityAlreadyExists  = &Error{Code: "EntityAlreadyExists", StatusCode: http.StatusConflict, Message: "entity already exists"}
	ErrResourceNotFound     = &Error{Code: "ResourceNotFound", StatusCode: http.StatusNotFound, Message: "resource not found"}
	ErrPropertyTooLarge     = &Error{Code: "PropertyTooLarge", StatusCode: http.StatusRequestEntityTooLarge, Message: "property too large"}
	ErrUnsuccessfulUpdate   = &Error{Code: "UnsuccessfulUpdate", StatusCode: http.StatusConflict, Message: "unsuccessful update"}
	ErrKeyChanged           = &Error{Code: "KeyChanged", StatusCode: http.StatusBadRequest, Message: "key properties cannot be modified"}
	ErrInstanceRemoved      = &Error{Code: "InstanceRemoved", StatusCode: http.StatusBadRequest, Message: "entity was removed"}
	ErrInvalidProperties    = &Error{Code: "InvalidProperties", StatusCode: http.StatusBadRequest, Message: "invalid properties"}
	ErrInvalidConfiguration = &Error{Code: "InvalidConfiguration", StatusCode: http.StatusInternalServerError, Message: "invalid entity configuration"}
)

func newError(kind *Error, err error, format string, args ...any) error {
	msg := kind.Message
	if format != "" {
		msg = fmt.Sprintf("%s: %s", msg, fmt.Sprintf(format, args...))
	}
	return &Error{Code: kind.Code, StatusCode: kind.StatusCode, Message: msg, Err: err}
}

// StatusCode returns the HTTP status for err: the status of an *Error in its
// chain, or 500.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// translate maps store error codes to entity errors. Unrecognized errors are
// returned unchanged.
func translate(err error, table, pk, rk string) error {
	if err == nil {
		return nil
	}
	switch store.CodeOf(err) {
	case store.CodeUniqueViolation:
		return newError(ErrEntityAlreadyExists, err, "%s (%q, %q)", table, pk, rk)
	case store.CodeValueTooLarge:
		return newError(ErrPropertyTooLarge, err, "%s (%q, %q)", table, pk, rk)
	case store.CodeNoDataFound:
		return newError(ErrResourceNotFound, err, "%s (%q, %q)", table, pk, rk)
	case store.CodeAssertFailure:
		return newError(ErrUnsuccessfulUpdate, err, "%s (%q, %q)", table, pk, rk)
	}
	return err
}
