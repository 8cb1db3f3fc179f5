package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
)

// SQLSTATE codes every backend reports. They match what the Postgres
// functions raise, so a *pgconn.PgError carries the same codes.
const (
	CodeUniqueViolation = pgerrcode.UniqueViolation        // row already exists
	CodeValueTooLarge   = pgerrcode.NumericValueOutOfRange // value exceeds the backend limit
	CodeNoDataFound     = pgerrcode.NoDataFound            // row missing on modify
	CodeAssertFailure   = pgerrcode.AssertFailure          // stale etag on modify
)

var (
	ErrUnknownTable      = errors.New("store: unknown table")
	ErrWriteNotPermitted = errors.New("store: write not permitted")
	ErrClosed            = errors.New("store: closed")
)

// Error is a store failure tagged with a SQLSTATE code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
}

// SQLState returns the error code, mirroring pgconn.PgError.
func (e *Error) SQLState() string { return e.Code }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds an *Error with a formatted message.
func Errorf(code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the SQLSTATE code from err, or "" if it carries none.
func CodeOf(err error) string {
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		return coded.SQLState()
	}
	return ""
}

// RowExists returns the error reported when creating a row that exists.
func RowExists(pk, rk string) error {
	return Errorf(CodeUniqueViolation, "row (%q, %q) already exists", pk, rk)
}

// RowMissing returns the error reported when modifying a row that does not exist.
func RowMissing(pk, rk string) error {
	return Errorf(CodeNoDataFound, "no such row (%q, %q)", pk, rk)
}

// StaleETag returns the error reported when a modify loses a concurrent race.
func StaleETag(pk, rk string) error {
	return Errorf(CodeAssertFailure, "unsuccessful update of row (%q, %q): etag mismatch", pk, rk)
}

// ValueTooLarge returns the error reported when a value exceeds the backend limit.
func ValueTooLarge(size, limit int) error {
	return Errorf(CodeValueTooLarge, "value of %d bytes exceeds limit of %d bytes", size, limit)
}
