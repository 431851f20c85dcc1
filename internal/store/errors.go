// internal/store/errors.go
//
// Error taxonomy for the resource store.
//
// Context
// -------
// The pure packages underneath (geometry, cursor, version) return their own
// value errors; repositories translate them 1:1 into this taxonomy at the
// boundary so callers — the HTTP layer above all — can branch on stable
// kinds instead of string matching:
//
//	ValidationError – bad payload, geometry, or limit        → 400
//	ErrInvalidCursor – malformed pagination cursor           → 400
//	ErrNotFound      – record absent (or soft-deleted)       → 404
//	ErrConflict      – version-token precondition failed     → 409
//	ErrExpired       – share link past its expiry            → 410
//	ErrRevoked       – share link revoked                    → 410
//	ErrIndeterminate – timeout mid-cascade; outcome unknown  → 504
//
// Conflict and NotFound are recoverable by re-fetching.  Indeterminate is
// never retried by the store itself; the caller must re-read state first.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrConflict      = errors.New("store: version conflict")
	ErrInvalidCursor = errors.New("store: invalid cursor")
	ErrExpired       = errors.New("store: share link expired")
	ErrRevoked       = errors.New("store: share link revoked")
	ErrIndeterminate = errors.New("store: indeterminate outcome")
)

// ValidationError describes a rejected input field.  It wraps the causing
// error (often one of the geometry sentinels) so callers can still test
// with errors.Is for the specific reason.
type ValidationError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "store: validation: " + e.Reason
	}
	return fmt.Sprintf("store: validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// invalidf builds a ValidationError from a format string.
func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// invalid wraps a causing error as a ValidationError on field.
func invalid(field string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: cause.Error(), cause: cause}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
