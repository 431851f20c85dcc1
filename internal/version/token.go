// internal/version/token.go
//
// Optimistic-concurrency version tokens.
//
// Context
// -------
// Every mutable record carries an opaque version token.  Create issues a
// fresh one; update and delete require the caller to echo the token
// currently stored, and a mismatch means somebody else won the race.
//
// Two halves of the contract live in two places:
//
//   • Issue/Check here — token generation and the precondition decision
//     (missing or stale supplied token → mismatch).
//   • Atomicity in the repositories — the check-and-replace is performed by
//     a single conditional statement (`UPDATE … WHERE id = ? AND
//     version_token = ?`) so two writers can never both pass the check
//     against a token that is about to be superseded.
//
// Tokens are random 128-bit values rendered as UUID text.  Comparison is
// exact string equality; there is no partial matching and no "latest wins
// when the header is omitted."
package version

import (
	"errors"

	"github.com/google/uuid"
)

// ErrMismatch reports a failed token precondition.  Repositories translate
// it into their Conflict taxonomy at the boundary.
var ErrMismatch = errors.New("version: token mismatch")

// Issue returns a fresh opaque token.
func Issue() string {
	return uuid.NewString()
}

// Check compares the stored token against the caller-supplied one.  An
// empty supplied token fails the precondition outright; the token is
// mandatory on every mutating request.
func Check(stored, supplied string) error {
	if supplied == "" || stored != supplied {
		return ErrMismatch
	}
	return nil
}
