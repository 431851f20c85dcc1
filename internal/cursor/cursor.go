// internal/cursor/cursor.go
//
// Opaque pagination cursors.
//
// Context
// -------
// List endpoints page through large collections with keyset pagination on
// (updated_at DESC, id DESC).  The resume position handed back to clients is
// the pair (id, sort value) of the last row on the page, encoded as the
// textual payload "{id}:{sortValue}" and wrapped in URL-safe base64 so the
// wire form survives query strings untouched.
//
// Decode is strict.  Garbage input — bad base64, missing separator, a
// non-numeric id — returns ErrInvalidCursor; callers surface that as a
// client error and never fall back to "start from the beginning."
package cursor

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCursor marks a cursor string that cannot be decoded.
var ErrInvalidCursor = errors.New("cursor: invalid cursor")

// Encode renders the (id, sortValue) pair as an opaque cursor string.
func Encode(id int64, sortValue string) string {
	payload := strconv.FormatInt(id, 10) + ":" + sortValue
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// Decode reverses Encode.  The id must parse as a base-10 integer and the
// sort value must be non-empty; anything else is ErrInvalidCursor.
func Decode(s string) (id int64, sortValue string, err error) {
	if s == "" {
		return 0, "", ErrInvalidCursor
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, "", ErrInvalidCursor
	}
	payload := string(raw)
	sep := strings.IndexByte(payload, ':')
	if sep <= 0 || sep == len(payload)-1 {
		return 0, "", ErrInvalidCursor
	}
	id, err = strconv.ParseInt(payload[:sep], 10, 64)
	if err != nil {
		return 0, "", ErrInvalidCursor
	}
	return id, payload[sep+1:], nil
}
