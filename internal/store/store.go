// internal/store/store.go
//
// Shared plumbing for the per-entity repositories.
//
// Context
// -------
// Each entity family (Site, Layout, Zone, Asset, Template, ShareLink) gets
// its own repository struct over an injected *sqlx.DB — no package-level
// connection, so tests inject sqlmock and services pick their own pool.
// This file holds what all of them share:
//
//   • Pager          – default/ceiling limits for List (ceiling enforced,
//     not clamped; an out-of-range limit is a validation error).
//   • Page[T]        – the uniform List result: data, has_more, next_cursor.
//   • keyset helpers – the (updated_at, id) resume predicate and the
//     cursor sort-value encoding (microsecond unix time, so the composite
//     sort key survives a text round-trip exactly).
//   • classification – rows-affected == 0 on a conditional write means
//     either the row vanished (NotFound) or the token is stale (Conflict);
//     a follow-up existence probe decides which.
//
// MySQL notes
// -----------
// Timestamps are DATETIME(6); every write touches updated_at via NOW(6) so
// the keyset tiebreaker has microsecond resolution.  Geometry columns are
// SRID-4326 and cross the SQL boundary as GeoJSON through
// ST_GeomFromGeoJSON / ST_AsGeoJSON.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groundplan/groundplan/internal/cursor"
)

// Pager carries the paging limits.  These are configuration, not protocol;
// cmd wiring may override them from the config file.
type Pager struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultPager matches the documented defaults: pages of 20, ceiling 100.
var DefaultPager = Pager{DefaultLimit: 20, MaxLimit: 100}

// resolve validates a requested limit.  Zero means "use the default";
// anything negative or above the ceiling is rejected, never clamped.
func (p Pager) resolve(limit int) (int, error) {
	switch {
	case limit == 0:
		return p.DefaultLimit, nil
	case limit < 0:
		return 0, invalidf("limit", "limit must be positive, got %d", limit)
	case limit > p.MaxLimit:
		return 0, invalidf("limit", "limit %d exceeds ceiling %d", limit, p.MaxLimit)
	}
	return limit, nil
}

// Page is the uniform List result.  NextCursor is set only when HasMore.
type Page[T any] struct {
	Data       []T    `json:"data"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// keysetWhere is the resume predicate for (updated_at DESC, id DESC)
// ordering.  Bind args: ts, ts, id.
const keysetWhere = `(updated_at < ? OR (updated_at = ? AND id < ?))`

// sortValue renders a timestamp for cursor transport.  Unix microseconds:
// integral, monotonic, and exactly reversible — RFC 3339 would lose the
// DATETIME(6) fraction on some drivers.
func sortValue(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// decodeCursor unpacks an opaque cursor into the (id, updated_at) resume
// position.  Any defect maps to ErrInvalidCursor; a bad cursor is a client
// error, never "start from the beginning."
func decodeCursor(s string) (id int64, ts time.Time, err error) {
	id, raw, err := cursor.Decode(s)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %s", ErrInvalidCursor, s)
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || micros < 0 {
		// Negative micros would bind a pre-1970 DATETIME that MySQL
		// rejects; a crafted cursor stays a client error, not a 500.
		return 0, time.Time{}, fmt.Errorf("%w: bad sort value", ErrInvalidCursor)
	}
	return id, time.UnixMicro(micros).UTC(), nil
}

// nextCursor encodes the page boundary from the last returned row.
func nextCursor(id int64, updatedAt time.Time) string {
	return cursor.Encode(id, sortValue(updatedAt))
}

// classifyWrite turns a zero-rows-affected conditional write into the right
// taxonomy error.  exists is the result of a fresh existence probe run
// after the failed statement.
func classifyWrite(exists bool) error {
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// rowExists runs a 1-row probe.  q must be a `SELECT 1 … LIMIT 1` query.
func rowExists(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (bool, error) {
	var one int
	err := sqlx.GetContext(ctx, q, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// touchLayout bumps a layout's updated_at after a child write.  Zone and
// asset edits must surface on the parent row: the share-link snapshot
// cache keys on (layout id, updated_at), so a stale stamp would serve
// pre-edit children until eviction.  The version token is left alone — a
// child edit is not a layout edit and must not trip a concurrent layout
// writer's precondition.
func touchLayout(ctx context.Context, ex sqlx.ExecerContext, layoutID int64) error {
	if _, err := ex.ExecContext(ctx,
		`UPDATE layouts SET updated_at = NOW(6) WHERE id = ?`, layoutID); err != nil {
		return fmt.Errorf("touch layout %d: %w", layoutID, err)
	}
	return nil
}

// wrapIndeterminate translates a deadline or cancellation during a
// multi-statement cascade into ErrIndeterminate.  The store never retries
// on its own; the caller must re-read state first.
func wrapIndeterminate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrIndeterminate, err)
	}
	return err
}
