// internal/sharelink/resolver_test.go
//
// Resolver tests over go-sqlmock: outcome taxonomy (ok / not-found /
// revoked / expired), snapshot caching, token stripping, and the
// never-blocking access queue.
package sharelink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/groundplan/groundplan/internal/store"
)

// ---------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------

const (
	selectLinkBySlug = "SELECT id, layout_id, slug, expires_at, is_revoked, access_count, created_by, version_token, created_at, last_accessed_at, updated_at FROM share_links WHERE slug = \\? LIMIT 1"

	selectLayout = "SELECT id, site_id, name, description, is_published, metadata, created_by, version_token, created_at, updated_at FROM layouts WHERE id = \\?"

	selectZonesForLayout = "SELECT id, layout_id, name, zone_type, surface, color, ST_AsGeoJSON\\(boundary\\) AS boundary, area_sqm, perimeter_m, version_token, created_at, updated_at FROM zones WHERE layout_id = \\? ORDER BY id"

	selectAssetsForLayout = "SELECT id, layout_id, zone_id, name, asset_type, ST_AsGeoJSON\\(geometry\\) AS geometry, properties, icon, rotation_deg, version_token, created_at, updated_at FROM assets WHERE layout_id = \\? ORDER BY id"
)

var fixedNow = time.UnixMicro(1756200000000000).UTC()

func testDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "mysql"), mock
}

func newTestResolver(db *sqlx.DB) *Resolver {
	r := NewResolver(
		store.NewShareLinks(db),
		store.NewLayouts(db),
		store.NewZones(db),
		store.NewAssets(db),
		nil,
	)
	r.now = func() time.Time { return fixedNow }
	return r
}

func linkCols() []string {
	return []string{"id", "layout_id", "slug", "expires_at", "is_revoked", "access_count",
		"created_by", "version_token", "created_at", "last_accessed_at", "updated_at"}
}

func linkRow(revoked bool, expiresAt *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(linkCols()).
		AddRow(int64(7), int64(3), "abcDEF0123456789", expiresAt, revoked, int64(12),
			nil, "tok-link", fixedNow, nil, fixedNow)
}

func layoutRow() *sqlmock.Rows { return layoutRowAt(fixedNow) }

func layoutRowAt(updatedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "site_id", "name", "description", "is_published",
		"metadata", "created_by", "version_token", "created_at", "updated_at"}).
		AddRow(int64(3), int64(1), "Matchday A", "", true, nil, "coach", "tok-layout", fixedNow, updatedAt)
}

func zoneRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "layout_id", "name", "zone_type", "surface", "color",
		"boundary", "area_sqm", "perimeter_m", "version_token", "created_at", "updated_at"}).
		AddRow(int64(21), int64(3), "Pitch 1", "pitch", "grass", "#00ff00",
			[]byte(`{"type":"Polygon","coordinates":[[[0,0],[0.001,0],[0.001,0.001],[0,0.001],[0,0]]]}`),
			12345.0, 444.0, "tok-zone", fixedNow, fixedNow)
}

func assetRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "layout_id", "zone_id", "name", "asset_type",
		"geometry", "properties", "icon", "rotation_deg", "version_token", "created_at", "updated_at"}).
		AddRow(int64(41), int64(3), int64(21), "North goal", "goal",
			[]byte(`{"type":"Point","coordinates":[0.0005,0.001]}`),
			nil, "goal", 0.0, "tok-asset", fixedNow, fixedNow)
}

// ---------------------------------------------------------------------
// Resolution outcomes
// ---------------------------------------------------------------------

func TestResolveStripsVersionTokens(t *testing.T) {
	db, mock := testDB(t)
	r := newTestResolver(db)

	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, nil))
	mock.ExpectQuery(selectLayout).WithArgs(int64(3)).WillReturnRows(layoutRow())
	mock.ExpectQuery(selectZonesForLayout).WithArgs(int64(3)).WillReturnRows(zoneRows())
	mock.ExpectQuery(selectAssetsForLayout).WithArgs(int64(3)).WillReturnRows(assetRows())

	snap, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.Layout.VersionToken != "" {
		t.Fatalf("layout token leaked: %q", snap.Layout.VersionToken)
	}
	if len(snap.Zones) != 1 || snap.Zones[0].VersionToken != "" {
		t.Fatalf("zone token leaked: %+v", snap.Zones)
	}
	if len(snap.Assets) != 1 || snap.Assets[0].VersionToken != "" {
		t.Fatalf("asset token leaked: %+v", snap.Assets)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveReusesSnapshotUntilLayoutChanges(t *testing.T) {
	db, mock := testDB(t)
	r := newTestResolver(db)

	// First resolution assembles the snapshot.
	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, nil))
	mock.ExpectQuery(selectLayout).WithArgs(int64(3)).WillReturnRows(layoutRow())
	mock.ExpectQuery(selectZonesForLayout).WithArgs(int64(3)).WillReturnRows(zoneRows())
	mock.ExpectQuery(selectAssetsForLayout).WithArgs(int64(3)).WillReturnRows(assetRows())

	// Second resolution re-reads link and layout only; same updated_at
	// means the cached snapshot serves the zones and assets.
	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, nil))
	mock.ExpectQuery(selectLayout).WithArgs(int64(3)).WillReturnRows(layoutRow())

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{}); err != nil {
			t.Fatalf("Resolve #%d: %v", i+1, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveRebuildsSnapshotAfterLayoutStampMoves(t *testing.T) {
	// Zone and asset writes stamp the parent layout's updated_at, so a
	// child edit shows up here as a moved stamp.  The moved stamp misses
	// the cached key and the children are read again.
	db, mock := testDB(t)
	r := newTestResolver(db)

	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, nil))
	mock.ExpectQuery(selectLayout).WithArgs(int64(3)).WillReturnRows(layoutRow())
	mock.ExpectQuery(selectZonesForLayout).WithArgs(int64(3)).WillReturnRows(zoneRows())
	mock.ExpectQuery(selectAssetsForLayout).WithArgs(int64(3)).WillReturnRows(assetRows())

	edited := fixedNow.Add(time.Second)
	freshZones := sqlmock.NewRows([]string{"id", "layout_id", "name", "zone_type", "surface", "color",
		"boundary", "area_sqm", "perimeter_m", "version_token", "created_at", "updated_at"}).
		AddRow(int64(21), int64(3), "Pitch 1 (resized)", "pitch", "grass", "#00ff00",
			[]byte(`{"type":"Polygon","coordinates":[[[0,0],[0.002,0],[0.002,0.001],[0,0.001],[0,0]]]}`),
			24690.0, 666.0, "tok-zone-2", fixedNow, edited)

	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, nil))
	mock.ExpectQuery(selectLayout).WithArgs(int64(3)).WillReturnRows(layoutRowAt(edited))
	mock.ExpectQuery(selectZonesForLayout).WithArgs(int64(3)).WillReturnRows(freshZones)
	mock.ExpectQuery(selectAssetsForLayout).WithArgs(int64(3)).WillReturnRows(assetRows())

	if _, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{}); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	snap, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if len(snap.Zones) != 1 || snap.Zones[0].Name != "Pitch 1 (resized)" {
		t.Fatalf("snapshot still serves pre-edit zones: %+v", snap.Zones)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveUnknownSlug(t *testing.T) {
	db, mock := testDB(t)
	r := newTestResolver(db)

	mock.ExpectQuery(selectLinkBySlug).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(linkCols()))

	_, err := r.Resolve(context.Background(), "nope", AccessMeta{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestResolveRevoked(t *testing.T) {
	db, mock := testDB(t)
	r := newTestResolver(db)

	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(true, nil))

	_, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{})
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("want ErrRevoked, got %v", err)
	}
	// Revocation short-circuits before any layout read.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveExpiredAtResolutionTime(t *testing.T) {
	db, mock := testDB(t)
	r := newTestResolver(db)

	past := fixedNow.Add(-time.Minute)
	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, &past))

	_, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestResolveHonorsFutureExpiry(t *testing.T) {
	db, mock := testDB(t)
	r := newTestResolver(db)

	future := fixedNow.Add(time.Hour)
	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").WillReturnRows(linkRow(false, &future))
	mock.ExpectQuery(selectLayout).WithArgs(int64(3)).WillReturnRows(layoutRow())
	mock.ExpectQuery(selectZonesForLayout).WithArgs(int64(3)).WillReturnRows(zoneRows())
	mock.ExpectQuery(selectAssetsForLayout).WithArgs(int64(3)).WillReturnRows(assetRows())

	if _, err := r.Resolve(context.Background(), "abcDEF0123456789", AccessMeta{}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

// ---------------------------------------------------------------------
// Access recording
// ---------------------------------------------------------------------

func TestRecorderEnqueueNeverBlocks(t *testing.T) {
	db, _ := testDB(t)
	rec := NewRecorder(store.NewShareLinks(db), nil, zap.NewNop(), 2)

	// No workers running; the third enqueue must drop, not block.
	for i := 0; i < 3; i++ {
		rec.Enqueue(AccessEvent{LinkID: 7, OccurredAt: fixedNow})
	}
	if got := len(rec.queue); got != 2 {
		t.Fatalf("queue depth = %d, want 2", got)
	}
}

func TestRecorderPersistsCounterAndDetail(t *testing.T) {
	db, mock := testDB(t)
	rec := NewRecorder(store.NewShareLinks(db), nil, zap.NewNop(), 8)

	mock.ExpectExec("UPDATE share_links SET access_count = access_count \\+ 1, last_accessed_at = \\? WHERE id = \\?").
		WithArgs(fixedNow, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO share_link_accesses \\(link_id, occurred_at, browser, device, country\\) VALUES \\(\\?, \\?, \\?, \\?, \\?\\)").
		WithArgs(int64(7), fixedNow, sqlmock.AnyArg(), sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec.record(AccessEvent{
		LinkID:     7,
		OccurredAt: fixedNow,
		Meta: AccessMeta{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
			RemoteIP:  "203.0.113.9",
		},
	})
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecorderCounterFailureSkipsDetailRow(t *testing.T) {
	db, mock := testDB(t)
	rec := NewRecorder(store.NewShareLinks(db), nil, zap.NewNop(), 8)

	mock.ExpectExec("UPDATE share_links SET access_count = access_count \\+ 1, last_accessed_at = \\? WHERE id = \\?").
		WithArgs(fixedNow, int64(7)).
		WillReturnError(errors.New("connection reset"))

	rec.record(AccessEvent{LinkID: 7, OccurredAt: fixedNow})
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecorderFlushesBufferedEventsOnShutdown(t *testing.T) {
	// Events accepted before cancellation must still be persisted; the
	// workers flush the buffer on their way out.
	db, mock := testDB(t)
	rec := NewRecorder(store.NewShareLinks(db), nil, zap.NewNop(), 8)

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE share_links SET access_count = access_count \\+ 1, last_accessed_at = \\? WHERE id = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO share_link_accesses \\(link_id, occurred_at, browser, device, country\\) VALUES \\(\\?, \\?, \\?, \\?, \\?\\)").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Enqueue(AccessEvent{LinkID: 7, OccurredAt: fixedNow})
	rec.Enqueue(AccessEvent{LinkID: 7, OccurredAt: fixedNow})
	rec.Start(ctx, 1)
	rec.Wait()

	if got := len(rec.queue); got != 0 {
		t.Fatalf("queue not flushed, %d events left", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecorderWorkersDrainQueue(t *testing.T) {
	db, mock := testDB(t)
	rec := NewRecorder(store.NewShareLinks(db), nil, zap.NewNop(), 8)

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE share_links SET access_count = access_count \\+ 1, last_accessed_at = \\? WHERE id = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO share_link_accesses \\(link_id, occurred_at, browser, device, country\\) VALUES \\(\\?, \\?, \\?, \\?, \\?\\)").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx, 2)
	rec.Enqueue(AccessEvent{LinkID: 7, OccurredAt: fixedNow})
	rec.Enqueue(AccessEvent{LinkID: 7, OccurredAt: fixedNow})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give the workers a beat to finish the in-flight record calls.
	time.Sleep(50 * time.Millisecond)
	cancel()
	rec.Wait()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
