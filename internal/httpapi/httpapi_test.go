// internal/httpapi/httpapi_test.go
//
// Handler tests over httptest with a sqlmock-backed store: the status
// mapping is the contract here, not the SQL (the store's own tests cover
// that).
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/groundplan/groundplan/internal/sharelink"
	"github.com/groundplan/groundplan/internal/store"
)

const selectSiteByID = "SELECT id, club_id, name, address_line, city, region, postal_code, country, ST_AsGeoJSON\\(location\\) AS location, ST_AsGeoJSON\\(bbox\\) AS bbox, version_token, created_at, updated_at, deleted_at FROM sites WHERE id = \\? AND deleted_at IS NULL"

const selectLinkBySlug = "SELECT id, layout_id, slug, expires_at, is_revoked, access_count, created_by, version_token, created_at, last_accessed_at, updated_at FROM share_links WHERE slug = \\? LIMIT 1"

var fixedNow = time.UnixMicro(1756200000000000).UTC()

func newTestAPI(t *testing.T) (*API, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	db := sqlx.NewDb(raw, "mysql")

	resolver := sharelink.NewResolver(
		store.NewShareLinks(db),
		store.NewLayouts(db),
		store.NewZones(db),
		store.NewAssets(db),
		nil,
	)
	return New(zap.NewNop().Sugar(), db, resolver, store.DefaultPager), mock
}

func do(t *testing.T, a *API, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Code
}

func siteRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "club_id", "name", "address_line", "city", "region",
		"postal_code", "country", "location", "bbox", "version_token",
		"created_at", "updated_at", "deleted_at"}).
		AddRow(int64(5), int64(2), "Riverside Grounds", "", "", "", "", "GB",
			nil, nil, "tok-v1", fixedNow, fixedNow, nil)
}

func TestGetSiteOK(t *testing.T) {
	a, mock := newTestAPI(t)
	mock.ExpectQuery(selectSiteByID).WithArgs(int64(5)).WillReturnRows(siteRow())

	rec := do(t, a, http.MethodGet, "/api/v1/sites/5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var site store.Site
	if err := json.Unmarshal(rec.Body.Bytes(), &site); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if site.VersionToken != "tok-v1" {
		t.Fatalf("token = %q, want tok-v1", site.VersionToken)
	}
}

func TestGetSiteNotFound(t *testing.T) {
	a, mock := newTestAPI(t)
	mock.ExpectQuery(selectSiteByID).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := do(t, a, http.MethodGet, "/api/v1/sites/9", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errCode(t, rec); code != "not_found" {
		t.Fatalf("code = %q, want not_found", code)
	}
}

func TestUpdateSiteWithoutIfMatchIsConflict(t *testing.T) {
	a, mock := newTestAPI(t)
	// The repo reads current state, then fails the precondition before
	// issuing any UPDATE.
	mock.ExpectQuery(selectSiteByID).WithArgs(int64(5)).WillReturnRows(siteRow())

	rec := do(t, a, http.MethodPut, "/api/v1/sites/5", `{"name":"New name"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (%s)", rec.Code, rec.Body.String())
	}
	if code := errCode(t, rec); code != "version_conflict" {
		t.Fatalf("code = %q, want version_conflict", code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteSiteWithIfMatch(t *testing.T) {
	a, mock := newTestAPI(t)
	mock.ExpectExec("UPDATE sites SET deleted_at = NOW\\(6\\), version_token = \\?, updated_at = NOW\\(6\\) WHERE id = \\? AND version_token = \\? AND deleted_at IS NULL").
		WithArgs(sqlmock.AnyArg(), int64(5), "tok-v1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := do(t, a, http.MethodDelete, "/api/v1/sites/5", "", map[string]string{"If-Match": "tok-v1"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (%s)", rec.Code, rec.Body.String())
	}
}

func TestListSitesRejectsInvalidCursor(t *testing.T) {
	a, _ := newTestAPI(t)
	rec := do(t, a, http.MethodGet, "/api/v1/sites?cursor=%21%21%21", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errCode(t, rec); code != "invalid_cursor" {
		t.Fatalf("code = %q, want invalid_cursor", code)
	}
}

func TestListSitesRejectsLimitAboveCeiling(t *testing.T) {
	a, _ := newTestAPI(t)
	rec := do(t, a, http.MethodGet, "/api/v1/sites?limit=150", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errCode(t, rec); code != "invalid_input" {
		t.Fatalf("code = %q, want invalid_input", code)
	}
}

func TestCreateSiteRejectsMalformedBody(t *testing.T) {
	a, _ := newTestAPI(t)
	rec := do(t, a, http.MethodPost, "/api/v1/sites", `{"club_id":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSiteRejectsMissingRequiredFields(t *testing.T) {
	a, _ := newTestAPI(t)
	rec := do(t, a, http.MethodPost, "/api/v1/sites", `{"club_id":2}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
}

func TestResolveRevokedShareLinkIsGone(t *testing.T) {
	a, mock := newTestAPI(t)
	mock.ExpectQuery(selectLinkBySlug).WithArgs("abcDEF0123456789").
		WillReturnRows(sqlmock.NewRows([]string{"id", "layout_id", "slug", "expires_at",
			"is_revoked", "access_count", "created_by", "version_token",
			"created_at", "last_accessed_at", "updated_at"}).
			AddRow(int64(7), int64(3), "abcDEF0123456789", nil, true, int64(0),
				nil, "tok", fixedNow, nil, fixedNow))

	rec := do(t, a, http.MethodGet, "/share/abcDEF0123456789", "", nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410 (%s)", rec.Code, rec.Body.String())
	}
	if code := errCode(t, rec); code != "revoked" {
		t.Fatalf("code = %q, want revoked", code)
	}
}

func TestHealthz(t *testing.T) {
	a, _ := newTestAPI(t)
	rec := do(t, a, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestMigrationStatusEndpoint(t *testing.T) {
	a, mock := newTestAPI(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM field_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM layouts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	rec := do(t, a, http.MethodGet, "/admin/migration-status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var st struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "migration_complete" {
		t.Fatalf("state = %q, want migration_complete", st.State)
	}
}
