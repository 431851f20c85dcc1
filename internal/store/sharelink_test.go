// internal/store/sharelink_test.go
//
// ShareLink repository tests: slug collision retry, the unconditioned
// access-counter bump, and token discipline on revocation.

package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

var shareLinkRowCols = []string{
	"id", "layout_id", "slug", "expires_at", "is_revoked", "access_count",
	"created_by", "version_token", "created_at", "last_accessed_at", "updated_at",
}

const selectShareLinks = `SELECT id, layout_id, slug, expires_at, is_revoked, access_count, created_by, version_token, created_at, last_accessed_at, updated_at FROM share_links`

const insertShareLink = `INSERT INTO share_links (layout_id, slug, expires_at, is_revoked, access_count, created_by, version_token, created_at, updated_at) VALUES (?, ?, ?, FALSE, 0, ?, ?, NOW(6), NOW(6))`

func shareLinkRow(id int64, slug, token string, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(shareLinkRowCols).
		AddRow(id, int64(3), slug, nil, false, int64(0), nil, token, at, nil, at)
}

func TestShareLinkCreateRetriesOnSlugCollision(t *testing.T) {
	db, mock := testDB(t)
	repo := NewShareLinks(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM layouts WHERE id = ? LIMIT 1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	// First mint collides with an existing slug; the second sticks.
	mock.ExpectExec(regexp.QuoteMeta(insertShareLink)).
		WithArgs(int64(3), sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg()).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectExec(regexp.QuoteMeta(insertShareLink)).
		WithArgs(int64(3), sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(8, 1))

	mock.ExpectQuery(regexp.QuoteMeta(selectShareLinks + ` WHERE id = ?`)).
		WithArgs(int64(8)).
		WillReturnRows(shareLinkRow(8, "aB3dE5fG7hJ9kL1m", "tok-s", now))

	l, err := repo.Create(context.Background(), CreateShareLinkInput{LayoutID: 3})
	if err != nil {
		t.Fatalf("create share link: %v", err)
	}
	if n := len(l.Slug); n < 12 || n > 20 {
		t.Fatalf("slug length %d outside 12–20", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestShareLinkTouchAccessUnconditioned(t *testing.T) {
	db, mock := testDB(t)
	repo := NewShareLinks(db)
	at := time.UnixMicro(1756200000000000).UTC()

	// No version token in sight: the counter bump is a single statement
	// keyed on id alone.
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE share_links SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`)).
		WithArgs(at, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.TouchAccess(context.Background(), 8, at); err != nil {
		t.Fatalf("touch access: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestShareLinkRevokeWithToken(t *testing.T) {
	db, mock := testDB(t)
	repo := NewShareLinks(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectShareLinks + ` WHERE id = ?`)).
		WithArgs(int64(8)).
		WillReturnRows(shareLinkRow(8, "aB3dE5fG7hJ9kL1m", "tok-s", now))

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE share_links SET is_revoked = ?, version_token = ?, updated_at = NOW(6) WHERE id = ? AND version_token = ?`)).
		WithArgs(true, sqlmock.AnyArg(), int64(8), "tok-s").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta(selectShareLinks + ` WHERE id = ?`)).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(shareLinkRowCols).
			AddRow(int64(8), int64(3), "aB3dE5fG7hJ9kL1m", nil, true, int64(0),
				nil, "tok-t", now, nil, now.Add(time.Second)))

	revoked := true
	l, err := repo.Update(context.Background(), 8, "tok-s", UpdateShareLinkInput{IsRevoked: &revoked})
	if err != nil {
		t.Fatalf("revoke share link: %v", err)
	}
	if !l.IsRevoked {
		t.Fatalf("link not revoked: %+v", l)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestShareLinkUpdateMissingToken(t *testing.T) {
	db, mock := testDB(t)
	repo := NewShareLinks(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectShareLinks + ` WHERE id = ?`)).
		WithArgs(int64(8)).
		WillReturnRows(shareLinkRow(8, "aB3dE5fG7hJ9kL1m", "tok-s", now))

	revoked := true
	_, err := repo.Update(context.Background(), 8, "", UpdateShareLinkInput{IsRevoked: &revoked})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
