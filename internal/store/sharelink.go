// internal/store/sharelink.go
//
// ShareLink repository.
//
// Context
// -------
// A ShareLink is a revocable public pointer to a Layout, addressed by a
// globally unique random slug.  Expiry is evaluated at resolution time by
// the resolver, never eagerly here.  The access counter and access-event
// rows are analytics-grade: TouchAccess and RecordAccess are unconditioned
// single statements outside the version-token discipline, so a hot public
// link never serializes its readers behind token churn.
//
// Slug generation follows the usual collision-retry loop: generate 16
// URL-safe characters from crypto/rand, insert, and on a duplicate-key
// error try again a bounded number of times.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/groundplan/groundplan/internal/version"
)

const slugCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// SlugLength is within the documented 12–20 character window.
const SlugLength = 16

const slugMaxRetries = 5

const shareLinkCols = `id, layout_id, slug, expires_at, is_revoked, access_count,
       created_by, version_token, created_at, last_accessed_at, updated_at`

// ShareLink mirrors one row of the share_links table.
type ShareLink struct {
	ID             int64      `db:"id" json:"id"`
	LayoutID       int64      `db:"layout_id" json:"layout_id"`
	Slug           string     `db:"slug" json:"slug"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IsRevoked      bool       `db:"is_revoked" json:"is_revoked"`
	AccessCount    int64      `db:"access_count" json:"access_count"`
	CreatedBy      *string    `db:"created_by" json:"created_by,omitempty"`
	VersionToken   string     `db:"version_token" json:"version_token"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// AccessRecord is one resolution event, written asynchronously by the
// resolver's workers.
type AccessRecord struct {
	LinkID     int64
	OccurredAt time.Time
	Browser    string
	Device     string
	Country    string
}

type CreateShareLinkInput struct {
	LayoutID  int64      `json:"layout_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedBy *string    `json:"created_by,omitempty" validate:"omitempty,max=64"`
}

type UpdateShareLinkInput struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsRevoked *bool      `json:"is_revoked,omitempty"`
}

type ShareLinkFilter struct {
	LayoutID int64 // 0 = all layouts
}

// ShareLinks is the ShareLink repository.
type ShareLinks struct {
	db    *sqlx.DB
	pager Pager
}

func NewShareLinks(db *sqlx.DB) *ShareLinks {
	return &ShareLinks{db: db, pager: DefaultPager}
}

func (r *ShareLinks) WithPager(p Pager) *ShareLinks {
	r.pager = p
	return r
}

// Create mints a slug and inserts, retrying on slug collision.  The unique
// index on slug is the authority; the loop just rides it.
func (r *ShareLinks) Create(ctx context.Context, in CreateShareLinkInput) (*ShareLink, error) {
	layoutOK, err := rowExists(ctx, r.db, `SELECT 1 FROM layouts WHERE id = ? LIMIT 1`, in.LayoutID)
	if err != nil {
		return nil, fmt.Errorf("check layout: %w", err)
	}
	if !layoutOK {
		return nil, invalidf("layout_id", "layout %d does not exist", in.LayoutID)
	}

	const q = `
        INSERT INTO share_links
               (layout_id, slug, expires_at, is_revoked, access_count,
                created_by, version_token, created_at, updated_at)
        VALUES (?, ?, ?, FALSE, 0, ?, ?, NOW(6), NOW(6))`

	for attempt := 0; attempt < slugMaxRetries; attempt++ {
		slug, err := newSlug(SlugLength)
		if err != nil {
			return nil, fmt.Errorf("mint slug: %w", err)
		}
		res, err := r.db.ExecContext(ctx, q,
			in.LayoutID, slug, in.ExpiresAt, in.CreatedBy, version.Issue())
		if err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return nil, fmt.Errorf("insert share link: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("share link id: %w", err)
		}
		return r.Get(ctx, id)
	}
	return nil, fmt.Errorf("insert share link: slug space exhausted after %d attempts", slugMaxRetries)
}

func (r *ShareLinks) Get(ctx context.Context, id int64) (*ShareLink, error) {
	q := `SELECT ` + shareLinkCols + ` FROM share_links WHERE id = ?`
	var l ShareLink
	if err := r.db.GetContext(ctx, &l, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get share link: %w", err)
	}
	return &l, nil
}

// GetBySlug is the resolver's lookup.  Revocation and expiry are returned
// as stored; the resolver decides what they mean at resolution time.
func (r *ShareLinks) GetBySlug(ctx context.Context, slug string) (*ShareLink, error) {
	q := `SELECT ` + shareLinkCols + ` FROM share_links WHERE slug = ? LIMIT 1`
	var l ShareLink
	if err := r.db.GetContext(ctx, &l, q, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("share link by slug: %w", err)
	}
	return &l, nil
}

func (r *ShareLinks) List(ctx context.Context, f ShareLinkFilter, cur string, limit int) (*Page[ShareLink], error) {
	n, err := r.pager.resolve(limit)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if f.LayoutID != 0 {
		where = append(where, `layout_id = ?`)
		args = append(args, f.LayoutID)
	}
	if cur != "" {
		id, ts, err := decodeCursor(cur)
		if err != nil {
			return nil, err
		}
		where = append(where, keysetWhere)
		args = append(args, ts, ts, id)
	}

	q := `SELECT ` + shareLinkCols + ` FROM share_links`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, n+1)

	var rows []ShareLink
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	return pageOf(rows, n, func(l ShareLink) (int64, time.Time) { return l.ID, l.UpdatedAt }), nil
}

// Update changes expiry or revocation under the token precondition.
func (r *ShareLinks) Update(ctx context.Context, id int64, token string, patch UpdateShareLinkInput) (*ShareLink, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := version.Check(current.VersionToken, token); err != nil {
		return nil, ErrConflict
	}

	set := make([]string, 0, 4)
	args := make([]any, 0, 6)
	if patch.ExpiresAt != nil {
		set = append(set, `expires_at = ?`)
		args = append(args, *patch.ExpiresAt)
	}
	if patch.IsRevoked != nil {
		set = append(set, `is_revoked = ?`)
		args = append(args, *patch.IsRevoked)
	}
	if len(set) == 0 {
		return nil, invalidf("", "empty patch")
	}

	set = append(set, `version_token = ?`, `updated_at = NOW(6)`)
	args = append(args, version.Issue(), id, token)

	q := `UPDATE share_links SET ` + strings.Join(set, `, `) +
		` WHERE id = ? AND version_token = ?`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update share link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update share link: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM share_links WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return nil, fmt.Errorf("update share link: %w", err)
		}
		return nil, classifyWrite(exists)
	}
	return r.Get(ctx, id)
}

func (r *ShareLinks) Delete(ctx context.Context, id int64, token string) error {
	if token == "" {
		return ErrConflict
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM share_links WHERE id = ? AND version_token = ?`, id, token)
	if err != nil {
		return fmt.Errorf("delete share link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete share link: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM share_links WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return fmt.Errorf("delete share link: %w", err)
		}
		return classifyWrite(exists)
	}
	return nil
}

// TouchAccess bumps the access counter and last_accessed_at.  Deliberately
// unconditioned: the counter is analytics, not state under concurrency
// control, and must never fail a resolution.
func (r *ShareLinks) TouchAccess(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE share_links SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		at, id)
	if err != nil {
		return fmt.Errorf("touch share link: %w", err)
	}
	return nil
}

// RecordAccess appends one access-event row.
func (r *ShareLinks) RecordAccess(ctx context.Context, rec AccessRecord) error {
	const q = `
        INSERT INTO share_link_accesses
               (link_id, occurred_at, browser, device, country)
        VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		rec.LinkID, rec.OccurredAt, rec.Browser, rec.Device, rec.Country)
	if err != nil {
		return fmt.Errorf("record share access: %w", err)
	}
	return nil
}

// newSlug draws n characters from the URL-safe charset with crypto/rand.
func newSlug(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(slugCharset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = slugCharset[idx.Int64()]
	}
	return string(b), nil
}

// isDuplicateKey reports MySQL error 1062 (ER_DUP_ENTRY).
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
