// internal/store/site.go
//
// Site repository.
//
// Context
// -------
// A Site is a tenant-scoped physical location owned by a club.  Sites are
// soft-deleted: Delete stamps deleted_at and every read path excludes
// stamped rows through the single notDeleted predicate below.  The row is
// retained for audit, and physical removal (with its ON DELETE CASCADE to
// layouts) only ever happens out-of-band.
//
// Notes
// -----
//   - Location (point) and bbox (polygon) are optional geometry columns;
//     they travel as GeoJSON and are validated before any write.  A patch
//     carrying a literal JSON null clears the column.
//   - notDeleted is reused by every query in this file and by the layout
//     repository's parent check.  New read paths must include it; that is
//     the whole point of centralizing the predicate.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groundplan/groundplan/internal/geometry"
	"github.com/groundplan/groundplan/internal/version"
)

// notDeleted is the shared soft-delete predicate for the sites table.
const notDeleted = `deleted_at IS NULL`

// siteCols is the SELECT list shared by every site read.
const siteCols = `id, club_id, name, address_line, city, region, postal_code, country,
       ST_AsGeoJSON(location) AS location, ST_AsGeoJSON(bbox) AS bbox,
       version_token, created_at, updated_at, deleted_at`

// Site mirrors one row of the sites table.
type Site struct {
	ID           int64           `db:"id" json:"id"`
	ClubID       int64           `db:"club_id" json:"club_id"`
	Name         string          `db:"name" json:"name"`
	AddressLine  string          `db:"address_line" json:"address_line"`
	City         string          `db:"city" json:"city"`
	Region       string          `db:"region" json:"region"`
	PostalCode   string          `db:"postal_code" json:"postal_code"`
	Country      string          `db:"country" json:"country"`
	Location     json.RawMessage `db:"location" json:"location,omitempty"`
	BBox         json.RawMessage `db:"bbox" json:"bbox,omitempty"`
	VersionToken string          `db:"version_token" json:"version_token"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// CreateSiteInput is the typed create payload.
type CreateSiteInput struct {
	ClubID      int64           `json:"club_id" validate:"required,gt=0"`
	Name        string          `json:"name" validate:"required,max=255"`
	AddressLine string          `json:"address_line" validate:"max=255"`
	City        string          `json:"city" validate:"max=128"`
	Region      string          `json:"region" validate:"max=128"`
	PostalCode  string          `json:"postal_code" validate:"max=32"`
	Country     string          `json:"country" validate:"max=2"`
	Location    json.RawMessage `json:"location,omitempty"`
	BBox        json.RawMessage `json:"bbox,omitempty"`
}

// UpdateSiteInput is a sparse patch; nil fields are left untouched.
type UpdateSiteInput struct {
	Name        *string         `json:"name,omitempty" validate:"omitempty,max=255"`
	AddressLine *string         `json:"address_line,omitempty" validate:"omitempty,max=255"`
	City        *string         `json:"city,omitempty" validate:"omitempty,max=128"`
	Region      *string         `json:"region,omitempty" validate:"omitempty,max=128"`
	PostalCode  *string         `json:"postal_code,omitempty" validate:"omitempty,max=32"`
	Country     *string         `json:"country,omitempty" validate:"omitempty,max=2"`
	Location    json.RawMessage `json:"location,omitempty"`
	BBox        json.RawMessage `json:"bbox,omitempty"`
}

// SiteFilter narrows List results.
type SiteFilter struct {
	ClubID         int64 // 0 = all clubs
	IncludeDeleted bool  // audit paths only
}

// Sites is the Site repository.  Construct with NewSites; zero value is
// invalid.
type Sites struct {
	db    *sqlx.DB
	pager Pager
}

// NewSites returns a Site repository over db.
func NewSites(db *sqlx.DB) *Sites {
	return &Sites{db: db, pager: DefaultPager}
}

// WithPager overrides the paging limits (wired from configuration).
func (r *Sites) WithPager(p Pager) *Sites {
	r.pager = p
	return r
}

// Create validates geometry, issues the first version token, and inserts.
func (r *Sites) Create(ctx context.Context, in CreateSiteInput) (*Site, error) {
	var err error
	if in.Location, err = optionalPoint("location", in.Location); err != nil {
		return nil, err
	}
	if in.BBox, err = optionalBBox("bbox", in.BBox); err != nil {
		return nil, err
	}

	const q = `
        INSERT INTO sites
               (club_id, name, address_line, city, region, postal_code, country,
                location, bbox, version_token, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?,
                ST_GeomFromGeoJSON(?), ST_GeomFromGeoJSON(?), ?, NOW(6), NOW(6))`

	token := version.Issue()
	res, err := r.db.ExecContext(ctx, q,
		in.ClubID, in.Name, in.AddressLine, in.City, in.Region, in.PostalCode,
		in.Country, nullJSON(in.Location), nullJSON(in.BBox), token)
	if err != nil {
		return nil, fmt.Errorf("insert site: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("site id: %w", err)
	}
	return r.Get(ctx, id)
}

// Get returns a live site or ErrNotFound.  Soft-deleted rows are invisible
// here; audit callers use GetAny.
func (r *Sites) Get(ctx context.Context, id int64) (*Site, error) {
	q := `SELECT ` + siteCols + ` FROM sites WHERE id = ? AND ` + notDeleted
	var s Site
	if err := r.db.GetContext(ctx, &s, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get site: %w", err)
	}
	return &s, nil
}

// GetAny returns the site regardless of soft-delete state.
func (r *Sites) GetAny(ctx context.Context, id int64) (*Site, error) {
	q := `SELECT ` + siteCols + ` FROM sites WHERE id = ?`
	var s Site
	if err := r.db.GetContext(ctx, &s, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get site: %w", err)
	}
	return &s, nil
}

// List pages sites in (updated_at DESC, id DESC) order.
func (r *Sites) List(ctx context.Context, f SiteFilter, cur string, limit int) (*Page[Site], error) {
	n, err := r.pager.resolve(limit)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if !f.IncludeDeleted {
		where = append(where, notDeleted)
	}
	if f.ClubID != 0 {
		where = append(where, `club_id = ?`)
		args = append(args, f.ClubID)
	}
	if cur != "" {
		id, ts, err := decodeCursor(cur)
		if err != nil {
			return nil, err
		}
		where = append(where, keysetWhere)
		args = append(args, ts, ts, id)
	}

	q := `SELECT ` + siteCols + ` FROM sites`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, n+1) // one extra row decides has_more

	var rows []Site
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return pageOf(rows, n, func(s Site) (int64, time.Time) { return s.ID, s.UpdatedAt }), nil
}

// Update applies a sparse patch under the version-token precondition.
func (r *Sites) Update(ctx context.Context, id int64, token string, patch UpdateSiteInput) (*Site, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := version.Check(current.VersionToken, token); err != nil {
		// Fast fail on a missing or obviously stale token; the conditional
		// UPDATE below remains the authoritative check.
		return nil, ErrConflict
	}

	set := make([]string, 0, 10)
	args := make([]any, 0, 12)
	appendSet := func(col string, v any) {
		set = append(set, col+` = ?`)
		args = append(args, v)
	}
	if patch.Name != nil {
		appendSet(`name`, *patch.Name)
	}
	if patch.AddressLine != nil {
		appendSet(`address_line`, *patch.AddressLine)
	}
	if patch.City != nil {
		appendSet(`city`, *patch.City)
	}
	if patch.Region != nil {
		appendSet(`region`, *patch.Region)
	}
	if patch.PostalCode != nil {
		appendSet(`postal_code`, *patch.PostalCode)
	}
	if patch.Country != nil {
		appendSet(`country`, *patch.Country)
	}
	if patch.Location != nil {
		if jsonNull(patch.Location) {
			set = append(set, `location = NULL`)
		} else {
			loc, err := optionalPoint("location", patch.Location)
			if err != nil {
				return nil, err
			}
			set = append(set, `location = ST_GeomFromGeoJSON(?)`)
			args = append(args, string(loc))
		}
	}
	if patch.BBox != nil {
		if jsonNull(patch.BBox) {
			set = append(set, `bbox = NULL`)
		} else {
			bbox, err := optionalBBox("bbox", patch.BBox)
			if err != nil {
				return nil, err
			}
			set = append(set, `bbox = ST_GeomFromGeoJSON(?)`)
			args = append(args, string(bbox))
		}
	}
	if len(set) == 0 {
		return nil, invalidf("", "empty patch")
	}

	newToken := version.Issue()
	set = append(set, `version_token = ?`, `updated_at = NOW(6)`)
	args = append(args, newToken, id, token)

	q := `UPDATE sites SET ` + strings.Join(set, `, `) +
		` WHERE id = ? AND version_token = ? AND ` + notDeleted
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update site: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM sites WHERE id = ? AND `+notDeleted+` LIMIT 1`, id)
		if err != nil {
			return nil, fmt.Errorf("update site: %w", err)
		}
		return nil, classifyWrite(exists)
	}
	return r.Get(ctx, id)
}

// Delete soft-deletes under the token precondition.  Child layouts are
// untouched: the site row stays, so nothing cascades until a physical
// delete happens out-of-band.
func (r *Sites) Delete(ctx context.Context, id int64, token string) error {
	if token == "" {
		return ErrConflict
	}
	q := `UPDATE sites
             SET deleted_at = NOW(6), version_token = ?, updated_at = NOW(6)
           WHERE id = ? AND version_token = ? AND ` + notDeleted
	res, err := r.db.ExecContext(ctx, q, version.Issue(), id, token)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM sites WHERE id = ? AND `+notDeleted+` LIMIT 1`, id)
		if err != nil {
			return fmt.Errorf("delete site: %w", err)
		}
		return classifyWrite(exists)
	}
	return nil
}

// jsonNull reports whether raw is the literal JSON null, the wire form
// for "clear this optional column".
func jsonNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// optionalPoint validates an optional GeoJSON point field.
func optionalPoint(field string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || jsonNull(raw) {
		return nil, nil
	}
	out, err := geometry.ValidateSitePoint(raw)
	if err != nil {
		return nil, invalid(field, err)
	}
	return out, nil
}

// optionalBBox validates an optional GeoJSON polygon field.
func optionalBBox(field string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || jsonNull(raw) {
		return nil, nil
	}
	out, err := geometry.ValidateSiteBBox(raw)
	if err != nil {
		return nil, invalid(field, err)
	}
	return out, nil
}

// nullJSON converts empty geometry to a SQL NULL bind value.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// pageOf assembles the uniform page result from limit+1 query rows.
func pageOf[T any](rows []T, limit int, key func(T) (int64, time.Time)) *Page[T] {
	p := &Page[T]{Data: rows}
	if len(rows) > limit {
		p.Data = rows[:limit]
		p.HasMore = true
		last := p.Data[len(p.Data)-1]
		id, ts := key(last)
		p.NextCursor = nextCursor(id, ts)
	}
	if p.Data == nil {
		p.Data = []T{}
	}
	return p
}
