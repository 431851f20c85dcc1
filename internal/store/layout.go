// internal/store/layout.go
//
// Layout repository.
//
// Context
// -------
// A Layout is a named field configuration belonging to exactly one Site.
// It exclusively owns its Zones and Assets: deleting a Layout removes them
// in the same transaction, children first, so a partial failure can never
// leave orphans behind a missing parent.  site_id is immutable after
// creation — the patch struct simply has no way to express it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groundplan/groundplan/internal/version"
)

const layoutCols = `id, site_id, name, description, is_published, metadata,
       created_by, version_token, created_at, updated_at`

// Layout mirrors one row of the layouts table.  Metadata is an opaque JSON
// blob (intent/subtype tags) the store round-trips untouched.
type Layout struct {
	ID           int64           `db:"id" json:"id"`
	SiteID       int64           `db:"site_id" json:"site_id"`
	Name         string          `db:"name" json:"name"`
	Description  string          `db:"description" json:"description"`
	IsPublished  bool            `db:"is_published" json:"is_published"`
	Metadata     json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	VersionToken string          `db:"version_token" json:"version_token"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateLayoutInput struct {
	SiteID      int64           `json:"site_id" validate:"required,gt=0"`
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=2000"`
	IsPublished bool            `json:"is_published"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedBy   string          `json:"created_by" validate:"max=64"`
}

type UpdateLayoutInput struct {
	Name        *string         `json:"name,omitempty" validate:"omitempty,max=255"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=2000"`
	IsPublished *bool           `json:"is_published,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type LayoutFilter struct {
	SiteID      int64 // 0 = all sites
	IsPublished *bool
}

// Layouts is the Layout repository.
type Layouts struct {
	db    *sqlx.DB
	pager Pager
}

func NewLayouts(db *sqlx.DB) *Layouts {
	return &Layouts{db: db, pager: DefaultPager}
}

func (r *Layouts) WithPager(p Pager) *Layouts {
	r.pager = p
	return r
}

// Create inserts a layout after confirming the parent site is live.  The
// FK would catch a missing site, but a soft-deleted one still has a row;
// the notDeleted predicate closes that gap.
func (r *Layouts) Create(ctx context.Context, in CreateLayoutInput) (*Layout, error) {
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return nil, invalidf("metadata", "not valid JSON")
	}
	liveSite, err := rowExists(ctx, r.db,
		`SELECT 1 FROM sites WHERE id = ? AND `+notDeleted+` LIMIT 1`, in.SiteID)
	if err != nil {
		return nil, fmt.Errorf("check site: %w", err)
	}
	if !liveSite {
		return nil, invalidf("site_id", "site %d does not exist", in.SiteID)
	}

	const q = `
        INSERT INTO layouts
               (site_id, name, description, is_published, metadata, created_by,
                version_token, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`
	res, err := r.db.ExecContext(ctx, q,
		in.SiteID, in.Name, in.Description, in.IsPublished,
		nullJSON(in.Metadata), in.CreatedBy, version.Issue())
	if err != nil {
		return nil, fmt.Errorf("insert layout: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("layout id: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Layouts) Get(ctx context.Context, id int64) (*Layout, error) {
	q := `SELECT ` + layoutCols + ` FROM layouts WHERE id = ?`
	var l Layout
	if err := r.db.GetContext(ctx, &l, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get layout: %w", err)
	}
	return &l, nil
}

func (r *Layouts) List(ctx context.Context, f LayoutFilter, cur string, limit int) (*Page[Layout], error) {
	n, err := r.pager.resolve(limit)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if f.SiteID != 0 {
		where = append(where, `site_id = ?`)
		args = append(args, f.SiteID)
	}
	if f.IsPublished != nil {
		where = append(where, `is_published = ?`)
		args = append(args, *f.IsPublished)
	}
	if cur != "" {
		id, ts, err := decodeCursor(cur)
		if err != nil {
			return nil, err
		}
		where = append(where, keysetWhere)
		args = append(args, ts, ts, id)
	}

	q := `SELECT ` + layoutCols + ` FROM layouts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, n+1)

	var rows []Layout
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list layouts: %w", err)
	}
	return pageOf(rows, n, func(l Layout) (int64, time.Time) { return l.ID, l.UpdatedAt }), nil
}

func (r *Layouts) Update(ctx context.Context, id int64, token string, patch UpdateLayoutInput) (*Layout, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := version.Check(current.VersionToken, token); err != nil {
		return nil, ErrConflict
	}
	if len(patch.Metadata) > 0 && !json.Valid(patch.Metadata) {
		return nil, invalidf("metadata", "not valid JSON")
	}

	set := make([]string, 0, 6)
	args := make([]any, 0, 8)
	if patch.Name != nil {
		set = append(set, `name = ?`)
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		set = append(set, `description = ?`)
		args = append(args, *patch.Description)
	}
	if patch.IsPublished != nil {
		set = append(set, `is_published = ?`)
		args = append(args, *patch.IsPublished)
	}
	if patch.Metadata != nil {
		set = append(set, `metadata = ?`)
		args = append(args, string(patch.Metadata))
	}
	if len(set) == 0 {
		return nil, invalidf("", "empty patch")
	}

	set = append(set, `version_token = ?`, `updated_at = NOW(6)`)
	args = append(args, version.Issue(), id, token)

	q := `UPDATE layouts SET ` + strings.Join(set, `, `) +
		` WHERE id = ? AND version_token = ?`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update layout: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update layout: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM layouts WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return nil, fmt.Errorf("update layout: %w", err)
		}
		return nil, classifyWrite(exists)
	}
	return r.Get(ctx, id)
}

// Delete removes the layout and everything it owns in one transaction,
// children first: assets, then zones, then the conditional parent delete.
// If the token check fails nothing is committed.  A deadline hit anywhere
// in the sequence surfaces as ErrIndeterminate and is never retried here.
func (r *Layouts) Delete(ctx context.Context, id int64, token string) error {
	if token == "" {
		return ErrConflict
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapIndeterminate(fmt.Errorf("begin delete layout: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE layout_id = ?`, id); err != nil {
		return wrapIndeterminate(fmt.Errorf("delete layout assets: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zones WHERE layout_id = ?`, id); err != nil {
		return wrapIndeterminate(fmt.Errorf("delete layout zones: %w", err))
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM layouts WHERE id = ? AND version_token = ?`, id, token)
	if err != nil {
		return wrapIndeterminate(fmt.Errorf("delete layout: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapIndeterminate(fmt.Errorf("delete layout: %w", err))
	}
	if affected == 0 {
		// Roll back the child deletes, then decide between NotFound and
		// Conflict from a fresh read outside the transaction.
		if err := tx.Rollback(); err != nil {
			return wrapIndeterminate(fmt.Errorf("rollback delete layout: %w", err))
		}
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM layouts WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return fmt.Errorf("delete layout: %w", err)
		}
		return classifyWrite(exists)
	}

	if err := tx.Commit(); err != nil {
		return wrapIndeterminate(fmt.Errorf("commit delete layout: %w", err))
	}
	return nil
}
