// internal/store/template.go
//
// Template repository.
//
// Templates are reusable layout presets, not tied to any Layout and not
// collaboratively edited — they carry no version token, and updates are
// plain last-write-wins.  The zones/assets snapshots are opaque JSON blobs
// the editor materializes into a layout client-side.
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
)

const templateCols = `id, name, description, sport_type, zones_json, assets_json,
       thumbnail_url, owner_id, created_at, updated_at`

// Template mirrors one row of the templates table.
type Template struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Description  string          `db:"description" json:"description"`
	SportType    string          `db:"sport_type" json:"sport_type"`
	ZonesJSON    json.RawMessage `db:"zones_json" json:"zones_json"`
	AssetsJSON   json.RawMessage `db:"assets_json" json:"assets_json"`
	ThumbnailURL string          `db:"thumbnail_url" json:"thumbnail_url"`
	OwnerID      *string         `db:"owner_id" json:"owner_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateTemplateInput struct {
	Name         string          `json:"name" validate:"required,max=255"`
	Description  string          `json:"description" validate:"max=2000"`
	SportType    string          `json:"sport_type" validate:"required,max=64"`
	ZonesJSON    json.RawMessage `json:"zones_json" validate:"required"`
	AssetsJSON   json.RawMessage `json:"assets_json" validate:"required"`
	ThumbnailURL string          `json:"thumbnail_url" validate:"omitempty,url,max=512"`
	OwnerID      *string         `json:"owner_id,omitempty" validate:"omitempty,max=64"`
}

type UpdateTemplateInput struct {
	Name         *string         `json:"name,omitempty" validate:"omitempty,max=255"`
	Description  *string         `json:"description,omitempty" validate:"omitempty,max=2000"`
	SportType    *string         `json:"sport_type,omitempty" validate:"omitempty,max=64"`
	ZonesJSON    json.RawMessage `json:"zones_json,omitempty"`
	AssetsJSON   json.RawMessage `json:"assets_json,omitempty"`
	ThumbnailURL *string         `json:"thumbnail_url,omitempty" validate:"omitempty,url,max=512"`
}

type TemplateFilter struct {
	SportType string
	OwnerID   string
}

// Templates is the Template repository.
type Templates struct {
	db    *sqlx.DB
	pager Pager
}

func NewTemplates(db *sqlx.DB) *Templates {
	return &Templates{db: db, pager: DefaultPager}
}

func (r *Templates) WithPager(p Pager) *Templates {
	r.pager = p
	return r
}

func (r *Templates) Create(ctx context.Context, in CreateTemplateInput) (*Template, error) {
	if !json.Valid(in.ZonesJSON) {
		return nil, invalidf("zones_json", "not valid JSON")
	}
	if !json.Valid(in.AssetsJSON) {
		return nil, invalidf("assets_json", "not valid JSON")
	}

	const q = `
        INSERT INTO templates
               (name, description, sport_type, zones_json, assets_json,
                thumbnail_url, owner_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`
	res, err := r.db.ExecContext(ctx, q,
		in.Name, in.Description, in.SportType, string(in.ZonesJSON),
		string(in.AssetsJSON), in.ThumbnailURL, in.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("template id: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Templates) Get(ctx context.Context, id int64) (*Template, error) {
	q := `SELECT ` + templateCols + ` FROM templates WHERE id = ?`
	var t Template
	if err := r.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (r *Templates) List(ctx context.Context, f TemplateFilter, cur string, limit int) (*Page[Template], error) {
	n, err := r.pager.resolve(limit)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if f.SportType != "" {
		where = append(where, `sport_type = ?`)
		args = append(args, f.SportType)
	}
	if f.OwnerID != "" {
		where = append(where, `owner_id = ?`)
		args = append(args, f.OwnerID)
	}
	if cur != "" {
		id, ts, err := decodeCursor(cur)
		if err != nil {
			return nil, err
		}
		where = append(where, keysetWhere)
		args = append(args, ts, ts, id)
	}

	q := `SELECT ` + templateCols + ` FROM templates`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, n+1)

	var rows []Template
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return pageOf(rows, n, func(t Template) (int64, time.Time) { return t.ID, t.UpdatedAt }), nil
}

// Update is last-write-wins: no token, no precondition, by design.
func (r *Templates) Update(ctx context.Context, id int64, patch UpdateTemplateInput) (*Template, error) {
	set := make([]string, 0, 7)
	args := make([]any, 0, 8)
	if patch.Name != nil {
		set = append(set, `name = ?`)
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		set = append(set, `description = ?`)
		args = append(args, *patch.Description)
	}
	if patch.SportType != nil {
		set = append(set, `sport_type = ?`)
		args = append(args, *patch.SportType)
	}
	if patch.ZonesJSON != nil {
		if !json.Valid(patch.ZonesJSON) {
			return nil, invalidf("zones_json", "not valid JSON")
		}
		set = append(set, `zones_json = ?`)
		args = append(args, string(patch.ZonesJSON))
	}
	if patch.AssetsJSON != nil {
		if !json.Valid(patch.AssetsJSON) {
			return nil, invalidf("assets_json", "not valid JSON")
		}
		set = append(set, `assets_json = ?`)
		args = append(args, string(patch.AssetsJSON))
	}
	if patch.ThumbnailURL != nil {
		set = append(set, `thumbnail_url = ?`)
		args = append(args, *patch.ThumbnailURL)
	}
	if len(set) == 0 {
		return nil, invalidf("", "empty patch")
	}

	set = append(set, `updated_at = NOW(6)`)
	args = append(args, id)

	q := `UPDATE templates SET ` + strings.Join(set, `, `) + ` WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *Templates) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
