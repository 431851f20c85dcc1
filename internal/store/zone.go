// internal/store/zone.go
//
// Zone repository.
//
// Context
// -------
// A Zone is a polygonal area inside a Layout: a pitch, a training grid, a
// spectator area.  The boundary is mandatory and validated before every
// write; area_sqm and perimeter_m are derived from the boundary at write
// time and never accepted from the client — a patched boundary always
// recomputes both.  Deleting a Zone does not delete the Assets that point
// at it; their back-reference is nulled in the same transaction.  Every
// successful write also stamps the parent layout's updated_at, so
// anything keyed on the layout row sees child edits.
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

	"github.com/groundplan/groundplan/internal/geometry"
	"github.com/groundplan/groundplan/internal/version"
)

const zoneCols = `id, layout_id, name, zone_type, surface, color,
       ST_AsGeoJSON(boundary) AS boundary, area_sqm, perimeter_m,
       version_token, created_at, updated_at`

// Zone mirrors one row of the zones table.
type Zone struct {
	ID           int64           `db:"id" json:"id"`
	LayoutID     int64           `db:"layout_id" json:"layout_id"`
	Name         string          `db:"name" json:"name"`
	ZoneType     string          `db:"zone_type" json:"zone_type"`
	Surface      string          `db:"surface" json:"surface"`
	Color        string          `db:"color" json:"color"`
	Boundary     json.RawMessage `db:"boundary" json:"boundary"`
	AreaSqm      float64         `db:"area_sqm" json:"area_sqm"`
	PerimeterM   float64         `db:"perimeter_m" json:"perimeter_m"`
	VersionToken string          `db:"version_token" json:"version_token"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateZoneInput struct {
	LayoutID int64           `json:"layout_id" validate:"required,gt=0"`
	Name     string          `json:"name" validate:"required,max=255"`
	ZoneType string          `json:"zone_type" validate:"required,max=64"`
	Surface  string          `json:"surface" validate:"max=64"`
	Color    string          `json:"color" validate:"omitempty,hexcolor"`
	Boundary json.RawMessage `json:"boundary" validate:"required"`
}

type UpdateZoneInput struct {
	Name     *string         `json:"name,omitempty" validate:"omitempty,max=255"`
	ZoneType *string         `json:"zone_type,omitempty" validate:"omitempty,max=64"`
	Surface  *string         `json:"surface,omitempty" validate:"omitempty,max=64"`
	Color    *string         `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Boundary json.RawMessage `json:"boundary,omitempty"`
}

type ZoneFilter struct {
	LayoutID int64 // 0 = all layouts
	ZoneType string
}

// Zones is the Zone repository.
type Zones struct {
	db    *sqlx.DB
	pager Pager
}

func NewZones(db *sqlx.DB) *Zones {
	return &Zones{db: db, pager: DefaultPager}
}

func (r *Zones) WithPager(p Pager) *Zones {
	r.pager = p
	return r
}

// Create validates the boundary, derives area and perimeter, and inserts.
func (r *Zones) Create(ctx context.Context, in CreateZoneInput) (*Zone, error) {
	b, err := geometry.ValidateZoneBoundary(in.Boundary)
	if err != nil {
		return nil, invalid("boundary", err)
	}
	layoutOK, err := rowExists(ctx, r.db, `SELECT 1 FROM layouts WHERE id = ? LIMIT 1`, in.LayoutID)
	if err != nil {
		return nil, fmt.Errorf("check layout: %w", err)
	}
	if !layoutOK {
		return nil, invalidf("layout_id", "layout %d does not exist", in.LayoutID)
	}

	const q = `
        INSERT INTO zones
               (layout_id, name, zone_type, surface, color, boundary,
                area_sqm, perimeter_m, version_token, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ST_GeomFromGeoJSON(?), ?, ?, ?, NOW(6), NOW(6))`
	res, err := r.db.ExecContext(ctx, q,
		in.LayoutID, in.Name, in.ZoneType, in.Surface, in.Color,
		string(b.GeoJSON), b.AreaSqm, b.PerimeterM, version.Issue())
	if err != nil {
		return nil, fmt.Errorf("insert zone: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("zone id: %w", err)
	}
	if err := touchLayout(ctx, r.db, in.LayoutID); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *Zones) Get(ctx context.Context, id int64) (*Zone, error) {
	q := `SELECT ` + zoneCols + ` FROM zones WHERE id = ?`
	var z Zone
	if err := r.db.GetContext(ctx, &z, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get zone: %w", err)
	}
	return &z, nil
}

func (r *Zones) List(ctx context.Context, f ZoneFilter, cur string, limit int) (*Page[Zone], error) {
	n, err := r.pager.resolve(limit)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if f.LayoutID != 0 {
		where = append(where, `layout_id = ?`)
		args = append(args, f.LayoutID)
	}
	if f.ZoneType != "" {
		where = append(where, `zone_type = ?`)
		args = append(args, f.ZoneType)
	}
	if cur != "" {
		id, ts, err := decodeCursor(cur)
		if err != nil {
			return nil, err
		}
		where = append(where, keysetWhere)
		args = append(args, ts, ts, id)
	}

	q := `SELECT ` + zoneCols + ` FROM zones`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, n+1)

	var rows []Zone
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	return pageOf(rows, n, func(z Zone) (int64, time.Time) { return z.ID, z.UpdatedAt }), nil
}

// ForLayout returns every zone of a layout, unpaginated.  Snapshot path
// for the public link resolver; not exposed over the paged API.
func (r *Zones) ForLayout(ctx context.Context, layoutID int64) ([]Zone, error) {
	q := `SELECT ` + zoneCols + ` FROM zones WHERE layout_id = ? ORDER BY id`
	var rows []Zone
	if err := r.db.SelectContext(ctx, &rows, q, layoutID); err != nil {
		return nil, fmt.Errorf("zones for layout: %w", err)
	}
	return rows, nil
}

func (r *Zones) Update(ctx context.Context, id int64, token string, patch UpdateZoneInput) (*Zone, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := version.Check(current.VersionToken, token); err != nil {
		return nil, ErrConflict
	}

	set := make([]string, 0, 8)
	args := make([]any, 0, 10)
	if patch.Name != nil {
		set = append(set, `name = ?`)
		args = append(args, *patch.Name)
	}
	if patch.ZoneType != nil {
		set = append(set, `zone_type = ?`)
		args = append(args, *patch.ZoneType)
	}
	if patch.Surface != nil {
		set = append(set, `surface = ?`)
		args = append(args, *patch.Surface)
	}
	if patch.Color != nil {
		set = append(set, `color = ?`)
		args = append(args, *patch.Color)
	}
	if patch.Boundary != nil {
		b, err := geometry.ValidateZoneBoundary(patch.Boundary)
		if err != nil {
			return nil, invalid("boundary", err)
		}
		// Derived measures always ride with the boundary they came from.
		set = append(set, `boundary = ST_GeomFromGeoJSON(?)`, `area_sqm = ?`, `perimeter_m = ?`)
		args = append(args, string(b.GeoJSON), b.AreaSqm, b.PerimeterM)
	}
	if len(set) == 0 {
		return nil, invalidf("", "empty patch")
	}

	set = append(set, `version_token = ?`, `updated_at = NOW(6)`)
	args = append(args, version.Issue(), id, token)

	q := `UPDATE zones SET ` + strings.Join(set, `, `) +
		` WHERE id = ? AND version_token = ?`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update zone: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update zone: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM zones WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return nil, fmt.Errorf("update zone: %w", err)
		}
		return nil, classifyWrite(exists)
	}
	if err := touchLayout(ctx, r.db, current.LayoutID); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes the zone under the token precondition.  Assets that
// referenced it survive with their zone pointer cleared; pointer clearing
// and the row delete commit together or not at all.
func (r *Zones) Delete(ctx context.Context, id int64, token string) error {
	if token == "" {
		return ErrConflict
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapIndeterminate(fmt.Errorf("begin delete zone: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	var layoutID int64
	if err := tx.GetContext(ctx, &layoutID,
		`SELECT layout_id FROM zones WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return wrapIndeterminate(fmt.Errorf("delete zone: %w", err))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE assets SET zone_id = NULL WHERE zone_id = ?`, id); err != nil {
		return wrapIndeterminate(fmt.Errorf("clear zone refs: %w", err))
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM zones WHERE id = ? AND version_token = ?`, id, token)
	if err != nil {
		return wrapIndeterminate(fmt.Errorf("delete zone: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapIndeterminate(fmt.Errorf("delete zone: %w", err))
	}
	if affected == 0 {
		if err := tx.Rollback(); err != nil {
			return wrapIndeterminate(fmt.Errorf("rollback delete zone: %w", err))
		}
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM zones WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return fmt.Errorf("delete zone: %w", err)
		}
		return classifyWrite(exists)
	}

	if err := touchLayout(ctx, tx, layoutID); err != nil {
		return wrapIndeterminate(err)
	}

	if err := tx.Commit(); err != nil {
		return wrapIndeterminate(fmt.Errorf("commit delete zone: %w", err))
	}
	return nil
}
