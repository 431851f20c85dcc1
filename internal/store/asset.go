// internal/store/asset.go
//
// Asset repository.
//
// Context
// -------
// An Asset is a point or line object inside a Layout: a goal, a sprinkler
// head, a cable run.  Geometry is restricted to exactly Point or
// LineString; polygons belong to Zones.  The optional zone reference is a
// non-owning back-pointer and must land inside the asset's own layout.
// As with zones, every successful write stamps the parent layout's
// updated_at.
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

const assetCols = `id, layout_id, zone_id, name, asset_type,
       ST_AsGeoJSON(geometry) AS geometry, properties, icon, rotation_deg,
       version_token, created_at, updated_at`

// Asset mirrors one row of the assets table.
type Asset struct {
	ID           int64           `db:"id" json:"id"`
	LayoutID     int64           `db:"layout_id" json:"layout_id"`
	ZoneID       *int64          `db:"zone_id" json:"zone_id,omitempty"`
	Name         string          `db:"name" json:"name"`
	AssetType    string          `db:"asset_type" json:"asset_type"`
	Geometry     json.RawMessage `db:"geometry" json:"geometry"`
	Properties   json.RawMessage `db:"properties" json:"properties,omitempty"`
	Icon         string          `db:"icon" json:"icon"`
	RotationDeg  float64         `db:"rotation_deg" json:"rotation_deg"`
	VersionToken string          `db:"version_token" json:"version_token"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateAssetInput struct {
	LayoutID    int64           `json:"layout_id" validate:"required,gt=0"`
	ZoneID      *int64          `json:"zone_id,omitempty" validate:"omitempty,gt=0"`
	Name        string          `json:"name" validate:"required,max=255"`
	AssetType   string          `json:"asset_type" validate:"required,max=64"`
	Geometry    json.RawMessage `json:"geometry" validate:"required"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Icon        string          `json:"icon" validate:"max=128"`
	RotationDeg float64         `json:"rotation_deg" validate:"gte=0,lte=360"`
}

type UpdateAssetInput struct {
	ZoneID      *int64          `json:"zone_id,omitempty" validate:"omitempty,gte=0"` // 0 clears the pointer
	Name        *string         `json:"name,omitempty" validate:"omitempty,max=255"`
	AssetType   *string         `json:"asset_type,omitempty" validate:"omitempty,max=64"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Icon        *string         `json:"icon,omitempty" validate:"omitempty,max=128"`
	RotationDeg *float64        `json:"rotation_deg,omitempty" validate:"omitempty,gte=0,lte=360"`
}

type AssetFilter struct {
	LayoutID  int64 // 0 = all layouts
	ZoneID    int64 // 0 = no zone filter
	AssetType string
}

// Assets is the Asset repository.
type Assets struct {
	db    *sqlx.DB
	pager Pager
}

func NewAssets(db *sqlx.DB) *Assets {
	return &Assets{db: db, pager: DefaultPager}
}

func (r *Assets) WithPager(p Pager) *Assets {
	r.pager = p
	return r
}

// Create validates the geometry type and the zone back-pointer, then
// inserts.
func (r *Assets) Create(ctx context.Context, in CreateAssetInput) (*Asset, error) {
	geom, err := geometry.ValidateAssetGeometry(in.Geometry)
	if err != nil {
		return nil, invalid("geometry", err)
	}
	if len(in.Properties) > 0 && !json.Valid(in.Properties) {
		return nil, invalidf("properties", "not valid JSON")
	}
	layoutOK, err := rowExists(ctx, r.db, `SELECT 1 FROM layouts WHERE id = ? LIMIT 1`, in.LayoutID)
	if err != nil {
		return nil, fmt.Errorf("check layout: %w", err)
	}
	if !layoutOK {
		return nil, invalidf("layout_id", "layout %d does not exist", in.LayoutID)
	}
	if in.ZoneID != nil {
		if err := r.checkZone(ctx, *in.ZoneID, in.LayoutID); err != nil {
			return nil, err
		}
	}

	const q = `
        INSERT INTO assets
               (layout_id, zone_id, name, asset_type, geometry, properties,
                icon, rotation_deg, version_token, created_at, updated_at)
        VALUES (?, ?, ?, ?, ST_GeomFromGeoJSON(?), ?, ?, ?, ?, NOW(6), NOW(6))`
	res, err := r.db.ExecContext(ctx, q,
		in.LayoutID, in.ZoneID, in.Name, in.AssetType, string(geom),
		nullJSON(in.Properties), in.Icon, in.RotationDeg, version.Issue())
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("asset id: %w", err)
	}
	if err := touchLayout(ctx, r.db, in.LayoutID); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *Assets) Get(ctx context.Context, id int64) (*Asset, error) {
	q := `SELECT ` + assetCols + ` FROM assets WHERE id = ?`
	var a Asset
	if err := r.db.GetContext(ctx, &a, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &a, nil
}

func (r *Assets) List(ctx context.Context, f AssetFilter, cur string, limit int) (*Page[Asset], error) {
	n, err := r.pager.resolve(limit)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 4)
	args := make([]any, 0, 6)
	if f.LayoutID != 0 {
		where = append(where, `layout_id = ?`)
		args = append(args, f.LayoutID)
	}
	if f.ZoneID != 0 {
		where = append(where, `zone_id = ?`)
		args = append(args, f.ZoneID)
	}
	if f.AssetType != "" {
		where = append(where, `asset_type = ?`)
		args = append(args, f.AssetType)
	}
	if cur != "" {
		id, ts, err := decodeCursor(cur)
		if err != nil {
			return nil, err
		}
		where = append(where, keysetWhere)
		args = append(args, ts, ts, id)
	}

	q := `SELECT ` + assetCols + ` FROM assets`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, n+1)

	var rows []Asset
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return pageOf(rows, n, func(a Asset) (int64, time.Time) { return a.ID, a.UpdatedAt }), nil
}

// ForLayout returns every asset of a layout, unpaginated (snapshot path).
func (r *Assets) ForLayout(ctx context.Context, layoutID int64) ([]Asset, error) {
	q := `SELECT ` + assetCols + ` FROM assets WHERE layout_id = ? ORDER BY id`
	var rows []Asset
	if err := r.db.SelectContext(ctx, &rows, q, layoutID); err != nil {
		return nil, fmt.Errorf("assets for layout: %w", err)
	}
	return rows, nil
}

func (r *Assets) Update(ctx context.Context, id int64, token string, patch UpdateAssetInput) (*Asset, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := version.Check(current.VersionToken, token); err != nil {
		return nil, ErrConflict
	}

	set := make([]string, 0, 8)
	args := make([]any, 0, 10)
	if patch.ZoneID != nil {
		if *patch.ZoneID == 0 {
			set = append(set, `zone_id = NULL`)
		} else {
			if err := r.checkZone(ctx, *patch.ZoneID, current.LayoutID); err != nil {
				return nil, err
			}
			set = append(set, `zone_id = ?`)
			args = append(args, *patch.ZoneID)
		}
	}
	if patch.Name != nil {
		set = append(set, `name = ?`)
		args = append(args, *patch.Name)
	}
	if patch.AssetType != nil {
		set = append(set, `asset_type = ?`)
		args = append(args, *patch.AssetType)
	}
	if patch.Geometry != nil {
		geom, err := geometry.ValidateAssetGeometry(patch.Geometry)
		if err != nil {
			return nil, invalid("geometry", err)
		}
		set = append(set, `geometry = ST_GeomFromGeoJSON(?)`)
		args = append(args, string(geom))
	}
	if patch.Properties != nil {
		if !json.Valid(patch.Properties) {
			return nil, invalidf("properties", "not valid JSON")
		}
		set = append(set, `properties = ?`)
		args = append(args, string(patch.Properties))
	}
	if patch.Icon != nil {
		set = append(set, `icon = ?`)
		args = append(args, *patch.Icon)
	}
	if patch.RotationDeg != nil {
		set = append(set, `rotation_deg = ?`)
		args = append(args, *patch.RotationDeg)
	}
	if len(set) == 0 {
		return nil, invalidf("", "empty patch")
	}

	set = append(set, `version_token = ?`, `updated_at = NOW(6)`)
	args = append(args, version.Issue(), id, token)

	q := `UPDATE assets SET ` + strings.Join(set, `, `) +
		` WHERE id = ? AND version_token = ?`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update asset: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM assets WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return nil, fmt.Errorf("update asset: %w", err)
		}
		return nil, classifyWrite(exists)
	}
	if err := touchLayout(ctx, r.db, current.LayoutID); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes the asset under the token precondition.  Nothing depends
// on an asset; the only bookkeeping is the parent layout's stamp, for
// which the layout id is read before the row disappears.
func (r *Assets) Delete(ctx context.Context, id int64, token string) error {
	if token == "" {
		return ErrConflict
	}
	var layoutID int64
	if err := r.db.GetContext(ctx, &layoutID,
		`SELECT layout_id FROM assets WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("delete asset: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM assets WHERE id = ? AND version_token = ?`, id, token)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM assets WHERE id = ? LIMIT 1`, id)
		if err != nil {
			return fmt.Errorf("delete asset: %w", err)
		}
		return classifyWrite(exists)
	}
	return touchLayout(ctx, r.db, layoutID)
}

// checkZone verifies the back-pointer target exists and sits in layoutID.
func (r *Assets) checkZone(ctx context.Context, zoneID, layoutID int64) error {
	ok, err := rowExists(ctx, r.db,
		`SELECT 1 FROM zones WHERE id = ? AND layout_id = ? LIMIT 1`, zoneID, layoutID)
	if err != nil {
		return fmt.Errorf("check zone: %w", err)
	}
	if !ok {
		return invalidf("zone_id", "zone %d not in layout %d", zoneID, layoutID)
	}
	return nil
}
