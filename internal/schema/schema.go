// internal/schema/schema.go
//
// The store's tables expressed as data.
//
// Context
// -------
// The DDL itself ships through the ops migration pipeline, not this
// binary.  What the code needs is the *shape*: table names for the
// migration reporter, and the ownership edges (cascade vs SET NULL) that
// the repository layer's delete paths mirror.  Declaring them here keeps
// tests able to assert those edges without a live database, and keeps the
// repositories and the migrations honest with each other.
//
// Timestamps are DATETIME(6) throughout: pagination breaks ties on
// updated_at before falling back to id, and second-resolution columns
// would collide constantly under a busy editor.
package schema

import (
	"fmt"
	"strings"
)

// Referential actions used by the foreign keys below.
const (
	Cascade = "CASCADE"
	SetNull = "SET NULL"
)

type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Geometry column SRID.  All geometry is WGS84.
const SRID = 4326

// Well-known table names.
const (
	TableSites             = "sites"
	TableLayouts           = "layouts"
	TableZones             = "zones"
	TableAssets            = "assets"
	TableTemplates         = "templates"
	TableShareLinks        = "share_links"
	TableShareLinkAccesses = "share_link_accesses"
)

func id() Column    { return Column{Name: "id", Type: "BIGINT UNSIGNED AUTO_INCREMENT"} }
func token() Column { return Column{Name: "version_token", Type: "CHAR(36)"} }
func stamps() []Column {
	return []Column{
		{Name: "created_at", Type: "DATETIME(6)", Default: "NOW(6)"},
		{Name: "updated_at", Type: "DATETIME(6)", Default: "NOW(6)"},
	}
}

// Tables returns every table the store owns, parents first.
func Tables() []Table {
	return []Table{
		{
			Name: TableSites,
			Columns: append([]Column{
				id(),
				{Name: "club_id", Type: "BIGINT UNSIGNED"},
				{Name: "name", Type: "VARCHAR(255)"},
				{Name: "address_line", Type: "VARCHAR(255)", Default: "''"},
				{Name: "city", Type: "VARCHAR(128)", Default: "''"},
				{Name: "region", Type: "VARCHAR(128)", Default: "''"},
				{Name: "postal_code", Type: "VARCHAR(32)", Default: "''"},
				{Name: "country", Type: "VARCHAR(2)", Default: "''"},
				{Name: "location", Type: fmt.Sprintf("POINT SRID %d", SRID), Nullable: true},
				{Name: "bbox", Type: fmt.Sprintf("POLYGON SRID %d", SRID), Nullable: true},
				token(),
				{Name: "deleted_at", Type: "DATETIME(6)", Nullable: true},
			}, stamps()...),
			PrimaryKey: "id",
			Indexes: []Index{
				{Name: "idx_sites_club", Columns: []string{"club_id"}},
				{Name: "idx_sites_page", Columns: []string{"updated_at", "id"}},
			},
		},
		{
			Name: TableLayouts,
			Columns: append([]Column{
				id(),
				{Name: "site_id", Type: "BIGINT UNSIGNED"},
				{Name: "name", Type: "VARCHAR(255)"},
				{Name: "description", Type: "VARCHAR(2000)", Default: "''"},
				{Name: "is_published", Type: "BOOLEAN", Default: "FALSE"},
				{Name: "metadata", Type: "JSON", Nullable: true},
				{Name: "created_by", Type: "VARCHAR(64)", Default: "''"},
				token(),
			}, stamps()...),
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "site_id", RefTable: TableSites, RefColumn: "id", OnDelete: Cascade},
			},
			Indexes: []Index{
				{Name: "idx_layouts_site", Columns: []string{"site_id"}},
				{Name: "idx_layouts_page", Columns: []string{"updated_at", "id"}},
			},
		},
		{
			Name: TableZones,
			Columns: append([]Column{
				id(),
				{Name: "layout_id", Type: "BIGINT UNSIGNED"},
				{Name: "name", Type: "VARCHAR(255)"},
				{Name: "zone_type", Type: "VARCHAR(64)"},
				{Name: "surface", Type: "VARCHAR(64)", Default: "''"},
				{Name: "color", Type: "VARCHAR(16)", Default: "''"},
				{Name: "boundary", Type: fmt.Sprintf("POLYGON SRID %d", SRID)},
				{Name: "area_sqm", Type: "DOUBLE"},
				{Name: "perimeter_m", Type: "DOUBLE"},
				token(),
			}, stamps()...),
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "layout_id", RefTable: TableLayouts, RefColumn: "id", OnDelete: Cascade},
			},
			Indexes: []Index{
				{Name: "idx_zones_layout", Columns: []string{"layout_id"}},
				{Name: "idx_zones_page", Columns: []string{"updated_at", "id"}},
			},
		},
		{
			Name: TableAssets,
			Columns: append([]Column{
				id(),
				{Name: "layout_id", Type: "BIGINT UNSIGNED"},
				{Name: "zone_id", Type: "BIGINT UNSIGNED", Nullable: true},
				{Name: "name", Type: "VARCHAR(255)"},
				{Name: "asset_type", Type: "VARCHAR(64)"},
				{Name: "geometry", Type: fmt.Sprintf("GEOMETRY SRID %d", SRID)},
				{Name: "properties", Type: "JSON", Nullable: true},
				{Name: "icon", Type: "VARCHAR(128)", Default: "''"},
				{Name: "rotation_deg", Type: "DOUBLE", Default: "0"},
				token(),
			}, stamps()...),
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "layout_id", RefTable: TableLayouts, RefColumn: "id", OnDelete: Cascade},
				{Column: "zone_id", RefTable: TableZones, RefColumn: "id", OnDelete: SetNull},
			},
			Indexes: []Index{
				{Name: "idx_assets_layout", Columns: []string{"layout_id"}},
				{Name: "idx_assets_zone", Columns: []string{"zone_id"}},
				{Name: "idx_assets_page", Columns: []string{"updated_at", "id"}},
			},
		},
		{
			Name: TableTemplates,
			Columns: append([]Column{
				id(),
				{Name: "name", Type: "VARCHAR(255)"},
				{Name: "description", Type: "VARCHAR(2000)", Default: "''"},
				{Name: "sport_type", Type: "VARCHAR(64)"},
				{Name: "zones_json", Type: "JSON"},
				{Name: "assets_json", Type: "JSON"},
				{Name: "thumbnail_url", Type: "VARCHAR(512)", Default: "''"},
				{Name: "owner_id", Type: "VARCHAR(64)", Nullable: true},
			}, stamps()...),
			PrimaryKey: "id",
			Indexes: []Index{
				{Name: "idx_templates_sport", Columns: []string{"sport_type"}},
				{Name: "idx_templates_page", Columns: []string{"updated_at", "id"}},
			},
		},
		{
			Name: TableShareLinks,
			Columns: append([]Column{
				id(),
				{Name: "layout_id", Type: "BIGINT UNSIGNED"},
				{Name: "slug", Type: "VARCHAR(20)"},
				{Name: "expires_at", Type: "DATETIME(6)", Nullable: true},
				{Name: "is_revoked", Type: "BOOLEAN", Default: "FALSE"},
				{Name: "access_count", Type: "BIGINT UNSIGNED", Default: "0"},
				{Name: "created_by", Type: "VARCHAR(64)", Nullable: true},
				token(),
				{Name: "last_accessed_at", Type: "DATETIME(6)", Nullable: true},
			}, stamps()...),
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "layout_id", RefTable: TableLayouts, RefColumn: "id", OnDelete: Cascade},
			},
			Indexes: []Index{
				{Name: "uq_share_links_slug", Columns: []string{"slug"}, Unique: true},
				{Name: "idx_share_links_layout", Columns: []string{"layout_id"}},
			},
		},
		{
			Name: TableShareLinkAccesses,
			Columns: []Column{
				id(),
				{Name: "link_id", Type: "BIGINT UNSIGNED"},
				{Name: "occurred_at", Type: "DATETIME(6)"},
				{Name: "browser", Type: "VARCHAR(64)", Default: "''"},
				{Name: "device", Type: "VARCHAR(32)", Default: "''"},
				{Name: "country", Type: "VARCHAR(8)", Default: "''"},
			},
			PrimaryKey: "id",
			ForeignKeys: []ForeignKey{
				{Column: "link_id", RefTable: TableShareLinks, RefColumn: "id", OnDelete: Cascade},
			},
			Indexes: []Index{
				{Name: "idx_accesses_link_time", Columns: []string{"link_id", "occurred_at"}},
			},
		},
	}
}

// Lookup returns a table by name.
func Lookup(name string) (Table, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Describe renders a table as a readable summary, used by the admin
// surface for eyeballing the live shape against expectations.
func Describe(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (pk %s)\n", t.Name, t.PrimaryKey)
	for _, c := range t.Columns {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		fmt.Fprintf(&b, "  %-18s %-28s %s", c.Name, c.Type, null)
		if c.Default != "" {
			fmt.Fprintf(&b, " DEFAULT %s", c.Default)
		}
		b.WriteByte('\n')
	}
	for _, fk := range t.ForeignKeys {
		fmt.Fprintf(&b, "  fk %s -> %s.%s ON DELETE %s\n", fk.Column, fk.RefTable, fk.RefColumn, fk.OnDelete)
	}
	return b.String()
}
