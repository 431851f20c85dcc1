// internal/geometry/geometry.go
//
// Pure geometry validation for the resource store.
//
// Context
// -------
// Three entity families carry geometry: Zones (a required polygon boundary),
// Assets (a point or line), and Sites (an optional location point and
// bounding polygon).  Everything arrives as GeoJSON in WGS84 lon/lat.  This
// package parses, validates, and normalizes those payloads and computes the
// derived measurements (geodetic area in m², perimeter in m) that the
// repositories persist alongside the boundary.  No I/O happens here; the
// database never sees a geometry this package rejected.
//
// Rules
// -----
//   • Zone boundary — single-ring polygon, closed, ≥ 4 positions, no
//     self-intersection, non-zero area, area ≤ 10,000,000 m² (10 km²).
//   • Asset geometry — exactly Point or LineString; polygons and
//     multi-geometries are rejected.
//   • All coordinates must lie inside lon ∈ [-180, 180], lat ∈ [-90, 90].
//
// Area and length use orb's spherical approximation, so results account for
// the earth's curvature rather than treating degrees as a flat plane.
package geometry

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// MaxZoneAreaSqm is the ceiling for a single Zone boundary: 10 km².
const MaxZoneAreaSqm = 10_000_000

var (
	// ErrInvalidGeometry covers unparsable GeoJSON, open or degenerate
	// rings, self-intersection, zero area, and out-of-range coordinates.
	ErrInvalidGeometry = errors.New("geometry: invalid geometry")

	// ErrGeometryTooLarge reports a boundary whose geodetic area exceeds
	// MaxZoneAreaSqm.
	ErrGeometryTooLarge = errors.New("geometry: area exceeds ceiling")

	// ErrUnsupportedGeometryType reports a geometry type outside the set
	// permitted for the entity (e.g. a Polygon asset).
	ErrUnsupportedGeometryType = errors.New("geometry: unsupported geometry type")
)

// Boundary is a validated, normalized Zone boundary plus its derived
// measurements.  GeoJSON is the canonical re-marshalled form; AreaSqm and
// PerimeterM are recomputed from the ring on every write, never trusted
// from the client.
type Boundary struct {
	GeoJSON    json.RawMessage
	AreaSqm    float64
	PerimeterM float64
}

// ValidateZoneBoundary parses raw GeoJSON and applies the Zone rules above.
func ValidateZoneBoundary(raw json.RawMessage) (*Boundary, error) {
	g, err := parse(raw)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		return nil, ErrUnsupportedGeometryType
	}
	if len(poly) != 1 {
		// Holes and multi-ring boundaries are not representable in the
		// editor, so the store refuses them outright.
		return nil, ErrInvalidGeometry
	}

	ring, err := normalizeRing(poly[0])
	if err != nil {
		return nil, err
	}
	poly[0] = ring

	area := math.Abs(geo.Area(poly))
	if area == 0 {
		return nil, ErrInvalidGeometry
	}
	if area > MaxZoneAreaSqm {
		return nil, ErrGeometryTooLarge
	}

	out, err := geojson.NewGeometry(poly).MarshalJSON()
	if err != nil {
		return nil, ErrInvalidGeometry
	}
	return &Boundary{
		GeoJSON:    out,
		AreaSqm:    area,
		PerimeterM: geo.Length(poly),
	}, nil
}

// ValidateAssetGeometry accepts exactly Point or LineString and returns the
// normalized GeoJSON form.
func ValidateAssetGeometry(raw json.RawMessage) (json.RawMessage, error) {
	g, err := parse(raw)
	if err != nil {
		return nil, err
	}
	switch gg := g.(type) {
	case orb.Point:
		// ok
	case orb.LineString:
		if len(gg) < 2 {
			return nil, ErrInvalidGeometry
		}
	default:
		return nil, ErrUnsupportedGeometryType
	}
	out, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, ErrInvalidGeometry
	}
	return out, nil
}

// ValidateSitePoint accepts exactly a Point (Site location).
func ValidateSitePoint(raw json.RawMessage) (json.RawMessage, error) {
	g, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := g.(orb.Point); !ok {
		return nil, ErrUnsupportedGeometryType
	}
	out, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, ErrInvalidGeometry
	}
	return out, nil
}

// ValidateSiteBBox accepts a single-ring valid polygon (Site bounding box).
// Unlike Zone boundaries there is no area ceiling; a site may legitimately
// cover a whole sports complex.
func ValidateSiteBBox(raw json.RawMessage) (json.RawMessage, error) {
	g, err := parse(raw)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(orb.Polygon)
	if !ok || len(poly) != 1 {
		return nil, ErrInvalidGeometry
	}
	ring, err := normalizeRing(poly[0])
	if err != nil {
		return nil, err
	}
	poly[0] = ring
	if math.Abs(geo.Area(poly)) == 0 {
		return nil, ErrInvalidGeometry
	}
	out, err := geojson.NewGeometry(poly).MarshalJSON()
	if err != nil {
		return nil, ErrInvalidGeometry
	}
	return out, nil
}

// parse unmarshals GeoJSON and checks coordinate ranges.
func parse(raw json.RawMessage) (orb.Geometry, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidGeometry
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, ErrInvalidGeometry
	}
	geom := g.Geometry()
	if geom == nil {
		return nil, ErrInvalidGeometry
	}
	if !inWGS84Bounds(geom) {
		return nil, ErrInvalidGeometry
	}
	return geom, nil
}

// normalizeRing closes an open ring, then checks shape and topology.
func normalizeRing(ring orb.Ring) (orb.Ring, error) {
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	// A closed ring needs at least a triangle: three distinct positions
	// plus the closing repeat.
	if len(ring) < 4 {
		return nil, ErrInvalidGeometry
	}
	if selfIntersects(ring) {
		return nil, ErrInvalidGeometry
	}
	return ring, nil
}

// inWGS84Bounds verifies every coordinate sits inside lon/lat range.
func inWGS84Bounds(g orb.Geometry) bool {
	ok := true
	check := func(p orb.Point) {
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			ok = false
		}
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			ok = false
		}
	}
	switch gg := g.(type) {
	case orb.Point:
		check(gg)
	case orb.LineString:
		for _, p := range gg {
			check(p)
		}
	case orb.Polygon:
		for _, ring := range gg {
			for _, p := range ring {
				check(p)
			}
		}
	default:
		// Other types fail later on the type check; bounds are moot.
	}
	return ok
}

// selfIntersects runs a pairwise segment test over the ring.  O(n²) is fine
// here: editor-drawn boundaries are tens of vertices, not thousands.
func selfIntersects(ring orb.Ring) bool {
	n := len(ring) - 1 // segment count; ring is closed
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Adjacent segments share an endpoint by construction, as do
			// the first and last segments of the ring.
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

// segmentsIntersect reports whether segments pq and rs cross or overlap.
func segmentsIntersect(p, q, r, s orb.Point) bool {
	d1 := cross(r, s, p)
	d2 := cross(r, s, q)
	d3 := cross(p, q, r)
	d4 := cross(p, q, s)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	// Collinear touch or overlap.
	if d1 == 0 && onSegment(r, s, p) {
		return true
	}
	if d2 == 0 && onSegment(r, s, q) {
		return true
	}
	if d3 == 0 && onSegment(p, q, r) {
		return true
	}
	if d4 == 0 && onSegment(p, q, s) {
		return true
	}
	return false
}

// cross returns the z component of (b-a) × (c-a).
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment assumes c is collinear with ab and reports whether it lies
// within the segment's bounding box.
func onSegment(a, b, c orb.Point) bool {
	return math.Min(a[0], b[0]) <= c[0] && c[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= c[1] && c[1] <= math.Max(a[1], b[1])
}
