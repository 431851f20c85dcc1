// internal/store/zone_test.go
//
// Zone repository tests: geometry validation on the write path, derived
// measurements, and the optimistic-concurrency discipline including the
// lost-race path where the conditional UPDATE is the one that says no.

package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/groundplan/groundplan/internal/geometry"
)

var zoneRowCols = []string{
	"id", "layout_id", "name", "zone_type", "surface", "color", "boundary",
	"area_sqm", "perimeter_m", "version_token", "created_at", "updated_at",
}

const selectZones = `SELECT id, layout_id, name, zone_type, surface, color, ST_AsGeoJSON(boundary) AS boundary, area_sqm, perimeter_m, version_token, created_at, updated_at FROM zones`

const smallSquare = `{"type":"Polygon","coordinates":[[[0,0],[0.001,0],[0.001,0.001],[0,0.001],[0,0]]]}`

// touchLayoutStmt is the parent-stamp statement expected after every
// successful zone or asset write.
var touchLayoutStmt = regexp.QuoteMeta(`UPDATE layouts SET updated_at = NOW(6) WHERE id = ?`)

func zoneRow(id int64, token string, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(zoneRowCols).
		AddRow(id, int64(1), "North Pitch", "pitch", "grass", "#2e7d32",
			[]byte(smallSquare), 12350.0, 445.0, token, at, at)
}

func TestZoneCreateComputesDerivedMeasures(t *testing.T) {
	db, mock := testDB(t)
	repo := NewZones(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM layouts WHERE id = ? LIMIT 1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	insert := regexp.QuoteMeta(
		`INSERT INTO zones (layout_id, name, zone_type, surface, color, boundary, area_sqm, perimeter_m, version_token, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ST_GeomFromGeoJSON(?), ?, ?, ?, NOW(6), NOW(6))`)
	mock.ExpectExec(insert).
		WithArgs(int64(1), "North Pitch", "pitch", "grass", "#2e7d32",
			sqlmock.AnyArg(), areaInRange{}, perimeterInRange{}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 1))

	mock.ExpectExec(touchLayoutStmt).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.UnixMicro(1756200000000000).UTC()
	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-0", now))

	z, err := repo.Create(context.Background(), CreateZoneInput{
		LayoutID: 1, Name: "North Pitch", ZoneType: "pitch", Surface: "grass",
		Color: "#2e7d32", Boundary: json.RawMessage(smallSquare),
	})
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	if z.AreaSqm <= 0 || z.PerimeterM <= 0 {
		t.Fatalf("derived measures missing: %+v", z)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestZoneCreateAreaCeiling(t *testing.T) {
	db, _ := testDB(t)
	repo := NewZones(db)

	// ~0.1° per side is over a hundred km²; no SQL may run.
	big := `{"type":"Polygon","coordinates":[[[0,0],[0.1,0],[0.1,0.1],[0,0.1],[0,0]]]}`
	_, err := repo.Create(context.Background(), CreateZoneInput{
		LayoutID: 1, Name: "Whole Borough", ZoneType: "pitch",
		Boundary: json.RawMessage(big),
	})
	if !errors.Is(err, geometry.ErrGeometryTooLarge) {
		t.Fatalf("expected ErrGeometryTooLarge, got %v", err)
	}
	if !IsValidation(err) {
		t.Fatalf("geometry rejection must surface as a validation error")
	}
}

func TestZoneCreateInvalidBoundary(t *testing.T) {
	db, _ := testDB(t)
	repo := NewZones(db)

	bowtie := `{"type":"Polygon","coordinates":[[[0,0],[0.001,0.001],[0.001,0],[0,0.001],[0,0]]]}`
	_, err := repo.Create(context.Background(), CreateZoneInput{
		LayoutID: 1, Name: "Bowtie", ZoneType: "pitch",
		Boundary: json.RawMessage(bowtie),
	})
	if !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestZoneUpdateHappyPath(t *testing.T) {
	db, mock := testDB(t)
	repo := NewZones(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-0", now))

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE zones SET name = ?, version_token = ?, updated_at = NOW(6) WHERE id = ? AND version_token = ?`)).
		WithArgs("South Pitch", sqlmock.AnyArg(), int64(5), "tok-0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(touchLayoutStmt).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-1", now.Add(time.Second)))

	name := "South Pitch"
	z, err := repo.Update(context.Background(), 5, "tok-0", UpdateZoneInput{Name: &name})
	if err != nil {
		t.Fatalf("update zone: %v", err)
	}
	if z.VersionToken == "tok-0" {
		t.Fatalf("token not rotated on update")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestZoneBoundaryEditStampsParentLayout(t *testing.T) {
	// A boundary edit never touches the layouts row by itself, yet the
	// public snapshot path keys on the layout's updated_at.  The write
	// must therefore bump the parent stamp or shared views keep serving
	// the old boundary.
	db, mock := testDB(t)
	repo := NewZones(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-0", now))

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE zones SET boundary = ST_GeomFromGeoJSON(?), area_sqm = ?, perimeter_m = ?, version_token = ?, updated_at = NOW(6) WHERE id = ? AND version_token = ?`)).
		WithArgs(sqlmock.AnyArg(), areaInRange{}, perimeterInRange{},
			sqlmock.AnyArg(), int64(5), "tok-0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(touchLayoutStmt).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-1", now.Add(time.Second)))

	_, err := repo.Update(context.Background(), 5, "tok-0",
		UpdateZoneInput{Boundary: json.RawMessage(smallSquare)})
	if err != nil {
		t.Fatalf("update zone: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestZoneUpdateStaleToken(t *testing.T) {
	// The stored token moved on to tok-1; a client still holding tok-0 is
	// rejected before any write statement runs.
	db, mock := testDB(t)
	repo := NewZones(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-1", now))

	name := "South Pitch"
	_, err := repo.Update(context.Background(), 5, "tok-0", UpdateZoneInput{Name: &name})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestZoneUpdateLostRace(t *testing.T) {
	// The token passed the fast check but another writer committed between
	// our read and our UPDATE.  Zero rows affected, row still present —
	// that is a conflict, and the record keeps the winner's state.
	db, mock := testDB(t)
	repo := NewZones(db)
	now := time.UnixMicro(1756200000000000).UTC()

	mock.ExpectQuery(regexp.QuoteMeta(selectZones + ` WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(zoneRow(5, "tok-0", now))

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE zones SET name = ?, version_token = ?, updated_at = NOW(6) WHERE id = ? AND version_token = ?`)).
		WithArgs("South Pitch", sqlmock.AnyArg(), int64(5), "tok-0").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM zones WHERE id = ? LIMIT 1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	name := "South Pitch"
	_, err := repo.Update(context.Background(), 5, "tok-0", UpdateZoneInput{Name: &name})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestZoneDeleteClearsAssetRefs(t *testing.T) {
	db, mock := testDB(t)
	repo := NewZones(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT layout_id FROM zones WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"layout_id"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE assets SET zone_id = NULL WHERE zone_id = ?`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM zones WHERE id = ? AND version_token = ?`)).
		WithArgs(int64(5), "tok-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(touchLayoutStmt).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Delete(context.Background(), 5, "tok-0"); err != nil {
		t.Fatalf("delete zone: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestZoneDeleteStaleTokenRollsBack(t *testing.T) {
	db, mock := testDB(t)
	repo := NewZones(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT layout_id FROM zones WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"layout_id"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE assets SET zone_id = NULL WHERE zone_id = ?`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM zones WHERE id = ? AND version_token = ?`)).
		WithArgs(int64(5), "tok-stale").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM zones WHERE id = ? LIMIT 1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	err := repo.Delete(context.Background(), 5, "tok-stale")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

// areaInRange matches a plausible derived area for the small test square.
type areaInRange struct{}

func (areaInRange) Match(v driver.Value) bool {
	f, ok := v.(float64)
	return ok && f > 11000 && f < 14000
}

// perimeterInRange matches a plausible derived perimeter.
type perimeterInRange struct{}

func (perimeterInRange) Match(v driver.Value) bool {
	f, ok := v.(float64)
	return ok && f > 400 && f < 500
}
