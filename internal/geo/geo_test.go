package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineMiles(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~69.09 miles at R=3958.8
	d := HaversineMiles(models.Coord{Lon: 0, Lat: 0}, models.Coord{Lon: 0, Lat: 1})
	want := math.Pi * EarthRadiusMiles / 180
	if math.Abs(d-want) > 0.01 {
		t.Fatalf("expected ~%f, got %f", want, d)
	}
}

func TestNearbyFiltersAndSorts(t *testing.T) {
	idx := NewIndex()
	center := models.Coord{Lon: 0, Lat: 0}

	// ~0.69, ~3.45, ~6.91 miles north of center
	idx.Upsert("near", &models.Coord{Lon: 0, Lat: 0.01}, true, nil)
	idx.Upsert("mid", &models.Coord{Lon: 0, Lat: 0.05}, true, nil)
	idx.Upsert("far", &models.Coord{Lon: 0, Lat: 0.1}, true, nil)

	got := idx.Nearby(center, 5, 10, true)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers within 5 miles, got %d", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("expected [near mid], got [%s %s]", got[0].DriverID, got[1].DriverID)
	}
	if got[0].DistanceMiles >= got[1].DistanceMiles {
		t.Fatalf("results not ascending: %f then %f", got[0].DistanceMiles, got[1].DistanceMiles)
	}
}

func TestNearbyTieBreakByDriverID(t *testing.T) {
	idx := NewIndex()
	loc := models.Coord{Lon: 0, Lat: 0.01}
	idx.Upsert("zeta", &loc, true, nil)
	idx.Upsert("alpha", &loc, true, nil)

	got := idx.Nearby(models.Coord{}, 5, 10, true)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got[0].DriverID != "alpha" || got[1].DriverID != "zeta" {
		t.Fatalf("expected deterministic [alpha zeta], got [%s %s]", got[0].DriverID, got[1].DriverID)
	}
}

func TestNearbySkipsUnavailableAndMissingCoords(t *testing.T) {
	idx := NewIndex()
	idx.Upsert("busy", &models.Coord{Lon: 0, Lat: 0.01}, false, nil)
	idx.Upsert("nowhere", nil, true, nil) // availability known, position not

	if got := idx.Nearby(models.Coord{}, 5, 10, true); len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
	// busy driver appears when availability filter is off
	if got := idx.Nearby(models.Coord{}, 5, 10, false); len(got) != 1 || got[0].DriverID != "busy" {
		t.Fatalf("expected [busy], got %v", got)
	}
}

func TestNearbyTruncatesToMax(t *testing.T) {
	idx := NewIndex()
	idx.Upsert("a", &models.Coord{Lon: 0, Lat: 0.01}, true, nil)
	idx.Upsert("b", &models.Coord{Lon: 0, Lat: 0.02}, true, nil)
	idx.Upsert("c", &models.Coord{Lon: 0, Lat: 0.03}, true, nil)

	got := idx.Nearby(models.Coord{}, 10, 2, true)
	if len(got) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(got))
	}
	if got[0].DriverID != "a" || got[1].DriverID != "b" {
		t.Fatalf("expected nearest two, got [%s %s]", got[0].DriverID, got[1].DriverID)
	}
}

func TestUpsertMergesMeta(t *testing.T) {
	idx := NewIndex()
	idx.Upsert("d1", &models.Coord{Lon: 1, Lat: 1}, true, map[string]string{"plate": "X1"})
	idx.Upsert("d1", nil, false, map[string]string{MetaCurrentRide: "r9"})

	e, ok := idx.Get("d1")
	if !ok {
		t.Fatal("entry missing")
	}
	if e.Available {
		t.Fatal("availability not replaced")
	}
	if !e.HasLoc || e.Loc.Lon != 1 {
		t.Fatal("nil loc should keep previous coordinates")
	}
	if e.Meta["plate"] != "X1" || e.Meta[MetaCurrentRide] != "r9" {
		t.Fatalf("meta not merged: %v", e.Meta)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	idx := NewIndex()
	idx.Upsert("d1", &models.Coord{Lon: 1, Lat: 1}, true, map[string]string{"k": "v"})
	e, _ := idx.Get("d1")
	e.Meta["k"] = "mutated"
	e2, _ := idx.Get("d1")
	if e2.Meta["k"] != "v" {
		t.Fatal("Get leaked internal meta map")
	}
}

func TestRemove(t *testing.T) {
	idx := NewIndex()
	idx.Upsert("d1", &models.Coord{Lon: 1, Lat: 1}, true, nil)
	idx.Remove("d1")
	if _, ok := idx.Get("d1"); ok {
		t.Fatal("expected entry removed")
	}
}
