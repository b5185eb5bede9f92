package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func driver(id string, class models.VehicleClass, lat, lng float64) models.DriverProfile {
	return models.DriverProfile{
		ID:           id,
		VehicleClass: class,
		Online:       true,
		Active:       true,
		LastLocation: &models.Coord{Lat: lat, Lng: lng},
	}
}

func TestHaversine_KnownDistance(t *testing.T) {
	// one degree of latitude is close to 111.2 km
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("unexpected distance %v", d)
	}
	if Haversine(12.5, -70.0, 12.5, -70.0) != 0 {
		t.Fatalf("distance to self should be zero")
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Haversine(12.52, -70.03, 12.55, -70.05)
	b := Haversine(12.55, -70.05, 12.52, -70.03)
	if a != b {
		t.Fatalf("asymmetric distance: %v vs %v", a, b)
	}
}

func TestIndexNearby_OrdersByDistance(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	idx.Upsert(ctx, driver("far", models.ClassEconomy, 12.56, -70.03))
	idx.Upsert(ctx, driver("near", models.ClassEconomy, 12.521, -70.03))
	idx.Upsert(ctx, driver("mid", models.ClassEconomy, 12.54, -70.03))

	got := idx.Nearby(ctx, models.Coord{Lat: 12.52, Lng: -70.03}, 10, models.ClassEconomy, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	for i, want := range []string{"near", "mid", "far"} {
		if got[i].Driver.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].Driver.ID)
		}
	}
}

func TestIndexNearby_FiltersClassAndAvailability(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	center := models.Coord{Lat: 12.52, Lng: -70.03}

	idx.Upsert(ctx, driver("econ", models.ClassEconomy, 12.521, -70.03))
	idx.Upsert(ctx, driver("xl", models.ClassXL, 12.521, -70.03))

	offline := driver("offline", models.ClassEconomy, 12.521, -70.03)
	offline.Online = false
	idx.Upsert(ctx, offline)

	noLoc := driver("noloc", models.ClassEconomy, 0, 0)
	noLoc.LastLocation = nil
	idx.Upsert(ctx, noLoc)

	got := idx.Nearby(ctx, center, 5, models.ClassEconomy, 0)
	if len(got) != 1 || got[0].Driver.ID != "econ" {
		t.Fatalf("expected only econ, got %+v", got)
	}

	// empty class matches every class
	got = idx.Nearby(ctx, center, 5, "", 0)
	if len(got) != 2 {
		t.Fatalf("expected econ and xl, got %d", len(got))
	}
}

func TestIndexNearby_RadiusAndLimit(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	center := models.Coord{Lat: 12.52, Lng: -70.03}

	idx.Upsert(ctx, driver("in1", models.ClassEconomy, 12.521, -70.03))
	idx.Upsert(ctx, driver("in2", models.ClassEconomy, 12.53, -70.03))
	idx.Upsert(ctx, driver("out", models.ClassEconomy, 13.0, -70.03)) // ~53km away

	got := idx.Nearby(ctx, center, 5, models.ClassEconomy, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 in radius, got %d", len(got))
	}

	got = idx.Nearby(ctx, center, 5, models.ClassEconomy, 1)
	if len(got) != 1 || got[0].Driver.ID != "in1" {
		t.Fatalf("expected closest only, got %+v", got)
	}
}

func TestIndexNearby_EmptyIsNotAnError(t *testing.T) {
	idx := NewIndex()
	got := idx.Nearby(context.Background(), models.Coord{Lat: 12.52, Lng: -70.03}, 5, models.ClassEconomy, 0)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestIndexUpsert_ReplacesExisting(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	idx.Upsert(ctx, driver("d1", models.ClassEconomy, 12.521, -70.03))

	moved := driver("d1", models.ClassEconomy, 13.0, -70.03)
	idx.Upsert(ctx, moved)

	got := idx.Nearby(ctx, models.Coord{Lat: 12.52, Lng: -70.03}, 5, models.ClassEconomy, 0)
	if len(got) != 0 {
		t.Fatalf("expected driver to have moved out of radius, got %+v", got)
	}
}
