package fare

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

var economy = models.RateConfig{BaseFare: 5.00, PerKmRate: 2.50, PerMinuteRate: 0.50, TaxPercent: 7.00}

func TestEstimate_KnownTrip(t *testing.T) {
	pickup := models.Coord{Lat: 12.52, Lng: -70.03}
	dropoff := models.Coord{Lat: 12.55, Lng: -70.05}

	got := Estimate(pickup, dropoff, economy)
	if got != 19.19 {
		t.Fatalf("expected 19.19, got %.2f", got)
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	pickup := models.Coord{Lat: 12.52, Lng: -70.03}
	dropoff := models.Coord{Lat: 12.55, Lng: -70.05}
	first := Estimate(pickup, dropoff, economy)
	for i := 0; i < 100; i++ {
		if got := Estimate(pickup, dropoff, economy); got != first {
			t.Fatalf("estimate changed between calls: %v vs %v", first, got)
		}
	}
}

func TestEstimate_ZeroDistanceIsTaxedBase(t *testing.T) {
	at := models.Coord{Lat: 12.5, Lng: -70.0}
	got := Estimate(at, at, economy)
	if got != 5.35 { // 5.00 * 1.07
		t.Fatalf("expected 5.35, got %.2f", got)
	}
}

func TestEstimate_RoundedToCents(t *testing.T) {
	pickup := models.Coord{Lat: 12.52, Lng: -70.03}
	dropoff := models.Coord{Lat: 12.58, Lng: -70.07}
	got := Estimate(pickup, dropoff, economy)
	if math.Abs(got*100-math.Round(got*100)) > 1e-9 {
		t.Fatalf("expected a whole number of cents, got %v", got)
	}
}

func TestEstimateOrFallback_MissingConfig(t *testing.T) {
	src := StaticSource{}
	got, err := EstimateOrFallback(context.Background(), src,
		models.Coord{Lat: 1, Lng: 1}, models.Coord{Lat: 2, Lng: 2}, models.ClassPremium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != FallbackFare {
		t.Fatalf("expected fallback %v, got %v", FallbackFare, got)
	}
}

func TestEstimateOrFallback_LookupErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	got, err := EstimateOrFallback(context.Background(), failingSource{err: boom},
		models.Coord{Lat: 1, Lng: 1}, models.Coord{Lat: 2, Lng: 2}, models.ClassEconomy)
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if got != 0 {
		t.Fatalf("expected zero fare on error, got %v", got)
	}
}

func TestDefaultRates_CoverEveryClass(t *testing.T) {
	src := DefaultRates()
	for _, class := range models.VehicleClasses {
		if _, err := src.RateConfig(context.Background(), class); err != nil {
			t.Fatalf("class %s missing: %v", class, err)
		}
	}
}

type failingSource struct{ err error }

func (f failingSource) RateConfig(context.Context, models.VehicleClass) (models.RateConfig, error) {
	return models.RateConfig{}, f.err
}
