package fare

import (
	"context"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

const (
	// AverageSpeedKmh is the assumed city speed for duration estimates.
	AverageSpeedKmh = 40.0

	// FallbackFare is quoted when no rate config exists for a class.
	FallbackFare = 15.00
)

// ConfigSource looks up the rate configuration for a vehicle class.
// Returns models.ErrConfigNotFound when none is configured.
type ConfigSource interface {
	RateConfig(ctx context.Context, class models.VehicleClass) (models.RateConfig, error)
}

// Estimate is the fare formula: great-circle distance, duration at the
// assumed average speed, base + per-km + per-minute, then tax, rounded
// half-up to cents. Pure and deterministic.
func Estimate(pickup, dropoff models.Coord, cfg models.RateConfig) float64 {
	distanceKm := geo.KilometersBetween(pickup, dropoff)
	estimatedMinutes := distanceKm / AverageSpeedKmh * 60

	subtotal := cfg.BaseFare + distanceKm*cfg.PerKmRate + estimatedMinutes*cfg.PerMinuteRate
	return models.RoundCents(subtotal * (1 + cfg.TaxPercent/100))
}

// EstimateOrFallback resolves the class config and prices the trip,
// quoting FallbackFare when the config is missing. Other lookup
// failures propagate.
func EstimateOrFallback(ctx context.Context, src ConfigSource, pickup, dropoff models.Coord, class models.VehicleClass) (float64, error) {
	cfg, err := src.RateConfig(ctx, class)
	if err != nil {
		if err == models.ErrConfigNotFound {
			return FallbackFare, nil
		}
		return 0, err
	}
	return Estimate(pickup, dropoff, cfg), nil
}

// StaticSource is a fixed in-memory rate table.
type StaticSource map[models.VehicleClass]models.RateConfig

func (s StaticSource) RateConfig(_ context.Context, class models.VehicleClass) (models.RateConfig, error) {
	cfg, ok := s[class]
	if !ok {
		return models.RateConfig{}, models.ErrConfigNotFound
	}
	return cfg, nil
}

// DefaultRates mirrors the rate table the admin panel seeds.
func DefaultRates() StaticSource {
	base := models.RateConfig{BaseFare: 5.00, PerKmRate: 2.50, PerMinuteRate: 0.50, TaxPercent: 7.00}
	xl := base
	xl.BaseFare, xl.PerKmRate = 8.00, 3.50
	premium := base
	premium.BaseFare, premium.PerKmRate, premium.PerMinuteRate = 10.00, 4.00, 0.75
	return StaticSource{
		models.ClassEconomy: base,
		models.ClassXL:      xl,
		models.ClassPremium: premium,
	}
}
