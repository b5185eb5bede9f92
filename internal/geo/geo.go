package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Candidate is a driver returned by a proximity query.
type Candidate struct {
	Driver     models.DriverProfile
	DistanceKm float64
}

// Geo is the proximity index consulted by the orchestrator. Nearby
// returns dispatchable drivers within radiusKm of the center, closest
// first. An empty class matches every class. Zero matches is a normal
// outcome, not an error. limit <= 0 means unbounded.
type Geo interface {
	Nearby(ctx context.Context, center models.Coord, radiusKm float64, class models.VehicleClass, limit int) []Candidate
	Upsert(ctx context.Context, d models.DriverProfile)
}

// Index is the in-memory implementation, used in tests and when no
// Redis is configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverProfile
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverProfile)}
}

func (g *Index) Upsert(_ context.Context, d models.DriverProfile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

// naive scan; the Redis implementation handles production scale
func (g *Index) Nearby(_ context.Context, center models.Coord, radiusKm float64, class models.VehicleClass, limit int) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Candidate, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !matches(&d, class) {
			continue
		}
		distKm := Haversine(center.Lat, center.Lng, d.LastLocation.Lat, d.LastLocation.Lng) / 1000
		if distKm > radiusKm {
			continue
		}
		out = append(out, Candidate{Driver: d, DistanceKm: distKm})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matches(d *models.DriverProfile, class models.VehicleClass) bool {
	if d.LastLocation == nil || !d.Dispatchable() {
		return false
	}
	return class == "" || d.VehicleClass == class
}

// Haversine is the great-circle distance in meters. The fare
// calculator uses this same formula so quoted prices and candidate
// distances never disagree.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// KilometersBetween is Haversine in kilometers.
func KilometersBetween(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
}
