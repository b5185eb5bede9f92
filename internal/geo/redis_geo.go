package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo on Redis GEO commands. Locations live in a
// single geo set, per-driver metadata in a hash alongside it.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.DriverProfile) {
	if d.LastLocation == nil {
		return
	}
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: d.LastLocation.Lng,
		Latitude:  d.LastLocation.Lat,
		Name:      d.ID,
	}).Result()
	_ = r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"name":     d.Name,
		"phone":    d.Phone,
		"class":    string(d.VehicleClass),
		"online":   strconv.FormatBool(d.Online),
		"active":   strconv.FormatBool(d.Active),
		"verified": strconv.FormatBool(d.AdminVerified),
		"rating":   strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"updated":  time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, center models.Coord, radiusKm float64, class models.VehicleClass, limit int) []Candidate {
	// over-fetch, the class/online filter happens on the metadata hash
	count := 64
	if limit > count {
		count = limit * 2
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      count,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Candidate, 0, len(res))
	for _, g := range res {
		d := models.DriverProfile{ID: g.Name, LastLocation: &models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			d.Name = m["name"]
			d.Phone = m["phone"]
			d.VehicleClass = models.VehicleClass(m["class"])
			d.Online = m["online"] == "true"
			d.Active = m["active"] == "true"
			d.AdminVerified = m["verified"] == "true"
			if f, err := strconv.ParseFloat(m["rating"], 64); err == nil {
				d.Rating = f
			}
		}
		if !matches(&d, class) {
			continue
		}
		out = append(out, Candidate{Driver: d, DistanceKm: g.Dist})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
