package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/package-dispatch/internal/models"
)

// RedisGeo implements Finder on Redis GEO commands: GEOADD for positions,
// a meta hash per driver for availability and vehicle type. Those filters
// live client-side because GEOSEARCH cannot express them.
type RedisGeo struct {
	client *redis.Client
	key    string
}

// NewRedisGeoWithClient builds the geo store on an existing client, e.g. the
// one backing the price cache or the consumer's readiness probe.
func NewRedisGeoWithClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, u models.LocationUpdate) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: u.Location.Lon(),
		Latitude:  u.Location.Lat(),
		Name:      u.DriverID,
	}).Result(); err != nil {
		return fmt.Errorf("%w: geoadd: %v", models.ErrUpstream, err)
	}
	err := r.client.HSet(ctx, metaKey(u.DriverID), map[string]interface{}{
		"available":   strconv.FormatBool(u.IsAvailable),
		"vehicleType": string(u.VehicleType),
		"updated":     time.Now().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: hset meta: %v", models.ErrUpstream, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, pickup models.Point, vehicleType models.VehicleType, radiusMeters float64, limit int) ([]models.DriverRef, error) {
	res, err := r.client.GeoRadius(ctx, r.key, pickup.Lon(), pickup.Lat(), &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: georadius: %v", models.ErrUpstream, err)
	}
	out := make([]models.DriverRef, 0, len(res))
	for _, g := range res {
		meta, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if meta["available"] != "true" || models.VehicleType(meta["vehicleType"]) != vehicleType {
			continue
		}
		out = append(out, models.DriverRef{
			ID:          g.Name,
			Location:    models.NewPoint(g.Longitude, g.Latitude),
			DistanceM:   g.Dist,
			VehicleType: vehicleType,
		})
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
