package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/package-dispatch/internal/models"
)

// Finder is the proximity query the dispatch coordinator depends on.
// Implementations filter to available drivers with a matching vehicle type
// inside radiusMeters of the pickup, ordered nearest first. An empty result
// is not an error.
type Finder interface {
	Nearby(ctx context.Context, pickup models.Point, vehicleType models.VehicleType, radiusMeters float64, limit int) ([]models.DriverRef, error)
	Upsert(ctx context.Context, u models.LocationUpdate) error
}

// Index is an in-memory Finder for local runs and tests. Production uses
// RedisGeo; the spatial index itself is the store's job, not ours.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.LocationUpdate
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.LocationUpdate)}
}

func (g *Index) Upsert(ctx context.Context, u models.LocationUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[u.DriverID] = u
	return nil
}

func (g *Index) Nearby(ctx context.Context, pickup models.Point, vehicleType models.VehicleType, radiusMeters float64, limit int) ([]models.DriverRef, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	refs := make([]models.DriverRef, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.IsAvailable || d.VehicleType != vehicleType {
			continue
		}
		dist := Haversine(pickup.Lat(), pickup.Lon(), d.Location.Lat(), d.Location.Lon())
		if dist > radiusMeters {
			continue
		}
		refs = append(refs, models.DriverRef{ID: d.DriverID, Location: d.Location, DistanceM: dist, VehicleType: d.VehicleType})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].DistanceM < refs[j].DistanceM })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
