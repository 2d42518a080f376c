// Package pricing computes booking quotes from road distance and duration,
// per-vehicle rates, and a time-of-day surge multiplier.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/package-dispatch/internal/models"
)

type Quote struct {
	DistanceKm  float64 `json:"distance"`
	DurationMin float64 `json:"duration"`
	Cost        float64 `json:"cost"`
}

type Service struct {
	Estimator RouteEstimator
	Redis     *redis.Client // optional quote cache
	CacheTTL  time.Duration
	Now       func() time.Time // test hook

	mem *quoteCache
}

func NewService(est RouteEstimator, rc *redis.Client) *Service {
	return &Service{
		Estimator: est,
		Redis:     rc,
		CacheTTL:  time.Hour,
		Now:       time.Now,
		mem:       newQuoteCache(time.Hour),
	}
}

func (s *Service) Estimate(ctx context.Context, pickup, dropoff models.Point, vt models.VehicleType) (Quote, error) {
	if !vt.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown vehicle type %q", models.ErrValidation, vt)
	}
	key := cacheKey(pickup, dropoff, vt)
	if q, ok := s.cached(ctx, key); ok {
		return q, nil
	}

	distM, durS, err := s.Estimator.Route(ctx, pickup, dropoff)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{DistanceKm: distM / 1000, DurationMin: durS / 60}
	q.Cost = computeCost(q.DistanceKm, q.DurationMin, vt, s.surgeMultiplier())

	s.cache(ctx, key, q)
	return q, nil
}

// surgeMultiplier bumps prices during rush hours.
func (s *Service) surgeMultiplier() float64 {
	switch h := s.Now().Hour(); {
	case h >= 7 && h < 10:
		return 1.5
	case h >= 16 && h < 19:
		return 1.3
	default:
		return 1.0
	}
}

func computeCost(distanceKm, durationMin float64, vt models.VehicleType, surge float64) float64 {
	const basePrice = 5.0
	var perKm, perMin float64
	switch vt {
	case models.VehicleTruck:
		perKm, perMin = 3, 0.7
	case models.VehicleVan:
		perKm, perMin = 2.5, 0.6
	default:
		perKm, perMin = 2, 0.5
	}
	cost := (basePrice + perKm*distanceKm + perMin*durationMin) * surge
	// round to cents, matching the wire format clients expect
	return float64(int64(cost*100+0.5)) / 100
}

func cacheKey(pickup, dropoff models.Point, vt models.VehicleType) string {
	return fmt.Sprintf("price_%.6f_%.6f_%.6f_%.6f_%s",
		pickup.Lat(), pickup.Lon(), dropoff.Lat(), dropoff.Lon(), vt)
}

func (s *Service) cached(ctx context.Context, key string) (Quote, bool) {
	if s.Redis != nil {
		if raw, err := s.Redis.Get(ctx, key).Result(); err == nil {
			var q Quote
			if json.Unmarshal([]byte(raw), &q) == nil {
				return q, true
			}
		}
		return Quote{}, false
	}
	return s.mem.Get(key)
}

func (s *Service) cache(ctx context.Context, key string, q Quote) {
	if s.Redis != nil {
		if b, err := json.Marshal(q); err == nil {
			_ = s.Redis.Set(ctx, key, b, s.CacheTTL).Err()
		}
		return
	}
	s.mem.Set(key, q)
}
