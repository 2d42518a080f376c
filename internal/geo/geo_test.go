package geo

import (
	"context"
	"testing"

	"github.com/example/package-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestNearbyFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	pickup := models.NewPoint(77.6, 12.9)
	_ = g.Upsert(ctx, models.LocationUpdate{DriverID: "near", Location: models.NewPoint(77.601, 12.901), IsAvailable: true, VehicleType: models.VehicleCar})
	_ = g.Upsert(ctx, models.LocationUpdate{DriverID: "far", Location: models.NewPoint(77.62, 12.92), IsAvailable: true, VehicleType: models.VehicleCar})
	_ = g.Upsert(ctx, models.LocationUpdate{DriverID: "busy", Location: models.NewPoint(77.6, 12.9), IsAvailable: false, VehicleType: models.VehicleCar})
	_ = g.Upsert(ctx, models.LocationUpdate{DriverID: "truck", Location: models.NewPoint(77.6, 12.9), IsAvailable: true, VehicleType: models.VehicleTruck})

	refs, err := g.Nearby(ctx, pickup, models.VehicleCar, 5000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(refs))
	}
	if refs[0].ID != "near" || refs[1].ID != "far" {
		t.Fatalf("expected nearest first, got %s, %s", refs[0].ID, refs[1].ID)
	}
}

func TestNearbyRadiusCutoff(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.Upsert(ctx, models.LocationUpdate{DriverID: "d1", Location: models.NewPoint(77.7, 13.0), IsAvailable: true, VehicleType: models.VehicleVan})
	refs, err := g.Nearby(ctx, models.NewPoint(77.6, 12.9), models.VehicleVan, 1000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected empty set outside radius, got %d", len(refs))
	}
}

func TestNearbyEmptyIsNotError(t *testing.T) {
	refs, err := NewIndex().Nearby(context.Background(), models.NewPoint(0, 0), models.VehicleCar, 5000, 8)
	if err != nil || len(refs) != 0 {
		t.Fatalf("expected empty, nil error; got %v %v", refs, err)
	}
}
