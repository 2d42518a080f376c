package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/example/package-dispatch/internal/dispatch"
	"github.com/example/package-dispatch/internal/geo"
	"github.com/example/package-dispatch/internal/models"
	"github.com/example/package-dispatch/internal/pricing"
	"github.com/example/package-dispatch/internal/registry"
	"github.com/example/package-dispatch/internal/storage"
	"github.com/example/package-dispatch/internal/tracking"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *geo.Index) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	idx := geo.NewIndex()
	reg := registry.New()
	rooms := tracking.NewRooms(reg, store, logger)
	coord := dispatch.NewCoordinator(store, idx, reg, rooms, logger)
	s := &Server{
		Coord:    coord,
		Rooms:    rooms,
		Store:    store,
		Pricing:  pricing.NewService(pricing.HaversineEstimator{SpeedMps: 10}, nil),
		Geo:      idx,
		Registry: reg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, store, idx
}

func seedDriver(t *testing.T, store *storage.MemoryStore, idx *geo.Index, id string) {
	t.Helper()
	ctx := context.Background()
	loc := models.NewPoint(77.601, 12.901)
	d := &models.Driver{ID: id, IsAvailable: true, Vehicle: models.VehicleDetails{VehicleType: models.VehicleCar}, Location: loc}
	if err := store.SaveDriver(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, models.LocationUpdate{DriverID: id, Location: loc, IsAvailable: true, VehicleType: models.VehicleCar}); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func createBody(userID string) map[string]any {
	return map[string]any{
		"userId":          userID,
		"pickupLocation":  models.NewPoint(77.6, 12.9),
		"dropoffLocation": models.NewPoint(77.65, 12.95),
		"vehicleDetails":  map[string]any{"vehicleType": "car"},
		"price":           150,
	}
}

func TestCreateBookingValidationError(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/bookings/create", map[string]any{"userId": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateBookingNoDrivers(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/bookings/create", createBody("u1"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	s, store, idx := newTestServer(t)
	seedDriver(t, store, idx, "D1")
	seedDriver(t, store, idx, "D2")

	rec := doJSON(t, s, "POST", "/api/v1/bookings/create", createBody("u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		BookingID string `json:"bookingId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	confirm := func(driverID string) *httptest.ResponseRecorder {
		return doJSON(t, s, "POST", "/api/v1/bookings/confirm", map[string]any{
			"driverId": driverID, "userId": "u1", "bookingId": created.BookingID,
		})
	}
	if rec := confirm("D1"); rec.Code != http.StatusOK {
		t.Fatalf("confirm D1: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := confirm("D2"); rec.Code != http.StatusConflict {
		t.Fatalf("confirm D2: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	d1, _ := store.GetDriver(context.Background(), "D1")
	if d1.IsAvailable {
		t.Fatal("D1 should be unavailable after winning")
	}
	d2, _ := store.GetDriver(context.Background(), "D2")
	if !d2.IsAvailable {
		t.Fatal("D2 availability must be unchanged")
	}

	// driver walks the booking to delivered
	for _, st := range []string{"picked-up", "on-the-way", "delivered"} {
		rec := doJSON(t, s, "POST", "/api/v1/bookings/update-status", map[string]any{
			"bookingId": created.BookingID, "driverId": "D1", "status": st,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status %s: expected 200, got %d: %s", st, rec.Code, rec.Body.String())
		}
	}
	rec = doJSON(t, s, "POST", "/api/v1/bookings/update-status", map[string]any{
		"bookingId": created.BookingID, "driverId": "D1", "status": "accepted",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("backward transition: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/bookings/rate", map[string]any{
		"bookingId": created.BookingID, "rating": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateStatusRejectsUnknownEnum(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/bookings/update-status", map[string]any{
		"bookingId": "b1", "driverId": "d1", "status": "warp-speed",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateLocationUnknownBooking(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/bookings/update-location", map[string]any{
		"bookingId":      "ghost",
		"driverLocation": map[string]float64{"latitude": 12.9, "longitude": 77.6},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateLocationPersists(t *testing.T) {
	s, store, idx := newTestServer(t)
	seedDriver(t, store, idx, "D1")
	rec := doJSON(t, s, "POST", "/api/v1/bookings/create", createBody("u1"))
	var created struct {
		BookingID string `json:"bookingId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, s, "POST", "/api/v1/bookings/update-location", map[string]any{
		"bookingId":      created.BookingID,
		"driverLocation": map[string]float64{"latitude": 12.95, "longitude": 77.65},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	b, err := store.GetBooking(context.Background(), created.BookingID)
	if err != nil {
		t.Fatal(err)
	}
	if b.DriverLocation == nil || b.DriverLocation.Lat() != 12.95 {
		t.Fatalf("location not persisted: %+v", b.DriverLocation)
	}
}

func TestPriceEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/bookings/price", map[string]any{
		"pickupLocation":  models.NewPoint(77.6, 12.9),
		"dropoffLocation": models.NewPoint(77.65, 12.95),
		"vehicleDetails":  map[string]any{"vehicleType": "van"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var q pricing.Quote
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatal(err)
	}
	if q.Cost <= 0 {
		t.Fatalf("expected a positive quote, got %+v", q)
	}
}

func TestFleetEndpoint(t *testing.T) {
	s, store, idx := newTestServer(t)
	for i := 0; i < 3; i++ {
		seedDriver(t, store, idx, fmt.Sprintf("D%d", i))
	}
	rec := doJSON(t, s, "GET", "/api/v1/admin/fleet", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Fleet models.FleetStats `json:"fleet_analytics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Fleet.TotalDrivers != 3 || out.Fleet.AvailableDrivers != 3 {
		t.Fatalf("unexpected fleet stats: %+v", out.Fleet)
	}
}

func TestListDriversEndpoint(t *testing.T) {
	s, store, idx := newTestServer(t)
	seedDriver(t, store, idx, "D2")
	seedDriver(t, store, idx, "D1")
	rec := doJSON(t, s, "GET", "/api/v1/admin/drivers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Drivers []models.Driver `json:"drivers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Drivers) != 2 || out.Drivers[0].ID != "D1" || out.Drivers[1].ID != "D2" {
		t.Fatalf("expected D1,D2 in order, got %+v", out.Drivers)
	}
}

func TestDriverLocationLookup(t *testing.T) {
	s, store, idx := newTestServer(t)
	seedDriver(t, store, idx, "D1")

	rec := doJSON(t, s, "GET", "/api/v1/admin/drivers/D1/location", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Location models.Point `json:"location"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Location.Lon() != 77.601 || out.Location.Lat() != 12.901 {
		t.Fatalf("unexpected location: %+v", out.Location)
	}

	if rec := doJSON(t, s, "GET", "/api/v1/admin/drivers/ghost/location", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown driver, got %d", rec.Code)
	}
}

func TestIngestWithoutKafkaUpdatesGeo(t *testing.T) {
	s, _, idx := newTestServer(t)
	rec := doJSON(t, s, "POST", "/internal/driver/locations", models.LocationUpdate{
		DriverID:    "D9",
		Location:    models.NewPoint(77.6, 12.9),
		IsAvailable: true,
		VehicleType: models.VehicleCar,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	refs, err := idx.Nearby(context.Background(), models.NewPoint(77.6, 12.9), models.VehicleCar, 5000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].ID != "D9" {
		t.Fatalf("geo not updated: %+v", refs)
	}
}
