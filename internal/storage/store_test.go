package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/package-dispatch/internal/booking"
	"github.com/example/package-dispatch/internal/models"
)

func seedPending(t *testing.T, m *MemoryStore, id string) {
	t.Helper()
	b := &models.Booking{
		ID:        id,
		UserID:    "u1",
		Status:    string(booking.StatusPending),
		CreatedAt: time.Now(),
	}
	if err := m.CreateBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}
}

func seedDriver(t *testing.T, m *MemoryStore, id string, available bool) {
	t.Helper()
	d := &models.Driver{ID: id, IsAvailable: available, Vehicle: models.VehicleDetails{VehicleType: models.VehicleCar}}
	if err := m.SaveDriver(context.Background(), d); err != nil {
		t.Fatal(err)
	}
}

func TestClaimBookingExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedPending(t, m, "b1")

	const drivers = 8
	for i := 0; i < drivers; i++ {
		seedDriver(t, m, fmt.Sprintf("d%d", i), true)
	}

	var wg sync.WaitGroup
	errs := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		id := fmt.Sprintf("d%d", i)
		wg.Add(1)
		go func(did string) {
			defer wg.Done()
			_, err := m.ClaimBooking(ctx, "b1", did)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, models.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}

	b, err := m.GetBooking(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != string(booking.StatusAccepted) || b.DriverID == "" {
		t.Fatalf("unexpected booking after race: %+v", b)
	}
	winner, err := m.GetDriver(ctx, b.DriverID)
	if err != nil {
		t.Fatal(err)
	}
	if winner.IsAvailable {
		t.Fatal("winning driver must be flipped unavailable")
	}
}

func TestClaimUnavailableDriverConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedPending(t, m, "b1")
	seedDriver(t, m, "d1", false)
	if _, err := m.ClaimBooking(ctx, "b1", "d1"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict for unavailable driver, got %v", err)
	}
}

func TestClaimUnknownIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedDriver(t, m, "d1", true)
	if _, err := m.ClaimBooking(ctx, "nope", "d1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown booking, got %v", err)
	}
	seedPending(t, m, "b1")
	if _, err := m.ClaimBooking(ctx, "b1", "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown driver, got %v", err)
	}
}

func TestUpdateBookingStatusCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedPending(t, m, "b1")
	seedDriver(t, m, "d1", true)
	if _, err := m.ClaimBooking(ctx, "b1", "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.UpdateBookingStatus(ctx, "b1", booking.StatusAccepted, booking.StatusPickedUp); err != nil {
		t.Fatal(err)
	}
	// stale expectation loses
	if _, err := m.UpdateBookingStatus(ctx, "b1", booking.StatusAccepted, booking.StatusOnTheWay); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict on stale prior status, got %v", err)
	}
}

func TestUpdateTrackingPersistsLastKnown(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedPending(t, m, "b1")
	loc := models.NewPoint(77.61, 12.91)
	b, err := m.UpdateTracking(ctx, "b1", loc)
	if err != nil {
		t.Fatal(err)
	}
	if b.DriverLocation == nil || b.DriverLocation.Lat() != 12.91 {
		t.Fatalf("tracking not recorded: %+v", b.DriverLocation)
	}
	if _, err := m.UpdateTracking(ctx, "ghost", loc); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRateBookingRequiresDelivered(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedPending(t, m, "b1")
	if err := m.RateBooking(ctx, "b1", 5); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict before delivery, got %v", err)
	}
}

func TestListPendingBefore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	old := &models.Booking{ID: "old", UserID: "u1", Status: string(booking.StatusPending), CreatedAt: time.Now().Add(-5 * time.Minute)}
	fresh := &models.Booking{ID: "fresh", UserID: "u1", Status: string(booking.StatusPending), CreatedAt: time.Now()}
	_ = m.CreateBooking(ctx, old)
	_ = m.CreateBooking(ctx, fresh)
	got, err := m.ListPendingBefore(ctx, time.Now().Add(-2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("expected only stale booking, got %+v", got)
	}
}
