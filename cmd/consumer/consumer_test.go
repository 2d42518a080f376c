package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/package-dispatch/internal/models"
)

// fakeUpserter implements LocationUpserter for tests
type fakeUpserter struct {
	fail  int // number of calls to fail before succeeding
	calls int
	last  models.LocationUpdate
}

func (f *fakeUpserter) Upsert(ctx context.Context, u models.LocationUpdate) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("upsert fail")
	}
	f.last = u
	return nil
}

func testUpdate() models.LocationUpdate {
	return models.LocationUpdate{
		DriverID:    "d1",
		Location:    models.NewPoint(77.6, 12.9),
		IsAvailable: true,
		VehicleType: models.VehicleVan,
	}
}

func TestUpsertWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpserter{fail: 2}
	start := time.Now()
	if err := upsertWithRetry(context.Background(), f, testUpdate(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpsertWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpserter{fail: 5}
	if err := upsertWithRetry(context.Background(), f, testUpdate(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.calls)
	}
}

func TestUpsertWithRetry_PassesUpdateThrough(t *testing.T) {
	f := &fakeUpserter{}
	if err := upsertWithRetry(context.Background(), f, testUpdate(), 3, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if f.last.DriverID != "d1" || !f.last.IsAvailable || f.last.VehicleType != models.VehicleVan {
		t.Fatalf("update not passed through intact: %+v", f.last)
	}
}
