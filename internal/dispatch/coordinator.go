// Package dispatch orchestrates the booking lifecycle: candidate fan-out,
// the acceptance race, status progression, and server-side offer expiry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/package-dispatch/internal/booking"
	"github.com/example/package-dispatch/internal/geo"
	"github.com/example/package-dispatch/internal/models"
	"github.com/example/package-dispatch/internal/observability"
	"github.com/example/package-dispatch/internal/payments"
	"github.com/example/package-dispatch/internal/registry"
	"github.com/example/package-dispatch/internal/storage"
	"github.com/example/package-dispatch/internal/tracking"
)

type Coordinator struct {
	Store    storage.Store
	Finder   geo.Finder
	Registry *registry.Registry
	Rooms    *tracking.Rooms
	Payments payments.Client // nil disables payment holds
	Log      *slog.Logger

	RadiusMeters float64
	TopN         int
	OfferTTL     time.Duration
	Currency     string

	newID func() string
}

func NewCoordinator(store storage.Store, finder geo.Finder, reg *registry.Registry, rooms *tracking.Rooms, log *slog.Logger) *Coordinator {
	return &Coordinator{
		Store:        store,
		Finder:       finder,
		Registry:     reg,
		Rooms:        rooms,
		Log:          log,
		RadiusMeters: 5000,
		TopN:         8,
		OfferTTL:     2 * time.Minute,
		Currency:     "usd",
		newID:        uuid.NewString,
	}
}

// RequestBooking validates the request, finds candidate drivers, creates the
// pending booking, and fans the offer out to every candidate with a live
// session. Candidates without a session simply never see the offer. When no
// driver qualifies, no booking row is created at all.
func (c *Coordinator) RequestBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	observability.BookingsRequested.Inc()

	cands, err := c.Finder.Nearby(ctx, req.PickupLocation, req.VehicleDetails.VehicleType, c.RadiusMeters, c.TopN)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, models.ErrNoDriversAvailable
	}

	now := time.Now()
	b := &models.Booking{
		ID:              c.newID(),
		UserID:          req.UserID,
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
		VehicleDetails:  req.VehicleDetails,
		Price:           req.Price,
		Status:          string(booking.StatusPending),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.Store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	offer := map[string]any{
		"bookingId":       b.ID,
		"userId":          b.UserID,
		"pickupLocation":  b.PickupLocation,
		"dropoffLocation": b.DropoffLocation,
		"price":           b.Price,
	}
	sent := 0
	for _, cand := range cands {
		if c.Registry.Notify(cand.ID, "newBookingRequest", offer) {
			sent++
			observability.OffersSent.Inc()
		}
	}
	c.Log.Info("booking offered", "booking_id", b.ID, "candidates", len(cands), "offers_sent", sent)
	return b, nil
}

// AcceptBooking resolves the acceptance race. The claim is a single atomic
// operation at the store: booking still pending, driver still available. At
// most one caller wins; everyone else gets ErrConflict and the losing driver
// is the only party told about the loss.
func (c *Coordinator) AcceptBooking(ctx context.Context, driverID, userID, bookingID string) (*models.Booking, error) {
	b, err := c.Store.ClaimBooking(ctx, bookingID, driverID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.AcceptConflicts.Inc()
		}
		return nil, err
	}
	observability.AcceptWins.Inc()

	driver, err := c.Store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	// payment hold is best effort; a failed hold never unwinds the claim
	if c.Payments != nil {
		cents := int64(math.Round(b.Price * 100))
		if piID, err := c.Payments.Hold(ctx, cents, c.Currency, b.UserID); err != nil {
			c.Log.Warn("payment hold failed", "booking_id", b.ID, "error", err)
		} else if err := c.Store.SetPaymentIntent(ctx, b.ID, piID); err != nil {
			c.Log.Warn("could not record payment intent", "booking_id", b.ID, "error", err)
		}
	}

	c.Rooms.Bind(b.ID, b.UserID, driverID)

	driverDetails := map[string]any{
		"name":            driver.FullName,
		"vehicleNumber":   driver.Vehicle.NumberPlate,
		"currentLocation": driver.Location,
	}
	c.Registry.Notify(b.UserID, "joinBookingRoom", map[string]any{
		"bookingId":     b.ID,
		"driverDetails": driverDetails,
	})
	c.Registry.Notify(driverID, "joinBookingRoom", map[string]any{
		"bookingId": b.ID,
		"userId":    b.UserID,
		"driverId":  driverID,
	})
	c.Registry.Notify(b.UserID, "bookingConfirmed", map[string]any{
		"bookingId":     b.ID,
		"driverDetails": driverDetails,
	})
	c.Registry.Notify(driverID, "bookingConfirmed", map[string]any{
		"bookingId": b.ID,
		"userId":    b.UserID,
	})
	c.Registry.Notify(driverID, "availabilityUpdate", map[string]any{"isAvailable": false})

	c.Log.Info("booking accepted", "booking_id", b.ID, "driver_id", driverID)
	return b, nil
}

// UpdateStatus applies a driver-initiated status transition. Only the
// assigned driver may move the booking, and only forward along the canonical
// order. Delivery captures the payment hold and frees the driver.
func (c *Coordinator) UpdateStatus(ctx context.Context, bookingID, driverID string, to booking.Status) (*models.Booking, error) {
	cur, err := c.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if cur.DriverID == "" || cur.DriverID != driverID {
		return nil, fmt.Errorf("%w: caller is not the assigned driver", models.ErrConflict)
	}
	from := booking.Status(cur.Status)
	if err := booking.Transition(from, to); err != nil {
		return nil, err
	}
	b, err := c.Store.UpdateBookingStatus(ctx, bookingID, from, to)
	if err != nil {
		return nil, err
	}

	c.Rooms.RelayStatusChange(bookingID, string(to))

	if to == booking.StatusDelivered {
		if c.Payments != nil && b.PaymentIntentID != "" {
			if err := c.Payments.Capture(ctx, b.PaymentIntentID); err != nil {
				c.Log.Warn("payment capture failed", "booking_id", b.ID, "error", err)
			}
		}
		// the booking is terminal, the driver is free again
		if err := c.Store.SetDriverAvailability(ctx, driverID, true); err != nil {
			c.Log.Warn("could not restore driver availability", "driver_id", driverID, "error", err)
		} else {
			c.Registry.Notify(driverID, "availabilityUpdate", map[string]any{"isAvailable": true})
		}
		c.Rooms.Close(bookingID)
	}
	return b, nil
}

// SetAvailability is the driver's explicit opt-in/opt-out.
func (c *Coordinator) SetAvailability(ctx context.Context, driverID string, available bool) error {
	if err := c.Store.SetDriverAvailability(ctx, driverID, available); err != nil {
		return err
	}
	c.Registry.Notify(driverID, "availabilityUpdate", map[string]any{"isAvailable": available})
	return nil
}

// ExpirePending sweeps bookings that sat in pending past the offer window
// and retires them with the same compare-and-set discipline as acceptance:
// a driver accepting at the same instant either wins before the sweep or
// loses to it, never both.
func (c *Coordinator) ExpirePending(ctx context.Context) int {
	stale, err := c.Store.ListPendingBefore(ctx, time.Now().Add(-c.OfferTTL))
	if err != nil {
		c.Log.Warn("expiry sweep query failed", "error", err)
		return 0
	}
	expired := 0
	for _, b := range stale {
		if _, err := c.Store.UpdateBookingStatus(ctx, b.ID, booking.StatusPending, booking.StatusExpired); err != nil {
			// lost to a concurrent acceptance; that booking is fine
			continue
		}
		expired++
		observability.BookingsExpired.Inc()
		// pending bookings normally carry no hold, but release one if present
		if c.Payments != nil && b.PaymentIntentID != "" {
			if err := c.Payments.Cancel(ctx, b.PaymentIntentID); err != nil {
				c.Log.Warn("payment release failed", "booking_id", b.ID, "error", err)
			}
		}
		c.Registry.Notify(b.UserID, "bookingExpired", map[string]any{
			"bookingId": b.ID,
			"message":   "No driver accepted the booking in time",
		})
		c.Log.Info("booking expired", "booking_id", b.ID)
	}
	return expired
}

// RunExpirySweeper drives ExpirePending until the context is done.
func (c *Coordinator) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.ExpirePending(ctx)
		}
	}
}

func validateRequest(req models.BookingRequest) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: userId is required", models.ErrValidation)
	case req.Price <= 0:
		return fmt.Errorf("%w: price must be positive", models.ErrValidation)
	case !req.VehicleDetails.VehicleType.Valid():
		return fmt.Errorf("%w: unknown vehicle type %q", models.ErrValidation, req.VehicleDetails.VehicleType)
	case req.PickupLocation.Type != "Point" || req.DropoffLocation.Type != "Point":
		return fmt.Errorf("%w: pickup and dropoff must be GeoJSON points", models.ErrValidation)
	}
	return nil
}
