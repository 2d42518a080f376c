// Package tracking implements the per-booking room: once a booking is
// accepted, both actors are bound to a room keyed by the booking ID and
// location/status events are relayed between them for the rest of the trip.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/package-dispatch/internal/models"
	"github.com/example/package-dispatch/internal/observability"
	"github.com/example/package-dispatch/internal/registry"
)

// Store is the slice of persistence the tracker needs: the last-known
// location must be durable even when nobody is listening.
type Store interface {
	UpdateTracking(ctx context.Context, bookingID string, loc models.Point) (*models.Booking, error)
}

type room struct {
	UserID   string
	DriverID string
}

// Rooms owns the booking -> participants mapping. Sessions are resolved
// through the registry at relay time, never captured at bind time, so a
// reconnected actor keeps receiving events without rebinding.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]room

	reg   *registry.Registry
	store Store
	log   *slog.Logger
}

func NewRooms(reg *registry.Registry, store Store, log *slog.Logger) *Rooms {
	return &Rooms{rooms: make(map[string]room), reg: reg, store: store, log: log}
}

func roomKey(bookingID string) string { return "booking_" + bookingID }

// Bind associates both actors with the booking's room. Idempotent.
func (r *Rooms) Bind(bookingID, userID, driverID string) {
	r.mu.Lock()
	r.rooms[bookingID] = room{UserID: userID, DriverID: driverID}
	r.mu.Unlock()

	payload := map[string]any{
		"message": fmt.Sprintf("Driver %s and User %s have joined the room.", driverID, userID),
		"room":    roomKey(bookingID),
	}
	r.reg.Notify(userID, "roomJoined", payload)
	r.reg.Notify(driverID, "roomJoined", payload)
}

func (r *Rooms) lookup(bookingID string) (room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rooms[bookingID]
	return m, ok
}

// RelayDriverLocation records the coordinate on the booking and pushes it to
// the user's live session. The store write happens first: a client with no
// session recovers last-known state by refetching, not by redelivery. Only an
// unknown booking is an error; an unbound room or absent listener is not.
func (r *Rooms) RelayDriverLocation(ctx context.Context, bookingID string, loc models.Point) error {
	b, err := r.store.UpdateTracking(ctx, bookingID, loc)
	if err != nil {
		return err
	}
	observability.LocationsRelayed.Inc()

	m, ok := r.lookup(bookingID)
	if !ok {
		// booking exists but nobody bound a room; the write above is enough
		return nil
	}
	update := map[string]any{
		"bookingId":      bookingID,
		"driverId":       b.DriverID,
		"driverLocation": loc,
	}
	if !r.reg.Notify(m.UserID, "driverLocationUpdate", update) {
		r.log.Debug("no live user session for location update", "booking_id", bookingID, "user_id", m.UserID)
	}
	// room broadcast: the driver hears its own update back as an ack
	r.reg.Notify(m.DriverID, "driverLocationUpdate", update)
	return nil
}

// RelayStatusChange pushes a status event to the user's session.
func (r *Rooms) RelayStatusChange(bookingID, status string) {
	m, ok := r.lookup(bookingID)
	if !ok {
		return
	}
	if !r.reg.Notify(m.UserID, "packageStatusUpdate", map[string]any{
		"message":   fmt.Sprintf("Package status updated to %s", status),
		"status":    status,
		"bookingId": bookingID,
	}) {
		r.log.Debug("no live user session for status update", "booking_id", bookingID, "user_id", m.UserID)
	}
}

// Close drops the room once the booking reaches a terminal state.
func (r *Rooms) Close(bookingID string) {
	r.mu.Lock()
	delete(r.rooms, bookingID)
	r.mu.Unlock()
}
