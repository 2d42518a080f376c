package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/package-dispatch/internal/booking"
	"github.com/example/package-dispatch/internal/models"
)

// Store is the persistence boundary for bookings and drivers. Booking status
// mutations are conditional on the expected prior status so that concurrent
// writers serialize at the store, not in application memory.
type Store interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)

	// ClaimBooking atomically performs the acceptance compare-and-set:
	// booking must still be pending with no driver, and the driver must be
	// available. On success the booking is accepted, the driver is flipped
	// unavailable, and the updated booking is returned. A lost race or an
	// unavailable driver yields ErrConflict; unknown IDs yield ErrNotFound.
	ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error)

	// UpdateBookingStatus moves a booking from the expected status to the
	// next one, failing with ErrConflict when the stored status no longer
	// matches from.
	UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status) (*models.Booking, error)

	// UpdateTracking records the driver's last-known location on the booking.
	UpdateTracking(ctx context.Context, bookingID string, loc models.Point) (*models.Booking, error)

	// RateBooking attaches a rating to a delivered booking.
	RateBooking(ctx context.Context, bookingID string, rating int) error

	// SetPaymentIntent records the payment hold reference on a booking.
	SetPaymentIntent(ctx context.Context, bookingID, paymentIntentID string) error

	// ListPendingBefore returns bookings still pending whose offers went out
	// before the cutoff, for the expiry sweeper.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error)

	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	SaveDriver(ctx context.Context, d *models.Driver) error
	SetDriverAvailability(ctx context.Context, driverID string, available bool) error

	// ListDrivers returns every known driver, sorted by ID for stable output.
	ListDrivers(ctx context.Context) ([]*models.Driver, error)

	FleetStats(ctx context.Context) (models.FleetStats, error)
}

// MemoryStore is the in-process Store used for local runs and tests. A single
// mutex gives the claim its atomicity.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	drivers  map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		drivers:  make(map[string]*models.Driver),
	}
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, driverID)
	}
	if !d.IsAvailable {
		return nil, fmt.Errorf("%w: driver %s not available", models.ErrConflict, driverID)
	}
	if b.Status != string(booking.StatusPending) || b.DriverID != "" {
		return nil, fmt.Errorf("%w: booking already accepted", models.ErrConflict)
	}
	b.DriverID = driverID
	b.Status = string(booking.StatusAccepted)
	b.UpdatedAt = time.Now()
	d.IsAvailable = false
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	if b.Status != string(from) {
		return nil, fmt.Errorf("%w: booking status is %s, expected %s", models.ErrConflict, b.Status, from)
	}
	b.Status = string(to)
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateTracking(ctx context.Context, bookingID string, loc models.Point) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	b.DriverLocation = &loc
	b.UpdatedAt = time.Now()
	if b.DriverID != "" {
		if d, ok := m.drivers[b.DriverID]; ok {
			d.Location = loc
			d.Updated = time.Now()
		}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) RateBooking(ctx context.Context, bookingID string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	if b.Status != string(booking.StatusDelivered) {
		return fmt.Errorf("%w: booking not delivered", models.ErrConflict)
	}
	b.Rating = rating
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetPaymentIntent(ctx context.Context, bookingID, paymentIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	b.PaymentIntentID = paymentIntentID
	return nil
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.bookings {
		if b.Status == string(booking.StatusPending) && b.CreatedAt.Before(cutoff) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return fmt.Errorf("%w: driver %s", models.ErrNotFound, driverID)
	}
	d.IsAvailable = available
	return nil
}

func (m *MemoryStore) FleetStats(ctx context.Context) (models.FleetStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s models.FleetStats
	s.TotalDrivers = len(m.drivers)
	for _, d := range m.drivers {
		if d.IsAvailable {
			s.AvailableDrivers++
		} else {
			s.OfflineDrivers++
		}
	}
	for _, b := range m.bookings {
		if st := booking.Status(b.Status); st.Valid() && !st.Terminal() {
			s.ActiveBookings++
		}
	}
	return s, nil
}
