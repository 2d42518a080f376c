package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/package-dispatch/internal/booking"
	"github.com/example/package-dispatch/internal/models"
)

// PostgresStore implements Store on database/sql + lib/pq. Status mutations
// are conditional UPDATEs keyed on the expected prior status, so row-level
// locking in Postgres serializes the acceptance race.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings(id, user_id, pickup_lon, pickup_lat, dropoff_lon, dropoff_lat,
			vehicle_type, price, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.UserID, b.PickupLocation.Lon(), b.PickupLocation.Lat(),
		b.DropoffLocation.Lon(), b.DropoffLocation.Lat(),
		b.VehicleDetails.VehicleType, b.Price, b.Status, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert booking: %v", models.ErrUpstream, err)
	}
	return nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return scanBooking(p.db.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(driver_id,''), pickup_lon, pickup_lat, dropoff_lon, dropoff_lat,
			vehicle_type, price, status, tracking_lon, tracking_lat, COALESCE(rating,0),
			COALESCE(payment_intent_id,''), created_at, updated_at
		FROM bookings WHERE id=$1`, id), id)
}

func scanBooking(row *sql.Row, id string) (*models.Booking, error) {
	var b models.Booking
	var pLon, pLat, dLon, dLat float64
	var tLon, tLat sql.NullFloat64
	var vt string
	err := row.Scan(&b.ID, &b.UserID, &b.DriverID, &pLon, &pLat, &dLon, &dLat,
		&vt, &b.Price, &b.Status, &tLon, &tLat, &b.Rating, &b.PaymentIntentID,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan booking: %v", models.ErrUpstream, err)
	}
	b.PickupLocation = models.NewPoint(pLon, pLat)
	b.DropoffLocation = models.NewPoint(dLon, dLat)
	b.VehicleDetails.VehicleType = models.VehicleType(vt)
	if tLon.Valid && tLat.Valid {
		loc := models.NewPoint(tLon.Float64, tLat.Float64)
		b.DriverLocation = &loc
	}
	return &b, nil
}

func (p *PostgresStore) ClaimBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin claim tx: %v", models.ErrUpstream, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE drivers SET is_available=false WHERE id=$1 AND is_available=true`, driverID)
	if err != nil {
		return nil, fmt.Errorf("%w: flip driver: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM drivers WHERE id=$1)`, driverID).Scan(&exists); err == nil && !exists {
			return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, driverID)
		}
		return nil, fmt.Errorf("%w: driver %s not available", models.ErrConflict, driverID)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE bookings SET driver_id=$1, status=$2, updated_at=now()
		WHERE id=$3 AND status=$4 AND driver_id IS NULL`,
		driverID, booking.StatusAccepted, bookingID, booking.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("%w: claim booking: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, bookingID).Scan(&exists); err == nil && !exists {
			return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
		}
		return nil, fmt.Errorf("%w: booking already accepted", models.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit claim: %v", models.ErrUpstream, err)
	}
	return p.GetBooking(ctx, bookingID)
}

func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status) (*models.Booking, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET status=$1, updated_at=now() WHERE id=$2 AND status=$3`,
		to, id, from)
	if err != nil {
		return nil, fmt.Errorf("%w: update status: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, id).Scan(&exists); err == nil && !exists {
			return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: booking status moved past %s", models.ErrConflict, from)
	}
	return p.GetBooking(ctx, id)
}

func (p *PostgresStore) UpdateTracking(ctx context.Context, bookingID string, loc models.Point) (*models.Booking, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET tracking_lon=$1, tracking_lat=$2, updated_at=now() WHERE id=$3`,
		loc.Lon(), loc.Lat(), bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: update tracking: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	// mirror onto the driver row, best effort
	_, _ = p.db.ExecContext(ctx, `
		UPDATE drivers SET lon=$1, lat=$2, updated_at=now()
		WHERE id=(SELECT driver_id FROM bookings WHERE id=$3)`,
		loc.Lon(), loc.Lat(), bookingID)
	return p.GetBooking(ctx, bookingID)
}

func (p *PostgresStore) RateBooking(ctx context.Context, bookingID string, rating int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET rating=$1, updated_at=now() WHERE id=$2 AND status=$3`,
		rating, bookingID, booking.StatusDelivered)
	if err != nil {
		return fmt.Errorf("%w: rate booking: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, bookingID).Scan(&exists); err == nil && !exists {
			return fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
		}
		return fmt.Errorf("%w: booking not delivered", models.ErrConflict)
	}
	return nil
}

func (p *PostgresStore) SetPaymentIntent(ctx context.Context, bookingID, paymentIntentID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET payment_intent_id=$1 WHERE id=$2`, paymentIntentID, bookingID)
	if err != nil {
		return fmt.Errorf("%w: set payment intent: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: booking %s", models.ErrNotFound, bookingID)
	}
	return nil
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM bookings WHERE status=$1 AND created_at < $2`,
		booking.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", models.ErrUpstream, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan pending: %v", models.ErrUpstream, err)
		}
		ids = append(ids, id)
	}
	out := make([]*models.Booking, 0, len(ids))
	for _, id := range ids {
		b, err := p.GetBooking(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	var lon, lat float64
	var vt string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(full_name,''), is_available, vehicle_type, COALESCE(number_plate,''),
			lon, lat, COALESCE(rating,0), updated_at
		FROM drivers WHERE id=$1`, id).
		Scan(&d.ID, &d.FullName, &d.IsAvailable, &vt, &d.Vehicle.NumberPlate, &lon, &lat, &d.Rating, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan driver: %v", models.ErrUpstream, err)
	}
	d.Vehicle.VehicleType = models.VehicleType(vt)
	d.Location = models.NewPoint(lon, lat)
	return &d, nil
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers(id, full_name, is_available, vehicle_type, number_plate, lon, lat, rating, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (id) DO UPDATE SET
			full_name=EXCLUDED.full_name, is_available=EXCLUDED.is_available,
			vehicle_type=EXCLUDED.vehicle_type, number_plate=EXCLUDED.number_plate,
			lon=EXCLUDED.lon, lat=EXCLUDED.lat, rating=EXCLUDED.rating, updated_at=now()`,
		d.ID, d.FullName, d.IsAvailable, d.Vehicle.VehicleType, d.Vehicle.NumberPlate,
		d.Location.Lon(), d.Location.Lat(), d.Rating)
	if err != nil {
		return fmt.Errorf("%w: save driver: %v", models.ErrUpstream, err)
	}
	return nil
}

func (p *PostgresStore) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, COALESCE(full_name,''), is_available, vehicle_type, COALESCE(number_plate,''),
			lon, lat, COALESCE(rating,0), updated_at
		FROM drivers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list drivers: %v", models.ErrUpstream, err)
	}
	defer rows.Close()
	var out []*models.Driver
	for rows.Next() {
		var d models.Driver
		var lon, lat float64
		var vt string
		if err := rows.Scan(&d.ID, &d.FullName, &d.IsAvailable, &vt, &d.Vehicle.NumberPlate,
			&lon, &lat, &d.Rating, &d.Updated); err != nil {
			return nil, fmt.Errorf("%w: scan driver: %v", models.ErrUpstream, err)
		}
		d.Vehicle.VehicleType = models.VehicleType(vt)
		d.Location = models.NewPoint(lon, lat)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET is_available=$1, updated_at=now() WHERE id=$2`, available, driverID)
	if err != nil {
		return fmt.Errorf("%w: set availability: %v", models.ErrUpstream, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: driver %s", models.ErrNotFound, driverID)
	}
	return nil
}

func (p *PostgresStore) FleetStats(ctx context.Context) (models.FleetStats, error) {
	var s models.FleetStats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM drivers),
			(SELECT count(*) FROM drivers WHERE is_available),
			(SELECT count(*) FROM drivers WHERE NOT is_available),
			(SELECT count(*) FROM bookings WHERE status NOT IN ($1,$2))`,
		booking.StatusDelivered, booking.StatusExpired).
		Scan(&s.TotalDrivers, &s.AvailableDrivers, &s.OfflineDrivers, &s.ActiveBookings)
	if err != nil {
		return s, fmt.Errorf("%w: fleet stats: %v", models.ErrUpstream, err)
	}
	return s, nil
}
