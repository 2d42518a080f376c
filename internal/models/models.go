package models

import "time"

// Point is a GeoJSON-style point. Coordinates are [longitude, latitude],
// matching the wire format clients send.
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func NewPoint(lon, lat float64) Point {
	return Point{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

func (p Point) Lon() float64 { return p.Coordinates[0] }
func (p Point) Lat() float64 { return p.Coordinates[1] }

type VehicleType string

const (
	VehicleCar   VehicleType = "car"
	VehicleVan   VehicleType = "van"
	VehicleTruck VehicleType = "truck"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleCar, VehicleVan, VehicleTruck:
		return true
	}
	return false
}

type VehicleDetails struct {
	NumberPlate string      `json:"numberPlate,omitempty"`
	VehicleType VehicleType `json:"vehicleType"`
}

type Booking struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	DriverID        string         `json:"driverId,omitempty"` // empty until accepted, immutable after
	PickupLocation  Point          `json:"pickupLocation"`
	DropoffLocation Point          `json:"dropoffLocation"`
	VehicleDetails  VehicleDetails `json:"vehicleDetails"`
	Price           float64        `json:"price"` // fixed at creation
	Status          string         `json:"status"`
	DriverLocation  *Point         `json:"driverLocation,omitempty"` // last-known, during transit
	Rating          int            `json:"rating,omitempty"`
	PaymentIntentID string         `json:"-"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type Driver struct {
	ID          string         `json:"id"`
	FullName    string         `json:"fullName,omitempty"`
	IsAvailable bool           `json:"isAvailable"`
	Vehicle     VehicleDetails `json:"vehicleDetails"`
	Location    Point          `json:"location"`
	Rating      float64        `json:"rating,omitempty"`
	Updated     time.Time      `json:"updated,omitempty"`
}

// DriverRef is what the proximity finder returns per candidate: enough
// identity to notify the driver and validate a later acceptance.
type DriverRef struct {
	ID          string      `json:"id"`
	Location    Point       `json:"location"`
	DistanceM   float64     `json:"distanceMeters"`
	VehicleType VehicleType `json:"vehicleType"`
}

// BookingRequest is the create-booking payload.
type BookingRequest struct {
	UserID          string         `json:"userId"`
	PickupLocation  Point          `json:"pickupLocation"`
	DropoffLocation Point          `json:"dropoffLocation"`
	VehicleDetails  VehicleDetails `json:"vehicleDetails"`
	Price           float64        `json:"price"`
}

// LocationUpdate is a driver location message, both on the Kafka topic
// and on the ingest HTTP path.
type LocationUpdate struct {
	DriverID    string      `json:"driverId"`
	Location    Point       `json:"location"`
	IsAvailable bool        `json:"isAvailable"`
	VehicleType VehicleType `json:"vehicleType"`
}

// FleetStats is the admin fleet-analytics snapshot.
type FleetStats struct {
	TotalDrivers     int `json:"total_vehicles"`
	AvailableDrivers int `json:"available_vehicles"`
	OfflineDrivers   int `json:"offline_drivers"`
	ActiveBookings   int `json:"active_bookings"`
}
