package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/package-dispatch/internal/booking"
	"github.com/example/package-dispatch/internal/config"
	"github.com/example/package-dispatch/internal/dispatch"
	"github.com/example/package-dispatch/internal/geo"
	"github.com/example/package-dispatch/internal/ingest"
	"github.com/example/package-dispatch/internal/logging"
	"github.com/example/package-dispatch/internal/models"
	"github.com/example/package-dispatch/internal/payments"
	"github.com/example/package-dispatch/internal/pricing"
	"github.com/example/package-dispatch/internal/registry"
	"github.com/example/package-dispatch/internal/storage"
	"github.com/example/package-dispatch/internal/tracking"
)

type Server struct {
	Coord    *dispatch.Coordinator
	Rooms    *tracking.Rooms
	Store    storage.Store
	Pricing  *pricing.Service
	Geo      geo.Finder
	Registry *registry.Registry
	Kafka    *ingest.KafkaProducer

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the dispatch stack from config: Redis-backed geo and price
// cache when REDIS_ADDR is set, Postgres when PG_DSN is set, Kafka ingest
// when brokers are configured; in-memory fallbacks otherwise.
func NewServer(cfg config.ServerConfig) *Server {
	logger := logging.NewLogger(cfg.LogLevel)

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var finder geo.Finder
	if rc != nil {
		finder = geo.NewRedisGeoWithClient(rc, cfg.RedisGeoKey)
	} else {
		finder = geo.NewIndex()
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	reg := registry.New()
	rooms := tracking.NewRooms(reg, store, logger)

	coord := dispatch.NewCoordinator(store, finder, reg, rooms, logger)
	coord.RadiusMeters = cfg.SearchRadiusMeters
	coord.TopN = cfg.DispatchTopN
	coord.OfferTTL = cfg.OfferTTL
	coord.Currency = cfg.Currency
	if cfg.StripeAPIKey != "" {
		coord.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	var est pricing.RouteEstimator
	if cfg.PriceAPIEndpoint != "" {
		est = pricing.NewMatrixClient(cfg.PriceAPIEndpoint, cfg.PriceAPIKey)
	} else {
		est = pricing.HaversineEstimator{}
	}

	s := &Server{
		Coord:    coord,
		Rooms:    rooms,
		Store:    store,
		Pricing:  pricing.NewService(est, rc),
		Geo:      finder,
		Registry: reg,
		Kafka:    kp,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings/create", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/confirm", s.handleConfirmBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/update-location", s.handleUpdateLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/update-status", s.handleUpdateStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/price", s.handlePrice).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/rate", s.handleRate).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/available", s.handleAvailability).Methods("POST")
	s.mux.HandleFunc("/api/v1/admin/fleet", s.handleFleet).Methods("GET")
	s.mux.HandleFunc("/api/v1/admin/drivers", s.handleListDrivers).Methods("GET")
	s.mux.HandleFunc("/api/v1/admin/drivers/{driverId}/location", s.handleDriverLocationLookup).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	b, err := s.Coord.RequestBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Booking request sent to drivers",
		"bookingId": b.ID,
	})
}

func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID  string `json:"driverId"`
		UserID    string `json:"userId"`
		BookingID string `json:"bookingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.DriverID == "" || req.BookingID == "" {
		writeError(w, fmt.Errorf("%w: driverId and bookingId are required", models.ErrValidation))
		return
	}
	b, err := s.Coord.AcceptBooking(r.Context(), req.DriverID, req.UserID, req.BookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Booking confirmed",
		"booking": b,
	})
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID      string `json:"bookingId"`
		DriverLocation struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"driverLocation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.BookingID == "" {
		writeError(w, fmt.Errorf("%w: bookingId is required", models.ErrValidation))
		return
	}
	loc := models.NewPoint(req.DriverLocation.Longitude, req.DriverLocation.Latitude)
	if err := s.Rooms.RelayDriverLocation(r.Context(), req.BookingID, loc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Driver location updated"})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID string `json:"bookingId"`
		DriverID  string `json:"driverId"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	st, err := booking.Parse(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Coord.UpdateStatus(r.Context(), req.BookingID, req.DriverID, st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Booking status updated to %s", st)})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PickupLocation  models.Point          `json:"pickupLocation"`
		DropoffLocation models.Point          `json:"dropoffLocation"`
		VehicleDetails  models.VehicleDetails `json:"vehicleDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.PickupLocation.Type == "" || req.DropoffLocation.Type == "" {
		writeError(w, fmt.Errorf("%w: pickup location, dropoff location, and vehicle type are required", models.ErrValidation))
		return
	}
	q, err := s.Pricing.Estimate(r.Context(), req.PickupLocation, req.DropoffLocation, req.VehicleDetails.VehicleType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID string `json:"bookingId"`
		Rating    int    `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, fmt.Errorf("%w: rating must be between 1 and 5", models.ErrValidation))
		return
	}
	if err := s.Store.RateBooking(r.Context(), req.BookingID, req.Rating); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Rating recorded"})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID    string `json:"driverId"`
		IsAvailable bool   `json:"isAvailable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if req.DriverID == "" {
		writeError(w, fmt.Errorf("%w: driverId is required", models.ErrValidation))
		return
	}
	if err := s.Coord.SetAvailability(r.Context(), req.DriverID, req.IsAvailable); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Availability updated", "isAvailable": req.IsAvailable})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if u.DriverID == "" {
		writeError(w, fmt.Errorf("%w: driverId is required", models.ErrValidation))
		return
	}
	// prefer the async pipeline; apply directly when Kafka is not configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(u); err != nil {
			s.logger.Warn("kafka publish failed, applying directly", "driver_id", u.DriverID, "error", err)
			if err := s.Geo.Upsert(r.Context(), u); err != nil {
				writeError(w, err)
				return
			}
		}
	} else if err := s.Geo.Upsert(r.Context(), u); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.FleetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fleet_analytics": stats})
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.Store.ListDrivers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *Server) handleDriverLocationLookup(w http.ResponseWriter, r *http.Request) {
	d, err := s.Store.GetDriver(r.Context(), mux.Vars(r)["driverId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Driver location fetched",
		"location": d.Location,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: 400 validation,
// 404 not found / no drivers, 409 conflict, 500 anything else.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoDriversAvailable):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
