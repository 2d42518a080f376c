package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/package-dispatch/internal/models"
	"github.com/example/package-dispatch/internal/observability"
	"github.com/example/package-dispatch/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inbound is the client -> server event envelope.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handleWS upgrades the connection and runs the session read loop. Actors
// announce themselves with registerUser/registerDriver; everything after
// that is keyed by the IDs inside each event, so one connection can in
// principle carry both roles during a handover.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written its own error response
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	sess := registry.NewWSSession(conn)
	observability.SessionsLive.Inc()

	defer func() {
		s.Registry.Remove(sess)
		_ = sess.Close()
		observability.SessionsLive.Dec()
	}()

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.dispatchWSEvent(r, sess, msg)
	}
}

func (s *Server) dispatchWSEvent(r *http.Request, sess *registry.WSSession, msg inbound) {
	switch msg.Event {
	case "registerUser":
		var d struct {
			UserID string `json:"userId"`
		}
		if json.Unmarshal(msg.Data, &d) == nil && d.UserID != "" {
			s.Registry.Register(d.UserID, sess)
			s.logger.Info("user session registered", "user_id", d.UserID)
		}

	case "registerDriver":
		var d struct {
			DriverID string `json:"driverId"`
		}
		if json.Unmarshal(msg.Data, &d) == nil && d.DriverID != "" {
			s.Registry.Register(d.DriverID, sess)
			s.logger.Info("driver session registered", "driver_id", d.DriverID)
		}

	case "driverAccepted":
		var d struct {
			DriverID  string `json:"driverId"`
			UserID    string `json:"userId"`
			BookingID string `json:"bookingId"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			_ = sess.Send("error", map[string]any{"message": "malformed driverAccepted payload"})
			return
		}
		if _, err := s.Coord.AcceptBooking(r.Context(), d.DriverID, d.UserID, d.BookingID); err != nil {
			// only the losing driver hears about the lost race
			_ = sess.Send("error", map[string]any{"message": "Invalid booking or already accepted."})
		}

	case "joinBookingRoom":
		var d struct {
			BookingID string `json:"bookingId"`
			UserID    string `json:"userId"`
			DriverID  string `json:"driverId"`
		}
		if json.Unmarshal(msg.Data, &d) == nil && d.BookingID != "" {
			s.Rooms.Bind(d.BookingID, d.UserID, d.DriverID)
		}

	case "sendLocation":
		var d struct {
			DriverID  string       `json:"driverId"`
			BookingID string       `json:"bookingId"`
			Location  models.Point `json:"location"`
		}
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			_ = sess.Send("error", map[string]any{"message": "malformed sendLocation payload"})
			return
		}
		if err := s.Rooms.RelayDriverLocation(r.Context(), d.BookingID, d.Location); err != nil {
			_ = sess.Send("error", map[string]any{"message": err.Error()})
		}

	default:
		_ = sess.Send("error", map[string]any{"message": "unknown event " + msg.Event})
	}
}
