package registry

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession wraps a websocket connection as a Session. gorilla conns allow
// only one concurrent writer, hence the write mutex.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{conn: conn}
}

// Envelope is the wire shape for every event pushed to a client.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func (s *WSSession) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: event, Data: data})
}

func (s *WSSession) Close() error {
	return s.conn.Close()
}
