package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Room name helpers. Rooms key the three broadcast scopes the engine
// addresses: a user's devices, a driver's devices, and one ride's
// participants.
func UserRoom(userID string) string   { return "user:" + userID }
func DriverRoom(driverID string) string { return "driver:" + driverID }
func RideRoom(rideID string) string   { return "ride:" + rideID }

// Envelope is the wire shape of every gateway event.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// conn is the subset of *websocket.Conn the gateway writes through.
type conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session wraps one live connection. gorilla/websocket permits a single
// concurrent writer, so every write goes through the session mutex.
type Session struct {
	id   string
	conn conn
	mu   sync.Mutex
}

func (s *Session) send(ev Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Gateway is the bidirectional channel abstraction: connections join
// rooms, the engine emits events to rooms. Identity binding to a
// connection happens once at connect time in the transport layer.
type Gateway struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session

	logger *slog.Logger
}

func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		logger:   logger,
	}
}

// Register adds a connection and returns its session ID.
func (g *Gateway) Register(connID string, c *websocket.Conn) string {
	g.register(connID, c)
	return connID
}

func (g *Gateway) register(connID string, c conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.sessions[connID]; ok {
		_ = old.conn.Close()
		g.dropLocked(connID)
	}
	g.sessions[connID] = &Session{id: connID, conn: c}
}

// Unregister drops a connection from the registry and every room.
func (g *Gateway) Unregister(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropLocked(connID)
}

func (g *Gateway) dropLocked(connID string) {
	delete(g.sessions, connID)
	for name, room := range g.rooms {
		delete(room, connID)
		if len(room) == 0 {
			delete(g.rooms, name)
		}
	}
}

// JoinRoom adds a registered connection to a room.
func (g *Gateway) JoinRoom(connID, room string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[connID]
	if !ok {
		return false
	}
	if g.rooms[room] == nil {
		g.rooms[room] = make(map[string]*Session)
	}
	g.rooms[room][connID] = s
	return true
}

func (g *Gateway) LeaveRoom(connID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[room]; ok {
		delete(r, connID)
		if len(r) == 0 {
			delete(g.rooms, room)
		}
	}
}

// JoinRoomMembers adds every current member of src to dst. Used on
// acceptance to pull the driver's and rider's connections into the
// ride room without re-addressing.
func (g *Gateway) JoinRoomMembers(src, dst string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members := g.rooms[src]
	if len(members) == 0 {
		return
	}
	if g.rooms[dst] == nil {
		g.rooms[dst] = make(map[string]*Session)
	}
	for id, s := range members {
		g.rooms[dst][id] = s
	}
}

// EmitToRoom sends an event to every connection in the room and
// returns how many sends succeeded. Dead connections are dropped.
func (g *Gateway) EmitToRoom(room, event string, payload any) int {
	g.mu.RLock()
	targets := make([]*Session, 0, len(g.rooms[room]))
	for _, s := range g.rooms[room] {
		targets = append(targets, s)
	}
	g.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.send(Envelope{Event: event, Payload: payload}); err != nil {
			g.logger.Warn("ws send failed", "conn", s.id, "room", room, "event", event, "error", err)
			g.Unregister(s.id)
			continue
		}
		sent++
	}
	return sent
}

// EmitToConn sends an event to a single connection.
func (g *Gateway) EmitToConn(connID, event string, payload any) bool {
	g.mu.RLock()
	s, ok := g.sessions[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	if err := s.send(Envelope{Event: event, Payload: payload}); err != nil {
		g.logger.Warn("ws send failed", "conn", connID, "event", event, "error", err)
		g.Unregister(connID)
		return false
	}
	return true
}

// RoomSize reports the current member count of a room.
func (g *Gateway) RoomSize(room string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[room])
}
