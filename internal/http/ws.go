package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleDriverWS binds a driver device connection: register, join the
// driver's private room, then pump inbound commands (location ticks and
// availability toggles) until the socket closes.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if driverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	connID := "driver:" + driverID + ":" + newRequestID()
	s.gateway.Register(connID, conn)
	s.gateway.JoinRoom(connID, realtime.DriverRoom(driverID))

	go s.driverReadPump(connID, driverID, conn)
}

func (s *Server) handleUserWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	connID := "user:" + userID + ":" + newRequestID()
	s.gateway.Register(connID, conn)
	s.gateway.JoinRoom(connID, realtime.UserRoom(userID))

	// Rider connections are push-only; drain until close so pings and
	// close frames are processed.
	go func() {
		defer s.gateway.Unregister(connID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type wsCommand struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) driverReadPump(connID, driverID string, conn *websocket.Conn) {
	defer s.gateway.Unregister(connID)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.logger.Warn("ws bad command", "driver_id", driverID, "error", err)
			continue
		}
		switch cmd.Event {
		case "update_location":
			var p struct {
				Loc       models.Coord `json:"loc"`
				Available bool         `json:"available"`
			}
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				continue
			}
			if s.kafka != nil {
				_ = s.kafka.PublishLocation(models.DriverLocation{DriverID: driverID, Loc: p.Loc, Available: p.Available})
			}
			if err := s.engine.UpdateLocation(driverID, p.Loc, p.Available); err != nil {
				s.logger.Warn("ws location update rejected", "driver_id", driverID, "error", err)
			}
		case "set_availability":
			var p struct {
				Available bool `json:"available"`
			}
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				continue
			}
			_ = s.engine.SetAvailability(driverID, p.Available)
		default:
			s.logger.Warn("ws unknown command", "driver_id", driverID, "event", cmd.Event)
		}
	}
}
