package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/storage"
)

// Server is the HTTP/WebSocket transport over the dispatch engine. It
// owns routing, request decoding, and error-to-status mapping; all ride
// semantics live in the engine.
type Server struct {
	engine   *dispatch.Engine
	gateway  *realtime.Gateway
	vehicles storage.VehicleStore
	pricing  *config.Provider
	kafka    *ingest.KafkaProducer // nil when ingest is disabled
	logger   *slog.Logger
	router   *mux.Router
}

func NewServer(engine *dispatch.Engine, gateway *realtime.Gateway, vehicles storage.VehicleStore, pricing *config.Provider, kafka *ingest.KafkaProducer, logger *slog.Logger) *Server {
	s := &Server{
		engine:   engine,
		gateway:  gateway,
		vehicles: vehicles,
		pricing:  pricing,
		kafka:    kafka,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rides/request", s.handleRequestRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/schedule", s.handleScheduleRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/courier/food", s.handleCourierFood).Methods(http.MethodPost)
	api.HandleFunc("/rides/courier/package", s.handleCourierPackage).Methods(http.MethodPost)

	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/arrive", s.handleArrive).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/stops", s.handleAddStop).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/end", s.handleEnd).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancel).Methods(http.MethodPost)

	api.HandleFunc("/fare/estimate", s.handleEstimateFare).Methods(http.MethodPost)
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods(http.MethodGet)

	s.router.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.router.HandleFunc("/internal/driver/availability", s.handleAvailability).Methods(http.MethodPost)
	s.router.HandleFunc("/internal/drivers/{driver_id}/vehicle", s.handleUpsertVehicle).Methods(http.MethodPut)
	s.router.HandleFunc("/internal/config/pricing", s.handleUpdatePricing).Methods(http.MethodPut)

	s.router.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.router.HandleFunc("/ws/user/{user_id}", s.handleUserWS)

	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }
