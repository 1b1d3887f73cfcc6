package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
)

type rideRequestBody struct {
	RiderID     string             `json:"rider_id"`
	VehicleType models.VehicleType `json:"vehicle_type"`
	From        models.Place       `json:"from"`
	To          models.Place       `json:"to"`
	RadiusMiles float64            `json:"radius_miles,omitempty"`
}

func (b rideRequestBody) draft() dispatch.RideDraft {
	return dispatch.RideDraft{
		RiderID:     b.RiderID,
		VehicleType: b.VehicleType,
		From:        b.From,
		To:          b.To,
		RadiusMiles: b.RadiusMiles,
	}
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.RequestRide(r.Context(), body.draft())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleScheduleRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		rideRequestBody
		At       time.Time `json:"at"`
		Timezone string    `json:"timezone"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.RequestScheduledRide(r.Context(), dispatch.ScheduleDraft{
		RideDraft: body.draft(),
		At:        body.At,
		Timezone:  body.Timezone,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleCourierFood(w http.ResponseWriter, r *http.Request) {
	var body struct {
		rideRequestBody
		ReceiverName  string `json:"receiver_name"`
		ReceiverPhone string `json:"receiver_phone"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.RequestCourierFood(r.Context(), dispatch.CourierDraft{
		RideDraft:     body.draft(),
		ReceiverName:  body.ReceiverName,
		ReceiverPhone: body.ReceiverPhone,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleCourierPackage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		rideRequestBody
		ReceiverName  string           `json:"receiver_name"`
		ReceiverPhone string           `json:"receiver_phone"`
		Packages      []models.Package `json:"packages"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.RequestCourierPackage(r.Context(), dispatch.PackageDraft{
		CourierDraft: dispatch.CourierDraft{
			RideDraft:     body.draft(),
			ReceiverName:  body.ReceiverName,
			ReceiverPhone: body.ReceiverPhone,
		},
		Packages: body.Packages,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.engine.Ride(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.AcceptRide(r.Context(), mux.Vars(r)["ride_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.ArrivedPickup(r.Context(), mux.Vars(r)["ride_id"], body.DriverID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.StartRide(r.Context(), mux.Vars(r)["ride_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAddStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RiderID string       `json:"rider_id"`
		Loc     models.Coord `json:"loc"`
		Address string       `json:"address"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.AddStop(r.Context(), mux.Vars(r)["ride_id"], body.RiderID, body.Loc, body.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID  string   `json:"driver_id"`
		FinalFare *float64 `json:"final_fare,omitempty"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.EndRide(r.Context(), mux.Vars(r)["ride_id"], body.DriverID, body.FinalFare)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		By     string `json:"by"`
		ByID   string `json:"by_id"`
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	ride, err := s.engine.CancelRide(r.Context(), mux.Vars(r)["ride_id"],
		dispatch.Actor{Role: body.By, ID: body.ByID}, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleEstimateFare(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VehicleType models.VehicleType `json:"vehicle_type"`
		From        models.Coord       `json:"from"`
		To          models.Coord       `json:"to"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	dist, amount, err := s.engine.EstimateFare(body.VehicleType, body.From, body.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"distance_miles": dist,
		"fare_usd":       amount,
	})
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	if errLon != nil || errLat != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_coordinates", Message: "lon and lat query parameters are required numbers"})
		return
	}
	radius, _ := strconv.ParseFloat(q.Get("radius"), 64)
	results, err := s.engine.NearbyDrivers(models.Coord{Lon: lon, Lat: lat}, radius)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"drivers": results})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if !s.decode(w, r, &loc) {
		return
	}
	if s.kafka != nil {
		if err := s.kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("location publish failed", "driver_id", loc.DriverID, "error", err)
		}
	}
	if err := s.engine.UpdateLocation(loc.DriverID, loc.Loc, loc.Available); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID  string `json:"driver_id"`
		Available bool   `json:"available"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.SetAvailability(body.DriverID, body.Available); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if !s.decode(w, r, &v) {
		return
	}
	v.DriverID = mux.Vars(r)["driver_id"]
	if !v.RideOption.Valid() {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_vehicle_type", Message: "unknown ride_option"})
		return
	}
	if err := s.vehicles.Upsert(r.Context(), &v); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RatesPerMile       map[models.VehicleType]float64 `json:"rates_per_mile"`
		CourierFoodRate    float64                        `json:"courier_food_rate"`
		AddStopRate        float64                        `json:"add_stop_rate"`
		DefaultRadiusMiles float64                        `json:"default_radius_miles"`
		MaxNotifyDrivers   int                            `json:"max_notify_drivers"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if len(body.RatesPerMile) == 0 || body.DefaultRadiusMiles <= 0 || body.MaxNotifyDrivers <= 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_config", Message: "rates, radius, and notify cap are required"})
		return
	}
	s.pricing.Update(config.RideConfig{
		RatesPerMile:       body.RatesPerMile,
		CourierFoodRate:    body.CourierFoodRate,
		AddStopRate:        body.AddStopRate,
		DefaultRadiusMiles: body.DefaultRadiusMiles,
		MaxNotifyDrivers:   body.MaxNotifyDrivers,
	})
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_json", Message: err.Error()})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var de *dispatch.Error
	if errors.As(err, &de) {
		s.writeJSON(w, statusForKind(de.Kind), errorBody{Code: de.Code, Message: de.Message})
		return
	}
	s.logger.Error("internal error", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
}

func statusForKind(k dispatch.Kind) int {
	switch k {
	case dispatch.KindValidation:
		return http.StatusBadRequest
	case dispatch.KindUnauthorized:
		return http.StatusForbidden
	case dispatch.KindConflict:
		return http.StatusConflict
	case dispatch.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
