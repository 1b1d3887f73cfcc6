package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Gateway events the engine emits to clients.
const (
	EventNewRequest     = "new_request"
	EventRideTaken      = "ride_taken"
	EventRideAccepted   = "ride_accepted"
	EventDriverArrived  = "driver_arrived_pickup"
	EventRideStarted    = "ride_started"
	EventStopAdded      = "stop_added"
	EventFareUpdated    = "fare_updated"
	EventRideCompleted  = "ride_completed"
	EventRideCancelled  = "ride_cancelled"
	EventDriverLocation = "driver_location_update"
	EventNearbyDrivers  = "nearby_drivers_update"
)

// Broadcaster is the slice of the realtime gateway the engine needs.
type Broadcaster interface {
	EmitToRoom(room, event string, payload any) int
	JoinRoomMembers(src, dst string)
}

// Notifier schedules fire-and-forget push notifications.
type Notifier interface {
	Enqueue(recipientID string, n notify.Notification)
}

// PaymentGateway is the opaque payment collaborator. All calls are
// best-effort relative to the ride transition that triggers them.
type PaymentGateway interface {
	Hold(ctx context.Context, rideID string, amountUSD float64, customerID string) (holdID string, err error)
	Capture(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID string) error
}

// Engine owns the ride state machine: request creation, candidate
// fan-out, the acceptance race, and every lifecycle transition.
type Engine struct {
	Geo      geo.Geo
	Rides    storage.RideStore
	Vehicles storage.VehicleStore
	Gateway  Broadcaster
	Notifier Notifier
	Fare     *fare.Calculator
	Config   *config.Provider
	Payments PaymentGateway // optional
	Logger   *slog.Logger

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time

	holds holdTable
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// RideDraft is a rider's request for an instant ride.
type RideDraft struct {
	RiderID     string
	VehicleType models.VehicleType
	From        models.Place
	To          models.Place
	RadiusMiles float64 // 0 uses the configured default
}

// ScheduleDraft adds a target time for a scheduled ride. At is
// interpreted in Timezone and stored in UTC.
type ScheduleDraft struct {
	RideDraft
	At       time.Time
	Timezone string
}

// CourierDraft adds delivery fields for courier-food rides.
type CourierDraft struct {
	RideDraft
	ReceiverName  string
	ReceiverPhone string
}

// PackageDraft adds the parcel breakdown for courier-package rides.
type PackageDraft struct {
	CourierDraft
	Packages []models.Package
}

// RequestRide creates an instant ride, persists it as pending, and
// fans the offer out to eligible nearby drivers.
func (e *Engine) RequestRide(ctx context.Context, d RideDraft) (*models.Ride, error) {
	ride, err := e.buildRide(d, models.RideInstant)
	if err != nil {
		return nil, err
	}
	return e.createAndFanOut(ctx, ride, d.RadiusMiles)
}

// RequestScheduledRide creates a ride with a future target time and an
// initialized reminder tracker. Matching works exactly like an instant
// ride; the reminder scanner takes over once a driver has accepted.
func (e *Engine) RequestScheduledRide(ctx context.Context, d ScheduleDraft) (*models.Ride, error) {
	ride, err := e.buildRide(d.RideDraft, models.RideSchedule)
	if err != nil {
		return nil, err
	}
	if d.At.IsZero() {
		return nil, validationErr("invalid_schedule", "scheduled time is required")
	}
	if !d.At.After(e.now()) {
		return nil, validationErr("invalid_schedule", "scheduled time must be in the future")
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return nil, validationErr("invalid_schedule", "unknown timezone %q", d.Timezone)
		}
	}
	ride.Schedule = &models.ScheduleMeta{At: d.At.UTC(), Timezone: d.Timezone}
	return e.createAndFanOut(ctx, ride, d.RadiusMiles)
}

// RequestCourierFood creates a food delivery: base distance fare plus
// the flat courier-food surcharge from the live config.
func (e *Engine) RequestCourierFood(ctx context.Context, d CourierDraft) (*models.Ride, error) {
	ride, err := e.buildRide(d.RideDraft, models.RideCourierFood)
	if err != nil {
		return nil, err
	}
	ride.FareFoodUSD = e.Fare.CourierFoodSurcharge()
	ride.Delivery = &models.DeliveryMeta{
		ReceiverName:  d.ReceiverName,
		ReceiverPhone: d.ReceiverPhone,
	}
	return e.createAndFanOut(ctx, ride, d.RadiusMiles)
}

// RequestCourierPackage creates a package delivery priced by billable
// weight on top of the distance fare.
func (e *Engine) RequestCourierPackage(ctx context.Context, d PackageDraft) (*models.Ride, error) {
	ride, err := e.buildRide(d.RideDraft, models.RideCourierPackage)
	if err != nil {
		return nil, err
	}
	if len(d.Packages) == 0 {
		return nil, validationErr("invalid_packages", "at least one package is required")
	}
	for i, p := range d.Packages {
		if p.WeightLb < 0 || p.VolumeIn3 < 0 || !finite(p.WeightLb) || !finite(p.VolumeIn3) {
			return nil, validationErr("invalid_packages", "package %d has invalid weight or volume", i)
		}
	}
	ride.FarePackageUSD = e.Fare.PackageFare(d.Packages)
	ride.Delivery = &models.DeliveryMeta{
		ReceiverName:  d.ReceiverName,
		ReceiverPhone: d.ReceiverPhone,
		Packages:      d.Packages,
	}
	return e.createAndFanOut(ctx, ride, d.RadiusMiles)
}

func (e *Engine) buildRide(d RideDraft, rideType models.RideType) (*models.Ride, error) {
	if d.RiderID == "" {
		return nil, validationErr("missing_rider", "rider_id is required")
	}
	if !d.VehicleType.Valid() {
		return nil, validationErr("invalid_vehicle_type", "unknown vehicle type %q", d.VehicleType)
	}
	if err := validatePoint("from", d.From.Loc); err != nil {
		return nil, err
	}
	if err := validatePoint("to", d.To.Loc); err != nil {
		return nil, err
	}
	dist := fare.HaversineMiles(d.From.Loc, d.To.Loc)
	return &models.Ride{
		RiderID:       d.RiderID,
		RideType:      rideType,
		VehicleType:   d.VehicleType,
		From:          d.From,
		To:            d.To,
		DistanceMiles: dist,
		FareUSD:       e.Fare.Calculate(d.VehicleType, dist),
		Status:        models.StatusPending,
	}, nil
}

func (e *Engine) createAndFanOut(ctx context.Context, ride *models.Ride, radiusOverride float64) (*models.Ride, error) {
	if err := e.Rides.Create(ctx, ride); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	e.appendEvent(ctx, ride.ID, "ride_requested", map[string]string{
		"rider_id":  ride.RiderID,
		"ride_type": string(ride.RideType),
	})
	observability.RidesRequestedTotal.WithLabelValues(string(ride.RideType)).Inc()

	e.fanOut(ctx, ride, radiusOverride)
	return ride, nil
}

// fanOut broadcasts the offer to every geographically eligible driver
// whose registered vehicle matches the requested class. All candidates
// are notified simultaneously; the acceptance race decides the winner.
func (e *Engine) fanOut(ctx context.Context, ride *models.Ride, radiusOverride float64) {
	start := time.Now()
	defer func() { observability.DispatchLatency.Observe(time.Since(start).Seconds()) }()

	cfg := e.Config.Current()
	radius := cfg.DefaultRadiusMiles
	if radiusOverride > 0 {
		radius = radiusOverride
	}
	candidates := e.Geo.Nearby(ride.From.Loc, radius, cfg.MaxNotifyDrivers, true)

	notified := 0
	for _, cand := range candidates {
		veh, err := e.Vehicles.FindByDriver(ctx, cand.DriverID)
		if err != nil || veh.RideOption != ride.VehicleType {
			continue
		}
		offer := offerPayload(ride, cand.DistanceMiles)
		e.Gateway.EmitToRoom(driverRoom(cand.DriverID), EventNewRequest, offer)
		e.Notifier.Enqueue(cand.DriverID, notify.Notification{
			Title:    "New ride request",
			Body:     fmt.Sprintf("Pickup %.1f miles away, fare $%.2f", cand.DistanceMiles, totalFare(ride)),
			SenderID: ride.RiderID,
			Data:     map[string]string{"ride_id": ride.ID, "kind": "new_request"},
		})
		notified++
		observability.OffersFanoutTotal.Inc()
	}
	e.Logger.Info("ride fan-out",
		"ride_id", ride.ID,
		"ride_type", ride.RideType,
		"candidates", len(candidates),
		"notified", notified,
		"radius_miles", radius)
}

// EstimateFare prices a prospective trip without creating a ride.
func (e *Engine) EstimateFare(vehicleType models.VehicleType, from, to models.Coord) (distanceMiles, fareUSD float64, err error) {
	if !vehicleType.Valid() {
		return 0, 0, validationErr("invalid_vehicle_type", "unknown vehicle type %q", vehicleType)
	}
	if err := validatePoint("from", from); err != nil {
		return 0, 0, err
	}
	if err := validatePoint("to", to); err != nil {
		return 0, 0, err
	}
	dist := fare.HaversineMiles(from, to)
	return dist, e.Fare.Calculate(vehicleType, dist), nil
}

// NearbyDrivers serves client map queries from the live index.
func (e *Engine) NearbyDrivers(center models.Coord, radiusMiles float64) ([]geo.Result, error) {
	if err := validatePoint("center", center); err != nil {
		return nil, err
	}
	cfg := e.Config.Current()
	if radiusMiles <= 0 {
		radiusMiles = cfg.DefaultRadiusMiles
	}
	return e.Geo.Nearby(center, radiusMiles, cfg.MaxNotifyDrivers, true), nil
}

// UpdateLocation records a driver position tick and, when the driver is
// on a ride, streams it to the ride room so the rider sees movement.
func (e *Engine) UpdateLocation(driverID string, loc models.Coord, available bool) error {
	if driverID == "" {
		return validationErr("missing_driver", "driver_id is required")
	}
	if err := validatePoint("loc", loc); err != nil {
		return err
	}
	e.Geo.Upsert(driverID, &loc, available, nil)
	if entry, ok := e.Geo.Get(driverID); ok {
		if rideID := entry.Meta[geo.MetaCurrentRide]; rideID != "" {
			e.Gateway.EmitToRoom(rideRoom(rideID), EventDriverLocation, map[string]any{
				"driver_id": driverID,
				"loc":       loc,
			})
		}
	}
	return nil
}

// SetAvailability toggles a driver's availability without moving them.
func (e *Engine) SetAvailability(driverID string, available bool) error {
	if driverID == "" {
		return validationErr("missing_driver", "driver_id is required")
	}
	e.Geo.Upsert(driverID, nil, available, nil)
	if available {
		observability.DriversOnline.Inc()
	} else {
		observability.DriversOnline.Dec()
	}
	return nil
}

func (e *Engine) appendEvent(ctx context.Context, rideID, eventType string, data map[string]string) {
	ev := models.Event{Type: eventType, At: e.now(), Data: data}
	if err := e.Rides.AppendEvent(ctx, rideID, ev); err != nil {
		e.Logger.Warn("audit event append failed", "ride_id", rideID, "event", eventType, "error", err)
	}
}

func validatePoint(field string, c models.Coord) error {
	if !finite(c.Lon) || !finite(c.Lat) {
		return validationErr("invalid_coordinates", "%s coordinates must be finite numbers", field)
	}
	if c.Lon < -180 || c.Lon > 180 || c.Lat < -90 || c.Lat > 90 {
		return validationErr("invalid_coordinates", "%s coordinates out of range", field)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func totalFare(r *models.Ride) float64 {
	return r.FareUSD + r.FareFoodUSD + r.FarePackageUSD
}

func offerPayload(r *models.Ride, distanceFromDriver float64) map[string]any {
	return map[string]any{
		"ride_id":              r.ID,
		"rider_id":             r.RiderID,
		"ride_type":            r.RideType,
		"vehicle_type":         r.VehicleType,
		"from":                 r.From,
		"to":                   r.To,
		"distance_miles":       r.DistanceMiles,
		"fare_usd":             totalFare(r),
		"driver_distance_miles": distanceFromDriver,
	}
}

func userRoom(id string) string   { return "user:" + id }
func driverRoom(id string) string { return "driver:" + id }
func rideRoom(id string) string   { return "ride:" + id }
