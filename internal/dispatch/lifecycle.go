package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// holdTable tracks payment holds per ride. It is a UX/bookkeeping aid
// only; losing it on restart costs a manual reconciliation, never
// correctness of the ride state machine.
type holdTable struct {
	mu    sync.Mutex
	byRide map[string]string
}

func (h *holdTable) put(rideID, holdID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byRide == nil {
		h.byRide = make(map[string]string)
	}
	h.byRide[rideID] = holdID
}

func (h *holdTable) take(rideID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.byRide[rideID]
	if ok {
		delete(h.byRide, rideID)
	}
	return id, ok
}

// AcceptRide is the acceptance race. The storage-layer conditional
// update is the sole arbiter: the first driver whose CAS lands wins,
// everyone else gets ErrRideTaken. The engine never retries.
func (e *Engine) AcceptRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	observability.AcceptAttemptsTotal.Inc()

	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	// Vehicle gate is re-checked at accept time: the driver's fleet may
	// have changed since fan-out, and several ride types can be in
	// flight at once.
	veh, err := e.Vehicles.FindByDriver(ctx, driverID)
	if err == storage.ErrNotFound {
		return nil, validationErr("no_vehicle", "driver %s has no registered vehicle", driverID)
	}
	if err != nil {
		return nil, fmt.Errorf("load vehicle: %w", err)
	}
	if veh.RideOption != ride.VehicleType {
		return nil, ErrVehicleMismatch
	}

	updated, won, err := e.Rides.AssignDriverIfUnassigned(ctx, rideID, driverID)
	if err == storage.ErrNotFound {
		return nil, notFoundErr("ride_not_found", "ride %s not found", rideID)
	}
	if err != nil {
		return nil, fmt.Errorf("assign driver: %w", err)
	}
	if !won {
		observability.AcceptConflictsTotal.Inc()
		return nil, ErrRideTaken
	}

	e.appendEvent(ctx, rideID, "driver_accepted", map[string]string{"driver_id": driverID})

	// Pull both parties into the ride room so subsequent ride-scoped
	// events reach them without re-addressing.
	e.Gateway.JoinRoomMembers(driverRoom(driverID), rideRoom(rideID))
	e.Gateway.JoinRoomMembers(userRoom(updated.RiderID), rideRoom(rideID))

	// The availability flag is a UX hint; the CAS above already settled
	// correctness.
	e.Geo.Upsert(driverID, nil, false, map[string]string{geo.MetaCurrentRide: rideID})

	stats, err := e.Rides.DriverStats(ctx, driverID)
	if err != nil {
		e.Logger.Warn("driver stats lookup failed", "driver_id", driverID, "error", err)
	}

	payload := map[string]any{
		"ride_id":   rideID,
		"driver_id": driverID,
		"vehicle":   veh,
		"stats":     stats,
		"fare_usd":  totalFare(updated),
		"status":    updated.Status,
	}
	e.Gateway.EmitToRoom(userRoom(updated.RiderID), EventRideAccepted, payload)
	e.Gateway.EmitToRoom(rideRoom(rideID), EventRideAccepted, payload)

	e.retractFromLosers(updated, driverID)
	e.holdFare(ctx, updated)

	e.Notifier.Enqueue(updated.RiderID, notify.Notification{
		Title:    "Driver on the way",
		Body:     fmt.Sprintf("%s %s is heading to your pickup", veh.Make, veh.Model),
		SenderID: driverID,
		Data:     map[string]string{"ride_id": rideID, "kind": "ride_accepted"},
	})

	e.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	return updated, nil
}

// retractFromLosers tells every other nearby driver the offer is gone
// so client UIs can withdraw it. Pure best-effort.
func (e *Engine) retractFromLosers(ride *models.Ride, winnerID string) {
	cfg := e.Config.Current()
	nearby := e.Geo.Nearby(ride.From.Loc, cfg.DefaultRadiusMiles, cfg.MaxNotifyDrivers, true)
	for _, cand := range nearby {
		if cand.DriverID == winnerID {
			continue
		}
		e.Gateway.EmitToRoom(driverRoom(cand.DriverID), EventRideTaken, map[string]any{
			"ride_id": ride.ID,
		})
	}
}

func (e *Engine) holdFare(ctx context.Context, ride *models.Ride) {
	if e.Payments == nil {
		return
	}
	holdID, err := e.Payments.Hold(ctx, ride.ID, totalFare(ride), ride.RiderID)
	if err != nil {
		e.Logger.Warn("payment hold failed", "ride_id", ride.ID, "error", err)
		return
	}
	e.holds.put(ride.ID, holdID)
}

// ArrivedPickup records the driver reaching the pickup point. The ride
// stays accepted; this is an audit event plus broadcast only.
func (e *Engine) ArrivedPickup(ctx context.Context, rideID, driverID string) error {
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return err
	}
	if err := requireAssignedDriver(ride, driverID); err != nil {
		return err
	}
	if ride.Status.Terminal() {
		return conflictErr("ride_closed", "ride %s is already %s", rideID, ride.Status)
	}

	e.appendEvent(ctx, rideID, "driver_arrived_pickup", map[string]string{"driver_id": driverID})
	e.Gateway.EmitToRoom(rideRoom(rideID), EventDriverArrived, map[string]any{
		"ride_id":   rideID,
		"driver_id": driverID,
	})
	e.Notifier.Enqueue(ride.RiderID, notify.Notification{
		Title:    "Your driver has arrived",
		Body:     "Your driver is waiting at the pickup point",
		SenderID: driverID,
		Data:     map[string]string{"ride_id": rideID, "kind": "driver_arrived"},
	})
	return nil
}

// StartRide moves an accepted ride to ongoing. Starting from any other
// state is rejected.
func (e *Engine) StartRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := requireAssignedDriver(ride, driverID); err != nil {
		return nil, err
	}
	if ride.Status != models.StatusAccepted {
		return nil, conflictErr("not_startable", "ride %s cannot start from status %s", rideID, ride.Status)
	}

	updated, err := e.Rides.UpdateStatus(ctx, rideID, models.StatusOngoing, storage.StatusUpdate{})
	if err != nil {
		return nil, fmt.Errorf("start ride: %w", err)
	}
	e.appendEvent(ctx, rideID, "ride_started", map[string]string{"driver_id": driverID})
	e.Gateway.EmitToRoom(rideRoom(rideID), EventRideStarted, map[string]any{
		"ride_id": rideID,
		"status":  updated.Status,
	})
	e.Notifier.Enqueue(ride.RiderID, notify.Notification{
		Title:    "Ride started",
		Body:     "Your ride is underway",
		SenderID: driverID,
		Data:     map[string]string{"ride_id": rideID, "kind": "ride_started"},
	})
	return updated, nil
}

// AddStop appends a waypoint to an ongoing ride and applies the flat
// stop surcharge. Only the ride's own rider may add stops.
func (e *Engine) AddStop(ctx context.Context, rideID, riderID string, loc models.Coord, address string) (*models.Ride, error) {
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != riderID {
		return nil, unauthorizedErr("not_your_ride", "only the ride's rider may add stops")
	}
	if ride.Status != models.StatusOngoing {
		return nil, conflictErr("not_ongoing", "stops can only be added to an ongoing ride (status is %s)", ride.Status)
	}
	if err := validatePoint("stop", loc); err != nil {
		return nil, err
	}

	surcharge := e.Fare.AddStopSurcharge()
	stop := models.Stop{Loc: loc, Address: address, At: e.now()}
	updated, err := e.Rides.AddStop(ctx, rideID, stop, surcharge)
	if err != nil {
		return nil, fmt.Errorf("add stop: %w", err)
	}
	e.appendEvent(ctx, rideID, "stop_added", map[string]string{
		"rider_id": riderID,
		"address":  address,
	})

	if ride.DriverID != "" {
		e.Notifier.Enqueue(ride.DriverID, notify.Notification{
			Title:    "Stop added",
			Body:     "The rider added a stop to the route",
			SenderID: riderID,
			Data:     map[string]string{"ride_id": rideID, "kind": "stop_added"},
		})
	}
	e.Gateway.EmitToRoom(rideRoom(rideID), EventStopAdded, map[string]any{
		"ride_id": rideID,
		"stop":    stop,
	})
	e.Gateway.EmitToRoom(rideRoom(rideID), EventFareUpdated, map[string]any{
		"ride_id":  rideID,
		"fare_usd": totalFare(updated),
	})
	return updated, nil
}

// EndRide completes an ongoing ride, optionally overriding the final
// fare, and releases the driver back into the available pool.
func (e *Engine) EndRide(ctx context.Context, rideID, driverID string, finalFare *float64) (*models.Ride, error) {
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := requireAssignedDriver(ride, driverID); err != nil {
		return nil, err
	}
	if ride.Status.Terminal() {
		return nil, conflictErr("ride_closed", "ride %s is already %s", rideID, ride.Status)
	}
	if ride.Status != models.StatusOngoing {
		return nil, conflictErr("not_ongoing", "ride %s cannot complete from status %s", rideID, ride.Status)
	}
	if finalFare != nil && (*finalFare < 0 || !finite(*finalFare)) {
		return nil, validationErr("invalid_fare", "final fare must be a non-negative number")
	}

	updated, err := e.Rides.UpdateStatus(ctx, rideID, models.StatusCompleted, storage.StatusUpdate{FareUSD: finalFare})
	if err != nil {
		return nil, fmt.Errorf("end ride: %w", err)
	}
	e.appendEvent(ctx, rideID, "ride_completed", map[string]string{
		"driver_id": driverID,
		"fare_usd":  fmt.Sprintf("%.2f", totalFare(updated)),
	})
	observability.RidesCompletedTotal.Inc()

	e.Geo.Upsert(driverID, nil, true, map[string]string{geo.MetaCurrentRide: ""})

	e.Gateway.EmitToRoom(rideRoom(rideID), EventRideCompleted, map[string]any{
		"ride_id":  rideID,
		"fare_usd": totalFare(updated),
		"status":   updated.Status,
	})

	if holdID, ok := e.holds.take(rideID); ok && e.Payments != nil {
		if err := e.Payments.Capture(ctx, holdID); err != nil {
			e.Logger.Warn("payment capture failed", "ride_id", rideID, "hold_id", holdID, "error", err)
		}
	}

	e.Notifier.Enqueue(updated.RiderID, notify.Notification{
		Title:    "Ride completed",
		Body:     fmt.Sprintf("Total fare $%.2f", totalFare(updated)),
		SenderID: driverID,
		Data:     map[string]string{"ride_id": rideID, "kind": "ride_completed"},
	})
	return updated, nil
}

// Actor identifies who is cancelling a ride.
type Actor struct {
	Role string // "user" or "driver"
	ID   string
}

// CancelRide cancels immediately once authorization and terminal-state
// checks pass. The rider may cancel their own ride at any pre-terminal
// point; a driver may cancel only the ride assigned to them.
func (e *Engine) CancelRide(ctx context.Context, rideID string, actor Actor, reason string) (*models.Ride, error) {
	if actor.Role != "user" && actor.Role != "driver" {
		return nil, validationErr("invalid_actor", "cancellation actor must be user or driver")
	}
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status.Terminal() {
		return nil, conflictErr("ride_closed", "ride %s is already %s", rideID, ride.Status)
	}
	switch actor.Role {
	case "user":
		if ride.RiderID != actor.ID {
			return nil, unauthorizedErr("not_your_ride", "only the ride's rider may cancel it")
		}
	case "driver":
		if ride.DriverID == "" || ride.DriverID != actor.ID {
			return nil, unauthorizedErr("not_your_ride", "only the assigned driver may cancel this ride")
		}
	}

	cancellation := &models.Cancellation{By: actor.Role, ByID: actor.ID, Reason: reason, At: e.now()}
	updated, err := e.Rides.UpdateStatus(ctx, rideID, models.StatusCancelled, storage.StatusUpdate{Cancellation: cancellation})
	if err != nil {
		return nil, fmt.Errorf("cancel ride: %w", err)
	}
	e.appendEvent(ctx, rideID, "ride_cancelled", map[string]string{
		"by":     actor.Role,
		"by_id":  actor.ID,
		"reason": reason,
	})
	observability.RidesCancelledTotal.WithLabelValues(actor.Role).Inc()

	if ride.DriverID != "" {
		e.Geo.Upsert(ride.DriverID, nil, true, map[string]string{geo.MetaCurrentRide: ""})
	}

	e.Gateway.EmitToRoom(rideRoom(rideID), EventRideCancelled, map[string]any{
		"ride_id":      rideID,
		"cancellation": cancellation,
	})

	if holdID, ok := e.holds.take(rideID); ok && e.Payments != nil {
		if err := e.Payments.Release(ctx, holdID); err != nil {
			e.Logger.Warn("payment release failed", "ride_id", rideID, "hold_id", holdID, "error", err)
		}
	}

	// notify the counterparty
	n := notify.Notification{
		Title:    "Ride cancelled",
		Body:     "The ride was cancelled",
		SenderID: actor.ID,
		Data:     map[string]string{"ride_id": rideID, "kind": "ride_cancelled"},
	}
	if actor.Role == "user" && ride.DriverID != "" {
		e.Notifier.Enqueue(ride.DriverID, n)
	} else if actor.Role == "driver" {
		e.Notifier.Enqueue(ride.RiderID, n)
	}

	e.Logger.Info("ride cancelled", "ride_id", rideID, "by", actor.Role, "by_id", actor.ID)
	return updated, nil
}

// Ride fetches a ride for transport-layer reads.
func (e *Engine) Ride(ctx context.Context, rideID string) (*models.Ride, error) {
	return e.loadRide(ctx, rideID)
}

func (e *Engine) loadRide(ctx context.Context, rideID string) (*models.Ride, error) {
	ride, err := e.Rides.FindByID(ctx, rideID)
	if err == storage.ErrNotFound {
		return nil, notFoundErr("ride_not_found", "ride %s not found", rideID)
	}
	if err != nil {
		return nil, fmt.Errorf("load ride: %w", err)
	}
	return ride, nil
}

func requireAssignedDriver(ride *models.Ride, driverID string) error {
	if ride.DriverID == "" {
		return conflictErr("no_driver", "ride %s has no assigned driver", ride.ID)
	}
	if ride.DriverID != driverID {
		return unauthorizedErr("not_your_ride", "driver %s is not assigned to ride %s", driverID, ride.ID)
	}
	return nil
}
