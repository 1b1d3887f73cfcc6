package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

type emitted struct {
	room  string
	event string
}

type recGateway struct {
	mu    sync.Mutex
	emits []emitted
	joins [][2]string
}

func (g *recGateway) EmitToRoom(room, event string, payload any) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emits = append(g.emits, emitted{room: room, event: event})
	return 1
}

func (g *recGateway) JoinRoomMembers(src, dst string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joins = append(g.joins, [2]string{src, dst})
}

func (g *recGateway) eventsTo(room string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, e := range g.emits {
		if e.room == room {
			out = append(out, e.event)
		}
	}
	return out
}

func (g *recGateway) count(room, event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.emits {
		if e.room == room && e.event == event {
			n++
		}
	}
	return n
}

type sentNote struct {
	recipient string
	n         notify.Notification
}

type recNotifier struct {
	mu    sync.Mutex
	notes []sentNote
}

func (r *recNotifier) Enqueue(recipientID string, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, sentNote{recipient: recipientID, n: n})
}

func (r *recNotifier) to(recipientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.recipient == recipientID {
			n++
		}
	}
	return n
}

type testRig struct {
	engine   *Engine
	store    *storage.MemoryStore
	index    *geo.Index
	gateway  *recGateway
	notifier *recNotifier
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	store := storage.NewMemoryStore()
	index := geo.NewIndex()
	gateway := &recGateway{}
	notifier := &recNotifier{}
	provider := config.NewProvider(config.RideConfig{
		RatesPerMile: map[models.VehicleType]float64{
			models.VehicleCarStandard: 2.0,
			models.VehicleCarDeluxe:   3.5,
			models.VehicleMotorcycle:  1.0,
		},
		CourierFoodRate:    3.0,
		AddStopRate:        2.0,
		DefaultRadiusMiles: 5,
		MaxNotifyDrivers:   8,
	})
	engine := &Engine{
		Geo:      index,
		Rides:    store,
		Vehicles: store,
		Gateway:  gateway,
		Notifier: notifier,
		Fare:     fare.NewCalculator(provider),
		Config:   provider,
		Logger:   logging.NewNop(),
	}
	return &testRig{engine: engine, store: store, index: index, gateway: gateway, notifier: notifier}
}

// registerDriver adds a vehicle and a live position latOffset degrees
// north of the origin (~69 miles per degree).
func (r *testRig) registerDriver(t *testing.T, driverID string, vt models.VehicleType, latOffset float64) {
	t.Helper()
	if err := r.store.Upsert(context.Background(), &models.Vehicle{DriverID: driverID, RideOption: vt}); err != nil {
		t.Fatalf("vehicle upsert: %v", err)
	}
	r.index.Upsert(driverID, &models.Coord{Lon: 0, Lat: latOffset}, true, nil)
}

func instantDraft() RideDraft {
	return RideDraft{
		RiderID:     "rider-1",
		VehicleType: models.VehicleCarStandard,
		From:        models.Place{Loc: models.Coord{Lon: 0, Lat: 0}, Address: "Origin St"},
		To:          models.Place{Loc: models.Coord{Lon: 0, Lat: 0.1}, Address: "Target Ave"},
	}
}

func TestRequestRideCreatesPendingWithFare(t *testing.T) {
	rig := newRig(t)
	ride, err := rig.engine.RequestRide(context.Background(), instantDraft())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if ride.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", ride.Status)
	}
	if ride.DistanceMiles <= 6.8 || ride.DistanceMiles >= 7.0 {
		t.Fatalf("unexpected distance %v", ride.DistanceMiles)
	}
	if ride.FareUSD <= 0 {
		t.Fatalf("expected positive fare, got %v", ride.FareUSD)
	}
	stored, err := rig.store.FindByID(context.Background(), ride.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(stored.Events) != 1 || stored.Events[0].Type != "ride_requested" {
		t.Fatalf("expected ride_requested audit event, got %+v", stored.Events)
	}
}

func TestRequestRideRejectsInvalidInput(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	d := instantDraft()
	d.From.Loc.Lat = 91
	if _, err := rig.engine.RequestRide(ctx, d); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for bad latitude, got %v", err)
	}

	d = instantDraft()
	d.VehicleType = "tank"
	if _, err := rig.engine.RequestRide(ctx, d); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for vehicle type, got %v", err)
	}

	d = instantDraft()
	d.RiderID = ""
	if _, err := rig.engine.RequestRide(ctx, d); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for missing rider, got %v", err)
	}
}

func TestFanOutVehicleGating(t *testing.T) {
	rig := newRig(t)
	rig.registerDriver(t, "match", models.VehicleCarStandard, 0.01)
	rig.registerDriver(t, "wrong-vehicle", models.VehicleCarDeluxe, 0.01)
	rig.registerDriver(t, "too-far", models.VehicleCarStandard, 1.0)

	if _, err := rig.engine.RequestRide(context.Background(), instantDraft()); err != nil {
		t.Fatalf("request: %v", err)
	}

	if got := rig.gateway.count("driver:match", EventNewRequest); got != 1 {
		t.Fatalf("matching driver should get 1 offer, got %d", got)
	}
	if got := rig.gateway.count("driver:wrong-vehicle", EventNewRequest); got != 0 {
		t.Fatalf("deluxe driver must not receive a car_standard offer, got %d", got)
	}
	if got := rig.gateway.count("driver:too-far", EventNewRequest); got != 0 {
		t.Fatalf("out-of-radius driver must not receive an offer, got %d", got)
	}
	if rig.notifier.to("match") != 1 || rig.notifier.to("wrong-vehicle") != 0 {
		t.Fatal("push notifications must follow the same gating")
	}
}

func TestAcceptRideVehicleMismatch(t *testing.T) {
	rig := newRig(t)
	rig.registerDriver(t, "deluxe", models.VehicleCarDeluxe, 0.01)
	ride, err := rig.engine.RequestRide(context.Background(), instantDraft())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_, err = rig.engine.AcceptRide(context.Background(), ride.ID, "deluxe")
	if err != ErrVehicleMismatch {
		t.Fatalf("expected ErrVehicleMismatch, got %v", err)
	}
	stored, _ := rig.store.FindByID(context.Background(), ride.ID)
	if stored.DriverID != "" || stored.Status != models.StatusPending {
		t.Fatalf("failed accept must not mutate the ride: %+v", stored)
	}
}

func TestAcceptRaceSingleWinner(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	const drivers = 12
	ids := make([]string, drivers)
	for i := range ids {
		ids[i] = fmt.Sprintf("driver-%02d", i)
		rig.registerDriver(t, ids[i], models.VehicleCarStandard, 0.01)
	}
	ride, err := rig.engine.RequestRide(ctx, instantDraft())
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners, conflicts int
	for _, id := range ids {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			_, err := rig.engine.AcceptRide(ctx, ride.ID, driverID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case err == ErrRideTaken:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if winners != 1 || conflicts != drivers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", drivers-1, winners, conflicts)
	}
	stored, _ := rig.store.FindByID(ctx, ride.ID)
	if stored.DriverID == "" || stored.Status != models.StatusAccepted {
		t.Fatalf("ride not assigned exactly once: %+v", stored)
	}
}

func TestAcceptSideEffects(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	rig.registerDriver(t, "winner", models.VehicleCarStandard, 0.01)
	rig.registerDriver(t, "loser", models.VehicleCarStandard, 0.02)

	ride, err := rig.engine.RequestRide(ctx, instantDraft())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := rig.engine.AcceptRide(ctx, ride.ID, "winner"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	entry, ok := rig.index.Get("winner")
	if !ok || entry.Available {
		t.Fatal("winning driver must be marked unavailable")
	}
	if entry.Meta[geo.MetaCurrentRide] != ride.ID {
		t.Fatalf("current ride not stamped: %v", entry.Meta)
	}

	if rig.gateway.count("user:rider-1", EventRideAccepted) != 1 {
		t.Fatal("rider must receive the acceptance payload")
	}
	if rig.gateway.count("driver:loser", EventRideTaken) != 1 {
		t.Fatal("losing nearby driver must receive ride_taken")
	}
	if rig.gateway.count("driver:winner", EventRideTaken) != 0 {
		t.Fatal("winner must not receive ride_taken")
	}

	wantJoins := map[[2]string]bool{
		{"driver:winner", "ride:" + ride.ID}: true,
		{"user:rider-1", "ride:" + ride.ID}:  true,
	}
	for _, j := range rig.gateway.joins {
		delete(wantJoins, j)
	}
	if len(wantJoins) != 0 {
		t.Fatalf("missing ride-room joins: %v", wantJoins)
	}

	stored, _ := rig.store.FindByID(ctx, ride.ID)
	var accepted bool
	for _, ev := range stored.Events {
		if ev.Type == "driver_accepted" {
			accepted = true
		}
	}
	if !accepted {
		t.Fatal("driver_accepted audit event missing")
	}
}

// runToStatus drives a fresh ride through accept (and optionally start,
// end, or cancel) using driver "d-main".
func (rig *testRig) runToStatus(t *testing.T, target models.Status) *models.Ride {
	t.Helper()
	ctx := context.Background()
	rig.registerDriver(t, "d-main", models.VehicleCarStandard, 0.01)
	ride, err := rig.engine.RequestRide(ctx, instantDraft())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if target == models.StatusPending {
		return ride
	}
	if _, err := rig.engine.AcceptRide(ctx, ride.ID, "d-main"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if target == models.StatusAccepted {
		return ride
	}
	if _, err := rig.engine.StartRide(ctx, ride.ID, "d-main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if target == models.StatusOngoing {
		return ride
	}
	switch target {
	case models.StatusCompleted:
		if _, err := rig.engine.EndRide(ctx, ride.ID, "d-main", nil); err != nil {
			t.Fatalf("end: %v", err)
		}
	case models.StatusCancelled:
		if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "user", ID: "rider-1"}, "test"); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	}
	return ride
}

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	for _, terminal := range []models.Status{models.StatusCompleted, models.StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			rig := newRig(t)
			ctx := context.Background()
			ride := rig.runToStatus(t, terminal)

			if _, err := rig.engine.AcceptRide(ctx, ride.ID, "d-main"); err != ErrRideTaken {
				t.Fatalf("accept on terminal ride: expected ErrRideTaken, got %v", err)
			}
			if _, err := rig.engine.StartRide(ctx, ride.ID, "d-main"); !IsKind(err, KindConflict) {
				t.Fatalf("start on terminal ride: expected conflict, got %v", err)
			}
			if err := rig.engine.ArrivedPickup(ctx, ride.ID, "d-main"); !IsKind(err, KindConflict) {
				t.Fatalf("arrive on terminal ride: expected conflict, got %v", err)
			}
			if _, err := rig.engine.AddStop(ctx, ride.ID, "rider-1", models.Coord{Lon: 1, Lat: 1}, ""); !IsKind(err, KindConflict) {
				t.Fatalf("add-stop on terminal ride: expected conflict, got %v", err)
			}
			if _, err := rig.engine.EndRide(ctx, ride.ID, "d-main", nil); !IsKind(err, KindConflict) {
				t.Fatalf("end on terminal ride: expected conflict, got %v", err)
			}
			if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "user", ID: "rider-1"}, ""); !IsKind(err, KindConflict) {
				t.Fatalf("cancel on terminal ride: expected conflict, got %v", err)
			}
		})
	}
}

func TestStartRequiresAcceptedStatus(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusOngoing)

	// already ongoing
	if _, err := rig.engine.StartRide(ctx, ride.ID, "d-main"); !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict starting an ongoing ride, got %v", err)
	}
}

func TestArriveKeepsStatusAccepted(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusAccepted)

	if err := rig.engine.ArrivedPickup(ctx, ride.ID, "d-main"); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	stored, _ := rig.store.FindByID(ctx, ride.ID)
	if stored.Status != models.StatusAccepted {
		t.Fatalf("arrival must not change status, got %s", stored.Status)
	}
	if rig.gateway.count("ride:"+ride.ID, EventDriverArrived) != 1 {
		t.Fatal("arrival broadcast missing")
	}
}

func TestAddStopSurcharge(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusOngoing)

	before, _ := rig.store.FindByID(ctx, ride.ID)
	notesBefore := rig.notifier.to("d-main")
	updated, err := rig.engine.AddStop(ctx, ride.ID, "rider-1", models.Coord{Lon: 0, Lat: 0.05}, "Midway")
	if err != nil {
		t.Fatalf("add stop: %v", err)
	}
	if diff := updated.FareUSD - before.FareUSD; diff != 2.0 {
		t.Fatalf("expected fare +2.00, got +%v", diff)
	}
	if len(updated.Stops) != 1 {
		t.Fatalf("expected exactly one stop, got %d", len(updated.Stops))
	}
	if rig.gateway.count("ride:"+ride.ID, EventStopAdded) != 1 || rig.gateway.count("ride:"+ride.ID, EventFareUpdated) != 1 {
		t.Fatal("stop/fare broadcasts missing")
	}
	if rig.notifier.to("d-main") != notesBefore+1 {
		t.Fatal("assigned driver must be notified of the stop")
	}
}

func TestAddStopRejectedWhenNotOngoing(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusPending)

	if _, err := rig.engine.AddStop(ctx, ride.ID, "rider-1", models.Coord{Lon: 1, Lat: 1}, ""); !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict on pending ride, got %v", err)
	}
	stored, _ := rig.store.FindByID(ctx, ride.ID)
	if len(stored.Stops) != 0 || stored.FareUSD != ride.FareUSD {
		t.Fatalf("rejected add-stop must not mutate: %+v", stored)
	}
}

func TestAddStopAuthorization(t *testing.T) {
	rig := newRig(t)
	ride := rig.runToStatus(t, models.StatusOngoing)
	if _, err := rig.engine.AddStop(context.Background(), ride.ID, "someone-else", models.Coord{Lon: 1, Lat: 1}, ""); !IsKind(err, KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestEndRideReleasesDriverAndOverridesFare(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusOngoing)

	final := 99.5
	updated, err := rig.engine.EndRide(ctx, ride.ID, "d-main", &final)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if updated.Status != models.StatusCompleted || updated.FareUSD != 99.5 {
		t.Fatalf("unexpected completion state: %+v", updated)
	}
	entry, _ := rig.index.Get("d-main")
	if !entry.Available || entry.Meta[geo.MetaCurrentRide] != "" {
		t.Fatalf("driver not released: %+v", entry)
	}
	if rig.gateway.count("ride:"+ride.ID, EventRideCompleted) != 1 {
		t.Fatal("completion broadcast missing")
	}
}

func TestEndRideRequiresOngoing(t *testing.T) {
	rig := newRig(t)
	ride := rig.runToStatus(t, models.StatusAccepted)
	if _, err := rig.engine.EndRide(context.Background(), ride.ID, "d-main", nil); !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict ending an accepted ride, got %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusAccepted)

	if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "user", ID: "impostor"}, ""); !IsKind(err, KindUnauthorized) {
		t.Fatalf("foreign rider cancel: expected unauthorized, got %v", err)
	}
	if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "driver", ID: "other-driver"}, ""); !IsKind(err, KindUnauthorized) {
		t.Fatalf("foreign driver cancel: expected unauthorized, got %v", err)
	}
	if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "admin", ID: "x"}, ""); !IsKind(err, KindValidation) {
		t.Fatalf("unknown role: expected validation, got %v", err)
	}
}

func TestCancelUnassignedRide(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusPending)

	// no driver assigned, so no driver may cancel
	if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "driver", ID: "any"}, ""); !IsKind(err, KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// the rider always can
	updated, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "user", ID: "rider-1"}, "changed my mind")
	if err != nil {
		t.Fatalf("rider cancel: %v", err)
	}
	if updated.Cancellation == nil || updated.Cancellation.By != "user" || updated.Cancellation.Reason != "changed my mind" {
		t.Fatalf("cancellation record wrong: %+v", updated.Cancellation)
	}
}

func TestCancelByDriverNotifiesRider(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	ride := rig.runToStatus(t, models.StatusAccepted)

	before := rig.notifier.to("rider-1")
	if _, err := rig.engine.CancelRide(ctx, ride.ID, Actor{Role: "driver", ID: "d-main"}, "breakdown"); err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	if rig.notifier.to("rider-1") != before+1 {
		t.Fatal("rider must be notified when the driver cancels")
	}
	entry, _ := rig.index.Get("d-main")
	if !entry.Available {
		t.Fatal("driver must be released after cancellation")
	}
}

func TestEstimateFare(t *testing.T) {
	rig := newRig(t)
	dist, amount, err := rig.engine.EstimateFare(models.VehicleCarStandard, models.Coord{Lon: 0, Lat: 0}, models.Coord{Lon: 0, Lat: 0.1})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if dist <= 6.8 || dist >= 7.0 {
		t.Fatalf("unexpected distance %v", dist)
	}
	if amount <= 0 {
		t.Fatalf("unexpected fare %v", amount)
	}
	if _, _, err := rig.engine.EstimateFare(models.VehicleCarStandard, models.Coord{Lon: 200, Lat: 0}, models.Coord{}); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCourierFoodFare(t *testing.T) {
	rig := newRig(t)
	ride, err := rig.engine.RequestCourierFood(context.Background(), CourierDraft{
		RideDraft:     instantDraft(),
		ReceiverName:  "Sam",
		ReceiverPhone: "555-0100",
	})
	if err != nil {
		t.Fatalf("courier food: %v", err)
	}
	if ride.RideType != models.RideCourierFood || ride.FareFoodUSD != 3.00 {
		t.Fatalf("unexpected courier pricing: %+v", ride)
	}
	if ride.Delivery == nil || ride.Delivery.ReceiverName != "Sam" {
		t.Fatalf("delivery meta missing: %+v", ride.Delivery)
	}
}

func TestCourierPackageFare(t *testing.T) {
	rig := newRig(t)
	ride, err := rig.engine.RequestCourierPackage(context.Background(), PackageDraft{
		CourierDraft: CourierDraft{RideDraft: instantDraft(), ReceiverName: "Sam"},
		Packages:     []models.Package{{WeightLb: 2, VolumeIn3: 332}},
	})
	if err != nil {
		t.Fatalf("courier package: %v", err)
	}
	if ride.FarePackageUSD != 11.00 {
		t.Fatalf("expected package fare 11.00, got %v", ride.FarePackageUSD)
	}
	if _, err := rig.engine.RequestCourierPackage(context.Background(), PackageDraft{
		CourierDraft: CourierDraft{RideDraft: instantDraft()},
	}); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation for empty packages, got %v", err)
	}
}

func TestScheduledRideValidation(t *testing.T) {
	rig := newRig(t)
	rig.engine.Now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	past := ScheduleDraft{RideDraft: instantDraft(), At: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	if _, err := rig.engine.RequestScheduledRide(ctx, past); !IsKind(err, KindValidation) {
		t.Fatalf("past time: expected validation, got %v", err)
	}

	badTZ := ScheduleDraft{RideDraft: instantDraft(), At: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), Timezone: "Mars/Olympus"}
	if _, err := rig.engine.RequestScheduledRide(ctx, badTZ); !IsKind(err, KindValidation) {
		t.Fatalf("bad tz: expected validation, got %v", err)
	}

	ok := ScheduleDraft{RideDraft: instantDraft(), At: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), Timezone: "America/New_York"}
	ride, err := rig.engine.RequestScheduledRide(ctx, ok)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ride.Schedule == nil || ride.Schedule.Sent60 || ride.Schedule.Sent30 || ride.Schedule.Sent5 || ride.Schedule.Sent0 {
		t.Fatalf("reminder flags must start false: %+v", ride.Schedule)
	}
	if !ride.Schedule.At.Equal(ok.At) || ride.Schedule.At.Location() != time.UTC {
		t.Fatalf("schedule time must be stored in UTC: %v", ride.Schedule.At)
	}
}

func TestUpdateLocationStreamsToRideRoom(t *testing.T) {
	rig := newRig(t)
	ride := rig.runToStatus(t, models.StatusAccepted)

	if err := rig.engine.UpdateLocation("d-main", models.Coord{Lon: 0, Lat: 0.02}, false); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if rig.gateway.count("ride:"+ride.ID, EventDriverLocation) != 1 {
		t.Fatal("location tick must stream into the ride room")
	}
}

func TestNearbyDriversUsesConfigRadius(t *testing.T) {
	rig := newRig(t)
	rig.registerDriver(t, "close", models.VehicleCarStandard, 0.01)
	rig.registerDriver(t, "distant", models.VehicleCarStandard, 1.0)

	got, err := rig.engine.NearbyDrivers(models.Coord{Lon: 0, Lat: 0}, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "close" {
		t.Fatalf("expected [close], got %v", got)
	}
}
