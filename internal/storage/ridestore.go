package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned when a ride, vehicle, or driver is unknown.
var ErrNotFound = errors.New("not found")

// StatusUpdate carries the optional extra fields written alongside a
// status change.
type StatusUpdate struct {
	FareUSD      *float64 // final fare override at completion
	Cancellation *models.Cancellation
}

// RideStore defines persistence for ride documents. UpdateStatus is
// unconditional (the engine validates legality first);
// AssignDriverIfUnassigned is the single atomic compare-and-swap that
// upholds the at-most-one-driver guarantee and must never be a
// read-then-write pair.
type RideStore interface {
	Create(ctx context.Context, r *models.Ride) error
	FindByID(ctx context.Context, id string) (*models.Ride, error)
	UpdateStatus(ctx context.Context, id string, status models.Status, extra StatusUpdate) (*models.Ride, error)

	// AssignDriverIfUnassigned sets the driver and moves the ride to
	// accepted only if no driver is set and the status is still
	// created or pending. ok=false means another driver already won;
	// that is not an error.
	AssignDriverIfUnassigned(ctx context.Context, rideID, driverID string) (ride *models.Ride, ok bool, err error)

	// AppendEvent adds one entry to the ride's audit log. Callers treat
	// failures as best-effort.
	AppendEvent(ctx context.Context, rideID string, ev models.Event) error

	// AddStop appends a stop record and increments the fare by the
	// surcharge in one operation.
	AddStop(ctx context.Context, rideID string, stop models.Stop, surcharge float64) (*models.Ride, error)

	// SetScheduleFlag marks the reminder for the given threshold
	// (60, 30, 5, or 0 minutes) as sent.
	SetScheduleFlag(ctx context.Context, rideID string, minutes int) error

	// ScheduledAccepted lists accepted scheduled rides for the
	// reminder scanner.
	ScheduledAccepted(ctx context.Context) ([]*models.Ride, error)

	// DriverStats aggregates a driver's history for acceptance payloads.
	DriverStats(ctx context.Context, driverID string) (models.DriverStats, error)
}

// VehicleStore resolves the single registered vehicle per driver.
type VehicleStore interface {
	FindByDriver(ctx context.Context, driverID string) (*models.Vehicle, error)
	Upsert(ctx context.Context, v *models.Vehicle) error
}

// NewID returns an opaque random identifier.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
