package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// reminderThresholds are the minutes-before-pickup marks, checked in
// descending order.
var reminderThresholds = []int{60, 30, 5, 0}

// Scheduler fires pickup reminders for accepted scheduled rides. Each
// scan matches the exact integer minute delta against the thresholds
// and uses the per-threshold sent flag to stay idempotent across
// re-runs: a flag already set means skip.
type Scheduler struct {
	Rides    storage.RideStore
	Notifier Notifier
	Logger   *slog.Logger
	Interval time.Duration

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run scans on a fixed interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs a single reminder pass.
func (s *Scheduler) Scan(ctx context.Context) {
	rides, err := s.Rides.ScheduledAccepted(ctx)
	if err != nil {
		s.Logger.Warn("reminder scan failed", "error", err)
		return
	}
	now := s.now()
	for _, ride := range rides {
		s.checkRide(ctx, ride, now)
	}
}

func (s *Scheduler) checkRide(ctx context.Context, ride *models.Ride, now time.Time) {
	if ride.Schedule == nil {
		return
	}
	// Exact-integer-minute equality: a delayed scan cycle can skip a
	// threshold entirely. Kept deliberately; see flagSent for the
	// duplicate-suppression side.
	minutes := int(math.Round(ride.Schedule.At.Sub(now).Minutes()))
	for _, threshold := range reminderThresholds {
		if minutes != threshold {
			continue
		}
		if flagSent(ride.Schedule, threshold) {
			return
		}
		s.fire(ctx, ride, threshold)
		return
	}
}

func (s *Scheduler) fire(ctx context.Context, ride *models.Ride, threshold int) {
	if err := s.Rides.SetScheduleFlag(ctx, ride.ID, threshold); err != nil {
		s.Logger.Warn("reminder flag update failed", "ride_id", ride.ID, "threshold", threshold, "error", err)
		return
	}
	n := notify.Notification{
		Title: "Scheduled ride reminder",
		Body:  reminderBody(threshold),
		Data: map[string]string{
			"ride_id":   ride.ID,
			"kind":      "schedule_reminder",
			"threshold": strconv.Itoa(threshold),
		},
	}
	s.Notifier.Enqueue(ride.RiderID, n)
	if ride.DriverID != "" {
		s.Notifier.Enqueue(ride.DriverID, n)
	}
	observability.RemindersSentTotal.WithLabelValues(strconv.Itoa(threshold)).Inc()
	s.Logger.Info("schedule reminder sent", "ride_id", ride.ID, "threshold_min", threshold)
}

func flagSent(m *models.ScheduleMeta, threshold int) bool {
	switch threshold {
	case 60:
		return m.Sent60
	case 30:
		return m.Sent30
	case 5:
		return m.Sent5
	case 0:
		return m.Sent0
	}
	return true
}

func reminderBody(threshold int) string {
	if threshold == 0 {
		return "Your scheduled ride is due now"
	}
	return fmt.Sprintf("Your scheduled ride is in %d minutes", threshold)
}
