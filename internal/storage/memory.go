package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore is the in-process RideStore and VehicleStore used for
// local runs and tests. The assignment CAS is serialized by the store
// mutex, mirroring the conditional-update semantics of the SQL adapter.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	vehicles map[string]*models.Vehicle
	ratings  map[string][]float64 // driverID -> review ratings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		vehicles: make(map[string]*models.Vehicle),
		ratings:  make(map[string][]float64),
	}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.Status, extra StatusUpdate) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Status = status
	if extra.FareUSD != nil {
		r.FareUSD = *extra.FareUSD
	}
	if extra.Cancellation != nil {
		c := *extra.Cancellation
		r.Cancellation = &c
	}
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

func (m *MemoryStore) AssignDriverIfUnassigned(ctx context.Context, rideID, driverID string) (*models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if r.DriverID != "" {
		return nil, false, nil
	}
	if r.Status != models.StatusCreated && r.Status != models.StatusPending {
		return nil, false, nil
	}
	r.DriverID = driverID
	r.Status = models.StatusAccepted
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), true, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, rideID string, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.Events = append(r.Events, ev)
	return nil
}

func (m *MemoryStore) AddStop(ctx context.Context, rideID string, stop models.Stop, surcharge float64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	r.Stops = append(r.Stops, stop)
	r.FareUSD += surcharge
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

func (m *MemoryStore) SetScheduleFlag(ctx context.Context, rideID string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok || r.Schedule == nil {
		return ErrNotFound
	}
	switch minutes {
	case 60:
		r.Schedule.Sent60 = true
	case 30:
		r.Schedule.Sent30 = true
	case 5:
		r.Schedule.Sent5 = true
	case 0:
		r.Schedule.Sent0 = true
	}
	return nil
}

func (m *MemoryStore) ScheduledAccepted(ctx context.Context) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.RideType == models.RideSchedule && r.Status == models.StatusAccepted && r.Schedule != nil {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) DriverStats(ctx context.Context, driverID string) (models.DriverStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats models.DriverStats
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status == models.StatusCompleted {
			stats.CompletedRides++
		}
	}
	ratings := m.ratings[driverID]
	stats.ReviewCount = len(ratings)
	if len(ratings) > 0 {
		var sum float64
		for _, v := range ratings {
			sum += v
		}
		stats.AvgRating = sum / float64(len(ratings))
	}
	return stats, nil
}

// AddReview records a rating for DriverStats aggregation.
func (m *MemoryStore) AddReview(driverID string, rating float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[driverID] = append(m.ratings[driverID], rating)
}

func (m *MemoryStore) FindByDriver(ctx context.Context, driverID string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vehicles[v.DriverID] = &cp
	return nil
}
