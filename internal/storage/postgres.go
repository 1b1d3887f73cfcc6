package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore persists rides, vehicles, and reviews. The assignment
// CAS is a single conditional UPDATE so the at-most-one-driver
// guarantee holds across multiple API processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, rider_id, driver_id, ride_type, vehicle_type,
	from_lon, from_lat, from_addr, to_lon, to_lat, to_addr,
	distance_miles, fare_usd, fare_food_usd, fare_package_usd, status,
	events, stops, schedule, delivery, cancellation, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.Ride) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	events, _ := json.Marshal(orEmptyEvents(r.Events))
	stops, _ := json.Marshal(orEmptyStops(r.Stops))
	schedule := marshalOrNull(r.Schedule)
	delivery := marshalOrNull(r.Delivery)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (id, rider_id, driver_id, ride_type, vehicle_type,
			from_lon, from_lat, from_addr, to_lon, to_lat, to_addr,
			distance_miles, fare_usd, fare_food_usd, fare_package_usd, status,
			events, stops, schedule, delivery, created_at, updated_at)
		VALUES ($1,$2,NULL,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		r.ID, r.RiderID, r.RideType, r.VehicleType,
		r.From.Loc.Lon, r.From.Loc.Lat, r.From.Address,
		r.To.Loc.Lon, r.To.Loc.Lat, r.To.Address,
		r.DistanceMiles, r.FareUSD, r.FareFoodUSD, r.FarePackageUSD, r.Status,
		events, stops, schedule, delivery, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) FindByID(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.Status, extra StatusUpdate) (*models.Ride, error) {
	cancellation := marshalOrNull(extra.Cancellation)
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides SET
			status = $2,
			fare_usd = COALESCE($3, fare_usd),
			cancellation = COALESCE($4, cancellation),
			updated_at = now()
		WHERE id = $1
		RETURNING `+rideColumns,
		id, status, nullFloat(extra.FareUSD), cancellation)
	return scanRide(row)
}

func (p *PostgresStore) AssignDriverIfUnassigned(ctx context.Context, rideID, driverID string) (*models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides SET driver_id = $2, status = 'accepted', updated_at = now()
		WHERE id = $1
		  AND driver_id IS NULL
		  AND status IN ('created', 'pending')
		RETURNING `+rideColumns,
		rideID, driverID)
	r, err := scanRide(row)
	if err == ErrNotFound {
		// distinguish missing ride from lost race
		var exists bool
		if qerr := p.db.QueryRowContext(ctx, `SELECT true FROM rides WHERE id = $1`, rideID).Scan(&exists); qerr == sql.ErrNoRows {
			return nil, false, ErrNotFound
		} else if qerr != nil {
			return nil, false, qerr
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, rideID string, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET events = events || $2::jsonb WHERE id = $1`,
		rideID, b)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) AddStop(ctx context.Context, rideID string, stop models.Stop, surcharge float64) (*models.Ride, error) {
	b, err := json.Marshal(stop)
	if err != nil {
		return nil, err
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides SET
			stops = stops || $2::jsonb,
			fare_usd = fare_usd + $3,
			updated_at = now()
		WHERE id = $1
		RETURNING `+rideColumns,
		rideID, b, surcharge)
	return scanRide(row)
}

func (p *PostgresStore) SetScheduleFlag(ctx context.Context, rideID string, minutes int) error {
	var field string
	switch minutes {
	case 60:
		field = "sent_60"
	case 30:
		field = "sent_30"
	case 5:
		field = "sent_5"
	case 0:
		field = "sent_0"
	default:
		return fmt.Errorf("unknown reminder threshold %d", minutes)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET schedule = jsonb_set(schedule, $2, 'true'::jsonb)
		WHERE id = $1 AND schedule IS NOT NULL`,
		rideID, "{"+field+"}")
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ScheduledAccepted(ctx context.Context) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE ride_type = 'schedule' AND status = 'accepted' AND schedule IS NOT NULL
		  AND NOT COALESCE((schedule->>'sent_0')::boolean, false)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DriverStats(ctx context.Context, driverID string) (models.DriverStats, error) {
	var stats models.DriverStats
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM rides WHERE driver_id = $1 AND status = 'completed'`,
		driverID).Scan(&stats.CompletedRides)
	if err != nil {
		return stats, err
	}
	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(avg(rating), 0), count(*) FROM driver_reviews WHERE driver_id = $1`,
		driverID).Scan(&stats.AvgRating, &stats.ReviewCount)
	return stats, err
}

func (p *PostgresStore) FindByDriver(ctx context.Context, driverID string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := p.db.QueryRowContext(ctx, `
		SELECT driver_id, ride_option, make, model, plate
		FROM vehicles WHERE driver_id = $1`, driverID).
		Scan(&v.DriverID, &v.RideOption, &v.Make, &v.Model, &v.Plate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, v *models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vehicles (driver_id, ride_option, make, model, plate)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (driver_id) DO UPDATE SET
			ride_option = EXCLUDED.ride_option,
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			plate = EXCLUDED.plate`,
		v.DriverID, v.RideOption, v.Make, v.Model, v.Plate)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var (
		r            models.Ride
		driverID     sql.NullString
		events       []byte
		stops        []byte
		schedule     []byte
		delivery     []byte
		cancellation []byte
	)
	err := row.Scan(&r.ID, &r.RiderID, &driverID, &r.RideType, &r.VehicleType,
		&r.From.Loc.Lon, &r.From.Loc.Lat, &r.From.Address,
		&r.To.Loc.Lon, &r.To.Loc.Lat, &r.To.Address,
		&r.DistanceMiles, &r.FareUSD, &r.FareFoodUSD, &r.FarePackageUSD, &r.Status,
		&events, &stops, &schedule, &delivery, &cancellation,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	if len(events) > 0 {
		_ = json.Unmarshal(events, &r.Events)
	}
	if len(stops) > 0 {
		_ = json.Unmarshal(stops, &r.Stops)
	}
	if len(schedule) > 0 {
		_ = json.Unmarshal(schedule, &r.Schedule)
	}
	if len(delivery) > 0 {
		_ = json.Unmarshal(delivery, &r.Delivery)
	}
	if len(cancellation) > 0 {
		_ = json.Unmarshal(cancellation, &r.Cancellation)
	}
	return &r, nil
}

func marshalOrNull(v any) any {
	switch t := v.(type) {
	case *models.ScheduleMeta:
		if t == nil {
			return nil
		}
	case *models.DeliveryMeta:
		if t == nil {
			return nil
		}
	case *models.Cancellation:
		if t == nil {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func orEmptyEvents(e []models.Event) []models.Event {
	if e == nil {
		return []models.Event{}
	}
	return e
}

func orEmptyStops(s []models.Stop) []models.Stop {
	if s == nil {
		return []models.Stop{}
	}
	return s
}
