package models

import "time"

// Coord is a (longitude, latitude) pair in degrees.
type Coord struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Place is a coordinate plus an optional human-readable address.
type Place struct {
	Loc     Coord  `json:"loc"`
	Address string `json:"address,omitempty"`
}

type RideType string

const (
	RideInstant        RideType = "instant"
	RideSchedule       RideType = "schedule"
	RideCourierFood    RideType = "courier-food"
	RideCourierPackage RideType = "courier-package"
)

func (t RideType) Valid() bool {
	switch t {
	case RideInstant, RideSchedule, RideCourierFood, RideCourierPackage:
		return true
	}
	return false
}

type VehicleType string

const (
	VehicleCarStandard VehicleType = "car_standard"
	VehicleCarDeluxe   VehicleType = "car_deluxe"
	VehicleMotorcycle  VehicleType = "motorcycle_standard"
)

func (t VehicleType) Valid() bool {
	switch t {
	case VehicleCarStandard, VehicleCarDeluxe, VehicleMotorcycle:
		return true
	}
	return false
}

type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Event is one entry in a ride's append-only audit log.
type Event struct {
	Type string            `json:"type"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

// ScheduleMeta carries the target time of a scheduled ride and the
// sent-flags for the T-60/T-30/T-5/T-0 minute reminders.
type ScheduleMeta struct {
	At       time.Time `json:"at"` // stored in UTC
	Timezone string    `json:"timezone"`
	Sent60   bool      `json:"sent_60"`
	Sent30   bool      `json:"sent_30"`
	Sent5    bool      `json:"sent_5"`
	Sent0    bool      `json:"sent_0"`
}

// Stop is a waypoint added to an ongoing ride.
type Stop struct {
	Loc     Coord     `json:"loc"`
	Address string    `json:"address,omitempty"`
	At      time.Time `json:"at"`
}

// Cancellation records who cancelled a ride and why.
type Cancellation struct {
	By     string    `json:"by"` // "user" or "driver"
	ByID   string    `json:"by_id"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Package is a single parcel in a courier-package ride.
type Package struct {
	WeightLb  float64 `json:"weight_lb"`
	VolumeIn3 float64 `json:"volume_in3"`
}

// DeliveryMeta holds courier-specific fields (food and package rides).
type DeliveryMeta struct {
	ReceiverName  string    `json:"receiver_name,omitempty"`
	ReceiverPhone string    `json:"receiver_phone,omitempty"`
	Packages      []Package `json:"packages,omitempty"`
}

// Ride is the central dispatch entity. DriverID is empty until a driver
// wins the acceptance race and never changes afterwards.
type Ride struct {
	ID          string      `json:"id"`
	RiderID     string      `json:"rider_id"`
	DriverID    string      `json:"driver_id,omitempty"`
	RideType    RideType    `json:"ride_type"`
	VehicleType VehicleType `json:"vehicle_type"`

	From Place `json:"from"`
	To   Place `json:"to"`

	DistanceMiles  float64 `json:"distance_miles"`
	FareUSD        float64 `json:"fare_usd"`
	FareFoodUSD    float64 `json:"fare_food_usd,omitempty"`
	FarePackageUSD float64 `json:"fare_package_usd,omitempty"`

	Status Status `json:"status"`

	Events       []Event       `json:"events,omitempty"`
	Stops        []Stop        `json:"stops,omitempty"`
	Schedule     *ScheduleMeta `json:"schedule,omitempty"`
	Delivery     *DeliveryMeta `json:"delivery,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate freely.
func (r *Ride) Clone() *Ride {
	cp := *r
	cp.Events = append([]Event(nil), r.Events...)
	cp.Stops = append([]Stop(nil), r.Stops...)
	if r.Schedule != nil {
		s := *r.Schedule
		cp.Schedule = &s
	}
	if r.Delivery != nil {
		d := *r.Delivery
		d.Packages = append([]Package(nil), r.Delivery.Packages...)
		cp.Delivery = &d
	}
	if r.Cancellation != nil {
		c := *r.Cancellation
		cp.Cancellation = &c
	}
	return &cp
}

// Vehicle is a driver's registered vehicle. RideOption must equal a
// ride's VehicleType for the driver to be eligible for that ride.
type Vehicle struct {
	DriverID   string      `json:"driver_id"`
	RideOption VehicleType `json:"ride_option"`
	Make       string      `json:"make,omitempty"`
	Model      string      `json:"model,omitempty"`
	Plate      string      `json:"plate,omitempty"`
}

// DriverStats are read-only aggregates shown to the rider on acceptance.
type DriverStats struct {
	CompletedRides int     `json:"completed_rides"`
	AvgRating      float64 `json:"avg_rating"`
	ReviewCount    int     `json:"review_count"`
}

// DriverLocation is the shape published to the location ingest topic.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Loc       Coord     `json:"loc"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated,omitempty"`
}
