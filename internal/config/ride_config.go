package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// RideConfig is the mutable pricing/dispatch configuration singleton.
// It is read on every request and admin-mutable at runtime, so pricing
// changes take effect immediately for new requests.
type RideConfig struct {
	RatesPerMile       map[models.VehicleType]float64
	CourierFoodRate    float64 // flat surcharge on courier-food rides
	AddStopRate        float64 // flat charge per added stop
	DefaultRadiusMiles float64
	MaxNotifyDrivers   int
}

func DefaultRideConfig() RideConfig {
	return RideConfig{
		RatesPerMile: map[models.VehicleType]float64{
			models.VehicleCarStandard: 1.5,
			models.VehicleCarDeluxe:   2.5,
			models.VehicleMotorcycle:  1.0,
		},
		CourierFoodRate:    3.0,
		AddStopRate:        2.0,
		DefaultRadiusMiles: 5.0,
		MaxNotifyDrivers:   8,
	}
}

// LoadRideConfig reads overrides for the pricing defaults from the
// environment, in the same style as LoadServerConfig.
func LoadRideConfig() (RideConfig, error) {
	cfg := DefaultRideConfig()
	var errs []error

	std := cfg.RatesPerMile[models.VehicleCarStandard]
	deluxe := cfg.RatesPerMile[models.VehicleCarDeluxe]
	moto := cfg.RatesPerMile[models.VehicleMotorcycle]
	setFloatFromEnv(&std, "RATE_CAR_STANDARD", &errs)
	setFloatFromEnv(&deluxe, "RATE_CAR_DELUXE", &errs)
	setFloatFromEnv(&moto, "RATE_MOTORCYCLE", &errs)
	cfg.RatesPerMile[models.VehicleCarStandard] = std
	cfg.RatesPerMile[models.VehicleCarDeluxe] = deluxe
	cfg.RatesPerMile[models.VehicleMotorcycle] = moto

	setFloatFromEnv(&cfg.CourierFoodRate, "RATE_COURIER_FOOD", &errs)
	setFloatFromEnv(&cfg.AddStopRate, "RATE_ADD_STOP", &errs)
	setFloatFromEnv(&cfg.DefaultRadiusMiles, "DISPATCH_RADIUS_MILES", &errs)
	setIntFromEnv(&cfg.MaxNotifyDrivers, "DISPATCH_MAX_NOTIFY", &errs)

	if cfg.DefaultRadiusMiles <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_MILES must be > 0"))
	}
	if cfg.MaxNotifyDrivers <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_NOTIFY must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func (c RideConfig) clone() RideConfig {
	rates := make(map[models.VehicleType]float64, len(c.RatesPerMile))
	for k, v := range c.RatesPerMile {
		rates[k] = v
	}
	c.RatesPerMile = rates
	return c
}

// Provider hands out consistent snapshots of the current RideConfig and
// accepts admin updates. Readers never cache beyond request scope.
type Provider struct {
	mu  sync.RWMutex
	cfg RideConfig
}

func NewProvider(cfg RideConfig) *Provider {
	return &Provider{cfg: cfg.clone()}
}

// Current returns a copy of the live configuration.
func (p *Provider) Current() RideConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.clone()
}

// Update replaces the live configuration.
func (p *Provider) Update(cfg RideConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg.clone()
}
