package fare

import (
	"math"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Package pricing constants. The billable-weight formula is part of the
// courier contract and must not drift.
const (
	packagePickupFee    = 5.0
	packageRatePerLb    = 3.0
	packageMinCharge    = 10.0
	volumetricDivisorIn = 166.0
)

// Calculator prices rides from distance, vehicle class, and the live
// RideConfig. It holds no pricing state of its own.
type Calculator struct {
	Config *config.Provider
}

func NewCalculator(p *config.Provider) *Calculator {
	return &Calculator{Config: p}
}

// HaversineMiles is the great-circle distance used for all fare math.
func HaversineMiles(a, b models.Coord) float64 {
	return geo.HaversineMiles(a, b)
}

// Calculate prices a trip of the given distance for a vehicle class.
// Unknown classes fall back to the car_standard rate.
func (c *Calculator) Calculate(vehicleType models.VehicleType, distanceMiles float64) float64 {
	cfg := c.Config.Current()
	rate, ok := cfg.RatesPerMile[vehicleType]
	if !ok {
		rate = cfg.RatesPerMile[models.VehicleCarStandard]
	}
	return roundCents(distanceMiles * rate)
}

// CourierFoodSurcharge is the flat add-on applied to courier-food rides.
func (c *Calculator) CourierFoodSurcharge() float64 {
	return roundCents(c.Config.Current().CourierFoodRate)
}

// AddStopSurcharge is the flat charge for one added stop.
func (c *Calculator) AddStopSurcharge() float64 {
	return roundCents(c.Config.Current().AddStopRate)
}

// PackageFare totals the courier charge over all packages. Billable
// weight per package is max(actual, volume/166) rounded up to the next
// whole pound; each package pays pickup fee plus weight rate, floored
// at the minimum charge.
func (c *Calculator) PackageFare(packages []models.Package) float64 {
	var total float64
	for _, p := range packages {
		total += singlePackageFare(p)
	}
	return roundCents(total)
}

func singlePackageFare(p models.Package) float64 {
	volumetric := p.VolumeIn3 / volumetricDivisorIn
	billable := p.WeightLb
	if volumetric > billable {
		billable = volumetric
	}
	billable = math.Ceil(billable)
	fare := packagePickupFee + billable*packageRatePerLb
	if fare < packageMinCharge {
		fare = packageMinCharge
	}
	return roundCents(fare)
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
