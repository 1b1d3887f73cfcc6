package fare

import (
	"testing"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/models"
)

func testProvider() *config.Provider {
	return config.NewProvider(config.RideConfig{
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
}

func TestCalculateDeterministic(t *testing.T) {
	c := NewCalculator(testProvider())
	if got := c.Calculate(models.VehicleCarStandard, 10.0); got != 20.00 {
		t.Fatalf("expected 20.00, got %v", got)
	}
	if got := c.Calculate(models.VehicleCarDeluxe, 2.0); got != 7.00 {
		t.Fatalf("expected 7.00, got %v", got)
	}
}

func TestCalculateRoundsToCents(t *testing.T) {
	c := NewCalculator(testProvider())
	// 3.333 * 2.0 = 6.666 -> 6.67
	if got := c.Calculate(models.VehicleCarStandard, 3.333); got != 6.67 {
		t.Fatalf("expected 6.67, got %v", got)
	}
}

func TestCalculateUnknownTypeFallsBack(t *testing.T) {
	c := NewCalculator(testProvider())
	if got := c.Calculate(models.VehicleType("hovercraft"), 10.0); got != 20.00 {
		t.Fatalf("expected car_standard fallback 20.00, got %v", got)
	}
}

func TestCalculateReadsLiveConfig(t *testing.T) {
	p := testProvider()
	c := NewCalculator(p)
	cfg := p.Current()
	cfg.RatesPerMile[models.VehicleCarStandard] = 4.0
	p.Update(cfg)
	if got := c.Calculate(models.VehicleCarStandard, 10.0); got != 40.00 {
		t.Fatalf("expected updated rate to apply, got %v", got)
	}
}

func TestPackageFareSinglePackage(t *testing.T) {
	c := NewCalculator(testProvider())
	// volumetric = 332/166 = 2, billable = max(2, 2) = 2, fare = 5 + 2*3 = 11
	got := c.PackageFare([]models.Package{{WeightLb: 2, VolumeIn3: 332}})
	if got != 11.00 {
		t.Fatalf("expected 11.00, got %v", got)
	}
}

func TestPackageFareMinimumCharge(t *testing.T) {
	c := NewCalculator(testProvider())
	// 5 + 1*3 = 8 -> floored at 10
	got := c.PackageFare([]models.Package{{WeightLb: 1, VolumeIn3: 0}})
	if got != 10.00 {
		t.Fatalf("expected minimum 10.00, got %v", got)
	}
}

func TestPackageFareVolumetricDominates(t *testing.T) {
	c := NewCalculator(testProvider())
	// volumetric = 498/166 = 3 > actual 1, fare = 5 + 3*3 = 14
	got := c.PackageFare([]models.Package{{WeightLb: 1, VolumeIn3: 498}})
	if got != 14.00 {
		t.Fatalf("expected 14.00, got %v", got)
	}
}

func TestPackageFareRoundsBillableWeightUp(t *testing.T) {
	c := NewCalculator(testProvider())
	// 2.1 lb -> billable 3, fare = 5 + 9 = 14
	got := c.PackageFare([]models.Package{{WeightLb: 2.1, VolumeIn3: 0}})
	if got != 14.00 {
		t.Fatalf("expected 14.00, got %v", got)
	}
}

func TestPackageFareSumsPackages(t *testing.T) {
	c := NewCalculator(testProvider())
	got := c.PackageFare([]models.Package{
		{WeightLb: 2, VolumeIn3: 332}, // 11
		{WeightLb: 1, VolumeIn3: 0},   // 10 (minimum)
	})
	if got != 21.00 {
		t.Fatalf("expected 21.00, got %v", got)
	}
}

func TestSurcharges(t *testing.T) {
	c := NewCalculator(testProvider())
	if got := c.CourierFoodSurcharge(); got != 3.00 {
		t.Fatalf("expected 3.00, got %v", got)
	}
	if got := c.AddStopSurcharge(); got != 2.00 {
		t.Fatalf("expected 2.00, got %v", got)
	}
}
