package config

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.ReminderInterval != time.Minute || cfg.KafkaTopic != "driver-locations" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("REMINDER_INTERVAL", "30s")
	t.Setenv("MIGRATE", "TRUE")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr = %s", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.ReminderInterval != 30*time.Second || !cfg.RunMigrations {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadServerConfigAccumulatesErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "nope")
	t.Setenv("REMINDER_INTERVAL", "also-nope")

	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected joined parse errors")
	}
}

func TestLoadRideConfigOverrides(t *testing.T) {
	t.Setenv("RATE_CAR_DELUXE", "4.25")
	t.Setenv("DISPATCH_MAX_NOTIFY", "3")

	cfg, err := LoadRideConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RatesPerMile[models.VehicleCarDeluxe] != 4.25 || cfg.MaxNotifyDrivers != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestProviderSnapshotsAreIsolated(t *testing.T) {
	p := NewProvider(DefaultRideConfig())

	snap := p.Current()
	snap.RatesPerMile[models.VehicleCarStandard] = 99

	if got := p.Current().RatesPerMile[models.VehicleCarStandard]; got == 99 {
		t.Fatal("mutating a snapshot must not leak into the provider")
	}
}

func TestProviderUpdate(t *testing.T) {
	p := NewProvider(DefaultRideConfig())
	next := DefaultRideConfig()
	next.AddStopRate = 7.5
	p.Update(next)

	if got := p.Current().AddStopRate; got != 7.5 {
		t.Fatalf("AddStopRate = %v, want 7.5", got)
	}
}
