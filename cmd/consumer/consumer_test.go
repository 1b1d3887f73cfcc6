package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeUpdater struct {
	geoFailures  int
	hsetFailures int
	geoCalls     int
	hsetCalls    int
	lastGeoKey   string
	lastGeoLoc   *redis.GeoLocation
	lastHashKey  string
	lastHash     map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastGeoKey = key
	f.lastGeoLoc = loc
	if f.geoFailures > 0 {
		f.geoFailures--
		return errors.New("geoadd failed")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hsetCalls++
	f.lastHashKey = key
	f.lastHash = values
	if f.hsetFailures > 0 {
		f.hsetFailures--
		return errors.New("hset failed")
	}
	return nil
}

func testLocation() models.DriverLocation {
	return models.DriverLocation{
		DriverID:  "driver-1",
		Loc:       models.Coord{Lon: -73.98, Lat: 40.75},
		Available: true,
		Updated:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpdateRedisSuccess(t *testing.T) {
	f := &fakeUpdater{}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", testLocation(), 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.geoCalls != 1 || f.hsetCalls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", f.geoCalls, f.hsetCalls)
	}
	if f.lastGeoKey != "drivers_geo" || f.lastGeoLoc.Name != "driver-1" {
		t.Fatalf("geo write wrong: key=%s name=%s", f.lastGeoKey, f.lastGeoLoc.Name)
	}
	if f.lastHashKey != "driver:meta:driver-1" {
		t.Fatalf("hash key = %s", f.lastHashKey)
	}
	if f.lastHash["available"] != "true" {
		t.Fatalf("availability not written: %v", f.lastHash)
	}
	if f.lastHash["updated"] != "2026-08-01T10:00:00Z" {
		t.Fatalf("updated not preserved: %v", f.lastHash["updated"])
	}
}

func TestUpdateRedisRetriesGeoAdd(t *testing.T) {
	f := &fakeUpdater{geoFailures: 2}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", testLocation(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if f.geoCalls != 3 {
		t.Fatalf("geo calls = %d, want 3", f.geoCalls)
	}
}

func TestUpdateRedisRetriesHSet(t *testing.T) {
	f := &fakeUpdater{hsetFailures: 1}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", testLocation(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if f.hsetCalls != 2 {
		t.Fatalf("hset calls = %d, want 2", f.hsetCalls)
	}
}

func TestUpdateRedisExhaustsAttempts(t *testing.T) {
	f := &fakeUpdater{geoFailures: 5}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", testLocation(), 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if f.geoCalls != 3 {
		t.Fatalf("geo calls = %d, want 3", f.geoCalls)
	}
}

func TestUpdateRedisStampsMissingTimestamp(t *testing.T) {
	f := &fakeUpdater{}
	loc := testLocation()
	loc.Updated = time.Time{}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", loc, 1, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stamp, ok := f.lastHash["updated"].(string)
	if !ok || stamp == "" {
		t.Fatalf("missing timestamp must be filled in: %v", f.lastHash)
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Fatalf("stamp not RFC3339: %v", err)
	}
}
