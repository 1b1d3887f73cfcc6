package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// EarthRadiusMiles is the mean Earth radius used for all distance math.
const EarthRadiusMiles = 3958.8

// MetaCurrentRide is the meta key holding a driver's active ride ID.
const MetaCurrentRide = "current_ride_id"

// Entry is the live record kept per driver. It lives only as long as
// the process; durable state belongs to the ride store.
type Entry struct {
	DriverID  string            `json:"driver_id"`
	Loc       models.Coord      `json:"loc"`
	HasLoc    bool              `json:"has_loc"`
	Available bool              `json:"available"`
	Updated   time.Time         `json:"updated"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Result is an Entry annotated with its distance from a query center.
type Result struct {
	Entry
	DistanceMiles float64 `json:"distance_miles"`
}

// Geo is the driver-position index consumed by the dispatch engine.
type Geo interface {
	// Upsert replaces position and availability for a driver and
	// shallow-merges metaPatch into the existing meta. A nil loc keeps
	// the current coordinates (or leaves them absent).
	Upsert(driverID string, loc *models.Coord, available bool, metaPatch map[string]string)
	Get(driverID string) (Entry, bool)
	// Nearby returns drivers within radiusMiles of center, ascending by
	// distance (driver ID breaks ties), truncated to max. Entries
	// without coordinates are skipped.
	Nearby(center models.Coord, radiusMiles float64, max int, onlyAvailable bool) []Result
	Remove(driverID string)
}

// Index is the in-memory Geo implementation. Scans copy under the read
// lock and sort outside it so location ticks are not blocked by queries.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]Entry
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]Entry)}
}

func (g *Index) Upsert(driverID string, loc *models.Coord, available bool, metaPatch map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.drivers[driverID]
	if !ok {
		e = Entry{DriverID: driverID, Meta: make(map[string]string)}
	}
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	if loc != nil {
		e.Loc = *loc
		e.HasLoc = true
	}
	e.Available = available
	for k, v := range metaPatch {
		e.Meta[k] = v
	}
	e.Updated = time.Now()
	g.drivers[driverID] = e
}

func (g *Index) Get(driverID string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.drivers[driverID]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(e), true
}

func (g *Index) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
}

func (g *Index) Nearby(center models.Coord, radiusMiles float64, max int, onlyAvailable bool) []Result {
	g.mu.RLock()
	snapshot := make([]Entry, 0, len(g.drivers))
	for _, e := range g.drivers {
		snapshot = append(snapshot, cloneEntry(e))
	}
	g.mu.RUnlock()

	out := make([]Result, 0, len(snapshot))
	for _, e := range snapshot {
		if !e.HasLoc {
			continue
		}
		if onlyAvailable && !e.Available {
			continue
		}
		d := HaversineMiles(center, e.Loc)
		if d > radiusMiles {
			continue
		}
		out = append(out, Result{Entry: e, DistanceMiles: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMiles != out[j].DistanceMiles {
			return out[i].DistanceMiles < out[j].DistanceMiles
		}
		return out[i].DriverID < out[j].DriverID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func cloneEntry(e Entry) Entry {
	meta := make(map[string]string, len(e.Meta))
	for k, v := range e.Meta {
		meta[k] = v
	}
	e.Meta = meta
	return e
}

// HaversineMiles is the great-circle distance between two points.
func HaversineMiles(a, b models.Coord) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}
