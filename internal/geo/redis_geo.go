package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo on Redis GEO commands so several API
// processes can share one live driver index. Availability and ride
// bookkeeping live in a per-driver hash next to the geo set.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(driverID string, loc *models.Coord, available bool, metaPatch map[string]string) {
	if loc != nil {
		_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
			Longitude: loc.Lon, Latitude: loc.Lat, Name: driverID,
		}).Result()
	}
	fields := map[string]interface{}{
		"available": strconv.FormatBool(available),
		"updated":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metaPatch {
		fields["meta:"+k] = v
	}
	_ = r.client.HSet(r.ctx, metaKey(driverID), fields).Err()
}

func (r *RedisGeo) Get(driverID string) (Entry, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(driverID)).Result()
	if err != nil || len(m) == 0 {
		return Entry{}, false
	}
	e := entryFromHash(driverID, m)
	if pos, err := r.client.GeoPos(r.ctx, r.key, driverID).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
		e.Loc = models.Coord{Lon: pos[0].Longitude, Lat: pos[0].Latitude}
		e.HasLoc = true
	}
	return e, true
}

func (r *RedisGeo) Remove(driverID string) {
	_ = r.client.ZRem(r.ctx, r.key, driverID).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
}

func (r *RedisGeo) Nearby(center models.Coord, radiusMiles float64, max int, onlyAvailable bool) []Result {
	res, err := r.client.GeoRadius(r.ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMiles,
		Unit:      "mi",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Result, 0, len(res))
	for _, g := range res {
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		e := entryFromHash(g.Name, m)
		if onlyAvailable && !e.Available {
			continue
		}
		e.Loc = models.Coord{Lon: g.Longitude, Lat: g.Latitude}
		e.HasLoc = true
		out = append(out, Result{Entry: e, DistanceMiles: g.Dist})
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func entryFromHash(driverID string, m map[string]string) Entry {
	e := Entry{DriverID: driverID, Meta: make(map[string]string)}
	if v, ok := m["available"]; ok {
		e.Available = v == "true"
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.Updated = t
		}
	}
	for k, v := range m {
		if len(k) > 5 && k[:5] == "meta:" {
			e.Meta[k[5:]] = v
		}
	}
	return e
}

func metaKey(id string) string { return "driver:meta:" + id }
