package cache

import (
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"

	"transit-ingest/internal/transit"
)

// Freshness describes how old a cached view is. Age exceeding the
// configured TTL does not evict the data; it only flags it stale so
// callers can tell consumers to treat it with suspicion.
type Freshness struct {
	RefreshedAt time.Time
	Age         time.Duration
	Stale       bool
}

type vehicleView struct {
	vehicles    []transit.VehicleSnapshot
	refreshedAt time.Time
}

type stationView struct {
	stations    []transit.StationSnapshot
	refreshedAt time.Time
}

// Views holds the latest snapshot batches replaced atomically on every
// successful refresh. Readers always see a complete batch, never a
// partially written one.
type Views struct {
	ttl      time.Duration
	vehicles atomic.Pointer[vehicleView]
	stations atomic.Pointer[stationView]
}

func NewViews(ttl time.Duration) *Views {
	return &Views{ttl: ttl}
}

// ReplaceVehicles swaps in a new vehicle batch. The slice is owned by
// the cache after this call.
func (v *Views) ReplaceVehicles(vehicles []transit.VehicleSnapshot, at time.Time) {
	v.vehicles.Store(&vehicleView{vehicles: vehicles, refreshedAt: at})
}

func (v *Views) ReplaceStations(stations []transit.StationSnapshot, at time.Time) {
	v.stations.Store(&stationView{stations: stations, refreshedAt: at})
}

// Vehicles returns the cached vehicle batch with freshness metadata.
// ok is false only before the first successful refresh.
func (v *Views) Vehicles(now time.Time) ([]transit.VehicleSnapshot, Freshness, bool) {
	view := v.vehicles.Load()
	if view == nil {
		return nil, Freshness{}, false
	}
	return view.vehicles, v.freshness(view.refreshedAt, now), true
}

func (v *Views) Stations(now time.Time) ([]transit.StationSnapshot, Freshness, bool) {
	view := v.stations.Load()
	if view == nil {
		return nil, Freshness{}, false
	}
	return view.stations, v.freshness(view.refreshedAt, now), true
}

func (v *Views) freshness(refreshedAt, now time.Time) Freshness {
	age := now.Sub(refreshedAt)
	return Freshness{
		RefreshedAt: refreshedAt,
		Age:         age,
		Stale:       age > v.ttl,
	}
}

// Results memoizes computed analytics keyed by query so repeated reads
// between refresh cycles don't hit the store again. Entries expire on
// their own TTL and the whole cache is purged after each successful
// ingestion cycle since the inputs changed.
type Results struct {
	ttl   time.Duration
	cache gcache.Cache
}

func NewResults(size int, ttl time.Duration) *Results {
	return &Results{
		ttl:   ttl,
		cache: gcache.New(size).LRU().Build(),
	}
}

func (r *Results) Get(key string) (interface{}, bool) {
	v, err := r.cache.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *Results) Put(key string, value interface{}) {
	_ = r.cache.SetWithExpire(key, value, r.ttl)
}

func (r *Results) Purge() {
	r.cache.Purge()
}
