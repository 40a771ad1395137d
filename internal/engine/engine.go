package engine

import (
	"context"
	"fmt"
	"time"

	"transit-ingest/internal/analytics"
	"transit-ingest/internal/cache"
	"transit-ingest/internal/feed"
	"transit-ingest/internal/publisher"
	"transit-ingest/internal/store"
	"transit-ingest/internal/transit"
	"transit-ingest/internal/validate"
)

// Windows used by the read operations. These track how far back each
// aggregate looks, matching the cadence of the data they summarize.
const (
	stationHistoryWindow = time.Hour
	stationDelayWindow   = 7 * 24 * time.Hour
	lineDelayWindow      = 30 * 24 * time.Hour
	activeVehicleWindow  = 5 * time.Minute
)

// ReadMetrics is the slice of the collector the read path reports to.
type ReadMetrics interface {
	CacheAgeObserved(view string, age time.Duration)
}

// Engine is the query facade over cache, store and analytics. Reads
// prefer the cache and fall back to the store; aggregates are memoized
// between ingestion cycles.
type Engine struct {
	store   *store.Store
	views   *cache.Views
	results *cache.Results
	sched   *Scheduler
	metrics ReadMetrics
	thr     analytics.Thresholds
	loc     *time.Location
}

type Options struct {
	Thresholds analytics.Thresholds
	Location   *time.Location

	PollInterval time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
	Retention    time.Duration
}

func New(client *feed.Client, st *store.Store, m SchedulerMetrics, rm ReadMetrics, pub CyclePublisher, opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	views := cache.NewViews(opts.CacheTTL)
	results := cache.NewResults(256, opts.CacheTTL)
	sched := NewScheduler(client, st, views, results, m, pub, SchedulerOptions{
		PollInterval: opts.PollInterval,
		WriteTimeout: opts.WriteTimeout,
		Retention:    opts.Retention,
		Location:     loc,
	})
	return &Engine{
		store:   st,
		views:   views,
		results: results,
		sched:   sched,
		metrics: rm,
		thr:     opts.Thresholds,
		loc:     loc,
	}
}

func (e *Engine) Start(ctx context.Context) { e.sched.Start(ctx) }
func (e *Engine) Stop()                     { e.sched.Stop() }

// RunCycle triggers one ingestion cycle outside the poll loop. Used by
// tests and by operators forcing a refresh.
func (e *Engine) RunCycle(ctx context.Context) error { return e.sched.RunCycle(ctx) }

// VehiclePositions is the read result for current vehicle positions.
// Source tells whether it came from the cache or the store; AgeSeconds
// and Stale only apply to cache hits.
type VehiclePositions struct {
	Vehicles   []transit.VehicleSnapshot `json:"vehicles"`
	Source     string                    `json:"source"`
	AgeSeconds float64                   `json:"age_seconds"`
	Stale      bool                      `json:"stale"`
	NoData     bool                      `json:"no_data"`
}

// GetVehiclePositions returns the latest position per vehicle,
// optionally filtered by line and capped by limit.
func (e *Engine) GetVehiclePositions(ctx context.Context, lineID string, limit int) (VehiclePositions, error) {
	now := time.Now()
	if cached, fresh, ok := e.views.Vehicles(now); ok {
		if e.metrics != nil {
			e.metrics.CacheAgeObserved("vehicles", fresh.Age)
		}
		out := cached
		if lineID != "" {
			out = make([]transit.VehicleSnapshot, 0, len(cached))
			for _, v := range cached {
				if v.LineID == lineID {
					out = append(out, v)
				}
			}
		}
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return VehiclePositions{
			Vehicles:   out,
			Source:     "cache",
			AgeSeconds: fresh.Age.Seconds(),
			Stale:      fresh.Stale,
			NoData:     len(out) == 0,
		}, nil
	}

	vehicles, err := e.store.QueryVehicles(ctx, lineID, limit)
	if err != nil {
		return VehiclePositions{}, fmt.Errorf("query vehicles: %w", err)
	}
	return VehiclePositions{Vehicles: vehicles, Source: "store", NoData: len(vehicles) == 0}, nil
}

// GetStationCongestion aggregates the last hour of crowding samples and
// the last week of delay events for one station.
func (e *Engine) GetStationCongestion(ctx context.Context, stationID string) (analytics.StationCongestion, error) {
	key := "congestion|" + stationID
	if v, ok := e.results.Get(key); ok {
		return v.(analytics.StationCongestion), nil
	}

	now := time.Now()
	samples, err := e.store.QueryStationHistory(ctx, stationID, now.Add(-stationHistoryWindow), now)
	if err != nil {
		// Degraded storage: fall back to whatever the cache holds.
		cached, _, ok := e.views.Stations(now)
		if !ok {
			return analytics.StationCongestion{}, fmt.Errorf("query station history: %w", err)
		}
		samples = samples[:0]
		for _, s := range cached {
			if s.StationID == stationID {
				samples = append(samples, s)
			}
		}
	}

	delays, err := e.store.QueryDelays(ctx, "", stationID, now.Add(-stationDelayWindow))
	if err != nil {
		delays = nil // congestion still computable from samples alone
	}

	result := analytics.ComputeStationCongestion(stationID, samples, delays, e.thr)
	e.results.Put(key, result)
	return result, nil
}

// GetLinePerformance scores a line over its last 30 days of delay
// events plus the count of currently active vehicles.
func (e *Engine) GetLinePerformance(ctx context.Context, lineID string) (analytics.LinePerformance, error) {
	key := "performance|" + lineID
	if v, ok := e.results.Get(key); ok {
		return v.(analytics.LinePerformance), nil
	}

	now := time.Now()
	delays, err := e.store.QueryDelays(ctx, lineID, "", now.Add(-lineDelayWindow))
	if err != nil {
		return analytics.LinePerformance{}, fmt.Errorf("query delays: %w", err)
	}

	active := 0
	if cached, _, ok := e.views.Vehicles(now); ok {
		active = analytics.ActiveOnLine(cached, lineID, activeVehicleWindow, now)
	} else if n, err := e.store.CountActiveVehicles(ctx, lineID, now.Add(-activeVehicleWindow)); err == nil {
		active = n
	}

	result := analytics.ComputeLinePerformance(lineID, delays, active, e.thr)
	e.results.Put(key, result)
	return result, nil
}

// GetRecentDelays lists delay events since the given time, optionally
// filtered by line and/or station, newest first.
func (e *Engine) GetRecentDelays(ctx context.Context, lineID, stationID string, since time.Time) ([]transit.DelayEvent, error) {
	delays, err := e.store.QueryDelays(ctx, lineID, stationID, since)
	if err != nil {
		return nil, fmt.Errorf("query delays: %w", err)
	}
	return delays, nil
}

// RecordDelay validates and appends one delay event, e.g. from a
// manual operator report.
func (e *Engine) RecordDelay(ctx context.Context, ev transit.DelayEvent) error {
	if err := validate.Delay(ev); err != nil {
		return err
	}
	if err := e.store.AppendDelays(ctx, []transit.DelayEvent{ev}); err != nil {
		return fmt.Errorf("append delay: %w", err)
	}
	// The line and station aggregates just changed.
	e.results.Purge()
	return nil
}

// SeedDelays bulk-loads historical delay events, skipping duplicates.
func (e *Engine) SeedDelays(ctx context.Context, events []transit.DelayEvent) error {
	valid := make([]transit.DelayEvent, 0, len(events))
	for _, ev := range events {
		if err := validate.Delay(ev); err != nil {
			return fmt.Errorf("delay seed %s/%s: %w", ev.LineID, ev.StationID, err)
		}
		valid = append(valid, ev)
	}
	return e.store.AppendDelays(ctx, valid)
}

// Stats is the operational snapshot returned by the status surface.
type Stats struct {
	State           string    `json:"state"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	LastCycleError  string    `json:"last_cycle_error,omitempty"`
	VehicleRows     int64     `json:"vehicle_rows"`
	StationRows     int64     `json:"station_rows"`
	DelayRows       int64     `json:"delay_rows"`
	CachedVehicles  int       `json:"cached_vehicles"`
	CachedStations  int       `json:"cached_stations"`
	CacheAgeSeconds float64   `json:"cache_age_seconds"`
	CacheStale      bool      `json:"cache_stale"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	st := e.sched.Status()
	out := Stats{State: st.State.String(), LastCycleAt: st.LastRun}
	if st.LastErr != nil {
		out.LastCycleError = st.LastErr.Error()
	}

	vehicles, stations, delays, err := e.store.Counts(ctx)
	if err != nil {
		return out, fmt.Errorf("store counts: %w", err)
	}
	out.VehicleRows, out.StationRows, out.DelayRows = vehicles, stations, delays

	now := time.Now()
	if cached, fresh, ok := e.views.Vehicles(now); ok {
		out.CachedVehicles = len(cached)
		out.CacheAgeSeconds = fresh.Age.Seconds()
		out.CacheStale = fresh.Stale
	}
	if cached, _, ok := e.views.Stations(now); ok {
		out.CachedStations = len(cached)
	}
	return out, nil
}

var _ CyclePublisher = (*publisher.NATSPublisher)(nil)
