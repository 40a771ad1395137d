package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"transit-ingest/internal/cache"
	"transit-ingest/internal/feed"
	"transit-ingest/internal/publisher"
	"transit-ingest/internal/transit"
	"transit-ingest/internal/validate"
)

// State tracks where the scheduler is inside a cycle. Exposed through
// Stats and the scheduler_state gauge.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateValidating
	StatePersisting
	StateCacheRefresh
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StateValidating:
		return "VALIDATING"
	case StatePersisting:
		return "PERSISTING"
	case StateCacheRefresh:
		return "CACHE_REFRESH"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// ErrCycleInFlight is returned when a cycle is triggered while the
// previous one is still running. The caller should simply skip; the
// running cycle's result will land shortly.
var ErrCycleInFlight = errors.New("ingestion cycle already in flight")

// SchedulerMetrics is the slice of the metrics collector the scheduler
// touches. Kept as an interface so tests can run without prometheus.
type SchedulerMetrics interface {
	CycleStarted()
	CycleFinished(d time.Duration, degraded bool)
	FetchObserved(feedName string, d time.Duration)
	FetchFailed(feedName, kind string)
	RecordsValidated(feedName string, accepted, rejected int)
	StoreWriteRetried()
	StateChanged(s State)
	ActiveVehiclesSet(n int)
}

// CyclePublisher receives per-cycle events. Nil publisher disables it.
type CyclePublisher interface {
	PublishCycle(ev publisher.CycleEvent) error
	PublishDegraded(ev publisher.CycleEvent) error
}

type fetchResult struct {
	vehicles []feed.VehicleRecord
	stations []feed.StationRecord
	vehErr   error
	staErr   error
}

// Scheduler drives the periodic ingestion cycle:
// fetch -> validate -> persist -> cache refresh. A failed persist still
// refreshes the cache so reads keep working on degraded storage.
type Scheduler struct {
	client  *feed.Client
	store   SnapshotStore
	views   *cache.Views
	results *cache.Results
	metrics SchedulerMetrics
	pub     CyclePublisher
	loc     *time.Location

	pollInterval time.Duration
	writeTimeout time.Duration
	retention    time.Duration

	cycleMu  sync.Mutex // held for the duration of one cycle
	stateMu  sync.Mutex
	state    State
	lastErr  error
	lastRun  time.Time
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	lastPrune time.Time
}

// SnapshotStore is the slice of the persistence layer the scheduler
// writes through.
type SnapshotStore interface {
	SaveVehicles(ctx context.Context, batch []transit.VehicleSnapshot) error
	SaveStations(ctx context.Context, batch []transit.StationSnapshot) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type SchedulerOptions struct {
	PollInterval time.Duration
	WriteTimeout time.Duration
	Retention    time.Duration
	Location     *time.Location
}

func NewScheduler(client *feed.Client, store SnapshotStore, views *cache.Views, results *cache.Results, m SchedulerMetrics, pub CyclePublisher, opts SchedulerOptions) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		client:       client,
		store:        store,
		views:        views,
		results:      results,
		metrics:      m,
		pub:          pub,
		loc:          loc,
		pollInterval: opts.PollInterval,
		writeTimeout: opts.WriteTimeout,
		retention:    opts.Retention,
		state:        StateIdle,
		done:         make(chan struct{}),
	}
}

// Start launches the poll loop. The first cycle runs immediately so the
// cache warms without waiting a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		if err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ingestion cycle: %v", err)
		}
		tick := time.NewTicker(s.pollInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := s.RunCycle(ctx); err != nil {
					if errors.Is(err, ErrCycleInFlight) {
						log.Printf("skipping tick: previous cycle still running")
						continue
					}
					if !errors.Is(err, context.Canceled) {
						log.Printf("ingestion cycle: %v", err)
					}
				}
			}
		}
	}()
	log.Printf("scheduler started interval=%s", s.pollInterval)
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
		log.Printf("scheduler stopped")
	})
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State   State
	LastErr error
	LastRun time.Time
}

func (s *Scheduler) Status() Status {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return Status{State: s.state, LastErr: s.lastErr, LastRun: s.lastRun}
}

func (s *Scheduler) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
	if s.metrics != nil {
		s.metrics.StateChanged(st)
	}
}

func (s *Scheduler) finish(st State, err error) {
	s.stateMu.Lock()
	s.state = st
	s.lastErr = err
	s.lastRun = time.Now()
	s.stateMu.Unlock()
	if s.metrics != nil {
		s.metrics.StateChanged(st)
	}
}

// RunCycle executes one full ingestion cycle. Overlapping triggers are
// rejected with ErrCycleInFlight rather than queued.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if !s.cycleMu.TryLock() {
		return ErrCycleInFlight
	}
	defer s.cycleMu.Unlock()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.CycleStarted()
	}
	ev := publisher.CycleEvent{StartedAt: start}

	degraded, err := s.runStages(ctx, &ev)

	ev.Duration = time.Since(start).Seconds()
	ev.Degraded = degraded
	if err != nil {
		ev.Reason = err.Error()
	}
	if s.metrics != nil {
		s.metrics.CycleFinished(time.Since(start), degraded)
	}
	if s.pub != nil {
		if perr := s.pub.PublishCycle(ev); perr != nil {
			log.Printf("publish cycle event: %v", perr)
		}
		if degraded {
			if perr := s.pub.PublishDegraded(ev); perr != nil {
				log.Printf("publish degraded event: %v", perr)
			}
		}
	}

	if degraded {
		s.finish(StateDegraded, err)
	} else {
		s.finish(StateIdle, nil)
	}
	return err
}

func (s *Scheduler) runStages(ctx context.Context, ev *publisher.CycleEvent) (degraded bool, err error) {
	// Fetch both feeds in parallel. One feed failing does not cancel
	// the other; whatever arrived still flows through the pipeline.
	s.setState(StateFetching)
	res := s.fetchBoth(ctx)
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if res.vehErr != nil && res.staErr != nil {
		return true, errors.Join(res.vehErr, res.staErr)
	}

	s.setState(StateValidating)
	var vehicles []transit.VehicleSnapshot
	if res.vehErr == nil {
		var rejected []validate.Rejection
		vehicles, rejected = validate.Vehicles(res.vehicles)
		logRejections("vehicles", rejected)
		ev.VehiclesAccepted, ev.VehiclesRejected = len(vehicles), len(rejected)
		if s.metrics != nil {
			s.metrics.RecordsValidated("vehicles", len(vehicles), len(rejected))
		}
	}
	var stations []transit.StationSnapshot
	if res.staErr == nil {
		var rejected []validate.Rejection
		stations, rejected = validate.Stations(res.stations, s.loc)
		logRejections("stations", rejected)
		ev.StationsAccepted, ev.StationsRejected = len(stations), len(rejected)
		if s.metrics != nil {
			s.metrics.RecordsValidated("stations", len(stations), len(rejected))
		}
	}
	if ctx.Err() != nil {
		return true, ctx.Err()
	}

	s.setState(StatePersisting)
	persistErr := s.persist(ctx, vehicles, stations, res)
	if ctx.Err() != nil {
		return true, ctx.Err()
	}

	// Cache refreshes even when persistence failed: serving slightly
	// unpersisted data beats serving nothing.
	s.setState(StateCacheRefresh)
	now := time.Now()
	refreshed := false
	if res.vehErr == nil {
		s.views.ReplaceVehicles(vehicles, now)
		refreshed = true
		if s.metrics != nil {
			s.metrics.ActiveVehiclesSet(len(vehicles))
		}
	}
	if res.staErr == nil {
		s.views.ReplaceStations(stations, now)
		refreshed = true
	}
	if refreshed && s.results != nil {
		s.results.Purge()
	}

	s.maybePrune(ctx)

	switch {
	case persistErr != nil:
		return true, persistErr
	case res.vehErr != nil:
		return true, res.vehErr
	case res.staErr != nil:
		return true, res.staErr
	}
	return false, nil
}

func (s *Scheduler) fetchBoth(ctx context.Context) fetchResult {
	var res fetchResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		res.vehicles, res.vehErr = s.client.FetchVehiclePositions(ctx)
		s.observeFetch("vehicles", time.Since(start), res.vehErr)
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		res.stations, res.staErr = s.client.FetchStationCrowding(ctx)
		s.observeFetch("stations", time.Since(start), res.staErr)
	}()
	wg.Wait()
	return res
}

func (s *Scheduler) observeFetch(feedName string, d time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.FetchObserved(feedName, d)
	if err == nil {
		return
	}
	kind := "permanent"
	var fe *feed.FetchError
	if errors.As(err, &fe) && fe.Transient {
		kind = "transient"
	}
	s.metrics.FetchFailed(feedName, kind)
	log.Printf("fetch %s feed failed: %v", feedName, err)
}

// persist writes both batches, retrying each write once on failure.
func (s *Scheduler) persist(ctx context.Context, vehicles []transit.VehicleSnapshot, stations []transit.StationSnapshot, res fetchResult) error {
	var errs []error
	if res.vehErr == nil && len(vehicles) > 0 {
		if err := s.writeWithRetry(ctx, func(c context.Context) error {
			return s.store.SaveVehicles(c, vehicles)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	if res.staErr == nil && len(stations) > 0 {
		if err := s.writeWithRetry(ctx, func(c context.Context) error {
			return s.store.SaveStations(c, stations)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) writeWithRetry(ctx context.Context, write func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	err := write(wctx)
	cancel()
	if err == nil || ctx.Err() != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.StoreWriteRetried()
	}
	log.Printf("store write failed, retrying once: %v", err)
	wctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return write(wctx)
}

// maybePrune drops snapshots past the retention window, at most once a day.
func (s *Scheduler) maybePrune(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	if time.Since(s.lastPrune) < 24*time.Hour {
		return
	}
	s.lastPrune = time.Now()
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	n, err := s.store.Prune(wctx, time.Now().Add(-s.retention))
	if err != nil {
		log.Printf("prune: %v", err)
		return
	}
	if n > 0 {
		log.Printf("pruned %d snapshots older than %s", n, s.retention)
	}
}

func logRejections(feedName string, rejected []validate.Rejection) {
	const maxLogged = 5
	for i, r := range rejected {
		if i == maxLogged {
			log.Printf("validate %s: %d more rejections suppressed", feedName, len(rejected)-maxLogged)
			break
		}
		log.Printf("validate %s: dropped %s", feedName, r)
	}
}
