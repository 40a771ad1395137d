package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"transit-ingest/internal/analytics"
	"transit-ingest/internal/config"
	"transit-ingest/internal/engine"
	"transit-ingest/internal/feed"
	"transit-ingest/internal/metrics"
	"transit-ingest/internal/publisher"
	"transit-ingest/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store open error: %v", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("store ping error: %v", err)
	}
	if err := st.Init(ctx); err != nil {
		log.Fatalf("store init error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.CacheTTL)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// NATS publisher, only when a URL is configured
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
	}

	client := feed.NewClient(cfg.FeedBaseURL, cfg.FeedTimeout, cfg.RetryMaxAttempts, cfg.RetryBaseDelay)

	eng := engine.New(client, st, wrapSchedulerMetrics(mcol), wrapReadMetrics(mcol), cyclePublisher(pub), engine.Options{
		Thresholds: analytics.Thresholds{
			CongestionMedium:   cfg.CongestionMediumThreshold,
			CongestionHigh:     cfg.CongestionHighThreshold,
			HighImpactWeight:   cfg.HighImpactWeight,
			PunctualityMinutes: float64(cfg.PunctualityThresholdMin),
		},
		Location:     cfg.Location,
		PollInterval: cfg.PollInterval,
		WriteTimeout: cfg.WriteTimeout,
		CacheTTL:     cfg.CacheTTL,
		Retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	})

	// Seed the historical delay record before the first cycle runs
	if cfg.DelaySeedPath != "" {
		events, err := store.LoadDelaysFromFile(cfg.DelaySeedPath)
		if err != nil {
			log.Fatalf("delay seed error: %v", err)
		}
		if err := eng.SeedDelays(ctx, events); err != nil {
			log.Fatalf("delay seed error: %v", err)
		}
		log.Printf("seeded %d delay events from %s", len(events), cfg.DelaySeedPath)
	}

	eng.Start(ctx)

	// Block until context cancelled
	<-ctx.Done()
	eng.Stop()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// cyclePublisher avoids handing the engine a non-nil interface holding
// a nil *NATSPublisher.
func cyclePublisher(p *publisher.NATSPublisher) engine.CyclePublisher {
	if p == nil {
		return nil
	}
	return p
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()  { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc() { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

// wrapSchedulerMetrics adapts the Collector to the SchedulerMetrics interface.
func wrapSchedulerMetrics(c *metrics.Collector) engine.SchedulerMetrics {
	if c == nil {
		return nil
	}
	return &schedMetrics{c: c}
}

type schedMetrics struct{ c *metrics.Collector }

func (s *schedMetrics) CycleStarted() { s.c.CyclesTotal.Inc() }
func (s *schedMetrics) CycleFinished(d time.Duration, degraded bool) {
	s.c.CycleDuration.Observe(d.Seconds())
	if degraded {
		s.c.DegradedTotal.Inc()
	}
}
func (s *schedMetrics) FetchObserved(feedName string, d time.Duration) {
	s.c.FetchDuration.WithLabelValues(feedName).Observe(d.Seconds())
}
func (s *schedMetrics) FetchFailed(feedName, kind string) {
	s.c.FetchErrors.WithLabelValues(feedName, kind).Inc()
}
func (s *schedMetrics) RecordsValidated(feedName string, accepted, rejected int) {
	s.c.RecordsAccepted.WithLabelValues(feedName).Add(float64(accepted))
	s.c.RecordsRejected.WithLabelValues(feedName).Add(float64(rejected))
}
func (s *schedMetrics) StoreWriteRetried()           { s.c.StoreWriteRetries.Inc() }
func (s *schedMetrics) StateChanged(st engine.State) { s.c.SchedulerState.Set(float64(st)) }
func (s *schedMetrics) ActiveVehiclesSet(n int)      { s.c.ActiveVehicles.Set(float64(n)) }

// wrapReadMetrics adapts the Collector to the ReadMetrics interface.
func wrapReadMetrics(c *metrics.Collector) engine.ReadMetrics {
	if c == nil {
		return nil
	}
	return &readMetrics{c: c}
}

type readMetrics struct{ c *metrics.Collector }

func (r *readMetrics) CacheAgeObserved(view string, age time.Duration) {
	r.c.CacheAge.WithLabelValues(view).Set(age.Seconds())
}
