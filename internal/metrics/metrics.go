package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	CyclesTotal   prometheus.Counter
	DegradedTotal prometheus.Counter

	FetchErrors     *prometheus.CounterVec // feed, kind labels: transient|permanent
	RecordsAccepted *prometheus.CounterVec // feed label
	RecordsRejected *prometheus.CounterVec // feed label

	StoreWriteRetries prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	SchedulerState prometheus.Gauge
	ActiveVehicles prometheus.Gauge
	CacheAge       *prometheus.GaugeVec // view label: vehicles|stations

	FetchDuration *prometheus.HistogramVec // feed label
	CycleDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
	CacheTTL     prometheus.Gauge // seconds
}

func NewCollector(pollInterval, cacheTTL time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_cycles_total",
			Help: "Total ingestion cycles attempted.",
		}),
		DegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_degraded_cycles_total",
			Help: "Total cycles that ended degraded.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_fetch_errors_total",
			Help: "Total feed fetch failures after retries.",
		}, []string{"feed", "kind"}),
		RecordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_records_accepted_total",
			Help: "Total records that passed validation.",
		}, []string{"feed"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_records_rejected_total",
			Help: "Total records dropped by validation.",
		}, []string{"feed"}),
		StoreWriteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_store_write_retries_total",
			Help: "Total persistence writes that needed a retry.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SchedulerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_scheduler_state",
			Help: "Current scheduler state (0=idle 1=fetching 2=validating 3=persisting 4=cache_refresh 5=degraded).",
		}),
		ActiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_active_vehicles",
			Help: "Distinct vehicles seen in the latest cycle.",
		}),
		CacheAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingest_cache_age_seconds",
			Help: "Age of the cached view at the last read.",
		}, []string{"view"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Duration of feed fetches including retries.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"feed"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_cycle_duration_seconds",
			Help:    "Duration of full ingestion cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_poll_interval_seconds",
			Help: "Configured poll interval in seconds.",
		}),
		CacheTTL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_cache_ttl_seconds",
			Help: "Configured cache TTL in seconds.",
		}),
	}

	// Register
	reg.MustRegister(
		c.CyclesTotal, c.DegradedTotal,
		c.FetchErrors, c.RecordsAccepted, c.RecordsRejected,
		c.StoreWriteRetries,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.SchedulerState, c.ActiveVehicles, c.CacheAge,
		c.FetchDuration, c.CycleDuration,
		c.PollInterval, c.CacheTTL,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.CacheTTL.Set(cacheTTL.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
