package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Upstream feeds
	FeedBaseURL      string
	FeedTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Ingestion cadence
	PollInterval time.Duration
	CacheTTL     time.Duration

	// Storage
	DatabaseURL   string
	WriteTimeout  time.Duration
	RetentionDays int
	DelaySeedPath string

	// Analytics thresholds (deployment constants, not behavior)
	CongestionMediumThreshold int
	CongestionHighThreshold   int
	HighImpactWeight          float64
	PunctualityThresholdMin   int

	// Operational surfaces
	NATSURL     string
	MetricsAddr string
	Location    *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.FeedBaseURL = strings.TrimRight(os.Getenv("FEED_BASE_URL"), "/")
	if cfg.FeedBaseURL == "" {
		return nil, errors.New("FEED_BASE_URL must be set")
	}

	var err error
	if cfg.FeedTimeout, err = durationMS("FEED_TIMEOUT_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = durationMS("RETRY_BASE_DELAY_MS", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationSec("POLL_INTERVAL_SEC", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationSec("CACHE_TTL_SEC", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = durationMS("WRITE_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = intEnv("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = intEnv("RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.CongestionMediumThreshold, err = intEnv("CONGESTION_MEDIUM_THRESHOLD", 500); err != nil {
		return nil, err
	}
	if cfg.CongestionHighThreshold, err = intEnv("CONGESTION_HIGH_THRESHOLD", 1000); err != nil {
		return nil, err
	}
	if cfg.PunctualityThresholdMin, err = intEnv("PUNCTUALITY_THRESHOLD_MIN", 5); err != nil {
		return nil, err
	}
	if v := os.Getenv("HIGH_IMPACT_WEIGHT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid HIGH_IMPACT_WEIGHT: %q", v)
		}
		cfg.HighImpactWeight = f
	} else {
		cfg.HighImpactWeight = 10.0
	}
	if cfg.CongestionHighThreshold < cfg.CongestionMediumThreshold {
		return nil, errors.New("CONGESTION_HIGH_THRESHOLD must be >= CONGESTION_MEDIUM_THRESHOLD")
	}

	// Database DSN: prefer DATABASE_URL / PG_DSN, then SQLITE_PATH,
	// else build a postgres DSN from PG* vars.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if p := os.Getenv("SQLITE_PATH"); p != "" {
			dsn = p
		}
	}
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("one of DATABASE_URL, SQLITE_PATH or PGDATABASE must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.DatabaseURL = dsn

	cfg.DelaySeedPath = os.Getenv("DELAY_SEED_PATH")

	// NATS is optional: empty disables the event publisher.
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone, used for the service-period classifier
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func durationMS(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func durationSec(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
