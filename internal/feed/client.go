package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FetchError is the typed failure returned by the client. Transient failures
// (timeouts, connection errors, 5xx, rate limits) have already been retried
// with backoff by the time the caller sees one.
type FetchError struct {
	Feed      string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("fetch %s feed: %s failure: %v", e.Feed, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

const (
	vehiclePositionsPath = "/gtfs/rt/positions"
	stationCrowdingPath  = "/prim/stations"
)

// Client fetches the two upstream feeds. It never touches the cache or the
// store; its only side effect is the network call.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
}

func NewClient(baseURL string, timeout time.Duration, maxAttempts int, baseDelay time.Duration) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// FetchVehiclePositions retrieves the raw vehicle-position records.
func (c *Client) FetchVehiclePositions(ctx context.Context) ([]VehicleRecord, error) {
	var payload vehicleFeedResponse
	if err := c.fetch(ctx, "vehicles", vehiclePositionsPath, &payload); err != nil {
		return nil, err
	}
	records := make([]VehicleRecord, 0, len(payload.Entity))
	for _, e := range payload.Entity {
		if e.Vehicle == nil {
			continue // entity carries a trip update or alert, not a position
		}
		records = append(records, *e.Vehicle)
	}
	return records, nil
}

// FetchStationCrowding retrieves the raw station-crowding records.
func (c *Client) FetchStationCrowding(ctx context.Context) ([]StationRecord, error) {
	var payload stationFeedResponse
	if err := c.fetch(ctx, "stations", stationCrowdingPath, &payload); err != nil {
		return nil, err
	}
	return payload.Stations, nil
}

// fetch performs one GET with retries. Each attempt is bounded by the
// configured timeout; transient failures back off exponentially, permanent
// ones (non-429 4xx, undecodable payload) abort immediately.
func (c *Client) fetch(ctx context.Context, feedName, path string, out any) error {
	url := c.baseURL + path

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.baseDelay,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         c.timeout,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	permanent := false
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			permanent = true
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", url, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			// fallthrough to decode
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status %s", resp.Status)
		default:
			permanent = true
			return backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			permanent = true
			return backoff.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return &FetchError{Feed: feedName, Transient: !permanent, Err: err}
	}
	return nil
}
