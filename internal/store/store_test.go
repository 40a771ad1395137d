package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-ingest/internal/transit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func vehicle(id, lineID string, ts int64) transit.VehicleSnapshot {
	return transit.VehicleSnapshot{
		VehicleID:       id,
		TripID:          "trip-" + id,
		LineID:          lineID,
		Latitude:        48.85,
		Longitude:       2.35,
		Bearing:         90,
		Speed:           30,
		Timestamp:       ts,
		CongestionLevel: transit.CongestionLow,
	}
}

func TestInitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(context.Background()))
}

func TestSaveVehiclesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := []transit.VehicleSnapshot{vehicle("v1", "1", 1000), vehicle("v2", "1", 1000)}

	require.NoError(t, s.SaveVehicles(ctx, batch))
	require.NoError(t, s.SaveVehicles(ctx, batch)) // same (vehicle_id, ts): no-op

	vehicles, _, _, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, vehicles)
}

func TestQueryVehiclesLatestPerVehicle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveVehicles(ctx, []transit.VehicleSnapshot{
		vehicle("v1", "1", 1000),
		vehicle("v1", "1", 2000),
		vehicle("v2", "1", 1500),
		vehicle("v3", "4", 1800),
	}))

	all, err := s.QueryVehicles(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, v := range all {
		if v.VehicleID == "v1" {
			assert.EqualValues(t, 2000, v.Timestamp)
		}
	}

	line1, err := s.QueryVehicles(ctx, "1", 0)
	require.NoError(t, err)
	assert.Len(t, line1, 2)

	limited, err := s.QueryVehicles(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	// newest first
	assert.EqualValues(t, 2000, limited[0].Timestamp)
}

func TestSaveAndQueryStations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

	batch := []transit.StationSnapshot{
		{StationID: "chatelet", StationName: "Châtelet", LineID: "1", PassengerCount: 1000, Timestamp: base, Period: transit.PeriodPeak},
		{StationID: "chatelet", StationName: "Châtelet", LineID: "1", PassengerCount: 1200, Timestamp: base.Add(30 * time.Second), Period: transit.PeriodPeak},
		{StationID: "bastille", StationName: "Bastille", LineID: "1", PassengerCount: 400, Timestamp: base, Period: transit.PeriodPeak},
	}
	require.NoError(t, s.SaveStations(ctx, batch))
	require.NoError(t, s.SaveStations(ctx, batch))

	history, err := s.QueryStationHistory(ctx, "chatelet", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, history, 2)
	// oldest first
	assert.Equal(t, 1000, history[0].PassengerCount)
	assert.Equal(t, 1200, history[1].PassengerCount)
	assert.Equal(t, transit.PeriodPeak, history[0].Period)

	// window excludes earlier snapshots
	late, err := s.QueryStationHistory(ctx, "chatelet", base.Add(10*time.Second), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, late, 1)
}

func TestAppendAndQueryDelays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	batch := []transit.DelayEvent{
		{LineID: "1", StationID: "chatelet", DelayMinutes: 12, Date: base, Cause: "signal failure", Impact: transit.ImpactHigh},
		{LineID: "1", StationID: "bastille", DelayMinutes: 3, Date: base.Add(time.Hour), Cause: "crowding", Impact: transit.ImpactLow},
		{LineID: "4", StationID: "chatelet", DelayMinutes: 8, Date: base, Cause: "rolling stock", Impact: transit.ImpactMedium},
	}
	require.NoError(t, s.AppendDelays(ctx, batch))
	require.NoError(t, s.AppendDelays(ctx, batch)) // duplicates ignored

	_, _, delays, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, delays)

	line1, err := s.QueryDelays(ctx, "1", "", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, line1, 2)
	// newest first
	assert.Equal(t, "bastille", line1[0].StationID)

	chatelet, err := s.QueryDelays(ctx, "", "chatelet", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, chatelet, 2)

	both, err := s.QueryDelays(ctx, "1", "chatelet", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, 12, both[0].DelayMinutes)
	assert.Equal(t, transit.ImpactHigh, both[0].Impact)

	none, err := s.QueryDelays(ctx, "1", "", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCountActiveVehicles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveVehicles(ctx, []transit.VehicleSnapshot{
		vehicle("v1", "1", now.Unix()),
		vehicle("v1", "1", now.Add(-time.Minute).Unix()), // same vehicle, counted once
		vehicle("v2", "1", now.Add(-10*time.Minute).Unix()),
		vehicle("v3", "4", now.Unix()),
	}))

	n, err := s.CountActiveVehicles(ctx, "1", now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountActiveVehicles(ctx, "", now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPruneKeepsDelays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)

	require.NoError(t, s.SaveVehicles(ctx, []transit.VehicleSnapshot{
		vehicle("v1", "1", old.Unix()),
		vehicle("v2", "1", now.Unix()),
	}))
	require.NoError(t, s.SaveStations(ctx, []transit.StationSnapshot{
		{StationID: "s1", PassengerCount: 10, Timestamp: old, Period: transit.PeriodOffPeak},
	}))
	require.NoError(t, s.AppendDelays(ctx, []transit.DelayEvent{
		{LineID: "1", DelayMinutes: 5, Date: old, Cause: "old", Impact: transit.ImpactLow},
	}))

	n, err := s.Prune(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	vehicles, stations, delays, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, vehicles)
	assert.EqualValues(t, 0, stations)
	assert.EqualValues(t, 1, delays)
}

func TestLoadDelaysFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delays.json")
	payload := `[
		{"lineId": "1", "stationId": "chatelet", "delayMinutes": 12, "date": "2024-03-10T12:00:00Z", "cause": "signal failure", "impactLevel": "high"},
		{"lineId": "4", "delayMinutes": 3, "date": "2024-03-11T09:00:00Z", "cause": "crowding", "impactLevel": "low"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	events, err := LoadDelaysFromFile(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].LineID)
	assert.Equal(t, transit.ImpactHigh, events[0].Impact)
	assert.Equal(t, 3, events[1].DelayMinutes)

	_, err = LoadDelaysFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
