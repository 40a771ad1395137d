package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-ingest/internal/feed"
	"transit-ingest/internal/transit"
)

func vehicleRecord(id string, lat, lon, speed float64, ts int64) feed.VehicleRecord {
	var r feed.VehicleRecord
	r.Vehicle.ID = id
	r.Trip.TripID = "trip-" + id
	r.Trip.RouteID = "1"
	r.Position.Latitude = lat
	r.Position.Longitude = lon
	r.Position.Speed = speed
	r.Timestamp = ts
	r.CongestionLevel = "RUNNING_SMOOTHLY"
	return r
}

func TestVehiclesDropsOutOfRange(t *testing.T) {
	now := time.Now().Unix()
	raw := []feed.VehicleRecord{
		vehicleRecord("ok", 48.85, 2.35, 32.5, now),
		vehicleRecord("", 48.85, 2.35, 10, now),
		vehicleRecord("bad-lat", 91.0, 2.35, 10, now),
		vehicleRecord("bad-lon", 48.85, -181.0, 10, now),
		vehicleRecord("bad-speed", 48.85, 2.35, -3, now),
		vehicleRecord("bad-ts", 48.85, 2.35, 10, 0),
	}

	accepted, rejected := Vehicles(raw)

	require.Len(t, accepted, 1)
	assert.Equal(t, "ok", accepted[0].VehicleID)
	assert.Equal(t, transit.CongestionLow, accepted[0].CongestionLevel)
	assert.Len(t, rejected, 5)
}

func TestVehiclesRejectionDoesNotBlockBatch(t *testing.T) {
	now := time.Now().Unix()
	raw := []feed.VehicleRecord{
		vehicleRecord("a", 48.85, 2.35, 10, now),
		vehicleRecord("bad", 0, 200, 10, now),
		vehicleRecord("b", 48.86, 2.36, 12, now),
	}

	accepted, rejected := Vehicles(raw)

	require.Len(t, accepted, 2)
	assert.Equal(t, "a", accepted[0].VehicleID)
	assert.Equal(t, "b", accepted[1].VehicleID)
	require.Len(t, rejected, 1)
	assert.Equal(t, "bad", rejected[0].Key)
}

func TestVehiclesNormalizesBearing(t *testing.T) {
	now := time.Now().Unix()
	cases := []struct {
		in   float64
		want float64
	}{
		{370, 10},
		{-90, 270},
		{720, 0},
		{359.5, 359.5},
	}
	for _, c := range cases {
		r := vehicleRecord("v", 48.85, 2.35, 10, now)
		r.Position.Bearing = c.in
		accepted, rejected := Vehicles([]feed.VehicleRecord{r})
		require.Empty(t, rejected)
		assert.InDelta(t, c.want, accepted[0].Bearing, 1e-9, "bearing %f", c.in)
	}
}

func TestStations(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// 08:15 Paris time: peak
	ts := time.Date(2024, 3, 15, 8, 15, 0, 0, paris)
	raw := []feed.StationRecord{
		{ID: "chatelet", Name: "Châtelet", LineID: "1", PassengerCount: 1200, Timestamp: ts.Format(time.RFC3339), Direction: "east"},
		{ID: "", Name: "nameless", PassengerCount: 10, Timestamp: ts.Format(time.RFC3339)},
		{ID: "negative", PassengerCount: -1, Timestamp: ts.Format(time.RFC3339)},
		{ID: "bad-ts", PassengerCount: 10, Timestamp: "yesterday"},
	}

	accepted, rejected := Stations(raw, paris)

	require.Len(t, accepted, 1)
	assert.Equal(t, "chatelet", accepted[0].StationID)
	assert.Equal(t, 1200, accepted[0].PassengerCount)
	assert.Equal(t, transit.PeriodPeak, accepted[0].Period)
	assert.Len(t, rejected, 3)
}

func TestStationsPeriodUsesLocalTime(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// 23:30 UTC is 00:30 in Paris (winter): night either way, but
	// 17:30 UTC is 18:30 Paris, which is peak only locally.
	ts := time.Date(2024, 1, 15, 17, 30, 0, 0, time.UTC)
	raw := []feed.StationRecord{
		{ID: "s1", PassengerCount: 5, Timestamp: ts.Format(time.RFC3339)},
	}

	accepted, rejected := Stations(raw, paris)
	require.Empty(t, rejected)
	assert.Equal(t, transit.PeriodPeak, accepted[0].Period)
}

func TestDelay(t *testing.T) {
	valid := transit.DelayEvent{
		LineID:       "1",
		StationID:    "chatelet",
		DelayMinutes: 12,
		Date:         time.Now(),
		Cause:        "signal failure",
		Impact:       transit.ImpactHigh,
	}
	assert.NoError(t, Delay(valid))

	missing := valid
	missing.LineID = ""
	assert.Error(t, Delay(missing))

	negative := valid
	negative.DelayMinutes = -5
	assert.Error(t, Delay(negative))

	badImpact := valid
	badImpact.Impact = "huge"
	assert.Error(t, Delay(badImpact))

	noDate := valid
	noDate.Date = time.Time{}
	assert.Error(t, Delay(noDate))
}
