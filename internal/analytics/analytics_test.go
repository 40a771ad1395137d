package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"transit-ingest/internal/transit"
)

func station(id string, count int) transit.StationSnapshot {
	return transit.StationSnapshot{StationID: id, PassengerCount: count, Timestamp: time.Now()}
}

func delay(minutes int, impact transit.ImpactLevel) transit.DelayEvent {
	return transit.DelayEvent{LineID: "1", DelayMinutes: minutes, Date: time.Now(), Impact: impact}
}

func TestComputeStationCongestion(t *testing.T) {
	samples := []transit.StationSnapshot{
		station("chatelet", 1000),
		station("chatelet", 1200),
		station("chatelet", 1800),
	}
	delays := []transit.DelayEvent{
		delay(12, transit.ImpactHigh),
		delay(3, transit.ImpactLow),
		delay(6, transit.ImpactMedium),
	}

	got := ComputeStationCongestion("chatelet", samples, delays, Thresholds{})

	assert.InDelta(t, 1333.33, got.AvgPassengers, 0.01)
	assert.Equal(t, 1800, got.MaxPassengers)
	assert.Equal(t, 3, got.SampleCount)
	assert.Equal(t, transit.CongestionHigh, got.CongestionLevel)
	assert.Equal(t, 3, got.DelayEventCount)
	assert.InDelta(t, 7.0, got.AvgDelayMinutes, 1e-9)
	assert.InDelta(t, 1.0/3.0, got.PunctualityRatio, 1e-9)
	assert.False(t, got.NoData)
}

func TestComputeStationCongestionNoData(t *testing.T) {
	got := ComputeStationCongestion("ghost", nil, nil, Thresholds{})
	assert.True(t, got.NoData)
	assert.Equal(t, transit.CongestionUnknown, got.CongestionLevel)
}

func TestCongestionLevelBoundaries(t *testing.T) {
	// exact threshold values take the higher level
	assert.Equal(t, transit.CongestionLow, CongestionLevelFor(499.9, Thresholds{}))
	assert.Equal(t, transit.CongestionMedium, CongestionLevelFor(500, Thresholds{}))
	assert.Equal(t, transit.CongestionMedium, CongestionLevelFor(999.9, Thresholds{}))
	assert.Equal(t, transit.CongestionHigh, CongestionLevelFor(1000, Thresholds{}))
}

func TestCongestionLevelCustomThresholds(t *testing.T) {
	thr := Thresholds{CongestionMedium: 100, CongestionHigh: 200}
	assert.Equal(t, transit.CongestionLow, CongestionLevelFor(99, thr))
	assert.Equal(t, transit.CongestionMedium, CongestionLevelFor(150, thr))
	assert.Equal(t, transit.CongestionHigh, CongestionLevelFor(250, thr))
}

func TestComputeLinePerformance(t *testing.T) {
	delays := []transit.DelayEvent{
		delay(2, transit.ImpactLow),
		delay(4, transit.ImpactLow),
		delay(12, transit.ImpactHigh),
		delay(6, transit.ImpactMedium),
	}

	got := ComputeLinePerformance("1", delays, 14, Thresholds{})

	assert.InDelta(t, 6.0, got.AvgDelayMinutes, 1e-9)
	assert.InDelta(t, 12.0, got.MaxDelayMinutes, 1e-9)
	assert.Equal(t, 4, got.DelayEventCount)
	assert.InDelta(t, 0.25, got.HighImpactRatio, 1e-9)
	assert.InDelta(t, 0.5, got.PunctualityRatio, 1e-9) // 2 and 4 minutes are within the 5-minute threshold
	assert.Equal(t, 14, got.ActiveVehicles)
	// score = 6 + 10*0.25 = 8.5 -> GOOD
	assert.InDelta(t, 8.5, got.Score, 1e-9)
	assert.Equal(t, RatingGood, got.Rating)
}

func TestComputeLinePerformanceNoData(t *testing.T) {
	got := ComputeLinePerformance("1", nil, 3, Thresholds{})
	assert.True(t, got.NoData)
	assert.Equal(t, RatingUnknown, got.Rating)
	assert.Equal(t, 3, got.ActiveVehicles)
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, RatingExcellent, classify(4.999))
	assert.Equal(t, RatingGood, classify(5))
	assert.Equal(t, RatingGood, classify(9.999))
	assert.Equal(t, RatingFair, classify(10))
	assert.Equal(t, RatingFair, classify(14.999))
	assert.Equal(t, RatingPoor, classify(15))
}

func TestScoreIsMonotonic(t *testing.T) {
	base := []transit.DelayEvent{
		delay(3, transit.ImpactLow),
		delay(5, transit.ImpactLow),
	}
	before := ComputeLinePerformance("1", base, 0, Thresholds{})

	// Appending a worse event never improves the score.
	worse := append(append([]transit.DelayEvent{}, base...), delay(20, transit.ImpactHigh))
	after := ComputeLinePerformance("1", worse, 0, Thresholds{})

	assert.Greater(t, after.Score, before.Score)
	assert.GreaterOrEqual(t, ratingRank(after.Rating), ratingRank(before.Rating))
}

func ratingRank(r PerformanceRating) int {
	switch r {
	case RatingExcellent:
		return 0
	case RatingGood:
		return 1
	case RatingFair:
		return 2
	case RatingPoor:
		return 3
	}
	return -1
}

func TestPunctualityRatio(t *testing.T) {
	delays := []transit.DelayEvent{
		delay(1, transit.ImpactLow),
		delay(5, transit.ImpactLow), // exactly the threshold counts as punctual
		delay(9, transit.ImpactMedium),
	}
	got := ComputeLinePerformance("1", delays, 0, Thresholds{})
	assert.InDelta(t, 2.0/3.0, got.PunctualityRatio, 1e-9)
}

func TestActiveOnLine(t *testing.T) {
	now := time.Now()
	vehicles := []transit.VehicleSnapshot{
		{VehicleID: "v1", LineID: "1", Timestamp: now.Unix()},
		{VehicleID: "v1", LineID: "1", Timestamp: now.Add(-time.Minute).Unix()}, // duplicate vehicle
		{VehicleID: "v2", LineID: "1", Timestamp: now.Add(-10 * time.Minute).Unix()},
		{VehicleID: "v3", LineID: "4", Timestamp: now.Unix()},
	}

	assert.Equal(t, 1, ActiveOnLine(vehicles, "1", 5*time.Minute, now))
	assert.Equal(t, 2, ActiveWithin(vehicles, 5*time.Minute, now))
}
