package analytics

import (
	"time"

	"transit-ingest/internal/transit"
)

// Thresholds carries the tunable boundaries for congestion and
// performance classification. Zero values are replaced by defaults so
// a partially filled struct still behaves sensibly.
type Thresholds struct {
	CongestionMedium   int
	CongestionHigh     int
	HighImpactWeight   float64
	PunctualityMinutes float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.CongestionMedium <= 0 {
		t.CongestionMedium = 500
	}
	if t.CongestionHigh <= 0 {
		t.CongestionHigh = 1000
	}
	if t.HighImpactWeight <= 0 {
		t.HighImpactWeight = 10
	}
	if t.PunctualityMinutes <= 0 {
		t.PunctualityMinutes = 5
	}
	return t
}

// PerformanceRating buckets a line's composite delay score.
type PerformanceRating string

const (
	RatingExcellent PerformanceRating = "EXCELLENT"
	RatingGood      PerformanceRating = "GOOD"
	RatingFair      PerformanceRating = "FAIR"
	RatingPoor      PerformanceRating = "POOR"
	RatingUnknown   PerformanceRating = "UNKNOWN"
)

// StationCongestion summarizes recent crowding and delays at one station.
type StationCongestion struct {
	StationID        string                  `json:"station_id"`
	AvgPassengers    float64                 `json:"avg_passengers"`
	MaxPassengers    int                     `json:"max_passengers"`
	SampleCount      int                     `json:"sample_count"`
	CongestionLevel  transit.CongestionLevel `json:"congestion_level"`
	DelayEventCount  int                     `json:"delay_event_count"`
	AvgDelayMinutes  float64                 `json:"avg_delay_minutes"`
	PunctualityRatio float64                 `json:"punctuality_ratio"`
	NoData           bool                    `json:"no_data"`
}

// LinePerformance summarizes a line's delay history and fleet activity.
type LinePerformance struct {
	LineID           string            `json:"line_id"`
	AvgDelayMinutes  float64           `json:"avg_delay_minutes"`
	MaxDelayMinutes  float64           `json:"max_delay_minutes"`
	DelayEventCount  int               `json:"delay_event_count"`
	HighImpactRatio  float64           `json:"high_impact_ratio"`
	PunctualityRatio float64           `json:"punctuality_ratio"`
	Score            float64           `json:"score"`
	Rating           PerformanceRating `json:"rating"`
	ActiveVehicles   int               `json:"active_vehicles"`
	NoData           bool              `json:"no_data"`
}

// CongestionLevelFor maps an average passenger count to a level.
// Boundary values classify upward: exactly the medium threshold is
// MEDIUM, exactly the high threshold is HIGH.
func CongestionLevelFor(avgPassengers float64, t Thresholds) transit.CongestionLevel {
	t = t.withDefaults()
	switch {
	case avgPassengers >= float64(t.CongestionHigh):
		return transit.CongestionHigh
	case avgPassengers >= float64(t.CongestionMedium):
		return transit.CongestionMedium
	default:
		return transit.CongestionLow
	}
}

// ComputeStationCongestion aggregates crowding samples and delay events
// for one station. Empty samples yield NoData with level UNKNOWN.
func ComputeStationCongestion(stationID string, samples []transit.StationSnapshot, delays []transit.DelayEvent, t Thresholds) StationCongestion {
	t = t.withDefaults()
	out := StationCongestion{StationID: stationID, CongestionLevel: transit.CongestionUnknown}
	if len(samples) == 0 {
		out.NoData = true
		return out
	}
	total := 0
	for _, s := range samples {
		total += s.PassengerCount
		if s.PassengerCount > out.MaxPassengers {
			out.MaxPassengers = s.PassengerCount
		}
	}
	out.SampleCount = len(samples)
	out.AvgPassengers = float64(total) / float64(len(samples))
	out.CongestionLevel = CongestionLevelFor(out.AvgPassengers, t)
	out.DelayEventCount = len(delays)
	out.AvgDelayMinutes = avgDelay(delays)
	out.PunctualityRatio = punctualityRatio(delays, t.PunctualityMinutes)
	return out
}

// ComputeLinePerformance scores a line from its delay history. The
// score grows with both average delay and the share of high-impact
// events, so a worse history never produces a better rating.
func ComputeLinePerformance(lineID string, delays []transit.DelayEvent, activeVehicles int, t Thresholds) LinePerformance {
	t = t.withDefaults()
	out := LinePerformance{LineID: lineID, Rating: RatingUnknown, ActiveVehicles: activeVehicles}
	if len(delays) == 0 {
		out.NoData = true
		return out
	}
	high := 0
	for _, d := range delays {
		if float64(d.DelayMinutes) > out.MaxDelayMinutes {
			out.MaxDelayMinutes = float64(d.DelayMinutes)
		}
		if d.Impact == transit.ImpactHigh {
			high++
		}
	}
	out.DelayEventCount = len(delays)
	out.AvgDelayMinutes = avgDelay(delays)
	out.HighImpactRatio = float64(high) / float64(len(delays))
	out.PunctualityRatio = punctualityRatio(delays, t.PunctualityMinutes)
	out.Score = out.AvgDelayMinutes + t.HighImpactWeight*out.HighImpactRatio
	out.Rating = classify(out.Score)
	return out
}

// classify buckets a score. Boundary values take the worse band.
func classify(score float64) PerformanceRating {
	switch {
	case score < 5:
		return RatingExcellent
	case score < 10:
		return RatingGood
	case score < 15:
		return RatingFair
	default:
		return RatingPoor
	}
}

func avgDelay(delays []transit.DelayEvent) float64 {
	if len(delays) == 0 {
		return 0
	}
	total := 0
	for _, d := range delays {
		total += d.DelayMinutes
	}
	return float64(total) / float64(len(delays))
}

// punctualityRatio is the share of delay events at or below the
// punctuality threshold.
func punctualityRatio(delays []transit.DelayEvent, thresholdMinutes float64) float64 {
	if len(delays) == 0 {
		return 0
	}
	onTime := 0
	for _, d := range delays {
		if float64(d.DelayMinutes) <= thresholdMinutes {
			onTime++
		}
	}
	return float64(onTime) / float64(len(delays))
}

// ActiveWithin counts vehicles whose last report falls inside the
// window ending at now.
func ActiveWithin(vehicles []transit.VehicleSnapshot, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window).Unix()
	seen := make(map[string]struct{}, len(vehicles))
	for _, v := range vehicles {
		if v.Timestamp >= cutoff {
			seen[v.VehicleID] = struct{}{}
		}
	}
	return len(seen)
}

// ActiveOnLine is ActiveWithin restricted to a single line.
func ActiveOnLine(vehicles []transit.VehicleSnapshot, lineID string, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window).Unix()
	seen := make(map[string]struct{})
	for _, v := range vehicles {
		if v.LineID == lineID && v.Timestamp >= cutoff {
			seen[v.VehicleID] = struct{}{}
		}
	}
	return len(seen)
}
