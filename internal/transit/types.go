package transit

import (
	"strings"
	"time"
)

// CongestionLevel is the coarse passenger-density classification used for
// both vehicles and stations.
type CongestionLevel string

const (
	CongestionLow     CongestionLevel = "LOW"
	CongestionMedium  CongestionLevel = "MEDIUM"
	CongestionHigh    CongestionLevel = "HIGH"
	CongestionUnknown CongestionLevel = "UNKNOWN"
)

// CongestionFromFeed maps the GTFS-RT congestion tokens the upstream feed
// emits onto the coarse levels. Unrecognized or empty tokens are UNKNOWN.
func CongestionFromFeed(s string) CongestionLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING_SMOOTHLY", "LOW":
		return CongestionLow
	case "STOP_AND_GO", "MEDIUM":
		return CongestionMedium
	case "CONGESTION", "SEVERE_CONGESTION", "HIGH":
		return CongestionHigh
	default:
		return CongestionUnknown
	}
}

// ImpactLevel classifies the severity of a recorded delay event.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// ParseImpactLevel returns the impact level for a raw token, and whether the
// token was one of the known levels.
func ParseImpactLevel(s string) (ImpactLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ImpactLow, true
	case "medium":
		return ImpactMedium, true
	case "high":
		return ImpactHigh, true
	}
	return "", false
}

// Period is the service-period classifier derived from a snapshot timestamp.
// It is never taken from the feed.
type Period string

const (
	PeriodPeak    Period = "peak"
	PeriodOffPeak Period = "off_peak"
	PeriodNight   Period = "night"
)

// PeriodOf classifies a local time: peak is 07-09 and 17-19 inclusive,
// night is 22:00 onward and up to 06:59, everything else is off-peak.
func PeriodOf(t time.Time) Period {
	h := t.Hour()
	switch {
	case (h >= 7 && h <= 9) || (h >= 17 && h <= 19):
		return PeriodPeak
	case h >= 22 || h <= 6:
		return PeriodNight
	default:
		return PeriodOffPeak
	}
}

// VehicleSnapshot is one vehicle's validated state at a single timestamp.
// Snapshots are superseded by later ones for the same vehicle, never mutated.
type VehicleSnapshot struct {
	VehicleID       string          `json:"vehicleId"`
	TripID          string          `json:"tripId"`
	LineID          string          `json:"lineId"`
	Latitude        float64         `json:"latitude"`
	Longitude       float64         `json:"longitude"`
	Bearing         float64         `json:"bearing"`
	Speed           float64         `json:"speed"` // km/h
	Timestamp       int64           `json:"timestamp"`
	CongestionLevel CongestionLevel `json:"congestionLevel"`
	OccupancyStatus string          `json:"occupancyStatus,omitempty"`
}

// StationSnapshot is the passenger-flow state of a station at a single
// timestamp.
type StationSnapshot struct {
	StationID      string    `json:"stationId"`
	StationName    string    `json:"stationName"`
	LineID         string    `json:"lineId"`
	PassengerCount int       `json:"passengerCount"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      string    `json:"direction"`
	Period         Period    `json:"period"`
}

// DelayEvent is one recorded delay occurrence. The store treats these as
// append-only.
type DelayEvent struct {
	LineID       string      `json:"lineId"`
	StationID    string      `json:"stationId,omitempty"`
	DelayMinutes int         `json:"delayMinutes"`
	Date         time.Time   `json:"date"`
	Cause        string      `json:"cause"`
	Impact       ImpactLevel `json:"impactLevel"`
}
