package validate

import (
	"fmt"
	"math"
	"time"

	"transit-ingest/internal/feed"
	"transit-ingest/internal/transit"
)

// Rejection records why a single raw record was dropped. Rejections never
// block the rest of the batch.
type Rejection struct {
	Key    string
	Reason string
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Key, r.Reason)
}

// Vehicles applies the per-field range checks to raw vehicle records.
// Out-of-range coordinates, negative speeds and missing identifiers drop the
// record; bearing is the one normalizable field and is folded into [0,360).
func Vehicles(raw []feed.VehicleRecord) ([]transit.VehicleSnapshot, []Rejection) {
	accepted := make([]transit.VehicleSnapshot, 0, len(raw))
	var rejected []Rejection

	reject := func(id, reason string) {
		if id == "" {
			id = "<missing id>"
		}
		rejected = append(rejected, Rejection{Key: id, Reason: reason})
	}

	for _, r := range raw {
		id := r.Vehicle.ID
		switch {
		case id == "":
			reject(id, "missing vehicle id")
		case r.Position.Latitude < -90 || r.Position.Latitude > 90:
			reject(id, fmt.Sprintf("latitude %.4f out of range", r.Position.Latitude))
		case r.Position.Longitude < -180 || r.Position.Longitude > 180:
			reject(id, fmt.Sprintf("longitude %.4f out of range", r.Position.Longitude))
		case r.Position.Speed < 0:
			reject(id, fmt.Sprintf("negative speed %.2f", r.Position.Speed))
		case r.Timestamp <= 0:
			reject(id, "missing or non-positive timestamp")
		default:
			accepted = append(accepted, transit.VehicleSnapshot{
				VehicleID:       id,
				TripID:          r.Trip.TripID,
				LineID:          r.Trip.RouteID,
				Latitude:        r.Position.Latitude,
				Longitude:       r.Position.Longitude,
				Bearing:         normalizeBearing(r.Position.Bearing),
				Speed:           r.Position.Speed,
				Timestamp:       r.Timestamp,
				CongestionLevel: transit.CongestionFromFeed(r.CongestionLevel),
				OccupancyStatus: r.OccupancyStatus,
			})
		}
	}
	return accepted, rejected
}

// Stations validates raw station-crowding records. The period classifier is
// always derived from the timestamp, never taken from the feed.
func Stations(raw []feed.StationRecord, loc *time.Location) ([]transit.StationSnapshot, []Rejection) {
	if loc == nil {
		loc = time.Local
	}
	accepted := make([]transit.StationSnapshot, 0, len(raw))
	var rejected []Rejection

	reject := func(id, reason string) {
		if id == "" {
			id = "<missing id>"
		}
		rejected = append(rejected, Rejection{Key: id, Reason: reason})
	}

	for _, r := range raw {
		if r.ID == "" {
			reject(r.ID, "missing station id")
			continue
		}
		if r.PassengerCount < 0 {
			reject(r.ID, fmt.Sprintf("negative passenger count %d", r.PassengerCount))
			continue
		}
		ts, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			reject(r.ID, fmt.Sprintf("bad timestamp %q", r.Timestamp))
			continue
		}
		local := ts.In(loc)
		accepted = append(accepted, transit.StationSnapshot{
			StationID:      r.ID,
			StationName:    r.Name,
			LineID:         r.LineID,
			PassengerCount: r.PassengerCount,
			Timestamp:      ts,
			Direction:      r.Direction,
			Period:         transit.PeriodOf(local),
		})
	}
	return accepted, rejected
}

// Delay checks a delay event before it is appended to the store.
func Delay(ev transit.DelayEvent) error {
	if ev.LineID == "" {
		return fmt.Errorf("missing line id")
	}
	if ev.DelayMinutes < 0 {
		return fmt.Errorf("negative delay minutes %d", ev.DelayMinutes)
	}
	if _, ok := transit.ParseImpactLevel(string(ev.Impact)); !ok {
		return fmt.Errorf("unknown impact level %q", ev.Impact)
	}
	if ev.Date.IsZero() {
		return fmt.Errorf("missing event date")
	}
	return nil
}

func normalizeBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	return b
}
