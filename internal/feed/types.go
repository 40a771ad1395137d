package feed

// Wire types for the two upstream JSON feeds. These are raw, untrusted
// shapes; only the validator turns them into domain snapshots.

type vehicleFeedResponse struct {
	Entity []vehicleEntity `json:"entity"`
}

type vehicleEntity struct {
	Vehicle *VehicleRecord `json:"vehicle"`
}

// VehicleRecord mirrors one GTFS-RT-style vehicle entity as JSON.
type VehicleRecord struct {
	Vehicle struct {
		ID string `json:"id"`
	} `json:"vehicle"`
	Trip struct {
		TripID  string `json:"trip_id"`
		RouteID string `json:"route_id"`
	} `json:"trip"`
	Position struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Bearing   float64 `json:"bearing"`
		Speed     float64 `json:"speed"`
	} `json:"position"`
	Timestamp       int64  `json:"timestamp"`
	CongestionLevel string `json:"congestion_level"`
	OccupancyStatus string `json:"occupancy_status"`
}

type stationFeedResponse struct {
	Stations []StationRecord `json:"stations"`
}

// StationRecord mirrors one station-crowding entry as JSON.
type StationRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LineID         string `json:"line_id"`
	PassengerCount int    `json:"passenger_count"`
	Timestamp      string `json:"timestamp"`
	Direction      string `json:"direction"`
}
