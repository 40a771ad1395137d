package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"transit-ingest/internal/transit"
)

// SaveVehicles writes a validated batch in one transaction. Saves are
// idempotent per (vehicle_id, ts): re-saving an identical snapshot is a no-op.
func (s *Store) SaveVehicles(ctx context.Context, batch []transit.VehicleSnapshot) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vehicles write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := `INSERT INTO vehicle_snapshots
	(vehicle_id, trip_id, line_id, latitude, longitude, bearing, speed, ts, congestion_level, occupancy_status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (vehicle_id, ts) DO NOTHING`
	for _, v := range batch {
		if _, err := tx.ExecContext(ctx, q,
			v.VehicleID, v.TripID, v.LineID, v.Latitude, v.Longitude,
			v.Bearing, v.Speed, v.Timestamp, string(v.CongestionLevel), v.OccupancyStatus,
		); err != nil {
			return fmt.Errorf("insert vehicle %s: %w", v.VehicleID, err)
		}
	}
	return tx.Commit()
}

// SaveStations writes a validated station batch, idempotent per
// (station_id, line_id, ts).
func (s *Store) SaveStations(ctx context.Context, batch []transit.StationSnapshot) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stations write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := `INSERT INTO station_snapshots
	(station_id, station_name, line_id, passenger_count, ts, direction, period)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (station_id, line_id, ts) DO NOTHING`
	for _, st := range batch {
		if _, err := tx.ExecContext(ctx, q,
			st.StationID, st.StationName, st.LineID, st.PassengerCount,
			st.Timestamp.Unix(), st.Direction, string(st.Period),
		); err != nil {
			return fmt.Errorf("insert station %s: %w", st.StationID, err)
		}
	}
	return tx.Commit()
}

// AppendDelays appends delay events. The store is append-only for delays;
// duplicates of an already-recorded event are ignored.
func (s *Store) AppendDelays(ctx context.Context, batch []transit.DelayEvent) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delays write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := `INSERT INTO delay_events
	(line_id, station_id, delay_minutes, event_date, cause, impact_level)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (line_id, station_id, event_date, cause, delay_minutes) DO NOTHING`
	for _, d := range batch {
		if _, err := tx.ExecContext(ctx, q,
			d.LineID, d.StationID, d.DelayMinutes, d.Date.Unix(), d.Cause, string(d.Impact),
		); err != nil {
			return fmt.Errorf("insert delay for line %s: %w", d.LineID, err)
		}
	}
	return tx.Commit()
}

// QueryVehicles returns the most recent snapshot per vehicle, newest first,
// optionally filtered by line. limit <= 0 means no limit.
func (s *Store) QueryVehicles(ctx context.Context, lineID string, limit int) ([]transit.VehicleSnapshot, error) {
	base := `SELECT v.vehicle_id, v.trip_id, v.line_id, v.latitude, v.longitude,
	       v.bearing, v.speed, v.ts, v.congestion_level, v.occupancy_status
	FROM vehicle_snapshots v
	JOIN (SELECT vehicle_id, MAX(ts) AS max_ts FROM vehicle_snapshots GROUP BY vehicle_id) latest
	  ON latest.vehicle_id = v.vehicle_id AND latest.max_ts = v.ts`

	var rows *sql.Rows
	var err error
	if lineID != "" {
		q := base + ` WHERE v.line_id = $1 ORDER BY v.ts DESC`
		if limit > 0 {
			q += ` LIMIT $2`
			rows, err = s.db.QueryContext(ctx, q, lineID, limit)
		} else {
			rows, err = s.db.QueryContext(ctx, q, lineID)
		}
	} else {
		q := base + ` ORDER BY v.ts DESC`
		if limit > 0 {
			q += ` LIMIT $1`
			rows, err = s.db.QueryContext(ctx, q, limit)
		} else {
			rows, err = s.db.QueryContext(ctx, q)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	var out []transit.VehicleSnapshot
	for rows.Next() {
		var v transit.VehicleSnapshot
		var congestion string
		if err := rows.Scan(&v.VehicleID, &v.TripID, &v.LineID, &v.Latitude, &v.Longitude,
			&v.Bearing, &v.Speed, &v.Timestamp, &congestion, &v.OccupancyStatus); err != nil {
			return nil, err
		}
		v.CongestionLevel = transit.CongestionLevel(congestion)
		out = append(out, v)
	}
	return out, rows.Err()
}

// QueryStationHistory returns a station's snapshots within [start, end],
// oldest first.
func (s *Store) QueryStationHistory(ctx context.Context, stationID string, start, end time.Time) ([]transit.StationSnapshot, error) {
	q := `SELECT station_id, station_name, line_id, passenger_count, ts, direction, period
	FROM station_snapshots
	WHERE station_id = $1 AND ts >= $2 AND ts <= $3
	ORDER BY ts ASC`
	rows, err := s.db.QueryContext(ctx, q, stationID, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("query station history: %w", err)
	}
	defer rows.Close()

	var out []transit.StationSnapshot
	for rows.Next() {
		var st transit.StationSnapshot
		var ts int64
		var period string
		if err := rows.Scan(&st.StationID, &st.StationName, &st.LineID,
			&st.PassengerCount, &ts, &st.Direction, &period); err != nil {
			return nil, err
		}
		st.Timestamp = time.Unix(ts, 0).UTC()
		st.Period = transit.Period(period)
		out = append(out, st)
	}
	return out, rows.Err()
}

// QueryDelays returns delay events since the given time, newest first.
// Empty lineID/stationID skip that filter.
func (s *Store) QueryDelays(ctx context.Context, lineID, stationID string, since time.Time) ([]transit.DelayEvent, error) {
	q := `SELECT line_id, station_id, delay_minutes, event_date, cause, impact_level
	FROM delay_events WHERE event_date >= $1`
	args := []any{since.Unix()}
	if lineID != "" {
		args = append(args, lineID)
		q += fmt.Sprintf(" AND line_id = $%d", len(args))
	}
	if stationID != "" {
		args = append(args, stationID)
		q += fmt.Sprintf(" AND station_id = $%d", len(args))
	}
	q += " ORDER BY event_date DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query delays: %w", err)
	}
	defer rows.Close()

	var out []transit.DelayEvent
	for rows.Next() {
		var d transit.DelayEvent
		var date int64
		var impact string
		if err := rows.Scan(&d.LineID, &d.StationID, &d.DelayMinutes, &date, &d.Cause, &impact); err != nil {
			return nil, err
		}
		d.Date = time.Unix(date, 0).UTC()
		d.Impact = transit.ImpactLevel(impact)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountActiveVehicles counts distinct vehicles seen since the given time,
// optionally restricted to one line.
func (s *Store) CountActiveVehicles(ctx context.Context, lineID string, since time.Time) (int, error) {
	var n int
	var err error
	if lineID != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT vehicle_id) FROM vehicle_snapshots WHERE line_id = $1 AND ts >= $2`,
			lineID, since.Unix()).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT vehicle_id) FROM vehicle_snapshots WHERE ts >= $1`,
			since.Unix()).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count active vehicles: %w", err)
	}
	return n, nil
}

// Prune removes vehicle and station snapshots older than the cutoff.
// Delay events are append-only and never pruned.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.Unix()
	var total int64
	for _, q := range []string{
		`DELETE FROM vehicle_snapshots WHERE ts < $1`,
		`DELETE FROM station_snapshots WHERE ts < $1`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune snapshots: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// Counts reports per-table row counts for operational stats.
func (s *Store) Counts(ctx context.Context) (vehicles, stations, delays int64, err error) {
	for _, c := range []struct {
		table string
		dst   *int64
	}{
		{"vehicle_snapshots", &vehicles},
		{"station_snapshots", &stations},
		{"delay_events", &delays},
	} {
		if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			err = fmt.Errorf("count %s: %w", c.table, err)
			return
		}
	}
	return
}
