package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
)

// Realtime tables hold exactly one category snapshot each. A Replace call
// swaps the whole table inside one transaction, so a reader of the store
// sees either the previous snapshot or the next one.

func (c *Client) inTx(ctx context.Context, operation string, fn func(q *Queries) error) error {
	logger := slog.Default().With(slog.String("component", "gtfsdb_realtime"))

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", operation, err)
	}
	defer logging.SafeRollbackWithLogging(tx, logger, operation)

	if err := fn(c.Queries.WithTx(tx)); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", operation, err)
	}
	return nil
}

// ReplaceAlerts stores alerts as the complete alert snapshot.
func (c *Client) ReplaceAlerts(ctx context.Context, alerts []models.Alert) error {
	return c.inTx(ctx, "replace_alerts", func(q *Queries) error {
		for _, stmt := range []string{"DELETE FROM rt_alert_periods", "DELETE FROM rt_alert_routes", "DELETE FROM rt_alerts"} {
			if _, err := q.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		for _, a := range alerts {
			if err := q.InsertAlert(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceVehicles stores vehicles as the complete vehicle snapshot.
func (c *Client) ReplaceVehicles(ctx context.Context, vehicles []models.VehiclePosition) error {
	return c.inTx(ctx, "replace_vehicles", func(q *Queries) error {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM rt_vehicles"); err != nil {
			return err
		}
		for _, v := range vehicles {
			if err := q.UpsertVehicle(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceStopTimeDelays stores delays as the complete trip-update snapshot.
func (c *Client) ReplaceStopTimeDelays(ctx context.Context, delays map[models.StopTimeKey]models.RealtimeDelay) error {
	return c.inTx(ctx, "replace_stop_time_delays", func(q *Queries) error {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM rt_stop_time_delays"); err != nil {
			return err
		}
		for key, d := range delays {
			if err := q.InsertStopTimeDelay(ctx, key, d); err != nil {
				return err
			}
		}
		return nil
	})
}

const insertAlert = `
INSERT INTO rt_alerts (id, header, description, url)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    header = excluded.header,
    description = excluded.description,
    url = excluded.url`

// InsertAlert writes one alert with its routes and periods. A repeated alert
// id replaces the earlier one.
func (q *Queries) InsertAlert(ctx context.Context, a models.Alert) error {
	if _, err := q.db.ExecContext(ctx, insertAlert, a.ID, a.Header, toNullString(a.Description), toNullString(a.URL)); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, "DELETE FROM rt_alert_routes WHERE alert_id = ?", a.ID); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, "DELETE FROM rt_alert_periods WHERE alert_id = ?", a.ID); err != nil {
		return err
	}
	for _, routeID := range a.RouteIDs {
		if _, err := q.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO rt_alert_routes (alert_id, route_id) VALUES (?, ?)", a.ID, routeID); err != nil {
			return err
		}
	}
	for pos, p := range a.ActivePeriods {
		if _, err := q.db.ExecContext(ctx,
			"INSERT INTO rt_alert_periods (alert_id, position, start_time, end_time) VALUES (?, ?, ?, ?)",
			a.ID, pos, toNullInt64Ptr(p.Start), toNullInt64Ptr(p.End)); err != nil {
			return err
		}
	}
	return nil
}

// ListAlerts returns the stored alert snapshot ordered by id.
func (q *Queries) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id, header, description, url FROM rt_alerts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "rt_alerts_rows")

	var items []models.Alert
	index := make(map[string]int)
	for rows.Next() {
		var i models.Alert
		var description, url sql.NullString
		if err := rows.Scan(&i.ID, &i.Header, &description, &url); err != nil {
			return nil, err
		}
		i.Description = description.String
		i.URL = url.String
		index[i.ID] = len(items)
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	routeRows, err := q.db.QueryContext(ctx, "SELECT alert_id, route_id FROM rt_alert_routes ORDER BY alert_id, route_id")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(routeRows, rowsLogger, "rt_alert_routes_rows")
	for routeRows.Next() {
		var alertID, routeID string
		if err := routeRows.Scan(&alertID, &routeID); err != nil {
			return nil, err
		}
		if pos, ok := index[alertID]; ok {
			items[pos].RouteIDs = append(items[pos].RouteIDs, routeID)
		}
	}
	if err := routeRows.Close(); err != nil {
		return nil, err
	}
	if err := routeRows.Err(); err != nil {
		return nil, err
	}

	periodRows, err := q.db.QueryContext(ctx,
		"SELECT alert_id, start_time, end_time FROM rt_alert_periods ORDER BY alert_id, position")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(periodRows, rowsLogger, "rt_alert_periods_rows")
	for periodRows.Next() {
		var alertID string
		var start, end sql.NullInt64
		if err := periodRows.Scan(&alertID, &start, &end); err != nil {
			return nil, err
		}
		if pos, ok := index[alertID]; ok {
			items[pos].ActivePeriods = append(items[pos].ActivePeriods, models.ActivePeriod{
				Start: fromNullInt64(start),
				End:   fromNullInt64(end),
			})
		}
	}
	if err := periodRows.Close(); err != nil {
		return nil, err
	}
	if err := periodRows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertVehicle = `
INSERT INTO rt_vehicles (vehicle_id, label, route_id, trip_id, lat, lon, current_status, stop_id, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (vehicle_id) DO UPDATE SET
    label = excluded.label,
    route_id = excluded.route_id,
    trip_id = excluded.trip_id,
    lat = excluded.lat,
    lon = excluded.lon,
    current_status = excluded.current_status,
    stop_id = excluded.stop_id,
    timestamp = excluded.timestamp`

// UpsertVehicle writes one vehicle. A repeated vehicle id replaces the earlier one.
func (q *Queries) UpsertVehicle(ctx context.Context, v models.VehiclePosition) error {
	var ts sql.NullInt64
	if v.Timestamp != nil {
		ts = sql.NullInt64{Int64: v.Timestamp.Unix(), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, upsertVehicle,
		v.VehicleID,
		toNullString(v.Label),
		toNullStringPtr(v.RouteID),
		toNullStringPtr(v.TripID),
		v.Latitude,
		v.Longitude,
		int64(v.Status),
		toNullStringPtr(v.CurrentStopID),
		ts,
	)
	return err
}

// ListVehicles returns the stored vehicle snapshot ordered by vehicle id.
func (q *Queries) ListVehicles(ctx context.Context) ([]models.VehiclePosition, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT vehicle_id, label, route_id, trip_id, lat, lon, current_status, stop_id, timestamp
		FROM rt_vehicles
		ORDER BY vehicle_id`)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "rt_vehicles_rows")

	var items []models.VehiclePosition
	for rows.Next() {
		var i models.VehiclePosition
		var label, routeID, tripID, stopID sql.NullString
		var status, ts sql.NullInt64
		if err := rows.Scan(&i.VehicleID, &label, &routeID, &tripID, &i.Latitude, &i.Longitude, &status, &stopID, &ts); err != nil {
			return nil, err
		}
		i.Label = label.String
		i.RouteID = fromNullString(routeID)
		i.TripID = fromNullString(tripID)
		i.CurrentStopID = fromNullString(stopID)
		i.Status = models.VehicleUnknown
		if status.Valid {
			i.Status = models.VehicleStatus(status.Int64)
		}
		if ts.Valid {
			t := time.Unix(ts.Int64, 0).UTC()
			i.Timestamp = &t
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertStopTimeDelay = `
INSERT INTO rt_stop_time_delays (trip_id, stop_sequence, arrival_delay, departure_delay)
VALUES (?, ?, ?, ?)
ON CONFLICT (trip_id, stop_sequence) DO UPDATE SET
    arrival_delay = excluded.arrival_delay,
    departure_delay = excluded.departure_delay`

func (q *Queries) InsertStopTimeDelay(ctx context.Context, key models.StopTimeKey, d models.RealtimeDelay) error {
	_, err := q.db.ExecContext(ctx, insertStopTimeDelay,
		key.TripID, key.StopSequence, toNullInt32Ptr(d.ArrivalDelay), toNullInt32Ptr(d.DepartureDelay))
	return err
}

// ListStopTimeDelays returns the stored trip-update snapshot.
func (q *Queries) ListStopTimeDelays(ctx context.Context) (map[models.StopTimeKey]models.RealtimeDelay, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT trip_id, stop_sequence, arrival_delay, departure_delay FROM rt_stop_time_delays")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "rt_stop_time_delays_rows")

	items := make(map[models.StopTimeKey]models.RealtimeDelay)
	for rows.Next() {
		var key models.StopTimeKey
		var arrival, departure sql.NullInt32
		if err := rows.Scan(&key.TripID, &key.StopSequence, &arrival, &departure); err != nil {
			return nil, err
		}
		items[key] = models.RealtimeDelay{
			ArrivalDelay:   fromNullInt32(arrival),
			DepartureDelay: fromNullInt32(departure),
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
