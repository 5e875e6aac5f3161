package gtfsdb

import (
	"context"
	"database/sql"
	"log/slog"

	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
)

var rowsLogger = slog.Default().With(slog.String("component", "gtfsdb_queries"))

type ImportMetadata struct {
	ID         int64
	FileHash   string
	ImportTime int64
	FileSource string
}

type UpsertImportMetadataParams struct {
	FileHash   string
	ImportTime int64
	FileSource string
}

const getImportMetadata = `SELECT id, file_hash, import_time, file_source FROM import_metadata WHERE id = 1`

func (q *Queries) GetImportMetadata(ctx context.Context) (ImportMetadata, error) {
	row := q.db.QueryRowContext(ctx, getImportMetadata)
	var i ImportMetadata
	err := row.Scan(&i.ID, &i.FileHash, &i.ImportTime, &i.FileSource)
	return i, err
}

const upsertImportMetadata = `
INSERT INTO import_metadata (id, file_hash, import_time, file_source)
VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    file_hash = excluded.file_hash,
    import_time = excluded.import_time,
    file_source = excluded.file_source`

func (q *Queries) UpsertImportMetadata(ctx context.Context, arg UpsertImportMetadataParams) error {
	_, err := q.db.ExecContext(ctx, upsertImportMetadata, arg.FileHash, arg.ImportTime, arg.FileSource)
	return err
}

const listAgencies = `SELECT id, name, url, timezone FROM agencies ORDER BY id`

func (q *Queries) ListAgencies(ctx context.Context) ([]models.Agency, error) {
	rows, err := q.db.QueryContext(ctx, listAgencies)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "agencies_rows")

	var items []models.Agency
	for rows.Next() {
		var i models.Agency
		var url sql.NullString
		if err := rows.Scan(&i.ID, &i.Name, &url, &i.Timezone); err != nil {
			return nil, err
		}
		i.URL = url.String
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

const listRoutes = `
SELECT id, agency_id, short_name, long_name, color, text_color, sort_order
FROM routes
ORDER BY id`

func (q *Queries) ListRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := q.db.QueryContext(ctx, listRoutes)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "routes_rows")

	var items []models.Route
	for rows.Next() {
		var i models.Route
		var shortName, longName, color, textColor sql.NullString
		var sortOrder sql.NullInt64
		if err := rows.Scan(&i.ID, &i.AgencyID, &shortName, &longName, &color, &textColor, &sortOrder); err != nil {
			return nil, err
		}
		i.ShortName = shortName.String
		i.LongName = longName.String
		i.Color = color.String
		i.TextColor = textColor.String
		if sortOrder.Valid {
			order := int(sortOrder.Int64)
			i.SortOrder = &order
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

const listTrips = `
SELECT id, route_id, service_id, direction_id, trip_short_name, trip_headsign
FROM trips
ORDER BY id`

func (q *Queries) ListTrips(ctx context.Context) ([]models.Trip, error) {
	rows, err := q.db.QueryContext(ctx, listTrips)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "trips_rows")

	var items []models.Trip
	for rows.Next() {
		var i models.Trip
		var direction sql.NullString
		var shortName, headsign sql.NullString
		if err := rows.Scan(&i.ID, &i.RouteID, &i.ServiceID, &direction, &shortName, &headsign); err != nil {
			return nil, err
		}
		i.DirectionID = direction.String
		i.ShortName = shortName.String
		i.Headsign = headsign.String
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

const listStopTimes = `
SELECT trip_id, stop_sequence, stop_id, arrival_time, departure_time
FROM stop_times
ORDER BY trip_id, stop_sequence`

func (q *Queries) ListStopTimes(ctx context.Context) ([]models.StopTime, error) {
	return q.queryStopTimes(ctx, listStopTimes)
}

const getStopTimesForTrip = `
SELECT trip_id, stop_sequence, stop_id, arrival_time, departure_time
FROM stop_times
WHERE trip_id = ?
ORDER BY stop_sequence`

func (q *Queries) GetStopTimesForTrip(ctx context.Context, tripID string) ([]models.StopTime, error) {
	return q.queryStopTimes(ctx, getStopTimesForTrip, tripID)
}

// queryStopTimes renders the stored second offsets as HH:MM:SS service times.
func (q *Queries) queryStopTimes(ctx context.Context, query string, args ...interface{}) ([]models.StopTime, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "stop_times_rows")

	var items []models.StopTime
	for rows.Next() {
		var i models.StopTime
		var arrival, departure int64
		if err := rows.Scan(&i.TripID, &i.StopSequence, &i.StopID, &arrival, &departure); err != nil {
			return nil, err
		}
		i.ArrivalTime = realtime.FormatServiceTime(int(arrival))
		i.DepartureTime = realtime.FormatServiceTime(int(departure))
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

const listStops = `SELECT id, code, name, lat, lon FROM stops ORDER BY id`

func (q *Queries) ListStops(ctx context.Context) ([]models.Stop, error) {
	rows, err := q.db.QueryContext(ctx, listStops)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "stops_rows")

	var items []models.Stop
	for rows.Next() {
		var i models.Stop
		var code, name sql.NullString
		if err := rows.Scan(&i.ID, &code, &name, &i.Latitude, &i.Longitude); err != nil {
			return nil, err
		}
		i.Code = code.String
		i.Name = name.String
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

const listCalendar = `
SELECT id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date
FROM calendar
ORDER BY id`

const listCalendarDates = `
SELECT service_id, date, exception_type
FROM calendar_dates
ORDER BY service_id, date`

// ListServices joins calendar and calendar_dates into one Service per
// service id. A service that appears only in calendar_dates has no weekly
// pattern.
func (q *Queries) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := q.db.QueryContext(ctx, listCalendar)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, rowsLogger, "calendar_rows")

	var items []models.Service
	index := make(map[string]int)
	for rows.Next() {
		var i models.Service
		var mon, tue, wed, thu, fri, sat, sun int64
		if err := rows.Scan(&i.ID, &mon, &tue, &wed, &thu, &fri, &sat, &sun, &i.StartDate, &i.EndDate); err != nil {
			return nil, err
		}
		i.Weekdays = [7]bool{sun == 1, mon == 1, tue == 1, wed == 1, thu == 1, fri == 1, sat == 1}
		index[i.ID] = len(items)
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dateRows, err := q.db.QueryContext(ctx, listCalendarDates)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(dateRows, rowsLogger, "calendar_dates_rows")

	for dateRows.Next() {
		var serviceID, date string
		var exceptionType int64
		if err := dateRows.Scan(&serviceID, &date, &exceptionType); err != nil {
			return nil, err
		}
		pos, ok := index[serviceID]
		if !ok {
			pos = len(items)
			index[serviceID] = pos
			items = append(items, models.Service{ID: serviceID})
		}
		switch exceptionType {
		case 1:
			items[pos].AddedDates = append(items[pos].AddedDates, date)
		case 2:
			items[pos].RemovedDates = append(items[pos].RemovedDates, date)
		}
	}
	if err := dateRows.Close(); err != nil {
		return nil, err
	}
	if err := dateRows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// LoadSchedule reads every static table into one ScheduleSnapshot.
func (q *Queries) LoadSchedule(ctx context.Context) (*models.ScheduleSnapshot, error) {
	var (
		snap models.ScheduleSnapshot
		err  error
	)
	if snap.Agencies, err = q.ListAgencies(ctx); err != nil {
		return nil, err
	}
	if snap.Routes, err = q.ListRoutes(ctx); err != nil {
		return nil, err
	}
	if snap.Trips, err = q.ListTrips(ctx); err != nil {
		return nil, err
	}
	if snap.StopTimes, err = q.ListStopTimes(ctx); err != nil {
		return nil, err
	}
	if snap.Stops, err = q.ListStops(ctx); err != nil {
		return nil, err
	}
	if snap.Services, err = q.ListServices(ctx); err != nil {
		return nil, err
	}
	return &snap, nil
}
