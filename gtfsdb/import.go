package gtfsdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"overlay.onebusaway.org/internal/logging"
)

// ErrInvalidFeed marks a schedule archive that could not be decoded.
var ErrInvalidFeed = errors.New("invalid GTFS feed")

var errDuplicateStopTime = errors.New("stop sequence repeated within trip")

const stopTimeColumns = 6

// ImportResult describes one import.
type ImportResult struct {
	Hash     string
	Skipped  bool
	Warnings int
	Counts   map[string]int
}

// ImportFromBytes replaces the static tables with the contents of a GTFS zip.
// Data whose hash and source match the last import is not imported again.
// The import runs in one transaction; on failure the previous tables remain.
func (c *Client) ImportFromBytes(ctx context.Context, b []byte, source string) (ImportResult, error) {
	logger := slog.Default().With(slog.String("component", "gtfs_importer"))

	startTime := time.Now()
	defer func() {
		c.importRuntime = time.Since(startTime)
		logging.LogOperation(logger, "gtfs_data_import_completed",
			slog.Duration("duration", c.importRuntime),
			slog.String("source", source))
	}()

	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])
	result := ImportResult{Hash: hashStr}

	existing, err := c.Queries.GetImportMetadata(ctx)
	switch {
	case err == nil:
		if existing.FileHash == hashStr && existing.FileSource == source {
			logging.LogOperation(logger, "gtfs_data_unchanged_skipping_import",
				slog.String("hash", hashStr[:8]))
			result.Skipped = true
			return result, nil
		}
		logging.LogOperation(logger, "gtfs_data_changed_reimporting",
			slog.String("old_hash", existing.FileHash[:min(8, len(existing.FileHash))]),
			slog.String("new_hash", hashStr[:8]))
	case errors.Is(err, sql.ErrNoRows):
		// first import
	default:
		return result, fmt.Errorf("error checking import metadata: %w", err)
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	result.Warnings = len(staticData.Warnings)

	// go-gtfs does not expose route_sort_order, and direction_id is read
	// as written so that values other than 0 and 1 survive.
	sortOrders, err := columnValues(b, "routes.txt", "route_id", "route_sort_order")
	if err != nil {
		return result, err
	}
	directions, err := columnValues(b, "trips.txt", "trip_id", "direction_id")
	if err != nil {
		return result, err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "gtfs_import")
	qtx := c.Queries.WithTx(tx)

	if err := qtx.clearStaticData(ctx); err != nil {
		return result, fmt.Errorf("error clearing existing GTFS data: %w", err)
	}
	if err := c.insertStatic(ctx, qtx, staticData, sortOrders, directions); err != nil {
		return result, err
	}
	if err := qtx.UpsertImportMetadata(ctx, UpsertImportMetadataParams{
		FileHash:   hashStr,
		ImportTime: time.Now().Unix(),
		FileSource: source,
	}); err != nil {
		return result, fmt.Errorf("error updating import metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}

	result.Counts = staticDataCounts(staticData)
	logging.LogOperation(logger, "gtfs_static_data_imported",
		slog.String("hash", hashStr[:8]),
		slog.Int("warnings", result.Warnings),
		slog.Int("routes", result.Counts["routes"]),
		slog.Int("trips", result.Counts["trips"]))
	return result, nil
}

func (q *Queries) clearStaticData(ctx context.Context) error {
	for _, table := range []string{"stop_times", "trips", "calendar_dates", "calendar", "stops", "routes", "agencies"} {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}
	return nil
}

func (c *Client) insertStatic(ctx context.Context, q *Queries, staticData *gtfs.Static, sortOrders, directions map[string]string) error {
	logger := slog.Default().With(slog.String("component", "gtfs_importer"))

	logging.LogOperation(logger, "inserting_agencies_and_routes",
		slog.Int("agencies", len(staticData.Agencies)),
		slog.Int("routes", len(staticData.Routes)))

	for _, a := range staticData.Agencies {
		if _, err := q.db.ExecContext(ctx,
			"INSERT INTO agencies (id, name, url, timezone, lang, phone) VALUES (?, ?, ?, ?, ?, ?)",
			a.Id, a.Name, toNullString(a.Url), a.Timezone, toNullString(a.Language), toNullString(a.Phone)); err != nil {
			return insertError("agency", a.Id, err)
		}
	}

	singleAgencyID := ""
	if len(staticData.Agencies) == 1 {
		singleAgencyID = staticData.Agencies[0].Id
	}

	for _, r := range staticData.Routes {
		var sortOrder sql.NullInt64
		if raw, ok := sortOrders[r.Id]; ok {
			if v, err := strconv.ParseInt(raw, 10, 32); err == nil {
				sortOrder = sql.NullInt64{Int64: v, Valid: true}
			} else {
				logging.LogOperation(logger, "ignoring_malformed_route_sort_order",
					slog.String("route_id", r.Id), slog.String("value", raw))
			}
		}
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO routes (id, agency_id, short_name, long_name, "desc", type, url, color, text_color, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Id,
			pickFirstAvailable(r.Agency.Id, singleAgencyID),
			toNullString(r.ShortName),
			toNullString(r.LongName),
			toNullString(r.Description),
			int64(r.Type),
			toNullString(r.Url),
			toNullString(r.Color),
			toNullString(r.TextColor),
			sortOrder,
		); err != nil {
			return insertError("route", r.Id, err)
		}
	}

	for _, s := range staticData.Stops {
		// Generic nodes and boarding areas may omit coordinates.
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		if _, err := q.db.ExecContext(ctx,
			"INSERT INTO stops (id, code, name, lat, lon) VALUES (?, ?, ?, ?, ?)",
			s.Id, toNullString(s.Code), toNullString(s.Name), *s.Latitude, *s.Longitude); err != nil {
			return insertError("stop", s.Id, err)
		}
	}

	logging.LogOperation(logger, "inserting_calendar",
		slog.Int("count", len(staticData.Services)))

	for _, s := range staticData.Services {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO calendar (id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.Id,
			boolToInt(s.Monday), boolToInt(s.Tuesday), boolToInt(s.Wednesday), boolToInt(s.Thursday),
			boolToInt(s.Friday), boolToInt(s.Saturday), boolToInt(s.Sunday),
			s.StartDate.Format("20060102"),
			s.EndDate.Format("20060102"),
		); err != nil {
			return insertError("service", s.Id, err)
		}
		for _, date := range s.AddedDates {
			if err := q.insertCalendarDate(ctx, s.Id, date, 1); err != nil {
				return err
			}
		}
		for _, date := range s.RemovedDates {
			if err := q.insertCalendarDate(ctx, s.Id, date, 2); err != nil {
				return err
			}
		}
	}

	var stopTimeArgs [][]interface{}
	seenStopTimes := make(map[string]struct{})
	for _, t := range staticData.Trips {
		direction, ok := directions[t.ID]
		if !ok {
			direction = "0"
		}
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO trips (id, route_id, service_id, trip_headsign, trip_short_name, direction_id, block_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Route.Id, t.Service.Id,
			toNullString(t.Headsign), toNullString(t.ShortName),
			direction, toNullString(t.BlockID),
		); err != nil {
			return insertError("trip", t.ID, err)
		}
		for _, st := range t.StopTimes {
			key := t.ID + "#" + strconv.Itoa(int(st.StopSequence))
			if _, dup := seenStopTimes[key]; dup {
				return &DuplicateKeyError{Kind: "stop_time", ID: key, Err: errDuplicateStopTime}
			}
			seenStopTimes[key] = struct{}{}
			stopTimeArgs = append(stopTimeArgs, []interface{}{
				t.ID,
				int64(st.StopSequence),
				st.Stop.Id,
				int64(st.ArrivalTime / time.Second),
				int64(st.DepartureTime / time.Second),
				toNullString(st.Headsign),
			})
		}
	}

	if err := q.bulkInsertStopTimes(ctx, stopTimeArgs, c.config.GetBulkInsertBatchSize()); err != nil {
		return fmt.Errorf("unable to create stop times: %w", err)
	}
	return nil
}

func (q *Queries) insertCalendarDate(ctx context.Context, serviceID string, date time.Time, exceptionType int64) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO calendar_dates (service_id, date, exception_type) VALUES (?, ?, ?)",
		serviceID, date.Format("20060102"), exceptionType)
	if err != nil {
		return fmt.Errorf("unable to create calendar date: %w", err)
	}
	return nil
}

// bulkInsertStopTimes writes rows as multi-row INSERT statements of at most
// batchSize rows each. Values are always bound as parameters.
func (q *Queries) bulkInsertStopTimes(ctx context.Context, rows [][]interface{}, batchSize int) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))
	logging.LogOperation(logger, "inserting_stop_times", slog.Int("count", len(rows)))

	const baseQuery = `INSERT INTO stop_times (
		trip_id, stop_sequence, stop_id, arrival_time, departure_time, stop_headsign
	) VALUES `
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", stopTimeColumns), ", ") + ")"

	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(rows))
		batch := rows[start:end]

		var query strings.Builder
		query.WriteString(baseQuery)
		args := make([]interface{}, 0, len(batch)*stopTimeColumns)
		for j, row := range batch {
			if j > 0 {
				query.WriteString(", ")
			}
			query.WriteString(placeholder)
			args = append(args, row...)
		}
		if _, err := q.db.ExecContext(ctx, query.String(), args...); err != nil {
			return err
		}
	}

	logging.LogOperation(logger, "stop_times_inserted", slog.Int("count", len(rows)))
	return nil
}

func staticDataCounts(staticData *gtfs.Static) map[string]int {
	stopTimes := 0
	for _, t := range staticData.Trips {
		stopTimes += len(t.StopTimes)
	}
	return map[string]int{
		"agencies":   len(staticData.Agencies),
		"routes":     len(staticData.Routes),
		"stops":      len(staticData.Stops),
		"calendar":   len(staticData.Services),
		"trips":      len(staticData.Trips),
		"stop_times": stopTimes,
	}
}
