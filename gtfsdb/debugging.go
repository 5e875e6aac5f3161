package gtfsdb

import (
	"context"
	"fmt"
	"log/slog"

	"overlay.onebusaway.org/internal/logging"
)

// tableCountQueries whitelists the tables TableCounts reports.
var tableCountQueries = map[string]string{
	"agencies":            "SELECT COUNT(*) FROM agencies",
	"routes":              "SELECT COUNT(*) FROM routes",
	"stops":               "SELECT COUNT(*) FROM stops",
	"trips":               "SELECT COUNT(*) FROM trips",
	"stop_times":          "SELECT COUNT(*) FROM stop_times",
	"calendar":            "SELECT COUNT(*) FROM calendar",
	"calendar_dates":      "SELECT COUNT(*) FROM calendar_dates",
	"import_metadata":     "SELECT COUNT(*) FROM import_metadata",
	"rt_alerts":           "SELECT COUNT(*) FROM rt_alerts",
	"rt_vehicles":         "SELECT COUNT(*) FROM rt_vehicles",
	"rt_stop_time_delays": "SELECT COUNT(*) FROM rt_stop_time_delays",
}

func (c *Client) TableCounts(ctx context.Context) (map[string]int, error) {
	rows, err := c.DB.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := tableCountQueries[table]
		if !ok {
			continue
		}

		var count int
		if err := c.DB.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}
