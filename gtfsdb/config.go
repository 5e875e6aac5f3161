package gtfsdb

import (
	"overlay.onebusaway.org/internal/appconf"
)

const defaultBulkInsertBatchSize = 500

// Config configures a Client.
type Config struct {
	DBPath  string
	Env     appconf.Environment
	verbose bool

	// BulkInsertBatchSize is the number of stop_times rows per INSERT statement.
	BulkInsertBatchSize int
}

func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

// GetBulkInsertBatchSize returns the configured batch size or the default.
// SQLite limits a statement to 32766 bound parameters; stop_times uses 6 per row.
func (c Config) GetBulkInsertBatchSize() int {
	if c.BulkInsertBatchSize <= 0 {
		return defaultBulkInsertBatchSize
	}
	return min(c.BulkInsertBatchSize, 32766/stopTimeColumns)
}
