package gtfsdb

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// DuplicateKeyError reports a schedule row whose key was already imported.
type DuplicateKeyError struct {
	Kind string
	ID   string
	Err  error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s %q: %v", e.Kind, e.ID, e.Err)
}

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

// insertError turns a primary key or unique constraint failure into a
// *DuplicateKeyError and wraps anything else.
func insertError(kind, id string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return &DuplicateKeyError{Kind: kind, ID: id, Err: err}
	}
	return fmt.Errorf("unable to create %s: %w", kind, err)
}
