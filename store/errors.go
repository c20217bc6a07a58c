package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Error kinds surfaced by the Store. Callers discriminate with errors.Is;
// the HTTP surface owns the mapping to status codes.
var (
	// ErrNotFound is returned by One when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("store: conflict")
	// ErrStore wraps any other database failure.
	ErrStore = errors.New("store: failure")
)

// normalize maps driver errors onto the Store's error kinds.
func normalize(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return fmt.Errorf("%w: %s", ErrStore, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23xxx is the integrity constraint violation class.
		if strings.HasPrefix(pgErr.Code, "23") {
			return fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return fmt.Errorf("%w: %s", ErrStore, err)
	}

	return fmt.Errorf("%w: %s", ErrStore, err)
}
