// Package storage persists the measurement-unit preference in a single table.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-forecast/internal/models"
)

// ErrNotFound is returned by Update and Delete when no row has the given id.
var ErrNotFound = errors.New("unit preference not found")

// ErrUnknownDriver is returned by Open for drivers other than sqlite and postgres.
var ErrUnknownDriver = errors.New("unknown store driver")

// UnitStore is the data-access contract for unit_table.
type UnitStore interface {
	// List returns every row ordered by id.
	List(ctx context.Context) ([]models.UnitPreference, error)
	// Insert stores p. A zero ID is auto-assigned; an existing ID is replaced.
	Insert(ctx context.Context, p models.UnitPreference) (models.UnitPreference, error)
	Update(ctx context.Context, p models.UnitPreference) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	// Replace deletes every row and inserts unit in one transaction.
	Replace(ctx context.Context, unit string) (models.UnitPreference, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("sqlite" or "postgres") at dsn.
func Open(ctx context.Context, driver, dsn string) (UnitStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(ctx, dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
