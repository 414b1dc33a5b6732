// Package migrate applies the embedded account, session and challenge schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/sawyelin/ylstack-auth-sub000/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned when there is nothing to apply.
var ErrNoChange = migrate.ErrNoChange

// Directions accepted by Run.
const (
	DirectionUp      = "up"
	DirectionDown    = "down"
	DirectionVersion = "version"
)

// Options selects what Run does. Steps, when non-zero, moves that many migrations in
// Direction instead of going all the way.
type Options struct {
	DSN       string
	Direction string
	Steps     int
}

// Result reports the schema version after Run. Version is 0 on an empty schema.
type Result struct {
	Version uint
	Dirty   bool
}

func (o Options) validate() error {
	if o.DSN == "" {
		return errors.New("DATABASE_URL is not set; set it in the environment or .env")
	}
	switch o.Direction {
	case DirectionUp, DirectionDown, DirectionVersion:
	default:
		return fmt.Errorf("direction must be up, down or version, got %q", o.Direction)
	}
	if o.Steps < 0 {
		return fmt.Errorf("steps must not be negative, got %d", o.Steps)
	}
	if o.Steps > 0 && o.Direction == DirectionVersion {
		return errors.New("steps cannot be combined with direction version")
	}
	return nil
}

// Run applies opts against the database and returns the resulting version. An
// up or down with nothing to do returns ErrNoChange together with the current version.
func Run(opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return Result{}, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, opts.DSN)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	var runErr error
	switch {
	case opts.Direction == DirectionVersion:
	case opts.Steps > 0 && opts.Direction == DirectionDown:
		runErr = m.Steps(-opts.Steps)
	case opts.Steps > 0:
		runErr = m.Steps(opts.Steps)
	case opts.Direction == DirectionDown:
		runErr = m.Down()
	default:
		runErr = m.Up()
	}
	if runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return Result{}, runErr
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Result{}, fmt.Errorf("migrate version: %w", err)
	}
	return Result{Version: version, Dirty: dirty}, runErr
}
