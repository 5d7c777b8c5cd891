package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/healwise/apiserver/config"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// NewMigrator builds a migrator over an open connection using the bundled
// migrations for the driver's dialect.
func NewMigrator(conn *sql.DB, driver Driver) (*migrate.Migrate, error) {
	sub, err := fs.Sub(migrationFiles, "migrations/"+string(driver))
	if err != nil {
		return nil, fmt.Errorf("locate %s migrations: %w", driver, err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		target, err = postgres.WithInstance(conn, &postgres.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("init %s migration driver: %w", driver, err)
	}

	return migrate.NewWithInstance("iofs", source, string(driver), target)
}

// Migrate opens a dedicated connection, runs fn against a migrator and
// closes everything afterwards. The migration drivers pin a connection for
// their lifetime, so they never share the server's pool.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, fn func(*migrate.Migrate) error) error {
	conn, driver, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	migrator, err := NewMigrator(conn, driver)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := fn(migrator); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateUp applies all pending migrations. It is a no-op when the schema
// is current.
func MigrateUp(ctx context.Context, cfg config.DatabaseConfig) error {
	return Migrate(ctx, cfg, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return nil
	})
}
