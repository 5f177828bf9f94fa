// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	db "github.com/navinbhat12/rewindify/internal/common/database"
	"github.com/navinbhat12/rewindify/internal/common/logger"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

func newMigrator(conn *sql.DB, dialect db.Dialect) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case db.DialectPostgres:
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	case db.DialectSQLite:
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s driver: %w", dialect, err)
	}

	source, err := iofs.New(migrations, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// Run executes all pending migrations. Already applied migrations are skipped.
func Run(client *db.SQLClient, log logger.Logger) error {
	m, err := newMigrator(client.DB, client.Dialect)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("getting migration version: %w", err)
	}

	fields := map[string]interface{}{"dialect": string(client.Dialect), "version": version}
	if dirty {
		log.Warn("database migration state is dirty", fields)
	} else {
		log.Info("database migrations complete", fields)
	}

	return nil
}

// Version returns the current migration version.
func Version(client *db.SQLClient) (uint, bool, error) {
	m, err := newMigrator(client.DB, client.Dialect)
	if err != nil {
		return 0, false, err
	}
	return m.Version()
}

// Down rolls back all migrations, dropping every table.
func Down(client *db.SQLClient) error {
	m, err := newMigrator(client.DB, client.Dialect)
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}
