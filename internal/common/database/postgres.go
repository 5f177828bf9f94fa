package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/navinbhat12/rewindify/internal/common/config"

	_ "github.com/lib/pq"
)

// SQLClient wraps a relational connection pool together with its dialect.
type SQLClient struct {
	DB      *sql.DB
	Dialect Dialect
}

func NewPostgres(cfg config.PostgresConfig) (*SQLClient, error) {
	dsn := cfg.GetDSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLClient{DB: db, Dialect: DialectPostgres}, nil
}

// NewSQL opens the relational backend named by cfg.Storage.Driver.
func NewSQL(cfg *config.Config) (*SQLClient, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return NewPostgres(cfg.Database.Postgres)
	case "sqlite":
		return NewSQLite(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("storage driver %q has no relational backend", cfg.Storage.Driver)
	}
}

func (c *SQLClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *SQLClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
