// Package database provides the Postgres-backed job store: connection
// pooling via pgx/v5, schema migrations via golang-migrate, and health
// reporting — the persistence layer behind the job manager (spec.md §4.9),
// modeled on the teacher's pkg/database package with entgo.io/ent replaced
// by direct SQL (see DESIGN.md for the dropped-dependency rationale).
package database

import (
	stdsql "database/sql"
	"embed"
	"fmt"
	"io/fs"

	"context"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver for database/sql, used only for migrations
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pgx connection pool used by the job store.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens a pooled connection to Postgres and applies any pending
// migrations before returning.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	// baseDSN is also handed to the migration runner's database/sql handle,
	// which does not understand pgxpool-only keywords like pool_max_conns.
	baseDSN := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	poolDSN := fmt.Sprintf("%s pool_max_conns=%d", baseDSN, cfg.MaxOpenConns)

	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(baseDSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{Pool: pool}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.Pool.Close()
}

// runMigrations applies every embedded migration via golang-migrate,
// through a throwaway database/sql handle on the pgx stdlib driver (the
// pooled pgxpool connection is reserved for application queries).
func runMigrations(dsn string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found - binary may be built incorrectly")
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 7 && e.Name()[len(e.Name())-7:] == ".up.sql" {
			return true, nil
		}
	}
	return false, nil
}
