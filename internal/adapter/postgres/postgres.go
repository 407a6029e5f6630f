// Package postgres persists tasks, agents, sessions and feed events in
// PostgreSQL. The schema lives in embedded goose migrations; the partial unique
// index on active sessions is what keeps one live session per task and agent.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver goose runs on
	"github.com/pressly/goose/v3"

	"github.com/Strob0t/MissionControl/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPool opens a pgx pool sized by cfg and verifies it with a ping.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// migrator pairs a goose provider with the database/sql handle it owns.
type migrator struct {
	db       *sql.DB
	provider *goose.Provider
}

func openMigrator(dsn string) (*migrator, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db for migrations: %w", err)
	}
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	return &migrator{db: db, provider: provider}, nil
}

func (m *migrator) close() { _ = m.db.Close() }

// RunMigrations brings the mission control schema up to date.
func RunMigrations(ctx context.Context, dsn string) error {
	m, err := openMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.close()

	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// RollbackMigrations undoes the newest steps migrations. Rolling back past
// 001 drops the session and event tables along with their data.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	m, err := openMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.close()

	for range steps {
		r, err := m.provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		slog.Info("migration rolled back", "version", r.Source.Version)
	}
	return nil
}

// MigrationVersion reports the schema version recorded by goose.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	m, err := openMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer m.close()

	version, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}
