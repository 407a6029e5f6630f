package main

import (
	"context"
	"fmt"
	"log/slog"

	mchttp "github.com/Strob0t/MissionControl/internal/adapter/http"
	"github.com/Strob0t/MissionControl/internal/adapter/memory"
	"github.com/Strob0t/MissionControl/internal/adapter/postgres"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/port/database"
	"github.com/Strob0t/MissionControl/internal/port/eventstore"
	"github.com/Strob0t/MissionControl/internal/port/sessionstore"
)

// storage bundles the persistence ports for the selected driver.
type storage struct {
	store    database.Store
	sessions sessionstore.Store
	events   eventstore.Store
	check    *mchttp.HealthCheck
	close    func()
}

func openStorage(ctx context.Context, cfg *config.Config, clk clock.Clock) (*storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		store := memory.New(clk)
		slog.Warn("using in-memory storage; state is lost on restart")
		return &storage{
			store:    store,
			sessions: store,
			events:   memory.NewEventLog(cfg.Feed.Retention),
			close:    func() {},
		}, nil

	case "postgres":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)

		store := postgres.NewStore(pool)
		return &storage{
			store:    store,
			sessions: store,
			events:   postgres.NewEventStore(pool),
			check:    &mchttp.HealthCheck{Name: "postgres", Check: pool.Ping},
			close:    pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
