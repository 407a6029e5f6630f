package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/MissionControl/internal/adapter/postgres"
	"github.com/Strob0t/MissionControl/internal/config"
)

// runMigrate dispatches migrate subcommands (up, down, status).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	fs := flag.NewFlagSet("migrate "+args[0], flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config file")
	steps := fs.Int("steps", 1, "number of migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.Postgres.DSN
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
			return err
		}
	case "status":
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}

	version, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "schema version: %d\n", version)
	return nil
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: missioncontrol migrate <command> [options]

Commands:
  up       Apply all pending migrations
  down     Roll back the newest migration (--steps N for more)
  status   Print the current schema version
  help     Show this help message

Examples:
  missioncontrol migrate up
  missioncontrol migrate down --steps 2
  missioncontrol migrate status --config /etc/missioncontrol.yaml
`)
}
