package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/feedbacksync/internal/adapter/postgres"
	"github.com/Strob0t/feedbacksync/internal/config"
)

func runMigrate(cfg *config.Config, args []string) error {
	sub := "up"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	ctx := context.Background()
	dsn := cfg.Postgres.DSN

	switch sub {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		fs := flag.NewFlagSet("migrate down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate command: %s (want up, down or status)", sub)
	}

	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Fprintf(os.Stdout, "schema version %d\n", v)
	return nil
}
