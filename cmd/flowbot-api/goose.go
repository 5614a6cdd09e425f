package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/urfave/cli/v3"
)

func gooseCommand() *cli.Command {
	return &cli.Command{
		Name:  "goose-migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Directory holding goose SQL migrations",
				Value:   "migrations",
				Sources: cli.EnvVars("GOOSE_MIGRATIONS_DIR"),
			},
			&cli.BoolFlag{
				Name:  "down",
				Usage: "Roll back the most recent migration instead",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			return runGooseMigrations(ctx, cfg.DatabaseURL, command.String("dir"), command.Bool("down"))
		},
	}
}

func runGooseMigrations(ctx context.Context, databaseURL, migrationsDir string, down bool) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is not configured")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", migrationsDir)
	}

	if down {
		if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		return nil
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
