package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flowbot/internal/db"
	"flowbot/internal/graph"
	"flowbot/internal/schema"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// publishCommand seeds workflow versions for local setups; production
// versions come from the authoring service.
func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Store a workflow document as a new version in Postgres",
		ArgsUsage: "<graph-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "activate",
				Usage: "Make the version live and the workflow the default one",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("usage: flowbot-api publish [--activate] <graph-file>")
			}
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
				if data, err = graph.YAMLToJSON(data); err != nil {
					return err
				}
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			repo := graph.NewPostgresRepository(pool.Queries, graph.NewDecoder(schema.NewCompilerWithCache(1)))
			g, err := repo.Publish(ctx, data, command.Bool("activate"))
			if err != nil {
				return err
			}
			logger.Info("Workflow version published",
				zap.String("workflow_id", g.ID),
				zap.Int("version", g.Version),
				zap.Bool("activated", command.Bool("activate")),
			)
			return nil
		},
	}
}
