package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flowbot/internal/graph"
	"flowbot/internal/schema"

	"github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a workflow document and list every violation",
		ArgsUsage: "<graph-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the result as JSON",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("usage: flowbot-api validate <graph-file>")
			}
			return validateFile(ctx, path, command.Bool("json"))
		},
	}
}

func validateFile(ctx context.Context, path string, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		if data, err = graph.YAMLToJSON(data); err != nil {
			return err
		}
	}

	decoder := graph.NewDecoder(schema.NewCompilerWithCache(1))
	_, res, err := decoder.Check(ctx, data)
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		for _, v := range res.Violations {
			where := v.NodeID
			if v.EdgeID != "" {
				where = "edge " + v.EdgeID
			}
			fmt.Printf("%s\t%s\t%s\n", v.Code, where, v.Message)
		}
	}

	if !res.Valid() {
		return fmt.Errorf("%s: %d violation(s)", path, len(res.Violations))
	}
	if !asJSON {
		fmt.Printf("%s: ok\n", path)
	}
	return nil
}
