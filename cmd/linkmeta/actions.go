package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/linkmeta/internal/batch"
	"github.com/JakeFAU/linkmeta/internal/config"
	"github.com/JakeFAU/linkmeta/internal/extract"
	"github.com/JakeFAU/linkmeta/internal/resolver"
	"github.com/JakeFAU/linkmeta/internal/server"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(c.Context, &cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	if err := app.Run(c.Context); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}

func lookupAction(c *cli.Context) error {
	format := c.String("format")
	if format != formatJSON && format != formatYAML {
		return fmt.Errorf("unknown format %q", format)
	}
	if c.NArg() == 0 {
		return errors.New("at least one URL is required")
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(c.Context, &cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() { _ = app.Close(c.Context) }()

	items := make([]batch.Item, 0, c.NArg())
	for _, u := range c.Args().Slice() {
		items = append(items, batch.Item{URL: u})
	}
	results := app.Batch().Process(c.Context, items, resolver.Options{})
	return writeResults(c.App.Writer, format, results)
}

func writeResults(w io.Writer, format string, results []extract.Metadata) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush yaml: %w", err)
		}
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
