// Package main is the linkmeta executable: an HTTP metadata service and a
// one-shot lookup command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "linkmeta:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to a YAML config file",
		EnvVars: []string{"LINKMETA_CONFIG"},
	}
	return &cli.App{
		Name:  "linkmeta",
		Usage: "resolve links and extract page metadata",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP metadata service",
				Flags:  []cli.Flag{configFlag},
				Action: serveAction,
			},
			{
				Name:      "lookup",
				Usage:     "print metadata for one or more URLs",
				ArgsUsage: "URL [URL...]",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "format",
						Value: formatJSON,
						Usage: "output format: json or yaml",
					},
				},
				Action: lookupAction,
			},
		},
	}
}
