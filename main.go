package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/tcassar-diss/tetheroffload/frontend"
	"github.com/urfave/cli/v2"
)

func main() {
	var (
		configPath string
		verbose    bool
	)

	app := &cli.App{
		Name:  "tetherd",
		Usage: "offload tethered traffic to the kernel's tc programs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a TOML config file",
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "log at debug level",
				Destination: &verbose,
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg := frontend.DefaultConfig()

			if configPath != "" {
				var err error

				cfg, err = frontend.ParseConfig(configPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("failed to parse config: %v", err), 1)
				}
			}

			if verbose {
				cfg.Verbose = true
			}

			logger, err := frontend.NewLogger(cfg.Verbose)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if err := frontend.Run(context.Background(), logger, cfg); err != nil {
				return cli.Exit(
					fmt.Sprintf("tetherd encountered an error it couldn't recover from: %v", err),
					2,
				)
			}

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
