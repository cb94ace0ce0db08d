package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tcassar-diss/tetheroffload/bpf"
	"github.com/tcassar-diss/tetheroffload/frontend"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/onload"
	"github.com/tcassar-diss/tetheroffload/tethering/coordinator"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	var pinDir string

	withCoordinator := func(fn func(*coordinator.Coordinator) error) cli.ActionFunc {
		return func(cCtx *cli.Context) error {
			maps, err := coordinator.OpenMaps(pinDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to open offload maps: %v", err), 1)
			}
			defer maps.Close()

			return fn(coordinator.New(zap.NewNop().Sugar(), maps, coordinator.Config{}))
		}
	}

	app := &cli.App{
		Name:  "tetherctl",
		Usage: "inspect tethering offload state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pin-dir",
				Usage:       "directory the offload maps are pinned in",
				Value:       bpf.PinDir,
				Destination: &pinDir,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "counters",
				Usage: "print non-zero kernel error counters",
				Action: withCoordinator(func(c *coordinator.Coordinator) error {
					counters, err := c.ErrorCounters()
					if err != nil {
						return err
					}

					for _, name := range coordinator.BpfCounterNames() {
						if n, ok := counters[name]; ok {
							fmt.Printf("%s\t%d\n", name, n)
						}
					}

					return nil
				}),
			},
			{
				Name:  "stats",
				Usage: "print per upstream offload stats as JSON",
				Action: withCoordinator(func(c *coordinator.Coordinator) error {
					stats, err := c.TetherOffloadGetStats()
					if err != nil {
						return err
					}

					return printJSON(os.Stdout, stats)
				}),
			},
			{
				Name:  "dump",
				Usage: "dump offload state as JSON",
				Action: withCoordinator(func(c *coordinator.Coordinator) error {
					return c.Dump(os.Stdout)
				}),
			},
			{
				Name:  "natives",
				Usage: "list the capability tables registered at load",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log registrations"},
				},
				Action: func(cCtx *cli.Context) error {
					logger := zap.NewNop().Sugar()
					if cCtx.Bool("verbose") {
						l, err := frontend.NewLogger(true)
						if err != nil {
							return err
						}

						logger = l
					}

					rt := host.NewRuntime(logger)
					loader := onload.NewLoader(logger, onload.DefaultRegistrations()...)

					if _, err := rt.Load(loader.OnLoad); err != nil {
						return cli.Exit(fmt.Sprintf("load failed: %v", err), 1)
					}

					return printNatives(os.Stdout, rt)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func printNatives(w io.Writer, rt *host.Runtime) error {
	for _, class := range rt.Classes() {
		if _, err := fmt.Fprintln(w, class); err != nil {
			return err
		}

		for _, m := range rt.Methods(class) {
			if _, err := fmt.Fprintf(w, "\t%s %s\n", m.Name, m.Signature()); err != nil {
				return err
			}
		}
	}

	return nil
}
