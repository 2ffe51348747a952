// Command egoctl is the operator tool for the ego-motion estimator: replay
// recorded drives, simulate scenarios, plot stored runs, manage the
// database schema and watch or query a live estimator.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/banshee-data/egomotion/internal/version"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "egoctl",
		Usage:   "Replay, simulate and inspect ego-motion estimator runs",
		Version: version.String(),
		Commands: []*cli.Command{
			replayCommand(),
			simulateCommand(),
			plotCommand(),
			migrateCommand(),
			watchCommand(),
			statusCommand(),
			resetCommand(),
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Fprintln(out(cmd), version.String())
					return nil
				},
			},
		},
	}
}

// out is where a command writes its report.
func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
