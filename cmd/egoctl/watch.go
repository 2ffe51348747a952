package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/banshee-data/egomotion/internal/watch"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Show live estimates from a running egomotiond",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: "localhost:50061", Usage: "gRPC publisher address"},
			&cli.DurationFlag{Name: "stale-after", Value: time.Second, Usage: "Flag the display stale after this long without an estimate"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return watch.Run(ctx, cmd.String("addr"), cmd.Duration("stale-after"))
		},
	}
}
