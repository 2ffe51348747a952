package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/banshee-data/egomotion/internal/db"
	"github.com/banshee-data/egomotion/internal/report"
)

func plotCommand() *cli.Command {
	return &cli.Command{
		Name:  "plot",
		Usage: "Plot a stored run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: "egomotion.db", Usage: "Database file"},
			&cli.StringFlag{Name: "run", Usage: "Run ID (latest run when empty)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "PNG output path (<run>.png when empty)"},
			&cli.StringFlag{Name: "chart", Usage: "Also write an HTML chart to this path"},
		},
		Action: runPlot,
	}
}

func runPlot(ctx context.Context, cmd *cli.Command) error {
	store, err := db.NewDB(cmd.String("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	runID := cmd.String("run")
	if runID == "" {
		runs, err := store.ListRuns(1)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs in %s", cmd.String("db"))
		}
		runID = runs[0].ID
	}
	run, err := store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	rows, err := store.Estimates(runID, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("run %s has no estimates", runID)
	}

	path := cmd.String("out")
	if path == "" {
		path = runID + ".png"
	}
	title := fmt.Sprintf("%s (%s)", run.ID, run.Source)
	if err := report.PlotRun(path, title, rows, nil); err != nil {
		return err
	}
	w := out(cmd)
	fmt.Fprintf(w, "wrote %s\n", path)

	if chart := cmd.String("chart"); chart != "" {
		if err := writeChart(chart, title, rows); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", chart)
	}
	return nil
}
