package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/banshee-data/egomotion/internal/config"
	"github.com/banshee-data/egomotion/internal/db"
	"github.com/banshee-data/egomotion/internal/egomotion"
	"github.com/banshee-data/egomotion/internal/pipeline"
	"github.com/banshee-data/egomotion/internal/report"
	"github.com/banshee-data/egomotion/internal/samples"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Run the estimator over a recorded drive log or packet capture",
		Flags: []cli.Flag{
			&cli.StringFlag{Category: "Inputs", Name: "log", Aliases: []string{"l"}, Usage: "CSV drive log"},
			&cli.StringFlag{Category: "Inputs", Name: "pcap", Usage: "Packet capture of bridge lines sent over UDP"},
			&cli.IntFlag{Category: "Inputs", Name: "udp-port", Usage: "Only read datagrams to this port from --pcap (0 for any)"},
			&cli.StringFlag{Category: "Inputs", Name: "tuning", Aliases: []string{"t"}, Usage: "Tuning config JSON (defaults when empty)"},
			&cli.StringFlag{Category: "Outputs", Name: "db", Usage: "Store the run in this database"},
			&cli.StringFlag{Category: "Outputs", Name: "notes", Usage: "Notes stored with the run"},
			&cli.StringFlag{Category: "Outputs", Name: "plot", Usage: "Write a PNG plot to this path"},
			&cli.StringFlag{Category: "Outputs", Name: "chart", Usage: "Write an HTML chart to this path"},
		},
		Action: runReplay,
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// loadRows reads the replay input named by --log or --pcap.
func loadRows(ctx context.Context, logPath, pcapPath string, udpPort int) ([]samples.Row, string, error) {
	switch {
	case logPath != "" && pcapPath != "":
		return nil, "", fmt.Errorf("--log and --pcap are mutually exclusive")
	case logPath != "":
		f, err := os.Open(logPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open drive log: %w", err)
		}
		defer f.Close()
		rows, err := samples.ReadLog(f)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", logPath, err)
		}
		return rows, "log:" + filepath.Base(logPath), nil
	case pcapPath != "":
		f, err := os.Open(pcapPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open capture: %w", err)
		}
		defer f.Close()
		var events []samples.Event
		if _, err := samples.ReadPCAP(ctx, f, udpPort, func(ev samples.Event) error {
			events = append(events, ev)
			return nil
		}); err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", pcapPath, err)
		}
		return samples.RowsFromEvents(events), "pcap:" + filepath.Base(pcapPath), nil
	}
	return nil, "", fmt.Errorf("one of --log or --pcap is required")
}

func runReplay(ctx context.Context, cmd *cli.Command) error {
	tuning, err := loadTuning(cmd.String("tuning"))
	if err != nil {
		return err
	}
	rows, source, err := loadRows(ctx, cmd.String("log"), cmd.String("pcap"), cmd.Int("udp-port"))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s has no IMU samples", source)
	}

	runID := ""
	var store *db.DB
	if path := cmd.String("db"); path != "" {
		store, err = db.NewDB(path)
		if err != nil {
			return err
		}
		defer store.Close()
		tuningJSON, err := tuning.JSON()
		if err != nil {
			return err
		}
		run, err := store.CreateRun(source, tuningJSON)
		if err != nil {
			return err
		}
		runID = run.ID
		if notes := cmd.String("notes"); notes != "" {
			if err := store.SetRunNotes(runID, notes); err != nil {
				return err
			}
		}
	}

	est := egomotion.New(egomotion.ConfigFromTuning(tuning))
	estimates, final := pipeline.Replay(rows, est, runID)

	estRows := make([]db.EstimateRow, len(estimates))
	for i, e := range estimates {
		estRows[i] = db.EstimateRowFrom(e)
	}

	if store != nil {
		if err := store.RecordEstimates(runID, estRows); err != nil {
			return err
		}
		if err := store.FinishRun(runID); err != nil {
			return err
		}
	}

	w := out(cmd)
	fmt.Fprintf(w, "replayed %s: %d rows, %d estimates\n", source, len(rows), len(estimates))
	if runID != "" {
		fmt.Fprintf(w, "stored run %s\n", runID)
	}
	printSummary(w, report.Summarize(estRows))
	if h, err := egomotion.CheckCovariance(final.P); err != nil {
		fmt.Fprintf(w, "final covariance: %v\n", err)
	} else if !h.PositiveSemiDefinite {
		fmt.Fprintf(w, "final covariance is not positive semi-definite (min eigenvalue %.3g)\n", h.MinEigenvalue)
	}

	if path := cmd.String("plot"); path != "" {
		if err := report.PlotRun(path, source, estRows, report.GpsFromLog(rows)); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	if path := cmd.String("chart"); path != "" {
		if err := writeChart(path, source, estRows); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	return nil
}

func writeChart(path, title string, rows []db.EstimateRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := report.RenderChart(f, title, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, s report.Summary) {
	fmt.Fprintf(w, "  duration      %.1f s\n", s.DurationMs/1000)
	fmt.Fprintf(w, "  corrected     %d (%.1f%%)\n", s.GpsCorrected, s.CorrectedFraction*100)
	fmt.Fprintf(w, "  spike cycles  %d", s.SpikeCycles)
	if len(s.Rejections) > 0 {
		var parts []string
		for _, ch := range egomotion.Channels {
			if n := s.Rejections[ch.String()]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", ch, n))
			}
		}
		fmt.Fprintf(w, " (%s)", strings.Join(parts, " "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  singular      %d\n", s.SingularCycles)
	fmt.Fprintf(w, "  innovation    rms %.3f m/s, mean (%.3f, %.3f), std (%.3f, %.3f)\n",
		s.VelocityRMSE, s.InnovationMeanX, s.InnovationMeanY, s.InnovationStdX, s.InnovationStdY)
	fmt.Fprintf(w, "  speed         max %.2f m/s, mean %.2f m/s\n", s.MaxSpeed, s.MeanSpeed)
	fmt.Fprintf(w, "  final heading %.2f°\n", s.FinalHeading)
}
