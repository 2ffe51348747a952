package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/banshee-data/egomotion/internal/api"
	"github.com/banshee-data/egomotion/internal/httputil"
)

// httpClient is swapped out in tests.
var httpClient httputil.HTTPClient = &http.Client{Timeout: 5 * time.Second}

func urlFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "url",
		Value: "http://localhost:8080",
		Usage: "Base URL of the egomotiond HTTP API",
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the status of a running egomotiond",
		Flags: []cli.Flag{urlFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c := httputil.NewAPIClient(cmd.String("url"), httpClient)
			var st api.Status
			if err := c.GetJSON(ctx, "/api/status", &st); err != nil {
				return err
			}
			printStatus(cmd, &st)
			return nil
		},
	}
}

func printStatus(cmd *cli.Command, st *api.Status) {
	w := out(cmd)
	fmt.Fprintf(w, "egomotiond %s (git %s), up %s\n", st.Version, st.GitSHA,
		(time.Duration(st.UptimeS) * time.Second).String())
	if st.RunID != "" {
		fmt.Fprintf(w, "run:      %s\n", st.RunID)
	}
	fmt.Fprintf(w, "cycles:   %d (%d applied, %d gps corrected, %d spikes, %d singular, %d resets)\n",
		st.Stats.Cycles, st.Stats.Applied, st.Stats.GpsCorrected,
		st.Stats.SpikeRejections, st.Stats.Singular, st.Stats.Resets)
	switch {
	case !st.HasLatest:
		fmt.Fprintln(w, "estimate: none yet")
	case st.Stale:
		fmt.Fprintf(w, "estimate: STALE (last t=%.0f ms)\n", st.LastTimeMs)
	default:
		fmt.Fprintf(w, "estimate: live (t=%.0f ms)\n", st.LastTimeMs)
	}
	if c := st.Stats.Covariance; c != nil {
		psd := "ok"
		if !c.PositiveSemiDefinite {
			psd = "NOT PSD"
		}
		fmt.Fprintf(w, "cov:      trace %.4g, eigenvalues [%.3g, %.3g], %s\n",
			c.Trace, c.MinEigenvalue, c.MaxEigenvalue, psd)
	}
	if st.Bridge != nil {
		var lines uint64
		for _, n := range st.Bridge.Lines {
			lines += n
		}
		fmt.Fprintf(w, "bridge:   %d lines, %d bad\n", lines, st.Bridge.BadLines)
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Ask a running egomotiond to re-initialise its estimator state",
		Flags: []cli.Flag{urlFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c := httputil.NewAPIClient(cmd.String("url"), httpClient)
			if err := c.PostJSON(ctx, "/api/egomotion/reset", nil); err != nil {
				return fmt.Errorf("reset failed: %w", err)
			}
			fmt.Fprintln(out(cmd), "reset requested")
			return nil
		},
	}
}
