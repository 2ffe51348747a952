package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/egomotion/internal/db"
)

// MaxChartPoints bounds the points per series; longer runs are decimated.
const MaxChartPoints = 2000

// RenderChart writes an interactive HTML page with speed, velocity and
// heading charts for rows.
func RenderChart(w io.Writer, title string, rows []db.EstimateRow) error {
	stride := 1
	if len(rows) > MaxChartPoints {
		stride = (len(rows) + MaxChartPoints - 1) / MaxChartPoints
	}

	var (
		x                   []string
		speed, vx, vy, head []opts.LineData
		t0                  float64
	)
	if len(rows) > 0 {
		t0 = rows[0].TimeMs
	}
	for i := 0; i < len(rows); i += stride {
		r := rows[i]
		x = append(x, strconv.FormatFloat((r.TimeMs-t0)/1000, 'f', 2, 64))
		speed = append(speed, opts.LineData{Value: round3(math.Hypot(r.VelocityX, r.VelocityY))})
		vx = append(vx, opts.LineData{Value: round3(r.VelocityX)})
		vy = append(vy, opts.LineData{Value: round3(r.VelocityY)})
		head = append(head, opts.LineData{Value: round3(r.Heading)})
	}

	summary := Summarize(rows)
	subtitle := fmt.Sprintf("estimates=%d corrected=%.0f%% spikes=%d rmse=%.3f m/s",
		summary.Count, summary.CorrectedFraction*100, summary.SpikeCycles, summary.VelocityRMSE)

	velocity := charts.NewLine()
	velocity.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m/s"}),
	)
	velocity.SetXAxis(x).
		AddSeries("speed", speed).
		AddSeries("vx", vx).
		AddSeries("vy", vy).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	heading := charts.NewLine()
	heading.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heading"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg"}),
	)
	heading.SetXAxis(x).
		AddSeries("heading", head).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(velocity, heading)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
