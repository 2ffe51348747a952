package report

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/egomotion/internal/db"
)

var (
	colorVX      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorVY      = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	colorGPS     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorHeading = color.RGBA{R: 148, G: 103, B: 189, A: 255}
)

// PlotRun writes a PNG to path with the estimated velocity components over
// GPS fixes (if any) on top and the heading trace below. Times are shown in
// seconds from the first estimate.
func PlotRun(path string, title string, rows []db.EstimateRow, gps []GpsPoint) error {
	if len(rows) == 0 {
		return fmt.Errorf("no estimates to plot")
	}
	t0 := rows[0].TimeMs
	sec := func(ms float64) float64 { return (ms - t0) / 1000 }

	vx := make(plotter.XYs, len(rows))
	vy := make(plotter.XYs, len(rows))
	heading := make(plotter.XYs, len(rows))
	for i, r := range rows {
		x := sec(r.TimeMs)
		vx[i] = plotter.XY{X: x, Y: r.VelocityX}
		vy[i] = plotter.XY{X: x, Y: r.VelocityY}
		heading[i] = plotter.XY{X: x, Y: r.Heading}
	}

	pVel := plot.New()
	pVel.Title.Text = title
	pVel.X.Label.Text = "Time (s)"
	pVel.Y.Label.Text = "Velocity (m/s)"
	pVel.Add(plotter.NewGrid())

	if err := addLine(pVel, "vx", vx, colorVX); err != nil {
		return err
	}
	if err := addLine(pVel, "vy", vy, colorVY); err != nil {
		return err
	}
	if len(gps) > 0 {
		gx := make(plotter.XYs, len(gps))
		gy := make(plotter.XYs, len(gps))
		for i, g := range gps {
			gx[i] = plotter.XY{X: sec(g.TimeMs), Y: g.VelocityX}
			gy[i] = plotter.XY{X: sec(g.TimeMs), Y: g.VelocityY}
		}
		for _, s := range []struct {
			name string
			pts  plotter.XYs
		}{{"gps vx", gx}, {"gps vy", gy}} {
			sc, err := plotter.NewScatter(s.pts)
			if err != nil {
				return fmt.Errorf("failed to create %s scatter: %w", s.name, err)
			}
			sc.GlyphStyle.Color = colorGPS
			sc.GlyphStyle.Radius = vg.Points(1.5)
			pVel.Add(sc)
			pVel.Legend.Add(s.name, sc)
		}
	}
	pVel.Legend.Top = true

	pHead := plot.New()
	pHead.X.Label.Text = "Time (s)"
	pHead.Y.Label.Text = "Heading (deg)"
	pHead.Add(plotter.NewGrid())
	if err := addLine(pHead, "heading", heading, colorHeading); err != nil {
		return err
	}
	pHead.Legend.Top = true

	plots := [][]*plot.Plot{{pVel}, {pHead}}
	img := vgimg.New(14*vg.Inch, 9*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadTop: vg.Points(4), PadBottom: vg.Points(4), PadY: vg.Points(8), PadLeft: vg.Points(4), PadRight: vg.Points(8)}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		plots[j][0].Draw(canvases[j][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create %s line: %w", name, err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}
