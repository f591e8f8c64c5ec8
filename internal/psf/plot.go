package psf

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var _ plotter.GridXYZ = (*Stamp)(nil)

var (
	firstColor  = color.RGBA{B: 255, A: 255}
	secondColor = color.RGBA{R: 255, A: 255}
)

// FigureLabels are the titles of the two stamp panels.
type FigureLabels struct {
	First  string
	Second string
}

// WriteFigure renders the 2x2 comparison figure as PNG: both stamps as heat
// maps, then the x and y profiles through the stamp centers.
func WriteFigure(w io.Writer, c *Comparison, labels FigureLabels) error {
	top1, err := stampPlot(c.First, labels.First)
	if err != nil {
		return err
	}
	top2, err := stampPlot(c.Second, labels.Second)
	if err != nil {
		return err
	}
	mid := len(c.First.Offset) / 2
	xprof, err := profilePlot("x prof.", "x ccd", c.First.Offset, c.First.row(mid), c.Second.row(mid))
	if err != nil {
		return err
	}
	yprof, err := profilePlot("y prof.", "y ccd", c.First.Offset, c.First.column(mid), c.Second.column(mid))
	if err != nil {
		return err
	}

	plots := [][]*plot.Plot{{top1, top2}, {xprof, yprof}}
	img := vgimg.New(vg.Points(720), vg.Points(720))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 2, Cols: 2,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(4), PadBottom: vg.Points(4),
		PadLeft: vg.Points(4), PadRight: vg.Points(4),
	}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i := range plots[j] {
			plots[j][i].Draw(canvases[j][i])
		}
	}

	png := vgimg.PngCanvas{Canvas: img}
	_, err = png.WriteTo(w)
	return err
}

// SaveFigure writes the comparison figure to path.
func SaveFigure(path string, c *Comparison, labels FigureLabels) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteFigure(f, c, labels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func stampPlot(s *Stamp, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.Add(plotter.NewHeatMap(s, palette.Heat(64, 1)))

	hw := s.Offset[len(s.Offset)-1]
	ann, err := plotter.NewLabels(plotter.XYLabels{
		XYs: []plotter.XY{{X: -hw + 0.3, Y: -hw + 0.8}, {X: -hw + 0.3, Y: -hw + 0.1}},
		Labels: []string{
			fmt.Sprintf("fiber #%d lambda=%dA", s.Fiber, int(s.Wave)),
			fmt.Sprintf("(x,y)=(%4.1f,%4.1f)", s.CenterX, s.CenterY),
		},
	})
	if err != nil {
		return nil, err
	}
	for i := range ann.TextStyle {
		ann.TextStyle[i].Color = color.White
	}
	p.Add(ann)
	p.X.Min, p.X.Max = -hw, hw
	p.Y.Min, p.Y.Max = -hw, hw
	return p, nil
}

func profilePlot(title, xlabel string, offsets, first, second []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	for _, prof := range []struct {
		values []float64
		color  color.Color
	}{{first, firstColor}, {second, secondColor}} {
		pts := make(plotter.XYs, len(offsets))
		for i := range offsets {
			pts[i].X = offsets[i]
			pts[i].Y = prof.values[i]
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		l.LineStyle.Color = prof.color
		p.Add(l)
	}
	return p, nil
}
