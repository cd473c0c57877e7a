package viz

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/sensorsim/internal/fsutil"
	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

// Default plot size when the view carries no hint.
const (
	DefaultPlotWidth  = 10 * vg.Inch
	DefaultPlotHeight = 4 * vg.Inch
)

// pixelsPerInch converts view size hints to plot lengths.
const pixelsPerInch = 96

// PlotDisplay renders each buffer to a PNG file under a directory. Depth
// data is drawn as a range heat map over the scan grid; point clouds as a
// top-down scatter coloured by intensity.
type PlotDisplay struct {
	dir     string
	fs      fsutil.FileSystem
	palette palette.Palette
}

// NewPlotDisplay returns a display writing into dir on fs. A nil fs uses
// the OS filesystem.
func NewPlotDisplay(dir string, fs fsutil.FileSystem) *PlotDisplay {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &PlotDisplay{dir: dir, fs: fs, palette: palette.Heat(16, 1)}
}

// Show implements filter.Display.
func (d *PlotDisplay) Show(_ context.Context, view filter.View, buf *simsensor.Buffer) error {
	if err := checkShowable(buf); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s #%d t=%.3fs", view.Title, buf.Sensor, buf.Seq, buf.Timestamp)
	var err error
	if buf.Kind == simsensor.KindDI {
		err = d.depth(p, buf)
	} else {
		err = d.points(p, buf)
	}
	if err != nil {
		return err
	}

	w, h := DefaultPlotWidth, DefaultPlotHeight
	if view.Width > 0 {
		w = vg.Length(view.Width) * vg.Inch / pixelsPerInch
	}
	if view.Height > 0 {
		h = vg.Length(view.Height) * vg.Inch / pixelsPerInch
	}
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	path := filepath.Join(d.dir, frameName(view, buf, ".png"))
	f, err := d.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	_, err = wt.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (d *PlotDisplay) depth(p *plot.Plot, buf *simsensor.Buffer) error {
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Channel"

	g := rangeGrid{buf}
	hm := plotter.NewHeatMap(g, d.palette)
	// A uniform image still needs a non-empty colour range.
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)
	return nil
}

func (d *PlotDisplay) points(p *plot.Plot, buf *simsensor.Buffer) error {
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pts := make(plotter.XYs, 0, len(buf.XYZI))
	shade := make([]float32, 0, len(buf.XYZI))
	for _, s := range buf.XYZI {
		if s == (simsensor.XYZISample{}) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(s.X), Y: float64(s.Y)})
		shade = append(shade, s.Intensity)
	}
	if len(pts) == 0 {
		return nil
	}

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("scatter: %w", err)
	}
	colors := d.palette.Colors()
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		idx := int(shade[i] * float32(len(colors)-1))
		return draw.GlyphStyle{
			Color:  colorAt(colors, idx),
			Radius: vg.Points(1.5),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(sc)
	p.Add(plotter.NewGrid())
	return nil
}

func colorAt(colors []color.Color, i int) color.Color {
	return colors[max(0, min(i, len(colors)-1))]
}

// rangeGrid adapts a KindDI buffer to plotter.GridXYZ. Row 0 is the lowest
// channel.
type rangeGrid struct {
	buf *simsensor.Buffer
}

func (g rangeGrid) Dims() (c, r int)   { return g.buf.Width, g.buf.Height }
func (g rangeGrid) X(c int) float64    { return float64(c) }
func (g rangeGrid) Y(r int) float64    { return float64(r) }
func (g rangeGrid) Z(c, r int) float64 { return float64(g.buf.DI[r*g.buf.Width+c].Range) }
