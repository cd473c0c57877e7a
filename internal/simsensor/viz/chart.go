package viz

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sensorsim/internal/fsutil"
	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ChartDisplay renders each buffer to a standalone HTML scatter chart.
// Point clouds are drawn top-down and coloured by intensity; depth data
// is drawn on the scan grid and coloured by range.
type ChartDisplay struct {
	dir string
	fs  fsutil.FileSystem
	// AssetsHost overrides where the page loads the echarts scripts from.
	AssetsHost string
}

// NewChartDisplay returns a display writing into dir on fs. A nil fs uses
// the OS filesystem.
func NewChartDisplay(dir string, fs fsutil.FileSystem) *ChartDisplay {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &ChartDisplay{dir: dir, fs: fs}
}

// Show implements filter.Display.
func (d *ChartDisplay) Show(_ context.Context, view filter.View, buf *simsensor.Buffer) error {
	if err := checkShowable(buf); err != nil {
		return err
	}

	width, height := "900px", "600px"
	if view.Width > 0 {
		width = fmt.Sprintf("%dpx", view.Width)
	}
	if view.Height > 0 {
		height = fmt.Sprintf("%dpx", view.Height)
	}

	var (
		data   []opts.ScatterData
		xAxis  opts.XAxis
		yAxis  opts.YAxis
		maxVal float64
	)
	if buf.Kind == simsensor.KindDI {
		data, maxVal = depthData(buf)
		xAxis = opts.XAxis{Min: 0, Max: buf.Width, Name: "Column", NameLocation: "middle", NameGap: 25}
		yAxis = opts.YAxis{Min: 0, Max: buf.Height, Name: "Channel", NameLocation: "middle", NameGap: 30}
	} else {
		var pad float64
		data, pad = pointData(buf)
		maxVal = 1
		xAxis = opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}
		yAxis = opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: view.Title, Theme: "dark", Width: width, Height: height, AssetsHost: d.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: view.Title, Subtitle: fmt.Sprintf("sensor=%s seq=%d t=%.3fs points=%d", buf.Sensor, buf.Seq, buf.Timestamp, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(yAxis),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVal),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries(buf.Kind.String(), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var page bytes.Buffer
	if err := scatter.Render(&page); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	path := filepath.Join(d.dir, frameName(view, buf, ".html"))
	f, err := d.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	_, err = f.Write(page.Bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// depthData returns one (col, row, range) point per hit and the largest
// range seen.
func depthData(buf *simsensor.Buffer) ([]opts.ScatterData, float64) {
	data := make([]opts.ScatterData, 0, len(buf.DI))
	maxRange := 0.0
	for i, s := range buf.DI {
		if !s.Hit() {
			continue
		}
		col, row := i%buf.Width, i/buf.Width
		data = append(data, opts.ScatterData{Value: []interface{}{col, row, s.Range}})
		maxRange = math.Max(maxRange, float64(s.Range))
	}
	if maxRange == 0 {
		maxRange = 1
	}
	return data, maxRange
}

// pointData returns one (x, y, intensity) point per hit and a symmetric
// axis extent covering them.
func pointData(buf *simsensor.Buffer) ([]opts.ScatterData, float64) {
	data := make([]opts.ScatterData, 0, len(buf.XYZI))
	maxAbs := 0.0
	for _, s := range buf.XYZI {
		if s == (simsensor.XYZISample{}) {
			continue
		}
		data = append(data, opts.ScatterData{Value: []interface{}{s.X, s.Y, s.Intensity}})
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(float64(s.X)), math.Abs(float64(s.Y))))
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	return data, pad
}
