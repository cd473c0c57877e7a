package config

import (
	"fmt"

	"github.com/banshee-data/sensorsim/internal/fsutil"
	"github.com/banshee-data/sensorsim/internal/security"
	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
	"github.com/banshee-data/sensorsim/internal/simsensor/sensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/viz"
	"github.com/banshee-data/sensorsim/internal/units"
)

// Filter types accepted in FilterConfig.Type.
const (
	FilterDINoise        = "di_noise"
	FilterXYZINoise      = "xyzi_noise"
	FilterXYZIPolarNoise = "xyzi_polar_noise"
	FilterDIAccess       = "di_access"
	FilterXYZIAccess     = "xyzi_access"
	FilterDIToXYZI       = "di_to_xyzi"
	FilterXYZIToDI       = "xyzi_to_di"
	FilterReduce         = "reduce"
	FilterVisualize      = "visualize"
	FilterPersist        = "persist"
)

// FilterConfig is one stage of a sensor's chain. Only the fields of the
// selected type are read.
type FilterConfig struct {
	Type string `json:"type" mapstructure:"type"`

	// Noise
	Mean            float64 `json:"mean" mapstructure:"mean"`
	StdDev          float64 `json:"std_dev" mapstructure:"std_dev"` // range, or each coordinate
	IntensityStdDev float64 `json:"intensity_std_dev" mapstructure:"intensity_std_dev"`
	VAngleStdDev    float64 `json:"v_angle_std_dev" mapstructure:"v_angle_std_dev"` // polar, in the sensor's angle unit
	HAngleStdDev    float64 `json:"h_angle_std_dev" mapstructure:"h_angle_std_dev"`
	Seed            uint64  `json:"seed" mapstructure:"seed"`

	// Reduce
	ReturnMode string `json:"return_mode" mapstructure:"return_mode"`

	// Visualize
	Display string `json:"display" mapstructure:"display"` // "plot" or "chart"
	Title   string `json:"title" mapstructure:"title"`
	Width   int    `json:"width" mapstructure:"width"`
	Height  int    `json:"height" mapstructure:"height"`

	// Persist and visualize output, relative to the scene output dir.
	Dir    string `json:"dir" mapstructure:"dir"`
	Format string `json:"format" mapstructure:"format"` // "csv" or "binary"

	angleUnit string // set from the owning sensor by BuildLidar
}

// Validate checks the fields of the selected type. Errors wrap
// simsensor.ErrConfiguration.
func (f FilterConfig) Validate() error {
	if err := f.validate(); err != nil {
		return fmt.Errorf("%w: %w", simsensor.ErrConfiguration, err)
	}
	return nil
}

func (f FilterConfig) validate() error {
	switch f.Type {
	case FilterDINoise, FilterXYZINoise, FilterXYZIPolarNoise:
		if f.StdDev < 0 || f.IntensityStdDev < 0 || f.VAngleStdDev < 0 || f.HAngleStdDev < 0 {
			return fmt.Errorf("%s: standard deviations must be non-negative", f.Type)
		}
	case FilterReduce:
		if _, err := simsensor.ParseReturnMode(f.ReturnMode); err != nil {
			return err
		}
	case FilterVisualize:
		if f.Display != "plot" && f.Display != "chart" {
			return fmt.Errorf("visualize: display must be \"plot\" or \"chart\", got %q", f.Display)
		}
	case FilterPersist:
		if _, err := parseFormat(f.Format); err != nil {
			return err
		}
	case FilterDIAccess, FilterXYZIAccess, FilterDIToXYZI, FilterXYZIToDI:
	default:
		return fmt.Errorf("unknown filter type %q", f.Type)
	}
	return nil
}

func parseFormat(s string) (filter.Format, error) {
	switch s {
	case "", "csv":
		return filter.FormatCSV, nil
	case "binary":
		return filter.FormatBinary, nil
	default:
		return 0, fmt.Errorf("persist: format must be \"csv\" or \"binary\", got %q", s)
	}
}

// Outputs carries the destinations side-effect stages write to.
type Outputs struct {
	Dir      string
	FS       fsutil.FileSystem
	Recorder filter.CaptureRecorder // optional
}

// path is the directory a stage of sensorName writes to. Configured
// directories may nest but never leave the output root.
func (o Outputs) path(sensorName, dir, fallback string) (string, error) {
	if dir == "" {
		dir = fallback
	}
	p, err := security.OutputPath(o.Dir, security.SanitizeFilename(sensorName), dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", simsensor.ErrConfiguration, err)
	}
	return p, nil
}

// BuildFilter turns one stage description into a filter.
func (o Outputs) BuildFilter(sensorName string, f FilterConfig) (filter.Filter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	fs := o.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	var noiseOpts []filter.NoiseOption
	if f.Seed != 0 {
		noiseOpts = append(noiseOpts, filter.WithSeed(f.Seed))
	}
	switch f.Type {
	case FilterDINoise:
		return filter.NewDINoise(f.Mean, f.StdDev, f.IntensityStdDev, noiseOpts...), nil
	case FilterXYZINoise:
		return filter.NewXYZINoise(f.Mean, f.StdDev, f.StdDev, f.StdDev, f.IntensityStdDev, noiseOpts...), nil
	case FilterXYZIPolarNoise:
		return filter.NewXYZIPolarNoise(f.StdDev,
			units.ToRadians(f.VAngleStdDev, f.angleUnit), units.ToRadians(f.HAngleStdDev, f.angleUnit),
			f.IntensityStdDev, noiseOpts...), nil
	case FilterDIAccess:
		return filter.NewDIAccess(), nil
	case FilterXYZIAccess:
		return filter.NewXYZIAccess(), nil
	case FilterDIToXYZI:
		return filter.NewDIToXYZI(), nil
	case FilterXYZIToDI:
		return filter.NewXYZIToDI(), nil
	case FilterReduce:
		mode, _ := simsensor.ParseReturnMode(f.ReturnMode)
		return filter.NewReduce(mode), nil
	case FilterVisualize:
		title := f.Title
		if title == "" {
			title = sensorName
		}
		fallback := "plots"
		if f.Display == "chart" {
			fallback = "charts"
		}
		dir, err := o.path(sensorName, f.Dir, fallback)
		if err != nil {
			return nil, err
		}
		var d filter.Display
		if f.Display == "chart" {
			d = viz.NewChartDisplay(dir, fs)
		} else {
			d = viz.NewPlotDisplay(dir, fs)
		}
		return filter.NewVisualize(d, title, f.Width, f.Height), nil
	default: // FilterPersist
		dir, err := o.path(sensorName, f.Dir, "frames")
		if err != nil {
			return nil, err
		}
		format, _ := parseFormat(f.Format)
		opts := []filter.PersistOption{filter.WithFormat(format), filter.WithFileSystem(fs)}
		if o.Recorder != nil {
			opts = append(opts, filter.WithRecorder(o.Recorder))
		}
		return filter.NewPersist(dir, opts...), nil
	}
}

// BuildLidar constructs the configured lidar on body and appends its filter
// chain. Kind mismatches between stages are reported as configuration
// errors naming the offending stage.
func (o Outputs) BuildLidar(s SensorConfig, body simsensor.PoseProvider) (*sensor.Sensor, error) {
	cfg, err := s.LidarConfig()
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", s.Name, err)
	}
	lidar, err := sensor.NewLidar(s.Name, body, s.OffsetFrame(), cfg)
	if err != nil {
		return nil, err
	}
	for i, fc := range s.Filters {
		fc.angleUnit = s.AngleUnit
		f, err := o.BuildFilter(s.Name, fc)
		if err != nil {
			return nil, fmt.Errorf("sensor %q filters[%d]: %w", s.Name, i, err)
		}
		if err := lidar.PushFilter(f); err != nil {
			return nil, fmt.Errorf("sensor %q filters[%d]: %w", s.Name, i, err)
		}
	}
	return lidar, nil
}
