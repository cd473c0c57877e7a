package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/body"
	"github.com/banshee-data/sensorsim/internal/simsensor/sensor"
	"github.com/banshee-data/sensorsim/internal/units"
)

// SceneConfig is the root configuration of a simulation run: the physics
// step, run length, shared backend settings and the sensors to mount.
type SceneConfig struct {
	Name              string         `json:"name" mapstructure:"name"`
	Step              float64        `json:"step" mapstructure:"step"`         // seconds
	Duration          float64        `json:"duration" mapstructure:"duration"` // seconds
	Accelerators      int            `json:"accelerators" mapstructure:"accelerators"`
	DiagnosticsBuffer int            `json:"diagnostics_buffer" mapstructure:"diagnostics_buffer"`
	OutputDir         string         `json:"output_dir" mapstructure:"output_dir"`
	Catalog           string         `json:"catalog" mapstructure:"catalog"`           // SQLite path, empty disables
	MetricsAddr       string         `json:"metrics_addr" mapstructure:"metrics_addr"` // empty disables
	Sensors           []SensorConfig `json:"sensors" mapstructure:"sensors"`
}

// SensorConfig describes one lidar and its filter chain.
type SensorConfig struct {
	Name             string         `json:"name" mapstructure:"name"`
	Rate             float64        `json:"rate" mapstructure:"rate"` // Hz
	Lag              float64        `json:"lag" mapstructure:"lag"`
	CollectionWindow float64        `json:"collection_window" mapstructure:"collection_window"`
	Overrun          string         `json:"overrun" mapstructure:"overrun"`       // "drop" or "wait"
	AngleUnit        string         `json:"angle_unit" mapstructure:"angle_unit"` // "deg" (default) or "rad"
	Offset           OffsetConfig   `json:"offset" mapstructure:"offset"`
	Geometry         GeometryConfig `json:"geometry" mapstructure:"geometry"`
	Filters          []FilterConfig `json:"filters" mapstructure:"filters"`
}

// OffsetConfig places a sensor relative to its body. Angles are in the
// sensor's angle unit, applied yaw (z), then pitch (y), then roll (x).
type OffsetConfig struct {
	X     float64 `json:"x" mapstructure:"x"`
	Y     float64 `json:"y" mapstructure:"y"`
	Z     float64 `json:"z" mapstructure:"z"`
	Yaw   float64 `json:"yaw" mapstructure:"yaw"`
	Pitch float64 `json:"pitch" mapstructure:"pitch"`
	Roll  float64 `json:"roll" mapstructure:"roll"`
}

// GeometryConfig is the scan pattern. Angles are in the sensor's angle
// unit.
type GeometryConfig struct {
	HorizontalSamples int     `json:"horizontal_samples" mapstructure:"horizontal_samples"`
	VerticalChannels  int     `json:"vertical_channels" mapstructure:"vertical_channels"`
	HorizontalFOV     float64 `json:"horizontal_fov" mapstructure:"horizontal_fov"`
	MaxVertAngle      float64 `json:"max_vert_angle" mapstructure:"max_vert_angle"`
	MinVertAngle      float64 `json:"min_vert_angle" mapstructure:"min_vert_angle"`
	SampleRadius      int     `json:"sample_radius" mapstructure:"sample_radius"`
	DivergenceAngle   float64 `json:"divergence_angle" mapstructure:"divergence_angle"`
	ReturnMode        string  `json:"return_mode" mapstructure:"return_mode"`
	MaxDistance       float64 `json:"max_distance" mapstructure:"max_distance"` // metres
}

// DefaultSensor holds the values applied to sensor entries that leave a
// field unset.
var DefaultSensor = SensorConfig{
	Rate:      10,
	Overrun:   "drop",
	AngleUnit: units.Degrees,
	Geometry: GeometryConfig{
		HorizontalSamples: 256,
		VerticalChannels:  16,
		HorizontalFOV:     360,
		MaxVertAngle:      15,
		MinVertAngle:      -15,
		SampleRadius:      1,
		ReturnMode:        "strongest",
		MaxDistance:       simsensor.DefaultMaxDistance,
	},
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("name", "scene")
	v.SetDefault("step", 1e-3)
	v.SetDefault("duration", 1.0)
	v.SetDefault("accelerators", 1)
	v.SetDefault("diagnostics_buffer", 64)
	v.SetDefault("output_dir", "output")
	v.SetDefault("catalog", "")
	v.SetDefault("metrics_addr", "")
	v.SetEnvPrefix("SENSORSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads a scene configuration file. JSON, YAML and TOML are accepted
// by extension. Scalars may be overridden by SENSORSIM_* environment
// variables, for example SENSORSIM_STEP.
func Load(path string) (*SceneConfig, error) {
	v := newViper()
	v.SetConfigFile(filepath.Clean(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return decode(v)
}

// Read parses a scene configuration of the given format ("json", "yaml")
// from r.
func Read(r io.Reader, format string) (*SceneConfig, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file is given: the
// defaults with no sensors.
func Default() *SceneConfig {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*SceneConfig, error) {
	cfg := &SceneConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for i := range cfg.Sensors {
		cfg.Sensors[i].applyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (s *SensorConfig) applyDefaults() {
	d := DefaultSensor
	if s.Rate == 0 {
		s.Rate = d.Rate
	}
	if s.Overrun == "" {
		s.Overrun = d.Overrun
	}
	if s.AngleUnit == "" {
		s.AngleUnit = d.AngleUnit
	}
	g := &s.Geometry
	if g.HorizontalSamples == 0 {
		g.HorizontalSamples = d.Geometry.HorizontalSamples
	}
	if g.VerticalChannels == 0 {
		g.VerticalChannels = d.Geometry.VerticalChannels
	}
	// Default angles are degrees; convert them to the sensor's unit.
	angle := func(deg float64) float64 {
		if s.AngleUnit == units.Radians {
			return units.DegToRad(deg)
		}
		return deg
	}
	if g.HorizontalFOV == 0 {
		g.HorizontalFOV = angle(d.Geometry.HorizontalFOV)
	}
	if g.MaxVertAngle == 0 && g.MinVertAngle == 0 {
		g.MaxVertAngle, g.MinVertAngle = angle(d.Geometry.MaxVertAngle), angle(d.Geometry.MinVertAngle)
	}
	if g.SampleRadius == 0 {
		g.SampleRadius = d.Geometry.SampleRadius
	}
	if g.ReturnMode == "" {
		g.ReturnMode = d.Geometry.ReturnMode
	}
	if g.MaxDistance == 0 {
		g.MaxDistance = d.Geometry.MaxDistance
	}
}

// PoseHistory is the number of keyframes a body stepped at c.Step must
// keep so every sensor's lagged window, plus one deferred period, is still
// covered. It is never below body.DefaultHistory.
func (c *SceneConfig) PoseHistory() int {
	if c.Step <= 0 {
		return body.DefaultHistory
	}
	var span float64
	for _, s := range c.Sensors {
		need := s.Lag + s.CollectionWindow
		if s.Rate > 0 {
			need += 1 / s.Rate
		}
		span = max(span, need)
	}
	return max(int(math.Ceil(span/c.Step))+2, body.DefaultHistory)
}

// Validate checks the configuration for obviously invalid values. Filter
// kinds are checked when the chain is built.
func (c *SceneConfig) Validate() error {
	var errs []error
	if c.Step <= 0 {
		errs = append(errs, fmt.Errorf("step must be positive, got %g", c.Step))
	}
	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must be non-negative, got %g", c.Duration))
	}
	if c.Accelerators < 1 {
		errs = append(errs, fmt.Errorf("accelerators must be at least 1, got %d", c.Accelerators))
	}
	if c.DiagnosticsBuffer < 0 {
		errs = append(errs, fmt.Errorf("diagnostics_buffer must be non-negative, got %d", c.DiagnosticsBuffer))
	}
	seen := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sensors[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sensors[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sensors[%d] %q: %w", i, s.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", simsensor.ErrConfiguration, err)
	}
	return nil
}

// Validate checks one sensor entry.
func (s *SensorConfig) Validate() error {
	if s.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %g", s.Rate)
	}
	if s.Lag < 0 {
		return fmt.Errorf("lag must be non-negative, got %g", s.Lag)
	}
	if s.CollectionWindow < 0 {
		return fmt.Errorf("collection_window must be non-negative, got %g", s.CollectionWindow)
	}
	if _, err := s.OverrunPolicy(); err != nil {
		return err
	}
	if s.AngleUnit != "" && !units.IsValid(s.AngleUnit) {
		return fmt.Errorf("angle_unit must be \"deg\" or \"rad\", got %q", s.AngleUnit)
	}
	g, err := s.Geometry.LidarGeometry(s.AngleUnit)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}
	for i, f := range s.Filters {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}
	return nil
}

// OverrunPolicy parses the overrun field.
func (s *SensorConfig) OverrunPolicy() (sensor.OverrunPolicy, error) {
	switch s.Overrun {
	case "", "drop":
		return sensor.OverrunDrop, nil
	case "wait":
		return sensor.OverrunWait, nil
	default:
		return 0, fmt.Errorf("overrun must be \"drop\" or \"wait\", got %q", s.Overrun)
	}
}

// OffsetFrame converts the offset to a sensor-to-body frame.
func (s *SensorConfig) OffsetFrame() simsensor.Frame {
	o, u := s.Offset, s.AngleUnit
	yaw := simsensor.NewFrame(r3.Vec{X: o.X, Y: o.Y, Z: o.Z}, units.ToRadians(o.Yaw, u), r3.Vec{Z: 1})
	pitch := simsensor.NewFrame(r3.Vec{}, units.ToRadians(o.Pitch, u), r3.Vec{Y: 1})
	roll := simsensor.NewFrame(r3.Vec{}, units.ToRadians(o.Roll, u), r3.Vec{X: 1})
	return yaw.Compose(pitch).Compose(roll)
}

// LidarGeometry converts the scan pattern, with angles in unit, to the
// pipeline's radians.
func (g GeometryConfig) LidarGeometry(unit string) (simsensor.LidarGeometry, error) {
	mode, err := simsensor.ParseReturnMode(g.ReturnMode)
	if err != nil {
		return simsensor.LidarGeometry{}, err
	}
	rad := func(a float64) float64 { return units.ToRadians(a, unit) }
	return simsensor.LidarGeometry{
		HorizontalSamples: g.HorizontalSamples,
		VerticalChannels:  g.VerticalChannels,
		HorizontalFOV:     rad(g.HorizontalFOV),
		MaxVertAngle:      rad(g.MaxVertAngle),
		MinVertAngle:      rad(g.MinVertAngle),
		SampleRadius:      g.SampleRadius,
		DivergenceAngle:   rad(g.DivergenceAngle),
		ReturnMode:        mode,
		MaxDistance:       g.MaxDistance,
	}, nil
}

// LidarConfig returns the sensor package's construction parameters.
func (s *SensorConfig) LidarConfig() (sensor.LidarConfig, error) {
	g, err := s.Geometry.LidarGeometry(s.AngleUnit)
	if err != nil {
		return sensor.LidarConfig{}, err
	}
	overrun, err := s.OverrunPolicy()
	if err != nil {
		return sensor.LidarConfig{}, err
	}
	return sensor.LidarConfig{
		Rate:             s.Rate,
		Lag:              s.Lag,
		CollectionWindow: s.CollectionWindow,
		Geometry:         g,
		Overrun:          overrun,
	}, nil
}
