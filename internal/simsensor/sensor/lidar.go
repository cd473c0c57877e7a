package sensor

import (
	"fmt"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

// KindLidar identifies scanning range sensors.
const KindLidar = "lidar"

// LidarConfig holds the construction parameters of a scanning lidar.
type LidarConfig struct {
	Rate             float64 // Hz
	Lag              float64 // seconds
	CollectionWindow float64 // seconds
	Geometry         simsensor.LidarGeometry
	Overrun          OverrunPolicy
}

// NewLidar builds a lidar mounted on body at offset. The chain's head
// accepts the geometry's raw kind; multi-sample geometries get a reduce
// stage for the configured return mode first, so user filters always see
// depth/intensity data.
func NewLidar(name string, body simsensor.PoseProvider, offset simsensor.Frame, cfg LidarConfig) (*Sensor, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("lidar %q: %w", name, err)
	}
	s, err := newSensor(name, KindLidar, body, offset, cfg.Rate, cfg.Lag, cfg.CollectionWindow)
	if err != nil {
		return nil, err
	}
	s.geometry = cfg.Geometry
	s.overrun = cfg.Overrun
	s.chain = filter.NewChain(cfg.Geometry.RawKind())
	if cfg.Geometry.RawKind() == simsensor.KindDIMulti {
		if err := s.chain.Append(filter.NewReduce(cfg.Geometry.ReturnMode)); err != nil {
			return nil, fmt.Errorf("lidar %q: %w", name, err)
		}
	}
	diagf("%s: lidar %dx%d at %g Hz, lag %gs, window %gs, raw %s",
		name, cfg.Geometry.HorizontalSamples, cfg.Geometry.VerticalChannels,
		cfg.Rate, cfg.Lag, cfg.CollectionWindow, cfg.Geometry.RawKind())
	return s, nil
}
