package simsensor

import (
	"fmt"
	"math"
)

// ReturnMode selects how the sub-ray returns of one beam collapse into a
// single return.
type ReturnMode int

const (
	// StrongestReturn keeps the sub-ray with the highest intensity.
	StrongestReturn ReturnMode = iota
	// MeanReturn averages range and intensity over the sub-rays that hit.
	MeanReturn
	// FirstReturn keeps the nearest hit.
	FirstReturn
	// LastReturn keeps the farthest hit.
	LastReturn
)

func (m ReturnMode) String() string {
	switch m {
	case StrongestReturn:
		return "strongest"
	case MeanReturn:
		return "mean"
	case FirstReturn:
		return "first"
	case LastReturn:
		return "last"
	default:
		return fmt.Sprintf("return-mode(%d)", int(m))
	}
}

// ParseReturnMode converts a mode name as printed by String to a ReturnMode.
func ParseReturnMode(s string) (ReturnMode, error) {
	for _, m := range []ReturnMode{StrongestReturn, MeanReturn, FirstReturn, LastReturn} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown return mode %q", ErrConfiguration, s)
}

// DefaultMaxDistance is the lidar range used when none is configured (metres).
const DefaultMaxDistance = 100.0

// LidarGeometry describes the scan pattern of a scanning range sensor.
// Angles are in radians.
type LidarGeometry struct {
	HorizontalSamples int
	VerticalChannels  int
	HorizontalFOV     float64
	MaxVertAngle      float64
	MinVertAngle      float64

	// SampleRadius controls multi-sample beams: each beam is traced by
	// (2r-1)² sub-rays. 1 means a single ray per beam.
	SampleRadius    int
	DivergenceAngle float64
	ReturnMode      ReturnMode
	MaxDistance     float64
}

// SamplesPerBeam returns the number of sub-rays traced per beam.
func (g LidarGeometry) SamplesPerBeam() int {
	n := 2*g.SampleRadius - 1
	if n < 1 {
		return 1
	}
	return n * n
}

// RawKind is the kind of buffer the backend produces for this geometry.
func (g LidarGeometry) RawKind() Kind {
	if g.SamplesPerBeam() > 1 {
		return KindDIMulti
	}
	return KindDI
}

// Validate returns an ErrConfiguration error describing the first invalid
// field.
func (g LidarGeometry) Validate() error {
	switch {
	case g.HorizontalSamples <= 0:
		return fmt.Errorf("%w: horizontal samples must be positive, got %d", ErrConfiguration, g.HorizontalSamples)
	case g.VerticalChannels <= 0:
		return fmt.Errorf("%w: vertical channels must be positive, got %d", ErrConfiguration, g.VerticalChannels)
	case g.HorizontalFOV <= 0 || g.HorizontalFOV > 2*math.Pi+1e-9:
		return fmt.Errorf("%w: horizontal fov must be in (0, 2π], got %g", ErrConfiguration, g.HorizontalFOV)
	case g.MinVertAngle > g.MaxVertAngle:
		return fmt.Errorf("%w: min vertical angle %g above max %g", ErrConfiguration, g.MinVertAngle, g.MaxVertAngle)
	case g.SampleRadius < 1:
		return fmt.Errorf("%w: sample radius must be at least 1, got %d", ErrConfiguration, g.SampleRadius)
	case g.DivergenceAngle < 0:
		return fmt.Errorf("%w: divergence angle must not be negative, got %g", ErrConfiguration, g.DivergenceAngle)
	case g.MaxDistance < 0:
		return fmt.Errorf("%w: max distance must not be negative, got %g", ErrConfiguration, g.MaxDistance)
	}
	return nil
}

// BeamAngles returns the azimuth and elevation of beam (col, row). Azimuth
// spans the horizontal FOV centred on +x; elevation spans [min, max].
func (g LidarGeometry) BeamAngles(col, row int) (azimuth, elevation float64) {
	azimuth = float64(col)/float64(g.HorizontalSamples)*g.HorizontalFOV - g.HorizontalFOV/2
	if g.VerticalChannels > 1 {
		elevation = float64(row)/float64(g.VerticalChannels-1)*(g.MaxVertAngle-g.MinVertAngle) + g.MinVertAngle
	} else {
		elevation = g.MinVertAngle
	}
	return azimuth, elevation
}

// Direction returns the unit sensor-frame direction for the given angles.
// Convention: x forward, y left, z up.
func Direction(azimuth, elevation float64) (x, y, z float64) {
	cosEl := math.Cos(elevation)
	return cosEl * math.Cos(azimuth), cosEl * math.Sin(azimuth), math.Sin(elevation)
}
