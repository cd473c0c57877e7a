package filter

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Convert reinterprets one payload kind as another.
type Convert struct {
	stage
	from, to simsensor.Kind
	fn       func(in *simsensor.Buffer) (*simsensor.Buffer, error)
}

// NewDIToXYZI converts a polar depth/intensity grid to sensor-frame
// Cartesian points using the scan geometry carried by the buffer. Misses
// map to the origin with zero intensity.
func NewDIToXYZI() *Convert {
	return &Convert{
		stage: stage{name: "di-to-xyzi", variant: VariantConvert},
		from:  simsensor.KindDI,
		to:    simsensor.KindXYZI,
		fn:    diToXYZI,
	}
}

// NewXYZIToDI is the structured inverse of NewDIToXYZI: each grid point's
// range is its distance from the sensor and its intensity is preserved.
func NewXYZIToDI() *Convert {
	return &Convert{
		stage: stage{name: "xyzi-to-di", variant: VariantConvert},
		from:  simsensor.KindXYZI,
		to:    simsensor.KindDI,
		fn:    xyziToDI,
	}
}

// Accepts reports whether in is the source kind.
func (c *Convert) Accepts(in simsensor.Kind) bool { return in == c.from }

// OutputKind returns the target kind.
func (c *Convert) OutputKind(simsensor.Kind) simsensor.Kind { return c.to }

// Apply converts in to the target kind.
func (c *Convert) Apply(_ context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if err := checkKind(c, in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	return c.fn(in)
}

func diToXYZI(in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if in.Geometry == nil {
		return nil, fmt.Errorf("di-to-xyzi: buffer carries no scan geometry")
	}
	g := *in.Geometry
	out := in.CopyHeader(simsensor.KindXYZI)
	out.SamplesPerBeam = 1
	out.XYZI = make([]simsensor.XYZISample, len(in.DI))
	for row := 0; row < in.Height; row++ {
		for col := 0; col < in.Width; col++ {
			i := row*in.Width + col
			s := in.DI[i]
			if !s.Hit() {
				continue
			}
			az, el := g.BeamAngles(col, row)
			dx, dy, dz := simsensor.Direction(az, el)
			r := float64(s.Range)
			out.XYZI[i] = simsensor.XYZISample{
				X:         float32(r * dx),
				Y:         float32(r * dy),
				Z:         float32(r * dz),
				Intensity: s.Intensity,
			}
		}
	}
	return out, nil
}

func xyziToDI(in *simsensor.Buffer) (*simsensor.Buffer, error) {
	out := in.CopyHeader(simsensor.KindDI)
	out.SamplesPerBeam = 1
	out.DI = make([]simsensor.DISample, len(in.XYZI))
	for i, p := range in.XYZI {
		r := math.Sqrt(float64(p.X)*float64(p.X) + float64(p.Y)*float64(p.Y) + float64(p.Z)*float64(p.Z))
		if r == 0 {
			continue
		}
		out.DI[i] = simsensor.DISample{Range: float32(r), Intensity: p.Intensity}
	}
	return out, nil
}
