package filter

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Noise adds Gaussian perturbations to every hit. Misses stay misses. The
// random stream is derived from the seed, the sensor name and the buffer's
// capture index, so identical input yields identical output while sensors
// sharing a seed still draw independent streams.
type Noise struct {
	stage
	sameKind
	kind  simsensor.Kind
	polar bool // XYZI perturbed as range, elevation, azimuth
	mean  float64
	std   []float64 // per channel: range,intensity or x,y,z,intensity
	seed  uint64
}

// NoiseOption configures a noise stage.
type NoiseOption func(*Noise)

// WithSeed fixes the seed of the noise stream.
func WithSeed(seed uint64) NoiseOption {
	return func(n *Noise) { n.seed = seed }
}

// NewDINoise perturbs range and intensity of KindDI buffers.
func NewDINoise(mean, stdRange, stdIntensity float64, opts ...NoiseOption) *Noise {
	return newNoise("di-noise", simsensor.KindDI, mean, []float64{stdRange, stdIntensity}, opts)
}

// NewXYZINoise perturbs each coordinate and the intensity of KindXYZI
// buffers.
func NewXYZINoise(mean, stdX, stdY, stdZ, stdIntensity float64, opts ...NoiseOption) *Noise {
	return newNoise("xyzi-noise", simsensor.KindXYZI, mean, []float64{stdX, stdY, stdZ, stdIntensity}, opts)
}

// NewXYZIPolarNoise perturbs KindXYZI points in sensor-polar terms: range,
// vertical and horizontal angle (radians) and intensity. Errors therefore
// grow with distance as they do for a real scanner.
func NewXYZIPolarNoise(stdRange, stdVAngle, stdHAngle, stdIntensity float64, opts ...NoiseOption) *Noise {
	n := newNoise("xyzi-polar-noise", simsensor.KindXYZI, 0, []float64{stdRange, stdVAngle, stdHAngle, stdIntensity}, opts)
	n.polar = true
	return n
}

func newNoise(name string, kind simsensor.Kind, mean float64, std []float64, opts []NoiseOption) *Noise {
	n := &Noise{
		stage: stage{name: name, variant: VariantNoise},
		kind:  kind,
		mean:  mean,
		std:   std,
		seed:  0x5eed,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Accepts reports whether in matches the noise model's kind.
func (n *Noise) Accepts(in simsensor.Kind) bool { return in == n.kind }

// Apply returns a perturbed copy of in.
func (n *Noise) Apply(_ context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if err := checkKind(n, in); err != nil {
		return nil, err
	}
	src := rand.NewPCG(n.seed^xxhash.Sum64String(in.Sensor), in.Seq)
	dists := make([]distuv.Normal, len(n.std))
	for i, sigma := range n.std {
		dists[i] = distuv.Normal{Mu: n.mean, Sigma: sigma, Src: src}
	}
	draw := func(i int) float32 {
		if n.std[i] <= 0 {
			return float32(n.mean)
		}
		return float32(dists[i].Rand())
	}

	out := in.Clone()
	switch n.kind {
	case simsensor.KindDI:
		for i, s := range out.DI {
			if !s.Hit() {
				continue
			}
			r := s.Range + draw(0)
			if r <= 0 {
				out.DI[i] = simsensor.DISample{}
				continue
			}
			out.DI[i] = simsensor.DISample{Range: r, Intensity: clampUnit(s.Intensity + draw(1))}
		}
	case simsensor.KindXYZI:
		for i, s := range out.XYZI {
			if s.Intensity == 0 && s.X == 0 && s.Y == 0 && s.Z == 0 {
				continue
			}
			if n.polar {
				out.XYZI[i] = perturbPolar(s, draw)
				continue
			}
			out.XYZI[i] = simsensor.XYZISample{
				X:         s.X + draw(0),
				Y:         s.Y + draw(1),
				Z:         s.Z + draw(2),
				Intensity: clampUnit(s.Intensity + draw(3)),
			}
		}
	}
	return out, nil
}

func perturbPolar(s simsensor.XYZISample, draw func(int) float32) simsensor.XYZISample {
	x, y, z := float64(s.X), float64(s.Y), float64(s.Z)
	r := math.Sqrt(x*x + y*y + z*z)
	if r == 0 {
		return s
	}
	el := math.Asin(z/r) + float64(draw(1))
	az := math.Atan2(y, x) + float64(draw(2))
	r += float64(draw(0))
	if r <= 0 {
		return simsensor.XYZISample{}
	}
	return simsensor.XYZISample{
		X:         float32(r * math.Cos(el) * math.Cos(az)),
		Y:         float32(r * math.Cos(el) * math.Sin(az)),
		Z:         float32(r * math.Sin(el)),
		Intensity: clampUnit(s.Intensity + draw(3)),
	}
}

func clampUnit(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
