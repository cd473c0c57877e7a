package main

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sensorsim/internal/config"
	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/raycast"
	"github.com/banshee-data/sensorsim/internal/units"
)

// Demo scene: a ground slab, two side walls and a spinning block ahead of
// the vehicle.
const (
	groundZ     = -3.0
	wallOffset  = 10.0
	spinRate    = 2.5 // rad/s
	vehicleRate = 2.0 // m/s along +x
)

func demoScene() *raycast.Scene {
	ground := raycast.NewBox(r3.Vec{Z: groundZ - 0.5}, r3.Vec{X: 100, Y: 100, Z: 1}, 0.3)
	left := raycast.NewBox(r3.Vec{Y: wallOffset}, r3.Vec{X: 100, Y: 0.5, Z: 6}, 0.8)
	right := raycast.NewBox(r3.Vec{Y: -wallOffset}, r3.Vec{X: 100, Y: 0.5, Z: 6}, 0.8)

	spinner := raycast.NewBox(r3.Vec{X: 15}, r3.Vec{X: 3, Y: 3, Z: 3}, 0.9)
	spinner.Motion = func(t float64) simsensor.Frame {
		return simsensor.NewFrame(r3.Vec{}, spinRate*t, r3.Vec{Z: 1})
	}
	return raycast.NewScene(ground, left, right, spinner)
}

// vehicleFrame is the body's pose at simulation time t.
func vehicleFrame(t float64) simsensor.Frame {
	return simsensor.NewFrame(r3.Vec{X: vehicleRate * t}, 0, r3.Vec{})
}

// demoOptions selects the optional stages of the built-in demo.
type demoOptions struct {
	visualize bool
	persist   bool
	noise     bool // polar noise on the model's point cloud
}

// demoSensors returns an ideal lidar and a multi-sample model of the same
// unit mounted at the same place, so their outputs can be compared.
func demoSensors(opts demoOptions) []config.SensorConfig {
	base := config.DefaultSensor
	base.Rate = 5
	base.CollectionWindow = 0.2
	base.Offset = config.OffsetConfig{X: -4, Z: 4}

	ideal := base
	ideal.Name = "ideal"
	ideal.Filters = demoFilters(opts, false)

	model := base
	model.Name = "model"
	model.Geometry.SampleRadius = 5
	model.Geometry.DivergenceAngle = units.RadToDeg(0.003)
	model.Filters = demoFilters(opts, opts.noise)
	return []config.SensorConfig{ideal, model}
}

func demoFilters(opts demoOptions, noise bool) []config.FilterConfig {
	filters := []config.FilterConfig{{Type: config.FilterDIAccess}}
	if opts.visualize {
		filters = append(filters, config.FilterConfig{Type: config.FilterVisualize, Display: "plot", Title: "range"})
	}
	filters = append(filters, config.FilterConfig{Type: config.FilterDIToXYZI})
	if noise {
		filters = append(filters, config.FilterConfig{
			Type:            config.FilterXYZIPolarNoise,
			StdDev:          0.01,
			VAngleStdDev:    units.RadToDeg(0.001),
			HAngleStdDev:    units.RadToDeg(0.001),
			IntensityStdDev: 0.01,
		})
	}
	filters = append(filters, config.FilterConfig{Type: config.FilterXYZIAccess})
	if opts.persist {
		filters = append(filters, config.FilterConfig{Type: config.FilterPersist, Format: "csv"})
	}
	return filters
}

// pointDelta is the mean absolute difference between two XYZI readings over
// the beams both of them hit.
type pointDelta struct {
	Y, Z, Intensity float64
	Beams           int
}

func comparePoints(a, b *simsensor.Buffer) (pointDelta, bool) {
	if !a.Ready() || !b.Ready() || a.Kind != simsensor.KindXYZI || b.Kind != simsensor.KindXYZI {
		return pointDelta{}, false
	}
	if len(a.XYZI) != len(b.XYZI) {
		return pointDelta{}, false
	}
	var d pointDelta
	for i, pa := range a.XYZI {
		pb := b.XYZI[i]
		if pa.Intensity == 0 || pb.Intensity == 0 {
			continue
		}
		d.Y += math.Abs(float64(pa.Y - pb.Y))
		d.Z += math.Abs(float64(pa.Z - pb.Z))
		d.Intensity += math.Abs(float64(pa.Intensity - pb.Intensity))
		d.Beams++
	}
	if d.Beams == 0 {
		return d, false
	}
	n := float64(d.Beams)
	d.Y /= n
	d.Z /= n
	d.Intensity /= n
	return d, true
}
