package raycast

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

func request(g simsensor.LidarGeometry, poses ...simsensor.Keyframe) *simsensor.Request {
	if len(poses) == 0 {
		poses = []simsensor.Keyframe{{Frame: simsensor.Identity()}}
	}
	return &simsensor.Request{Sensor: "test", Seq: 1, Geometry: g, Poses: poses}
}

func single(w, h int) simsensor.LidarGeometry {
	return simsensor.LidarGeometry{
		HorizontalSamples: w,
		VerticalChannels:  h,
		HorizontalFOV:     2 * math.Pi,
		SampleRadius:      1,
		MaxDistance:       50,
	}
}

func traceOne(t *testing.T, tr *Tracer, req *simsensor.Request) *simsensor.Buffer {
	t.Helper()
	bufs, err := tr.Submit(context.Background(), []*simsensor.Request{req})
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	require.True(t, bufs[0].OnDevice())
	host, err := bufs[0].Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, host.Validate())
	return host
}

func TestScene_BoxNormalIncidence(t *testing.T) {
	s := NewScene(NewBox(r3.Vec{X: 5}, r3.Vec{X: 2, Y: 2, Z: 2}, 0.8))

	got := s.Cast(r3.Vec{}, r3.Vec{X: 1}, 0, 100)
	assert.InDelta(t, 4, got.Range, 1e-6)
	assert.InDelta(t, 0.8, got.Intensity, 1e-6)

	assert.False(t, s.Cast(r3.Vec{}, r3.Vec{X: -1}, 0, 100).Hit(), "box behind the sensor")
	assert.False(t, s.Cast(r3.Vec{}, r3.Vec{X: 1}, 0, 3).Hit(), "box beyond max distance")
	assert.False(t, s.Cast(r3.Vec{X: 5}, r3.Vec{X: 1}, 0, 100).Hit(), "origin inside box")
}

func TestScene_PlaneIncidenceScalesIntensity(t *testing.T) {
	s := NewScene(&Plane{Point: r3.Vec{Z: -1}, Normal: r3.Vec{Z: 1}, Reflect: 1})

	dir := r3.Unit(r3.Vec{X: 1, Z: -1})
	got := s.Cast(r3.Vec{}, dir, 0, 100)
	assert.InDelta(t, math.Sqrt2, got.Range, 1e-6)
	assert.InDelta(t, math.Cos(math.Pi/4), got.Intensity, 1e-6)

	assert.False(t, s.Cast(r3.Vec{}, r3.Vec{X: 1}, 0, 100).Hit(), "parallel ray")
}

func TestScene_NearestShapeWins(t *testing.T) {
	s := NewScene(
		NewBox(r3.Vec{X: 10}, r3.Vec{X: 1, Y: 1, Z: 1}, 0.2),
		NewBox(r3.Vec{X: 4}, r3.Vec{X: 1, Y: 1, Z: 1}, 0.9),
	)
	got := s.Cast(r3.Vec{}, r3.Vec{X: 1}, 0, 100)
	assert.InDelta(t, 3.5, got.Range, 1e-6)
	assert.InDelta(t, 0.9, got.Intensity, 1e-6)
}

func TestScene_MovingBox(t *testing.T) {
	box := NewBox(r3.Vec{X: 5}, r3.Vec{X: 2, Y: 2, Z: 2}, 1)
	box.Motion = func(t float64) simsensor.Frame {
		return simsensor.NewFrame(r3.Vec{}, t, r3.Vec{Z: 1})
	}
	s := NewScene(box)

	flat := s.Cast(r3.Vec{}, r3.Vec{X: 1}, 0, 100)
	turned := s.Cast(r3.Vec{}, r3.Vec{X: 1}, math.Pi/4, 100)
	assert.InDelta(t, 4, flat.Range, 1e-6)
	assert.InDelta(t, 5-math.Sqrt2, turned.Range, 1e-6, "corner faces the sensor")
	assert.InDelta(t, math.Cos(math.Pi/4), turned.Intensity, 1e-6)
}

func TestTracer_SingleSampleScan(t *testing.T) {
	scene := NewScene(&Plane{Point: r3.Vec{Z: -2}, Normal: r3.Vec{Z: 1}, Reflect: 0.5})
	g := single(8, 2)
	g.MinVertAngle, g.MaxVertAngle = -math.Pi/6, 0

	host := traceOne(t, New(scene), request(g))
	assert.Equal(t, simsensor.KindDI, host.Kind)
	assert.Len(t, host.DI, 16)
	for col := 0; col < 8; col++ {
		down := host.DI[col]   // row 0, 30° down
		level := host.DI[8+col] // row 1, horizontal
		assert.InDelta(t, 4, down.Range, 1e-5, "col %d", col)
		assert.InDelta(t, 0.25, down.Intensity, 1e-5, "col %d", col)
		assert.False(t, level.Hit(), "col %d", col)
	}
}

func TestTracer_MultiSampleLayout(t *testing.T) {
	scene := NewScene(NewBox(r3.Vec{X: 10}, r3.Vec{X: 1, Y: 20, Z: 20}, 1))
	g := single(4, 1)
	g.HorizontalFOV = 0.4
	g.SampleRadius = 2
	g.DivergenceAngle = 0.01

	host := traceOne(t, New(scene, WithWorkers(2)), request(g))
	assert.Equal(t, simsensor.KindDIMulti, host.Kind)
	assert.Equal(t, 9, host.SamplesPerBeam)
	require.Len(t, host.DI, 36)

	beam := host.DI[2*9 : 3*9] // column 2 looks straight ahead
	for i, s := range beam {
		assert.True(t, s.Hit(), "sub-ray %d", i)
		assert.InDelta(t, 9.5, s.Range, 0.01, "sub-ray %d", i)
	}
	assert.NotEqual(t, beam[0].Range, beam[4].Range, "sub-rays spread over the divergence cone")
	assert.InDelta(t, 9.5, beam[4].Range, 1e-5, "centre sub-ray")
}

// Columns are swept across the window: a sensor moving towards a wall sees
// later columns at shorter range.
func TestTracer_RollingScan(t *testing.T) {
	scene := NewScene(&Plane{Point: r3.Vec{X: 20}, Normal: r3.Vec{X: -1}, Reflect: 1})
	g := single(4, 1)
	g.HorizontalFOV = 1e-6

	start := simsensor.Identity()
	end := simsensor.Identity()
	end.Pos.X = 4
	req := request(g,
		simsensor.Keyframe{Time: 0, Frame: start},
		simsensor.Keyframe{Time: 1, Frame: end})
	req.WindowStart, req.WindowEnd = 0, 1

	host := traceOne(t, New(scene), req)
	for col := 0; col < 4; col++ {
		at := (float64(col) + 0.5) / 4
		assert.InDelta(t, 20-4*at, host.DI[col].Range, 1e-4, "col %d", col)
	}

	req.WindowStart = 1
	host = traceOne(t, New(scene), req)
	for col := 0; col < 4; col++ {
		assert.InDelta(t, 16, host.DI[col].Range, 1e-4, "zero window traces at the window end")
	}
}

func TestTracer_FailuresAndClose(t *testing.T) {
	tr := New(NewScene(), WithAccelerators(2))
	tr.FailNext(1)

	reqs := []*simsensor.Request{request(single(2, 1)), request(single(2, 1))}
	bufs, err := tr.Submit(context.Background(), reqs)
	require.NoError(t, err)
	_, err = bufs[0].Sync(context.Background())
	assert.ErrorIs(t, err, simsensor.ErrBackendUnavailable)
	host, err := bufs[1].Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, host.DI[0].Hit(), "empty scene")

	bad := request(single(0, 1))
	bufs, err = tr.Submit(context.Background(), []*simsensor.Request{bad})
	require.NoError(t, err)
	_, err = bufs[0].Sync(context.Background())
	assert.ErrorIs(t, err, simsensor.ErrConfiguration)

	require.NoError(t, tr.Close())
	_, err = tr.Submit(context.Background(), reqs)
	assert.ErrorIs(t, err, simsensor.ErrBackendUnavailable)
}

func TestTracer_CancelledContext(t *testing.T) {
	tr := New(NewScene())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bufs, err := tr.Submit(ctx, []*simsensor.Request{request(single(2, 1))})
	require.NoError(t, err)
	_, err = bufs[0].Sync(context.Background())
	assert.ErrorIs(t, err, simsensor.ErrBackendUnavailable)
}
