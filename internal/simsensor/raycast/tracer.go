// Package raycast is the reference simulation backend: an analytic scene of
// boxes and planes traced on the CPU.
//
// The Tracer models one shared, resource-limited accelerator. Submitted
// requests queue on a weighted semaphore and resolve through Futures, so
// callers get device-resident buffers back immediately and only block in
// the host-access stage.
package raycast

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Tracer implements simsensor.Backend over a Scene.
type Tracer struct {
	scene   *Scene
	accel   *semaphore.Weighted
	workers int

	mu       sync.Mutex
	closed   bool
	failNext int
	pending  sync.WaitGroup
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithAccelerators sets how many requests may trace at once. The default
// is one, serialising all sensors on a single device.
func WithAccelerators(n int64) Option {
	return func(t *Tracer) { t.accel = semaphore.NewWeighted(max(n, 1)) }
}

// WithWorkers bounds the goroutines tracing columns of one request.
func WithWorkers(n int) Option {
	return func(t *Tracer) { t.workers = max(n, 1) }
}

// New returns a tracer over scene.
func New(scene *Scene, opts ...Option) *Tracer {
	t := &Tracer{
		scene:   scene,
		accel:   semaphore.NewWeighted(1),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FailNext makes the next n requests resolve with ErrBackendUnavailable.
func (t *Tracer) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

// Submit queues reqs and returns a pending raw buffer for each.
func (t *Tracer) Submit(ctx context.Context, reqs []*simsensor.Request) ([]*simsensor.Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("%w: tracer closed", simsensor.ErrBackendUnavailable)
	}

	out := make([]*simsensor.Buffer, len(reqs))
	for i, req := range reqs {
		f := simsensor.NewFuture()
		out[i] = simsensor.Pending(req.Header(), f)
		if t.failNext > 0 {
			t.failNext--
			f.Resolve(nil, fmt.Errorf("%w: injected failure for %s #%d", simsensor.ErrBackendUnavailable, req.Sensor, req.Seq))
			continue
		}
		if err := req.Geometry.Validate(); err != nil {
			f.Resolve(nil, err)
			continue
		}
		t.pending.Go(func() { f.Resolve(t.trace(ctx, req)) })
	}
	return out, nil
}

// Close rejects further submissions and waits for queued traces.
func (t *Tracer) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.pending.Wait()
	return nil
}

func (t *Tracer) trace(ctx context.Context, req *simsensor.Request) (*simsensor.Buffer, error) {
	if err := t.accel.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", simsensor.ErrBackendUnavailable, err)
	}
	defer t.accel.Release(1)

	start := time.Now()
	out := req.Header()
	g := req.Geometry
	n := out.SamplesPerBeam
	out.DI = make([]simsensor.DISample, out.Beams()*n)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(t.workers)
	for col := 0; col < g.HorizontalSamples; col++ {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.traceColumn(req, col, out)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: trace %s #%d: %v", simsensor.ErrBackendUnavailable, req.Sensor, req.Seq, err)
	}
	tracef("traced %s #%d: %d rays in %s", req.Sensor, req.Seq, len(out.DI), time.Since(start))
	return out, nil
}

// traceColumn fills every sub-ray of one column. Columns are swept across
// the collection window, each traced at its own instant with the sensor
// pose interpolated there.
func (t *Tracer) traceColumn(req *simsensor.Request, col int, out *simsensor.Buffer) {
	g := req.Geometry
	at := columnTime(req, col)
	pose := simsensor.FrameAt(req.Poses, at)
	maxDist := g.MaxDistance
	if maxDist <= 0 {
		maxDist = simsensor.DefaultMaxDistance
	}

	side := 2*g.SampleRadius - 1
	if side < 1 {
		side = 1
	}
	n := side * side
	for row := 0; row < g.VerticalChannels; row++ {
		az, el := g.BeamAngles(col, row)
		base := (row*g.HorizontalSamples + col) * n
		for a := 0; a < side; a++ {
			for b := 0; b < side; b++ {
				x, y, z := simsensor.Direction(az+spread(a, side, g.DivergenceAngle), el+spread(b, side, g.DivergenceAngle))
				dir := pose.Rotate(r3.Vec{X: x, Y: y, Z: z})
				out.DI[base+a*side+b] = t.scene.Cast(pose.Pos, dir, at, maxDist)
			}
		}
	}
}

// columnTime is the instant column col is traced at. A zero window traces
// the whole scan at the window end.
func columnTime(req *simsensor.Request, col int) float64 {
	w := req.WindowEnd - req.WindowStart
	if w <= 0 || req.Geometry.HorizontalSamples <= 0 {
		return req.WindowEnd
	}
	return req.WindowStart + w*(float64(col)+0.5)/float64(req.Geometry.HorizontalSamples)
}

// spread is the angular offset of sub-ray i of side across the divergence
// cone.
func spread(i, side int, divergence float64) float64 {
	if side <= 1 {
		return 0
	}
	return divergence*float64(i)/float64(side-1) - divergence/2
}
