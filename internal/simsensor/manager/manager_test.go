package manager

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/body"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
	"github.com/banshee-data/sensorsim/internal/simsensor/sensor"
	"github.com/banshee-data/sensorsim/internal/testutil"
)

const step = 1e-3

func geometry(radius int, mode simsensor.ReturnMode) simsensor.LidarGeometry {
	return simsensor.LidarGeometry{
		HorizontalSamples: 8,
		VerticalChannels:  2,
		HorizontalFOV:     math.Pi / 2,
		MaxVertAngle:      0.05,
		MinVertAngle:      -0.05,
		SampleRadius:      radius,
		DivergenceAngle:   0.002,
		ReturnMode:        mode,
	}
}

func newLidar(t *testing.T, name string, cfg sensor.LidarConfig, filters ...filter.Filter) (*sensor.Sensor, *body.Body) {
	t.Helper()
	b := body.New(name+"-mount", 0, simsensor.Identity())
	s, err := sensor.NewLidar(name, b, simsensor.Identity(), cfg)
	require.NoError(t, err)
	for _, f := range filters {
		require.NoError(t, s.PushFilter(f))
	}
	return s, b
}

func newManager(t *testing.T, be simsensor.Backend, opts ...Option) *Manager {
	t.Helper()
	m, err := New(be, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func drain(ch <-chan Diagnostic) []Diagnostic {
	var out []Diagnostic
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		default:
			return out
		}
	}
}

func waitForState(t *testing.T, s *sensor.Sensor, want sensor.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("sensor %s stuck in %s, want %s", s.Name(), s.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

type recordingObserver struct {
	mu                            sync.Mutex
	added, removed, batches       int
	published, dropped, abandoned int
}

func (o *recordingObserver) inc(n *int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*n++
}

func (o *recordingObserver) SensorAdded(string)                   { o.inc(&o.added) }
func (o *recordingObserver) SensorRemoved(string)                 { o.inc(&o.removed) }
func (o *recordingObserver) BatchSubmitted(int)                   { o.inc(&o.batches) }
func (o *recordingObserver) CyclePublished(string, time.Duration) { o.inc(&o.published) }
func (o *recordingObserver) CycleDropped(string)                  { o.inc(&o.dropped) }
func (o *recordingObserver) CycleAbandoned(string)                { o.inc(&o.abandoned) }

type failingDisplay struct{}

func (failingDisplay) Show(context.Context, filter.View, *simsensor.Buffer) error {
	return errors.New("display gone")
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, simsensor.ErrConfiguration)
}

func TestManager_AddSensorRejectsDuplicatesAndNil(t *testing.T) {
	m := newManager(t, testutil.NewBackend(testutil.ConstantFill(1, 1)))
	s, _ := newLidar(t, "front", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)})
	twin, _ := newLidar(t, "front", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)})

	require.NoError(t, m.AddSensor(s))
	assert.ErrorIs(t, m.AddSensor(s), simsensor.ErrConfiguration)
	assert.ErrorIs(t, m.AddSensor(twin), simsensor.ErrConfiguration)
	assert.ErrorIs(t, m.AddSensor(nil), simsensor.ErrConfiguration)
	assert.Len(t, m.Sensors(), 1)

	assert.ErrorIs(t, m.RemoveSensor(twin), ErrNotRegistered)
	assert.ErrorIs(t, m.RemoveSensor(nil), ErrNotRegistered)
}

func TestManager_UpdateWithNothingDue(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(1, 1))
	m := newManager(t, be)
	m.Update(0.001)
	assert.Empty(t, be.Batches())

	s, _ := newLidar(t, "front", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)})
	require.NoError(t, m.AddSensor(s))
	m.Update(0.05)
	m.Wait()
	assert.Empty(t, be.Batches())
	assert.Empty(t, drain(m.Diagnostics()))
	assert.InDelta(t, 0.05, m.Time(), 1e-12)
}

// A 5 Hz sensor with a 0.2 s window and a host-access chain, stepped at
// 1 ms for one second, publishes exactly five buffers at 0.2 s intervals.
func TestManager_FiveHertzScenario(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(4, 0.5))
	m := newManager(t, be)
	s, _ := newLidar(t, "front",
		sensor.LidarConfig{Rate: 5, CollectionWindow: 0.2, Geometry: geometry(1, simsensor.StrongestReturn)},
		filter.NewDIAccess())
	require.NoError(t, m.AddSensor(s))

	var stamps []float64
	var lastSeq uint64
	for n := 1; n <= 1000; n++ {
		m.Update(float64(n) * step)
		m.Wait()
		if b := s.MostRecentDI(); b.Ready() && b.Seq != lastSeq {
			lastSeq = b.Seq
			stamps = append(stamps, b.Timestamp)
		}
	}

	want := []float64{0.2, 0.4, 0.6, 0.8, 1.0}
	require.Len(t, stamps, len(want))
	for i := range want {
		assert.InDelta(t, want[i], stamps[i], step, "publish %d", i)
	}
	assert.Equal(t, uint64(5), s.Stats().Published)
	assert.Empty(t, drain(m.Diagnostics()))
}

// The same scenario without pausing the loop: the wait policy keeps every
// due tick at its own capture time and never issues overlapping cycles.
func TestManager_FiveHertzScenarioFreeRunning(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(4, 0.5))
	m := newManager(t, be)
	s, _ := newLidar(t, "front",
		sensor.LidarConfig{Rate: 5, CollectionWindow: 0.2, Geometry: geometry(1, simsensor.StrongestReturn), Overrun: sensor.OverrunWait},
		filter.NewDIAccess())
	require.NoError(t, m.AddSensor(s))

	for n := 1; n <= 1000; n++ {
		m.Update(float64(n) * step)
	}
	// A tick owed at the last step is issued once the sensor is idle.
	m.Wait()
	m.Update(1.0)
	m.Wait()

	reqs := be.Requests()
	require.Len(t, reqs, 5)
	for i, r := range reqs {
		want := 0.2 * float64(i+1)
		assert.InDelta(t, want, r.Timestamp, step)
		assert.InDelta(t, r.WindowEnd-0.2, r.WindowStart, 1e-12)
	}
	assert.Equal(t, uint64(5), s.Stats().Published)
	assert.InDelta(t, 1.0, s.MostRecentDI().Timestamp, step)
}

func TestManager_WaitingSensorDoesNotStallOthers(t *testing.T) {
	gate := make(chan struct{})
	fill := testutil.ConstantFill(2, 1)
	be := testutil.NewBackend(func(req *simsensor.Request) (*simsensor.Buffer, error) {
		if req.Sensor == "slow" {
			<-gate
		}
		return fill(req)
	})
	m := newManager(t, be)
	slow, _ := newLidar(t, "slow",
		sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn), Overrun: sensor.OverrunWait},
		filter.NewDIAccess())
	fast, _ := newLidar(t, "fast", sensor.LidarConfig{Rate: 100, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	require.NoError(t, m.AddSensor(slow))
	require.NoError(t, m.AddSensor(fast))

	m.Update(0.1)
	waitForState(t, slow, sensor.StateFiltering)
	waitForState(t, fast, sensor.StateIdle)

	done := make(chan struct{})
	go func() {
		m.Update(0.2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update blocked behind a sensor waiting on its own cycle")
	}

	count := func(name string) (n int, last *simsensor.Request) {
		for _, r := range be.Requests() {
			if r.Sensor == name {
				n, last = n+1, r
			}
		}
		return n, last
	}
	n, _ := count("fast")
	assert.Equal(t, 2, n, "fast serviced while slow is busy")
	n, _ = count("slow")
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), slow.Stats().Deferred)

	close(gate)
	m.Wait()
	m.Update(0.201)
	m.Wait()

	n, last := count("slow")
	require.Equal(t, 2, n)
	assert.InDelta(t, 0.2, last.CaptureTime, 1e-12)
	assert.Equal(t, uint64(2), slow.Stats().Published)
	assert.Zero(t, slow.Stats().Dropped)
	assert.Empty(t, drain(m.Diagnostics()))
}

func TestManager_ReturnModesDifferButAreDeterministic(t *testing.T) {
	// Sub-sample j of every beam: range falls and intensity falls, so the
	// nearest return is also the weakest.
	fill := func(req *simsensor.Request) (*simsensor.Buffer, error) {
		b := req.Header()
		n := b.SamplesPerBeam
		b.DI = make([]simsensor.DISample, b.Beams()*n)
		for beam := 0; beam < b.Beams(); beam++ {
			for j := 0; j < n; j++ {
				b.DI[beam*n+j] = simsensor.DISample{
					Range:     float32(20 - 2*j + beam%3),
					Intensity: float32(0.9 - 0.1*float64(j)),
				}
			}
		}
		return b, nil
	}

	run := func() (first, strongest []simsensor.DISample) {
		be := testutil.NewBackend(fill)
		m := newManager(t, be)
		f, _ := newLidar(t, "first", sensor.LidarConfig{Rate: 10, Geometry: geometry(2, simsensor.FirstReturn)}, filter.NewDIAccess())
		s, _ := newLidar(t, "strongest", sensor.LidarConfig{Rate: 10, Geometry: geometry(2, simsensor.StrongestReturn)}, filter.NewDIAccess())
		require.NoError(t, m.AddSensor(f))
		require.NoError(t, m.AddSensor(s))

		m.Update(0.1)
		m.Wait()
		require.Len(t, be.Batches(), 1)
		require.Len(t, be.Batches()[0], 2, "due requests share one batch")
		assert.Equal(t, "first", be.Batches()[0][0].Sensor, "registration order")

		fb, sb := f.MostRecentDI(), s.MostRecentDI()
		require.True(t, fb.Ready())
		require.True(t, sb.Ready())
		return fb.DI, sb.DI
	}

	first1, strongest1 := run()
	first2, strongest2 := run()

	if diff := cmp.Diff(first1, first2); diff != "" {
		t.Errorf("first-return output not deterministic (-run1 +run2):\n%s", diff)
	}
	if diff := cmp.Diff(strongest1, strongest2); diff != "" {
		t.Errorf("strongest-return output not deterministic (-run1 +run2):\n%s", diff)
	}
	assert.NotEqual(t, first1, strongest1)
	assert.Equal(t, simsensor.DISample{Range: 4, Intensity: float32(0.9 - 0.1*8)}, first1[0])
	assert.Equal(t, simsensor.DISample{Range: 20, Intensity: 0.9}, strongest1[0])
}

func TestManager_RemoveWhileFiltering(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(3, 1))
	m := newManager(t, be)
	gone, _ := newLidar(t, "gone", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	kept, _ := newLidar(t, "kept", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	require.NoError(t, m.AddSensor(gone))
	require.NoError(t, m.AddSensor(kept))

	be.Hold()
	m.Update(0.1)
	waitForState(t, gone, sensor.StateFiltering)

	require.NoError(t, m.RemoveSensor(gone))
	assert.Equal(t, []*sensor.Sensor{kept}, m.Sensors())

	be.Release()
	m.Wait()
	for n := 101; n <= 400; n++ {
		m.Update(float64(n) * step)
		m.Wait()
	}

	for _, r := range be.Requests()[2:] {
		assert.Equal(t, "kept", r.Sensor, "removed sensor must not be scheduled")
	}
	assert.False(t, gone.MostRecentDI().Ready())
	assert.Equal(t, uint64(1), gone.Stats().Discarded)
	assert.Equal(t, uint64(4), kept.Stats().Published)
	assert.Empty(t, drain(m.Diagnostics()))
}

func TestManager_BackendFailureIsContained(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(3, 1))
	obs := &recordingObserver{}
	m := newManager(t, be, WithObserver(obs))
	s, _ := newLidar(t, "front", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	require.NoError(t, m.AddSensor(s))

	m.Update(0.1)
	m.Wait()
	good := s.MostRecentDI()
	require.True(t, good.Ready())

	be.FailNextSubmit(errors.New("device lost"))
	m.Update(0.2)
	m.Wait()

	diags := drain(m.Diagnostics())
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0].Err, simsensor.ErrBackendUnavailable)
	assert.Equal(t, "front", diags[0].Sensor)
	assert.Equal(t, uint64(2), diags[0].Seq)
	assert.Same(t, good, s.MostRecentDI())
	assert.Equal(t, sensor.StateIdle, s.State())

	m.Update(0.3)
	m.Wait()
	assert.Equal(t, uint64(3), s.MostRecentDI().Seq)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.added)
	assert.Equal(t, 2, obs.batches)
	assert.Equal(t, 2, obs.published)
	assert.Equal(t, 1, obs.abandoned)
}

func TestManager_StaleBodyDeactivatesOnlyThatSensor(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(3, 1))
	m := newManager(t, be)
	orphan, b := newLidar(t, "orphan", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	other, _ := newLidar(t, "other", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	require.NoError(t, m.AddSensor(orphan))
	require.NoError(t, m.AddSensor(other))

	b.Remove()
	for n := 100; n <= 300; n += 100 {
		m.Update(float64(n) * step)
		m.Wait()
	}

	diags := drain(m.Diagnostics())
	require.Len(t, diags, 1, "a deactivated sensor is reported once")
	assert.ErrorIs(t, diags[0].Err, simsensor.ErrStaleReference)
	assert.False(t, orphan.Active())
	assert.Equal(t, uint64(3), other.Stats().Published)
}

func TestManager_SideEffectFailureStillPublishes(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(3, 1))
	m := newManager(t, be)
	s, _ := newLidar(t, "front", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)},
		filter.NewDIAccess(), filter.NewVisualize(failingDisplay{}, "depth", 0, 0))
	require.NoError(t, m.AddSensor(s))

	m.Update(0.1)
	m.Wait()

	assert.True(t, s.MostRecentDI().Ready())
	diags := drain(m.Diagnostics())
	require.Len(t, diags, 1)
	assert.ErrorContains(t, diags[0].Err, "display gone")
}

func TestManager_DiagnosticsNeverBlock(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(3, 1))
	m := newManager(t, be, WithDiagnosticsBuffer(1))
	for _, name := range []string{"a", "b", "c"} {
		s, b := newLidar(t, name, sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)})
		require.NoError(t, m.AddSensor(s))
		b.Remove()
	}

	done := make(chan struct{})
	go func() {
		m.Update(0.1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update blocked on a full diagnostics channel")
	}
	assert.Len(t, drain(m.Diagnostics()), 1)
}

func TestManager_CloseClosesBackendAndDiagnostics(t *testing.T) {
	be := testutil.NewBackend(testutil.ConstantFill(3, 1))
	m, err := New(be)
	require.NoError(t, err)
	s, _ := newLidar(t, "front", sensor.LidarConfig{Rate: 10, Geometry: geometry(1, simsensor.StrongestReturn)}, filter.NewDIAccess())
	require.NoError(t, m.AddSensor(s))
	m.Update(0.1)

	require.NoError(t, m.Close())
	assert.True(t, s.MostRecentDI().Ready(), "in-flight cycle completes before close")

	_, ok := <-m.Diagnostics()
	assert.False(t, ok, "diagnostics channel closed")
	_, err = be.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, simsensor.ErrBackendUnavailable)

	m.Update(0.5)
	assert.Error(t, m.AddSensor(s))
	assert.NoError(t, m.Close())
}
