// Package manager drives registered sensors against the simulation clock.
//
// The simulation loop calls Update once per physics step. Update asks each
// sensor, in registration order, whether it is due, submits every due
// request to the shared backend as one batch and starts each cycle's
// filter chain on its own goroutine. Per-cycle failures never stop other
// sensors; they are reported on the Diagnostics channel.
package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/sensor"
)

// DefaultDiagnosticsBuffer is the capacity of the diagnostics channel.
const DefaultDiagnosticsBuffer = 64

// ErrNotRegistered is returned when removing a sensor the manager does not
// own.
var ErrNotRegistered = errors.New("sensor not registered")

// Diagnostic is one contained per-cycle failure.
type Diagnostic struct {
	Time   float64 // simulation time of the affected cycle
	Sensor string
	Seq    uint64 // zero when no cycle was issued
	Err    error
}

func (d Diagnostic) String() string {
	if d.Seq == 0 {
		return fmt.Sprintf("t=%.6f %s: %v", d.Time, d.Sensor, d.Err)
	}
	return fmt.Sprintf("t=%.6f %s cycle %d: %v", d.Time, d.Sensor, d.Seq, d.Err)
}

// Observer receives cycle outcomes, for example to export metrics.
type Observer interface {
	SensorAdded(name string)
	SensorRemoved(name string)
	BatchSubmitted(size int)
	CyclePublished(name string, elapsed time.Duration)
	CycleDropped(name string)
	CycleAbandoned(name string)
}

type nopObserver struct{}

func (nopObserver) SensorAdded(string)                   {}
func (nopObserver) SensorRemoved(string)                 {}
func (nopObserver) BatchSubmitted(int)                   {}
func (nopObserver) CyclePublished(string, time.Duration) {}
func (nopObserver) CycleDropped(string)                  {}
func (nopObserver) CycleAbandoned(string)                {}

// Option configures a Manager.
type Option func(*Manager)

// WithDiagnosticsBuffer sets the diagnostics channel capacity. Diagnostics
// are dropped rather than blocking once it is full.
func WithDiagnosticsBuffer(n int) Option {
	return func(m *Manager) { m.diagCap = max(n, 0) }
}

// WithObserver reports cycle outcomes to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// Manager owns a set of sensors and the backend they share.
type Manager struct {
	backend  simsensor.Backend
	observer Observer
	diagCap  int
	diag     chan Diagnostic

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	sensors []*sensor.Sensor
	simTime float64
	closing bool
	closed  bool

	wg sync.WaitGroup
}

// New returns a manager owning backend. The backend is closed by Close.
func New(backend simsensor.Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: manager needs a backend", simsensor.ErrConfiguration)
	}
	m := &Manager{
		backend:  backend,
		observer: nopObserver{},
		diagCap:  DefaultDiagnosticsBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.diag = make(chan Diagnostic, m.diagCap)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Diagnostics returns the channel on which per-cycle failures are
// reported. It is closed by Close.
func (m *Manager) Diagnostics() <-chan Diagnostic {
	return m.diag
}

// Time returns the simulation time of the last Update.
func (m *Manager) Time() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simTime
}

// Sensors returns the registered sensors in scheduling order.
func (m *Manager) Sensors() []*sensor.Sensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sensors)
}

// AddSensor registers s. Its first period is counted from the current
// simulation time. Sensor names must be unique.
func (m *Manager) AddSensor(s *sensor.Sensor) error {
	if s == nil {
		return fmt.Errorf("%w: nil sensor", simsensor.ErrConfiguration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return fmt.Errorf("add sensor %q: manager closed", s.Name())
	}
	for _, other := range m.sensors {
		if other == s || other.Name() == s.Name() {
			return fmt.Errorf("%w: sensor %q already registered", simsensor.ErrConfiguration, s.Name())
		}
	}
	s.Attach(m.simTime)
	m.sensors = append(m.sensors, s)
	m.observer.SensorAdded(s.Name())
	diagf("registered %s sensor %q in slot %d", s.Kind(), s.Name(), len(m.sensors)-1)
	return nil
}

// RemoveSensor unregisters s. A cycle already in flight runs to completion
// and its result is discarded; later Updates never touch s.
func (m *Manager) RemoveSensor(s *sensor.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.Index(m.sensors, s)
	if i < 0 {
		if s == nil {
			return ErrNotRegistered
		}
		return fmt.Errorf("%w: %q", ErrNotRegistered, s.Name())
	}
	m.sensors = slices.Delete(m.sensors, i, i+1)
	s.Detach()
	m.observer.SensorRemoved(s.Name())
	diagf("removed sensor %q (state %s)", s.Name(), s.State())
	return nil
}

// Update advances the manager to simTime. It is called once per simulation
// step and returns once every due cycle has been issued; filtering runs in
// the background. It never waits for production: a busy sensor drops or
// defers its own tick and the remaining sensors are still serviced.
func (m *Manager) Update(simTime float64) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.simTime = simTime
	sensors := slices.Clone(m.sensors)
	m.mu.Unlock()

	var cycles []*sensor.Cycle
	for _, s := range sensors {
		dropped := s.Stats().Dropped
		c, err := s.Update(simTime)
		if err != nil {
			m.report(Diagnostic{Time: simTime, Sensor: s.Name(), Err: err})
			continue
		}
		if c == nil {
			if s.Stats().Dropped > dropped {
				m.observer.CycleDropped(s.Name())
			}
			continue
		}
		cycles = append(cycles, c)
	}
	if len(cycles) == 0 {
		return
	}

	reqs := make([]*simsensor.Request, len(cycles))
	for i, c := range cycles {
		reqs[i] = c.Request()
	}
	raws, err := m.backend.Submit(m.ctx, reqs)
	if err == nil && len(raws) != len(reqs) {
		err = fmt.Errorf("%w: backend returned %d buffers for %d requests",
			simsensor.ErrBackendUnavailable, len(raws), len(reqs))
	}
	if err != nil {
		for _, c := range cycles {
			m.abandon(c, err)
		}
		return
	}
	m.observer.BatchSubmitted(len(reqs))
	tracef("t=%.6f submitted %d request(s)", simTime, len(reqs))

	for i, c := range cycles {
		raw := raws[i]
		m.wg.Go(func() { m.run(c, raw) })
	}
}

func (m *Manager) run(c *sensor.Cycle, raw *simsensor.Buffer) {
	start := time.Now()
	res, err := c.Run(m.ctx, raw)
	name := c.Sensor().Name()
	req := c.Request()
	if err != nil {
		m.observer.CycleAbandoned(name)
		m.report(Diagnostic{Time: req.CaptureTime, Sensor: name, Seq: req.Seq, Err: err})
		return
	}
	for _, serr := range res.SideEffectErrors {
		m.report(Diagnostic{Time: req.CaptureTime, Sensor: name, Seq: req.Seq, Err: serr})
	}
	if c.Sensor().Active() {
		m.observer.CyclePublished(name, time.Since(start))
	}
}

func (m *Manager) abandon(c *sensor.Cycle, err error) {
	c.Abandon(err)
	req := c.Request()
	m.observer.CycleAbandoned(req.Sensor)
	m.report(Diagnostic{Time: req.CaptureTime, Sensor: req.Sensor, Seq: req.Seq, Err: err})
}

// report logs d and offers it to the diagnostics channel without blocking.
func (m *Manager) report(d Diagnostic) {
	opsf("%s", d)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.diag <- d:
	default:
		diagf("diagnostics channel full, dropped: %s", d)
	}
}

// Wait blocks until every in-flight cycle has published or been abandoned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops scheduling, waits for in-flight cycles, closes the
// diagnostics channel and closes the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.closed = true
	close(m.diag)
	m.mu.Unlock()

	m.cancel()
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}
