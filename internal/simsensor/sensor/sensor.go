package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

// dueTolerance absorbs floating-point drift in step-accumulated clocks.
const dueTolerance = 1e-9

// State is the position of a sensor in its production cycle.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateFiltering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFiltering:
		return "filtering"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// OverrunPolicy decides what a due tick does while the previous cycle is
// still in flight.
type OverrunPolicy int

const (
	// OverrunDrop skips the tick without blocking the caller.
	OverrunDrop OverrunPolicy = iota
	// OverrunWait keeps the tick and issues it once the in-flight cycle
	// has published or been abandoned. Other sensors are unaffected.
	OverrunWait
)

func (p OverrunPolicy) String() string {
	if p == OverrunWait {
		return "wait"
	}
	return "drop"
}

// Stats counts cycle outcomes.
type Stats struct {
	Issued    uint64
	Published uint64
	Dropped   uint64
	Deferred  uint64 // ticks held back under OverrunWait
	Abandoned uint64
	Discarded uint64 // completed after the sensor was removed
}

// Sensor is a scheduled producer bound to a body. Create one with NewLidar.
type Sensor struct {
	name     string
	kind     string
	body     simsensor.PoseProvider
	offset   simsensor.Frame
	geometry simsensor.LidarGeometry
	chain    *filter.Chain
	overrun  OverrunPolicy

	mu          sync.Mutex // guards the scheduling fields below
	rate        float64
	lag         float64
	window      float64
	lastCapture float64
	owed        bool    // a tick deferred under OverrunWait
	owedAt      float64 // its capture time
	seq         uint64

	inflight *semaphore.Weighted
	state    atomic.Int32
	active   atomic.Bool
	removed  atomic.Bool
	gen      atomic.Uint64 // bumped on every Attach

	// One published slot per kind. The in-progress buffer lives on the
	// cycle's goroutine until it is stored here.
	slots map[simsensor.Kind]*atomic.Pointer[simsensor.Buffer]

	issued, published, dropped, deferred, abandoned, discarded atomic.Uint64
}

func newSensor(name, kind string, body simsensor.PoseProvider, offset simsensor.Frame, rate, lag, window float64) (*Sensor, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: sensor name is empty", simsensor.ErrConfiguration)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: sensor %q has no body", simsensor.ErrConfiguration, name)
	}
	if err := validateTiming(rate, lag, window); err != nil {
		return nil, fmt.Errorf("sensor %q: %w", name, err)
	}
	s := &Sensor{
		name:     name,
		kind:     kind,
		body:     body,
		offset:   offset,
		rate:     rate,
		lag:      lag,
		window:   window,
		inflight: semaphore.NewWeighted(1),
		slots:    make(map[simsensor.Kind]*atomic.Pointer[simsensor.Buffer], len(simsensor.Kinds)),
	}
	for _, k := range simsensor.Kinds {
		s.slots[k] = new(atomic.Pointer[simsensor.Buffer])
	}
	s.active.Store(true)
	return s, nil
}

func validateTiming(rate, lag, window float64) error {
	switch {
	case !(rate > 0):
		return fmt.Errorf("%w: update rate must be positive, got %g", simsensor.ErrConfiguration, rate)
	case lag < 0:
		return fmt.Errorf("%w: lag must not be negative, got %g", simsensor.ErrConfiguration, lag)
	case window < 0:
		return fmt.Errorf("%w: collection window must not be negative, got %g", simsensor.ErrConfiguration, window)
	}
	return nil
}

func (s *Sensor) Name() string                      { return s.name }
func (s *Sensor) Kind() string                      { return s.kind }
func (s *Sensor) Offset() simsensor.Frame           { return s.offset }
func (s *Sensor) Geometry() simsensor.LidarGeometry { return s.geometry }
func (s *Sensor) Chain() *filter.Chain              { return s.chain }
func (s *Sensor) Overrun() OverrunPolicy            { return s.overrun }
func (s *Sensor) State() State                      { return State(s.state.Load()) }

// Active reports whether the sensor still schedules cycles.
func (s *Sensor) Active() bool { return s.active.Load() && !s.removed.Load() }

// PushFilter appends a stage to the sensor's chain. A rejected stage leaves
// the chain unchanged and the error wraps ErrConfiguration.
func (s *Sensor) PushFilter(f filter.Filter) error {
	if err := s.chain.Append(f); err != nil {
		return fmt.Errorf("sensor %q: %w", s.name, err)
	}
	return nil
}

// Rate returns the update rate in Hz.
func (s *Sensor) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Lag returns the acquisition lag in seconds.
func (s *Sensor) Lag() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lag
}

// CollectionWindow returns the integration window in seconds.
func (s *Sensor) CollectionWindow() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// LastCapture returns the simulation time of the last issued cycle.
func (s *Sensor) LastCapture() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCapture
}

// SetRate changes the update rate. It applies from the next scheduling
// decision.
func (s *Sensor) SetRate(hz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validateTiming(hz, s.lag, s.window); err != nil {
		return err
	}
	s.rate = hz
	diagf("%s: rate set to %g Hz", s.name, hz)
	return nil
}

// SetLag changes the acquisition lag. It applies from the next cycle.
func (s *Sensor) SetLag(lag float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validateTiming(s.rate, lag, s.window); err != nil {
		return err
	}
	s.lag = lag
	diagf("%s: lag set to %gs", s.name, lag)
	return nil
}

// SetCollectionWindow changes the integration window. Windows longer than
// the update period are allowed and make successive captures overlap.
func (s *Sensor) SetCollectionWindow(window float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validateTiming(s.rate, s.lag, window); err != nil {
		return err
	}
	s.window = window
	diagf("%s: collection window set to %gs", s.name, window)
	return nil
}

// Stats returns a snapshot of the cycle counters.
func (s *Sensor) Stats() Stats {
	return Stats{
		Issued:    s.issued.Load(),
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Deferred:  s.deferred.Load(),
		Abandoned: s.abandoned.Load(),
		Discarded: s.discarded.Load(),
	}
}

// GetMostRecentBuffer returns the last published buffer of kind, or a
// not-ready buffer when nothing of that kind has been published. It never
// blocks and never observes a partially built buffer.
func (s *Sensor) GetMostRecentBuffer(kind simsensor.Kind) *simsensor.Buffer {
	slot, ok := s.slots[kind]
	if !ok {
		return simsensor.NotReady(kind)
	}
	if b := slot.Load(); b != nil {
		return b
	}
	return simsensor.NotReady(kind)
}

// MostRecentDI returns the last published depth/intensity buffer.
func (s *Sensor) MostRecentDI() *simsensor.Buffer {
	return s.GetMostRecentBuffer(simsensor.KindDI)
}

// MostRecentXYZI returns the last published point cloud.
func (s *Sensor) MostRecentXYZI() *simsensor.Buffer {
	return s.GetMostRecentBuffer(simsensor.KindXYZI)
}

// Attach is called by the manager on registration. Scheduling counts the
// first period from simTime. A cycle issued before an earlier removal
// belongs to the old registration and is still discarded.
func (s *Sensor) Attach(simTime float64) {
	s.mu.Lock()
	s.lastCapture = simTime
	s.owed = false
	s.mu.Unlock()
	s.gen.Add(1)
	s.removed.Store(false)
}

// Detach is called by the manager on removal. An in-flight cycle runs to
// completion and its result is discarded.
func (s *Sensor) Detach() {
	s.removed.Store(true)
}

// Deactivate stops the sensor from scheduling new cycles.
func (s *Sensor) Deactivate() {
	if s.active.Swap(false) {
		opsf("%s: deactivated", s.name)
	}
}

// Update decides whether the sensor is due at simTime and, if so, issues a
// new cycle. It returns a nil cycle when the sensor is inactive, not yet
// due, or still busy with the previous cycle. Update never blocks: under
// OverrunDrop a busy tick is dropped, under OverrunWait it is owed and
// issued, at its original capture time, by the first Update that finds the
// sensor idle. A body that no longer exists deactivates the sensor and
// returns an error wrapping ErrStaleReference. Update is for the manager;
// it is not safe to call from more than one goroutine.
func (s *Sensor) Update(simTime float64) (*Cycle, error) {
	if !s.Active() {
		return nil, nil
	}

	s.mu.Lock()
	captureTime, due := simTime, simTime-s.lastCapture >= 1/s.rate-dueTolerance
	if s.owed {
		captureTime, due = s.owedAt, true
	}
	s.mu.Unlock()
	if !due {
		return nil, nil
	}

	if !s.inflight.TryAcquire(1) {
		if s.overrun == OverrunWait {
			s.owe(simTime)
			return nil, nil
		}
		s.dropped.Add(1)
		diagf("%s: tick at %.6f dropped, cycle still %s", s.name, simTime, s.State())
		return nil, nil
	}

	req, err := s.request(captureTime)
	if err != nil {
		s.inflight.Release(1)
		if errors.Is(err, simsensor.ErrStaleReference) {
			s.Deactivate()
		}
		return nil, fmt.Errorf("sensor %q: %w", s.name, err)
	}
	s.state.Store(int32(StateCapturing))
	s.issued.Add(1)
	return &Cycle{sensor: s, req: req, gen: s.gen.Load()}, nil
}

// owe records a busy tick under OverrunWait. Only the first one is kept;
// later ticks fall due again once it has been issued.
func (s *Sensor) owe(simTime float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owed {
		return
	}
	s.owed, s.owedAt = true, simTime
	s.deferred.Add(1)
	diagf("%s: tick at %.6f deferred, cycle still %s", s.name, simTime, s.State())
}

// request builds the backend request for a capture at simTime and records
// it as the last capture.
func (s *Sensor) request(simTime float64) (*simsensor.Request, error) {
	s.mu.Lock()
	lag, window := s.lag, s.window
	s.mu.Unlock()

	end := simTime - lag
	start := end - window
	keys, err := s.body.Window(start, end)
	if err != nil {
		return nil, err
	}
	poses := make([]simsensor.Keyframe, len(keys))
	for i, k := range keys {
		poses[i] = simsensor.Keyframe{Time: k.Time, Frame: k.Frame.Compose(s.offset)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCapture = simTime
	s.owed = false
	s.seq++
	return &simsensor.Request{
		Sensor:      s.name,
		Seq:         s.seq,
		Geometry:    s.geometry,
		CaptureTime: simTime,
		Timestamp:   end,
		WindowStart: start,
		WindowEnd:   end,
		Poses:       poses,
	}, nil
}

// Cycle is one issued production cycle. Exactly one of Run or Abandon must
// be called.
type Cycle struct {
	sensor *Sensor
	req    *simsensor.Request
	gen    uint64
	once   sync.Once
}

// Sensor returns the sensor that issued the cycle.
func (c *Cycle) Sensor() *Sensor { return c.sensor }

// Request returns the backend request for the cycle.
func (c *Cycle) Request() *simsensor.Request { return c.req }

// Run filters the raw reading and publishes the results. It blocks for the
// duration of the chain, including the host-access wait, and should run on
// its own goroutine. A chain failure abandons the cycle; the last good
// buffers stay published. The returned result carries side-effect errors.
func (c *Cycle) Run(ctx context.Context, raw *simsensor.Buffer) (*filter.Result, error) {
	s := c.sensor
	s.state.Store(int32(StateFiltering))
	res, err := s.chain.Run(ctx, raw)
	if err != nil {
		err = fmt.Errorf("sensor %q cycle %d: %w", s.name, c.req.Seq, err)
		c.Abandon(err)
		return nil, err
	}

	c.once.Do(func() {
		defer c.finish()
		if s.removed.Load() || s.gen.Load() != c.gen {
			s.discarded.Add(1)
			tracef("%s: discarded cycle %d after removal", s.name, c.req.Seq)
			return
		}
		for kind, buf := range res.Published {
			if slot, ok := s.slots[kind]; ok {
				slot.Store(buf)
			}
		}
		s.published.Add(1)
		tracef("%s: published cycle %d at t=%.6f (%d kinds)", s.name, c.req.Seq, c.req.Timestamp, len(res.Published))
	})
	return res, nil
}

// Abandon ends the cycle without publishing.
func (c *Cycle) Abandon(err error) {
	c.once.Do(func() {
		defer c.finish()
		c.sensor.abandoned.Add(1)
		opsf("%s: cycle %d abandoned: %v", c.sensor.name, c.req.Seq, err)
	})
}

func (c *Cycle) finish() {
	c.sensor.state.Store(int32(StateIdle))
	c.sensor.inflight.Release(1)
}
