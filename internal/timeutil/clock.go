// Package timeutil provides the simulation step clock and a testable
// abstraction over wall-clock time used to pace it.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over wall-clock operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// MockClock is a manually controlled clock for testing. Sleep advances it
// instead of blocking.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the mock clock forward by the given duration.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep records the sleep duration and advances the clock by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// StepClock is the simulation clock: time advances in fixed steps and is
// computed as steps × step, so long runs do not accumulate rounding error.
// It is not safe for concurrent use; the simulation loop owns it.
type StepClock struct {
	step  float64
	start float64
	n     uint64
}

// NewStepClock returns a clock at start advancing by step seconds.
func NewStepClock(start, step float64) *StepClock {
	return &StepClock{start: start, step: step}
}

// Now returns the current simulation time in seconds.
func (c *StepClock) Now() float64 {
	return c.start + float64(c.n)*c.step
}

// Advance moves forward one step and returns the new time.
func (c *StepClock) Advance() float64 {
	c.n++
	return c.Now()
}

// Steps returns how many steps have been taken.
func (c *StepClock) Steps() uint64 { return c.n }

// Step returns the step size in seconds.
func (c *StepClock) Step() float64 { return c.step }

// Pacer holds a simulation loop to a multiple of wall-clock speed.
type Pacer struct {
	clock  Clock
	factor float64
	start  time.Time
	simT0  float64
}

// NewPacer returns a pacer running simulation time factor times faster than
// wall time, starting now at simulation time simT0. A non-positive factor
// disables pacing.
func NewPacer(clock Clock, factor, simT0 float64) *Pacer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Pacer{clock: clock, factor: factor, start: clock.Now(), simT0: simT0}
}

// Wait sleeps until wall time has caught up with simTime and returns how
// long it slept.
func (p *Pacer) Wait(simTime float64) time.Duration {
	if p.factor <= 0 {
		return 0
	}
	due := time.Duration((simTime - p.simT0) / p.factor * float64(time.Second))
	ahead := due - p.clock.Since(p.start)
	if ahead <= 0 {
		return 0
	}
	p.clock.Sleep(ahead)
	return ahead
}
