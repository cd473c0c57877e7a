package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()
	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", now, before, after)
	}

	start := clock.Now()
	clock.Sleep(10 * time.Millisecond)
	if elapsed := clock.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Since() after Sleep(10ms) = %v, want >= 10ms", elapsed)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(time.Second)
	if got := clock.Since(start); got != time.Second {
		t.Errorf("Since() = %v, want 1s", got)
	}

	clock.Sleep(250 * time.Millisecond)
	if got := clock.Now(); !got.Equal(start.Add(1250 * time.Millisecond)) {
		t.Errorf("Now() after Sleep = %v, want %v", got, start.Add(1250*time.Millisecond))
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != 250*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [250ms]", sleeps)
	}
}

func TestStepClock(t *testing.T) {
	clock := NewStepClock(0, 1e-3)
	if clock.Now() != 0 {
		t.Fatalf("Now() = %v, want 0", clock.Now())
	}

	var last float64
	for range 1000 {
		last = clock.Advance()
	}
	if last != 1 {
		t.Errorf("time after 1000 steps of 1ms = %v, want exactly 1", last)
	}
	if clock.Steps() != 1000 {
		t.Errorf("Steps() = %d, want 1000", clock.Steps())
	}
}

func TestStepClockOffset(t *testing.T) {
	clock := NewStepClock(2.5, 0.5)
	if got := clock.Advance(); got != 3 {
		t.Errorf("Advance() = %v, want 3", got)
	}
	if clock.Step() != 0.5 {
		t.Errorf("Step() = %v, want 0.5", clock.Step())
	}
}

func TestPacer(t *testing.T) {
	tests := []struct {
		name    string
		factor  float64
		elapsed time.Duration
		simTime float64
		want    time.Duration
	}{
		{"real time ahead", 1, 0, 0.5, 500 * time.Millisecond},
		{"real time behind", 1, time.Second, 0.5, 0},
		{"double speed", 2, 100 * time.Millisecond, 1, 400 * time.Millisecond},
		{"disabled", 0, 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			p := NewPacer(clock, tt.factor, 0)
			clock.Advance(tt.elapsed)
			if got := p.Wait(tt.simTime); got != tt.want {
				t.Errorf("Wait(%v) = %v, want %v", tt.simTime, got, tt.want)
			}
		})
	}
}
