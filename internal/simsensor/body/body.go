// Package body provides a kinematic rigid body that records its pose
// history, the reference pose provider sensors are mounted on.
package body

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// DefaultHistory is the number of keyframes a Body keeps.
const DefaultHistory = 1024

// Body is a simulated rigid body. The simulation loop records poses with
// SetPose; sensors query them with PoseAt and Window. It is safe for
// concurrent use.
type Body struct {
	name string

	mu      sync.RWMutex
	keys    []simsensor.Keyframe // sorted by time
	limit   int
	trimmed bool // keyframes have been evicted
	removed bool

	clampNoted atomic.Bool
}

// Option configures a Body.
type Option func(*Body)

// WithHistory bounds the keyframe history. Values below 2 are raised to 2
// so a window can always be bracketed.
func WithHistory(n int) Option {
	return func(b *Body) { b.limit = max(n, 2) }
}

// New returns a body at initial pose from time t0.
func New(name string, t0 float64, initial simsensor.Frame, opts ...Option) *Body {
	b := &Body{name: name, limit: DefaultHistory}
	for _, opt := range opts {
		opt(b)
	}
	b.keys = append(b.keys, simsensor.Keyframe{Time: t0, Frame: initial})
	return b
}

// Name returns the body's name.
func (b *Body) Name() string { return b.name }

// SetPose records the body's frame at time t. A keyframe at an existing
// time replaces it; out-of-order keyframes are inserted in place.
func (b *Body) SetPose(t float64, f simsensor.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed {
		return b.stale()
	}

	i := sort.Search(len(b.keys), func(i int) bool { return b.keys[i].Time >= t })
	switch {
	case i < len(b.keys) && b.keys[i].Time == t:
		b.keys[i].Frame = f
	case i == len(b.keys):
		b.keys = append(b.keys, simsensor.Keyframe{Time: t, Frame: f})
	default:
		b.keys = append(b.keys, simsensor.Keyframe{})
		copy(b.keys[i+1:], b.keys[i:])
		b.keys[i] = simsensor.Keyframe{Time: t, Frame: f}
	}
	if over := len(b.keys) - b.limit; over > 0 {
		b.keys = append(b.keys[:0], b.keys[over:]...)
		b.trimmed = true
	}
	return nil
}

// PoseAt interpolates the body's frame at t, clamping outside the
// recorded history.
func (b *Body) PoseAt(t float64) (simsensor.Frame, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.removed {
		return simsensor.Frame{}, b.stale()
	}
	return simsensor.FrameAt(b.keys, t), nil
}

// Window returns the keyframes inside [t0, t1] together with the keyframes
// immediately bracketing it. When the history does not reach an end of the
// window, the interpolated pose at that end is included instead so the
// result always spans the window. A start older than the retained history
// is clamped to the oldest pose; the first such clamp is logged on the diag
// stream since it means the history is shorter than lag plus window.
func (b *Body) Window(t0, t1 float64) ([]simsensor.Keyframe, error) {
	if t1 < t0 {
		return nil, fmt.Errorf("body %q: window end %g before start %g", b.name, t1, t0)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.removed {
		return nil, b.stale()
	}

	lo := sort.Search(len(b.keys), func(i int) bool { return b.keys[i].Time > t0 }) - 1
	hi := sort.Search(len(b.keys), func(i int) bool { return b.keys[i].Time >= t1 })

	var out []simsensor.Keyframe
	if lo < 0 {
		if b.trimmed && !b.clampNoted.Swap(true) {
			diagf("%s: window start %.6f predates retained history (oldest %.6f, %d keys); pose clamped",
				b.name, t0, b.keys[0].Time, len(b.keys))
		}
		out = append(out, simsensor.Keyframe{Time: t0, Frame: simsensor.FrameAt(b.keys, t0)})
		lo = 0
	}
	if hi >= len(b.keys) {
		out = append(out, b.keys[lo:]...)
		if last := out[len(out)-1]; last.Time < t1 {
			out = append(out, simsensor.Keyframe{Time: t1, Frame: last.Frame})
		}
		return out, nil
	}
	return append(out, b.keys[lo:hi+1]...), nil
}

// Clamped reports whether a window has reached past the retained history.
func (b *Body) Clamped() bool { return b.clampNoted.Load() }

// Len returns the number of recorded keyframes.
func (b *Body) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.keys)
}

// Remove marks the body as gone. Every later query fails with an error
// wrapping ErrStaleReference.
func (b *Body) Remove() {
	b.mu.Lock()
	b.removed = true
	b.keys = nil
	b.mu.Unlock()
}

// Removed reports whether Remove has been called.
func (b *Body) Removed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.removed
}

func (b *Body) stale() error {
	return fmt.Errorf("%w: body %q", simsensor.ErrStaleReference, b.name)
}
