package simsensor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Frame is a rigid transform: a position and a unit-quaternion orientation.
type Frame struct {
	Pos r3.Vec
	Rot quat.Number
}

// Identity returns the identity frame.
func Identity() Frame {
	return Frame{Rot: quat.Number{Real: 1}}
}

// NewFrame builds a frame from a position and a rotation of angle radians
// about axis.
func NewFrame(pos r3.Vec, angle float64, axis r3.Vec) Frame {
	return Frame{Pos: pos, Rot: AxisAngle(angle, axis)}
}

// AxisAngle returns the unit quaternion for a rotation of angle radians
// about axis. A zero angle or axis gives the identity rotation.
func AxisAngle(angle float64, axis r3.Vec) quat.Number {
	if angle == 0 || r3.Norm(axis) == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Number(r3.NewRotation(angle, axis))
}

// Apply transforms a point from the child frame into the parent frame.
func (f Frame) Apply(p r3.Vec) r3.Vec {
	return r3.Add(f.Rotate(p), f.Pos)
}

// Rotate rotates a direction without translating it.
func (f Frame) Rotate(v r3.Vec) r3.Vec {
	return r3.Rotation(normalise(f.Rot)).Rotate(v)
}

// Compose returns the frame of child expressed in f's parent frame.
func (f Frame) Compose(child Frame) Frame {
	return Frame{
		Pos: f.Apply(child.Pos),
		Rot: normalise(quat.Mul(f.Rot, child.Rot)),
	}
}

// Inverse returns the frame mapping parent coordinates back into f.
func (f Frame) Inverse() Frame {
	inv := quat.Conj(normalise(f.Rot))
	return Frame{
		Pos: r3.Scale(-1, r3.Rotation(inv).Rotate(f.Pos)),
		Rot: inv,
	}
}

// Interpolate blends two frames: linear in position, normalised linear in
// orientation along the shorter arc. t is clamped to [0, 1].
func Interpolate(a, b Frame, t float64) Frame {
	t = math.Max(0, math.Min(1, t))
	pos := r3.Add(a.Pos, r3.Scale(t, r3.Sub(b.Pos, a.Pos)))

	qb := b.Rot
	if dot(a.Rot, qb) < 0 {
		qb = quat.Scale(-1, qb)
	}
	rot := quat.Add(quat.Scale(1-t, a.Rot), quat.Scale(t, qb))
	return Frame{Pos: pos, Rot: normalise(rot)}
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

func normalise(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Keyframe is a frame sampled at a simulation time.
type Keyframe struct {
	Time  float64
	Frame Frame
}

// FrameAt interpolates a time-sorted keyframe sequence at t, clamping to the
// first and last keyframes. An empty sequence yields the identity.
func FrameAt(keys []Keyframe, t float64) Frame {
	switch {
	case len(keys) == 0:
		return Identity()
	case t <= keys[0].Time:
		return keys[0].Frame
	case t >= keys[len(keys)-1].Time:
		return keys[len(keys)-1].Frame
	}
	i := sort.Search(len(keys), func(i int) bool { return keys[i].Time >= t })
	a, b := keys[i-1], keys[i]
	span := b.Time - a.Time
	if span <= 0 {
		return b.Frame
	}
	return Interpolate(a.Frame, b.Frame, (t-a.Time)/span)
}
