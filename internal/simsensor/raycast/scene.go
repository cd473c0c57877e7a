package raycast

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Shape is a surface rays can hit.
type Shape interface {
	// Intersect returns the distance along the unit ray (origin, dir) to
	// the nearest hit at simulation time t and the world-frame surface
	// normal there.
	Intersect(origin, dir r3.Vec, t float64) (dist float64, normal r3.Vec, ok bool)
	// Reflectivity is the fraction of emitted power returned at normal
	// incidence, in [0, 1].
	Reflectivity() float64
}

// Motion places a shape in the world at simulation time t.
type Motion func(t float64) simsensor.Frame

// Box is an oriented box given by its half extents around a centre.
type Box struct {
	Center  r3.Vec
	Half    r3.Vec
	Reflect float64
	// Motion, when set, moves the box about its centre over time.
	Motion Motion
}

// NewBox returns a static box of the given full size centred at center.
func NewBox(center, size r3.Vec, reflectivity float64) *Box {
	return &Box{Center: center, Half: r3.Scale(0.5, size), Reflect: reflectivity}
}

// Reflectivity implements Shape.
func (b *Box) Reflectivity() float64 { return b.Reflect }

// Intersect implements Shape using the slab method in the box's frame.
func (b *Box) Intersect(origin, dir r3.Vec, t float64) (float64, r3.Vec, bool) {
	world := simsensor.Identity()
	if b.Motion != nil {
		world = b.Motion(t)
	}
	world.Pos = r3.Add(world.Pos, b.Center)
	inv := world.Inverse()
	o := inv.Apply(origin)
	d := inv.Rotate(dir)

	tNear, tFar := math.Inf(-1), math.Inf(1)
	axis, sign := -1, 0.0
	oc := [3]float64{o.X, o.Y, o.Z}
	dc := [3]float64{d.X, d.Y, d.Z}
	hc := [3]float64{b.Half.X, b.Half.Y, b.Half.Z}
	for i := range 3 {
		if math.Abs(dc[i]) < 1e-12 {
			if oc[i] < -hc[i] || oc[i] > hc[i] {
				return 0, r3.Vec{}, false
			}
			continue
		}
		t1 := (-hc[i] - oc[i]) / dc[i]
		t2 := (hc[i] - oc[i]) / dc[i]
		s := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			s = 1
		}
		if t1 > tNear {
			tNear, axis, sign = t1, i, s
		}
		tFar = math.Min(tFar, t2)
		if tNear > tFar {
			return 0, r3.Vec{}, false
		}
	}
	// Behind the origin, or the origin is inside the box.
	if axis < 0 || tNear < 0 {
		return 0, r3.Vec{}, false
	}

	var n r3.Vec
	switch axis {
	case 0:
		n.X = sign
	case 1:
		n.Y = sign
	case 2:
		n.Z = sign
	}
	return tNear, world.Rotate(n), true
}

// Plane is an infinite plane through Point with unit Normal.
type Plane struct {
	Point   r3.Vec
	Normal  r3.Vec
	Reflect float64
}

// Reflectivity implements Shape.
func (p *Plane) Reflectivity() float64 { return p.Reflect }

// Intersect implements Shape. Planes are two-sided.
func (p *Plane) Intersect(origin, dir r3.Vec, _ float64) (float64, r3.Vec, bool) {
	n := r3.Unit(p.Normal)
	denom := r3.Dot(n, dir)
	if math.Abs(denom) < 1e-12 {
		return 0, r3.Vec{}, false
	}
	dist := r3.Dot(r3.Sub(p.Point, origin), n) / denom
	if dist <= 0 {
		return 0, r3.Vec{}, false
	}
	return dist, n, true
}

// Scene is a set of shapes. It is safe for concurrent use.
type Scene struct {
	mu     sync.RWMutex
	shapes []Shape
}

// NewScene returns a scene holding shapes.
func NewScene(shapes ...Shape) *Scene {
	return &Scene{shapes: shapes}
}

// Add inserts a shape.
func (s *Scene) Add(shape Shape) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes = append(s.shapes, shape)
}

// Len returns the number of shapes.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shapes)
}

// Cast traces one ray at time t and returns its depth/intensity return.
// Intensity is the hit surface's reflectivity scaled by the cosine of the
// incidence angle. Nothing within maxDist is a miss.
func (s *Scene) Cast(origin, dir r3.Vec, t, maxDist float64) simsensor.DISample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := maxDist
	var hit Shape
	var normal r3.Vec
	for _, sh := range s.shapes {
		d, n, ok := sh.Intersect(origin, dir, t)
		if ok && d < best {
			best, hit, normal = d, sh, n
		}
	}
	if hit == nil {
		return simsensor.DISample{}
	}
	intensity := hit.Reflectivity() * math.Abs(r3.Dot(dir, normal))
	return simsensor.DISample{
		Range:     float32(best),
		Intensity: float32(math.Max(0, math.Min(1, intensity))),
	}
}
