package simsensor

import "context"

// Request asks a Backend for one raw reading.
type Request struct {
	Sensor string
	Seq    uint64

	Geometry LidarGeometry

	// CaptureTime is the simulation time the cycle was issued at;
	// Timestamp is CaptureTime minus the sensor lag.
	CaptureTime float64
	Timestamp   float64

	// The collection window [WindowStart, WindowEnd] the reading integrates
	// over. It may be longer than the update period, in which case
	// successive windows overlap.
	WindowStart float64
	WindowEnd   float64

	// Poses is the sensor's world frame over the window, sorted by time.
	Poses []Keyframe
}

// Header returns the metadata of the raw buffer this request produces.
func (r *Request) Header() *Buffer {
	g := r.Geometry
	return &Buffer{
		Kind:           g.RawKind(),
		Sensor:         r.Sensor,
		Seq:            r.Seq,
		Width:          g.HorizontalSamples,
		Height:         g.VerticalChannels,
		SamplesPerBeam: g.SamplesPerBeam(),
		Timestamp:      r.Timestamp,
		CaptureTime:    r.CaptureTime,
		WindowStart:    r.WindowStart,
		WindowEnd:      r.WindowEnd,
		Geometry:       &g,
	}
}

// Backend turns requests into raw sample grids. It may be a shared,
// resource-limited device and must serialise or queue concurrent work
// internally.
type Backend interface {
	// Submit enqueues a batch and returns one device-resident raw buffer
	// per request, in order. A failure of a single request resolves that
	// buffer with an error; a failure of the whole batch is returned as an
	// error wrapping ErrBackendUnavailable.
	Submit(ctx context.Context, reqs []*Request) ([]*Buffer, error)
	Close() error
}

// PoseProvider exposes the world frame of a simulated body. Implementations
// return errors wrapping ErrStaleReference once the body is gone.
type PoseProvider interface {
	PoseAt(t float64) (Frame, error)
	// Window returns keyframes covering [t0, t1], including the keyframes
	// immediately bracketing the interval when available.
	Window(t0, t1 float64) ([]Keyframe, error)
}
