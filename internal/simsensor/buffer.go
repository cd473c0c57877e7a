package simsensor

import (
	"context"
	"fmt"
)

// Buffer is one timestamped reading of a single payload kind. Raw buffers
// handed out by a Backend are device-resident: their samples are filled in
// asynchronously and must be reached through Sync or Defer. Host-resident
// buffers carry their samples directly.
//
// A published Buffer is immutable. Filters always return a fresh Buffer
// and consumers must not modify the sample slices they read.
type Buffer struct {
	Kind   Kind
	Sensor string
	Seq    uint64 // capture index within the sensor

	Width          int // horizontal samples
	Height         int // vertical channels
	SamplesPerBeam int // >1 only for KindDIMulti

	DI   []DISample   // KindDI, KindDIMulti
	XYZI []XYZISample // KindXYZI

	// Timestamp is the simulation time the data corresponds to, that is
	// CaptureTime minus the sensor lag.
	Timestamp   float64
	CaptureTime float64
	WindowStart float64
	WindowEnd   float64

	Geometry *LidarGeometry

	ready   bool
	pending *Future
}

// NotReady returns the empty buffer handed to consumers before anything of
// the given kind has been published.
func NotReady(kind Kind) *Buffer {
	return &Buffer{Kind: kind}
}

// NewDI allocates a host-resident KindDI buffer.
func NewDI(width, height int) *Buffer {
	return &Buffer{Kind: KindDI, Width: width, Height: height, SamplesPerBeam: 1,
		DI: make([]DISample, width*height)}
}

// NewDIMulti allocates a host-resident KindDIMulti buffer.
func NewDIMulti(width, height, samplesPerBeam int) *Buffer {
	return &Buffer{Kind: KindDIMulti, Width: width, Height: height, SamplesPerBeam: samplesPerBeam,
		DI: make([]DISample, width*height*samplesPerBeam)}
}

// NewXYZI allocates a host-resident KindXYZI buffer.
func NewXYZI(width, height int) *Buffer {
	return &Buffer{Kind: KindXYZI, Width: width, Height: height, SamplesPerBeam: 1,
		XYZI: make([]XYZISample, width*height)}
}

// Pending returns a device-resident buffer described by header whose
// samples arrive through f. The header's own samples are ignored.
func Pending(header *Buffer, f *Future) *Buffer {
	out := header.CopyHeader(header.Kind)
	out.pending = f
	return out
}

// Ready reports whether the buffer holds published, consumer-readable data.
func (b *Buffer) Ready() bool {
	return b != nil && b.ready && b.pending == nil
}

// MarkReady flags a freshly built host buffer as consumer-readable. It must
// be called before the buffer is shared.
func (b *Buffer) MarkReady() {
	b.ready = true
}

// OnDevice reports whether the samples are still pending on the backend.
func (b *Buffer) OnDevice() bool {
	return b.pending != nil
}

// Beams returns the number of beams (Width × Height).
func (b *Buffer) Beams() int {
	return b.Width * b.Height
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int {
	if b.Kind == KindXYZI {
		return len(b.XYZI)
	}
	return len(b.DI)
}

// CopyHeader returns a sample-less host buffer sharing b's metadata with the
// given kind.
func (b *Buffer) CopyHeader(kind Kind) *Buffer {
	return &Buffer{
		Kind:           kind,
		Sensor:         b.Sensor,
		Seq:            b.Seq,
		Width:          b.Width,
		Height:         b.Height,
		SamplesPerBeam: b.SamplesPerBeam,
		Timestamp:      b.Timestamp,
		CaptureTime:    b.CaptureTime,
		WindowStart:    b.WindowStart,
		WindowEnd:      b.WindowEnd,
		Geometry:       b.Geometry,
	}
}

// Clone deep-copies a host-resident buffer. The copy is not ready.
func (b *Buffer) Clone() *Buffer {
	out := b.CopyHeader(b.Kind)
	if b.DI != nil {
		out.DI = append([]DISample(nil), b.DI...)
	}
	if b.XYZI != nil {
		out.XYZI = append([]XYZISample(nil), b.XYZI...)
	}
	return out
}

// Defer applies fn to the buffer's samples. For a device-resident buffer the
// call is chained onto the pending data and returns immediately with a new
// device-resident buffer of the given kind; for a host buffer fn runs now.
func (b *Buffer) Defer(kind Kind, fn func(*Buffer) (*Buffer, error)) (*Buffer, error) {
	if b.pending == nil {
		return fn(b)
	}
	out := b.CopyHeader(kind)
	if kind != KindDIMulti {
		out.SamplesPerBeam = 1
	}
	out.pending = b.pending.Then(fn)
	return out, nil
}

// Sync blocks until the buffer's samples are host-resident and returns the
// host buffer. Host buffers are returned unchanged.
func (b *Buffer) Sync(ctx context.Context) (*Buffer, error) {
	if b.pending == nil {
		return b, nil
	}
	host, err := b.pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fmt.Errorf("%w: backend resolved %s buffer without data", ErrBackendUnavailable, b.Kind)
	}
	if host.Kind != b.Kind {
		return nil, fmt.Errorf("backend resolved %s buffer, expected %s", host.Kind, b.Kind)
	}
	return host, nil
}

// Validate checks that a host buffer's sample count matches its kind and
// dimensions.
func (b *Buffer) Validate() error {
	if b.pending != nil {
		return fmt.Errorf("%s buffer is still on device", b.Kind)
	}
	want := b.Beams()
	switch b.Kind {
	case KindDI:
		if len(b.DI) != want {
			return fmt.Errorf("di buffer has %d samples, want %d", len(b.DI), want)
		}
	case KindDIMulti:
		if b.SamplesPerBeam < 1 {
			return fmt.Errorf("di-multi buffer has %d samples per beam", b.SamplesPerBeam)
		}
		if len(b.DI) != want*b.SamplesPerBeam {
			return fmt.Errorf("di-multi buffer has %d samples, want %d", len(b.DI), want*b.SamplesPerBeam)
		}
	case KindXYZI:
		if len(b.XYZI) != want {
			return fmt.Errorf("xyzi buffer has %d samples, want %d", len(b.XYZI), want)
		}
	default:
		return fmt.Errorf("invalid buffer kind %s", b.Kind)
	}
	return nil
}
