package filter

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/banshee-data/sensorsim/internal/fsutil"
	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Format selects the on-disk layout of persisted buffers.
type Format int

const (
	// FormatCSV writes one line per sample: x,y,z,intensity for point
	// clouds and range,intensity for depth data.
	FormatCSV Format = iota
	// FormatBinary writes a little-endian header followed by float32
	// samples.
	FormatBinary
)

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	if f == FormatBinary {
		return ".sbuf"
	}
	return ".csv"
}

// binaryMagic prefixes every FormatBinary file.
const binaryMagic = "SBUF"

// binaryHeader is the fixed header of a FormatBinary file.
type binaryHeader struct {
	Magic          [4]byte
	Version        uint16
	Kind           uint16
	Width          uint32
	Height         uint32
	SamplesPerBeam uint32
	Seq            uint64
	Timestamp      float64
}

// Capture describes one persisted buffer.
type Capture struct {
	Sensor    string
	Seq       uint64
	Index     uint64
	Kind      simsensor.Kind
	Timestamp float64
	Path      string
	Samples   int
}

// CaptureRecorder indexes persisted buffers, for example in a catalog
// database.
type CaptureRecorder interface {
	RecordCapture(ctx context.Context, c Capture) error
}

// Persist writes one file per buffer to an output directory and forwards
// the buffer unchanged. Files are named frame_<index> where index counts the
// buffers this stage has persisted.
type Persist struct {
	stage
	sameKind
	dir      string
	fs       fsutil.FileSystem
	format   Format
	recorder CaptureRecorder
	next     atomic.Uint64
}

// PersistOption configures a persistence stage.
type PersistOption func(*Persist)

// WithFormat selects the file format.
func WithFormat(f Format) PersistOption {
	return func(p *Persist) { p.format = f }
}

// WithFileSystem replaces the OS filesystem.
func WithFileSystem(fs fsutil.FileSystem) PersistOption {
	return func(p *Persist) { p.fs = fs }
}

// WithRecorder records each persisted file.
func WithRecorder(r CaptureRecorder) PersistOption {
	return func(p *Persist) { p.recorder = r }
}

// NewPersist returns a persistence stage writing under dir.
func NewPersist(dir string, opts ...PersistOption) *Persist {
	p := &Persist{
		stage: stage{name: "persist", variant: VariantPersist},
		dir:   dir,
		fs:    fsutil.OSFileSystem{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accepts reports whether in can be written.
func (p *Persist) Accepts(in simsensor.Kind) bool { return anyKind(in) }

// Dir returns the output directory.
func (p *Persist) Dir() string { return p.dir }

// Apply writes in to the next frame file and returns it.
func (p *Persist) Apply(ctx context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if err := checkKind(p, in); err != nil {
		return nil, err
	}
	if err := p.fs.MkdirAll(p.dir, 0o755); err != nil {
		return in, fmt.Errorf("create output dir: %w", err)
	}

	index := p.next.Add(1) - 1
	path := filepath.Join(p.dir, "frame_"+strconv.FormatUint(index, 10)+p.format.Extension())
	w, err := p.fs.Create(path)
	if err != nil {
		return in, fmt.Errorf("create %s: %w", path, err)
	}
	if p.format == FormatBinary {
		err = writeBinary(w, in)
	} else {
		err = writeCSV(w, in)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return in, fmt.Errorf("write %s: %w", path, err)
	}
	tracef("persisted %s #%d from %s to %s", in.Kind, in.Seq, in.Sensor, path)

	if p.recorder != nil {
		c := Capture{
			Sensor:    in.Sensor,
			Seq:       in.Seq,
			Index:     index,
			Kind:      in.Kind,
			Timestamp: in.Timestamp,
			Path:      path,
			Samples:   in.Len(),
		}
		if err := p.recorder.RecordCapture(ctx, c); err != nil {
			return in, fmt.Errorf("record capture %s: %w", path, err)
		}
	}
	return in, nil
}

func writeCSV(w io.Writer, b *simsensor.Buffer) error {
	cw := csv.NewWriter(w)
	f := func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
	if b.Kind == simsensor.KindXYZI {
		for _, s := range b.XYZI {
			if err := cw.Write([]string{f(s.X), f(s.Y), f(s.Z), f(s.Intensity)}); err != nil {
				return err
			}
		}
	} else {
		for _, s := range b.DI {
			if err := cw.Write([]string{f(s.Range), f(s.Intensity)}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeBinary(w io.Writer, b *simsensor.Buffer) error {
	h := binaryHeader{
		Version:        1,
		Kind:           uint16(b.Kind),
		Width:          uint32(b.Width),
		Height:         uint32(b.Height),
		SamplesPerBeam: uint32(b.SamplesPerBeam),
		Seq:            b.Seq,
		Timestamp:      b.Timestamp,
	}
	copy(h.Magic[:], binaryMagic)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if b.Kind == simsensor.KindXYZI {
		return binary.Write(w, binary.LittleEndian, b.XYZI)
	}
	return binary.Write(w, binary.LittleEndian, b.DI)
}

// ReadBinary decodes a FormatBinary file into a host buffer.
func ReadBinary(r io.Reader) (*simsensor.Buffer, error) {
	var h binaryHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(h.Magic[:]) != binaryMagic {
		return nil, fmt.Errorf("not a sensor buffer file (magic %q)", h.Magic[:])
	}
	b := &simsensor.Buffer{
		Kind:           simsensor.Kind(h.Kind),
		Width:          int(h.Width),
		Height:         int(h.Height),
		SamplesPerBeam: int(h.SamplesPerBeam),
		Seq:            h.Seq,
		Timestamp:      h.Timestamp,
	}
	n, err := sampleCount(h)
	if err != nil {
		return nil, err
	}
	switch b.Kind {
	case simsensor.KindXYZI:
		b.XYZI = make([]simsensor.XYZISample, n)
		if err := binary.Read(r, binary.LittleEndian, b.XYZI); err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
	case simsensor.KindDI, simsensor.KindDIMulti:
		b.DI = make([]simsensor.DISample, n)
		if err := binary.Read(r, binary.LittleEndian, b.DI); err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown buffer kind %d", h.Kind)
	}
	return b, nil
}

// maxBinarySamples bounds the allocation for a decoded file.
const maxBinarySamples = 1 << 26

// sampleCount returns the number of records following h, rejecting
// headers whose dimensions overflow or exceed maxBinarySamples.
func sampleCount(h binaryHeader) (int, error) {
	n := uint64(h.Width) * uint64(h.Height)
	if simsensor.Kind(h.Kind) == simsensor.KindDIMulti && n <= maxBinarySamples {
		n *= uint64(h.SamplesPerBeam)
	}
	if n > maxBinarySamples {
		return 0, fmt.Errorf("header declares %dx%dx%d samples, limit is %d",
			h.Width, h.Height, h.SamplesPerBeam, maxBinarySamples)
	}
	return int(n), nil
}
