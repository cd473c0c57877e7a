package simsensor

import "fmt"

// Kind identifies the payload carried by a Buffer.
type Kind int

const (
	// KindUnknown is the zero value and is never valid in a chain.
	KindUnknown Kind = iota
	// KindDI is one (range, intensity) pair per beam on a W×H grid.
	KindDI
	// KindDIMulti is the raw multi-sample form of KindDI: SamplesPerBeam
	// sub-ray returns per beam, laid out beam-major.
	KindDIMulti
	// KindXYZI is one sensor-frame Cartesian point plus intensity per beam.
	KindXYZI
)

// Kinds lists every valid payload kind.
var Kinds = []Kind{KindDI, KindDIMulti, KindXYZI}

func (k Kind) String() string {
	switch k {
	case KindDI:
		return "di"
	case KindDIMulti:
		return "di-multi"
	case KindXYZI:
		return "xyzi"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the defined payload kinds.
func (k Kind) Valid() bool {
	return k == KindDI || k == KindDIMulti || k == KindXYZI
}

// ParseKind converts a kind name as printed by String back to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: unknown buffer kind %q", ErrConfiguration, s)
}

// DISample is one depth/intensity return. A miss has Range 0.
type DISample struct {
	Range     float32 // metres
	Intensity float32 // normalised 0..1
}

// Hit reports whether the sample is a real return.
func (s DISample) Hit() bool { return s.Range > 0 }

// XYZISample is a sensor-frame point with intensity. A miss is the origin
// with zero intensity.
type XYZISample struct {
	X, Y, Z   float32
	Intensity float32
}
