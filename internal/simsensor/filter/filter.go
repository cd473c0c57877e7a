package filter

import (
	"context"
	"fmt"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Variant tags the closed set of stage types.
type Variant int

const (
	VariantNoise Variant = iota + 1
	VariantHostAccess
	VariantConvert
	VariantReduce
	VariantVisualize
	VariantPersist
)

func (v Variant) String() string {
	switch v {
	case VariantNoise:
		return "noise"
	case VariantHostAccess:
		return "host-access"
	case VariantConvert:
		return "convert"
	case VariantReduce:
		return "reduce"
	case VariantVisualize:
		return "visualize"
	case VariantPersist:
		return "persist"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// deviceCapable stages may run against data that is still on the backend.
func (v Variant) deviceCapable() bool {
	return v == VariantNoise || v == VariantConvert || v == VariantReduce
}

// sideEffect stages forward their input unchanged.
func (v Variant) sideEffect() bool {
	return v == VariantVisualize || v == VariantPersist
}

// Filter is one stage of a Chain. The interface is sealed; use the
// constructors in this package.
type Filter interface {
	Name() string
	Variant() Variant
	// Accepts reports whether the stage can consume buffers of kind in.
	Accepts(in simsensor.Kind) bool
	// OutputKind is the kind produced from an accepted input kind.
	OutputKind(in simsensor.Kind) simsensor.Kind
	// Apply transforms one host-resident buffer. Host access also accepts
	// device-resident input and waits for it.
	Apply(ctx context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error)

	sealed()
}

// stage carries the fields common to every variant.
type stage struct {
	name    string
	variant Variant
}

func (s stage) Name() string     { return s.name }
func (s stage) Variant() Variant { return s.variant }
func (stage) sealed()            {}

// sameKind is embedded by stages whose output kind equals their input.
type sameKind struct{}

func (sameKind) OutputKind(in simsensor.Kind) simsensor.Kind { return in }

func anyKind(in simsensor.Kind) bool { return in.Valid() }

func checkKind(f Filter, in *simsensor.Buffer) error {
	if !f.Accepts(in.Kind) {
		return fmt.Errorf("%s: unexpected %s input", f.Name(), in.Kind)
	}
	return nil
}
