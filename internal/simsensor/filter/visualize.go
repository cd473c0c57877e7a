package filter

import (
	"context"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// View describes how a buffer should be presented.
type View struct {
	Title  string
	Width  int
	Height int
}

// Display presents a buffer. Implementations must not modify it.
type Display interface {
	Show(ctx context.Context, view View, buf *simsensor.Buffer) error
}

// Visualize hands each buffer to a Display and forwards it unchanged.
type Visualize struct {
	stage
	sameKind
	display Display
	view    View
}

// NewVisualize returns a visualisation stage. Width and height are hints for
// the display; zero lets the display choose.
func NewVisualize(display Display, title string, width, height int) *Visualize {
	return &Visualize{
		stage:   stage{name: "visualize", variant: VariantVisualize},
		display: display,
		view:    View{Title: title, Width: width, Height: height},
	}
}

// Accepts reports whether the display can present in.
func (v *Visualize) Accepts(in simsensor.Kind) bool {
	return in == simsensor.KindDI || in == simsensor.KindXYZI
}

// Apply shows in and returns it.
func (v *Visualize) Apply(ctx context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if err := checkKind(v, in); err != nil {
		return nil, err
	}
	if v.display == nil {
		return in, nil
	}
	if err := v.display.Show(ctx, v.view, in); err != nil {
		return in, err
	}
	tracef("shown %s #%d from %s as %q", in.Kind, in.Seq, in.Sensor, v.view.Title)
	return in, nil
}
