// Package viz provides filter.Display implementations: PNG plots, HTML
// scatter charts and an in-memory recorder for tests.
package viz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
)

// Frame is one buffer shown on a MemoryDisplay.
type Frame struct {
	View   filter.View
	Buffer *simsensor.Buffer
}

// MemoryDisplay records every buffer it is shown.
type MemoryDisplay struct {
	mu     sync.Mutex
	frames []Frame
}

// Show implements filter.Display.
func (d *MemoryDisplay) Show(_ context.Context, view filter.View, buf *simsensor.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, Frame{View: view, Buffer: buf})
	return nil
}

// Frames returns a copy of the recorded frames in the order shown.
func (d *MemoryDisplay) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}

// Len returns the number of recorded frames.
func (d *MemoryDisplay) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// frameName is the file name for one shown buffer:
// <title>_<sensor>_<seq><ext>, with title and sensor reduced to
// filename-safe characters.
func frameName(view filter.View, buf *simsensor.Buffer, ext string) string {
	title := slug(view.Title)
	if title == "" {
		title = buf.Kind.String()
	}
	return fmt.Sprintf("%s_%s_%06d%s", title, slug(buf.Sensor), buf.Seq, ext)
}

func slug(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '-' || r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
}

func checkShowable(buf *simsensor.Buffer) error {
	switch buf.Kind {
	case simsensor.KindDI, simsensor.KindXYZI:
		return buf.Validate()
	default:
		return fmt.Errorf("cannot display %s buffer", buf.Kind)
	}
}
