package filter

import (
	"context"
	"fmt"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Reduce collapses the sub-ray samples of each beam into one return under a
// return-mode policy. The result is deterministic for identical input.
type Reduce struct {
	stage
	mode simsensor.ReturnMode
}

// NewReduce returns a reduction stage for mode.
func NewReduce(mode simsensor.ReturnMode) *Reduce {
	return &Reduce{
		stage: stage{name: "reduce-" + mode.String(), variant: VariantReduce},
		mode:  mode,
	}
}

// Mode returns the return-mode policy.
func (r *Reduce) Mode() simsensor.ReturnMode { return r.mode }

// Accepts reports whether in is multi-sample depth data.
func (r *Reduce) Accepts(in simsensor.Kind) bool { return in == simsensor.KindDIMulti }

// OutputKind is always KindDI.
func (r *Reduce) OutputKind(simsensor.Kind) simsensor.Kind { return simsensor.KindDI }

// Apply reduces each beam of in.
func (r *Reduce) Apply(_ context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if err := checkKind(r, in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name(), err)
	}
	n := in.SamplesPerBeam
	out := in.CopyHeader(simsensor.KindDI)
	out.SamplesPerBeam = 1
	out.DI = make([]simsensor.DISample, in.Beams())
	for beam := range out.DI {
		out.DI[beam] = reduceBeam(in.DI[beam*n:(beam+1)*n], r.mode)
	}
	return out, nil
}

func reduceBeam(samples []simsensor.DISample, mode simsensor.ReturnMode) simsensor.DISample {
	var (
		best             simsensor.DISample
		found            bool
		sumRange, sumInt float64
		hits             int
	)
	for _, s := range samples {
		if !s.Hit() {
			continue
		}
		hits++
		sumRange += float64(s.Range)
		sumInt += float64(s.Intensity)
		if !found {
			best, found = s, true
			continue
		}
		switch mode {
		case simsensor.StrongestReturn:
			if s.Intensity > best.Intensity {
				best = s
			}
		case simsensor.FirstReturn:
			if s.Range < best.Range {
				best = s
			}
		case simsensor.LastReturn:
			if s.Range > best.Range {
				best = s
			}
		}
	}
	if mode == simsensor.MeanReturn && hits > 0 {
		return simsensor.DISample{
			Range:     float32(sumRange / float64(hits)),
			Intensity: float32(sumInt / float64(hits)),
		}
	}
	return best
}
