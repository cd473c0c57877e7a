package filter

import (
	"context"
	"fmt"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// HostAccess makes one kind of backend data readable by consumers. It
// blocks until the backend signals completion of the cycle, then copies
// the samples into a fresh, ready host buffer. The wait only stalls the
// sensor's own production goroutine.
type HostAccess struct {
	stage
	sameKind
	kind simsensor.Kind
}

// NewHostAccess returns a host-access stage for kind.
func NewHostAccess(kind simsensor.Kind) *HostAccess {
	return &HostAccess{
		stage: stage{name: kind.String() + "-access", variant: VariantHostAccess},
		kind:  kind,
	}
}

// NewDIAccess exposes depth/intensity data.
func NewDIAccess() *HostAccess { return NewHostAccess(simsensor.KindDI) }

// NewXYZIAccess exposes point cloud data.
func NewXYZIAccess() *HostAccess { return NewHostAccess(simsensor.KindXYZI) }

// Accepts reports whether in is the stage's kind.
func (h *HostAccess) Accepts(in simsensor.Kind) bool { return in == h.kind }

// Apply waits for in to become host-resident and returns a ready copy.
func (h *HostAccess) Apply(ctx context.Context, in *simsensor.Buffer) (*simsensor.Buffer, error) {
	if err := checkKind(h, in); err != nil {
		return nil, err
	}
	host, err := in.Sync(ctx)
	if err != nil {
		return nil, err
	}
	if err := host.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", h.Name(), err)
	}
	out := host.Clone()
	out.MarkReady()
	return out, nil
}
