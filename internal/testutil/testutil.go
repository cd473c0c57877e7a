// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless err wraps target.
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want one wrapping %v", err, target)
	}
}

// DIBuffer returns a ready w×h depth/intensity buffer with every sample set
// to (rng, intensity).
func DIBuffer(w, h int, rng, intensity float32) *simsensor.Buffer {
	b := simsensor.NewDI(w, h)
	for i := range b.DI {
		b.DI[i] = simsensor.DISample{Range: rng, Intensity: intensity}
	}
	b.MarkReady()
	return b
}

// XYZIBuffer returns a ready buffer holding points.
func XYZIBuffer(points ...simsensor.XYZISample) *simsensor.Buffer {
	b := simsensor.NewXYZI(len(points), 1)
	copy(b.XYZI, points)
	b.MarkReady()
	return b
}

// Fill produces the host samples for one request.
type Fill func(req *simsensor.Request) (*simsensor.Buffer, error)

// ConstantFill fills every sub-sample of the request's raw kind with
// (rng, intensity).
func ConstantFill(rng, intensity float32) Fill {
	return func(req *simsensor.Request) (*simsensor.Buffer, error) {
		b := req.Header()
		b.DI = make([]simsensor.DISample, b.Beams()*b.SamplesPerBeam)
		for i := range b.DI {
			b.DI[i] = simsensor.DISample{Range: rng, Intensity: intensity}
		}
		return b, nil
	}
}

// Backend is a scripted simsensor.Backend. Each request is resolved on its
// own goroutine with Fill; Hold parks resolutions until Release.
type Backend struct {
	Fill Fill

	mu        sync.Mutex
	batches   [][]*simsensor.Request
	gate      chan struct{}
	submitErr error
	closed    bool
}

// NewBackend returns a backend resolving requests with fill.
func NewBackend(fill Fill) *Backend {
	return &Backend{Fill: fill}
}

// Submit records the batch and returns one pending buffer per request.
func (b *Backend) Submit(ctx context.Context, reqs []*simsensor.Request) ([]*simsensor.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: backend closed", simsensor.ErrBackendUnavailable)
	}
	if err := b.submitErr; err != nil {
		b.submitErr = nil
		return nil, fmt.Errorf("%w: %v", simsensor.ErrBackendUnavailable, err)
	}
	b.batches = append(b.batches, reqs)

	gate := b.gate
	out := make([]*simsensor.Buffer, len(reqs))
	for i, req := range reqs {
		f := simsensor.NewFuture()
		go func() {
			if gate != nil {
				<-gate
			}
			f.Resolve(b.Fill(req))
		}()
		out[i] = simsensor.Pending(req.Header(), f)
	}
	return out, nil
}

// Close rejects later submissions.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Hold parks every later resolution until Release is called.
func (b *Backend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
}

// Release lets held resolutions complete.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

// FailNextSubmit makes the next Submit fail as a whole.
func (b *Backend) FailNextSubmit(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
}

// Batches returns the submitted batches.
func (b *Backend) Batches() [][]*simsensor.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]*simsensor.Request(nil), b.batches...)
}

// Requests returns every submitted request in submission order.
func (b *Backend) Requests() []*simsensor.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*simsensor.Request
	for _, batch := range b.batches {
		out = append(out, batch...)
	}
	return out
}
