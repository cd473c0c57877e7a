package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorsim/internal/fsutil"
	"github.com/banshee-data/sensorsim/internal/simsensor"
	"github.com/banshee-data/sensorsim/internal/testutil"
)

// pending wraps a host buffer in an unresolved Future, as a backend would.
func pending(host *simsensor.Buffer) (*simsensor.Buffer, *simsensor.Future) {
	f := simsensor.NewFuture()
	return simsensor.Pending(host, f), f
}

type recordingDisplay struct {
	shown []*simsensor.Buffer
	err   error
}

func (d *recordingDisplay) Show(_ context.Context, _ View, b *simsensor.Buffer) error {
	d.shown = append(d.shown, b)
	return d.err
}

func TestChain_AppendKindConsistency(t *testing.T) {
	tests := []struct {
		name    string
		raw     simsensor.Kind
		filters []Filter
		wantErr bool
	}{
		{"empty DI", simsensor.KindDI, nil, false},
		{"noise then access", simsensor.KindDI, []Filter{NewDINoise(0, 0.01, 0), NewDIAccess()}, false},
		{"convert then xyzi access", simsensor.KindDI, []Filter{NewDIToXYZI(), NewXYZIAccess()}, false},
		{"reduce multi", simsensor.KindDIMulti, []Filter{NewReduce(simsensor.MeanReturn), NewDIAccess()}, false},
		{"xyzi noise on DI", simsensor.KindDI, []Filter{NewXYZINoise(0, 1, 1, 1, 0)}, true},
		{"DI access after convert", simsensor.KindDI, []Filter{NewDIToXYZI(), NewDIAccess()}, true},
		{"reduce on single sample", simsensor.KindDI, []Filter{NewReduce(simsensor.FirstReturn)}, true},
		{"persist before host access", simsensor.KindDI, []Filter{NewPersist("out")}, true},
		{"visualize before host access", simsensor.KindDI, []Filter{NewVisualize(nil, "v", 0, 0)}, true},
		{"visualize multi", simsensor.KindDIMulti, []Filter{NewHostAccess(simsensor.KindDIMulti), NewVisualize(nil, "v", 0, 0)}, true},
		{"nil filter", simsensor.KindDI, []Filter{nil}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChain(tt.raw)
			var err error
			for _, f := range tt.filters {
				if err = c.Append(f); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, simsensor.ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChain_FailedAppendLeavesChainUnchanged(t *testing.T) {
	c := NewChain(simsensor.KindDI)
	require.NoError(t, c.Append(NewDINoise(0, 0.1, 0)))
	require.NoError(t, c.Append(NewDIToXYZI()))

	beforeFilters := c.Filters()
	beforeKinds := c.Kinds()

	err := c.Append(NewDIAccess())
	require.ErrorIs(t, err, simsensor.ErrConfiguration)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, simsensor.KindXYZI, c.TailKind())
	assert.Equal(t, beforeKinds, c.Kinds())
	for i, f := range c.Filters() {
		assert.Same(t, beforeFilters[i], f)
	}

	// A later valid append still works from the unchanged tail.
	require.NoError(t, c.Append(NewXYZIAccess()))
	assert.Equal(t, []simsensor.Kind{simsensor.KindDI, simsensor.KindXYZI, simsensor.KindXYZI}, c.Kinds())
}

func TestChain_EmptyIsIdentity(t *testing.T) {
	c := NewChain(simsensor.KindDI)
	in := testutil.DIBuffer(3, 2, 5, 0.5)

	res, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Output.Ready())
	if diff := cmp.Diff(in.DI, res.Output.DI); diff != "" {
		t.Errorf("empty chain changed samples (-in +out):\n%s", diff)
	}
	assert.Same(t, res.Output, res.Published[simsensor.KindDI])
}

func TestChain_RunRejectsWrongInput(t *testing.T) {
	c := NewChain(simsensor.KindDIMulti)
	_, err := c.Run(context.Background(), testutil.DIBuffer(1, 1, 1, 1))
	assert.Error(t, err)
	_, err = c.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestChain_DeviceStagesDeferUntilHostAccess(t *testing.T) {
	c := NewChain(simsensor.KindDI)
	require.NoError(t, c.Append(NewDIToXYZI()))
	require.NoError(t, c.Append(NewXYZIAccess()))

	host := testutil.DIBuffer(4, 1, 2, 0.75)
	host.Geometry = &simsensor.LidarGeometry{HorizontalSamples: 4, VerticalChannels: 1, HorizontalFOV: 1, SampleRadius: 1}
	raw, fut := pending(host)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Run(context.Background(), raw)
		done <- outcome{res, err}
	}()

	select {
	case <-done:
		t.Fatal("Run finished before the backend resolved")
	default:
	}
	fut.Resolve(host, nil)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, simsensor.KindXYZI, out.res.Output.Kind)
	assert.True(t, out.res.Output.Ready())
	assert.Len(t, out.res.Output.XYZI, 4)
	_, hasDI := out.res.Published[simsensor.KindDI]
	assert.False(t, hasDI, "no DI host access in this chain")
}

func TestChain_PublishesEveryHostAccessPoint(t *testing.T) {
	c := NewChain(simsensor.KindDI)
	require.NoError(t, c.Append(NewDIAccess()))
	require.NoError(t, c.Append(NewDIToXYZI()))
	require.NoError(t, c.Append(NewXYZIAccess()))

	host := testutil.DIBuffer(2, 1, 3, 1)
	host.Geometry = &simsensor.LidarGeometry{HorizontalSamples: 2, VerticalChannels: 1, HorizontalFOV: 1, SampleRadius: 1}
	raw, fut := pending(host)
	fut.Resolve(host, nil)

	res, err := c.Run(context.Background(), raw)
	require.NoError(t, err)
	require.Contains(t, res.Published, simsensor.KindDI)
	require.Contains(t, res.Published, simsensor.KindXYZI)
	assert.True(t, res.Published[simsensor.KindDI].Ready())
	assert.Same(t, res.Output, res.Published[simsensor.KindXYZI])
}

func TestChain_BackendErrorAbandonsRun(t *testing.T) {
	c := NewChain(simsensor.KindDI)
	require.NoError(t, c.Append(NewDINoise(0, 0.1, 0.1)))
	require.NoError(t, c.Append(NewDIAccess()))

	raw, fut := pending(testutil.DIBuffer(2, 1, 3, 1))
	fut.Resolve(nil, simsensor.ErrBackendUnavailable)

	_, err := c.Run(context.Background(), raw)
	assert.ErrorIs(t, err, simsensor.ErrBackendUnavailable)
}

func TestChain_SideEffectsCollectedAndPassThrough(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	display := &recordingDisplay{err: errors.New("window closed")}

	c := NewChain(simsensor.KindDI)
	require.NoError(t, c.Append(NewDIAccess()))
	require.NoError(t, c.Append(NewVisualize(display, "depth", 64, 16)))
	require.NoError(t, c.Append(NewPersist("out", WithFileSystem(fs))))

	raw, fut := pending(testutil.DIBuffer(2, 2, 4, 0.5))
	fut.Resolve(testutil.DIBuffer(2, 2, 4, 0.5), nil)

	res, err := c.Run(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, res.SideEffectErrors, 1)
	assert.ErrorContains(t, res.SideEffectErrors[0], "window closed")

	require.Len(t, display.shown, 1)
	assert.Same(t, res.Output, display.shown[0], "side-effect stages forward their input")
	names, err := fs.List("out")
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_0.csv"}, names)
}
