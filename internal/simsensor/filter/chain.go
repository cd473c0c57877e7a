package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/sensorsim/internal/simsensor"
)

// Chain is an ordered, kind-consistent sequence of filters owned by one
// sensor. Its head accepts the producer's raw kind.
type Chain struct {
	mu      sync.RWMutex
	rawKind simsensor.Kind
	filters []Filter
	kinds   []simsensor.Kind // output kind after each stage
	hostAt  int              // index of the first host-access stage, or -1
}

// NewChain returns an empty chain whose head accepts rawKind.
func NewChain(rawKind simsensor.Kind) *Chain {
	return &Chain{rawKind: rawKind, hostAt: -1}
}

// RawKind returns the kind the chain's head accepts.
func (c *Chain) RawKind() simsensor.Kind {
	return c.rawKind
}

// TailKind returns the kind produced by the last stage, or the raw kind for
// an empty chain.
func (c *Chain) TailKind() simsensor.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tailKind()
}

func (c *Chain) tailKind() simsensor.Kind {
	if len(c.kinds) == 0 {
		return c.rawKind
	}
	return c.kinds[len(c.kinds)-1]
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filters)
}

// Filters returns a copy of the stage list.
func (c *Chain) Filters() []Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Filter(nil), c.filters...)
}

// Kinds returns the output kind after each stage.
func (c *Chain) Kinds() []simsensor.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]simsensor.Kind(nil), c.kinds...)
}

// Append validates f against the current tail and adds it. A rejected
// stage leaves the chain unchanged; the error wraps ErrConfiguration.
func (c *Chain) Append(f Filter) error {
	if f == nil {
		return fmt.Errorf("%w: nil filter", simsensor.ErrConfiguration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.tailKind()
	if !f.Accepts(tail) {
		return fmt.Errorf("%w: %s stage %q does not accept %s (output of stage %d)",
			simsensor.ErrConfiguration, f.Variant(), f.Name(), tail, len(c.filters))
	}
	out := f.OutputKind(tail)
	if !out.Valid() {
		return fmt.Errorf("%w: %s stage %q produces invalid kind %s",
			simsensor.ErrConfiguration, f.Variant(), f.Name(), out)
	}

	switch v := f.Variant(); v {
	case VariantVisualize, VariantPersist:
		if c.hostAt < 0 {
			return fmt.Errorf("%w: %s stage %q needs host data; add a host-access stage before it",
				simsensor.ErrConfiguration, v, f.Name())
		}
		if out != tail {
			return fmt.Errorf("%w: %s stage %q must not change the kind",
				simsensor.ErrConfiguration, v, f.Name())
		}
	case VariantHostAccess:
		if c.hostAt < 0 {
			c.hostAt = len(c.filters)
		}
	case VariantNoise, VariantConvert, VariantReduce:
	default:
		return fmt.Errorf("%w: unknown stage variant %s", simsensor.ErrConfiguration, v)
	}

	c.filters = append(c.filters, f)
	c.kinds = append(c.kinds, out)
	return nil
}

// Result is the outcome of running a chain on one raw buffer.
type Result struct {
	// Output is the host-resident, ready output of the final stage.
	Output *simsensor.Buffer
	// Published holds the last host-resident buffer of each kind produced
	// during the run: host-access outputs and the final output.
	Published map[simsensor.Kind]*simsensor.Buffer
	// SideEffectErrors collects visualisation and persistence failures.
	// They do not abandon the run.
	SideEffectErrors []error
}

// Run executes the stages in append order on raw. Device-capable stages are
// deferred onto pending backend data, host access blocks until the data is
// available, and the final output is synchronised before Run returns.
func (c *Chain) Run(ctx context.Context, raw *simsensor.Buffer) (*Result, error) {
	if raw == nil {
		return nil, errors.New("chain run on nil buffer")
	}
	if raw.Kind != c.rawKind {
		return nil, fmt.Errorf("chain expects %s input, got %s", c.rawKind, raw.Kind)
	}

	c.mu.RLock()
	filters := append([]Filter(nil), c.filters...)
	c.mu.RUnlock()

	res := &Result{Published: make(map[simsensor.Kind]*simsensor.Buffer)}
	cur := raw
	for i, f := range filters {
		v := f.Variant()
		switch {
		case v.deviceCapable():
			stage := f
			out, err := cur.Defer(stage.OutputKind(cur.Kind), func(host *simsensor.Buffer) (*simsensor.Buffer, error) {
				return stage.Apply(ctx, host)
			})
			if err != nil {
				return nil, fmt.Errorf("stage %d (%s): %w", i, f.Name(), err)
			}
			cur = out

		case v == VariantHostAccess:
			out, err := f.Apply(ctx, cur)
			if err != nil {
				return nil, fmt.Errorf("stage %d (%s): %w", i, f.Name(), err)
			}
			res.Published[out.Kind] = out
			cur = out

		case v.sideEffect():
			if _, err := f.Apply(ctx, cur); err != nil {
				res.SideEffectErrors = append(res.SideEffectErrors, fmt.Errorf("stage %d (%s): %w", i, f.Name(), err))
			}

		default:
			return nil, fmt.Errorf("stage %d (%s): unknown variant %s", i, f.Name(), v)
		}
	}

	final, err := cur.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync final output: %w", err)
	}
	if !final.Ready() {
		final = final.Clone()
		final.MarkReady()
	}
	res.Output = final
	res.Published[final.Kind] = final
	return res, nil
}
