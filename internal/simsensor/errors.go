package simsensor

import "errors"

// Error taxonomy shared by every package in the pipeline. Callers match
// with errors.Is; the concrete errors wrap one of these sentinels.
var (
	// ErrConfiguration marks an invalid sensor or chain configuration. It is
	// only returned while building a configuration, never mid-simulation.
	ErrConfiguration = errors.New("sensor configuration error")

	// ErrBackendUnavailable marks a cycle the raycast backend could not
	// produce. The cycle is abandoned and the last good result stays
	// published.
	ErrBackendUnavailable = errors.New("sensor backend unavailable")

	// ErrStaleReference marks a sensor whose target body no longer exists.
	// The sensor is deactivated.
	ErrStaleReference = errors.New("sensor body no longer exists")
)
