// Package sensor implements the scheduled, body-mounted virtual sensor.
//
// A Sensor decides when it is due against the simulation clock, builds the
// backend request for its lagged collection window, runs its filter chain
// on the raw reading and publishes the results through per-kind atomic
// slots. Consumers poll GetMostRecentBuffer from any goroutine; the
// producer never takes a lock a consumer could hold.
//
// Cycle lifecycle: IDLE → CAPTURING (request issued) → FILTERING (chain
// running) → publish → IDLE. At most one cycle is in flight per sensor.
package sensor
