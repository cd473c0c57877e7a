// Package simsensor owns the shared data model of the simulated sensor
// pipeline.
//
// Responsibilities: payload kinds and sample types, the timestamped Buffer
// that carries one reading through a filter chain, the Future used to
// signal backend completion, pose math for sensor frames, and the
// interfaces consumed from collaborators (Backend, PoseProvider).
//
// Dependency rule: simsensor depends on nothing else in this module. The
// filter, sensor, manager and raycast packages build on it.
package simsensor
