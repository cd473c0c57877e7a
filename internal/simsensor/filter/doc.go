// Package filter provides the processing stages applied to a sensor's raw
// output and the Chain that runs them in order.
//
// The stage set is closed: noise injection, host access, format conversion,
// reduction, visualisation and persistence. Chains are kind-checked when a
// stage is appended, so an inconsistent chain is a configuration error and
// never a runtime one.
//
// Noise, conversion and reduction stages run against device-resident data
// without blocking: they are chained onto the backend's completion. Host
// access is the only stage that waits for the backend. Visualisation and
// persistence are pass-through side effects and need host data.
package filter
