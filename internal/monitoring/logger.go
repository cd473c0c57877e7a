// Package monitoring routes the pipeline's log streams. Every pipeline
// package logs on three streams (ops, diag, trace); SetLogWriters points
// all of them at once.
package monitoring

import (
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/sensorsim/internal/simsensor/body"
	"github.com/banshee-data/sensorsim/internal/simsensor/filter"
	"github.com/banshee-data/sensorsim/internal/simsensor/manager"
	"github.com/banshee-data/sensorsim/internal/simsensor/raycast"
	"github.com/banshee-data/sensorsim/internal/simsensor/sensor"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer // actionable warnings, errors, lifecycle events
	Diag  io.Writer // registration, dropped ticks, tuning context
	Trace io.Writer // per-cycle telemetry
}

// SetLogWriters configures the streams of every pipeline package. Pass nil
// for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	sensor.SetLogWriters(w.Ops, w.Diag, w.Trace)
	manager.SetLogWriters(w.Ops, w.Diag, w.Trace)
	filter.SetLogWriters(w.Ops, w.Diag, w.Trace)
	raycast.SetLogWriters(w.Ops, w.Diag, w.Trace)
	body.SetLogWriters(w.Ops, w.Diag, w.Trace)
}

// Level names the most verbose stream that is enabled.
type Level string

const (
	LevelOff   Level = "off"
	LevelOps   Level = "ops"
	LevelDiag  Level = "diag"
	LevelTrace Level = "trace"
)

// WritersFor enables every stream up to level on w.
func WritersFor(level Level, w io.Writer) (LogWriters, error) {
	switch level {
	case LevelOff:
		return LogWriters{}, nil
	case LevelOps:
		return LogWriters{Ops: w}, nil
	case LevelDiag:
		return LogWriters{Ops: w, Diag: w}, nil
	case LevelTrace:
		return LogWriters{Ops: w, Diag: w, Trace: w}, nil
	default:
		return LogWriters{}, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", level)
	}
}
