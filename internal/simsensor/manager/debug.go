package manager

import (
	"io"
	"log"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the manager package.
// Pass nil for any writer to disable that stream.
//
//   - ops: per-cycle failures reported on the diagnostics channel
//   - diag: sensor registration and removal
//   - trace: per-tick batch submission
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[manager] ", ops)
	diagLogger = newLogger("[manager] ", diag)
	traceLogger = newLogger("[manager] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs to the ops stream (actionable problems).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

// diagf logs to the diag stream (day-to-day tuning).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (high-frequency telemetry).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
