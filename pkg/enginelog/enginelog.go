// Package enginelog provides the engine's optional verbose/debug tracing:
// a single-method interface plus a no-op implementation, rather than a
// general logging library dependency.
package enginelog

import (
	"fmt"
	"io"
	"time"
)

// Logger receives trace lines during a run. Log is called with a
// printf-style format and arguments; it never returns an error.
type Logger interface {
	Log(format string, args ...interface{})
}

// NoopLogger discards everything (the default when neither -verbose nor
// -debug is given).
type NoopLogger struct{}

// Log implements Logger.
func (NoopLogger) Log(format string, args ...interface{}) {}

// WriterLogger writes timestamped trace lines to an io.Writer (stderr in
// the CLI, under both -verbose and -debug). It is the engine's one concrete
// Logger beyond NoopLogger; -verbose and -debug produce the same trace.
type WriterLogger struct {
	W io.Writer
}

// Log implements Logger.
func (l WriterLogger) Log(format string, args ...interface{}) {
	if l.W == nil {
		return
	}
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.W, "%s %s\n", ts, fmt.Sprintf(format, args...))
}
