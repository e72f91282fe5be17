package main

import (
	"fmt"
	"io"
	"time"
)

// statusTicker prints a periodic plain-text progress line every interval
// of wall-clock time. This is deliberately not a TUI, just the periodic
// line a CLI without that dependency would print.
type statusTicker struct {
	w        io.Writer
	interval time.Duration
	last     time.Time
	lines    int64
}

func newStatusTicker(w io.Writer, seconds int) *statusTicker {
	if seconds <= 0 {
		return nil
	}
	return &statusTicker{w: w, interval: time.Duration(seconds) * time.Second, last: time.Now()}
}

// Tick records one more processed line and prints a status line once the
// interval has elapsed since the last one.
func (s *statusTicker) Tick(logfile string) {
	if s == nil {
		return
	}
	s.lines++
	if time.Since(s.last) < s.interval {
		return
	}
	s.last = time.Now()
	fmt.Fprintf(s.w, "status: %d lines processed (current file: %s)\n", s.lines, logfile)
}
