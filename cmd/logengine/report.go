package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/praetorian-inc/logengine/pkg/eventlog"
)

// summaryStyles holds the color formatters for the end-of-run summary:
// bold heading plus a distinct color per message severity.
type summaryStyles struct {
	heading *color.Color
	warn    *color.Color
	errorC  *color.Color
	ok      *color.Color
}

func newSummaryStyles() *summaryStyles {
	return &summaryStyles{
		heading: color.New(color.Bold),
		warn:    color.New(color.FgYellow),
		errorC:  color.New(color.FgHiRed),
		ok:      color.New(color.FgHiGreen),
	}
}

// printSummary writes the end-of-run warnings (MISSING/INCOMPLETE rules
// with no handler) and action-host errors collected during the
// run.
func printSummary(w io.Writer, warnings, hostErrors []string) {
	s := newSummaryStyles()
	if len(warnings) == 0 && len(hostErrors) == 0 {
		s.ok.Fprintln(w, "logengine: run complete, no warnings")
		return
	}
	if len(warnings) > 0 {
		s.heading.Fprintln(w, "logengine: warnings")
		for _, wmsg := range warnings {
			s.warn.Fprintf(w, "  W: %s\n", wmsg)
		}
	}
	if len(hostErrors) > 0 {
		s.heading.Fprintln(w, "logengine: action errors")
		for _, e := range hostErrors {
			s.errorC.Fprintf(w, "  E: %s\n", e)
		}
	}
	fmt.Fprintln(w)
}

// printEventLogSummary reports per-rule completion counts from the
// run-scoped inspection store, the closest thing a
// plain CLI has to the out-of-scope terminal status display.
func printEventLogSummary(w io.Writer, store eventlog.Store) {
	completions, err := store.Completions()
	if err != nil {
		fmt.Fprintf(w, "E: reading eventlog: %v\n", err)
		return
	}
	if len(completions) == 0 {
		return
	}

	counts := make(map[string]int)
	for _, c := range completions {
		counts[c.RuleName]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	s := newSummaryStyles()
	s.heading.Fprintln(w, "logengine: completions")
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, counts[name])
	}
}
