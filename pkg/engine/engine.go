// Package engine implements the matching runtime: it consumes a line
// stream, drives rule instances through their match sequences, fires
// lifecycle actions through an actionhost.Host, evicts instances on
// timeout, and reports unmatched rules at end of stream.
//
// Everything here is single-threaded and strictly serial per line:
// each line is fully processed (advance live instances, create
// candidates, check completion) before the next line is read.
package engine

import (
	"fmt"
	"time"

	"github.com/praetorian-inc/logengine/pkg/actionhost"
	"github.com/praetorian-inc/logengine/pkg/compiler"
	"github.com/praetorian-inc/logengine/pkg/enginelog"
	"github.com/praetorian-inc/logengine/pkg/eventlog"
	"github.com/praetorian-inc/logengine/pkg/prefilter"
	"github.com/praetorian-inc/logengine/pkg/regexcache"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// Options configures an Engine beyond what the compiled Program fixes.
type Options struct {
	// Fast enables the single-match fast path: a rule whose only
	// non-PRE clause is the one just matched completes immediately on
	// creation, without ever materializing a RuleInstance.
	Fast bool

	// UserOpts is the command-line `-user name=value` table:
	// every option must be queried via GetUserOpt at least once during the
	// run, or the engine reports it via UnqueriedUserOpts at Finish.
	UserOpts map[string][]string

	// Logger receives lifecycle trace lines. Defaults
	// to enginelog.NoopLogger when nil.
	Logger enginelog.Logger

	// EventLog, when non-nil, records every fired action and completed
	// instance for later -status/-debug inspection. Optional: a nil
	// EventLog simply means nothing is recorded.
	EventLog eventlog.Store
}

// Engine owns every piece of global mutable state the matching runtime
// needs: live instances, previous-instance snapshots, the regex
// cache, and the monotonic line id. There are no package-level globals;
// every subsystem operates on an *Engine value.
type Engine struct {
	program *compiler.Program
	cache   *regexcache.Cache
	pf      *prefilter.Prefilter
	host    actionhost.Host
	fast    bool
	log     enginelog.Logger
	events  eventlog.Store

	userOpts    map[string][]string
	queriedOpts map[string]bool

	actions     map[*types.Rule]map[types.ActionKind]actionhost.Callable
	codeOf      map[*types.Clause]actionhost.Callable
	termination []actionhost.Callable

	live       []*types.RuleInstance
	liveByRule map[string][]*types.RuleInstance
	previous   map[string]*types.PreviousInstance

	// completedThisLine suppresses step 3 (candidate creation) for a rule
	// that already reached COMPLETE earlier on this same line (via step 2's
	// advance or the fast path); without it, a line satisfying both a
	// rule's final clause and its BEGIN would immediately re-arm the rule
	// and fire a second CREATE for the same event.
	completedThisLine map[*types.Rule]bool

	// controller is the instance whose code clause or action is currently
	// executing, the "controller" every cross-rule query resolves
	// against. It is set for the duration of a single
	// evalClause/fireAction call and
	// cleared afterward; the matching loop is strictly serial, so
	// there is never more than one controller active at a time.
	controller *types.RuleInstance

	lineID int64
	buffer *actionhost.Buffer

	done     bool // set by LOGENGINE_PROCESSING_COMPLETE
	warnings []string
}

// New compiles every rule's actions and code clauses through host, and
// declares every SHARED_CODE/TERMINATION_CODE global, before any line is
// processed. A compile failure on an individual action or code clause is
// reported to host and disables just that action/clause; it does not
// fail New.
func New(program *compiler.Program, cache *regexcache.Cache, pf *prefilter.Prefilter, host actionhost.Host, opts Options) (*Engine, error) {
	if host == nil {
		host = actionhost.NewNullHost()
	}
	logger := opts.Logger
	if logger == nil {
		logger = enginelog.NoopLogger{}
	}
	e := &Engine{
		program:           program,
		cache:             cache,
		pf:                pf,
		host:              host,
		fast:              opts.Fast,
		log:               logger,
		events:            opts.EventLog,
		userOpts:          opts.UserOpts,
		queriedOpts:       make(map[string]bool),
		actions:           make(map[*types.Rule]map[types.ActionKind]actionhost.Callable),
		codeOf:            make(map[*types.Clause]actionhost.Callable),
		liveByRule:        make(map[string][]*types.RuleInstance),
		previous:          make(map[string]*types.PreviousInstance),
		completedThisLine: make(map[*types.Rule]bool),
		buffer:            actionhost.NewBuffer(),
	}
	if e.userOpts == nil {
		e.userOpts = make(map[string][]string)
	}

	for _, entry := range program.SharedCode {
		if err := host.DeclareGlobal(entry.Name, entry.Code); err != nil {
			return nil, fmt.Errorf("declaring SHARED_CODE %q: %w", entry.Name, err)
		}
	}
	for _, entry := range program.TerminationCode {
		if err := host.DeclareGlobal(entry.Name, entry.Code); err != nil {
			return nil, fmt.Errorf("declaring TERMINATION_CODE %q: %w", entry.Name, err)
		}
	}

	for _, rule := range program.Rules {
		kinds := make(map[types.ActionKind]actionhost.Callable)
		for kind, src := range rule.Actions {
			c, err := host.Compile(src)
			if err != nil {
				host.Error(fmt.Sprintf("%s: rule %s: ACTION.%s: %v", rule.Source, rule.Name, kind, err))
				continue
			}
			kinds[kind] = c
		}
		e.actions[rule] = kinds

		for _, clause := range rule.MatchList {
			if !clause.IsCode {
				continue
			}
			c, err := host.Compile(clause.Code)
			if err != nil {
				host.Error(fmt.Sprintf("%s: rule %s: code clause: %v", clause.Source, rule.Name, err))
				continue
			}
			e.codeOf[clause] = c
		}
	}

	for _, entry := range program.TerminationCode {
		c, err := host.Compile(entry.Code)
		if err != nil {
			host.Error(fmt.Sprintf("%s: TERMINATION_CODE %q: %v", entry.Source, entry.Name, err))
			continue
		}
		e.termination = append(e.termination, c)
	}

	return e, nil
}

// Done reports whether a user action has called LOGENGINE_PROCESSING_COMPLETE
//: the caller finishes the current line, then stops
// reading and calls Finish.
func (e *Engine) Done() bool {
	return e.done
}

// Warnings returns default warning text accumulated for MISSING/INCOMPLETE
// events that had no registered handler.
func (e *Engine) Warnings() []string {
	return e.warnings
}

// UnqueriedUserOpts returns every `-user` option name that GetUserOpt was
// never called for: the CLI surfaces this as a configuration error.
func (e *Engine) UnqueriedUserOpts() []string {
	var out []string
	for name := range e.userOpts {
		if !e.queriedOpts[name] {
			out = append(out, name)
		}
	}
	return out
}

// ruleTimeoutLines and matchTimeoutLines reinterpret the compiler's
// time.Duration timeout fields as line counts: both RULE_TIMEOUT and
// MATCH_TIMEOUT are authored as bare integers, and
// "MATCH_NEXT_LINE=true ≡ MATCH_TIMEOUT=1" only makes sense if the unit
// counted is lines, not wall-clock seconds; a rule waiting on the "next"
// line cares about line adjacency, not real time. The compiler still
// stores the parsed value as a time.Duration (seconds) so DEFAULT/raw
// integer parsing stays in one place; the runtime divides back out.
func ruleTimeoutLines(rule *types.Rule) int64 {
	return int64(rule.RuleTimeout / time.Second)
}

func matchTimeoutLines(clause *types.Clause) int64 {
	return int64(clause.MatchTimeout / time.Second)
}
