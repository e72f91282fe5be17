package engine

import (
	"strconv"
	"strings"
	"testing"

	"github.com/praetorian-inc/logengine/pkg/actionhost"
	"github.com/praetorian-inc/logengine/pkg/compiler"
	"github.com/praetorian-inc/logengine/pkg/prefilter"
	"github.com/praetorian-inc/logengine/pkg/regexcache"
	"github.com/praetorian-inc/logengine/pkg/script"
	"github.com/praetorian-inc/logengine/pkg/types"
	"github.com/stretchr/testify/require"
)

// callRecord is one Invoke against the test host, capturing enough of the
// binding to assert on variable bindings and line-number fields.
type callRecord struct {
	label     string
	vars      map[string]*types.RuntimeValue
	lineStart int64
	lineStop  int64
	lineRange int64
}

// hostCall is what testHost.Compile hands back to Invoke: either a plain
// counter label (an ordinary ACTION.* body with no builtin syntax) or a
// NullHost-recognized LOGENGINE_*/WRITE_* builtin call, delegated to an
// embedded NullHost so code clauses like COMPARE_RULES_AND_IMPORT still
// drive the real cross-rule query surface.
type hostCall struct {
	label   string
	builtin actionhost.Callable
}

// testHost is a minimal actionhost.Host for driving the engine in tests: it
// records every action/code-clause invocation (so tests can count
// CREATE/COMPLETE/... events and inspect captured variables) while
// delegating recognized builtin calls to actionhost.NullHost so cross-rule
// query code clauses behave exactly as they would under the reference host.
type testHost struct {
	null   *actionhost.NullHost
	calls  []callRecord
	errors []string
}

func newTestHost() *testHost {
	return &testHost{null: actionhost.NewNullHost()}
}

func (h *testHost) Compile(source string) (actionhost.Callable, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return hostCall{}, nil
	}
	if c, err := h.null.Compile(src); err == nil {
		return hostCall{builtin: c}, nil
	}
	return hostCall{label: src}, nil
}

func (h *testHost) Invoke(c actionhost.Callable, b *actionhost.Binding) (actionhost.Result, error) {
	hc, ok := c.(hostCall)
	if !ok {
		return actionhost.Result{}, nil
	}
	h.calls = append(h.calls, callRecord{
		label:     hc.label,
		vars:      b.Vars,
		lineStart: b.LineNumberStart,
		lineStop:  b.LineNumberStop,
		lineRange: b.LineNumberRange,
	})
	if hc.builtin != nil {
		return h.null.Invoke(hc.builtin, b)
	}
	return actionhost.Result{}, nil
}

func (h *testHost) DeclareGlobal(name, initializer string) error { return nil }

func (h *testHost) Error(message string) {
	h.errors = append(h.errors, message)
}

func (h *testHost) count(label string) int {
	n := 0
	for _, c := range h.calls {
		if c.label == label {
			n++
		}
	}
	return n
}

func (h *testHost) last(label string) *callRecord {
	for i := len(h.calls) - 1; i >= 0; i-- {
		if h.calls[i].label == label {
			return &h.calls[i]
		}
	}
	return nil
}

// buildEngine compiles body (an INI-dialect rule script) and
// wires up a fresh Cache, Prefilter and Engine ready to drive line by line.
func buildEngine(t *testing.T, body string, host actionhost.Host, opts Options) *Engine {
	t.Helper()
	sections, err := script.NewLoader().LoadStdin(strings.NewReader(body))
	require.NoError(t, err)
	prog, errs := compiler.Compile(sections)
	require.Empty(t, errs)

	cache := regexcache.New()
	require.NoError(t, cache.Prepare(prog.Rules))
	pf := prefilter.New(prog.Rules)

	eng, err := New(prog, cache, pf, host, opts)
	require.NoError(t, err)
	return eng
}

func feed(e *Engine, logfile string, lines []string) {
	for i, l := range lines {
		e.ProcessLine(logfile, i+1, l)
	}
}

// TestEngine_FastPath_SingleBeginCompletesImmediately: a rule with
// exactly one non-PRE clause, under a line matching only that clause,
// fires COMPLETE on the very same line with no CREATE/DESTROY at all.
func TestEngine_FastPath_SingleBeginCompletesImmediately(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[abr]
BEGIN=ABR
ACTION.CREATE=CR
ACTION.COMPLETE=HIT
ACTION.DESTROY=DE
`, host, Options{Fast: true})

	lines := []string{"nothing here", "an ABR event", "another ABR here", "quiet"}
	feed(e, "test.log", lines)
	e.Finish()

	require.Equal(t, 2, host.count("HIT"))
	require.Equal(t, 0, host.count("CR"))
	require.Equal(t, 0, host.count("DE"))
}

// TestEngine_NonFast_SingleBeginCreateThenCompleteNextLine documents the
// non-fast-mode half of the same behavior: the single-clause rule still creates an
// instance and fires CREATE on the matching line, but COMPLETE only fires
// once the following line is processed and advanceLine finds the instance
// already past the end of its match-list.
func TestEngine_NonFast_SingleBeginCreateThenCompleteNextLine(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[abr]
BEGIN=ABR
ACTION.CREATE=CR
ACTION.COMPLETE=HIT
`, host, Options{Fast: false})

	e.ProcessLine("test.log", 1, "an ABR event")
	require.Equal(t, 1, host.count("CR"))
	require.Equal(t, 0, host.count("HIT"))

	e.ProcessLine("test.log", 2, "irrelevant")
	require.Equal(t, 1, host.count("HIT"))
}

// TestEngine_BeginEndWithMatchTimeout: a BEGIN/END pair
// where a MATCH_TIMEOUT on the END means an instance that never sees a
// matching END within the window is evicted via MATCH_TIMEOUT instead of
// completing.
func TestEngine_BeginEndWithMatchTimeout(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[pair]
BEGIN=ABR
MATCH_TIMEOUT=1
END=strict
ACTION.COMPLETE=HIT
ACTION.MATCH_TIMEOUT=MT
`, host, Options{})

	// Pair 1: ABR immediately followed by strict -> completes.
	// Pair 2: ABR, then a non-strict line -> match-times-out (window=1).
	// Pair 3: ABR, strict -> completes.
	lines := []string{
		"ABR",
		"strict",
		"ABR",
		"noise",
		"ABR",
		"strict",
	}
	feed(e, "test.log", lines)
	e.Finish()

	require.Equal(t, 2, host.count("HIT"))
	require.Equal(t, 1, host.count("MT"))
}

// TestEngine_AccumCapturesSequence: an ACCUM clause holds position
// across multiple matching lines, appending each capture into an
// array-typed (@@) runtime variable, until the terminating END line
// arrives.
func TestEngine_AccumCapturesSequence(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[accum]
BEGIN=^A
BEGIN_ACCUM=^X @@VAL(\S+)
END=^Z
ACTION.COMPLETE=HIT
`, host, Options{})

	lines := []string{"A", "X 1", "X 2", "X 3", "Z"}
	feed(e, "test.log", lines)
	e.Finish()

	require.Equal(t, 1, host.count("HIT"))
	rec := host.last("HIT")
	require.NotNil(t, rec)
	v, ok := rec.vars["VAL"]
	require.True(t, ok)
	require.True(t, v.IsArray)
	require.Equal(t, []string{"1", "2", "3"}, v.Array)
}

// TestEngine_AccumScalarExtractOverwrites covers the scalar ($$) extract
// under an ACCUM clause: unlike @@, each matching line overwrites the
// value, so the completed instance observes only the last capture;
// arrays append, scalars overwrite.
func TestEngine_AccumScalarExtractOverwrites(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[accum2]
BEGIN=^A
BEGIN_ACCUM=^X $$VAL(\S+)
END=^Z
ACTION.COMPLETE=HIT
`, host, Options{})

	lines := []string{"A", "X 1", "X 2", "Z"}
	feed(e, "test.log", lines)
	e.Finish()

	rec := host.last("HIT")
	require.NotNil(t, rec)
	v := rec.vars["VAL"]
	require.False(t, v.IsArray)
	require.Equal(t, "2", v.Scalar)
}

// TestEngine_PreCandidateMerging: every new PRE match
// replaces the prior candidate instead of spawning a parallel one, so
// three matching PRE lines still yield exactly one CREATE and one
// COMPLETE, with the final instance's startline pinned to the line that
// actually satisfied BEGIN.
func TestEngine_PreCandidateMerging(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[merge]
PRE=^T\d+
BEGIN=HELLO
ACTION.CREATE=CR
ACTION.COMPLETE=HIT
`, host, Options{Fast: true})

	lines := []string{"T1", "T2", "T2 HELLO"}
	feed(e, "test.log", lines)
	e.Finish()

	require.Equal(t, 1, host.count("CR"))
	require.Equal(t, 1, host.count("HIT"))
	rec := host.last("HIT")
	require.NotNil(t, rec)
	require.Equal(t, int64(3), rec.lineStart)
}

// TestEngine_RuleTimeoutFiresIncomplete: a BEGIN-only
// instance that never sees its required clauses satisfied times out at the
// rule level, firing TIMEOUT then INCOMPLETE (since the prior clause was a
// BEGIN, not a PRE) then DESTROY, and nothing more.
func TestEngine_RuleTimeoutFiresIncomplete(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[to]
RULE_TIMEOUT=5
BEGIN=^A
END=^Z
ACTION.TIMEOUT=TO
ACTION.INCOMPLETE=INC
ACTION.DESTROY=DE
ACTION.COMPLETE=HIT
`, host, Options{})

	lines := make([]string, 20)
	lines[0] = "A"
	for i := 1; i < 20; i++ {
		lines[i] = "noise"
	}
	for i, l := range lines {
		e.ProcessLine("test.log", i+1, l)
		if host.count("TO") > 0 {
			// TIMEOUT must fire exactly at line 6 (lineID 1 was the match,
			// 6-1 >= 5).
			require.Equal(t, 6, i+1)
			break
		}
	}

	require.Equal(t, 1, host.count("TO"))
	require.Equal(t, 1, host.count("INC"))
	require.Equal(t, 1, host.count("DE"))
	require.Equal(t, 0, host.count("HIT"))

	// No further events once destroyed, even after more lines and Finish.
	for i := 6; i < len(lines); i++ {
		e.ProcessLine("test.log", i+1, lines[i])
	}
	e.Finish()
	require.Equal(t, 1, host.count("TO"))
	require.Equal(t, 1, host.count("INC"))
	require.Equal(t, 1, host.count("DE"))
}

// TestEngine_CrossRuleImportEndToEnd covers the controller-binding half
// of cross-rule import end-to-end: a rule C whose only clause is BEGIN_CODE
// calling LOGENGINE_COMPARE_RULES_AND_IMPORT must see its own, real
// controller (not nil) so the import actually lands in the instance
// COMPLETE later observes. Only B ever matches here (A never appears in
// the stream) so the winner is unambiguous without relying on the
// candidate-creation walk's rule-visit order; "largest stopline among
// several real candidates" is covered separately by
// TestEngine_CompareRules_SelectsLargestStopline below, directly against
// the query surface.
func TestEngine_CrossRuleImportEndToEnd(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[B]
BEGIN=^B $$TS(\S+)
ACTION.COMPLETE=HITB

[C]
TS=<RTVAR>
BEGIN_CODE=LOGENGINE_COMPARE_RULES_AND_IMPORT('A','B')
ACTION.COMPLETE=HITC
`, host, Options{})

	lines := []string{"B ts-only", "filler line for B to complete"}
	feed(e, "test.log", lines)
	e.Finish()

	require.Equal(t, 1, host.count("HITB"))
	require.Equal(t, 1, host.count("HITC"))

	rec := host.last("HITC")
	require.NotNil(t, rec)
	v, ok := rec.vars["TS"]
	require.True(t, ok)
	require.Equal(t, "ts-only", v.Scalar)
}

// TestEngine_CompareRules_SelectsLargestStopline exercises the winner
// selection directly against the query surface (bypassing candidate-creation
// ordering, which is incidental): among several previous instances whose
// startline is after the controller's own last startline, the one with
// the greatest stopline wins, and it is recorded in the controller's
// rules-created set so a second call cannot pick it again.
func TestEngine_CompareRules_SelectsLargestStopline(t *testing.T) {
	e := &Engine{
		previous: map[string]*types.PreviousInstance{
			"A": {RuleName: "A", StartLine: 10, StopLine: 20},
			"B": {RuleName: "B", StartLine: 11, StopLine: 30},
			"C": {RuleName: "C", StartLine: 12, StopLine: 25},
		},
	}
	controller := &types.RuleInstance{
		Rule:         &types.Rule{Name: "CONTROLLER"},
		RulesCreated: make(map[string]bool),
	}

	winner, ok := e.compareRulesFor(controller, []string{"A", "B", "C"})
	require.True(t, ok)
	require.Equal(t, "B", winner.RuleName)
	require.True(t, controller.RulesCreated["B"])

	// A second call excludes B (already armed by it) and must pick the
	// next-best remaining candidate.
	winner2, ok := e.compareRulesFor(controller, []string{"A", "B", "C"})
	require.True(t, ok)
	require.Equal(t, "C", winner2.RuleName)
}

// TestEngine_CompareRules_RespectsStartlineFloor covers the other half of
// compare_rules: a candidate whose startline is not strictly after the
// controller's own last-previous startline never wins, even if its
// stopline is largest.
func TestEngine_CompareRules_RespectsStartlineFloor(t *testing.T) {
	e := &Engine{
		previous: map[string]*types.PreviousInstance{
			"CONTROLLER": {RuleName: "CONTROLLER", StartLine: 50, StopLine: 55},
			"A":          {RuleName: "A", StartLine: 40, StopLine: 999}, // before the floor
			"B":          {RuleName: "B", StartLine: 60, StopLine: 61},
		},
	}
	controller := &types.RuleInstance{
		Rule:         &types.Rule{Name: "CONTROLLER"},
		RulesCreated: make(map[string]bool),
	}

	winner, ok := e.compareRulesFor(controller, []string{"A", "B"})
	require.True(t, ok)
	require.Equal(t, "B", winner.RuleName)
}

// TestEngine_ImportInstVars_CopiesVarsShallow covers the variable-table
// half of import_inst_vars: the controller receives a copy of the
// named rule's previous-instance variable table.
func TestEngine_ImportInstVars_CopiesVarsShallow(t *testing.T) {
	e := &Engine{
		previous: map[string]*types.PreviousInstance{
			"SRC": {RuleName: "SRC", Vars: map[string]*types.RuntimeValue{
				"TS":  {Scalar: "value"},
				"ARR": {IsArray: true, Array: []string{"x", "y"}},
			}},
		},
	}
	controller := &types.RuleInstance{
		Rule: &types.Rule{Name: "DST"},
		Vars: make(map[string]*types.RuntimeValue),
	}

	ok := e.importInstVarsFor(controller, "SRC")
	require.True(t, ok)
	require.Equal(t, "value", controller.Vars["TS"].Scalar)
	require.Equal(t, []string{"x", "y"}, controller.Vars["ARR"].Array)

	// Mutating the controller's copy must not affect the source snapshot.
	controller.Vars["ARR"].Array[0] = "mutated"
	require.Equal(t, "x", e.previous["SRC"].Vars["ARR"].Array[0])
}

// TestEngine_FastPath_RecordsPreviousInstance: a fast-mode
// direct-completion (no RuleInstance ever materializes) still
// snapshots a previous instance, so has_rule_ever_matched/compare_rules
// work against rules that always take the fast path.
func TestEngine_FastPath_RecordsPreviousInstance(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[fast]
BEGIN=^F $$TS(\S+)
ACTION.COMPLETE=HIT
`, host, Options{Fast: true})

	require.False(t, e.HasRuleEverMatched("fast"))
	e.ProcessLine("test.log", 1, "F value1")
	require.True(t, e.HasRuleEverMatched("fast"))

	prev, ok := e.GetLastRuleInst("fast")
	require.True(t, ok)
	require.Equal(t, "value1", prev.Vars["TS"].Scalar)
}

// TestEngine_EndOfStream_MissingAndIncomplete: a rule that
// never matched at all fires MISSING (and a default warning, absent a
// handler), and a live instance past its first PRE at EOF fires INCOMPLETE
// with no instance leaked.
func TestEngine_EndOfStream_MissingAndIncomplete(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[neverseen]
BEGIN=NEVER_APPEARS

[dangling]
BEGIN=^START
END=^FINISH
`, host, Options{})

	e.ProcessLine("test.log", 1, "START but no finish")
	e.Finish()

	require.Empty(t, host.errors)
	require.Len(t, e.live, 0, "no instance should remain live after Finish")
	require.Contains(t, strings.Join(e.Warnings(), "\n"), "never matched")
	require.Contains(t, strings.Join(e.Warnings(), "\n"), "incomplete")
}

// TestEngine_UnqueriedUserOpts: an option never read via GetUserOpt (directly
// or via LOGENGINE_GET_USER_OPT) is reported back to the caller to fail
// configuration validation with.
func TestEngine_UnqueriedUserOpts(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[r]
BEGIN=LOGENGINE_GET_USER_OPT_CHECK
ACTION.COMPLETE=LOGENGINE_GET_USER_OPT('used')
`, host, Options{
		UserOpts: map[string][]string{
			"USED":      {"1"},
			"UNQUERIED": {"2"},
		},
	})

	e.ProcessLine("test.log", 1, "LOGENGINE_GET_USER_OPT_CHECK")
	e.Finish()

	unq := e.UnqueriedUserOpts()
	require.Equal(t, []string{"UNQUERIED"}, unq)
}

// TestEngine_ProcessingComplete: a code clause calling
// LOGENGINE_PROCESSING_COMPLETE() sets Done(), which the run loop is
// expected to check after finishing the current line.
func TestEngine_ProcessingComplete(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[r]
BEGIN_CODE=LOGENGINE_PROCESSING_COMPLETE()
`, host, Options{Fast: true})

	require.False(t, e.Done())
	e.ProcessLine("test.log", 1, "anything")
	require.True(t, e.Done())
}

// TestEngine_ResetRuleInstancesFiresDestroy covers the cross-rule query
// surface's reset operation: every live instance of the named rule
// is destroyed, firing DESTROY for each.
func TestEngine_ResetRuleInstancesFiresDestroy(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[r]
BEGIN=^A
END=^Z
ACTION.DESTROY=DE
`, host, Options{})

	e.ProcessLine("test.log", 1, "A")
	require.Len(t, e.live, 1)

	e.ResetRuleInstances("r")
	require.Len(t, e.live, 0)
	require.Equal(t, 1, host.count("DE"))
}

// TestEngine_RegexCacheMemoizesWithinLine: two clauses
// (here, across two rules) sharing identical resolved regex text evaluate
// it once per line, not once per clause; exercised indirectly by
// confirming both rules still observe a correct match on the same line.
func TestEngine_RegexCacheMemoizesWithinLine(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[r1]
BEGIN=^SHARED$
ACTION.COMPLETE=HIT1

[r2]
BEGIN=^SHARED$
ACTION.COMPLETE=HIT2
`, host, Options{Fast: true})

	e.ProcessLine("test.log", 1, "SHARED")
	e.Finish()

	require.Equal(t, 1, host.count("HIT1"))
	require.Equal(t, 1, host.count("HIT2"))
}

// TestEngine_EnabledFalseRuleNeverFires covers the ENABLED=false path: a
// disabled rule is skipped entirely by candidate creation and is excluded
// from the end-of-stream MISSING sweep.
func TestEngine_EnabledFalseRuleNeverFires(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[off]
ENABLED=false
BEGIN=^ANYTHING
ACTION.COMPLETE=HIT
`, host, Options{Fast: true})

	e.ProcessLine("test.log", 1, "ANYTHING")
	e.Finish()

	require.Equal(t, 0, host.count("HIT"))
	require.NotContains(t, strings.Join(e.Warnings(), "\n"), "off")
}

func TestEngine_LineIDIncreasesMonotonically(t *testing.T) {
	host := newTestHost()
	e := buildEngine(t, `
[r]
BEGIN=^L$$N(\d+)
ACTION.COMPLETE=HIT
`, host, Options{Fast: true})

	for i := 1; i <= 5; i++ {
		e.ProcessLine("test.log", i, "L"+strconv.Itoa(i))
	}
	e.Finish()
	require.Equal(t, 5, host.count("HIT"))
	var starts []int64
	for _, c := range host.calls {
		if c.label == "HIT" {
			starts = append(starts, c.lineStart)
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, starts)
}
