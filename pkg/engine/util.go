package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/praetorian-inc/logengine/pkg/actionhost"
	"github.com/praetorian-inc/logengine/pkg/eventlog"
	"github.com/praetorian-inc/logengine/pkg/types"
)

func normalizeUpper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// isSingleRequired reports whether rule's match-list has exactly one
// non-PRE clause, the condition under which the single-match fast path
// applies.
func isSingleRequired(rule *types.Rule) bool {
	count := 0
	for _, c := range rule.MatchList {
		if c.Kind != types.ClausePre {
			count++
		}
	}
	return count == 1
}

// pushLive registers a newly created instance in both indexes: the global
// creation-ordered list and the per-rule-name index.
func (e *Engine) pushLive(inst *types.RuleInstance) {
	e.live = append(e.live, inst)
	key := upper(inst.Rule.Name)
	e.liveByRule[key] = append(e.liveByRule[key], inst)
}

// removeLive drops inst from both indexes.
func (e *Engine) removeLive(inst *types.RuleInstance) {
	e.live = removeInstance(e.live, inst)
	key := upper(inst.Rule.Name)
	e.liveByRule[key] = removeInstance(e.liveByRule[key], inst)
}

func removeInstance(list []*types.RuleInstance, target *types.RuleInstance) []*types.RuleInstance {
	for i, ri := range list {
		if ri == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// fireAction invokes rule's handler for kind against inst, if one was
// compiled. Runtime errors during action execution are reported but never
// propagate.
func (e *Engine) fireAction(inst *types.RuleInstance, kind types.ActionKind, line *types.LineRecord) {
	rule := inst.Rule
	e.log.Log("rule %s: %s (line %d)", rule.Name, kind, inst.StartLine)
	e.recordEvent(rule.Name, kind, line)
	c, ok := e.actions[rule][kind]
	if !ok {
		return
	}
	prevController := e.controller
	e.controller = inst
	defer func() { e.controller = prevController }()

	binding := e.bindingFor(evalContext{line: line, inst: inst})
	if _, err := e.host.Invoke(c, binding); err != nil {
		e.host.Error(fmt.Sprintf("rule %s: ACTION.%s: %v", rule.Name, kind, err))
	}
}

// fireActionOnVars is used by the fast-path direct-complete case, where
// no RuleInstance is ever materialized: the action body
// still needs a binding with the extracted variables and ambient line
// fields, but there is no instance to set as controller.
func (e *Engine) fireActionOnVars(rule *types.Rule, kind types.ActionKind, vars map[string]*types.RuntimeValue, line *types.LineRecord) {
	c, ok := e.actions[rule][kind]
	if !ok {
		return
	}
	binding := &actionhost.Binding{
		Vars:            vars,
		LineNumberStart: line.ID,
		LineNumberStop:  line.ID,
		LineNumberRange: 1,
		LineLastRead:    line.Text,
		Queries:         e,
		Buffer:          e.buffer,
	}
	if binding.Vars == nil {
		binding.Vars = make(map[string]*types.RuntimeValue)
	}
	if _, err := e.host.Invoke(c, binding); err != nil {
		e.host.Error(fmt.Sprintf("rule %s: ACTION.%s: %v", rule.Name, kind, err))
	}
}

// destroyInstance removes inst from the live set, records its snapshot as
// the rule's previous instance, and fires DESTROY: every terminal state
// destroys, and every destruction leaves a previous-instance record.
func (e *Engine) destroyInstance(inst *types.RuleInstance, reason types.ActionKind, line *types.LineRecord) {
	e.removeLive(inst)
	e.previous[upper(inst.Rule.Name)] = inst.Snapshot()
	e.fireAction(inst, types.ActionDestroy, line)
}

// recordFastPrevious snapshots a fast-path direct-completion as rule's
// previous instance, even though the fast path never materializes a live
// RuleInstance to snapshot from. Without this, a rule that always
// completes via the fast path could never be the subject of
// compare_rules/import_inst_vars/has_rule_ever_matched; eliding
// CREATE/DESTROY is no reason to also elide the previous-instance record.
func (e *Engine) recordFastPrevious(rule *types.Rule, vars map[string]*types.RuntimeValue, line *types.LineRecord) {
	snapshotVars := make(map[string]*types.RuntimeValue, len(vars))
	for k, v := range vars {
		cp := &types.RuntimeValue{IsArray: v.IsArray, Scalar: v.Scalar}
		cp.Array = append([]string(nil), v.Array...)
		snapshotVars[k] = cp
	}
	e.previous[upper(rule.Name)] = &types.PreviousInstance{
		RuleName:     rule.Name,
		StartLine:    line.ID,
		StopLine:     line.ID,
		Vars:         snapshotVars,
		RulesCreated: make(map[string]bool),
	}
}

// recordEvent appends a lifecycle event to the optional eventlog.Store.
// A nil store (the default) makes this a no-op.
func (e *Engine) recordEvent(ruleName string, kind types.ActionKind, line *types.LineRecord) {
	if e.events == nil {
		return
	}
	var lineID int64
	var logFile string
	if line != nil {
		lineID = line.ID
		logFile = line.LogFile
	}
	ev := eventlog.Event{
		RuleName:  ruleName,
		Kind:      string(kind),
		LineID:    lineID,
		LogFile:   logFile,
		Timestamp: time.Now(),
	}
	if err := e.events.AddEvent(ev); err != nil {
		e.host.Error(fmt.Sprintf("eventlog: recording %s event for rule %s: %v", kind, ruleName, err))
	}
}
