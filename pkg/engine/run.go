package engine

import (
	"strconv"

	"github.com/praetorian-inc/logengine/pkg/actionhost"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// ProcessLine runs one line through the full per-line protocol: advance
// every live instance, then walk enabled rules for fresh candidates.
// Lines are processed strictly serially; the caller must not call
// ProcessLine again until this call returns.
func (e *Engine) ProcessLine(logfile string, lineNo int, text string) {
	e.lineID++
	line := &types.LineRecord{ID: e.lineID, LogFile: logfile, LineNo: lineNo, Text: text}

	for rule := range e.completedThisLine {
		delete(e.completedThisLine, rule)
	}

	e.advanceLine(line)
	e.createCandidates(line)
}

// Finish runs the end-of-stream protocol: every live instance
// that made it past its last PRE is reported INCOMPLETE, every rule that
// never completed is reported MISSING, and every TERMINATION_CODE entry
// runs once, in declared order. Errors from individual actions are
// reported through the host and never abort the remaining cleanup.
func (e *Engine) Finish() {
	line := &types.LineRecord{ID: e.lineID}

	remaining := append([]*types.RuleInstance(nil), e.live...)
	for _, inst := range remaining {
		if !e.isLive(inst) {
			continue
		}
		if inst.CurrentClause() == nil {
			// The instance satisfied its whole match-list on the final line
			// and was waiting for the next advance step to confirm; there
			// is no next line, so it completes here rather than being
			// reported incomplete.
			e.completeInstance(inst, line)
			continue
		}
		if !inst.AtPre() {
			e.fireAction(inst, types.ActionIncomplete, line)
			if !e.hasHandler(inst.Rule, types.ActionIncomplete) {
				e.warnings = append(e.warnings, "rule "+inst.Rule.Name+": incomplete at end of input (line "+strconv.FormatInt(inst.StartLine, 10)+")")
			}
		}
		e.destroyInstance(inst, types.ActionDestroy, line)
	}

	for _, rule := range e.program.Rules {
		if rule.Found || !rule.Enabled {
			continue
		}
		e.fireMissing(rule, line)
	}

	for _, c := range e.termination {
		binding := e.bindingFor(evalContext{line: line})
		if _, err := e.host.Invoke(c, binding); err != nil {
			e.host.Error("TERMINATION_CODE: " + err.Error())
		}
	}
}

// fireMissing invokes rule's MISSING handler (no instance ever existed for
// it, so there is no controller and no extracted variables) and records a
// default warning when the rule declared no handler.
func (e *Engine) fireMissing(rule *types.Rule, line *types.LineRecord) {
	c, ok := e.actions[rule][types.ActionMissing]
	if !ok {
		e.warnings = append(e.warnings, "rule "+rule.Name+": never matched")
		return
	}
	binding := &actionhost.Binding{
		Vars:    make(map[string]*types.RuntimeValue),
		Queries: e,
		Buffer:  e.buffer,
	}
	if _, err := e.host.Invoke(c, binding); err != nil {
		e.host.Error("rule " + rule.Name + ": ACTION.MISSING: " + err.Error())
	}
}

func (e *Engine) hasHandler(rule *types.Rule, kind types.ActionKind) bool {
	_, ok := e.actions[rule][kind]
	return ok
}
