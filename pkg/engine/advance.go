package engine

import (
	"encoding/json"
	"fmt"

	"github.com/praetorian-inc/logengine/pkg/eventlog"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// advanceLine is the first half of the per-line protocol: every live
// instance, in creation order, is advanced against the current line
// before any new candidate is considered. The slice is copied up front since firing DESTROY (directly,
// or via a LOGENGINE_RESET_RULE_INSTANCES call from within an action) may
// mutate e.live while this loop is running.
func (e *Engine) advanceLine(line *types.LineRecord) {
	insts := append([]*types.RuleInstance(nil), e.live...)
	for _, inst := range insts {
		if !e.isLive(inst) {
			continue
		}
		if inst.AwaitingPre {
			// A PRE-armed placeholder has matched nothing required yet; it
			// is owned by step 3's creation walk, which replaces it in
			// place on the next PRE or BEGIN match of its rule. Advancing
			// it here would let its BEGIN complete with a stale startline
			// before the replacement happens.
			continue
		}
		e.advanceInstance(inst, line)
	}
}

func (e *Engine) isLive(inst *types.RuleInstance) bool {
	for _, ri := range e.live {
		if ri == inst {
			return true
		}
	}
	return false
}

// advanceInstance runs one live instance's current clause (and, for an
// ACCUM clause that just failed, cascades into the clause that follows it)
// against line, then applies the clause-level and rule-level timeout
// checks.
func (e *Engine) advanceInstance(inst *types.RuleInstance, line *types.LineRecord) {
	rule := inst.Rule
	matched := false

	for {
		m := inst.CurrentClause()
		if m == nil {
			break
		}
		ok, vars, err := e.evalClause(m, evalContext{line: line, inst: inst, rule: rule})
		if err != nil {
			e.host.Error(fmt.Sprintf("%s: rule %s: clause: %v", m.Source, rule.Name, err))
			ok = false
		}
		if ok {
			mergeExtractInto(inst.Vars, vars)
			inst.LastMatchLine = line.ID
			inst.StopLine = line.ID
			matched = true
			if m.IsAccum && !m.IsCode {
				// ACCUM clauses hold position on a match; a code clause
				// combined with ACCUM always advances.
				break
			}
			inst.Index++
			break
		}
		if m.IsAccum {
			// An ACCUM clause that fails to match advances past itself and
			// the newly-current clause is tried against this same line;
			// this is how an ACCUM immediately followed by its terminating
			// clause can still complete on the line that ends the run.
			inst.Index++
			continue
		}
		break
	}

	if inst.CurrentClause() == nil {
		e.completeInstance(inst, line)
		return
	}

	cur := inst.CurrentClause()
	if mt := matchTimeoutLines(cur); mt > 0 && line.ID-inst.LastMatchLine >= mt {
		e.fireAction(inst, types.ActionMatchTimeout, line)
		e.destroyInstance(inst, types.ActionMatchTimeout, line)
		return
	}

	if !matched && cur.Kind == types.ClauseEnd {
		for _, opt := range rule.Optionals {
			ok, vars, err := e.evalOptional(opt, line)
			if err != nil {
				e.host.Error(fmt.Sprintf("%s: rule %s: optional: %v", opt.Source, rule.Name, err))
				continue
			}
			if ok {
				mergeExtractInto(inst.Vars, vars)
				inst.LastMatchLine = line.ID
				break
			}
		}
	}

	if rt := ruleTimeoutLines(rule); rt > 0 && line.ID-inst.LastMatchLine >= rt {
		e.fireAction(inst, types.ActionTimeout, line)
		if prev := inst.PreviousClause(); prev == nil || prev.Kind != types.ClausePre {
			e.fireAction(inst, types.ActionIncomplete, line)
		}
		e.destroyInstance(inst, types.ActionTimeout, line)
	}
}

// completeInstance fires COMPLETE, marks the rule found, and destroys the
// instance. It also marks the rule as having completed on this line so
// the creation walk does not re-discover and re-fire the same fused
// match.
func (e *Engine) completeInstance(inst *types.RuleInstance, line *types.LineRecord) {
	inst.Rule.Found = true
	e.recordCompletion(inst)
	e.fireAction(inst, types.ActionComplete, line)
	e.destroyInstance(inst, types.ActionComplete, line)
	e.completedThisLine[inst.Rule] = true
}

// recordCompletion persists a completed instance's final variable table
// to the optional eventlog.Store. A nil store is a no-op.
func (e *Engine) recordCompletion(inst *types.RuleInstance) {
	if e.events == nil {
		return
	}
	scalars := make(map[string]interface{}, len(inst.Vars))
	for k, v := range inst.Vars {
		if v.IsArray {
			scalars[k] = v.Array
		} else {
			scalars[k] = v.Scalar
		}
	}
	raw, err := json.Marshal(scalars)
	if err != nil {
		e.host.Error(fmt.Sprintf("eventlog: serializing vars for rule %s: %v", inst.Rule.Name, err))
		return
	}
	c := eventlog.Completion{
		RuleName:  inst.Rule.Name,
		StartLine: inst.StartLine,
		StopLine:  inst.StopLine,
		VarsJSON:  string(raw),
	}
	if err := e.events.AddCompletion(c); err != nil {
		e.host.Error(fmt.Sprintf("eventlog: recording completion for rule %s: %v", inst.Rule.Name, err))
	}
}
