package engine

import (
	"fmt"

	"github.com/praetorian-inc/logengine/pkg/types"
)

// createCandidates is the second half of the per-line protocol: after
// every live instance has been advanced, each enabled rule not already completed on this
// line is tried for a fresh match starting at its first BEGIN. The
// Aho-Corasick prefilter narrows this to rules whose BEGIN/PRE literal
// could even appear on the line; rules it cannot characterize are always
// tried.
func (e *Engine) createCandidates(line *types.LineRecord) {
	var rules []*types.Rule
	if e.pf != nil {
		rules = e.pf.Filter(line.Text)
	} else {
		rules = e.program.Rules
	}

	for _, rule := range rules {
		if !rule.Enabled || e.completedThisLine[rule] {
			continue
		}
		if !rule.HasBegin() {
			continue
		}
		e.tryCreate(rule, line)
	}
}

// tryCreate attempts to start rule against line: the walk
// evaluates the rule's PRE prefix and first BEGIN, yielding either a real
// start (BEGIN matched) or a placeholder armed part-way through the PRE
// prefix. Either way, an existing PRE-armed instance of
// this rule is replaced in place rather than duplicated.
func (e *Engine) tryCreate(rule *types.Rule, line *types.LineRecord) {
	beginIdx := rule.FirstBeginIndex()
	begin := rule.MatchList[beginIdx]

	beginOK, beginVars, err := e.evalClause(begin, evalContext{line: line, rule: rule})
	if err != nil {
		e.host.Error(fmt.Sprintf("%s: rule %s: clause: %v", begin.Source, rule.Name, err))
		beginOK = false
	}

	if beginOK {
		if beginIdx > 0 && e.mergeInto(rule, beginIdx+1, beginVars, line, false) {
			return
		}
		e.createFresh(rule, beginIdx+1, beginVars, line, false)
		return
	}

	// No BEGIN match: walk the PRE prefix from the top; every matched PRE
	// is a precondition, and the furthest one reached arms (or re-arms) a
	// placeholder waiting there. The placeholder fires CREATE once; each
	// later PRE match replaces it in place, resetting its startline and
	// extract table to the newest match.
	armIdx := 0
	var armVars map[string]*types.RuntimeValue
	for armIdx < beginIdx {
		pre := rule.MatchList[armIdx]
		ok, vars, err := e.evalClause(pre, evalContext{line: line, rule: rule})
		if err != nil {
			e.host.Error(fmt.Sprintf("%s: rule %s: clause: %v", pre.Source, rule.Name, err))
			return
		}
		if !ok {
			break
		}
		if len(vars) > 0 {
			if armVars == nil {
				armVars = make(map[string]*types.RuntimeValue, len(vars))
			}
			mergeExtractInto(armVars, vars)
		}
		armIdx++
	}
	if armIdx == 0 {
		return
	}
	if e.mergeInto(rule, armIdx, armVars, line, true) {
		return
	}
	e.createFresh(rule, armIdx, armVars, line, true)
}

// mergeInto looks for a live PRE-armed instance of rule and, if found,
// resets it to nextIndex instead of creating a new one; candidates are
// replaced, never duplicated. It reports whether it found (and handled)
// a mergeable instance.
func (e *Engine) mergeInto(rule *types.Rule, nextIndex int, vars map[string]*types.RuntimeValue, line *types.LineRecord, awaitingPre bool) bool {
	for _, inst := range e.liveByRule[upper(rule.Name)] {
		if !inst.AwaitingPre {
			continue
		}
		inst.Reset(nextIndex, line.ID)
		inst.AwaitingPre = awaitingPre
		mergeExtractInto(inst.Vars, vars)
		inst.StopLine = line.ID
		e.afterCreate(inst, rule, line)
		return true
	}
	return false
}

// createFresh materializes a brand new RuleInstance positioned at
// startIndex.
func (e *Engine) createFresh(rule *types.Rule, startIndex int, vars map[string]*types.RuntimeValue, line *types.LineRecord, awaitingPre bool) {
	if e.fast && isSingleRequired(rule) && startIndex >= len(rule.MatchList) {
		// Fast path: a rule whose only non-PRE clause is the one that
		// was just matched completes immediately without ever
		// materializing an instance; no CREATE, no DESTROY, just
		// COMPLETE.
		rule.Found = true
		e.fireActionOnVars(rule, types.ActionComplete, vars, line)
		e.completedThisLine[rule] = true
		e.recordFastPrevious(rule, vars, line)
		return
	}

	inst := types.NewRuleInstance(rule, startIndex, line.ID, line.LogFile)
	inst.AwaitingPre = awaitingPre
	mergeExtractInto(inst.Vars, vars)
	e.afterCreate(inst, rule, line)
}

// afterCreate registers inst as live, fires CREATE, and, since a merged
// or freshly created instance can land with its index already past the
// end of the match-list (a single-clause rule with no PRE, or a merge that
// advances straight to the end), completes it immediately rather than
// waiting for the next line's advance step. A freshly created instance
// that simply reached its END this line must still wait for the next
// line's advance to confirm nothing more is expected (unless fast mode
// says otherwise), so only an instance that already existed before this
// call (a merge) completes unconditionally here.
func (e *Engine) afterCreate(inst *types.RuleInstance, rule *types.Rule, line *types.LineRecord) {
	wasNew := !e.isLive(inst)
	if wasNew {
		e.pushLive(inst)
		e.fireAction(inst, types.ActionCreate, line)
	}

	if inst.CurrentClause() != nil {
		return
	}

	if wasNew {
		if e.fast {
			e.completeInstance(inst, line)
		}
		return
	}

	// A merged instance already had a live presence (and therefore already
	// fired CREATE on a previous line): it completes now regardless of
	// fast mode, since there may be no next line to confirm against.
	e.completeInstance(inst, line)
}
