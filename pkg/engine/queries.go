package engine

import "github.com/praetorian-inc/logengine/pkg/types"

// GetUserOpt returns the `-user name=value` list for name, recording that
// it was queried.
func (e *Engine) GetUserOpt(name string) []string {
	e.queriedOpts[upper(name)] = true
	return e.userOpts[upper(name)]
}

// ResetRuleInstances destroys every live instance of the named rule,
// firing DESTROY for each.
func (e *Engine) ResetRuleInstances(name string) {
	key := upper(name)
	instances := append([]*types.RuleInstance(nil), e.liveByRuleKey(key)...)
	for _, inst := range instances {
		e.destroyInstance(inst, types.ActionDestroy, nil)
	}
}

// HasRuleEverMatched reports whether the named rule has a previous-instance
// record: one is kept for every destroyed instance, whatever ended it, and
// for every fast-path completion.
func (e *Engine) HasRuleEverMatched(name string) bool {
	_, ok := e.previous[upper(name)]
	return ok
}

// GetLastRuleInst returns the named rule's previous-instance snapshot.
func (e *Engine) GetLastRuleInst(name string) (*types.PreviousInstance, bool) {
	p, ok := e.previous[upper(name)]
	return p, ok
}

// CompareRules answers the LOGENGINE_COMPARE_RULES query: among the named rules'
// previous instances, find the one whose startline is strictly after the
// controller's own last previous startline (or any, if the controller has
// none), excluding any candidate that has already armed the controller
// this way. The candidate with the greatest stopline wins; it is recorded
// in the controller's rules-created set.
func (e *Engine) CompareRules(names []string) (*types.PreviousInstance, bool) {
	return e.compareRulesFor(e.controller, names)
}

func (e *Engine) compareRulesFor(controller *types.RuleInstance, names []string) (*types.PreviousInstance, bool) {
	if controller == nil {
		return nil, false
	}
	var controllerFloor int64 = -1
	if prev, ok := e.previous[upper(controller.Rule.Name)]; ok {
		controllerFloor = prev.StartLine
	}

	var winner *types.PreviousInstance
	for _, name := range names {
		cand, ok := e.previous[upper(name)]
		if !ok {
			continue
		}
		if controller.RulesCreated[upper(name)] {
			continue
		}
		if controllerFloor >= 0 && cand.StartLine <= controllerFloor {
			continue
		}
		if winner == nil || cand.StopLine > winner.StopLine {
			winner = cand
		}
	}
	if winner == nil {
		return nil, false
	}
	controller.RulesCreated[upper(winner.RuleName)] = true
	return winner, true
}

// ImportInstVars copies the named rule's previous instance's variable
// table into the controller's table (shallow copy; the snapshot is never
// aliased into the live list).
func (e *Engine) ImportInstVars(name string) bool {
	return e.importInstVarsFor(e.controller, name)
}

func (e *Engine) importInstVarsFor(controller *types.RuleInstance, name string) bool {
	if controller == nil {
		return false
	}
	prev, ok := e.previous[upper(name)]
	if !ok {
		return false
	}
	for k, v := range prev.Vars {
		cp := &types.RuntimeValue{IsArray: v.IsArray, Scalar: v.Scalar}
		cp.Array = append([]string(nil), v.Array...)
		controller.Vars[k] = cp
	}
	return true
}

// CompareRulesAndImport composes CompareRules and ImportInstVars: the
// winning rule's variables are imported into the controller.
func (e *Engine) CompareRulesAndImport(names []string) (*types.PreviousInstance, bool) {
	winner, ok := e.compareRulesFor(e.controller, names)
	if !ok {
		return nil, false
	}
	e.importInstVarsFor(e.controller, winner.RuleName)
	return winner, true
}

// ProcessingComplete requests that the run loop stop after the current
// line.
func (e *Engine) ProcessingComplete() {
	e.done = true
}

func (e *Engine) liveByRuleKey(key string) []*types.RuleInstance {
	return e.liveByRule[key]
}

func upper(s string) string {
	return normalizeUpper(s)
}
