package engine

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/praetorian-inc/logengine/pkg/actionhost"
	"github.com/praetorian-inc/logengine/pkg/regexcache"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// evalContext bundles everything clause evaluation needs about the current
// line and (when evaluating against a live instance) its variable table.
type evalContext struct {
	line *types.LineRecord
	inst *types.RuleInstance // nil during candidate-creation probes (PRE and BEGIN)
	rule *types.Rule         // owning rule; always set, even when inst is nil
}

// evalClause runs one clause against ctx.line, returning whether it
// matched and the runtime variables it extracted (keyed upper-case, ready
// to merge into an instance's Vars table). A regular clause's captures come
// from its matched capture groups. A code clause extracts nothing from the
// line itself, but its boolean result comes from the compiled action-host
// Callable, and any variables it bound via LOGENGINE_IMPORT_INST_VARS /
// LOGENGINE_COMPARE_RULES_AND_IMPORT during a candidate-creation
// probe (ctx.inst == nil, no instance exists yet) are returned so the
// caller can merge them into whatever instance this match ultimately
// produces.
func (e *Engine) evalClause(clause *types.Clause, ctx evalContext) (bool, map[string]*types.RuntimeValue, error) {
	if clause.IsCode {
		return e.evalCodeClause(clause, ctx)
	}

	m, err := e.evalRegexClause(clause, ctx)
	if err != nil {
		return false, nil, err
	}
	if m == nil {
		return false, nil, nil
	}
	return true, extractVars(clause.Extracts, m), nil
}

// evalOptional runs an OPTIONAL clause against line: optionals
// carry no code variant, so this is always a regex evaluation. A
// match extracts the clause's variables the same way a required clause
// does; the caller merges them without advancing the instance's index.
func (e *Engine) evalOptional(opt *types.OptionalClause, line *types.LineRecord) (bool, map[string]*types.RuntimeValue, error) {
	entry, ok := e.cache.Get(opt.CacheKey)
	if !ok {
		return false, nil, fmt.Errorf("optional clause %s has no cache entry", opt.Source)
	}
	m, err := entry.Eval(line.ID, line.Text)
	if err != nil {
		return false, nil, err
	}
	if m == nil {
		return false, nil, nil
	}
	return true, extractVars(opt.Extracts, m), nil
}

// evalCodeClause invokes a *_CODE clause's compiled predicate. It sets
// e.controller for the duration of the call so LOGENGINE_COMPARE_RULES /
// LOGENGINE_IMPORT_INST_VARS / LOGENGINE_COMPARE_RULES_AND_IMPORT
// resolve against the right instance; whether that's a real live instance
// (mid-match *_CODE clauses) or a transient, not-yet-live one standing in
// for a candidate that hasn't matched yet (a PRE_CODE/BEGIN_CODE probe
// during candidate creation). A transient controller's
// bound variables are returned so the caller can fold them into whichever
// instance this probe ultimately produces; a real controller's variables
// are already live in its own Vars table, so nothing further is returned.
func (e *Engine) evalCodeClause(clause *types.Clause, ctx evalContext) (bool, map[string]*types.RuntimeValue, error) {
	c, ok := e.codeOf[clause]
	if !ok {
		// Compile failed for this clause at New() time; treated as a
		// permanently non-matching predicate.
		return false, nil, nil
	}

	controllerInst := ctx.inst
	transient := controllerInst == nil
	if transient {
		controllerInst = types.NewRuleInstance(ctx.rule, 0, ctx.line.ID, ctx.line.LogFile)
	}

	binding := e.bindingFor(evalContext{line: ctx.line, inst: controllerInst})

	prevController := e.controller
	e.controller = controllerInst
	res, err := e.host.Invoke(c, binding)
	e.controller = prevController

	if err != nil {
		e.host.Error(fmt.Sprintf("%s: code clause: %v", clause.Source, err))
		return false, nil, nil
	}
	if !res.Bool {
		return false, nil, nil
	}
	if transient {
		return true, controllerInst.Vars, nil
	}
	return true, nil, nil
}

func (e *Engine) evalRegexClause(clause *types.Clause, ctx evalContext) (*regexp2.Match, error) {
	if len(clause.Inserts) == 0 {
		// The cache's line prefilter only knows registered (insert-free) regexes.
		if !e.cache.MaybeMatches(ctx.line.Text) {
			return nil, nil
		}
		entry, ok := e.cache.Get(clause.CacheKey)
		if !ok {
			return nil, fmt.Errorf("%s: clause has no cache entry", clause.Source)
		}
		return entry.Eval(ctx.line.ID, ctx.line.Text)
	}

	// A clause carrying runtime-inserts has its final text known only
	// per-instance: substitute the live variable values for every
	// placeholder, then compile ad hoc. Never memoized; two instances of
	// the same rule can carry different live values for the same clause.
	text := substituteInserts(clause, ctx.inst)
	re, err := regexcache.CompileAdHoc(text, clause.RegexOptions)
	if err != nil {
		return nil, fmt.Errorf("%s: compiling runtime-insert clause: %w", clause.Source, err)
	}
	return re.FindStringMatch(ctx.line.Text)
}

// substituteInserts replaces every runtime-insert placeholder in a
// clause's resolved text with the live value of the instance variable it
// names. A variable with no bound value yet substitutes the
// empty string.
func substituteInserts(clause *types.Clause, inst *types.RuleInstance) string {
	text := clause.ResolvedText
	if inst == nil {
		return text
	}
	// Replace from the end so earlier offsets stay valid as lengths change.
	for i := len(clause.Inserts) - 1; i >= 0; i-- {
		ins := clause.Inserts[i]
		val := ""
		if v, ok := inst.Vars[strings.ToUpper(ins.VarName)]; ok {
			val = v.Scalar
		}
		if ins.Offset < 0 || ins.Offset+ins.Length > len(text) {
			continue
		}
		text = text[:ins.Offset] + escapeLiteral(val) + text[ins.Offset+ins.Length:]
	}
	return text
}

// escapeLiteral quotes every regex metacharacter in s so a live variable
// value substituted into a runtime-insert placeholder is matched
// literally, never interpreted as pattern syntax.
func escapeLiteral(s string) string {
	const special = `\.+*?()|[]{}^$`
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// extractVars turns a regex match's capture groups into a fresh runtime
// variable table per the clause's recorded extracts:
// scalar ($$) extracts hold the group text, array (@@) extracts are
// single-element sequences ready to be appended into an instance's table.
func extractVars(extracts []types.RuntimeExtract, m *regexp2.Match) map[string]*types.RuntimeValue {
	if len(extracts) == 0 {
		return nil
	}
	out := make(map[string]*types.RuntimeValue, len(extracts))
	groups := m.Groups()
	for _, ex := range extracts {
		var text string
		if ex.Ordinal < len(groups) {
			g := groups[ex.Ordinal]
			if g.Length > 0 || len(g.Captures) > 0 {
				text = g.String()
			}
		}
		key := strings.ToUpper(ex.VarName)
		rv := &types.RuntimeValue{}
		if ex.IsArray {
			rv.Append(text)
		} else {
			rv.Set(text)
		}
		out[key] = rv
	}
	return out
}

// mergeExtractInto folds a freshly-extracted variable set into an
// instance's table: scalars overwrite, arrays append.
func mergeExtractInto(dst map[string]*types.RuntimeValue, fresh map[string]*types.RuntimeValue) {
	for k, v := range fresh {
		if v.IsArray {
			cur, ok := dst[k]
			if !ok {
				cur = &types.RuntimeValue{IsArray: true}
				dst[k] = cur
			}
			if len(v.Array) > 0 {
				cur.Append(v.Array[0])
			}
			continue
		}
		dst[k] = v
	}
}

func (e *Engine) bindingFor(ctx evalContext) *actionhost.Binding {
	b := &actionhost.Binding{
		Queries: e,
		Buffer:  e.buffer,
	}
	if ctx.line != nil {
		b.LineLastRead = ctx.line.Text
	}
	if ctx.inst != nil {
		b.Vars = ctx.inst.Vars
		b.LineNumberStart = ctx.inst.StartLine
		b.LineNumberStop = ctx.inst.StopLine
		b.LineNumberRange = ctx.inst.StopLine - ctx.inst.StartLine + 1
	} else if ctx.line != nil {
		b.Vars = make(map[string]*types.RuntimeValue)
		b.LineNumberStart = ctx.line.ID
		b.LineNumberStop = ctx.line.ID
		b.LineNumberRange = 1
	}
	return b
}
