// Package compiler implements the Rule Compiler: it classifies the
// sections produced by pkg/script, resolves every PRE/BEGIN/END/OPTIONAL
// clause's macro and variable references into final regex source, tracks
// capture-group ordinals for runtime extracts, and wires up each rule's
// action-kind handlers.
package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/praetorian-inc/logengine/pkg/script"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// DefaultRuleTimeout applies when RULE_TIMEOUT is unset or DEFAULT.
const DefaultRuleTimeout = 300 * time.Second

// CodeEntry is one SHARED_CODE or TERMINATION_CODE body. Name is
// the entry's lvalue: for SHARED_CODE it is the declared global's name; for
// TERMINATION_CODE it is whatever label the script author gave it.
type CodeEntry struct {
	Name   string
	Code   string
	Source types.Location
}

// Program is everything the Rule Compiler produces from a set of loaded
// scripts, ready for the regex cache and the matching runtime.
type Program struct {
	Macros          map[string]*types.Macro
	Rules           []*types.Rule
	SharedCode      []CodeEntry
	TerminationCode []CodeEntry
	Warnings        []string
}

// Compile classifies every loaded section and resolves every rule's
// clauses. It gathers as many script errors as possible rather than
// stopping at the first one: a non-empty error slice
// means the caller must abort with script-error status before the run loop
// starts. Warnings (an unreferenced-but-otherwise-valid rule dropped for
// lacking a BEGIN) do not abort the run.
func Compile(sections []*script.RawSection) (*Program, []error) {
	p := &Program{Macros: make(map[string]*types.Macro)}
	var errs []error

	var ruleSections []*script.RawSection
	ruleNames := make(map[string]bool)

	for _, sec := range sections {
		switch strings.ToUpper(sec.Name) {
		case "DEFINE_MACRO":
			for _, e := range sec.Entries {
				key := strings.ToUpper(e.LValue)
				if _, dup := p.Macros[key]; dup {
					errs = append(errs, scriptErr(e.Source, "", "", "duplicate macro %q", e.LValue))
					continue
				}
				p.Macros[key] = &types.Macro{Name: e.LValue, Text: e.RValue}
			}
		case "SHARED_CODE":
			for _, e := range sec.Entries {
				p.SharedCode = append(p.SharedCode, CodeEntry{Name: e.LValue, Code: e.RValue, Source: e.Source})
			}
		case "TERMINATION_CODE":
			for _, e := range sec.Entries {
				p.TerminationCode = append(p.TerminationCode, CodeEntry{Name: e.LValue, Code: e.RValue, Source: e.Source})
			}
		default:
			key := strings.ToUpper(sec.Name)
			if ruleNames[key] {
				errs = append(errs, scriptErr(sec.Source, sec.Name, "", "duplicate rule %q", sec.Name))
				continue
			}
			ruleNames[key] = true
			ruleSections = append(ruleSections, sec)
		}
	}

	for _, sec := range ruleSections {
		rule, ruleErrs, warnings := compileRule(sec, p.Macros)
		errs = append(errs, ruleErrs...)
		p.Warnings = append(p.Warnings, warnings...)
		if rule != nil {
			p.Rules = append(p.Rules, rule)
		}
	}

	return p, errs
}

func compileRule(sec *script.RawSection, macros map[string]*types.Macro) (*types.Rule, []error, []string) {
	rule := &types.Rule{
		Name:    sec.Name,
		Enabled: true,
		Vars:    make(map[string]*types.RuleVariable),
		Actions: make(map[types.ActionKind]string),
		Source:  sec.Source,
	}

	var errs []error
	var warnings []string
	regexOptions := ""
	var pendingMatchTimeout time.Duration
	havePendingMatchTimeout := false

	fail := func(loc types.Location, label, format string, args ...any) {
		errs = append(errs, scriptErr(loc, rule.Name, label, format, args...))
	}

	for _, e := range sec.Entries {
		lhs, err := parseLHS(e.LValue)
		if err != nil {
			fail(e.Source, "", "%s", err)
			continue
		}

		switch lhs.kind {
		case lhsEnabled:
			b, err := strconv.ParseBool(strings.TrimSpace(e.RValue))
			if err != nil {
				fail(e.Source, "", "invalid ENABLED value %q", e.RValue)
				continue
			}
			rule.Enabled = b

		case lhsRuleTimeout:
			d, err := parseTimeout(e.RValue, DefaultRuleTimeout)
			if err != nil {
				fail(e.Source, "", "invalid RULE_TIMEOUT value %q", e.RValue)
				continue
			}
			rule.RuleTimeout = d

		case lhsMatchTimeout:
			d, err := parseTimeout(e.RValue, 0)
			if err != nil {
				fail(e.Source, "", "invalid MATCH_TIMEOUT value %q", e.RValue)
				continue
			}
			pendingMatchTimeout, havePendingMatchTimeout = d, true

		case lhsMatchNextLine:
			b, err := strconv.ParseBool(strings.TrimSpace(e.RValue))
			if err != nil {
				fail(e.Source, "", "invalid MATCH_NEXT_LINE value %q", e.RValue)
				continue
			}
			if b {
				pendingMatchTimeout, havePendingMatchTimeout = time.Second, true
			} else {
				pendingMatchTimeout, havePendingMatchTimeout = 0, false
			}

		case lhsRegexOptions:
			regexOptions = e.RValue

		case lhsInclude:
			// Already expanded by the script loader; seeing one here means
			// it came from a nested section and is simply inert.

		case lhsAction:
			if _, dup := rule.Actions[lhs.actionKind]; dup {
				fail(e.Source, "", "duplicate ACTION.%s", lhs.actionKind)
				continue
			}
			rule.Actions[lhs.actionKind] = e.RValue

		case lhsVariable:
			if err := declareVar(rule, e.LValue, e.RValue); err != nil {
				fail(e.Source, "", "%s", err)
			}

		case lhsOptional:
			res := newResolver(rule, macros)
			text, err := res.resolve(e.RValue)
			if err != nil {
				fail(e.Source, clauseLabel("optional", len(rule.Optionals)), "%s", err)
				continue
			}
			rule.Optionals = append(rule.Optionals, &types.OptionalClause{
				RegexText:    text,
				RegexOptions: regexOptions,
				Extracts:     res.extracts,
				Source:       e.Source,
			})

		case lhsClause:
			res := newResolver(rule, macros)
			clause := &types.Clause{
				Kind:         lhs.clauseKind,
				IsAccum:      lhs.isAccum,
				IsCode:       lhs.isCode,
				RegexOptions: regexOptions,
				RawText:      e.RValue,
				Source:       e.Source,
			}
			if lhs.isCode {
				clause.Code = e.RValue
			} else {
				text, err := res.resolve(e.RValue)
				if err != nil {
					fail(e.Source, clauseLabel("clause", len(rule.MatchList)), "%s", err)
					continue
				}
				clause.ResolvedText = text
				clause.Inserts = res.inserts
				clause.Extracts = res.extracts
			}
			if havePendingMatchTimeout {
				clause.MatchTimeout = pendingMatchTimeout
				pendingMatchTimeout, havePendingMatchTimeout = 0, false
			}
			rule.MatchList = append(rule.MatchList, clause)
		}
	}

	if rule.RuleTimeout == 0 {
		rule.RuleTimeout = DefaultRuleTimeout
	}

	if err := checkAccumInvariant(rule); err != nil {
		fail(rule.Source, "", "%s", err)
	}

	if !rule.HasBegin() {
		warnings = append(warnings, fmt.Sprintf("%s: rule %q has no BEGIN clause, dropped", rule.Source, rule.Name))
		return nil, errs, warnings
	}

	return rule, errs, warnings
}

// checkAccumInvariant rejects an ACCUM clause appearing as the
// first PRE or the first BEGIN of a rule.
func checkAccumInvariant(rule *types.Rule) error {
	if len(rule.MatchList) == 0 {
		return nil
	}
	if rule.MatchList[0].Kind == types.ClausePre && rule.MatchList[0].IsAccum {
		return fmt.Errorf("first PRE clause cannot be ACCUM")
	}
	if idx := rule.FirstBeginIndex(); idx >= 0 && rule.MatchList[idx].IsAccum {
		return fmt.Errorf("first BEGIN clause cannot be ACCUM")
	}
	return nil
}

func declareVar(rule *types.Rule, lvalue, rvalue string) error {
	key := strings.ToUpper(strings.TrimSpace(lvalue))
	if _, dup := rule.Vars[key]; dup {
		return fmt.Errorf("variable %q already declared in this rule", lvalue)
	}
	if strings.EqualFold(strings.TrimSpace(rvalue), "<RTVAR>") {
		rule.Vars[key] = &types.RuleVariable{Name: lvalue, IsRuntime: true}
		return nil
	}
	rule.Vars[key] = &types.RuleVariable{Name: lvalue, Value: rvalue}
	return nil
}

func parseTimeout(raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if strings.EqualFold(v, "DEFAULT") {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("expected an integer seconds value or DEFAULT")
	}
	return time.Duration(n) * time.Second, nil
}

func scriptErr(loc types.Location, ruleName, clause, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case ruleName == "":
		return fmt.Errorf("E: %s: %s", loc, msg)
	case clause == "":
		return fmt.Errorf("E: %s: %s: %s", loc, ruleName, msg)
	default:
		return fmt.Errorf("E: %s: %s: %s: %s", loc, ruleName, clause, msg)
	}
}

func clauseLabel(kind string, idx int) string {
	return fmt.Sprintf("%s[%d]", kind, idx)
}
