package compiler

import (
	"gopkg.in/yaml.v3"

	"github.com/praetorian-inc/logengine/pkg/types"
)

// DumpClause is the -dump view of one compiled clause: the resolved
// regex text and runtime-insert/extract tables useful for debugging macro
// expansion.
type DumpClause struct {
	Kind         types.ClauseKind     `yaml:"kind"`
	IsAccum      bool                 `yaml:"accum,omitempty"`
	IsCode       bool                 `yaml:"code,omitempty"`
	RawText      string               `yaml:"raw"`
	ResolvedText string               `yaml:"resolved,omitempty"`
	Extracts     []types.RuntimeExtract `yaml:"extracts,omitempty"`
	Inserts      []types.RuntimeInsert  `yaml:"inserts,omitempty"`
	MatchTimeout string               `yaml:"match_timeout,omitempty"`
}

// DumpRule is the -dump view of one compiled rule.
type DumpRule struct {
	Name        string       `yaml:"name"`
	Enabled     bool         `yaml:"enabled"`
	RuleTimeout string       `yaml:"rule_timeout"`
	MatchList   []DumpClause `yaml:"match_list"`
	Optionals   []string     `yaml:"optionals,omitempty"`
	Vars        []string     `yaml:"vars,omitempty"`
	Actions     []string     `yaml:"actions,omitempty"`
}

// DumpView is the full -dump serialization of a compiled Program: one
// entry per rule plus the macro table, ready for `gopkg.in/yaml.v3`
// marshaling.
type DumpView struct {
	Macros []string   `yaml:"macros,omitempty"`
	Rules  []DumpRule `yaml:"rules"`
}

// Dump builds the -dump view of p.
func Dump(p *Program) DumpView {
	view := DumpView{}
	for name := range p.Macros {
		view.Macros = append(view.Macros, name)
	}
	for _, rule := range p.Rules {
		view.Rules = append(view.Rules, dumpRule(rule))
	}
	return view
}

func dumpRule(rule *types.Rule) DumpRule {
	dr := DumpRule{
		Name:        rule.Name,
		Enabled:     rule.Enabled,
		RuleTimeout: rule.RuleTimeout.String(),
	}
	for _, c := range rule.MatchList {
		dc := DumpClause{
			Kind:         c.Kind,
			IsAccum:      c.IsAccum,
			IsCode:       c.IsCode,
			RawText:      c.RawText,
			ResolvedText: c.ResolvedText,
			Extracts:     c.Extracts,
			Inserts:      c.Inserts,
		}
		if c.MatchTimeout > 0 {
			dc.MatchTimeout = c.MatchTimeout.String()
		}
		dr.MatchList = append(dr.MatchList, dc)
	}
	for _, o := range rule.Optionals {
		dr.Optionals = append(dr.Optionals, o.RegexText)
	}
	for name, v := range rule.Vars {
		kind := "compile-time"
		if v.IsRuntime {
			kind = "runtime"
		}
		dr.Vars = append(dr.Vars, name+" ("+kind+")")
	}
	for kind := range rule.Actions {
		dr.Actions = append(dr.Actions, string(kind))
	}
	return dr
}

// ToYAML marshals a Program's -dump view to YAML text.
func ToYAML(p *Program) ([]byte, error) {
	return yaml.Marshal(Dump(p))
}
