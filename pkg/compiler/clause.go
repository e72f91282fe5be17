package compiler

import (
	"fmt"
	"strings"

	"github.com/praetorian-inc/logengine/pkg/types"
)

// lhsKind classifies a rule-section entry's left-hand side.
type lhsKind int

const (
	lhsVariable lhsKind = iota
	lhsClause
	lhsOptional
	lhsAction
	lhsEnabled
	lhsRuleTimeout
	lhsMatchTimeout
	lhsMatchNextLine
	lhsRegexOptions
	lhsInclude
)

type parsedLHS struct {
	kind       lhsKind
	clauseKind types.ClauseKind // valid when kind == lhsClause
	isAccum    bool
	isCode     bool
	actionKind types.ActionKind // valid when kind == lhsAction
}

// parseLHS classifies one entry's lvalue against the dialect's recognised
// left-hand-side keys. Anything unrecognised falls through to lhsVariable: the rule-script
// dialect declares variables simply by assigning them, with no keyword.
func parseLHS(lvalue string) (parsedLHS, error) {
	u := strings.ToUpper(strings.TrimSpace(lvalue))
	switch {
	case u == "ENABLED":
		return parsedLHS{kind: lhsEnabled}, nil
	case u == "RULE_TIMEOUT" || u == "TIMEOUT":
		return parsedLHS{kind: lhsRuleTimeout}, nil
	case u == "MATCH_TIMEOUT":
		return parsedLHS{kind: lhsMatchTimeout}, nil
	case u == "MATCH_NEXT_LINE":
		return parsedLHS{kind: lhsMatchNextLine}, nil
	case u == "REGEX_OPTIONS":
		return parsedLHS{kind: lhsRegexOptions}, nil
	case u == "INCLUDE":
		return parsedLHS{kind: lhsInclude}, nil
	case strings.HasPrefix(u, "ACTION."):
		kind := types.ActionKind(strings.TrimPrefix(u, "ACTION."))
		if !validActionKind(kind) {
			return parsedLHS{}, fmt.Errorf("unknown action kind %q", kind)
		}
		return parsedLHS{kind: lhsAction, actionKind: kind}, nil
	case strings.HasPrefix(u, "PRE"):
		return parseClauseLHS(u, "PRE", types.ClausePre)
	case strings.HasPrefix(u, "BEGIN"):
		return parseClauseLHS(u, "BEGIN", types.ClauseBegin)
	case strings.HasPrefix(u, "END"):
		return parseClauseLHS(u, "END", types.ClauseEnd)
	case strings.HasPrefix(u, "OPTIONAL"):
		return parseOptionalLHS(u)
	default:
		return parsedLHS{kind: lhsVariable}, nil
	}
}

func parseClauseLHS(u, prefix string, kind types.ClauseKind) (parsedLHS, error) {
	p := parsedLHS{kind: lhsClause, clauseKind: kind}
	for _, tok := range splitSuffix(strings.TrimPrefix(u, prefix)) {
		switch tok {
		case "MATCH":
		case "ACCUM":
			p.isAccum = true
		case "CODE":
			p.isCode = true
		default:
			return parsedLHS{}, fmt.Errorf("unrecognized clause variant %q", u)
		}
	}
	return p, nil
}

func parseOptionalLHS(u string) (parsedLHS, error) {
	for _, tok := range splitSuffix(strings.TrimPrefix(u, "OPTIONAL")) {
		switch tok {
		case "MATCH":
		case "CODE":
			return parsedLHS{}, fmt.Errorf("OPTIONAL_CODE is not permitted")
		default:
			return parsedLHS{}, fmt.Errorf("unrecognized OPTIONAL variant %q", u)
		}
	}
	return parsedLHS{kind: lhsOptional}, nil
}

// splitSuffix splits a "_MATCH_ACCUM" style suffix into its tokens.
func splitSuffix(rest string) []string {
	if rest == "" {
		return nil
	}
	var toks []string
	for _, p := range strings.Split(rest, "_") {
		if p != "" {
			toks = append(toks, p)
		}
	}
	return toks
}

func validActionKind(k types.ActionKind) bool {
	switch k {
	case types.ActionCreate, types.ActionComplete, types.ActionDestroy,
		types.ActionTimeout, types.ActionMatchTimeout, types.ActionMissing, types.ActionIncomplete:
		return true
	}
	return false
}
