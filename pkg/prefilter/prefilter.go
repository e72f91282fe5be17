// Package prefilter narrows, for each incoming line, the set of compiled
// rules whose candidate-creation walk is even worth running.
// It never decides a match itself: it only rules rules out.
package prefilter

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// minLiteralLen is the shortest literal run worth indexing; shorter runs
// match too much of ordinary text to narrow anything down.
const minLiteralLen = 3

// Prefilter uses Aho-Corasick for efficient keyword matching. The rule
// dialect has no author-declared keyword field, so the literal substrings
// come from the compiler's resolved text for each rule's PRE clauses and
// first BEGIN.
type Prefilter struct {
	matcher        *ahocorasick.Matcher
	literals       []string
	literalRules   map[string][]*types.Rule
	noLiteralRules []*types.Rule
}

// New builds a prefilter from compiled, enabled rules.
func New(rules []*types.Rule) *Prefilter {
	pf := &Prefilter{literalRules: make(map[string][]*types.Rule)}

	literalSet := make(map[string]bool)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		lits := candidateLiterals(rule)
		if len(lits) == 0 {
			pf.noLiteralRules = append(pf.noLiteralRules, rule)
			continue
		}
		for _, lit := range lits {
			if !literalSet[lit] {
				literalSet[lit] = true
				pf.literals = append(pf.literals, lit)
			}
			pf.literalRules[lit] = append(pf.literalRules[lit], rule)
		}
	}

	if len(pf.literals) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(pf.literals)
	}

	return pf
}

// Filter returns every rule worth attempting candidate-creation against
// line: those with a matched literal, plus those with no usable literal at
// all (always checked).
func (pf *Prefilter) Filter(line string) []*types.Rule {
	result := make([]*types.Rule, 0, len(pf.noLiteralRules))
	result = append(result, pf.noLiteralRules...)

	if pf.matcher == nil {
		return result
	}

	seen := make(map[*types.Rule]bool, len(result))
	for _, rule := range result {
		seen[rule] = true
	}

	hits := pf.matcher.Match([]byte(line))
	for _, hit := range hits {
		lit := pf.literals[hit]
		for _, rule := range pf.literalRules[lit] {
			if !seen[rule] {
				seen[rule] = true
				result = append(result, rule)
			}
		}
	}

	return result
}

// candidateLiterals collects every usable literal alternative per PRE
// clause and the first non-PRE (BEGIN) clause; the clauses
// candidate-creation actually evaluates. A clause with no
// extractable literal (a code clause, or a regex built entirely of
// metacharacters) makes the whole rule un-filterable: it falls through to
// noLiteralRules instead.
func candidateLiterals(rule *types.Rule) []string {
	begin := rule.FirstBeginIndex()
	var lits []string
	for i, clause := range rule.MatchList {
		if clause.Kind != types.ClausePre && i != begin {
			continue
		}
		clauseLits, ok := literalPrefix(clause)
		if !ok {
			return nil
		}
		lits = append(lits, clauseLits...)
	}
	return lits
}

// literalPrefix returns a trigger-literal set for a clause: literals such
// that any line the clause matches must contain at least one of them. A
// clause the extraction cannot cover (a code clause, a clause carrying a
// runtime-insert placeholder, a regex using the i or x option or an inline
// (?…) option group, or a regex whose required text is too short or too
// conditional) is un-filterable.
func literalPrefix(clause *types.Clause) ([]string, bool) {
	if clause.IsCode || len(clause.Inserts) > 0 || strings.ContainsAny(clause.RegexOptions, "ix") {
		return nil, false
	}
	text := clause.ResolvedText
	for i := 0; i+2 < len(text); i++ {
		if text[i] == '(' && text[i+1] == '?' && strings.IndexByte(":=!<", text[i+2]) < 0 {
			return nil, false
		}
	}
	lits := requiredLiterals(clause.ResolvedText)
	if len(lits) == 0 {
		return nil, false
	}
	return lits, true
}

// requiredLiterals derives the trigger set for one resolved regex. The
// extraction must never produce a literal the pattern could match
// without (a wrong "required" literal makes the prefilter drop rules
// that should have fired), so only two shapes are mined: unconditional
// top-level runs, and a leading all-literal alternation group.
func requiredLiterals(pattern string) []string {
	if lits := topLevelLiterals(pattern); len(lits) > 0 {
		return lits
	}
	return leadingAlternationLiterals(pattern)
}

// topLevelLiterals collects every maximal run of plain text the pattern
// requires unconditionally: outside groups and character classes, with the
// character preceding a '?', '*' or '{0,…}' quantifier trimmed off (it is
// optional). A top-level '|' voids everything; no run is unconditional
// once the whole pattern branches.
func topLevelLiterals(pattern string) []string {
	var runs []string
	var cur strings.Builder
	depth := 0

	flush := func() {
		if depth == 0 && cur.Len() >= minLiteralLen {
			runs = append(runs, cur.String())
		}
		cur.Reset()
	}
	dropLast := func() {
		if cur.Len() > 0 {
			s := cur.String()
			cur.Reset()
			cur.WriteString(s[:len(s)-1])
		}
	}

	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch {
		case c == '\\':
			flush()
			i += 2
		case c == '[':
			flush()
			i = skipBracketClass(pattern, i)
		case c == '{':
			if optionalRepeat(pattern, i) {
				dropLast()
			}
			flush()
			i = skipRepeatCount(pattern, i)
		case c == '?' || c == '*':
			dropLast()
			flush()
			i++
		case c == '|':
			if depth == 0 {
				return nil
			}
			flush()
			i++
		case c == '(':
			flush()
			depth++
			i++
		case c == ')':
			flush()
			depth--
			i++
		case isRegexMeta(c):
			flush()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return runs
}

// leadingAlternationLiterals handles the one branched shape worth
// indexing: a pattern beginning with a group of plain-literal alternatives
// ((AKIA|ASIA|…)rest). Every match must start with one of the branches, so
// the branch set is a valid trigger set; provided each branch is a bare
// literal and the group itself is not optional.
func leadingAlternationLiterals(pattern string) []string {
	pattern = strings.TrimPrefix(pattern, "^")
	if len(pattern) == 0 || pattern[0] != '(' {
		return nil
	}
	end := strings.IndexByte(pattern, ')')
	if end < 0 {
		return nil
	}
	if end+1 < len(pattern) {
		switch pattern[end+1] {
		case '?', '*':
			return nil
		case '{':
			if optionalRepeat(pattern, end+1) {
				return nil
			}
		}
	}
	var lits []string
	for _, branch := range strings.Split(pattern[1:end], "|") {
		if len(branch) < minLiteralLen || strings.ContainsAny(branch, `.*+?()[]{}|^$\`) {
			return nil
		}
		lits = append(lits, branch)
	}
	return lits
}

// optionalRepeat reports whether the repetition count starting at open
// (pointing at '{') has a zero minimum, making the repeated element
// optional.
func optionalRepeat(pattern string, open int) bool {
	return open+1 < len(pattern) && pattern[open+1] == '0'
}

func isRegexMeta(c byte) bool {
	return strings.IndexByte(`.*+?()[]{}|^$\`, c) >= 0
}

// skipRepeatCount returns the index just past the '}' closing the
// repetition count starting at open (which must point at '{'), or the end
// of the pattern when unclosed.
func skipRepeatCount(pattern string, open int) int {
	i := open + 1
	for i < len(pattern) && pattern[i] != '}' {
		i++
	}
	if i < len(pattern) {
		i++ // consume the closing '}'
	}
	return i
}

// skipBracketClass returns the index just past the `]` closing the bracket
// expression starting at open (which must point at '['), handling a
// leading `^` negation and a leading (possibly post-negation) `]` that is
// itself a literal member of the class rather than its close.
func skipBracketClass(pattern string, open int) int {
	i := open + 1
	if i < len(pattern) && pattern[i] == '^' {
		i++
	}
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for i < len(pattern) && pattern[i] != ']' {
		i++
	}
	if i < len(pattern) {
		i++ // consume the closing ']'
	}
	return i
}
