package compiler

import (
	"fmt"
	"strings"

	"github.com/praetorian-inc/logengine/pkg/types"
)

// resolver expands one clause's raw text: macro/variable
// substitution, $$/@@ runtime-extract declaration, runtime-insert
// placeholders for references to unbound runtime variables, and open-paren
// ordinal tracking. One resolver is used per clause; parens and the
// extract/insert lists it accumulates belong to that clause alone, but it
// shares the owning rule's variable table so earlier clauses' declarations
// are visible to later ones.
type resolver struct {
	rule     *types.Rule
	macros   map[string]*types.Macro
	visiting map[string]bool

	parens   int
	inserts  []types.RuntimeInsert
	extracts []types.RuntimeExtract
}

func newResolver(rule *types.Rule, macros map[string]*types.Macro) *resolver {
	return &resolver{rule: rule, macros: macros, visiting: make(map[string]bool)}
}

// placeholderFor is the literal text substituted for a reference to a
// runtime (unbound) variable; the engine replaces it per-instance with the
// variable's live value before compiling the clause.
func placeholderFor(name string) string {
	return "\x00" + strings.ToUpper(name) + "\x00"
}

func isSpecial(b byte) bool {
	return b == '$' || b == '@' || b == '('
}

// isNamedGroup reports whether the "(?" starting at qmark is a named
// capturing group ((?<name>...) or (?P<name>...)) rather than a
// non-capturing or lookaround group ((?:...), (?=...), (?!...), (?<=...),
// (?<!...)).
func isNamedGroup(text string, qmark int) bool {
	rest := text[qmark+1:]
	if strings.HasPrefix(rest, "P<") {
		return true
	}
	if strings.HasPrefix(rest, "<") && !strings.HasPrefix(rest, "<=") && !strings.HasPrefix(rest, "<!") {
		return true
	}
	return false
}

func isNameChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// scanName parses a $NAME or ${NAME} reference starting just after the '$'.
func scanName(text string, start int) (name string, next int, err error) {
	if start < len(text) && text[start] == '{' {
		end := strings.IndexByte(text[start+1:], '}')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated ${...} reference")
		}
		return text[start+1 : start+1+end], start + 1 + end + 1, nil
	}
	end := start
	for end < len(text) && isNameChar(text[end]) {
		end++
	}
	if end == start {
		return "", 0, fmt.Errorf("expected a variable name after '$'")
	}
	return text[start:end], end, nil
}

// scanExtractName parses the NAME of a $$NAME(...) or @@NAME(...) runtime
// extract, starting just after the doubled sigil. It returns the index of
// the '(' that must follow, left unconsumed so the caller's normal paren
// handling opens the group.
func scanExtractName(text string, start int) (name string, parenIdx int, err error) {
	end := start
	for end < len(text) && isNameChar(text[end]) {
		end++
	}
	if end == start {
		return "", 0, fmt.Errorf("expected a variable name after '$$'/'@@'")
	}
	if end >= len(text) || text[end] != '(' {
		return "", 0, fmt.Errorf("expected '(' after %q", text[start:end])
	}
	return text[start:end], end, nil
}

// resolve expands raw clause text into its fully-resolved regex source,
// recording every runtime extract/insert discovered along the way. Calling
// resolve again on its own output is idempotent: there are
// no remaining unescaped $/@ references left to expand, and parens is
// threaded through recursive substitution so ordinals stay accurate even
// when a macro reference itself contains capturing groups.
func (r *resolver) resolve(text string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '\\':
			j := i
			for j < len(text) && text[j] == '\\' {
				j++
			}
			run := j - i
			out.WriteString(text[i:j])
			if j < len(text) && run%2 == 1 && isSpecial(text[j]) {
				out.WriteByte(text[j])
				i = j + 1
				continue
			}
			i = j

		case c == '$' && i == len(text)-1:
			// A single trailing '$' is the end-of-line anchor, not a
			// reference.
			out.WriteByte('$')
			i++

		case c == '$' && i+1 < len(text) && text[i+1] == '$':
			name, parenIdx, err := scanExtractName(text, i+2)
			if err != nil {
				return "", err
			}
			ordinal := r.parens + 1
			r.extracts = append(r.extracts, types.RuntimeExtract{VarName: name, Ordinal: ordinal, IsArray: false})
			r.declareRuntimeVar(name, false, ordinal)
			i = parenIdx

		case c == '@' && i+1 < len(text) && text[i+1] == '@':
			name, parenIdx, err := scanExtractName(text, i+2)
			if err != nil {
				return "", err
			}
			ordinal := r.parens + 1
			r.extracts = append(r.extracts, types.RuntimeExtract{VarName: name, Ordinal: ordinal, IsArray: true})
			r.declareRuntimeVar(name, true, ordinal)
			i = parenIdx

		case c == '$':
			name, next, err := scanName(text, i+1)
			if err != nil {
				return "", err
			}
			repl, placeholder, err := r.substitute(name)
			if err != nil {
				return "", err
			}
			if placeholder {
				r.inserts = append(r.inserts, types.RuntimeInsert{VarName: strings.ToUpper(name), Offset: out.Len(), Length: len(repl)})
			}
			out.WriteString(repl)
			i = next

		case c == '(':
			if i+1 < len(text) && text[i+1] == '?' && !isNamedGroup(text, i+1) {
				out.WriteByte('(')
				i++
			} else {
				r.parens++
				out.WriteByte('(')
				i++
			}

		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), nil
}

// substitute resolves one $NAME reference: a rule-local runtime variable
// becomes a placeholder (the value is unknown until match time), a
// rule-local compile-time variable or a global macro is expanded
// recursively so nested references resolve too.
func (r *resolver) substitute(name string) (text string, isPlaceholder bool, err error) {
	key := strings.ToUpper(name)

	if v, ok := r.rule.Vars[key]; ok {
		if v.IsRuntime {
			return placeholderFor(key), true, nil
		}
		resolved, err := r.expandNamed(key, v.Value)
		return resolved, false, err
	}

	if m, ok := r.macros[key]; ok {
		resolved, err := r.expandNamed(key, m.Text)
		return resolved, false, err
	}

	return "", false, fmt.Errorf("undefined macro or variable %q", name)
}

func (r *resolver) expandNamed(key, text string) (string, error) {
	if r.visiting[key] {
		return "", fmt.Errorf("circular reference to %q", key)
	}
	r.visiting[key] = true
	defer delete(r.visiting, key)
	return r.resolve(text)
}

// declareRuntimeVar registers (or fills in the ordinal of) the rule
// variable captured by a $$/@@ extract. A prior <RTVAR> forward-declaration
// is filled in rather than rejected as a collision; see DESIGN.md for
// why.
func (r *resolver) declareRuntimeVar(name string, isArray bool, ordinal int) {
	key := strings.ToUpper(name)
	v, ok := r.rule.Vars[key]
	if !ok {
		v = &types.RuleVariable{Name: name}
		r.rule.Vars[key] = v
	}
	v.IsRuntime = true
	v.IsArray = isArray
	v.Ordinal = ordinal
}
