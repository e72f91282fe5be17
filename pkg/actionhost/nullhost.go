package actionhost

import (
	"fmt"
	"strings"
)

// NullHost is the reference Host implementation: a tiny, dependency-free
// default that understands exactly the builtin call
// surface the engine promises user code (the LOGENGINE_* queries and
// the WRITE_*/XLAT_AR_TO_STRING buffer helpers) and nothing else. A real deployment compiling an
// embedded scripting language plugs in its own Host; NullHost exists so
// the engine, cmd/logengine, and this package's own tests have something
// concrete to drive without depending on an external evaluator.
type NullHost struct {
	errors []string
}

// NewNullHost creates a NullHost with an empty error log.
func NewNullHost() *NullHost {
	return &NullHost{}
}

// Errors returns every message passed to Error, in order.
func (h *NullHost) Errors() []string {
	return h.errors
}

// call is a compiled NAME(arg, arg, ...) builtin invocation.
type call struct {
	name string
	args []string
}

// Compile parses source as a single builtin call. Blank source compiles to
// a no-op (useful for ENABLED-only rules with unused action slots). A
// source string NullHost does not recognize is a compile error:
// Compile returns an error and a nil Callable, and the caller must
// disable that action/clause rather than fail the run.
func (h *NullHost) Compile(source string) (Callable, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return call{}, nil
	}
	name, args, ok := parseCall(src)
	if !ok {
		return nil, fmt.Errorf("NullHost: cannot compile %q: not a recognized builtin call", source)
	}
	if !isKnownBuiltin(name) {
		return nil, fmt.Errorf("NullHost: unknown builtin %q", name)
	}
	return call{name: name, args: args}, nil
}

// Invoke dispatches a compiled call against binding's query surface and
// buffer. Builtins that only produce side effects return Result{} (the
// zero value, Bool false); code clauses rely on the predicate builtins
// (HAS_RULE_EVER_MATCHED, COMPARE_RULES[_AND_IMPORT]) returning a
// meaningful Bool.
func (h *NullHost) Invoke(c Callable, b *Binding) (Result, error) {
	cl, ok := c.(call)
	if !ok {
		return Result{}, fmt.Errorf("NullHost: invalid callable %T", c)
	}
	if cl.name == "" {
		return Result{}, nil
	}

	switch cl.name {
	case "LOGENGINE_GET_USER_OPT":
		vals := b.Queries.GetUserOpt(arg(cl.args, 0))
		return Result{Bool: len(vals) > 0}, nil

	case "LOGENGINE_RESET_RULE_INSTANCES":
		b.Queries.ResetRuleInstances(arg(cl.args, 0))
		return Result{}, nil

	case "LOGENGINE_HAS_RULE_EVER_MATCHED":
		return Result{Bool: b.Queries.HasRuleEverMatched(arg(cl.args, 0))}, nil

	case "LOGENGINE_GET_LAST_RULE_INST":
		_, ok := b.Queries.GetLastRuleInst(arg(cl.args, 0))
		return Result{Bool: ok}, nil

	case "LOGENGINE_COMPARE_RULES":
		_, ok := b.Queries.CompareRules(cl.args)
		return Result{Bool: ok}, nil

	case "LOGENGINE_IMPORT_INST_VARS":
		return Result{Bool: b.Queries.ImportInstVars(arg(cl.args, 0))}, nil

	case "LOGENGINE_COMPARE_RULES_AND_IMPORT":
		_, ok := b.Queries.CompareRulesAndImport(cl.args)
		return Result{Bool: ok}, nil

	case "LOGENGINE_PROCESSING_COMPLETE":
		b.Queries.ProcessingComplete()
		return Result{Bool: true}, nil

	case "WRITE_TO_BUFFER":
		b.Buffer.Write(arg(cl.args, 0), arg(cl.args, 1))
		return Result{}, nil

	case "CLEAR_BUFFER":
		b.Buffer.Clear(arg(cl.args, 0))
		return Result{}, nil

	case "WRITE_BUFFER_TO_STDOUT", "WRITE_BUFFER_TO_FILES":
		// NullHost has no writer set of its own to flush to; a caller
		// wanting actual output wires a Host that captures these builtins
		// against its own io.Writer set (see cmd/logengine).
		return Result{}, nil

	case "WRITE_LIST_TO_FILES", "WRITE_LIST_TO_STDOUT":
		return Result{}, nil

	case "XLAT_AR_TO_STRING":
		v := b.Var(arg(cl.args, 0))
		sep := arg(cl.args, 1)
		if sep == "" {
			sep = ","
		}
		if v == nil {
			return Result{}, nil
		}
		_ = XlatArToString(v.Array, sep)
		return Result{}, nil

	default:
		return Result{}, fmt.Errorf("NullHost: unhandled builtin %q", cl.name)
	}
}

// DeclareGlobal is a no-op for NullHost: SHARED_CODE/TERMINATION_CODE
// bodies that are themselves builtin calls work the same way actions do,
// but NullHost has no global variable namespace to install an initializer
// into.
func (h *NullHost) DeclareGlobal(name, initializer string) error {
	return nil
}

// Error records message for later inspection via Errors.
func (h *NullHost) Error(message string) {
	h.errors = append(h.errors, message)
}

func arg(args []string, i int) string {
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

func isKnownBuiltin(name string) bool {
	switch name {
	case "LOGENGINE_GET_USER_OPT", "LOGENGINE_RESET_RULE_INSTANCES",
		"LOGENGINE_HAS_RULE_EVER_MATCHED", "LOGENGINE_GET_LAST_RULE_INST",
		"LOGENGINE_COMPARE_RULES", "LOGENGINE_IMPORT_INST_VARS",
		"LOGENGINE_COMPARE_RULES_AND_IMPORT", "LOGENGINE_PROCESSING_COMPLETE",
		"WRITE_TO_BUFFER", "CLEAR_BUFFER", "WRITE_BUFFER_TO_STDOUT",
		"WRITE_BUFFER_TO_FILES", "WRITE_LIST_TO_FILES", "WRITE_LIST_TO_STDOUT",
		"XLAT_AR_TO_STRING":
		return true
	}
	return false
}

// parseCall parses "NAME(arg1, 'arg 2', ...)" into its name and argument
// list. Arguments may be single- or double-quoted strings or bare words;
// bare words are taken verbatim (the dialect has no further expression
// syntax; see package doc).
func parseCall(src string) (name string, args []string, ok bool) {
	open := strings.IndexByte(src, '(')
	if open < 0 || !strings.HasSuffix(src, ")") {
		return "", nil, false
	}
	name = strings.ToUpper(strings.TrimSpace(src[:open]))
	if name == "" {
		return "", nil, false
	}
	body := strings.TrimSpace(src[open+1 : len(src)-1])
	if body == "" {
		return name, nil, true
	}
	for _, part := range strings.Split(body, ",") {
		args = append(args, unquote(strings.TrimSpace(part)))
	}
	return name, args, true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
