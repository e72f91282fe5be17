// Package actionhost defines the boundary between the matching runtime and
// user code: a Host compiles action bodies and code-clause predicates
// into opaque Callables and invokes them against a Binding describing the
// currently-active rule instance. The core treats the evaluator itself as
// an external collaborator. NullHost is the only concrete Host this
// package ships, a minimal reference implementation that understands the
// LOGENGINE_* builtins and nothing else.
package actionhost

import "github.com/praetorian-inc/logengine/pkg/types"

// Callable is whatever a Host's Compile returns; the core never inspects
// it, only passes it back to Invoke.
type Callable interface{}

// Result is what Invoke returns. Bool is consulted only when the callable
// backs a *_CODE clause, where it substitutes for a regex match.
type Result struct {
	Bool bool
}

// Queries is the cross-rule query surface behind the LOGENGINE_*
// builtins, implemented by the matching runtime and handed to
// every Binding so a Host can call back into it without importing
// pkg/engine (which imports pkg/actionhost, not the other way around).
type Queries interface {
	GetUserOpt(name string) []string
	ResetRuleInstances(name string)
	HasRuleEverMatched(name string) bool
	GetLastRuleInst(name string) (*types.PreviousInstance, bool)
	CompareRules(names []string) (*types.PreviousInstance, bool)
	ImportInstVars(name string) bool
	CompareRulesAndImport(names []string) (*types.PreviousInstance, bool)
	ProcessingComplete()
}

// Binding supplies the current instance's variables as named locals, the
// ambient line-number fields, and the line-read context, plus the
// query surface and output buffer that LOGENGINE_*/WRITE_* builtins act on.
type Binding struct {
	Vars map[string]*types.RuntimeValue

	LineNumberStart int64
	LineNumberStop  int64
	LineNumberRange int64
	LineLastRead    string

	Queries Queries
	Buffer  *Buffer
}

// Var returns the named variable's current value, or nil if unset. Lookup
// is case-insensitive, matching the dialect's global case-insensitivity.
func (b *Binding) Var(name string) *types.RuntimeValue {
	return b.Vars[normalizeName(name)]
}

// Host is the action-host boundary consumed by the core.
type Host interface {
	// Compile compiles one action body or code-clause source once. A
	// compile failure is reported via Error and disables that action or
	// clause; it is never fatal to the run.
	Compile(source string) (Callable, error)

	// Invoke runs a previously compiled Callable against binding.
	Invoke(c Callable, binding *Binding) (Result, error)

	// DeclareGlobal is called once per SHARED_CODE/TERMINATION_CODE entry
	// at load time, before any line is processed.
	DeclareGlobal(name, initializer string) error

	// Error reports a compile or runtime failure with source context. It
	// never aborts the run.
	Error(message string)
}

func normalizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
