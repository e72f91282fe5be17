package types

// RuntimeValue is the bound value of a per-instance runtime variable: either
// a scalar (overwritten on each extract) or an ordered sequence of strings
// (appended on each extract).
type RuntimeValue struct {
	IsArray bool
	Scalar  string
	Array   []string
}

// Set overwrites the scalar value.
func (v *RuntimeValue) Set(s string) {
	v.IsArray = false
	v.Scalar = s
}

// Append adds a value to the array, switching the value to array mode.
func (v *RuntimeValue) Append(s string) {
	v.IsArray = true
	v.Array = append(v.Array, s)
}

// RuleInstance is a partially (or fully) matched candidate for a rule.
type RuleInstance struct {
	Rule  *Rule
	Index int // position within Rule.MatchList of the next clause to satisfy

	// AwaitingPre marks a placeholder armed by a lone PRE match: the
	// instance has matched nothing past its PRE prefix yet, is
	// skipped by the per-line advance step, and is replaced in place by the
	// next PRE or BEGIN match of its rule. Cleared the moment a
	// non-PRE clause match positions it past the rule's first BEGIN.
	AwaitingPre   bool
	StartLine     int64
	StopLine      int64
	LastMatchLine int64
	Vars          map[string]*RuntimeValue
	LogFile       string
	RulesCreated  map[string]bool // rules this instance has already been armed by, keyed by rule name
}

// NewRuleInstance creates an instance positioned at startIndex, as created by
// a successful BEGIN/PRE match.
func NewRuleInstance(rule *Rule, startIndex int, lineID int64, logfile string) *RuleInstance {
	return &RuleInstance{
		Rule:          rule,
		Index:         startIndex,
		StartLine:     lineID,
		StopLine:      lineID,
		LastMatchLine: lineID,
		Vars:          make(map[string]*RuntimeValue),
		LogFile:       logfile,
		RulesCreated:  make(map[string]bool),
	}
}

// CurrentClause returns the clause the instance is currently waiting on, or
// nil if the instance has advanced past the end of the match-list.
func (ri *RuleInstance) CurrentClause() *Clause {
	if ri.Index < 0 || ri.Index >= len(ri.Rule.MatchList) {
		return nil
	}
	return ri.Rule.MatchList[ri.Index]
}

// PreviousClause returns the clause immediately preceding the instance's
// current position, or nil if the instance is at the start of the match-list.
func (ri *RuleInstance) PreviousClause() *Clause {
	if ri.Index <= 0 || ri.Index > len(ri.Rule.MatchList) {
		return nil
	}
	return ri.Rule.MatchList[ri.Index-1]
}

// AtPre reports whether the instance's current clause is a PRE, or (when
// already past the end) its previous clause was a PRE; used by the
// end-of-stream INCOMPLETE rule and candidate merging.
func (ri *RuleInstance) AtPre() bool {
	if c := ri.CurrentClause(); c != nil && c.Kind == ClausePre {
		return true
	}
	if c := ri.PreviousClause(); c != nil && c.Kind == ClausePre {
		return true
	}
	return false
}

// Reset clears the instance's variable table and re-arms it at startIndex,
// as done for candidate merging.
func (ri *RuleInstance) Reset(startIndex int, lineID int64) {
	ri.Index = startIndex
	ri.Vars = make(map[string]*RuntimeValue)
	ri.StartLine = lineID
	ri.LastMatchLine = lineID
}

// PreviousInstance is the read-only, detached snapshot retained after a rule
// instance is destroyed. It never holds a back-pointer into the live
// instance list.
type PreviousInstance struct {
	RuleName     string
	StartLine    int64
	StopLine     int64
	Vars         map[string]*RuntimeValue
	RulesCreated map[string]bool
}

// Snapshot produces a detached PreviousInstance copy of a live instance.
func (ri *RuleInstance) Snapshot() *PreviousInstance {
	vars := make(map[string]*RuntimeValue, len(ri.Vars))
	for k, v := range ri.Vars {
		cp := &RuntimeValue{IsArray: v.IsArray, Scalar: v.Scalar}
		cp.Array = append([]string(nil), v.Array...)
		vars[k] = cp
	}
	created := make(map[string]bool, len(ri.RulesCreated))
	for k, v := range ri.RulesCreated {
		created[k] = v
	}
	return &PreviousInstance{
		RuleName:     ri.Rule.Name,
		StartLine:    ri.StartLine,
		StopLine:     ri.StopLine,
		Vars:         vars,
		RulesCreated: created,
	}
}
