package compiler

import (
	"strings"
	"testing"

	"github.com/praetorian-inc/logengine/pkg/script"
	"github.com/praetorian-inc/logengine/pkg/types"
	"github.com/stretchr/testify/require"
)

func loadString(t *testing.T, body string) []*script.RawSection {
	t.Helper()
	sections, err := script.NewLoader().LoadStdin(strings.NewReader(body))
	require.NoError(t, err)
	return sections
}

func TestCompile_SimpleRule(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN=^ABR
ACTION.COMPLETE=counter++
`)
	prog, errs := Compile(sections)
	require.Empty(t, errs)
	require.Len(t, prog.Rules, 1)

	rule := prog.Rules[0]
	require.Equal(t, "myrule", rule.Name)
	require.True(t, rule.Enabled)
	require.Len(t, rule.MatchList, 1)
	require.Equal(t, types.ClauseBegin, rule.MatchList[0].Kind)
	require.Equal(t, "^ABR", rule.MatchList[0].ResolvedText)
	require.Equal(t, "counter++", rule.Actions[types.ActionComplete])
}

func TestCompile_NoBeginIsWarningNotError(t *testing.T) {
	sections := loadString(t, `
[myrule]
PRE=^T\d+
`)
	prog, errs := Compile(sections)
	require.Empty(t, errs)
	require.Empty(t, prog.Rules)
	require.Len(t, prog.Warnings, 1)
}

func TestCompile_DuplicateActionIsError(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN=^ABR
ACTION.COMPLETE=a()
ACTION.COMPLETE=b()
`)
	_, errs := Compile(sections)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "duplicate ACTION.COMPLETE")
}

func TestCompile_AccumAsFirstBeginIsError(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN_ACCUM=^X
END=^Y
`)
	_, errs := Compile(sections)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "first BEGIN clause cannot be ACCUM")
}

func TestCompile_DuplicateRuleIsError(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN=^A

[myrule]
BEGIN=^B
`)
	_, errs := Compile(sections)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "duplicate rule")
}

func TestCompile_MatchTimeoutAppliesToNextClauseOnly(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN=^A
MATCH_TIMEOUT=5
END=^B
`)
	prog, errs := Compile(sections)
	require.Empty(t, errs)
	require.Len(t, prog.Rules, 1)
	rule := prog.Rules[0]
	require.Equal(t, int64(0), int64(rule.MatchList[0].MatchTimeout))
	require.Equal(t, int64(5e9), int64(rule.MatchList[1].MatchTimeout))
}

func TestCompile_RegexOptionsAppliesUntilChanged(t *testing.T) {
	sections := loadString(t, `
[myrule]
REGEX_OPTIONS=i
BEGIN=^a
REGEX_OPTIONS=
END=^b
`)
	prog, _ := Compile(sections)
	rule := prog.Rules[0]
	require.Equal(t, "i", rule.MatchList[0].RegexOptions)
	require.Equal(t, "", rule.MatchList[1].RegexOptions)
}

func TestCompile_RTVARDeclarationThenCapture(t *testing.T) {
	sections := loadString(t, `
[myrule]
TS=<RTVAR>
BEGIN=^A
END=done $$TS(\d+)
`)
	prog, errs := Compile(sections)
	require.Empty(t, errs)
	rule := prog.Rules[0]
	v := rule.Vars["TS"]
	require.NotNil(t, v)
	require.True(t, v.IsRuntime)
	require.Equal(t, 1, v.Ordinal)
}

func TestCompile_CodeClauseKeepsRawSource(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN_CODE=SOME_PREDICATE()
`)
	prog, errs := Compile(sections)
	require.Empty(t, errs)
	rule := prog.Rules[0]
	require.True(t, rule.MatchList[0].IsCode)
	require.Equal(t, "SOME_PREDICATE()", rule.MatchList[0].Code)
}

func TestCompile_OptionalCodeIsError(t *testing.T) {
	sections := loadString(t, `
[myrule]
BEGIN=^A
OPTIONAL_CODE=SOME_PREDICATE()
`)
	_, errs := Compile(sections)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "OPTIONAL_CODE")
}

func TestCompile_MacrosAndSharedAndTerminationSections(t *testing.T) {
	sections := loadString(t, `
[DEFINE_MACRO]
NUM=\d+

[SHARED_CODE]
counter=0

[TERMINATION_CODE]
report=PRINT(counter)

[myrule]
BEGIN=^$NUM
`)
	prog, errs := Compile(sections)
	require.Empty(t, errs)
	require.Contains(t, prog.Macros, "NUM")
	require.Len(t, prog.SharedCode, 1)
	require.Equal(t, "counter", prog.SharedCode[0].Name)
	require.Len(t, prog.TerminationCode, 1)
	require.Equal(t, "report", prog.TerminationCode[0].Name)
	require.Len(t, prog.Rules, 1)
	require.Equal(t, `^\d+`, prog.Rules[0].MatchList[0].ResolvedText)
}
