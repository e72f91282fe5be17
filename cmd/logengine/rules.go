package main

import (
	"fmt"

	"github.com/praetorian-inc/logengine/pkg/compiler"
	"github.com/spf13/cobra"
)

var rulesCmdPaths []string
var rulesCmdStdin bool
var rulesCmdYAML bool

// rulesCmd validates and optionally dumps a set of rule scripts without
// reading any log file, reusing the root command's compile step in
// isolation.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Compile one or more rule scripts and report errors without scanning a log",
	RunE:  runRulesE,
}

func init() {
	rulesCmd.Flags().StringArrayVar(&rulesCmdPaths, "rules", nil, "path to a rule script (repeatable)")
	rulesCmd.Flags().BoolVar(&rulesCmdStdin, "stdin", false, "read a rule script from stdin")
	rulesCmd.Flags().BoolVar(&rulesCmdYAML, "yaml", false, "print the resolved rule/clause model as YAML")
}

func runRulesE(cmd *cobra.Command, args []string) error {
	if len(rulesCmdPaths) == 0 && !rulesCmdStdin {
		return wrapExit(exitNoScripts, "no rule scripts given: use --rules or --stdin")
	}

	sections, err := loadScripts(rulesCmdPaths, rulesCmdStdin)
	if err != nil {
		return wrapExit(exitScriptError, "%s", err)
	}

	program, errs := compiler.Compile(sections)
	out := cmd.OutOrStdout()
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(cmd.ErrOrStderr(), e)
		}
		return wrapExit(exitScriptError, "%d script error(s)", len(errs))
	}
	for _, w := range program.Warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "W:", w)
	}

	if rulesCmdYAML {
		text, err := compiler.ToYAML(program)
		if err != nil {
			return wrapExit(exitGeneralError, "rendering rules: %w", err)
		}
		fmt.Fprint(out, string(text))
		return nil
	}

	fmt.Fprintf(out, "ok: %d rule(s), %d macro(s)\n", len(program.Rules), len(program.Macros))
	return nil
}
