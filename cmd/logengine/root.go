// Command logengine is the CLI surface for the streaming log-analysis
// engine: it wires the Script Loader, Rule Compiler, Regex Cache Builder,
// and Matching Runtime together and drives them over one or more log
// files. Flag parsing, file discovery, and terminal display are the
// external-collaborator concerns deliberately kept out of the core;
// this package is the (intentionally thin) reference collaborator that
// plugs them in.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	rulesPaths  []string
	useStdin    bool
	statusSecs  int
	studyHint   int
	bufferKB    int
	fastMode    bool
	noFastMode  bool
	dumpOnly    bool
	verboseFlag bool
	debugFlag   bool
	titleFlag   string
	userOptsRaw []string

	helpFlag    bool
	usageFlag   bool
	manFlag     bool
	versionFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "logengine",
	Short: "Streaming log-analysis engine",
	Long: `logengine scans one or more log files line by line and fires
user-defined actions when declarative rules match against sequences of
lines.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRootE,
}

func init() {
	rootCmd.Flags().StringArrayVar(&rulesPaths, "rules", nil, "path to a rule script (repeatable)")
	rootCmd.Flags().BoolVar(&useStdin, "stdin", false, "read a rule script from stdin")

	rootCmd.Flags().Var(logfileValue{}, "logfile", "path to a log file to scan (repeatable); \"-\" for stdin")
	rootCmd.Flags().Var(&foreverValue{kind: "forever"}, "forever", "keep tailing subsequently-declared logfiles after EOF")
	rootCmd.Flags().Var(&foreverValue{kind: "noforever"}, "noforever", "stop at EOF for subsequently-declared logfiles (default)")
	// pflag only lets a flag appear without a value when NoOptDefVal is
	// set; -forever/-noforever are bare switches.
	rootCmd.Flags().Lookup("forever").NoOptDefVal = "true"
	rootCmd.Flags().Lookup("noforever").NoOptDefVal = "true"
	rootCmd.Flags().Var(sortValue{}, "sort", "asc|desc|none: ordering applied to subsequently-declared logfiles")

	rootCmd.Flags().IntVar(&statusSecs, "status", 0, "print a status line every N seconds (0 disables)")
	rootCmd.Flags().IntVar(&studyHint, "study", 0, "regex study hint (informational; no-op for the regexp2 backend)")
	rootCmd.Flags().IntVar(&bufferKB, "buffer", 64, "per-file read buffer size, in KB")
	rootCmd.Flags().BoolVar(&fastMode, "fast", false, "enable the single-match fast path")
	rootCmd.Flags().BoolVar(&noFastMode, "nofast", false, "disable the single-match fast path (default)")
	rootCmd.Flags().BoolVar(&dumpOnly, "dump", false, "compile rules, print the resolved rule/clause model as YAML, and exit")
	rootCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "trace lifecycle events to stderr")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "trace lifecycle events to stderr and print an event-log summary at the end")
	rootCmd.Flags().StringVar(&titleFlag, "title", "", "a title line printed before the run starts")
	rootCmd.Flags().StringArrayVar(&userOptsRaw, "user", nil, `"name=value" user option (repeatable per name)`)

	// Registering "help" ourselves (with -? as its shorthand) keeps cobra
	// from installing its own; -usage, -man and -version are plain switches
	// handled at the top of runRootE.
	rootCmd.Flags().BoolVarP(&helpFlag, "help", "?", false, "print usage and exit")
	rootCmd.Flags().BoolVar(&usageFlag, "usage", false, "print usage and exit")
	rootCmd.Flags().BoolVar(&manFlag, "man", false, "print the manual page and exit")
	rootCmd.Flags().BoolVar(&versionFlag, "version", false, "print version information and exit")

	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		if helpFlag {
			// cobra intercepts --help/-? itself and prints usage before
			// RunE ever runs; the documented help status still applies.
			return exitHelp
		}
		return exitSuccess
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, err)
	}
	return classifyExecuteError(err)
}

// parseUserOpts turns repeated "name=value" tokens into the ordered-list
// table the engine expects: every occurrence of the same name appends to its
// value list rather than overwriting it.
func parseUserOpts(raw []string) (map[string][]string, error) {
	opts := make(map[string][]string)
	for _, tok := range raw {
		idx := strings.IndexByte(tok, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid -user option %q: expected name=value", tok)
		}
		name := strings.ToUpper(strings.TrimSpace(tok[:idx]))
		val := tok[idx+1:]
		opts[name] = append(opts[name], val)
	}
	return opts, nil
}
