package main

import (
	"fmt"
	"os"

	"github.com/praetorian-inc/logengine/pkg/actionhost"
	"github.com/praetorian-inc/logengine/pkg/compiler"
	"github.com/praetorian-inc/logengine/pkg/engine"
	"github.com/praetorian-inc/logengine/pkg/enginelog"
	"github.com/praetorian-inc/logengine/pkg/eventlog"
	"github.com/praetorian-inc/logengine/pkg/prefilter"
	"github.com/praetorian-inc/logengine/pkg/regexcache"
	"github.com/praetorian-inc/logengine/pkg/script"
	"github.com/spf13/cobra"
)

func runRootE(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	switch {
	case usageFlag:
		cmd.Usage()
		return errHelp
	case manFlag:
		fmt.Fprint(out, manPage)
		return errHelp
	case versionFlag:
		return runVersion(cmd, nil)
	}

	if titleFlag != "" {
		fmt.Fprintln(out, titleFlag)
	}

	if len(rulesPaths) == 0 && !useStdin {
		return wrapExit(exitNoScripts, "no rule scripts given: use --rules or --stdin")
	}

	sections, err := loadScripts(rulesPaths, useStdin)
	if err != nil {
		return wrapExit(exitScriptError, "%s", err)
	}

	program, errs := compiler.Compile(sections)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(errOut, e)
		}
		return wrapExit(exitScriptError, "%d script error(s)", len(errs))
	}
	for _, w := range program.Warnings {
		fmt.Fprintln(errOut, "W:", w)
	}

	if dumpOnly {
		text, err := compiler.ToYAML(program)
		if err != nil {
			return wrapExit(exitGeneralError, "rendering -dump: %w", err)
		}
		fmt.Fprint(out, string(text))
		return nil
	}

	cache := regexcache.New()
	if err := cache.Prepare(program.Rules); err != nil {
		return wrapExit(exitScriptError, "%w", err)
	}
	defer cache.Close()

	pf := prefilter.New(program.Rules)

	userOpts, err := parseUserOpts(userOptsRaw)
	if err != nil {
		return wrapExit(exitBadArgs, "%w", err)
	}

	logger := enginelog.Logger(enginelog.NoopLogger{})
	if verboseFlag || debugFlag {
		logger = enginelog.WriterLogger{W: errOut}
	}

	var events eventlog.Store
	if statusSecs > 0 || debugFlag {
		events, err = eventlog.New(eventlog.Config{})
		if err != nil {
			return wrapExit(exitGeneralError, "opening eventlog: %w", err)
		}
		defer events.Close()
	}

	host := actionhost.NewNullHost()
	eng, err := engine.New(program, cache, pf, host, engine.Options{
		Fast:     fastMode && !noFastMode,
		UserOpts: userOpts,
		Logger:   logger,
		EventLog: events,
	})
	if err != nil {
		return wrapExit(exitGeneralError, "%w", err)
	}

	// A rule script with no logfile at all is still a legal run (e.g. a
	// -rules-only invocation used purely to validate compilation): the
	// loop below simply does nothing and Finish() runs over zero lines.
	specs := resolveLogFiles()

	ticker := newStatusTicker(errOut, statusSecs)
	bufferBytes := bufferKB * 1024
	if bufferBytes <= 0 {
		bufferBytes = 64 * 1024
	}

	for _, spec := range specs {
		if eng.Done() {
			break
		}
		ioErr := readLogFile(spec, bufferBytes, func(lineNo int, text string) bool {
			eng.ProcessLine(spec.Path, lineNo, text)
			ticker.Tick(spec.Path)
			return !eng.Done()
		})
		if ioErr != nil {
			fmt.Fprintln(errOut, "E:", ioErr)
		}
	}

	eng.Finish()

	if unq := eng.UnqueriedUserOpts(); len(unq) > 0 {
		return wrapExit(exitBadArgs, "user option(s) never queried by any action: %v", unq)
	}

	printSummary(out, eng.Warnings(), host.Errors())
	if events != nil {
		printEventLogSummary(out, events)
	}

	return nil
}

// loadScripts loads every -rules path (in order) and, if requested, a
// trailing -stdin script, returning every section across the closure in
// load order.
func loadScripts(paths []string, stdin bool) ([]*script.RawSection, error) {
	loader := script.NewLoader()
	var all []*script.RawSection
	for _, p := range paths {
		sections, err := loader.Load(p)
		if err != nil {
			return nil, err
		}
		all = append(all, sections...)
	}
	if stdin {
		sections, err := loader.LoadStdin(os.Stdin)
		if err != nil {
			return nil, err
		}
		all = append(all, sections...)
	}
	return all, nil
}
