package main

import "fmt"

// logfileDirective is one `-logfile`/`-forever`/`-noforever`/`-sort` token
// in the order it appeared on the command line; sort/forever modifiers
// apply to the logfiles declared after them. pflag calls Value.Set for
// each flag token as it is encountered, left to right, so a shared ordered slice
// across several distinct flag.Value implementations reconstructs the
// original interleaving even though each flag has its own name.
type logfileDirective struct {
	kind  string // "logfile", "forever", "noforever", "sort"
	value string
}

var directives []logfileDirective

// logfileValue implements pflag.Value for the repeatable `-logfile` flag.
type logfileValue struct{}

func (logfileValue) String() string { return "" }
func (logfileValue) Type() string   { return "logfile" }
func (logfileValue) Set(v string) error {
	directives = append(directives, logfileDirective{kind: "logfile", value: v})
	return nil
}

// foreverValue implements pflag.Value for the `-forever`/`-noforever`
// pair. Each flag is bound to its own instance with kind fixed at
// construction: both are bare switches (Set receives the NoOptDefVal
// "true"), so the directive kind cannot be inferred from the argument.
type foreverValue struct {
	kind string
	set  bool
}

func (v *foreverValue) String() string { return fmt.Sprintf("%v", v.set) }
func (*foreverValue) Type() string     { return "bool" }
func (v *foreverValue) Set(string) error {
	v.set = true
	directives = append(directives, logfileDirective{kind: v.kind})
	return nil
}

// sortValue implements pflag.Value for the repeatable `-sort asc|desc|none` flag.
type sortValue struct{}

func (sortValue) String() string { return "" }
func (sortValue) Type() string   { return "sort" }
func (sortValue) Set(v string) error {
	switch v {
	case "asc", "desc", "none":
	default:
		return fmt.Errorf("sort must be one of asc, desc, none (got %q)", v)
	}
	directives = append(directives, logfileDirective{kind: "sort", value: v})
	return nil
}

// logFileSpec is one resolved logfile expansion: a path plus whatever
// forever/sort modifiers were in effect when it was declared.
type logFileSpec struct {
	Path    string
	Forever bool
	Sort    string // "asc", "desc", or "" (none)
}

// resolveLogFiles walks the ordered directive list and applies each
// forever/sort modifier to every logfile declared after it, until
// overridden.
func resolveLogFiles() []logFileSpec {
	var specs []logFileSpec
	forever := false
	sortMode := ""
	for _, d := range directives {
		switch d.kind {
		case "forever":
			forever = true
		case "noforever":
			forever = false
		case "sort":
			if d.value == "none" {
				sortMode = ""
			} else {
				sortMode = d.value
			}
		case "logfile":
			specs = append(specs, logFileSpec{Path: d.value, Forever: forever, Sort: sortMode})
		}
	}
	return specs
}
