// Package script implements the Script Loader: it turns rule-script
// text into an ordered list of raw sections and lvalue/rvalue entries,
// handling comments, line continuation, and nested INCLUDE, without any
// awareness of what a section *means*; that classification belongs to
// pkg/compiler.
package script

import "github.com/praetorian-inc/logengine/pkg/types"

// RawEntry is one `lvalue=rvalue` line within a section.
type RawEntry struct {
	LValue string
	RValue string
	Source types.Location
}

// RawSection is one `[NAME]` block and its entries, in file order.
type RawSection struct {
	Name    string
	Entries []RawEntry
	Source  types.Location
}
