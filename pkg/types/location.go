package types

import "fmt"

// Location is a source position used for script-error reporting
// ("E: <file>:<line>: <rule>: <clause>[idx]: <message>").
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("<unknown>:%d", l.Line)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}
