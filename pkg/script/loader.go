package script

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/praetorian-inc/logengine/pkg/types"
)

// Loader reads rule scripts in their INI-like dialect.
//
// Loader only recognizes the shape of the text (sections, entries, INCLUDE);
// it does not know that DEFINE_MACRO/SHARED_CODE/TERMINATION_CODE are
// special, or that a duplicate rule/macro name is an error; pkg/compiler
// classifies sections and owns those checks.
type Loader struct {
	included map[string]bool // basenames already processed, for INCLUDE dedup
}

// NewLoader creates a loader with an empty INCLUDE dedup set.
func NewLoader() *Loader {
	return &Loader{included: make(map[string]bool)}
}

// Load reads path and every file it (transitively) includes, returning every
// section across the closure in file order.
func (l *Loader) Load(path string) ([]*RawSection, error) {
	return l.loadFile(path)
}

// LoadStdin reads a script body from r, reported under the
// pseudo-name "<stdin>".
func (l *Loader) LoadStdin(r io.Reader) ([]*RawSection, error) {
	return l.parse("<stdin>", r)
}

func (l *Loader) loadFile(path string) ([]*RawSection, error) {
	base := filepath.Base(path)
	if l.included[base] {
		return nil, nil // re-includes of the same basename are silently skipped
	}
	l.included[base] = true

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("E: opening script %s: %w", path, err)
	}
	defer f.Close()

	sections, err := l.parse(path, f)
	if err != nil {
		return nil, err
	}
	return sections, nil
}

// parse is the line-shape state machine: join continuation lines, strip comments,
// and classify each joined logical line as a section header or an entry.
func (l *Loader) parse(name string, r io.Reader) ([]*RawSection, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)

	var sections []*RawSection
	var current *RawSection

	var pending strings.Builder
	pendingStart := 0
	lineNo := 0

	handleLogical := func(text string, start int) error {
		loc := types.Location{File: name, Line: start}
		if text == "" {
			return nil
		}

		if strings.HasPrefix(text, "[") {
			if !strings.HasSuffix(text, "]") {
				return fmt.Errorf("E: %s: malformed section header %q", loc, text)
			}
			sectionName := strings.TrimSpace(text[1 : len(text)-1])
			if sectionName == "" {
				return fmt.Errorf("E: %s: empty section name", loc)
			}
			sec := &RawSection{Name: sectionName, Source: loc}
			sections = append(sections, sec)
			current = sec
			return nil
		}

		lv, rv, ok := splitAssignment(text)
		if !ok {
			return fmt.Errorf("E: %s: malformed line %q", loc, text)
		}

		if strings.EqualFold(lv, "INCLUDE") {
			included, err := l.loadFile(resolveInclude(name, rv))
			if err != nil {
				return err
			}
			sections = append(sections, included...)
			if len(included) > 0 {
				current = included[len(included)-1]
			}
			return nil
		}

		if current == nil {
			return fmt.Errorf("E: %s: entry %q outside of any section", loc, lv)
		}
		current.Entries = append(current.Entries, RawEntry{LValue: lv, RValue: rv, Source: loc})
		return nil
	}

	for sc.Scan() {
		lineNo++
		raw := sc.Text()

		continues := strings.HasSuffix(raw, `\`)
		codePart := raw
		if continues {
			codePart = raw[:len(raw)-1]
		}
		codePart = stripComment(codePart)

		if pending.Len() == 0 {
			pendingStart = lineNo
		}
		pending.WriteString(codePart)

		if continues {
			continue
		}

		text := strings.TrimSpace(pending.String())
		start := pendingStart
		pending.Reset()

		if err := handleLogical(text, start); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("E: %s: reading script: %w", name, err)
	}

	// A dangling continuation at EOF still gets processed, matching every
	// complete line before it.
	if pending.Len() > 0 {
		text := strings.TrimSpace(pending.String())
		if err := handleLogical(text, pendingStart); err != nil {
			return nil, err
		}
	}

	return sections, nil
}

// stripComment drops the first unescaped '#' or ';' and everything after
// it, along with the whitespace that separated the code from the comment;
// a spliced continuation must not inherit that gap.
func stripComment(s string) string {
	for i := 0; i < len(s); i++ {
		if (s[i] == '#' || s[i] == ';') && (i == 0 || s[i-1] != '\\') {
			return strings.TrimRight(s[:i], " \t")
		}
	}
	return s
}

// splitAssignment splits "lvalue=rvalue" on the first '='.
func splitAssignment(s string) (lvalue, rvalue string, ok bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	lv := strings.TrimSpace(s[:idx])
	if lv == "" {
		return "", "", false
	}
	return lv, strings.TrimSpace(s[idx+1:]), true
}

// resolveInclude resolves an INCLUDE path relative to the directory of the
// script that referenced it.
func resolveInclude(fromScript, includePath string) string {
	if filepath.IsAbs(includePath) || fromScript == "<stdin>" {
		return includePath
	}
	return filepath.Join(filepath.Dir(fromScript), includePath)
}
