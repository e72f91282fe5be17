// Package regexcache implements the Regex Cache Builder: it
// deduplicates identical resolved regex text across every clause, compiles
// one matcher per distinct (text, options) pair, and memoizes the most
// recent evaluation of each entry so two clauses sharing a regex never run
// it twice against the same line.
package regexcache

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/praetorian-inc/logengine/pkg/types"
)

// matchTimeout bounds a single regexp2 evaluation against catastrophic
// backtracking.
const matchTimeout = 5 * time.Second

// Entry is one precompiled matcher shared by every clause whose resolved
// text and options are identical.
type Entry struct {
	re   *regexp2.Regexp
	text string

	lastLineID int64
	lastMatch  *regexp2.Match
}

// Eval evaluates the entry against line, memoizing by lineID so a second
// clause hitting this entry on the same line reuses the result without
// invoking the regex engine again. Line ids are expected to start at 1;
// lineID 0 never hits the memo.
func (e *Entry) Eval(lineID int64, line string) (*regexp2.Match, error) {
	if lineID != 0 && lineID == e.lastLineID {
		return e.lastMatch, nil
	}
	m, err := e.re.FindStringMatch(line)
	if err != nil {
		return nil, fmt.Errorf("evaluating regex %q: %w", e.text, err)
	}
	e.lastLineID = lineID
	e.lastMatch = m
	return m, nil
}

// Cache deduplicates resolved regex text into one compiled Entry per
// distinct (text, options) pair.
type Cache struct {
	entries   map[string]*Entry
	prefilter Prefilter
}

// New creates an empty cache. Prepare populates it from a compiled
// program's rules.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Prepare compiles and registers every cacheable clause and optional
// clause across rules, setting each clause's CacheKey so the matching
// runtime can look its entry up in O(1). A clause carrying a runtime-insert
// is skipped: its final text is only known per-instance, so the engine
// compiles it ad hoc via CompileAdHoc instead.
func (c *Cache) Prepare(rules []*types.Rule) error {
	var literals []string
	// The line prefilter compiles every pattern with the same fixed flags,
	// so it is not built at all when any clause uses the i or x option.
	fixedFlagsOnly := true
	for _, rule := range rules {
		for _, clause := range rule.MatchList {
			if clause.IsCode || len(clause.Inserts) > 0 {
				continue
			}
			if strings.ContainsAny(clause.RegexOptions, "ix") {
				fixedFlagsOnly = false
			}
			key := cacheKey(clause.ResolvedText, clause.RegexOptions)
			if _, err := c.compile(key, clause.ResolvedText, clause.RegexOptions); err != nil {
				return fmt.Errorf("rule %s: clause: %w", rule.Name, err)
			}
			clause.CacheKey = key
			literals = append(literals, clause.ResolvedText)
		}
		for _, opt := range rule.Optionals {
			key := cacheKey(opt.RegexText, opt.RegexOptions)
			if _, err := c.compile(key, opt.RegexText, opt.RegexOptions); err != nil {
				return fmt.Errorf("rule %s: optional: %w", rule.Name, err)
			}
			opt.CacheKey = key
			literals = append(literals, opt.RegexText)
		}
	}

	if !fixedFlagsOnly {
		literals = nil
	}
	pf, err := newPrefilter(literals)
	if err != nil {
		return fmt.Errorf("building prefilter: %w", err)
	}
	c.prefilter = pf
	return nil
}

// Get returns the cache entry for a clause's CacheKey (set by Prepare).
func (c *Cache) Get(key string) (*Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// MaybeMatches reports whether line could possibly match any registered
// regex, using the optional Hyperscan prefilter when available. When no prefilter is active (CGO-less build) it
// always returns true: the engine falls back to evaluating clauses
// directly through the cache.
func (c *Cache) MaybeMatches(line string) bool {
	if c.prefilter == nil {
		return true
	}
	return c.prefilter.MaybeMatches(line)
}

// Close releases the prefilter's native resources, if any.
func (c *Cache) Close() {
	if c.prefilter != nil {
		c.prefilter.Close()
	}
}

// CompileAdHoc compiles a one-off matcher for a clause carrying a
// runtime-insert, after the engine has substituted the instance's live
// variable values into its placeholder spans. Never memoized: two
// instances of the same rule can carry different live values for the same
// clause text, so there is nothing valid to dedupe against.
func CompileAdHoc(resolvedText, options string) (*regexp2.Regexp, error) {
	return compile(resolvedText, options)
}

func (c *Cache) compile(key, text, options string) (*Entry, error) {
	if e, ok := c.entries[key]; ok {
		return e, nil
	}
	re, err := compile(text, options)
	if err != nil {
		return nil, err
	}
	e := &Entry{re: re, text: text}
	c.entries[key] = e
	return e, nil
}

// CacheKey computes the dedup key for a (text, options) pair; the same
// key Prepare assigns to a clause's CacheKey field.
func CacheKey(text, options string) string {
	return cacheKey(text, options)
}

func cacheKey(text, options string) string {
	return options + "\x00" + text
}

func compile(pattern, options string) (*regexp2.Regexp, error) {
	opts, err := parseOptions(options)
	if err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(pattern, opts|regexp2.RE2)
	if err != nil {
		// Some clauses need lookaround/backreferences RE2 mode rejects;
		// fall back to full Perl-compatible mode.
		re, err = regexp2.Compile(pattern, opts)
		if err != nil {
			return nil, fmt.Errorf("compiling regex %q: %w", pattern, err)
		}
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}

func parseOptions(s string) (regexp2.RegexOptions, error) {
	opts := regexp2.None
	for _, c := range s {
		switch c {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		default:
			return 0, fmt.Errorf("unknown regex option %q", string(c))
		}
	}
	return opts, nil
}
