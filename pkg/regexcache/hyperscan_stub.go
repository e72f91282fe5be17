//go:build !cgo

package regexcache

// newPrefilter is the CGO-less stub: Hyperscan requires CGO, so builds
// without it skip the vectorized pre-check entirely and evaluate every
// clause through regexp2 directly. Matching semantics are unaffected, only the fast path.
func newPrefilter(patterns []string) (Prefilter, error) {
	return nil, nil
}
