package regexcache

// Prefilter cheaply rules out lines that cannot possibly match any
// registered regex, without extracting captures: a vectorized pre-check,
// then precise `regexp2` evaluation only on survivors.
type Prefilter interface {
	MaybeMatches(line string) bool
	Close()
}
