//go:build cgo

package regexcache

import (
	"github.com/flier/gohs/hyperscan"
)

// hyperscanPrefilter backs Prefilter with a single Hyperscan block
// database over every distinct cache entry's pattern. Hyperscan only
// needs to answer "could this line possibly match anything", so capture
// extraction is left entirely to regexp2 in the cache entries themselves.
type hyperscanPrefilter struct {
	db      hyperscan.BlockDatabase
	scratch *hyperscan.Scratch
}

func newPrefilter(patterns []string) (Prefilter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	hsPatterns := make([]*hyperscan.Pattern, 0, len(patterns))
	for i, p := range patterns {
		hp := hyperscan.NewPattern(p, hyperscan.DotAll|hyperscan.MultiLine)
		hp.Id = i
		hsPatterns = append(hsPatterns, hp)
	}

	db, err := hyperscan.NewBlockDatabase(hsPatterns...)
	if err != nil {
		// Not every resolved clause regex is expressible in Hyperscan's
		// pattern language (backreferences, lookaround). Matching still
		// works correctly without the prefilter, just without the
		// vectorized pre-check, so this is not fatal.
		return nil, nil
	}

	scratch, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		// Same reasoning as the compile-failure branch above: degrade to
		// no prefilter rather than fail the whole program.
		return nil, nil
	}

	return &hyperscanPrefilter{db: db, scratch: scratch}, nil
}

func (p *hyperscanPrefilter) MaybeMatches(line string) bool {
	found := false
	onMatch := func(id uint, from, to uint64, flags uint, context interface{}) error {
		found = true
		return hyperscan.ErrScanTerminated
	}
	if err := p.db.Scan([]byte(line), p.scratch, onMatch, nil); err != nil && err != hyperscan.ErrScanTerminated {
		// Scan failure degrades to "maybe": the caller still runs regexp2.
		return true
	}
	return found
}

func (p *hyperscanPrefilter) Close() {
	p.scratch.Free()
	p.db.Close()
}
