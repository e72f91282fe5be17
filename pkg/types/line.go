package types

// LineRecord is one line read from a log file. ID is a global,
// monotonically increasing counter across every log file consumed in a
// run, used to key regex-cache memoization and the two timeout clocks.
type LineRecord struct {
	ID      int64
	LogFile string
	LineNo  int // 1-based line number within LogFile
	Text    string
}
