package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// tailPollInterval is how often a `-forever` tail retries after hitting
// EOF. On platforms without file-descriptor readiness polling the engine
// treats the handle as always ready and relies on blocking reads;
// a short sleep-and-retry loop is the portable equivalent.
const tailPollInterval = 250 * time.Millisecond

// lineSink receives one line at a time; it returns false to request that
// reading stop (either engine.Done() or a fatal per-file error).
type lineSink func(lineNo int, text string) bool

// readLogFile opens spec and feeds every line to sink in order, honoring
// its Sort and Forever modifiers. An I/O error on open or during
// reading is reported and the file is skipped; other files continue.
func readLogFile(spec logFileSpec, bufferBytes int, sink lineSink) error {
	var r io.ReadCloser
	if spec.Path == "-" {
		r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(spec.Path)
		if err != nil {
			return fmt.Errorf("opening logfile %s: %w", spec.Path, err)
		}
		r = f
	}
	defer r.Close()

	if spec.Sort != "" {
		return readSorted(spec, r, bufferBytes, sink)
	}
	return readStreaming(spec, r, bufferBytes, sink)
}

// readStreaming feeds lines to sink as they are read, tailing for new
// appended content when spec.Forever is set.
func readStreaming(spec logFileSpec, r io.Reader, bufferBytes int, sink lineSink) error {
	br := bufio.NewReaderSize(r, bufferBytes)
	lineNo := 0
	for {
		text, err := readLine(br)
		if err == nil || (err == io.EOF && text != "") {
			lineNo++
			if !sink(lineNo, text) {
				return nil
			}
			if err == nil {
				continue
			}
		}
		if err == io.EOF {
			if !spec.Forever || spec.Path == "-" {
				return nil
			}
			time.Sleep(tailPollInterval)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading logfile %s: %w", spec.Path, err)
		}
	}
}

// readSorted buffers the entire file, orders it by Sort, then feeds lines
// to sink. Sort and tailing are mutually exclusive in practice (a sort
// requires seeing everything first); once the sorted backlog is drained, a
// Forever spec falls back to tailing any lines appended afterward, in
// arrival order.
func readSorted(spec logFileSpec, r io.Reader, bufferBytes int, sink lineSink) error {
	br := bufio.NewReaderSize(r, bufferBytes)
	var lines []string
	for {
		text, err := readLine(br)
		if err == nil || (err == io.EOF && text != "") {
			lines = append(lines, text)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading logfile %s: %w", spec.Path, err)
		}
	}

	switch spec.Sort {
	case "asc":
		sort.Strings(lines)
	case "desc":
		sort.Sort(sort.Reverse(sort.StringSlice(lines)))
	}

	lineNo := 0
	for _, text := range lines {
		lineNo++
		if !sink(lineNo, text) {
			return nil
		}
	}

	if spec.Forever && spec.Path != "-" {
		return readStreaming(logFileSpec{Path: spec.Path, Forever: true}, br, bufferBytes, func(n int, text string) bool {
			lineNo++
			return sink(lineNo, text)
		})
	}
	return nil
}

// readLine reads one newline-terminated line, trimming the trailing "\n"
// and "\r\n". A final unterminated line at EOF is still returned (with
// io.EOF) so it is not silently dropped.
func readLine(br *bufio.Reader) (string, error) {
	text, err := br.ReadString('\n')
	if len(text) > 0 && text[len(text)-1] == '\n' {
		text = text[:len(text)-1]
		if len(text) > 0 && text[len(text)-1] == '\r' {
			text = text[:len(text)-1]
		}
		return text, nil
	}
	return text, err
}
