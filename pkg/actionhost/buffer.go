package actionhost

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Buffer backs the WRITE_TO_BUFFER family of builtins. It is
// an in-process, named-buffer store flushed to caller-supplied writers:
// the core treats file discovery and path handling as an external
// collaborator, so the FILES variants write to an
// io.Writer set the caller already opened rather than taking paths
// themselves.
type Buffer struct {
	mu    sync.Mutex
	named map[string]*bytes.Buffer
}

// NewBuffer creates an empty named-buffer set.
func NewBuffer() *Buffer {
	return &Buffer{named: make(map[string]*bytes.Buffer)}
}

func (b *Buffer) get(name string) *bytes.Buffer {
	buf, ok := b.named[name]
	if !ok {
		buf = &bytes.Buffer{}
		b.named[name] = buf
	}
	return buf
}

// Write appends text to the named buffer, creating it if needed.
func (b *Buffer) Write(name, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(name).WriteString(text)
}

// Clear empties the named buffer without removing it.
func (b *Buffer) Clear(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(name).Reset()
}

// FlushToWriters writes the named buffer's contents to every writer (the
// WRITE_BUFFER_TO_FILES shape: one logical buffer, many destinations).
func (b *Buffer) FlushToWriters(name string, writers ...io.Writer) error {
	b.mu.Lock()
	data := append([]byte(nil), b.get(name).Bytes()...)
	b.mu.Unlock()

	for _, w := range writers {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// FlushToStdout writes the named buffer's contents to w (WRITE_BUFFER_TO_STDOUT).
func (b *Buffer) FlushToStdout(name string, w io.Writer) error {
	return b.FlushToWriters(name, w)
}

// WriteListToWriters writes each item of list, one per line, to every
// writer (WRITE_LIST_TO_FILES/STDOUT).
func WriteListToWriters(list []string, writers ...io.Writer) error {
	joined := strings.Join(list, "\n")
	if len(list) > 0 {
		joined += "\n"
	}
	for _, w := range writers {
		if _, err := io.WriteString(w, joined); err != nil {
			return err
		}
	}
	return nil
}

// XlatArToString joins an array-valued runtime variable into a single
// string with sep between elements (XLAT_AR_TO_STRING).
func XlatArToString(arr []string, sep string) string {
	return strings.Join(arr, sep)
}
