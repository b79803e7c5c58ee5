// Package span locates diagnostics and generated declarations in source files.
package span

import "fmt"

// Span is a half-open range of a source file, in 1-based line/column
// coordinates, matching the position format most JS/TS parsers report.
type Span struct {
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

func (s Span) String() string {
	if s.StartLine == s.EndLine && s.StartCol == s.EndCol {
		return fmt.Sprintf("%s:%d:%d", s.File, s.StartLine, s.StartCol)
	}
	return fmt.Sprintf("%s:%d:%d-%d:%d", s.File, s.StartLine, s.StartCol, s.EndLine, s.EndCol)
}

// Zero reports whether s carries no position information (e.g. a
// synthesized span for a diagnostic not tied to one token).
func (s Span) Zero() bool {
	return s.StartLine == 0 && s.StartCol == 0 && s.EndLine == 0 && s.EndCol == 0
}

// LineIndex converts byte offsets within src into 1-based line/column
// pairs. It exists for parser backends that report byte offsets rather
// than line/column pairs directly.
type LineIndex struct {
	lineStarts []int
}

// NewLineIndex scans src once and records the byte offset of the start
// of every line.
func NewLineIndex(src []byte) *LineIndex {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{lineStarts: starts}
}

// Position returns the 1-based line and column for a byte offset.
func (idx *LineIndex) Position(offset int) (line, col int) {
	lo, hi := 0, len(idx.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if idx.lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1, offset - idx.lineStarts[lo] + 1
}
