package cell

import (
	"fmt"
	"strings"
)

// SyntaxError reports cell source that does not parse. Offsets are byte
// offsets into the cell source.
type SyntaxError struct {
	Pos      int    `json:"pos"`
	RaisedAt int    `json:"raisedAt"`
	Line     int    `json:"line"`   // 1-based
	Column   int    `json:"column"` // 0-based
	Message  string `json:"message"`
}

func (e *SyntaxError) Error() string {
	return e.Message
}

func newSyntaxError(src string, pos, raisedAt int, msg string) *SyntaxError {
	pos = clamp(pos, 0, len(src))
	raisedAt = clamp(raisedAt, pos, len(src))
	line, col := lineCol(src, pos)
	return &SyntaxError{
		Pos:      pos,
		RaisedAt: raisedAt,
		Line:     line,
		Column:   col,
		Message:  fmt.Sprintf("%s (%d:%d)", msg, line, col),
	}
}

// lineCol converts a byte offset into a 1-based line and 0-based column.
func lineCol(src string, off int) (int, int) {
	line := 1 + strings.Count(src[:off], "\n")
	col := off - (strings.LastIndexByte(src[:off], '\n') + 1)
	return line, col
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snippet renders err against src with one line of context on either side and
// a caret run under the offending span.
func Snippet(src string, err *SyntaxError) string {
	lines := strings.Split(src, "\n")
	line := clamp(err.Line, 1, len(lines))
	text := lines[line-1]
	col := clamp(err.Column, 0, len(text))

	width := 1
	if end := err.RaisedAt - err.Pos; end > 1 {
		width = end
	}
	if col+width > len(text) {
		width = max(1, len(text)-col)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SyntaxError: %s\n\n", err.Message)
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, text)
	fmt.Fprintf(&b, "     | %s%s\n", strings.Repeat(" ", col), strings.Repeat("^", width))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
