package notebook

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/l3aro/go-ojs/pkg/cell"
)

// codeLanguages are the fence info strings whose blocks hold cells.
var codeLanguages = map[string]bool{
	"js":         true,
	"javascript": true,
	"ojs":        true,
	"{ojs}":      true,
}

// FromMarkdown flattens a Markdown notebook into cells: each js/ojs fenced
// block is split into cells and every run of prose between blocks becomes an
// md template cell.
func FromMarkdown(data []byte) []Cell {
	doc := goldmark.New().Parser().Parse(text.NewReader(data))

	var (
		cells []Cell
		prose = 0 // start of the prose not yet emitted
	)
	add := func(src string, line int) {
		cells = append(cells, Cell{
			Cell: cell.Cell{ID: cell.ID(strconv.Itoa(len(cells) + 1)), Source: src},
			Line: line,
		})
	}
	emitProse := func(end int) {
		if end <= prose {
			return
		}
		chunk := string(data[prose:end])
		if strings.TrimSpace(chunk) != "" {
			add(mdCell(chunk), lineOf(data, prose+leadingBlank(chunk)))
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok || !codeLanguages[strings.ToLower(string(block.Language(data)))] {
			continue
		}
		lines := block.Lines()
		if lines.Len() == 0 {
			continue
		}
		first, last := lines.At(0), lines.At(lines.Len()-1)
		fenceStart := lineStart(data, first.Start-1)
		fenceEnd := lineEnd(data, last.Stop)

		emitProse(fenceStart)
		code := string(data[first.Start:last.Stop])
		base := lineOf(data, first.Start)
		for _, c := range Split(code) {
			add(c.Source, base+c.Line-1)
		}
		prose = fenceEnd
	}
	emitProse(len(data))
	return cells
}

// mdCell wraps Markdown text in an md tagged template.
func mdCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "`", "\\`")
	s = strings.ReplaceAll(s, "${", "\\${")
	return "md`" + s + "`"
}

// lineStart returns the offset of the start of the line containing off.
func lineStart(data []byte, off int) int {
	if off <= 0 {
		return 0
	}
	return bytes.LastIndexByte(data[:off], '\n') + 1
}

// lineEnd returns the offset just past the line starting at off.
func lineEnd(data []byte, off int) int {
	if off >= len(data) {
		return len(data)
	}
	i := bytes.IndexByte(data[off:], '\n')
	if i < 0 {
		return len(data)
	}
	return off + i + 1
}

func lineOf(data []byte, off int) int {
	return 1 + bytes.Count(data[:off], []byte("\n"))
}

func leadingBlank(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\r\n"))
}
