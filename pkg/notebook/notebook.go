// Package notebook splits notebook files into cells.
//
// An .ojs file is a sequence of cells separated by semicolons or by line
// breaks where the statement cannot continue. An .omd file is Markdown whose
// js and ojs fenced code blocks hold cells; the prose between them becomes md
// template cells.
package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/l3aro/go-ojs/pkg/cell"
)

// Cell is a cell located in a notebook file.
type Cell struct {
	cell.Cell
	Line int `json:"line"` // 1-based line of the first byte in the file
}

// Notebook is the cell list of one file.
type Notebook struct {
	Path  string `json:"path"`
	Cells []Cell `json:"cells"`
}

// Sources returns the cell sources in order.
func (nb *Notebook) Sources() []string {
	out := make([]string, len(nb.Cells))
	for i, c := range nb.Cells {
		out[i] = c.Source
	}
	return out
}

// Load reads and splits a notebook file.
func Load(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading notebook: %w", err)
	}
	return Parse(path, data), nil
}

// Parse splits data according to the extension of path.
func Parse(path string, data []byte) *Notebook {
	nb := &Notebook{Path: path}
	if IsMarkdown(path) {
		nb.Cells = FromMarkdown(data)
	} else {
		nb.Cells = Split(string(data))
	}
	return nb
}

// IsMarkdown reports whether path names a Markdown notebook.
func IsMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".omd", ".md":
		return true
	}
	return false
}

// Split divides OJS source into cells. Cells holding only comments are
// dropped. Cell ids are 1-based positions.
func Split(src string) []Cell {
	var cells []Cell
	for _, seg := range segments(src) {
		cells = append(cells, Cell{
			Cell: cell.Cell{ID: cell.ID(strconv.Itoa(len(cells) + 1)), Source: src[seg.Start:seg.End]},
			Line: 1 + strings.Count(src[:seg.Start], "\n"),
		})
	}
	return cells
}

// segments returns the spans of the cells in src.
func segments(src string) []cell.Span {
	toks := cell.Lex(src)
	var (
		spans []cell.Span
		depth int
		start = -1 // first token of the current cell
		code  bool // current cell has a non-comment token
		last  = -1 // last significant token of the current cell
		lead  = -1 // first own-line comment after last
	)
	flush := func(end int) {
		if start >= 0 && code {
			spans = append(spans, cell.Span{Start: start, End: end})
		}
		start, code, last = -1, false, -1
	}

	for i, t := range toks {
		if t.Kind == cell.TokenComment {
			if start < 0 {
				start = t.Start
			} else if lead < 0 && last >= 0 && strings.Contains(src[toks[last].End:t.Start], "\n") {
				lead = t.Start
			}
			continue
		}
		if code && depth == 0 && last >= 0 &&
			strings.Contains(src[toks[last].End:t.Start], "\n") &&
			!continues(src, toks, last, i) {
			flush(toks[last].End)
			start = t.Start
			if lead >= 0 {
				start = lead
			}
		}
		lead = -1
		if start < 0 {
			start = t.Start
		}
		if t.Kind == cell.TokenPunct {
			switch src[t.Start] {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				if depth > 0 {
					depth--
				}
			case ';':
				if depth == 0 {
					if code {
						flush(toks[last].End)
					} else {
						start, last = -1, -1
					}
					continue
				}
			}
		}
		if t.Kind == cell.TokenTemplate && strings.HasSuffix(t.Text(src), "${") {
			depth++
		}
		if t.Kind == cell.TokenTemplate && src[t.Start] == '}' {
			depth--
		}
		code = true
		last = i
	}
	if last >= 0 {
		flush(toks[last].End)
	}
	return spans
}

// continues reports whether the statement ending at toks[prev] carries on
// into toks[next] across a line break.
func continues(src string, toks []cell.Token, prev, next int) bool {
	p, n := toks[prev], toks[next]
	pt, nt := p.Text(src), n.Text(src)

	switch p.Kind {
	case cell.TokenPunct:
		switch pt {
		case "+", "-":
			// x++ and x-- end a statement.
			if prev > 0 && toks[prev-1].End == p.Start && toks[prev-1].Text(src) == pt {
				return false
			}
			return true
		case ")", "]", "}":
		default:
			return true
		}
	case cell.TokenIdent:
		if prevKeywords[pt] {
			return true
		}
	case cell.TokenTemplate:
		if strings.HasSuffix(pt, "${") {
			return true
		}
	}

	switch n.Kind {
	case cell.TokenPunct:
		switch nt {
		case "+", "-":
			// ++x and --x start a statement.
			if next+1 < len(toks) && toks[next+1].Start == n.End && toks[next+1].Text(src) == nt {
				return false
			}
			return true
		case "(", "[", ".", ",", "?", ":", "=", "*", "/", "%", "&", "|", "^", "<", ">", ")", "]", "}":
			return true
		}
	case cell.TokenIdent:
		return nextKeywords[nt]
	case cell.TokenTemplate:
		return src[n.Start] == '`'
	}
	return false
}

var prevKeywords = map[string]bool{
	"typeof": true, "new": true, "delete": true, "void": true, "in": true,
	"of": true, "instanceof": true, "await": true, "import": true,
	"function": true, "class": true, "extends": true, "viewof": true,
	"mutable": true, "async": true, "else": true, "do": true, "as": true,
	"from": true, "with": true, "let": true, "const": true, "var": true,
	"case": true,
}

var nextKeywords = map[string]bool{
	"else": true, "catch": true, "finally": true, "in": true, "of": true,
	"instanceof": true, "from": true, "with": true, "as": true,
}
