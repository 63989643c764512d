// Package synth turns analyzed cell bodies into function definitions.
package synth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/l3aro/go-ojs/pkg/cell"
)

// ErrSynthesis is returned when a body cannot be turned into a function.
var ErrSynthesis = errors.New("synthesis failed")

// Flags select the kind of function to build. Async and Generator are
// independent.
type Flags struct {
	Async     bool
	Generator bool
	Block     bool // body is a braced statement block
}

// Function is the source form of a definition.
type Function struct {
	Params    []string `json:"params"`
	Body      string   `json:"body"`
	Async     bool     `json:"async,omitempty"`
	Generator bool     `json:"generator,omitempty"`
	Arrow     bool     `json:"arrow,omitempty"` // Body is a single expression
}

// Source renders f as a function declaration named name, or as an anonymous
// function expression when name is empty. Arrow functions ignore name.
func (f *Function) Source(name string) string {
	if f.Arrow {
		return fmt.Sprintf("(%s) => %s", strings.Join(f.Params, ", "), f.Body)
	}
	var b strings.Builder
	if f.Async {
		b.WriteString("async ")
	}
	b.WriteString("function")
	if f.Generator {
		b.WriteByte('*')
	}
	if name != "" {
		b.WriteByte(' ')
		b.WriteString(name)
	}
	fmt.Fprintf(&b, "(%s){%s}", strings.Join(f.Params, ","), f.Body)
	return b.String()
}

// Arrow builds a structural definition `(params) => expr`.
func Arrow(params []string, expr string) *Function {
	return &Function{Params: params, Body: expr, Arrow: true}
}

// Synthesize applies the reference patches to body and wraps the result in a
// function taking refs.Args positionally.
func Synthesize(refs cell.Refs, body string, flags Flags) (*Function, error) {
	patched, err := ApplyPatches(body, refs.Patches)
	if err != nil {
		return nil, err
	}

	var inner string
	if flags.Block {
		if len(patched) < 2 || patched[0] != '{' || patched[len(patched)-1] != '}' {
			return nil, fmt.Errorf("%w: block body is not braced", ErrSynthesis)
		}
		inner = patched[1 : len(patched)-1]
	} else {
		inner = "return (" + patched + "\n);"
	}

	return &Function{
		Params:    append([]string(nil), refs.Args...),
		Body:      inner,
		Async:     flags.Async,
		Generator: flags.Generator,
	}, nil
}

// ApplyPatches rewrites body. Patches are applied from the highest start
// offset down so that earlier offsets remain valid.
func ApplyPatches(body string, patches []cell.Patch) (string, error) {
	sorted := append([]cell.Patch(nil), patches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	size := len(body)
	limit := size
	for _, p := range sorted {
		if p.Start < 0 || p.Start > p.End || p.End > size {
			return "", fmt.Errorf("%w: patch [%d,%d) outside body of length %d", ErrSynthesis, p.Start, p.End, size)
		}
		if p.End > limit {
			return "", fmt.Errorf("%w: overlapping patch at %d", ErrSynthesis, p.Start)
		}
		body = body[:p.Start] + p.Text + body[p.End:]
		limit = p.Start
	}
	return body, nil
}
