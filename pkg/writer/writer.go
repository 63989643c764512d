// Package writer emits expanded cells as a standalone module program.
//
// The program imports the notebooks it depends on, declares one function per
// cell computation and exports a define function that builds the module with
// the same define and import calls a live graph would receive:
//
//	import define1 from "https://api.observablehq.com/@d3/color-legend.js?v=3";
//
//	function _x(a){return (a + 1
//	);}
//
//	export default function define(runtime, observer) {
//	  const main = runtime.module();
//	  main.variable(observer("x")).define("x", ["a"], _x);
//	  const child1 = runtime.module(define1);
//	  main.import("legend", child1);
//	  return main;
//	}
package writer

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/l3aro/go-ojs/pkg/expand"
	"github.com/l3aro/go-ojs/pkg/resolve"
)

// ErrUnresolvable is returned for import cells whose locator has no URL.
var ErrUnresolvable = errors.New("unresolvable import")

// Writer accumulates cells. The zero value is not usable; call New.
type Writer struct {
	origin  string
	version string

	imports   []string
	fragments []string
	calls     []string

	defines  map[string]int // url -> defineN
	fnames   map[string]int // fragment name -> uses
	anon     int
	children int
}

// Option configures a Writer.
type Option func(*Writer)

// WithOrigin sets the origin and module version of remote imports.
func WithOrigin(origin, version string) Option {
	return func(w *Writer) {
		w.origin, w.version = origin, version
	}
}

// New creates an empty Writer.
func New(opts ...Option) *Writer {
	w := &Writer{
		defines: make(map[string]int),
		fnames:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddCell appends the definitions or import of one cell. On error nothing is
// added.
func (w *Writer) AddCell(res *expand.Result) error {
	if res.Import != nil {
		return w.addImport(res.Import)
	}
	for _, d := range res.Definitions {
		if d.Func == nil {
			return fmt.Errorf("definition %q has no function", d.Name)
		}
	}

	for _, d := range res.Definitions {
		fn := d.Func.Source("")
		if !d.Func.Arrow {
			name := w.fragmentName(d.Name)
			w.fragments = append(w.fragments, d.Func.Source(name))
			fn = name
		}
		w.calls = append(w.calls, defineCall(d, fn))
	}
	return nil
}

func (w *Writer) addImport(plan *expand.ImportPlan) error {
	url, err := resolve.URL(w.origin, w.version, plan.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnresolvable, err)
	}

	n, ok := w.defines[url]
	if !ok {
		n = len(w.defines) + 1
		w.defines[url] = n
		w.imports = append(w.imports, fmt.Sprintf("import define%d from %s;", n, quote(url)))
	}

	w.children++
	child := fmt.Sprintf("child%d", w.children)
	module := fmt.Sprintf("runtime.module(define%d)", n)
	if plan.Derived() {
		injections := make([]string, len(plan.Injections))
		for i, inj := range plan.Injections {
			if inj.Name == inj.Alias {
				injections[i] = quote(inj.Name)
			} else {
				injections[i] = fmt.Sprintf("{name: %s, alias: %s}", quote(inj.Name), quote(inj.Alias))
			}
		}
		module += fmt.Sprintf(".derive([%s], main)", strings.Join(injections, ", "))
	}
	w.calls = append(w.calls, fmt.Sprintf("const %s = %s;", child, module))

	for _, b := range plan.Bindings() {
		if b.Name == b.Alias {
			w.calls = append(w.calls, fmt.Sprintf("main.import(%s, %s);", quote(b.Name), child))
		} else {
			w.calls = append(w.calls, fmt.Sprintf("main.import(%s, %s, %s);", quote(b.Name), quote(b.Alias), child))
		}
	}
	return nil
}

// fragmentName returns a unique function name for a definition. Anonymous
// definitions are numbered.
func (w *Writer) fragmentName(name string) string {
	if name == "" {
		w.anon++
		return "_" + strconv.Itoa(w.anon)
	}
	for _, prefix := range []string{"viewof ", "mutable ", "initial "} {
		name = strings.TrimPrefix(name, prefix)
	}
	base := "_" + name
	w.fnames[base]++
	if n := w.fnames[base]; n > 1 {
		return base + strconv.Itoa(n)
	}
	return base
}

func defineCall(d expand.Definition, fn string) string {
	inputs := make([]string, len(d.Inputs))
	for i, in := range d.Inputs {
		inputs[i] = quote(in)
	}
	args := "[" + strings.Join(inputs, ", ") + "], " + fn

	switch {
	case !d.Observed:
		return fmt.Sprintf("main.define(%s, %s);", quote(d.Name), args)
	case d.Name == "":
		return fmt.Sprintf("main.variable(observer()).define(%s);", args)
	default:
		return fmt.Sprintf("main.variable(observer(%s)).define(%s, %s);", quote(d.Name), quote(d.Name), args)
	}
}

// Len returns the number of define and import statements added.
func (w *Writer) Len() int {
	return len(w.calls)
}

// String returns the program.
func (w *Writer) String() string {
	var b strings.Builder
	for _, imp := range w.imports {
		b.WriteString(imp)
		b.WriteByte('\n')
	}
	if len(w.imports) > 0 {
		b.WriteByte('\n')
	}
	for _, f := range w.fragments {
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	b.WriteString("export default function define(runtime, observer) {\n")
	b.WriteString("  const main = runtime.module();\n")
	for _, c := range w.calls {
		b.WriteString("  ")
		b.WriteString(c)
		b.WriteByte('\n')
	}
	b.WriteString("  return main;\n}\n")
	return b.String()
}

// WriteTo writes the program to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	n, err := io.WriteString(out, w.String())
	return int64(n), err
}

func quote(s string) string {
	return strconv.Quote(s)
}
