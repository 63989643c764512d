// Package expand classifies parsed cells and expands them into the
// definitions registered with a dataflow graph.
package expand

import (
	"errors"
	"fmt"

	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/synth"
)

// ErrClassification is returned for cells whose shape is not supported.
var ErrClassification = errors.New("unsupported cell")

// Definition is one named, parameterized computation. An empty Name is an
// anonymous cell.
type Definition struct {
	Name     string          `json:"name,omitempty"`
	Inputs   []string        `json:"inputs"`
	Func     *synth.Function `json:"func"`
	Observed bool            `json:"observed"`
}

// ImportPlan describes the imports an import cell performs.
type ImportPlan struct {
	Source     string           `json:"source"`
	Specifiers []cell.Specifier `json:"specifiers"`
	Injections []cell.Injection `json:"injections,omitempty"`
}

// Binding is a single import of Name from the child module as Alias in the
// importing module.
type Binding struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// Bindings returns one binding per specifier plus the plain value for each
// view specifier.
func (p *ImportPlan) Bindings() []Binding {
	var out []Binding
	for _, s := range p.Specifiers {
		if s.View {
			out = append(out,
				Binding{Name: "viewof " + s.Name, Alias: "viewof " + s.Alias},
				Binding{Name: s.Name, Alias: s.Alias},
			)
			continue
		}
		out = append(out, Binding{Name: s.Name, Alias: s.Alias})
	}
	return out
}

// Derived reports whether the child module must be derived before importing.
func (p *ImportPlan) Derived() bool {
	return len(p.Injections) > 0
}

// Result is the expansion of one cell. Exactly one of Definitions and Import
// is set, unless the cell is empty.
type Result struct {
	Definitions []Definition `json:"definitions,omitempty"`
	Import      *ImportPlan  `json:"import,omitempty"`
}

// Names returns the graph names the result defines, in order.
func (r *Result) Names() []string {
	if r.Import != nil {
		var names []string
		for _, b := range r.Import.Bindings() {
			names = append(names, b.Alias)
		}
		return names
	}
	names := make([]string, 0, len(r.Definitions))
	for _, d := range r.Definitions {
		names = append(names, d.Name)
	}
	return names
}

// Expand classifies p and returns its definitions or import plan.
func Expand(p *cell.Parsed) (*Result, error) {
	if p.Empty {
		return &Result{}, nil
	}
	if p.BodyKind == cell.BodyImport {
		plan, err := importPlan(p)
		if err != nil {
			return nil, err
		}
		return &Result{Import: plan}, nil
	}

	fn, err := synth.Synthesize(p.Refs, p.Body, synth.Flags{
		Async:     p.Async,
		Generator: p.Generator,
		Block:     p.Block,
	})
	if err != nil {
		return nil, err
	}
	inputs := append([]string(nil), p.Refs.Inputs...)

	switch p.Name.Kind {
	case cell.NameView:
		view := p.Name.String()
		return &Result{Definitions: []Definition{
			{Name: view, Inputs: inputs, Func: fn, Observed: true},
			{
				Name:     p.Name.Name,
				Inputs:   []string{"Generators", view},
				Func:     synth.Arrow([]string{"G", "_"}, "G.input(_)"),
				Observed: true,
			},
		}}, nil
	case cell.NameMutable:
		initial := "initial " + p.Name.Name
		box := p.Name.String()
		return &Result{Definitions: []Definition{
			{Name: initial, Inputs: inputs, Func: fn},
			{Name: box, Inputs: []string{"Mutable", initial}, Func: synth.Arrow([]string{"M", "_"}, "new M(_)"), Observed: true},
			{Name: p.Name.Name, Inputs: []string{box}, Func: synth.Arrow([]string{"_"}, "_.generator"), Observed: true},
		}}, nil
	default:
		return &Result{Definitions: []Definition{
			{Name: p.Name.String(), Inputs: inputs, Func: fn, Observed: true},
		}}, nil
	}
}

func importPlan(p *cell.Parsed) (*ImportPlan, error) {
	spec := p.Import
	switch {
	case spec == nil:
		return nil, fmt.Errorf("%w: import cell without import clause", ErrClassification)
	case p.Name.Kind != cell.NameNone:
		return nil, fmt.Errorf("%w: import cannot be assigned to %q", ErrClassification, p.Name.String())
	case spec.Default != "":
		return nil, fmt.Errorf("%w: default import %q; use named imports", ErrClassification, spec.Default)
	case spec.Namespace != "":
		return nil, fmt.Errorf("%w: namespace import %q; use named imports", ErrClassification, spec.Namespace)
	case len(spec.Specifiers) == 0:
		return nil, fmt.Errorf("%w: import from %q names no cells", ErrClassification, spec.Source)
	}

	plan := &ImportPlan{
		Source:     spec.Source,
		Specifiers: append([]cell.Specifier(nil), spec.Specifiers...),
		Injections: append([]cell.Injection(nil), spec.Injections...),
	}
	seen := make(map[string]bool)
	for _, b := range plan.Bindings() {
		if seen[b.Alias] {
			return nil, fmt.Errorf("%w: %q imported more than once", ErrClassification, b.Alias)
		}
		seen[b.Alias] = true
	}
	return plan, nil
}
