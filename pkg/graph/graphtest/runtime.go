// Package graphtest provides an in-memory graph.Runtime that records every
// operation and evaluates definitions on demand.
package graphtest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/graph"
	"github.com/l3aro/go-ojs/pkg/synth"
)

// Op is one recorded runtime call.
type Op struct {
	Kind   string // module, define, delete, derive, import, dispose
	Module int
	Name   string
	Alias  string
	Inputs []string
}

func (o Op) String() string {
	switch o.Kind {
	case "define":
		return fmt.Sprintf("m%d.define(%q, [%s])", o.Module, o.Name, strings.Join(o.Inputs, ", "))
	case "import":
		return fmt.Sprintf("m%d.import(%q, %q)", o.Module, o.Name, o.Alias)
	default:
		return fmt.Sprintf("m%d.%s(%s)", o.Module, o.Kind, o.Name)
	}
}

// Runtime is a recording graph.Runtime.
type Runtime struct {
	mu       sync.Mutex
	ops      []Op
	modules  []*Module
	Builtins map[string]any
	Disposed bool
}

var _ graph.Runtime = (*Runtime)(nil)

// New creates an empty Runtime.
func New() *Runtime {
	return &Runtime{Builtins: make(map[string]any)}
}

// Module creates a module, running define when it is non-nil.
func (r *Runtime) Module(define graph.Definer) (graph.Module, error) {
	if define != nil {
		return define.Define(r, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &Module{rt: r, id: len(r.modules), vars: make(map[string]*Variable)}
	r.modules = append(r.modules, m)
	r.ops = append(r.ops, Op{Kind: "module", Module: m.id})
	return m, nil
}

// Dispose marks the runtime disposed.
func (r *Runtime) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Disposed = true
	r.ops = append(r.ops, Op{Kind: "dispose"})
}

// Ops returns a copy of the recorded operations.
func (r *Runtime) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Count returns how many operations of kind were recorded.
func (r *Runtime) Count(kind string) int {
	n := 0
	for _, op := range r.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Reset forgets recorded operations.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func (r *Runtime) record(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

// Module is a recording graph.Module.
type Module struct {
	rt   *Runtime
	id   int
	mu   sync.Mutex
	vars map[string]*Variable
	// injected names resolve in another module.
	injected map[string]binding
}

var _ graph.Module = (*Module)(nil)

type binding struct {
	from *Module
	name string
}

// ID returns the module's creation index.
func (m *Module) ID() int { return m.id }

// Variable creates an undefined variable.
func (m *Module) Variable(insp graph.Inspector) graph.Variable {
	return &Variable{module: m, insp: insp}
}

// Derive copies the module's definitions and binds each injection alias to
// the injected name of from.
func (m *Module) Derive(injections []cell.Injection, from graph.Module) (graph.Module, error) {
	src, ok := from.(*Module)
	if !ok {
		return nil, errors.New("graphtest: foreign module")
	}
	child, _ := m.rt.Module(nil)
	cm := child.(*Module)

	m.mu.Lock()
	for name, v := range m.vars {
		cm.vars[name] = &Variable{module: cm, name: name, inputs: v.inputs, fn: v.fn, imported: v.imported, defined: true}
	}
	m.mu.Unlock()

	cm.injected = make(map[string]binding, len(injections))
	names := make([]string, 0, len(injections))
	for _, inj := range injections {
		cm.injected[inj.Alias] = binding{from: src, name: inj.Name}
		names = append(names, inj.Name+" as "+inj.Alias)
	}
	m.rt.record(Op{Kind: "derive", Module: cm.id, Inputs: names})
	return cm, nil
}

// Import binds alias in m to name in from.
func (m *Module) Import(name, alias string, from graph.Module) (graph.Variable, error) {
	src, ok := from.(*Module)
	if !ok {
		return nil, errors.New("graphtest: foreign module")
	}
	v := &Variable{module: m, name: alias, imported: &binding{from: src, name: name}}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.vars[alias]; dup {
		return nil, fmt.Errorf("%s is defined more than once", alias)
	}
	v.defined = true
	m.vars[alias] = v
	m.rt.record(Op{Kind: "import", Module: m.id, Name: name, Alias: alias})
	return v, nil
}

// Names returns the live variable names.
func (m *Module) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.vars))
	for name := range m.vars {
		out = append(out, name)
	}
	return out
}

// Has reports whether name is live in the module.
func (m *Module) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vars[name]
	return ok
}

// Value evaluates name, resolving inputs recursively through the module,
// injections, imports and the runtime's builtins.
func (m *Module) Value(name string) (any, error) {
	return m.value(name, make(map[*Variable]bool))
}

func (m *Module) value(name string, visiting map[*Variable]bool) (any, error) {
	m.mu.Lock()
	v, ok := m.vars[name]
	inj, injected := m.injected[name]
	m.mu.Unlock()

	switch {
	case injected:
		return inj.from.value(inj.name, visiting)
	case ok:
		return v.evaluate(visiting)
	}
	if b, ok := m.rt.Builtins[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%s is not defined", name)
}

// Variable is a recording graph.Variable.
type Variable struct {
	module   *Module
	insp     graph.Inspector
	name     string
	inputs   []string
	fn       synth.Callable
	imported *binding
	defined  bool
	deleted  bool
}

var _ graph.Variable = (*Variable)(nil)

// Define names the variable and records its computation.
func (v *Variable) Define(name string, inputs []string, fn synth.Callable) error {
	m := v.module
	m.mu.Lock()
	if name != "" {
		if _, dup := m.vars[name]; dup {
			m.mu.Unlock()
			return fmt.Errorf("%s is defined more than once", name)
		}
	}
	v.name, v.inputs, v.fn, v.defined = name, inputs, fn, true
	if name != "" {
		m.vars[name] = v
	}
	m.mu.Unlock()

	m.rt.record(Op{Kind: "define", Module: m.id, Name: name, Inputs: inputs})
	if v.insp != nil {
		v.insp.Pending()
	}
	return nil
}

// Delete removes the variable from its module.
func (v *Variable) Delete() {
	m := v.module
	m.mu.Lock()
	if v.deleted {
		m.mu.Unlock()
		return
	}
	v.deleted = true
	if v.name != "" && m.vars[v.name] == v {
		delete(m.vars, v.name)
	}
	m.mu.Unlock()
	m.rt.record(Op{Kind: "delete", Module: m.id, Name: v.name})
}

// Evaluate computes the variable's value and reports it to its inspector.
func (v *Variable) Evaluate() (any, error) {
	return v.evaluate(make(map[*Variable]bool))
}

func (v *Variable) evaluate(visiting map[*Variable]bool) (any, error) {
	if v.imported != nil {
		return v.imported.from.value(v.imported.name, visiting)
	}
	if visiting[v] {
		return nil, fmt.Errorf("circular definition: %s", v.name)
	}
	visiting[v] = true
	defer delete(visiting, v)

	args := make([]any, len(v.inputs))
	for i, in := range v.inputs {
		val, err := v.module.value(in, visiting)
		if err != nil {
			v.reject(err)
			return nil, err
		}
		args[i] = val
	}
	val, err := v.fn(nil, args...)
	if err != nil {
		v.reject(err)
		return nil, err
	}
	if v.insp != nil {
		v.insp.Fulfilled(val)
	}
	return val, nil
}

func (v *Variable) reject(err error) {
	if v.insp != nil {
		v.insp.Rejected(err)
	}
}

// Inspector records the state changes it receives.
type Inspector struct {
	mu     sync.Mutex
	States []string
	Value  any
	Err    error
}

var _ graph.Inspector = (*Inspector)(nil)

func (i *Inspector) Pending() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.States = append(i.States, "pending")
}

func (i *Inspector) Fulfilled(value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.States = append(i.States, "fulfilled")
	i.Value = value
}

func (i *Inspector) Rejected(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.States = append(i.States, "rejected")
	i.Err = err
}

// Inspectors hands out one recording Inspector per cell definition.
type Inspectors struct {
	mu   sync.Mutex
	byID map[string]*Inspector
}

// NewInspectors creates an empty Inspectors set.
func NewInspectors() *Inspectors {
	return &Inspectors{byID: make(map[string]*Inspector)}
}

// Factory is a graph.InspectorFactory backed by the set.
func (s *Inspectors) Factory(id cell.ID, name string) graph.Inspector {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(id) + "/" + name
	if insp, ok := s.byID[key]; ok {
		return insp
	}
	insp := &Inspector{}
	s.byID[key] = insp
	return insp
}

// Get returns the inspector created for a cell definition, or nil.
func (s *Inspectors) Get(id cell.ID, name string) *Inspector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[string(id)+"/"+name]
}
