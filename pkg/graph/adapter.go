package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/l3aro/go-ojs/internal/log"
	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/expand"
	"github.com/l3aro/go-ojs/pkg/synth"
)

var (
	// ErrImportResolution is returned when an import locator cannot be
	// resolved or instantiated.
	ErrImportResolution = errors.New("import resolution failed")
	// ErrRuntimeDefine is returned when the runtime rejects a definition.
	ErrRuntimeDefine = errors.New("runtime define failed")
	// ErrDisposed is returned by operations on a disposed adapter.
	ErrDisposed = errors.New("adapter disposed")
)

// entry is what one cell currently has registered.
type entry struct {
	names []string
	vars  []Variable
}

// Adapter owns the main module of a notebook and the variables each cell
// registered in it. Registrations for one cell apply in the order they were
// issued; a later edit always replaces whatever an earlier one installed.
type Adapter struct {
	rt       Runtime
	resolver Resolver
	inspect  InspectorFactory
	factory  *synth.Factory
	logger   log.Logger

	mu     sync.Mutex
	main   Module
	cells  map[cell.ID]*entry
	tails  map[cell.ID]chan struct{}
	closed bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithResolver sets the resolver used for import cells.
func WithResolver(r Resolver) Option {
	return func(a *Adapter) { a.resolver = r }
}

// WithInspectors sets the inspector factory for observed definitions.
func WithInspectors(f InspectorFactory) Option {
	return func(a *Adapter) { a.inspect = f }
}

// WithFactory sets the factory compiling definitions into callables.
func WithFactory(f *synth.Factory) Option {
	return func(a *Adapter) { a.factory = f }
}

// WithLogger sets the logger for per-cell failures.
func WithLogger(l log.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates the main module on rt.
func New(rt Runtime, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		rt:     rt,
		cells:  make(map[cell.ID]*entry),
		tails:  make(map[cell.ID]chan struct{}),
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.factory == nil {
		a.factory = synth.NewFactory()
	}

	main, err := rt.Module(nil)
	if err != nil {
		return nil, fmt.Errorf("creating main module: %w", err)
	}
	a.main = main
	return a, nil
}

// Module returns the main module.
func (a *Adapter) Module() Module {
	return a.main
}

// Register parses source and registers the cell. A syntax error removes the
// cell's previous definitions.
func (a *Adapter) Register(ctx context.Context, id cell.ID, source string) error {
	p, err := cell.ParseCtx(ctx, source)
	if err != nil {
		return a.sequence(ctx, id, func(context.Context) func() error {
			return func() error {
				a.logger.Warn("cell does not parse", "cell", id, "err", err)
				return fmt.Errorf("cell %s: %w", id, err)
			}
		})
	}
	return a.RegisterOrReplace(ctx, id, p)
}

// RegisterOrReplace replaces the definitions of cell id with those of p.
//
// Expansion, compilation and import resolution run before the cell's previous
// definitions are touched, so they stay live until the replacement is ready.
// If ctx is cancelled first the graph is left unchanged.
func (a *Adapter) RegisterOrReplace(ctx context.Context, id cell.ID, p *cell.Parsed) error {
	return a.sequence(ctx, id, func(ctx context.Context) func() error {
		res, err := expand.Expand(p)
		if err != nil {
			return a.failure(id, err)
		}
		if res.Import != nil {
			return a.prepareImport(ctx, id, res.Import)
		}

		calls := make([]synth.Callable, len(res.Definitions))
		for i, d := range res.Definitions {
			call, err := a.factory.Compile(d.Func)
			if err != nil {
				return a.failure(id, err)
			}
			calls[i] = call
		}
		return func() error { return a.defineLocked(id, res.Definitions, calls) }
	})
}

// Dispose removes every definition of cell id.
func (a *Adapter) Dispose(ctx context.Context, id cell.ID) error {
	return a.sequence(ctx, id, func(context.Context) func() error {
		return func() error { return nil }
	})
}

// DisposeAll removes every cell and disposes the runtime. The adapter cannot
// be used afterwards.
func (a *Adapter) DisposeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for id := range a.cells {
		a.deleteLocked(id)
	}
	a.closed = true
	a.rt.Dispose()
}

// Names returns the graph names cell id currently defines.
func (a *Adapter) Names(id cell.ID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cells[id]
	if !ok {
		return nil
	}
	return append([]string(nil), e.names...)
}

// Cells returns the number of cells with registered definitions.
func (a *Adapter) Cells() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cells)
}

// sequence runs prepare without holding the lock, waits for the previous
// operation on id, then deletes id's definitions and runs the returned apply
// step under the lock. The next operation on id is released only after the
// previous one finished, even when ctx is cancelled while waiting.
func (a *Adapter) sequence(ctx context.Context, id cell.ID, prepare func(context.Context) func() error) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrDisposed
	}
	prev := a.tails[id]
	done := make(chan struct{})
	a.tails[id] = done
	a.mu.Unlock()

	release := func() {
		a.mu.Lock()
		if a.tails[id] == done {
			delete(a.tails, id)
		}
		a.mu.Unlock()
		close(done)
	}
	waited := prev == nil
	defer func() {
		if waited {
			release()
			return
		}
		go func() {
			<-prev
			release()
		}()
	}()

	apply := prepare(ctx)

	if prev != nil {
		select {
		case <-prev:
			waited = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrDisposed
	}
	a.deleteLocked(id)
	return apply()
}

// failure returns an apply step that leaves the cell without definitions and
// reports err.
func (a *Adapter) failure(id cell.ID, err error) func() error {
	return func() error {
		a.logger.Warn("cell rejected", "cell", id, "err", err)
		return fmt.Errorf("cell %s: %w", id, err)
	}
}

// prepareImport resolves the locator and builds the imported module. Only
// binding the imported names into the main module is left for the apply step.
func (a *Adapter) prepareImport(ctx context.Context, id cell.ID, plan *expand.ImportPlan) func() error {
	child, err := a.importModule(ctx, plan)
	if err != nil {
		return func() error {
			a.reject(id, plan, err)
			return fmt.Errorf("cell %s: %w", id, err)
		}
	}
	return func() error { return a.importLocked(id, plan, child) }
}

func (a *Adapter) importModule(ctx context.Context, plan *expand.ImportPlan) (Module, error) {
	if a.resolver == nil {
		return nil, fmt.Errorf("%w: %q: no resolver configured", ErrImportResolution, plan.Source)
	}
	definer, err := a.resolver.Resolve(ctx, plan.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrImportResolution, plan.Source, err)
	}
	child, err := a.rt.Module(definer)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrImportResolution, plan.Source, err)
	}
	if plan.Derived() {
		child, err = child.Derive(plan.Injections, a.main)
		if err != nil {
			return nil, fmt.Errorf("%w: deriving %q: %w", ErrRuntimeDefine, plan.Source, err)
		}
	}
	return child, nil
}

func (a *Adapter) importLocked(id cell.ID, plan *expand.ImportPlan, child Module) error {
	e := &entry{}
	a.cells[id] = e
	for _, b := range plan.Bindings() {
		v, err := a.main.Import(b.Name, b.Alias, child)
		if err != nil {
			return fmt.Errorf("cell %s: %w: import %q: %v", id, ErrRuntimeDefine, b.Alias, err)
		}
		e.names = append(e.names, b.Alias)
		e.vars = append(e.vars, v)
	}
	a.logger.Debug("cell imported", "cell", id, "source", plan.Source, "bindings", len(e.vars))
	return nil
}

func (a *Adapter) defineLocked(id cell.ID, defs []expand.Definition, calls []synth.Callable) error {
	e := &entry{}
	a.cells[id] = e
	for i, d := range defs {
		var insp Inspector
		if d.Observed && a.inspect != nil {
			insp = a.inspect(id, d.Name)
		}
		v := a.main.Variable(insp)
		e.names = append(e.names, d.Name)
		e.vars = append(e.vars, v)
		if err := v.Define(d.Name, d.Inputs, calls[i]); err != nil {
			a.logger.Warn("define failed", "cell", id, "name", d.Name, "err", err)
			return fmt.Errorf("cell %s: %w: %q: %v", id, ErrRuntimeDefine, d.Name, err)
		}
	}
	return nil
}

// reject reports err to the inspector of an import cell.
func (a *Adapter) reject(id cell.ID, plan *expand.ImportPlan, err error) {
	a.logger.Warn("import rejected", "cell", id, "source", plan.Source, "err", err)
	if a.inspect == nil {
		return
	}
	name := ""
	if b := plan.Bindings(); len(b) > 0 {
		name = b[0].Alias
	}
	if insp := a.inspect(id, name); insp != nil {
		insp.Rejected(err)
	}
}

func (a *Adapter) deleteLocked(id cell.ID) {
	e, ok := a.cells[id]
	if !ok {
		return
	}
	for _, v := range e.vars {
		v.Delete()
	}
	delete(a.cells, id)
}
