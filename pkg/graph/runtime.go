// Package graph registers cell definitions with a reactive dataflow runtime.
package graph

import (
	"context"

	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/synth"
)

// Runtime is a reactive dataflow runtime.
type Runtime interface {
	// Module creates a module. A nil definer creates an empty module;
	// otherwise the runtime runs the definer and returns the module it built.
	Module(define Definer) (Module, error)
	Dispose()
}

// Module is a namespace of variables inside a Runtime.
type Module interface {
	Variable(insp Inspector) Variable
	// Derive returns a copy of the module in which each injection's Alias is
	// bound to the variable Name of from.
	Derive(injections []cell.Injection, from Module) (Module, error)
	// Import binds alias in this module to the variable name of from.
	Import(name, alias string, from Module) (Variable, error)
}

// Variable is a single node of the dataflow graph.
type Variable interface {
	Define(name string, inputs []string, fn synth.Callable) error
	Delete()
}

// Inspector observes a variable's evaluation state.
type Inspector interface {
	Pending()
	Fulfilled(value any)
	Rejected(err error)
}

// InspectorFactory returns the inspector for a definition of a cell, or nil
// when it is not displayed.
type InspectorFactory func(id cell.ID, name string) Inspector

// Resolver turns an import locator into a module-defining artifact.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (Definer, error)
}

// Definer populates a module of rt, like the default export of a compiled
// notebook.
type Definer interface {
	Define(rt Runtime, inspect InspectorFactory) (Module, error)
}

// DefinerFunc adapts a function to Definer.
type DefinerFunc func(rt Runtime, inspect InspectorFactory) (Module, error)

// Define calls f.
func (f DefinerFunc) Define(rt Runtime, inspect InspectorFactory) (Module, error) {
	return f(rt, inspect)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, locator string) (Definer, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, locator string) (Definer, error) {
	return f(ctx, locator)
}
