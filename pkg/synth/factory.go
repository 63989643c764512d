package synth

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// Callable evaluates a compiled definition. A nil this is passed to the
// function as undefined.
type Callable func(this any, args ...any) (any, error)

// Factory compiles Functions into Callables backed by a single JavaScript VM.
// Calls into the VM are serialized.
type Factory struct {
	mu sync.Mutex
	vm *goja.Runtime
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithGlobal installs a host value under name in the VM's global object.
func WithGlobal(name string, value any) FactoryOption {
	return func(f *Factory) {
		if err := f.vm.Set(name, value); err != nil {
			panic(fmt.Sprintf("synth: setting global %q: %v", name, err))
		}
	}
}

// NewFactory creates a Factory with a fresh VM.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{vm: goja.New()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Compile evaluates fn's source to a function value.
func (f *Factory) Compile(fn *Function) (Callable, error) {
	src := "(" + fn.Source("") + ")"

	f.mu.Lock()
	v, err := f.vm.RunString(src)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	call, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("%w: source is not a function", ErrSynthesis)
	}

	return func(this any, args ...any) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()

		recv := goja.Undefined()
		if this != nil {
			recv = f.vm.ToValue(this)
		}
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = f.vm.ToValue(a)
		}
		res, err := call(recv, vals...)
		if err != nil {
			return nil, err
		}
		return res.Export(), nil
	}, nil
}
