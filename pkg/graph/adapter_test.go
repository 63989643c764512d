package graph_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/expand"
	"github.com/l3aro/go-ojs/pkg/graph"
	"github.com/l3aro/go-ojs/pkg/graph/graphtest"
)

func newAdapter(t *testing.T, opts ...graph.Option) (*graph.Adapter, *graphtest.Runtime, *graphtest.Module) {
	t.Helper()
	rt := graphtest.New()
	a, err := graph.New(rt, opts...)
	require.NoError(t, err)
	return a, rt, a.Module().(*graphtest.Module)
}

func TestRegisterPlainCell(t *testing.T) {
	a, rt, main := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "c1", "x = 1 + 1"))

	assert.Equal(t, []string{"x"}, a.Names("c1"))
	assert.Equal(t, 1, rt.Count("define"))
	got, err := main.Value("x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestRegisterDependentCells(t *testing.T) {
	a, _, main := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "a", "a = 20"))
	require.NoError(t, a.Register(ctx, "b", "b = a * 2 + 2"))

	got, err := main.Value("b")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestReplaceViewCell(t *testing.T) {
	a, rt, main := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "n", "viewof n = Inputs.range([0,10])"))
	assert.Equal(t, []string{"viewof n", "n"}, a.Names("n"))

	rt.Reset()
	require.NoError(t, a.Register(ctx, "n", "viewof n = Inputs.range([0,20])"))

	ops := rt.Ops()
	require.Len(t, ops, 4)
	assert.Equal(t, "delete", ops[0].Kind)
	assert.Equal(t, "delete", ops[1].Kind)
	assert.Equal(t, "viewof n", ops[2].Name)
	assert.Equal(t, "n", ops[3].Name)
	assert.Equal(t, []string{"Generators", "viewof n"}, ops[3].Inputs)
	assert.ElementsMatch(t, []string{"viewof n", "n"}, main.Names())
}

func TestRegisterMutableCell(t *testing.T) {
	a, rt, _ := newAdapter(t)

	require.NoError(t, a.Register(context.Background(), "m", "mutable count = 0"))

	var defined []string
	for _, op := range rt.Ops() {
		if op.Kind == "define" {
			defined = append(defined, op.Name)
		}
	}
	assert.Equal(t, []string{"initial count", "mutable count", "count"}, defined)
}

func TestRenameRemovesStaleName(t *testing.T) {
	a, _, main := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "c", "x = 1"))
	require.NoError(t, a.Register(ctx, "c", "y = 1"))

	assert.False(t, main.Has("x"))
	assert.True(t, main.Has("y"))
}

func TestRegisterErrorsClearPreviousDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		source string
		check  func(*testing.T, error)
	}{
		{"syntax error", "x = 1 +", func(t *testing.T, err error) {
			var serr *cell.SyntaxError
			assert.True(t, errors.As(err, &serr))
		}},
		{"classification error", `x = import {a} from "b"`, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, expand.ErrClassification))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, main := newAdapter(t)
			ctx := context.Background()
			require.NoError(t, a.Register(ctx, "c", "x = 1"))

			err := a.Register(ctx, "c", tt.source)
			require.Error(t, err)
			tt.check(t, err)
			assert.False(t, main.Has("x"))
			assert.Empty(t, a.Names("c"))
		})
	}
}

func TestRuntimeDefineError(t *testing.T) {
	a, _, main := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "first", "x = 1"))
	err := a.Register(ctx, "second", "x = 2")
	assert.True(t, errors.Is(err, graph.ErrRuntimeDefine))

	// The failed variable is tracked, so fixing the cell leaves no residue.
	require.NoError(t, a.Register(ctx, "second", "y = 2"))
	assert.True(t, main.Has("x"))
	assert.True(t, main.Has("y"))
}

func TestIndependentCellsSurviveFailures(t *testing.T) {
	a, _, main := newAdapter(t)
	ctx := context.Background()

	sources := []string{"a = 1", "b = (", "c = a + 1"}
	var failed int
	for i, src := range sources {
		if err := a.Register(ctx, cell.ID(fmt.Sprintf("c%d", i)), src); err != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	got, err := main.Value("c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func staticResolver(t *testing.T, cells map[string]string) graph.Resolver {
	return graph.ResolverFunc(func(ctx context.Context, locator string) (graph.Definer, error) {
		return graph.DefinerFunc(func(rt graph.Runtime, inspect graph.InspectorFactory) (graph.Module, error) {
			child, err := graph.New(rt)
			if err != nil {
				return nil, err
			}
			for name, src := range cells {
				if err := child.Register(ctx, cell.ID(name), src); err != nil {
					return nil, err
				}
			}
			return child.Module(), nil
		}), nil
	})
}

func TestImportCell(t *testing.T) {
	a, rt, main := newAdapter(t, graph.WithResolver(staticResolver(t, map[string]string{
		"chart": "chart = 7",
	})))

	require.NoError(t, a.Register(context.Background(), "i", `import {chart} from "@user/notebook"`))

	assert.Equal(t, 1, rt.Count("import"))
	assert.Equal(t, 0, rt.Count("derive"))
	assert.Equal(t, []string{"chart"}, a.Names("i"))
	got, err := main.Value("chart")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestImportViewSpecifiers(t *testing.T) {
	a, rt, _ := newAdapter(t, graph.WithResolver(staticResolver(t, map[string]string{
		"v": "viewof v = 1",
		"w": "w = 2",
	})))

	require.NoError(t, a.Register(context.Background(), "i", `import {viewof v, w} from "nb"`))
	// n + k: two specifiers, one of them a view.
	assert.Equal(t, 3, rt.Count("import"))
	assert.Equal(t, []string{"viewof v", "v", "w"}, a.Names("i"))
}

func TestImportWithInjection(t *testing.T) {
	a, rt, main := newAdapter(t, graph.WithResolver(staticResolver(t, map[string]string{
		"data":   "data = 1",
		"scaled": "scaled = data * 10",
	})))
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "local", "mine = 5"))
	require.NoError(t, a.Register(ctx, "i", `import {scaled} with {mine as data} from "nb"`))

	assert.Equal(t, 1, rt.Count("derive"))
	got, err := main.Value("scaled")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)
}

func TestImportResolutionFailure(t *testing.T) {
	inspectors := graphtest.NewInspectors()
	failing := graph.ResolverFunc(func(context.Context, string) (graph.Definer, error) {
		return nil, errors.New("not found")
	})
	a, _, main := newAdapter(t, graph.WithResolver(failing), graph.WithInspectors(inspectors.Factory))
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "i", "chart = 1"))
	err := a.Register(ctx, "i", `import {chart} from "@user/missing"`)

	assert.True(t, errors.Is(err, graph.ErrImportResolution))
	assert.False(t, main.Has("chart"))
	insp := inspectors.Get("i", "chart")
	require.NotNil(t, insp)
	assert.Contains(t, insp.States, "rejected")
}

func TestInspectorsForObservedDefinitions(t *testing.T) {
	inspectors := graphtest.NewInspectors()
	a, _, _ := newAdapter(t, graph.WithInspectors(inspectors.Factory))

	require.NoError(t, a.Register(context.Background(), "m", "mutable x = 1"))

	assert.Nil(t, inspectors.Get("m", "initial x"))
	require.NotNil(t, inspectors.Get("m", "x"))
	assert.Equal(t, []string{"pending"}, inspectors.Get("m", "x").States)
}

func TestRegistrationsApplyInIssueOrder(t *testing.T) {
	release := make(chan struct{})
	resolver := graph.ResolverFunc(func(ctx context.Context, locator string) (graph.Definer, error) {
		if locator == "slow" {
			<-release
		}
		return staticResolver(t, map[string]string{"a": "a = 1", "b": "b = 2"}).Resolve(ctx, locator)
	})
	a, _, main := newAdapter(t, graph.WithResolver(resolver))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, a.Register(ctx, "i", `import {a} from "slow"`))
	}()

	// Let the first registration take its ticket before issuing the second.
	time.Sleep(20 * time.Millisecond)
	second := make(chan error, 1)
	go func() { second <- a.Register(ctx, "i", `import {b} from "fast"`) }()

	select {
	case err := <-second:
		t.Fatalf("second registration applied before the first: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	require.NoError(t, <-second)

	assert.False(t, main.Has("a"))
	assert.True(t, main.Has("b"))
	assert.Equal(t, []string{"b"}, a.Names("i"))
}

func TestCancelledWaiterKeepsIssueOrder(t *testing.T) {
	release := make(chan struct{})
	resolver := graph.ResolverFunc(func(ctx context.Context, locator string) (graph.Definer, error) {
		<-release
		return staticResolver(t, map[string]string{"a": "a = 1"}).Resolve(ctx, locator)
	})
	a, _, main := newAdapter(t, graph.WithResolver(resolver))
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- a.Register(ctx, "i", `import {a} from "slow"`) }()
	time.Sleep(20 * time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	second := make(chan error, 1)
	go func() { second <- a.Register(cancelled, "i", "b = 2") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-second, context.Canceled)

	third := make(chan error, 1)
	go func() { third <- a.Register(ctx, "i", "c = 3") }()

	select {
	case err := <-third:
		t.Fatalf("third registration applied before the first: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-third)

	assert.Equal(t, []string{"c"}, a.Names("i"))
	assert.True(t, main.Has("c"))
	assert.False(t, main.Has("a"))
	assert.False(t, main.Has("b"))
}

func TestImportKeepsPreviousDefinitionsWhileBuilding(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	resolver := graph.ResolverFunc(func(ctx context.Context, locator string) (graph.Definer, error) {
		inner, err := staticResolver(t, map[string]string{"chart": "chart = 7"}).Resolve(ctx, locator)
		if err != nil {
			return nil, err
		}
		return graph.DefinerFunc(func(rt graph.Runtime, inspect graph.InspectorFactory) (graph.Module, error) {
			close(started)
			<-release
			return inner.Define(rt, inspect)
		}), nil
	})
	a, _, main := newAdapter(t, graph.WithResolver(resolver))
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "i", "x = 1"))

	done := make(chan error, 1)
	go func() { done <- a.Register(ctx, "i", `import {chart} from "nb"`) }()
	<-started

	assert.True(t, main.Has("x"))
	assert.Equal(t, []string{"x"}, a.Names("i"))
	// Other cells are not blocked while the imported module is built.
	require.NoError(t, a.Register(ctx, "other", "y = 2"))
	assert.True(t, main.Has("y"))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, main.Has("x"))
	assert.Equal(t, []string{"chart"}, a.Names("i"))
	got, err := main.Value("chart")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestImportModuleFailureReportsRejection(t *testing.T) {
	inspectors := graphtest.NewInspectors()
	resolver := graph.ResolverFunc(func(context.Context, string) (graph.Definer, error) {
		return graph.DefinerFunc(func(graph.Runtime, graph.InspectorFactory) (graph.Module, error) {
			return nil, errors.New("broken notebook")
		}), nil
	})
	a, _, main := newAdapter(t, graph.WithResolver(resolver), graph.WithInspectors(inspectors.Factory))

	err := a.Register(context.Background(), "i", `import {chart} from "nb"`)

	assert.ErrorIs(t, err, graph.ErrImportResolution)
	assert.False(t, main.Has("chart"))
	require.NotNil(t, inspectors.Get("i", "chart"))
	assert.Contains(t, inspectors.Get("i", "chart").States, "rejected")
}

func TestCancelledRegistrationLeavesGraph(t *testing.T) {
	a, _, main := newAdapter(t)
	require.NoError(t, a.Register(context.Background(), "c", "x = 1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Register(ctx, "c", "y = 1")

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, main.Has("x"))
	assert.False(t, main.Has("y"))
}

func TestDispose(t *testing.T) {
	a, rt, main := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "a", "mutable a = 1"))
	require.NoError(t, a.Register(ctx, "b", "b = 2"))

	require.NoError(t, a.Dispose(ctx, "a"))
	assert.Empty(t, a.Names("a"))
	assert.False(t, main.Has("a"))
	assert.True(t, main.Has("b"))

	a.DisposeAll()
	assert.Empty(t, main.Names())
	assert.True(t, rt.Disposed)
	assert.ErrorIs(t, a.Register(ctx, "c", "c = 1"), graph.ErrDisposed)
}
