package writer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/expand"
)

func expanded(t *testing.T, src string) *expand.Result {
	t.Helper()
	p, err := cell.Parse(src)
	require.NoError(t, err)
	res, err := expand.Expand(p)
	require.NoError(t, err)
	return res
}

func TestWriterPlainCells(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, "a = 1")))
	require.NoError(t, w.AddCell(expanded(t, "x = a + 1")))

	want := "function _a(){return (1\n);}\n\n" +
		"function _x(a){return (a + 1\n);}\n\n" +
		"export default function define(runtime, observer) {\n" +
		"  const main = runtime.module();\n" +
		"  main.variable(observer(\"a\")).define(\"a\", [], _a);\n" +
		"  main.variable(observer(\"x\")).define(\"x\", [\"a\"], _x);\n" +
		"  return main;\n" +
		"}\n"
	assert.Equal(t, want, w.String())
	assert.Equal(t, 2, w.Len())
}

func TestWriterAnonymousCells(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, "1 + 1")))
	require.NoError(t, w.AddCell(expanded(t, "2 + 2")))

	out := w.String()
	assert.Contains(t, out, "function _1(){")
	assert.Contains(t, out, "function _2(){")
	assert.Contains(t, out, "main.variable(observer()).define([], _1);")
	assert.Contains(t, out, "main.variable(observer()).define([], _2);")
}

func TestWriterViewAndMutable(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, "viewof n = Inputs.range([0, 10])")))
	require.NoError(t, w.AddCell(expanded(t, "mutable count = 0")))

	out := w.String()
	lines := []string{
		`main.variable(observer("viewof n")).define("viewof n", ["Inputs"], _n);`,
		`main.variable(observer("n")).define("n", ["Generators", "viewof n"], (G, _) => G.input(_));`,
		`main.define("initial count", [], _count);`,
		`main.variable(observer("mutable count")).define("mutable count", ["Mutable", "initial count"], (M, _) => new M(_));`,
		`main.variable(observer("count")).define("count", ["mutable count"], (_) => _.generator);`,
	}
	last := -1
	for _, l := range lines {
		i := strings.Index(out, l)
		require.GreaterOrEqual(t, i, 0, "missing %s", l)
		assert.Greater(t, i, last, "out of order: %s", l)
		last = i
	}
}

func TestWriterDuplicateNames(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, "x = 1")))
	require.NoError(t, w.AddCell(expanded(t, "x = 2")))

	out := w.String()
	assert.Contains(t, out, "function _x(){")
	assert.Contains(t, out, "function _x2(){")
}

func TestWriterImports(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, `import {chart} from "@d3/bar-chart"`)))
	require.NoError(t, w.AddCell(expanded(t, `import {viewof v, data as d} with {mine as data, other} from "@d3/bar-chart"`)))
	require.NoError(t, w.AddCell(expanded(t, `import {helper} from "./lib.ojs"`)))

	out := w.String()
	assert.True(t, strings.HasPrefix(out,
		"import define1 from \"https://api.observablehq.com/@d3/bar-chart.js?v=3\";\n"+
			"import define2 from \"./lib.js\";\n\n"))

	for _, l := range []string{
		`const child1 = runtime.module(define1);`,
		`main.import("chart", child1);`,
		`const child2 = runtime.module(define1).derive([{name: "mine", alias: "data"}, "other"], main);`,
		`main.import("viewof v", child2);`,
		`main.import("v", child2);`,
		`main.import("data", "d", child2);`,
		`const child3 = runtime.module(define2);`,
		`main.import("helper", child3);`,
	} {
		assert.Contains(t, out, l)
	}
	assert.NotContains(t, out, "derive([], main)")
}

func TestWriterCustomOrigin(t *testing.T) {
	w := New(WithOrigin("http://localhost:3000", "4"))
	require.NoError(t, w.AddCell(expanded(t, `import {a} from "@me/nb"`)))
	assert.Contains(t, w.String(), `import define1 from "http://localhost:3000/@me/nb.js?v=4";`)
}

func TestWriterUnresolvableImportAddsNothing(t *testing.T) {
	w := New()
	err := w.AddCell(expanded(t, `import {a} from "lodash"`))
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.Equal(t, 0, w.Len())
	assert.NotContains(t, w.String(), "import define")
}

func TestWriterEmptyCell(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, "// just a note")))
	assert.Equal(t, 0, w.Len())
}

func TestWriterIdempotent(t *testing.T) {
	build := func() string {
		w := New()
		for _, src := range []string{"a = 1", "viewof b = a", "mutable c = b", `import {d} from "@x/y"`} {
			require.NoError(t, w.AddCell(expanded(t, src)))
		}
		return w.String()
	}
	assert.Equal(t, build(), build())
}

func TestWriterWriteTo(t *testing.T) {
	w := New()
	require.NoError(t, w.AddCell(expanded(t, "a = 1")))

	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, w.String(), buf.String())
}
