package notebook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sources(cells []Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.Source
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "one cell per line",
			src:  "a = 1\nb = a + 1\n",
			want: []string{"a = 1", "b = a + 1"},
		},
		{
			name: "semicolons",
			src:  "a = 1; b = 2;",
			want: []string{"a = 1", "b = 2"},
		},
		{
			name: "multi-line block",
			src:  "total = {\n  let s = 0;\n  for (const v of values) s += v;\n  return s;\n}\nnext = 1",
			want: []string{"total = {\n  let s = 0;\n  for (const v of values) s += v;\n  return s;\n}", "next = 1"},
		},
		{
			name: "operator continues the line",
			src:  "sum = a +\n  b\nc = 1",
			want: []string{"sum = a +\n  b", "c = 1"},
		},
		{
			name: "leading dot continues the line",
			src:  "chart = d3.select(el)\n  .attr(\"x\", 1)\nz = 2",
			want: []string{"chart = d3.select(el)\n  .attr(\"x\", 1)", "z = 2"},
		},
		{
			name: "template spans lines",
			src:  "md`# Title\n\n${name}\n`\nx = 1",
			want: []string{"md`# Title\n\n${name}\n`", "x = 1"},
		},
		{
			name: "own-line comment belongs to the next cell",
			src:  "a = 1\n// the answer\nb = 42",
			want: []string{"a = 1", "// the answer\nb = 42"},
		},
		{
			name: "import across lines",
			src:  "import {a, b}\n  from \"@user/nb\"\nc = a",
			want: []string{"import {a, b}\n  from \"@user/nb\"", "c = a"},
		},
		{
			name: "postfix increment ends a cell",
			src:  "{ i++ }\nx++\ny = 1",
			want: []string{"{ i++ }", "x++", "y = 1"},
		},
		{
			name: "comment-only file",
			src:  "// nothing\n/* here */",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sources(Split(tt.src)))
		})
	}
}

func TestSplitIDsAndLines(t *testing.T) {
	cells := Split("a = 1\n\nb = 2")
	require.Len(t, cells, 2)
	assert.Equal(t, "1", string(cells[0].ID))
	assert.Equal(t, "2", string(cells[1].ID))
	assert.Equal(t, 1, cells[0].Line)
	assert.Equal(t, 3, cells[1].Line)
}

func TestFromMarkdown(t *testing.T) {
	src := "# Sales\n\nSome `prose` here.\n\n```js\nx = 1\ny = x + 1\n```\n\nMore text.\n\n```python\nprint(1)\n```\n"
	cells := FromMarkdown([]byte(src))

	require.Len(t, cells, 4)
	assert.Equal(t, "md`# Sales\n\nSome \\`prose\\` here.`", cells[0].Source)
	assert.Equal(t, "x = 1", cells[1].Source)
	assert.Equal(t, 6, cells[1].Line)
	assert.Equal(t, "y = x + 1", cells[2].Source)
	assert.Equal(t, 7, cells[2].Line)
	assert.Contains(t, cells[3].Source, "More text.")
	assert.Contains(t, cells[3].Source, "print(1)")
}

func TestMdCellEscapes(t *testing.T) {
	assert.Equal(t, "md`a \\${b} \\\\ c`", mdCell("a ${b} \\ c\n"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ojs")
	require.NoError(t, os.WriteFile(path, []byte("a = 1\nb = 2\n"), 0o644))

	nb, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a = 1", "b = 2"}, nb.Sources())

	_, err = Load(filepath.Join(dir, "missing.ojs"))
	assert.Error(t, err)
}

func TestIsMarkdown(t *testing.T) {
	assert.True(t, IsMarkdown("a/b.omd"))
	assert.True(t, IsMarkdown("README.MD"))
	assert.False(t, IsMarkdown("nb.ojs"))
}
