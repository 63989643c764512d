// Package depgraph builds the dependency graph between the cells of a
// notebook from the names they define and reference.
package depgraph

import (
	"slices"
	"sort"

	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/compiler"
)

// Node is one cell of the graph.
type Node struct {
	ID   cell.ID `json:"id"`
	Line int     `json:"line"`
	// Names are the graph names the cell defines.
	Names []string `json:"names"`
	// Inputs are the names the cell reads from other cells or the host.
	Inputs []string `json:"inputs"`
	// DependsOn are the cells defining some of Inputs.
	DependsOn []cell.ID `json:"depends_on,omitempty"`
	// External are the inputs no cell defines.
	External []string `json:"external,omitempty"`

	pos int
}

// Graph is the cell dependency graph of one notebook.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	// Duplicates maps names defined by more than one cell to those cells.
	Duplicates map[string][]cell.ID `json:"duplicates,omitempty"`

	byID       map[cell.ID]*Node
	definedBy  map[string]cell.ID
	dependents map[cell.ID][]cell.ID
}

// Build creates the graph of compiled cells.
func Build(cells []compiler.CellOutput) *Graph {
	g := &Graph{
		Duplicates: make(map[string][]cell.ID),
		byID:       make(map[cell.ID]*Node),
		definedBy:  make(map[string]cell.ID),
		dependents: make(map[cell.ID][]cell.ID),
	}

	for i, c := range cells {
		n := &Node{ID: c.ID, Line: c.Line, Names: c.Names, pos: i}
		if c.Result != nil {
			n.Inputs = inputs(c)
		}
		g.Nodes = append(g.Nodes, n)
		g.byID[c.ID] = n
		for _, name := range n.Names {
			if first, ok := g.definedBy[name]; ok {
				if len(g.Duplicates[name]) == 0 {
					g.Duplicates[name] = []cell.ID{first}
				}
				g.Duplicates[name] = append(g.Duplicates[name], c.ID)
				continue
			}
			g.definedBy[name] = c.ID
		}
	}

	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			dep, ok := g.definedBy[in]
			if !ok {
				n.External = append(n.External, in)
				continue
			}
			if !slices.Contains(n.DependsOn, dep) {
				n.DependsOn = append(n.DependsOn, dep)
				g.dependents[dep] = append(g.dependents[dep], n.ID)
			}
		}
	}
	return g
}

// inputs returns the distinct names a cell reads, excluding those it defines
// itself and the runtime's reserved names.
func inputs(c compiler.CellOutput) []string {
	own := make(map[string]bool, len(c.Names))
	for _, name := range c.Names {
		own[name] = true
	}
	var out []string
	add := func(name string) {
		if own[name] || cell.Reserved[name] || slices.Contains(out, name) {
			return
		}
		out = append(out, name)
	}
	if c.Result.Import != nil {
		for _, inj := range c.Result.Import.Injections {
			add(inj.Name)
		}
		return out
	}
	for _, d := range c.Result.Definitions {
		for _, in := range d.Inputs {
			add(in)
		}
	}
	return out
}

// Node returns the node of a cell.
func (g *Graph) Node(id cell.ID) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// DefinedBy returns the cell defining name.
func (g *Graph) DefinedBy(name string) (cell.ID, bool) {
	id, ok := g.definedBy[name]
	return id, ok
}

// Downstream returns the cells recomputed when name changes: the cell
// defining it and every cell depending on it transitively, in notebook
// order. It returns nil when no cell defines name.
func (g *Graph) Downstream(name string) []cell.ID {
	start, ok := g.definedBy[name]
	if !ok {
		return nil
	}
	seen := map[cell.ID]bool{start: true}
	queue := []cell.ID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[id] {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	out := make([]cell.ID, 0, len(seen))
	for _, n := range g.Nodes {
		if seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

// Order returns the cells in an evaluation order: every cell after the cells
// it depends on, ties broken by notebook order. Cells on a cycle come last in
// notebook order.
func (g *Graph) Order() []cell.ID {
	indegree := make(map[cell.ID]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = len(n.DependsOn)
	}

	var ready []*Node
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n)
		}
	}

	out := make([]cell.ID, 0, len(g.Nodes))
	done := make(map[cell.ID]bool, len(g.Nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].pos < ready[j].pos })
		n := ready[0]
		ready = ready[1:]
		out = append(out, n.ID)
		done[n.ID] = true
		for _, dep := range g.dependents[n.ID] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, g.byID[dep])
			}
		}
	}

	for _, n := range g.Nodes {
		if !done[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

// Cycles returns the groups of cells that depend on each other, each in
// notebook order.
func (g *Graph) Cycles() [][]cell.ID {
	t := &tarjan{
		g:     g,
		index: make(map[cell.ID]int),
		low:   make(map[cell.ID]int),
		on:    make(map[cell.ID]bool),
	}
	for _, n := range g.Nodes {
		if _, visited := t.index[n.ID]; !visited {
			t.visit(n)
		}
	}

	var out [][]cell.ID
	for _, scc := range t.sccs {
		if len(scc) == 1 && !slices.Contains(g.byID[scc[0]].DependsOn, scc[0]) {
			continue
		}
		sort.Slice(scc, func(i, j int) bool { return g.byID[scc[i]].pos < g.byID[scc[j]].pos })
		out = append(out, scc)
	}
	sort.Slice(out, func(i, j int) bool { return g.byID[out[i][0]].pos < g.byID[out[j][0]].pos })
	return out
}

type tarjan struct {
	g     *Graph
	next  int
	index map[cell.ID]int
	low   map[cell.ID]int
	on    map[cell.ID]bool
	stack []cell.ID
	sccs  [][]cell.ID
}

func (t *tarjan) visit(n *Node) {
	t.index[n.ID] = t.next
	t.low[n.ID] = t.next
	t.next++
	t.stack = append(t.stack, n.ID)
	t.on[n.ID] = true

	for _, dep := range n.DependsOn {
		if _, visited := t.index[dep]; !visited {
			t.visit(t.g.byID[dep])
			t.low[n.ID] = min(t.low[n.ID], t.low[dep])
		} else if t.on[dep] {
			t.low[n.ID] = min(t.low[n.ID], t.index[dep])
		}
	}

	if t.low[n.ID] != t.index[n.ID] {
		return
	}
	var scc []cell.ID
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.on[top] = false
		scc = append(scc, top)
		if top == n.ID {
			break
		}
	}
	t.sccs = append(t.sccs, scc)
}
