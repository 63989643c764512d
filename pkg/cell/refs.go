package cell

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smacker/go-tree-sitter"
)

// thisGuard replaces top-level `this` so that a cell evaluated without a
// receiver sees undefined instead of the global object.
const thisGuard = "(this === globalThis ? undefined : this)"

type scope struct {
	parent *scope
	fn     bool
	names  map[string]bool
}

func (s *scope) declare(name string) {
	s.names[name] = true
}

func (s *scope) resolves(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.names[name] {
			return true
		}
	}
	return false
}

type reference struct {
	name       string
	start, end uint32
	scope      *scope
	special    *special
}

// analyzer walks a cell body collecting free references, special-form
// references and top-level `this`. Resolution is deferred until the walk
// completes because declarations hoist.
type analyzer struct {
	content  []byte
	specials map[int]special
	toCell   func(uint32) int
	origin   uint32

	scope     *scope
	refs      []reference
	this      []Patch
	fnDepth   int // enclosing functions, arrows included
	thisDepth int // enclosing non-arrow functions and class bodies

	async     bool
	generator bool
}

func newAnalyzer(content []byte, specials map[int]special, toCell func(uint32) int, origin uint32) *analyzer {
	return &analyzer{content: content, specials: specials, toCell: toCell, origin: origin}
}

func (a *analyzer) analyze(body *sitter.Node, block bool) {
	a.push(true)
	if block {
		a.children(body)
	} else {
		a.walk(body)
	}
	a.pop()
}

func (a *analyzer) push(fn bool) {
	a.scope = &scope{parent: a.scope, fn: fn, names: make(map[string]bool)}
}

// pop leaves the current scope. Scopes stay reachable from the references
// recorded inside them.
func (a *analyzer) pop() {
	a.scope = a.scope.parent
}

func (a *analyzer) fnScope() *scope {
	s := a.scope
	for !s.fn && s.parent != nil {
		s = s.parent
	}
	return s
}

func (a *analyzer) text(n *sitter.Node) string {
	return n.Content(a.content)
}

func (a *analyzer) children(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		a.walk(n.NamedChild(i))
	}
}

func (a *analyzer) walk(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier", "shorthand_property_identifier_pattern":
		a.reference(n)
	case "this":
		if a.thisDepth == 0 {
			a.this = append(a.this, Patch{
				Start: int(n.StartByte() - a.origin),
				End:   int(n.EndByte() - a.origin),
				Text:  thisGuard,
			})
		}
	case "await_expression":
		if a.fnDepth == 0 {
			a.async = true
		}
		a.children(n)
	case "yield_expression":
		if a.fnDepth == 0 {
			a.generator = true
		}
		a.children(n)
	case "function_declaration", "generator_function_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			a.scope.declare(a.text(name))
		}
		a.function(n, false)
	case "function_expression", "function", "generator_function":
		a.function(n, true)
	case "arrow_function":
		a.function(n, false)
	case "method_definition":
		if name := n.ChildByFieldName("name"); name != nil && name.Type() == "computed_property_name" {
			a.walk(name)
		}
		a.function(n, false)
	case "class_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			a.scope.declare(a.text(name))
		}
		a.class(n, false)
	case "class":
		a.class(n, true)
	case "lexical_declaration", "variable_declaration":
		a.declaration(n)
	case "statement_block", "switch_body", "for_statement":
		a.push(false)
		a.children(n)
		a.pop()
	case "for_in_statement":
		a.forIn(n)
	case "catch_clause":
		a.push(false)
		if p := n.ChildByFieldName("parameter"); p != nil {
			a.bind(p, a.scope)
		}
		a.walk(n.ChildByFieldName("body"))
		a.pop()
	case "labeled_statement":
		a.walk(n.ChildByFieldName("body"))
	case "break_statement", "continue_statement",
		"property_identifier", "statement_identifier", "private_property_identifier",
		"comment", "string", "regex", "number", "meta_property":
	default:
		a.children(n)
	}
}

func (a *analyzer) reference(n *sitter.Node) {
	ref := reference{name: a.text(n), start: n.StartByte(), end: n.EndByte(), scope: a.scope}
	if sp, ok := a.specials[a.toCell(n.StartByte())]; ok && n.Type() == "identifier" {
		ref.special = &sp
	}
	a.refs = append(a.refs, ref)
}

func (a *analyzer) function(n *sitter.Node, expr bool) {
	arrow := n.Type() == "arrow_function"
	a.fnDepth++
	if !arrow {
		a.thisDepth++
	}
	a.push(true)
	if !arrow {
		a.scope.declare("arguments")
	}
	if expr {
		if name := n.ChildByFieldName("name"); name != nil {
			a.scope.declare(a.text(name))
		}
	}
	if p := n.ChildByFieldName("parameter"); p != nil {
		a.bind(p, a.scope)
	}
	if ps := n.ChildByFieldName("parameters"); ps != nil {
		for i := 0; i < int(ps.NamedChildCount()); i++ {
			a.bind(ps.NamedChild(i), a.scope)
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		if body.Type() == "statement_block" {
			a.children(body)
		} else {
			a.walk(body)
		}
	}
	a.pop()
	if !arrow {
		a.thisDepth--
	}
	a.fnDepth--
}

func (a *analyzer) class(n *sitter.Node, expr bool) {
	if expr {
		a.push(false)
		defer a.pop()
		if name := n.ChildByFieldName("name"); name != nil {
			a.scope.declare(a.text(name))
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "class_heritage":
			a.children(c)
		case "class_body":
			a.thisDepth++
			a.fnDepth++
			a.children(c)
			a.fnDepth--
			a.thisDepth--
		}
	}
}

func (a *analyzer) declaration(n *sitter.Node) {
	target := a.scope
	if n.Type() == "variable_declaration" {
		target = a.fnScope()
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		if name := d.ChildByFieldName("name"); name != nil {
			a.bind(name, target)
		}
		a.walk(d.ChildByFieldName("value"))
	}
}

func (a *analyzer) forIn(n *sitter.Node) {
	a.push(false)
	defer a.pop()

	declares, hoists := false, false
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case "var":
			declares, hoists = true, true
		case "let", "const":
			declares = true
		case "await":
			if a.fnDepth == 0 {
				a.async = true
			}
		}
	}
	if left := n.ChildByFieldName("left"); left != nil {
		switch {
		case hoists:
			a.bind(left, a.fnScope())
		case declares:
			a.bind(left, a.scope)
		default:
			a.walk(left)
		}
	}
	a.walk(n.ChildByFieldName("right"))
	a.walk(n.ChildByFieldName("body"))
}

// bind declares the names of a binding pattern in target. Default values and
// computed keys are walked as expressions in the current scope.
func (a *analyzer) bind(n *sitter.Node, target *scope) {
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		target.declare(a.text(n))
	case "object_pattern", "array_pattern", "rest_pattern":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			a.bind(n.NamedChild(i), target)
		}
	case "pair_pattern":
		if key := n.ChildByFieldName("key"); key != nil && key.Type() == "computed_property_name" {
			a.walk(key)
		}
		if v := n.ChildByFieldName("value"); v != nil {
			a.bind(v, target)
		}
	case "assignment_pattern", "object_assignment_pattern":
		if left := n.ChildByFieldName("left"); left != nil {
			a.bind(left, target)
		}
		a.walk(n.ChildByFieldName("right"))
	case "comment":
	default:
		a.walk(n)
	}
}

// result resolves the recorded references and builds the cell's Refs.
func (a *analyzer) result() Refs {
	sort.SliceStable(a.refs, func(i, j int) bool { return a.refs[i].start < a.refs[j].start })

	var inputs []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			inputs = append(inputs, name)
		}
	}

	var free []reference
	for _, r := range a.refs {
		switch {
		case r.special != nil:
			add(DeclaredName{Kind: r.special.kind, Name: r.special.name}.String())
		case r.scope.resolves(r.name), Reserved[r.name], Globals[r.name]:
			continue
		default:
			add(r.name)
		}
		free = append(free, r)
	}

	refs := Refs{Inputs: inputs, Args: argNames(inputs)}
	for _, r := range free {
		if r.special == nil {
			continue
		}
		input := DeclaredName{Kind: r.special.kind, Name: r.special.name}.String()
		text := refs.Arg(input)
		if r.special.kind == NameMutable {
			text += ".value"
		}
		refs.Patches = append(refs.Patches, Patch{
			Start: int(r.start - a.origin),
			End:   int(r.end - a.origin),
			Text:  text,
		})
	}
	refs.Patches = append(refs.Patches, a.this...)
	sort.SliceStable(refs.Patches, func(i, j int) bool { return refs.Patches[i].Start < refs.Patches[j].Start })
	return refs
}

// argNames derives a parameter name per input. Names containing spaces get
// underscores, with a "$N" suffix when that collides with another name.
func argNames(inputs []string) []string {
	taken := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if !strings.Contains(in, " ") {
			taken[in] = true
		}
	}
	args := make([]string, len(inputs))
	for i, in := range inputs {
		if !strings.Contains(in, " ") {
			args[i] = in
			continue
		}
		base := strings.ReplaceAll(in, " ", "_")
		arg := base
		for n := 1; taken[arg]; n++ {
			arg = fmt.Sprintf("%s$%d", base, n)
		}
		taken[arg] = true
		args[i] = arg
	}
	return args
}

// Globals are names resolved by the host environment rather than by other
// cells.
var Globals = map[string]bool{
	"Array": true, "ArrayBuffer": true, "atob": true, "AudioContext": true,
	"BigInt": true, "Blob": true, "Boolean": true, "btoa": true,
	"cancelAnimationFrame": true, "clearInterval": true, "clearTimeout": true,
	"console": true, "crypto": true, "CustomEvent": true, "DataView": true,
	"Date": true, "decodeURI": true, "decodeURIComponent": true,
	"devicePixelRatio": true, "document": true, "encodeURI": true,
	"encodeURIComponent": true, "Error": true, "escape": true, "eval": true,
	"fetch": true, "File": true, "FileList": true, "FileReader": true,
	"Float32Array": true, "Float64Array": true, "Function": true,
	"globalThis": true, "Headers": true, "Image": true, "ImageData": true,
	"Infinity": true, "Int16Array": true, "Int32Array": true, "Int8Array": true,
	"Intl": true, "isFinite": true, "isNaN": true, "JSON": true, "Map": true,
	"Math": true, "NaN": true, "navigator": true, "Number": true,
	"Object": true, "parseFloat": true, "parseInt": true, "Path2D": true,
	"performance": true, "Promise": true, "Proxy": true, "RangeError": true,
	"ReferenceError": true, "Reflect": true, "RegExp": true,
	"requestAnimationFrame": true, "Set": true, "setInterval": true,
	"setTimeout": true, "String": true, "Symbol": true, "SyntaxError": true,
	"TextDecoder": true, "TextEncoder": true, "TypeError": true,
	"Uint16Array": true, "Uint32Array": true, "Uint8Array": true,
	"Uint8ClampedArray": true, "undefined": true, "unescape": true,
	"URIError": true, "URL": true, "WeakMap": true, "WeakSet": true,
	"WebSocket": true, "window": true, "Worker": true,
}
