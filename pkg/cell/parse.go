package cell

import (
	"context"
	"fmt"

	"github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Parse parses a single cell.
func Parse(source string) (*Parsed, error) {
	return ParseCtx(context.Background(), source)
}

// ParseCtx parses a single cell. Source that does not parse yields a
// *SyntaxError.
func ParseCtx(ctx context.Context, source string) (*Parsed, error) {
	masked, specials := mask(source, Lex(source))
	toks := Significant(Lex(masked))

	p := &Parsed{Source: source, BodyKind: BodyOther}
	if len(toks) == 0 {
		p.Empty = true
		return p, nil
	}

	i := 0
	if name, ok := declaredName(masked, toks, specials); ok {
		p.Name = name
		i = 2
	}
	if i >= len(toks) {
		return nil, newSyntaxError(source, len(source), len(source), "Unexpected end of input")
	}

	if isImport(masked, toks, i) {
		spec, end, err := parseImport(ctx, source, masked, toks[i:], specials)
		if err != nil {
			return nil, err
		}
		p.BodyKind = BodyImport
		p.BodySpan = Span{Start: toks[i].Start, End: end}
		p.Body = source[p.BodySpan.Start:p.BodySpan.End]
		p.Import = spec
		return p, nil
	}

	last := len(toks) - 1
	if last > i && isPunct(masked, toks[last], ';') {
		last--
	}
	if err := p.parseBody(ctx, masked, toks[i].Start, toks[last].End, specials); err != nil {
		return nil, err
	}
	return p, nil
}

// declaredName recognizes `name =` at the start of a cell.
func declaredName(masked string, toks []Token, specials map[int]special) (DeclaredName, bool) {
	if len(toks) < 2 || toks[0].Kind != TokenIdent || !isPunct(masked, toks[1], '=') {
		return DeclaredName{}, false
	}
	if next := toks[1].End; next < len(masked) && (masked[next] == '=' || masked[next] == '>') {
		return DeclaredName{}, false
	}
	t := toks[0]
	span := Span{Start: t.Start, End: t.End}
	if sp, ok := specials[t.Start]; ok {
		return DeclaredName{Kind: sp.kind, Name: sp.name, Span: span}, true
	}
	name := t.Text(masked)
	if keywords[name] {
		return DeclaredName{}, false
	}
	return DeclaredName{Kind: NamePlain, Name: name, Span: span}, true
}

// isImport reports whether toks[i] starts a static import declaration.
// `import(...)` and `import.meta` are expressions.
func isImport(masked string, toks []Token, i int) bool {
	if toks[i].Kind != TokenIdent || toks[i].Text(masked) != "import" || i+1 >= len(toks) {
		return false
	}
	next := toks[i+1]
	return next.Kind == TokenIdent || isPunct(masked, next, '{') || isPunct(masked, next, '*')
}

func isPunct(src string, t Token, c byte) bool {
	return t.Kind == TokenPunct && src[t.Start] == c
}

// parseBody parses masked[start:end] as a statement block or a single
// expression and runs reference analysis over it.
func (p *Parsed) parseBody(ctx context.Context, masked string, start, end int, specials map[int]special) error {
	block := masked[start] == '{'
	buf, base := masked[start:end], 0
	if !block {
		buf, base = "("+buf+"\n)", 1
	}
	toCell := func(off uint32) int {
		return clamp(start+int(off)-base, start, end)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	content := []byte(buf)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("parsing cell: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return syntaxErrorFrom(p.Source, firstError(root), toCell)
	}
	node, bad := bodyNode(root, block, uint32(len(content)))
	if bad != nil {
		return newSyntaxError(p.Source, toCell(bad.StartByte()), toCell(bad.EndByte()), "Unexpected token")
	}

	p.Block = block
	p.BodySpan = Span{Start: toCell(node.StartByte()), End: toCell(node.EndByte())}
	p.Body = p.Source[p.BodySpan.Start:p.BodySpan.End]
	p.BodyKind = bodyKind(node, specials, toCell)
	if p.Name.Kind == NameNone {
		p.Name = implicitName(node, content, toCell)
	}

	a := newAnalyzer(content, specials, toCell, node.StartByte())
	a.analyze(node, block)
	p.Refs = a.result()
	p.Async = a.async
	p.Generator = a.generator
	return nil
}

// bodyNode returns the single statement block or parenthesized expression's
// inner node. On failure it returns the offending node as the error.
func bodyNode(root *sitter.Node, block bool, size uint32) (*sitter.Node, *sitter.Node) {
	stmts := namedChildren(root)
	if len(stmts) == 0 {
		return nil, root
	}
	if len(stmts) > 1 {
		return nil, stmts[1]
	}
	stmt := stmts[0]
	if block {
		if stmt.Type() != "statement_block" || stmt.EndByte() != size {
			return nil, stmt
		}
		return stmt, nil
	}
	if stmt.Type() != "expression_statement" {
		return nil, stmt
	}
	inner := namedChildren(stmt)
	if len(inner) != 1 || inner[0].Type() != "parenthesized_expression" ||
		inner[0].StartByte() != 0 || inner[0].EndByte() != size {
		return nil, stmt
	}
	expr := namedChildren(inner[0])
	if len(expr) != 1 {
		return nil, inner[0]
	}
	return expr[0], nil
}

// namedChildren returns n's named children without comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "comment" {
			out = append(out, c)
		}
	}
	return out
}

// firstError returns the first ERROR or MISSING node in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.HasError() && !c.IsMissing() {
			continue
		}
		if e := firstError(c); e != nil {
			return e
		}
	}
	return nil
}

func syntaxErrorFrom(src string, n *sitter.Node, toCell func(uint32) int) *SyntaxError {
	if n == nil {
		return newSyntaxError(src, len(src), len(src), "Unexpected token")
	}
	pos, raised := toCell(n.StartByte()), toCell(n.EndByte())
	switch {
	case n.IsMissing():
		return newSyntaxError(src, pos, raised, fmt.Sprintf("Expected %q", n.Type()))
	case pos >= len(src) || n.StartByte() == n.EndByte():
		return newSyntaxError(src, pos, raised, "Unexpected end of input")
	default:
		return newSyntaxError(src, pos, raised, "Unexpected token")
	}
}

func bodyKind(n *sitter.Node, specials map[int]special, toCell func(uint32) int) BodyKind {
	switch n.Type() {
	case "number", "string", "template_string", "true", "false", "null", "undefined", "regex":
		return BodyLiteral
	case "statement_block":
		return BodyBlock
	case "call_expression":
		return BodyCall
	case "member_expression", "subscript_expression":
		return BodyMember
	case "binary_expression":
		return BodyBinary
	case "identifier":
		if sp, ok := specials[toCell(n.StartByte())]; ok {
			if sp.kind == NameView {
				return BodyView
			}
			return BodyMutable
		}
		return BodyIdentifier
	default:
		return BodyOther
	}
}

// implicitName names anonymous function and class cells after the function
// or class.
func implicitName(n *sitter.Node, content []byte, toCell func(uint32) int) DeclaredName {
	switch n.Type() {
	case "function_expression", "function", "generator_function", "class":
	default:
		return DeclaredName{}
	}
	name := n.ChildByFieldName("name")
	if name == nil {
		return DeclaredName{}
	}
	return DeclaredName{
		Kind: NamePlain,
		Name: name.Content(content),
		Span: Span{Start: toCell(name.StartByte()), End: toCell(name.EndByte())},
	}
}
