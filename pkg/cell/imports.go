package cell

import (
	"context"
	"fmt"
	"strings"

	"github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// parseImport parses an import cell starting at toks[0] ("import"). The
// injection group `with {...}` is not JavaScript: it is blanked out of the
// statement and parsed on its own as a named-import list. It returns the spec
// and the cell offset where the statement ends.
func parseImport(ctx context.Context, source, masked string, toks []Token, specials map[int]special) (*ImportSpec, int, error) {
	start, end := toks[0].Start, toks[len(toks)-1].End

	group, ok := withGroup(masked, toks)
	stmt := []byte(masked[start:end])
	if ok {
		for i := group.Start - start; i < group.End-start; i++ {
			if stmt[i] != '\n' {
				stmt[i] = ' '
			}
		}
	}

	spec := &ImportSpec{}
	at := func(off uint32) int { return clamp(start+int(off), start, end) }
	err := parseImportStatement(ctx, source, stmt, at, func(n *sitter.Node, content []byte) {
		spec.Source = unquote(n.ChildByFieldName("source").Content(content))
		clause := childOfType(n, "import_clause")
		if clause == nil {
			return
		}
		for _, c := range namedChildren(clause) {
			switch c.Type() {
			case "identifier":
				spec.Default = c.Content(content)
			case "namespace_import":
				if id := childOfType(c, "identifier"); id != nil {
					spec.Namespace = id.Content(content)
				}
			case "named_imports":
				for _, s := range namedChildren(c) {
					if s.Type() == "import_specifier" {
						spec.Specifiers = append(spec.Specifiers, specifier(s, content, at, specials))
					}
				}
			}
		}
	})
	if err != nil {
		return nil, 0, err
	}

	if ok {
		// "with" keyword through closing brace; the braces are reused verbatim.
		braces := masked[group.Brace:group.End]
		prefix := "import "
		content := []byte(prefix + braces + ` from "_"`)
		injAt := func(off uint32) int {
			return clamp(group.Brace+int(off)-len(prefix), group.Brace, group.End)
		}
		err := parseImportStatement(ctx, source, content, injAt, func(n *sitter.Node, content []byte) {
			clause := childOfType(n, "import_clause")
			if clause == nil {
				return
			}
			named := childOfType(clause, "named_imports")
			if named == nil {
				return
			}
			for _, s := range namedChildren(named) {
				if s.Type() != "import_specifier" {
					continue
				}
				sp := specifier(s, content, injAt, specials)
				inj := Injection{Name: sp.Name, Alias: sp.Alias}
				if sp.View {
					inj = Injection{Name: "viewof " + sp.Name, Alias: "viewof " + sp.Alias}
				}
				spec.Injections = append(spec.Injections, inj)
			}
		})
		if err != nil {
			return nil, 0, err
		}
	}
	return spec, end, nil
}

// importGroup locates `with {...}` in an import cell.
type importGroup struct {
	Start int // offset of "with"
	Brace int // offset of "{"
	End   int // offset after "}"
}

func withGroup(masked string, toks []Token) (importGroup, bool) {
	for i := 1; i+1 < len(toks); i++ {
		t := toks[i]
		if t.Kind == TokenIdent && t.Text(masked) == "from" {
			return importGroup{}, false
		}
		if t.Kind != TokenIdent || t.Text(masked) != "with" || !isPunct(masked, toks[i+1], '{') {
			continue
		}
		depth := 0
		for j := i + 1; j < len(toks); j++ {
			switch {
			case isPunct(masked, toks[j], '{'):
				depth++
			case isPunct(masked, toks[j], '}'):
				depth--
				if depth == 0 {
					return importGroup{Start: t.Start, Brace: toks[i+1].Start, End: toks[j].End}, true
				}
			}
		}
		return importGroup{}, false
	}
	return importGroup{}, false
}

// parseImportStatement parses content, which must hold exactly one import
// statement, and hands it to visit.
func parseImportStatement(ctx context.Context, source string, content []byte, at func(uint32) int, visit func(*sitter.Node, []byte)) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("parsing import: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return syntaxErrorFrom(source, firstError(root), at)
	}
	stmts := namedChildren(root)
	if len(stmts) == 0 {
		return newSyntaxError(source, at(0), at(uint32(len(content))), "Unexpected token")
	}
	if len(stmts) > 1 {
		return newSyntaxError(source, at(stmts[1].StartByte()), at(stmts[1].EndByte()), "Unexpected token")
	}
	if stmts[0].Type() != "import_statement" || stmts[0].ChildByFieldName("source") == nil {
		return newSyntaxError(source, at(stmts[0].StartByte()), at(stmts[0].EndByte()), "Unexpected token")
	}
	visit(stmts[0], content)
	return nil
}

func specifier(n *sitter.Node, content []byte, at func(uint32) int, specials map[int]special) Specifier {
	var s Specifier
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return s
	}
	name, kind := importedName(nameNode, content, at, specials)
	alias, aliasKind := name, kind
	if a := n.ChildByFieldName("alias"); a != nil {
		alias, aliasKind = importedName(a, content, at, specials)
	}
	switch {
	case kind == NameView:
		s = Specifier{Name: name, Alias: alias, View: true}
	case kind == NameMutable:
		s = Specifier{Name: "mutable " + name, Alias: "mutable " + alias}
	default:
		s = Specifier{Name: name, Alias: alias}
	}
	if aliasKind == NameMutable && kind != NameMutable {
		s.Alias = "mutable " + alias
	}
	return s
}

// importedName resolves a specifier name, decoding masked special forms.
func importedName(n *sitter.Node, content []byte, at func(uint32) int, specials map[int]special) (string, NameKind) {
	if sp, ok := specials[at(n.StartByte())]; ok && n.Type() == "identifier" {
		return sp.name, sp.kind
	}
	text := n.Content(content)
	if n.Type() == "string" {
		text = unquote(text)
	}
	return text, NamePlain
}

func childOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func unquote(s string) string {
	return strings.Trim(s, "\"'")
}
