package cell

// special records a masked `viewof x` or `mutable x` occurrence, keyed by the
// offset of the operator keyword.
type special struct {
	kind NameKind
	name string
	end  int
}

// mask rewrites each special form in code position into a single identifier
// of the same length ("viewof x" becomes "viewof$x", "viewof /* c */ x"
// becomes "viewof$$$$$$$$$x") so the JavaScript grammar
// accepts it and every offset stays valid.
func mask(src string, toks []Token) (string, map[int]special) {
	b := []byte(src)
	specials := make(map[int]special)
	sig := Significant(toks)
	for i, t := range sig {
		if t.Kind != TokenIdent || i+1 >= len(sig) {
			continue
		}
		var kind NameKind
		switch t.Text(src) {
		case "viewof":
			kind = NameView
		case "mutable":
			kind = NameMutable
		default:
			continue
		}
		if i > 0 && sig[i-1].Kind == TokenPunct && src[sig[i-1].Start] == '.' {
			continue
		}
		next := sig[i+1]
		if next.Kind != TokenIdent || keywords[next.Text(src)] {
			continue
		}
		// Only whitespace and comments separate two significant tokens; the
		// whole gap becomes part of the masked identifier.
		for j := t.End; j < next.Start; j++ {
			b[j] = '$'
		}
		specials[t.Start] = special{kind: kind, name: next.Text(src), end: next.End}
	}
	return string(b), specials
}

// keywords are reserved words that can neither follow a special-form operator
// nor be declared as a cell name.
var keywords = map[string]bool{
	"await": true, "break": true, "case": true, "catch": true, "class": true,
	"const": true, "continue": true, "debugger": true, "default": true,
	"delete": true, "do": true, "else": true, "enum": true, "export": true,
	"extends": true, "false": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "new": true, "null": true, "of": true, "return": true,
	"super": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "var": true, "void": true, "while": true,
	"with": true, "yield": true, "let": true, "static": true,
}
