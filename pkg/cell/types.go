// Package cell parses notebook cell source into its declared name, body and
// free references.
package cell

// ID identifies a cell across edits. Hosts format numeric ids as strings.
type ID string

// Cell is one unit of user-authored source text.
type Cell struct {
	ID     ID     `json:"id"`
	Source string `json:"source"`
}

// NameKind describes how a cell's declared name is wrapped.
type NameKind int

const (
	NameNone NameKind = iota
	NamePlain
	NameMutable
	NameView
)

func (k NameKind) String() string {
	switch k {
	case NamePlain:
		return "plain"
	case NameMutable:
		return "mutable"
	case NameView:
		return "viewof"
	default:
		return "none"
	}
}

// DeclaredName is the name on the left of a cell's top-level `=`.
type DeclaredName struct {
	Kind NameKind `json:"kind"`
	Name string   `json:"name"`
	Span Span     `json:"span"`
}

// String returns the graph-level name: "x", "mutable x" or "viewof x".
// Anonymous cells return "".
func (n DeclaredName) String() string {
	switch n.Kind {
	case NamePlain:
		return n.Name
	case NameMutable:
		return "mutable " + n.Name
	case NameView:
		return "viewof " + n.Name
	default:
		return ""
	}
}

// BodyKind classifies the shape of a cell body.
type BodyKind string

const (
	BodyLiteral    BodyKind = "literal"
	BodyBlock      BodyKind = "block"
	BodyCall       BodyKind = "call"
	BodyMember     BodyKind = "member"
	BodyBinary     BodyKind = "binary"
	BodyIdentifier BodyKind = "identifier"
	BodyView       BodyKind = "view-expression"
	BodyMutable    BodyKind = "mutable-expression"
	BodyImport     BodyKind = "import-declaration"
	BodyOther      BodyKind = "other"
)

// Span is a half-open byte range.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Patch replaces Body[Start:End] with Text.
type Patch struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Refs is the reference analysis of a cell body.
type Refs struct {
	Inputs  []string `json:"inputs"`  // distinct free names, first appearance order
	Args    []string `json:"args"`    // identifier-safe parameter name per input
	Patches []Patch  `json:"patches"` // sorted by Start, relative to Body
}

// Arg returns the parameter name bound to input, or "" when input is not
// referenced.
func (r Refs) Arg(input string) string {
	for i, in := range r.Inputs {
		if in == input {
			return r.Args[i]
		}
	}
	return ""
}

// Specifier is one `{name as alias}` entry of an import cell.
type Specifier struct {
	Name  string `json:"name"`  // name in the imported notebook
	Alias string `json:"alias"` // local name, equals Name when not aliased
	View  bool   `json:"view"`  // imported with viewof
}

// Injection is one `with {name as alias}` entry of an import cell. Name is
// resolved in the importing notebook and exposed as Alias in the imported one.
type Injection struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// ImportSpec is the structure of an import cell.
type ImportSpec struct {
	Source     string      `json:"source"`
	Specifiers []Specifier `json:"specifiers"`
	Injections []Injection `json:"injections,omitempty"`
	Default    string      `json:"default,omitempty"`
	Namespace  string      `json:"namespace,omitempty"`
}

// Parsed is the analysis of a single cell.
type Parsed struct {
	Source    string       `json:"source"`
	Name      DeclaredName `json:"name"`
	BodyKind  BodyKind     `json:"bodyKind"`
	Body      string       `json:"body"`
	BodySpan  Span         `json:"bodySpan"`
	Refs      Refs         `json:"refs"`
	Async     bool         `json:"async,omitempty"`
	Generator bool         `json:"generator,omitempty"`
	Block     bool         `json:"block,omitempty"`
	Empty     bool         `json:"empty,omitempty"` // only whitespace and comments
	Import    *ImportSpec  `json:"import,omitempty"`
}

// Reserved names are supplied by the runtime to structural definitions and
// never appear as textual inputs.
var Reserved = map[string]bool{
	"Generators": true,
	"Mutable":    true,
}
