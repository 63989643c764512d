package cell

// TokenKind is the lexical class of a Token.
type TokenKind int

const (
	TokenIdent TokenKind = iota
	TokenNumber
	TokenString
	TokenTemplate // template text up to and including "${" or the closing backtick
	TokenRegex
	TokenComment
	TokenPunct
)

// Token is a lexical token of JavaScript source. Whitespace is not tokenized.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
}

// Text returns the token's source text.
func (t Token) Text(src string) string { return src[t.Start:t.End] }

// Lex splits src into tokens. It never fails: unterminated strings, comments
// and templates extend to the end of input. Punctuation is one byte per token.
//
// The lexer exists to find code regions before the source can be handed to a
// grammar: cells may contain `viewof x` and `mutable x`, which are not
// JavaScript.
func Lex(src string) []Token {
	l := &lexer{src: src}
	l.run()
	return l.tokens
}

// Significant drops comment tokens.
func Significant(toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		if t.Kind != TokenComment {
			out = append(out, t)
		}
	}
	return out
}

type lexer struct {
	src    string
	pos    int
	tokens []Token
	// braces records, per open `{`, whether it opened a template substitution.
	braces []bool
}

func (l *lexer) run() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isSpace(c):
			l.pos++
		case c == '/' && l.peek(1) == '/':
			l.lineComment()
		case c == '/' && l.peek(1) == '*':
			l.blockComment()
		case c == '\'' || c == '"':
			l.quoted(c)
		case c == '`':
			l.template()
		case c == '}' && len(l.braces) > 0 && l.braces[len(l.braces)-1]:
			l.braces = l.braces[:len(l.braces)-1]
			l.template()
		case c == '{':
			l.braces = append(l.braces, false)
			l.punct()
		case c == '}':
			if len(l.braces) > 0 {
				l.braces = l.braces[:len(l.braces)-1]
			}
			l.punct()
		case c == '/' && l.regexAllowed():
			l.regex()
		case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
			l.number()
		case isIdentStart(c):
			l.ident()
		default:
			l.punct()
		}
	}
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) emit(kind TokenKind, start int) {
	l.tokens = append(l.tokens, Token{Kind: kind, Start: start, End: l.pos})
}

func (l *lexer) punct() {
	start := l.pos
	l.pos++
	l.emit(TokenPunct, start)
}

func (l *lexer) lineComment() {
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
	l.emit(TokenComment, start)
}

func (l *lexer) blockComment() {
	start := l.pos
	l.pos += 2
	for l.pos < len(l.src) {
		if l.src[l.pos] == '*' && l.peek(1) == '/' {
			l.pos += 2
			break
		}
		l.pos++
	}
	if l.pos > len(l.src) {
		l.pos = len(l.src)
	}
	l.emit(TokenComment, start)
}

func (l *lexer) quoted(q byte) {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' {
			l.pos += 2
			continue
		}
		l.pos++
		if c == q || c == '\n' {
			break
		}
	}
	if l.pos > len(l.src) {
		l.pos = len(l.src)
	}
	l.emit(TokenString, start)
}

// template scans template text starting at a backtick or at the `}` closing a
// substitution, stopping after the next "${" or closing backtick.
func (l *lexer) template() {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\':
			l.pos += 2
			continue
		case c == '`':
			l.pos++
			l.emit(TokenTemplate, start)
			return
		case c == '$' && l.peek(1) == '{':
			l.pos += 2
			l.braces = append(l.braces, true)
			l.emit(TokenTemplate, start)
			return
		}
		l.pos++
	}
	if l.pos > len(l.src) {
		l.pos = len(l.src)
	}
	l.emit(TokenTemplate, start)
}

// regex scans a regular expression literal. A literal cannot span lines; when
// no closing slash is found on the line the slash is a division operator.
func (l *lexer) regex() {
	start := l.pos
	i := l.pos + 1
	inClass := false
	for i < len(l.src) {
		c := l.src[i]
		if c == '\n' {
			l.punct()
			return
		}
		if c == '\\' {
			i += 2
			continue
		}
		if c == '[' {
			inClass = true
		} else if c == ']' {
			inClass = false
		} else if c == '/' && !inClass {
			break
		}
		i++
	}
	if i >= len(l.src) {
		l.punct()
		return
	}
	i++
	for i < len(l.src) && isIdentPart(l.src[i]) {
		i++
	}
	l.pos = i
	l.emit(TokenRegex, start)
}

func (l *lexer) number() {
	start := l.pos
	for l.pos < len(l.src) && (isIdentPart(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	l.emit(TokenNumber, start)
}

func (l *lexer) ident() {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	l.emit(TokenIdent, start)
}

// regexAllowed reports whether a slash at the current position starts a
// regular expression rather than a division.
func (l *lexer) regexAllowed() bool {
	for i := len(l.tokens) - 1; i >= 0; i-- {
		t := l.tokens[i]
		switch t.Kind {
		case TokenComment:
			continue
		case TokenPunct:
			c := l.src[t.Start]
			return c != ')' && c != ']'
		case TokenIdent:
			return regexKeywords[t.Text(l.src)]
		default:
			return false
		}
	}
	return true
}

var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true, "instanceof": true,
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c == '\\' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
