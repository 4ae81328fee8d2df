package parser

import (
	"strings"
)

type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenNumber
	TokenString
	TokenChar
	TokenPunct
	TokenDirective
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of file"
	case TokenIdent:
		return "identifier"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenChar:
		return "character"
	case TokenPunct:
		return "punctuation"
	case TokenDirective:
		return "directive"
	}
	return "unknown"
}

type Token struct {
	Kind TokenKind
	Text string
	Pos  Position
}

func (t Token) Is(text string) bool {
	return (t.Kind == TokenPunct || t.Kind == TokenIdent) && t.Text == text
}

var puncts = []string{
	"...", "<<=", ">>=",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "##", "::",
}

type lexer struct {
	src       string
	file      string
	off       int
	line      int
	col       int
	lineStart bool
	toks      []Token
}

// lex splits src into tokens. Comments are dropped and preprocessor
// directives become a single TokenDirective holding the text after '#'.
func lex(file, src string) ([]Token, error) {
	l := &lexer{src: src, file: file, line: 1, col: 1, lineStart: true}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.toks, nil
}

func lexLine(pos Position, src string) ([]Token, error) {
	l := &lexer{src: src, file: pos.File, line: pos.Line, col: pos.Col}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.toks, nil
}

func (l *lexer) pos() Position {
	return Position{File: l.file, Line: l.line, Col: l.col}
}

func (l *lexer) peekByte(n int) byte {
	if l.off+n >= len(l.src) {
		return 0
	}
	return l.src[l.off+n]
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *lexer) errorf(pos Position, format string, args ...any) error {
	return newParsingError(ErrSyntax, pos, format, args...)
}

func (l *lexer) run() error {
	for l.off < len(l.src) {
		c := l.src[l.off]

		switch {
		case c == '\n':
			l.advance(1)
			l.lineStart = true
			continue

		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.advance(1)
			continue

		case c == '\\' && (l.peekByte(1) == '\n' || (l.peekByte(1) == '\r' && l.peekByte(2) == '\n')):
			if l.peekByte(1) == '\r' {
				l.advance(3)
			} else {
				l.advance(2)
			}
			continue

		case c == '/' && l.peekByte(1) == '/':
			l.skipLineComment()
			continue

		case c == '/' && l.peekByte(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}
			continue

		case c == '#' && l.lineStart:
			l.lexDirective()
			continue
		}

		l.lineStart = false
		start := l.pos()

		switch {
		case isIdentStart(c):
			if (c == 'L' || c == 'u' || c == 'U') && (l.peekByte(1) == '"' || l.peekByte(1) == '\'') {
				l.advance(1)
				if err := l.lexQuoted(start, l.src[l.off]); err != nil {
					return err
				}
				continue
			}
			l.lexIdent(start, "")

		case c == '@' && isIdentStart(l.peekByte(1)):
			l.advance(1)
			l.lexIdent(start, "@")

		case c == '@' && l.peekByte(1) == '"':
			l.advance(1)
			if err := l.lexQuoted(start, '"'); err != nil {
				return err
			}
			l.toks[len(l.toks)-1].Text = "@" + l.toks[len(l.toks)-1].Text

		case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
			l.lexNumber(start)

		case c == '"' || c == '\'':
			if err := l.lexQuoted(start, c); err != nil {
				return err
			}

		default:
			l.lexPunct(start)
		}
	}

	l.toks = append(l.toks, Token{Kind: TokenEOF, Pos: l.pos()})
	return nil
}

func (l *lexer) skipLineComment() {
	for l.off < len(l.src) && l.src[l.off] != '\n' {
		l.advance(1)
	}
}

func (l *lexer) skipBlockComment() error {
	start := l.pos()
	l.advance(2)
	for l.off < len(l.src) {
		if l.src[l.off] == '*' && l.peekByte(1) == '/' {
			l.advance(2)
			return nil
		}
		l.advance(1)
	}
	return l.errorf(start, "unterminated comment")
}

func (l *lexer) lexDirective() {
	start := l.pos()
	l.advance(1)

	var b strings.Builder
	for l.off < len(l.src) {
		c := l.src[l.off]
		if c == '\n' {
			break
		}
		if c == '\\' && l.peekByte(1) == '\n' {
			b.WriteByte(' ')
			l.advance(2)
			continue
		}
		if c == '\\' && l.peekByte(1) == '\r' && l.peekByte(2) == '\n' {
			b.WriteByte(' ')
			l.advance(3)
			continue
		}
		if c == '/' && l.peekByte(1) == '/' {
			l.skipLineComment()
			break
		}
		if c == '/' && l.peekByte(1) == '*' {
			// Block comments inside directives count as whitespace.
			if err := l.skipBlockComment(); err != nil {
				break
			}
			b.WriteByte(' ')
			continue
		}
		if c == '"' || c == '\'' {
			q := c
			b.WriteByte(c)
			l.advance(1)
			for l.off < len(l.src) && l.src[l.off] != q && l.src[l.off] != '\n' {
				if l.src[l.off] == '\\' && l.off+1 < len(l.src) {
					b.WriteByte(l.src[l.off])
					l.advance(1)
				}
				b.WriteByte(l.src[l.off])
				l.advance(1)
			}
			if l.off < len(l.src) && l.src[l.off] == q {
				b.WriteByte(q)
				l.advance(1)
			}
			continue
		}
		b.WriteByte(c)
		l.advance(1)
	}

	l.toks = append(l.toks, Token{Kind: TokenDirective, Text: strings.TrimSpace(b.String()), Pos: start})
	l.lineStart = true
}

func (l *lexer) lexIdent(start Position, prefix string) {
	begin := l.off
	for l.off < len(l.src) && isIdentChar(l.src[l.off]) {
		l.advance(1)
	}
	l.toks = append(l.toks, Token{Kind: TokenIdent, Text: prefix + l.src[begin:l.off], Pos: start})
}

func (l *lexer) lexNumber(start Position) {
	begin := l.off
	for l.off < len(l.src) {
		c := l.src[l.off]
		if isIdentChar(c) || c == '.' {
			l.advance(1)
			continue
		}
		if (c == '+' || c == '-') && l.off > begin {
			prev := l.src[l.off-1]
			isHex := strings.HasPrefix(strings.ToLower(l.src[begin:l.off]), "0x")
			if (!isHex && (prev == 'e' || prev == 'E')) || (isHex && (prev == 'p' || prev == 'P')) {
				l.advance(1)
				continue
			}
		}
		break
	}
	l.toks = append(l.toks, Token{Kind: TokenNumber, Text: l.src[begin:l.off], Pos: start})
}

func (l *lexer) lexQuoted(start Position, quote byte) error {
	begin := l.off
	l.advance(1)
	for {
		if l.off >= len(l.src) || l.src[l.off] == '\n' {
			return l.errorf(start, "unterminated literal")
		}
		c := l.src[l.off]
		if c == '\\' {
			l.advance(2)
			continue
		}
		l.advance(1)
		if c == quote {
			break
		}
	}

	kind := TokenString
	if quote == '\'' {
		kind = TokenChar
	}
	l.toks = append(l.toks, Token{Kind: kind, Text: l.src[begin:l.off], Pos: start})
	return nil
}

func (l *lexer) lexPunct(start Position) {
	for _, p := range puncts {
		if strings.HasPrefix(l.src[l.off:], p) {
			l.advance(len(p))
			l.toks = append(l.toks, Token{Kind: TokenPunct, Text: p, Pos: start})
			return
		}
	}
	text := l.src[l.off : l.off+1]
	l.advance(1)
	l.toks = append(l.toks, Token{Kind: TokenPunct, Text: text, Pos: start})
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// joinTokens renders tokens back to source text, inserting a space only
// where two tokens would otherwise merge.
func joinTokens(toks []Token) string {
	var b strings.Builder
	for i, t := range toks {
		if t.Kind == TokenEOF {
			break
		}
		if i > 0 && needsSpace(toks[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

func needsSpace(prev, next Token) bool {
	wordy := func(t Token) bool {
		return t.Kind == TokenIdent || t.Kind == TokenNumber
	}
	return wordy(prev) && wordy(next)
}
