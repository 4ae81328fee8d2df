package scan

import (
	"strconv"
	"strings"

	"bitbucket.org/creachadair/stringset"

	"github.com/ardanlabs/objc-metadata/metadata"
	"github.com/ardanlabs/objc-metadata/parser"
)

var nullNames = stringset.New("NULL", "nil", "Nil")

// keywords never start the body of a #define worth recording.
var keywords = stringset.New(
	"extern", "static", "inline", "const", "volatile", "register", "auto",
	"typedef", "struct", "union", "enum", "void", "char", "short", "int",
	"long", "float", "double", "signed", "unsigned", "_Bool", "bool",
	"restrict", "__restrict", "__inline", "__inline__", "__attribute__",
	"__declspec", "__typeof__", "typeof", "sizeof", "if", "else", "do",
	"while", "for", "return", "switch", "goto", "break", "continue",
)

func skipDefine(body []parser.Token) bool {
	first := body[0]
	if first.Kind != parser.TokenIdent {
		return false
	}
	return keywords.Contains(first.Text) || strings.HasPrefix(first.Text, "__")
}

// trimParens strips parentheses that enclose the whole of toks.
func trimParens(toks []parser.Token) []parser.Token {
	for len(toks) >= 2 && toks[0].Is("(") && toks[len(toks)-1].Is(")") {
		depth := 0
		for i, t := range toks {
			switch {
			case t.Is("("):
				depth++
			case t.Is(")"):
				depth--
			}
			if depth == 0 && i < len(toks)-1 {
				return toks
			}
		}
		toks = toks[1 : len(toks)-1]
	}
	return toks
}

// aliasTarget returns the name toks consist of, if any.
func aliasTarget(toks []parser.Token) (string, bool) {
	toks = trimParens(toks)
	if len(toks) != 1 || toks[0].Kind != parser.TokenIdent {
		return "", false
	}
	name := toks[0].Text
	if nullNames.Contains(name) || keywords.Contains(name) {
		return "", false
	}
	return name, true
}

// literal evaluates toks to a null, string or numeric literal. The second
// result reports an Objective-C or CoreFoundation string.
func (c *converter) literal(toks []parser.Token) (metadata.Literal, bool, bool) {
	toks = trimParens(toks)
	if len(toks) == 0 {
		return metadata.Literal{}, false, false
	}

	if len(toks) == 1 && toks[0].Kind == parser.TokenIdent && nullNames.Contains(toks[0].Text) {
		return metadata.NullLiteral(), false, true
	}
	if s, unicode, ok := stringLiteral(toks); ok {
		return metadata.StringLiteral(s), unicode, true
	}

	v, err := parser.EvalConstant(toks, func(name string) (parser.Constant, bool) {
		v, ok := c.values[name]
		return v, ok
	})
	if err != nil {
		return metadata.Literal{}, false, false
	}

	switch {
	case pointerCast(toks) && !v.IsFloat && v.Int == 0:
		return metadata.NullLiteral(), false, true
	case v.IsFloat:
		return metadata.FloatLiteral(v.Float), false, true
	}
	return metadata.IntLiteral(v.Int), false, true
}

// pointerCast reports whether toks start with a cast to a pointer type,
// as in ((void*)0).
func pointerCast(toks []parser.Token) bool {
	if len(toks) == 0 || !toks[0].Is("(") {
		return false
	}
	for _, t := range toks[1:] {
		switch {
		case t.Is(")"):
			return false
		case t.Is("*"):
			return true
		case t.Kind != parser.TokenIdent:
			return false
		}
	}
	return false
}

// stringLiteral handles "c string", @"objc string" and CFSTR("cf string"),
// including adjacent literals that C concatenates.
func stringLiteral(toks []parser.Token) (string, bool, bool) {
	unicode := false
	if len(toks) >= 4 && toks[0].Is("CFSTR") && toks[1].Is("(") && toks[len(toks)-1].Is(")") {
		toks = toks[2 : len(toks)-1]
		unicode = true
	}

	var b strings.Builder
	for i, t := range toks {
		if t.Kind != parser.TokenString {
			return "", false, false
		}
		text := t.Text
		if strings.HasPrefix(text, "@") {
			if i == 0 {
				unicode = true
			}
			text = text[1:]
		}
		if !strings.HasPrefix(text, `"`) {
			// L"..." and other prefixed literals
			return "", false, false
		}
		b.WriteString(unquote(text))
	}
	if b.Len() == 0 && len(toks) == 0 {
		return "", false, false
	}
	return b.String(), unicode, true
}

func unquote(text string) string {
	if s, err := strconv.Unquote(text); err == nil {
		return s
	}
	return strings.TrimSuffix(strings.TrimPrefix(text, `"`), `"`)
}

// sourceText renders toks with a single space wherever the source had
// white space between them.
func sourceText(toks []parser.Token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 {
			prev := toks[i-1]
			gap := t.Pos.Line != prev.Pos.Line || t.Pos.Col > prev.Pos.Col+len(prev.Text)
			if gap || (wordy(prev) && wordy(t)) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

func wordy(t parser.Token) bool {
	return t.Kind == parser.TokenIdent || t.Kind == parser.TokenNumber
}
