package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLex(t *testing.T) {
	toks, err := lex("t.h", "int x = 10.13; @\"str\" 'a' a->b ... @interface\n#define A 1 \\\n + 2\n")
	require.NoError(t, err)

	type tok struct {
		kind TokenKind
		text string
	}
	var got []tok
	for _, t := range toks {
		got = append(got, tok{t.Kind, t.Text})
	}

	want := []tok{
		{TokenIdent, "int"},
		{TokenIdent, "x"},
		{TokenPunct, "="},
		{TokenNumber, "10.13"},
		{TokenPunct, ";"},
		{TokenString, `@"str"`},
		{TokenChar, "'a'"},
		{TokenIdent, "a"},
		{TokenPunct, "->"},
		{TokenIdent, "b"},
		{TokenPunct, "..."},
		{TokenIdent, "@interface"},
	}
	require.GreaterOrEqual(t, len(got), len(want)+2)
	assert.Equal(t, want, got[:len(want)])

	dir := toks[len(want)]
	assert.Equal(t, TokenDirective, dir.Kind)
	assert.Contains(t, dir.Text, "define A 1")
	assert.Contains(t, dir.Text, "+ 2")
	assert.Equal(t, 2, dir.Pos.Line)
	assert.Equal(t, TokenEOF, toks[len(toks)-1].Kind)
}

func TestLexErrors(t *testing.T) {
	_, err := lex("t.h", "/* never closed")
	assert.Error(t, err)

	_, err = lex("t.h", "\"never closed\n")
	assert.Error(t, err)
}

func TestEvalTokens(t *testing.T) {
	labels := map[string]int64{"First": 4}
	lookup := func(name string) (value, bool) {
		n, ok := labels[name]
		return intValue(n), ok
	}

	tests := []struct {
		expr string
		want int64
	}{
		{"1 << 8", 256},
		{"0x20 | 030", 56},
		{"(1 + 2) * 3", 9},
		{"-1", -1},
		{"~0", -1},
		{"First + 1", 5},
		{"'abcd'", 0x61626364},
		{"'\\0'", 0},
		{"'\\n'", 10},
		{"1 ? 2 : 3", 2},
		{"0 || !0", 1},
		{"10UL / 3", 3},
		{"(unsigned char)0x1ff", 0xff},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			toks, err := lexLine(Position{}, tt.expr)
			require.NoError(t, err)
			v, err := evalTokens(toks, lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.int())
		})
	}
}

func TestEvalTypedefCast(t *testing.T) {
	toks, err := lexLine(Position{}, "(NSUInteger)-1")
	require.NoError(t, err)

	e := evaluator{toks: toks, isType: func(s string) bool { return knownTypeNames.Contains(s) }}
	v, err := e.eval()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v.int())
}

func TestEvalFloat(t *testing.T) {
	toks, err := lexLine(Position{}, "19.5 * 2")
	require.NoError(t, err)
	v, err := evalTokens(toks, nil)
	require.NoError(t, err)
	assert.True(t, v.isFloat)
	assert.Equal(t, 39.0, v.float())
}

func TestEvalNotConstant(t *testing.T) {
	for _, expr := range []string{"sizeof(int)", "Unknown + 1", "1 / 0", "", "(1"} {
		toks, err := lexLine(Position{}, expr)
		require.NoError(t, err)
		_, err = evalTokens(toks, nil)
		assert.ErrorIs(t, err, errNotConstant, expr)
	}
}

func TestEvalConstant(t *testing.T) {
	lookup := func(name string) (Constant, bool) {
		if name == "Shift" {
			return Constant{Int: 4}, true
		}
		return Constant{}, false
	}

	toks, err := lexLine(Position{}, "(1 << Shift) | 1")
	require.NoError(t, err)
	c, err := EvalConstant(toks, lookup)
	require.NoError(t, err)
	assert.Equal(t, Constant{Int: 17}, c)

	toks, err = lexLine(Position{}, "2.5")
	require.NoError(t, err)
	c, err = EvalConstant(toks, nil)
	require.NoError(t, err)
	assert.Equal(t, Constant{Float: 2.5, IsFloat: true}, c)

	toks, err = lexLine(Position{}, "N1|N2")
	require.NoError(t, err)
	_, err = EvalConstant(toks, lookup)
	assert.ErrorIs(t, err, errNotConstant)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("10_5")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 10, Minor: 5}, v)

	v, err = ParseVersion("10.13.4")
	require.NoError(t, err)
	assert.Equal(t, "10.13.4", v.String())

	_, err = ParseVersion("ten")
	assert.Error(t, err)
}
