package parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var errNotConstant = errors.New("not a constant expression")

type value struct {
	i       int64
	f       float64
	isFloat bool
}

func intValue(i int64) value {
	return value{i: i}
}

func floatValue(f float64) value {
	return value{f: f, isFloat: true}
}

func boolValue(b bool) value {
	if b {
		return intValue(1)
	}
	return intValue(0)
}

func (v value) int() int64 {
	if v.isFloat {
		return int64(v.f)
	}
	return v.i
}

func (v value) float() float64 {
	if v.isFloat {
		return v.f
	}
	return float64(v.i)
}

func (v value) truth() bool {
	if v.isFloat {
		return v.f != 0
	}
	return v.i != 0
}

// evaluator computes C constant expressions over a token slice. Identifiers
// are resolved through lookup; call handles function-like builtins such
// as defined() or __has_feature().
type evaluator struct {
	toks   []Token
	pos    int
	lookup func(name string) (value, bool)
	call   func(name string, args [][]Token) (value, bool)
	isType func(name string) bool
}

func evalTokens(toks []Token, lookup func(name string) (value, bool)) (value, error) {
	e := evaluator{toks: toks, lookup: lookup}
	return e.eval()
}

func (e *evaluator) eval() (value, error) {
	if len(e.toks) == 0 {
		return value{}, errors.Wrap(errNotConstant, "empty expression")
	}

	v, err := e.expr(1)
	if err != nil {
		return value{}, err
	}
	if e.pos < len(e.toks) && e.toks[e.pos].Kind != TokenEOF {
		return value{}, errors.Wrapf(errNotConstant, "unexpected %q", e.toks[e.pos].Text)
	}
	return v, nil
}

func (e *evaluator) peek() Token {
	if e.pos >= len(e.toks) {
		return Token{Kind: TokenEOF}
	}
	return e.toks[e.pos]
}

func (e *evaluator) next() Token {
	t := e.peek()
	if e.pos < len(e.toks) {
		e.pos++
	}
	return t
}

func binaryPrec(t Token) int {
	if t.Kind != TokenPunct {
		return 0
	}
	switch t.Text {
	case "||":
		return 2
	case "&&":
		return 3
	case "|":
		return 4
	case "^":
		return 5
	case "&":
		return 6
	case "==", "!=":
		return 7
	case "<", "<=", ">", ">=":
		return 8
	case "<<", ">>":
		return 9
	case "+", "-":
		return 10
	case "*", "/", "%":
		return 11
	}
	return 0
}

func (e *evaluator) expr(minPrec int) (value, error) {
	lhs, err := e.unary()
	if err != nil {
		return value{}, err
	}

	for {
		t := e.peek()

		if t.Is("?") && minPrec <= 1 {
			e.next()
			a, errA := e.expr(1)
			if !e.next().Is(":") {
				return value{}, errors.Wrap(errNotConstant, "expected ':'")
			}
			b, errB := e.expr(1)
			if lhs.truth() {
				lhs, err = a, errA
			} else {
				lhs, err = b, errB
			}
			if err != nil {
				return value{}, err
			}
			continue
		}

		prec := binaryPrec(t)
		if prec == 0 || prec < minPrec {
			return lhs, nil
		}
		e.next()

		rhs, err := e.expr(prec + 1)
		if err != nil {
			return value{}, err
		}
		if lhs, err = binary(t.Text, lhs, rhs); err != nil {
			return value{}, err
		}
	}
}

func binary(op string, a, b value) (value, error) {
	switch op {
	case "||":
		return boolValue(a.truth() || b.truth()), nil
	case "&&":
		return boolValue(a.truth() && b.truth()), nil
	}

	if a.isFloat || b.isFloat {
		x, y := a.float(), b.float()
		switch op {
		case "+":
			return floatValue(x + y), nil
		case "-":
			return floatValue(x - y), nil
		case "*":
			return floatValue(x * y), nil
		case "/":
			if y == 0 {
				return value{}, errors.Wrap(errNotConstant, "division by zero")
			}
			return floatValue(x / y), nil
		case "==":
			return boolValue(x == y), nil
		case "!=":
			return boolValue(x != y), nil
		case "<":
			return boolValue(x < y), nil
		case "<=":
			return boolValue(x <= y), nil
		case ">":
			return boolValue(x > y), nil
		case ">=":
			return boolValue(x >= y), nil
		}
	}

	x, y := a.int(), b.int()
	switch op {
	case "|":
		return intValue(x | y), nil
	case "^":
		return intValue(x ^ y), nil
	case "&":
		return intValue(x & y), nil
	case "==":
		return boolValue(x == y), nil
	case "!=":
		return boolValue(x != y), nil
	case "<":
		return boolValue(x < y), nil
	case "<=":
		return boolValue(x <= y), nil
	case ">":
		return boolValue(x > y), nil
	case ">=":
		return boolValue(x >= y), nil
	case "<<":
		if y < 0 || y > 63 {
			return value{}, errors.Wrapf(errNotConstant, "shift count %d", y)
		}
		return intValue(x << uint(y)), nil
	case ">>":
		if y < 0 || y > 63 {
			return value{}, errors.Wrapf(errNotConstant, "shift count %d", y)
		}
		return intValue(x >> uint(y)), nil
	case "+":
		return intValue(x + y), nil
	case "-":
		return intValue(x - y), nil
	case "*":
		return intValue(x * y), nil
	case "/", "%":
		if y == 0 {
			return value{}, errors.Wrap(errNotConstant, "division by zero")
		}
		if op == "/" {
			return intValue(x / y), nil
		}
		return intValue(x % y), nil
	}

	return value{}, errors.Wrapf(errNotConstant, "operator %q", op)
}

func (e *evaluator) unary() (value, error) {
	t := e.next()

	switch {
	case t.Is("-"):
		v, err := e.unary()
		if err != nil {
			return value{}, err
		}
		if v.isFloat {
			return floatValue(-v.f), nil
		}
		return intValue(-v.i), nil

	case t.Is("+"):
		return e.unary()

	case t.Is("~"):
		v, err := e.unary()
		if err != nil {
			return value{}, err
		}
		return intValue(^v.int()), nil

	case t.Is("!"):
		v, err := e.unary()
		if err != nil {
			return value{}, err
		}
		return boolValue(!v.truth()), nil

	case t.Is("("):
		if typ, ok := e.castType(); ok {
			v, err := e.unary()
			if err != nil {
				return value{}, err
			}
			return castValue(typ, v), nil
		}
		v, err := e.expr(1)
		if err != nil {
			return value{}, err
		}
		if !e.next().Is(")") {
			return value{}, errors.Wrap(errNotConstant, "expected ')'")
		}
		return v, nil

	case t.Kind == TokenNumber:
		return parseNumber(t.Text)

	case t.Kind == TokenChar:
		return parseChar(t.Text)

	case t.Kind == TokenIdent:
		if e.call != nil && e.peek().Is("(") {
			start := e.pos
			args, ok := e.callArgs()
			if ok {
				if v, ok := e.call(t.Text, args); ok {
					return v, nil
				}
			}
			e.pos = start
		}
		if e.lookup != nil {
			if v, ok := e.lookup(t.Text); ok {
				return v, nil
			}
		}
		return value{}, errors.Wrapf(errNotConstant, "unknown identifier %q", t.Text)
	}

	return value{}, errors.Wrapf(errNotConstant, "unexpected %q", t.Text)
}

// callArgs consumes a parenthesised argument list.
func (e *evaluator) callArgs() ([][]Token, bool) {
	e.next()
	start := e.pos
	depth := 1
	for e.pos < len(e.toks) {
		t := e.next()
		switch {
		case t.Is("("):
			depth++
		case t.Is(")"):
			depth--
			if depth == 0 {
				return splitArgs(e.toks[start : e.pos-1]), true
			}
		}
	}
	return nil, false
}

var cTypeWords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"const": true, "volatile": true, "_Bool": true, "bool": true,
	"struct": true, "enum": true, "union": true,
}

// castType checks whether the tokens after an opening parenthesis form a
// type name followed by ')'. On success the tokens are consumed.
func (e *evaluator) castType() (string, bool) {
	end := e.pos
	var words []string
	for end < len(e.toks) {
		t := e.toks[end]
		if t.Is(")") {
			break
		}
		if t.Kind != TokenIdent && !t.Is("*") {
			return "", false
		}
		words = append(words, t.Text)
		end++
	}
	if end >= len(e.toks) || len(words) == 0 {
		return "", false
	}

	first := words[0]
	isType := cTypeWords[first] || (e.isType != nil && e.isType(first))
	if !isType && len(words) == 1 {
		// A lone unknown identifier followed by an operand is a cast to a
		// typedef we have not seen, as in (NSWindowStyleMask)1.
		if e.lookup != nil {
			if _, ok := e.lookup(first); ok {
				return "", false
			}
		}
		if end+1 < len(e.toks) {
			next := e.toks[end+1]
			isType = next.Kind == TokenNumber || next.Kind == TokenIdent || next.Kind == TokenChar ||
				next.Is("(") || next.Is("~") || next.Is("!")
		}
	}
	if !isType {
		return "", false
	}

	e.pos = end + 1
	return strings.Join(words, " "), true
}

func castValue(typ string, v value) value {
	if strings.Contains(typ, "*") {
		return intValue(v.int())
	}

	switch strings.TrimPrefix(typ, "const ") {
	case "float", "double", "long double", "CGFloat", "Float32", "Float64", "NSTimeInterval", "CFTimeInterval":
		return floatValue(v.float())
	case "unsigned", "unsigned int", "uint32_t", "UInt32", "u_int32_t":
		return intValue(int64(uint32(v.int())))
	case "int", "signed", "signed int", "int32_t", "SInt32":
		return intValue(int64(int32(v.int())))
	case "unsigned short", "uint16_t", "UInt16", "unichar":
		return intValue(int64(uint16(v.int())))
	case "short", "int16_t", "SInt16":
		return intValue(int64(int16(v.int())))
	case "unsigned char", "uint8_t", "UInt8":
		return intValue(int64(uint8(v.int())))
	case "char", "signed char", "int8_t", "SInt8":
		return intValue(int64(int8(v.int())))
	}
	return intValue(v.int())
}

// parseNumber parses an integer or floating point literal including its
// C suffixes.
func parseNumber(text string) (value, error) {
	lower := strings.ToLower(text)

	switch {
	case strings.HasPrefix(lower, "0x"):
		digits := strings.TrimRight(lower[2:], "ul")
		u, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return value{}, errors.Wrapf(errNotConstant, "bad number %q", text)
		}
		return intValue(int64(u)), nil

	case strings.HasPrefix(lower, "0b"):
		digits := strings.TrimRight(lower[2:], "ul")
		u, err := strconv.ParseUint(digits, 2, 64)
		if err != nil {
			return value{}, errors.Wrapf(errNotConstant, "bad number %q", text)
		}
		return intValue(int64(u)), nil

	case strings.ContainsAny(lower, ".e") || strings.HasSuffix(lower, "f"):
		digits := strings.TrimRight(lower, "fl")
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil || math.IsInf(f, 0) {
			return value{}, errors.Wrapf(errNotConstant, "bad number %q", text)
		}
		return floatValue(f), nil
	}

	digits := strings.TrimRight(lower, "ul")
	base := 10
	if len(digits) > 1 && digits[0] == '0' {
		base = 8
	}
	u, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return value{}, errors.Wrapf(errNotConstant, "bad number %q", text)
	}
	return intValue(int64(u)), nil
}

// parseChar evaluates a character literal. Multi-character constants such
// as 'abcd' pack each byte big-endian into an int, as clang does.
func parseChar(text string) (value, error) {
	text = strings.TrimLeft(text, "LuU8")
	if len(text) < 3 || text[0] != '\'' || text[len(text)-1] != '\'' {
		return value{}, errors.Wrapf(errNotConstant, "bad character %q", text)
	}
	body := text[1 : len(text)-1]

	var result int64
	for i := 0; i < len(body); {
		c := body[i]
		i++
		if c != '\\' {
			result = result<<8 | int64(c)
			continue
		}
		if i >= len(body) {
			return value{}, errors.Wrapf(errNotConstant, "bad character %q", text)
		}

		esc := body[i]
		i++
		var b int64
		switch esc {
		case 'n':
			b = '\n'
		case 't':
			b = '\t'
		case 'r':
			b = '\r'
		case 'a':
			b = 7
		case 'b':
			b = 8
		case 'f':
			b = 12
		case 'v':
			b = 11
		case 'x':
			start := i
			for i < len(body) && strings.IndexByte("0123456789abcdefABCDEF", body[i]) >= 0 {
				i++
			}
			n, err := strconv.ParseUint(body[start:i], 16, 8)
			if err != nil {
				return value{}, errors.Wrapf(errNotConstant, "bad character %q", text)
			}
			b = int64(n)
		case '0', '1', '2', '3', '4', '5', '6', '7':
			start := i - 1
			for i < len(body) && i-start < 3 && body[i] >= '0' && body[i] <= '7' {
				i++
			}
			n, _ := strconv.ParseUint(body[start:i], 8, 16)
			b = int64(n & 0xff)
		default:
			b = int64(esc)
		}
		result = result<<8 | b
	}
	return intValue(result), nil
}
