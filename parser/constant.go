package parser

// Constant is the value of a constant expression.
type Constant struct {
	Int     int64
	Float   float64
	IsFloat bool
}

// EvalConstant evaluates toks as a C constant expression. Identifiers are
// resolved through lookup, which may be nil; an unresolved identifier
// makes the expression non-constant.
func EvalConstant(toks []Token, lookup func(name string) (Constant, bool)) (Constant, error) {
	var resolve func(string) (value, bool)
	if lookup != nil {
		resolve = func(name string) (value, bool) {
			c, ok := lookup(name)
			if !ok {
				return value{}, false
			}
			if c.IsFloat {
				return floatValue(c.Float), true
			}
			return intValue(c.Int), true
		}
	}

	v, err := evalTokens(toks, resolve)
	if err != nil {
		return Constant{}, err
	}
	if v.isFloat {
		return Constant{Float: v.f, IsFloat: true}, nil
	}
	return Constant{Int: v.i}, nil
}
