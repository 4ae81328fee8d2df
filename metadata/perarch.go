package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/pkg/errors"
)

// The architectures a merged value distinguishes.
const (
	ArchX86_64 = "x86_64"
	ArchARM64  = "arm64"
)

// MergedInfo holds a value that differs between the two architectures.
type MergedInfo[T comparable] struct {
	X86_64 T `json:"x86_64"`
	ARM64  T `json:"arm64"`
}

// PerArch is either a single value shared by every architecture or a
// MergedInfo. It encodes as the bare value in the first case.
type PerArch[T comparable] struct {
	Value  T
	Merged *MergedInfo[T]
}

func Scalar[T comparable](v T) PerArch[T] {
	return PerArch[T]{Value: v}
}

func Merged[T comparable](x86, arm T) PerArch[T] {
	return PerArch[T]{Merged: &MergedInfo[T]{X86_64: x86, ARM64: arm}}
}

func (p PerArch[T]) IsMerged() bool {
	return p.Merged != nil
}

// For returns the value seen on arch.
func (p PerArch[T]) For(arch string) T {
	if p.Merged == nil {
		return p.Value
	}
	if arch == ArchARM64 || strings.HasPrefix(arch, "arm64") {
		return p.Merged.ARM64
	}
	return p.Merged.X86_64
}

func (p PerArch[T]) Equal(o PerArch[T]) bool {
	switch {
	case p.Merged == nil && o.Merged == nil:
		return p.Value == o.Value
	case p.Merged != nil && o.Merged != nil:
		return *p.Merged == *o.Merged
	}
	return false
}

func (p PerArch[T]) String() string {
	if p.Merged != nil {
		return fmt.Sprintf("x86_64: %v, arm64: %v", p.Merged.X86_64, p.Merged.ARM64)
	}
	return fmt.Sprint(p.Value)
}

func (p PerArch[T]) MarshalJSON() ([]byte, error) {
	if p.Merged != nil {
		return json.Marshal(p.Merged)
	}
	return json.Marshal(p.Value)
}

func (p *PerArch[T]) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
		_, hasX86 := fields[ArchX86_64]
		_, hasARM := fields[ArchARM64]
		if len(fields) == 2 && hasX86 && hasARM {
			var m MergedInfo[T]
			if err := json.Unmarshal(trimmed, &m); err != nil {
				return err
			}
			*p = PerArch[T]{Merged: &m}
			return nil
		}
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = PerArch[T]{Value: v}
	return nil
}

type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralInt
	LiteralFloat
	LiteralString
)

// Literal is the value of a named constant: null, an integer, a float or
// a string.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Str   string
}

func NullLiteral() Literal {
	return Literal{}
}

func IntLiteral(n int64) Literal {
	return Literal{Kind: LiteralInt, Int: n}
}

func FloatLiteral(f float64) Literal {
	return Literal{Kind: LiteralFloat, Float: f}
}

func StringLiteral(s string) Literal {
	return Literal{Kind: LiteralString, Str: s}
}

func (l Literal) String() string {
	switch l.Kind {
	case LiteralInt:
		return strconv.FormatInt(l.Int, 10)
	case LiteralFloat:
		return formatFloat(l.Float)
	case LiteralString:
		return strconv.Quote(l.Str)
	}
	return "null"
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func (l Literal) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case LiteralInt:
		return []byte(strconv.FormatInt(l.Int, 10)), nil
	case LiteralFloat:
		if math.IsInf(l.Float, 0) || math.IsNaN(l.Float) {
			return nil, errors.Errorf("literal %v cannot be stored", l.Float)
		}
		return []byte(formatFloat(l.Float)), nil
	case LiteralString:
		return json.Marshal(l.Str)
	}
	return []byte("null"), nil
}

func (l *Literal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = NullLiteral()
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringLiteral(s)
		return nil
	case bytes.ContainsAny(data, ".eE"):
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return errors.Wrapf(err, "literal %s", data)
		}
		*l = FloatLiteral(f)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "literal %s", data)
	}
	*l = IntLiteral(n)
	return nil
}

// ArchSet is a set of architecture names stored as a sorted list.
type ArchSet struct {
	stringset.Set
}

func NewArchSet(archs ...string) ArchSet {
	return ArchSet{Set: stringset.New(archs...)}
}

func (s ArchSet) MarshalJSON() ([]byte, error) {
	elts := s.Elements()
	if elts == nil {
		elts = []string{}
	}
	return json.Marshal(elts)
}

func (s *ArchSet) UnmarshalJSON(data []byte) error {
	var elts []string
	if err := json.Unmarshal(data, &elts); err != nil {
		return err
	}
	s.Set = stringset.New(elts...)
	return nil
}
