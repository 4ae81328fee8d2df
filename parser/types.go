package parser

import (
	"fmt"
	"strings"
)

type Position struct {
	File string
	Line int
	Col  int
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

type Nullability int

const (
	NullUnspecified Nullability = iota
	Nullable
	Nonnull
)

// CType describes a C type as written in a declaration. Pointer counts the
// levels of indirection; IsConst is the qualifier on the pointee (or on the
// value itself when Pointer is zero).
type CType struct {
	Name        string
	Tag         string
	IsConst     bool
	IsUnsigned  bool
	IsSigned    bool
	Pointer     int
	IsConstPtr  bool
	IsArray     bool
	ArraySize   int
	IsFuncPtr   bool
	IsBlock     bool
	Nullability Nullability
	Protocols   []string
	Signature   *Signature
}

func (ct CType) IsPointer() bool {
	return ct.Pointer > 0 || ct.IsFuncPtr || ct.IsBlock
}

func (ct CType) IsVoid() bool {
	return ct.Name == "void" && ct.Tag == "" && !ct.IsPointer() && !ct.IsArray
}

func (ct CType) String() string {
	var b strings.Builder
	if ct.IsConst {
		b.WriteString("const ")
	}
	if ct.IsUnsigned {
		b.WriteString("unsigned ")
	} else if ct.IsSigned {
		b.WriteString("signed ")
	}
	if ct.Tag != "" {
		b.WriteString(ct.Tag)
		b.WriteString(" ")
	}
	b.WriteString(ct.Name)
	if len(ct.Protocols) > 0 {
		b.WriteString("<" + strings.Join(ct.Protocols, ", ") + ">")
	}
	if ct.Pointer > 0 {
		b.WriteString(" " + strings.Repeat("*", ct.Pointer))
	}
	if ct.IsConstPtr {
		b.WriteString(" const")
	}
	switch {
	case ct.IsFuncPtr:
		b.WriteString(" (*)" + ct.Signature.paramString())
	case ct.IsBlock:
		b.WriteString(" (^)" + ct.Signature.paramString())
	}
	if ct.IsArray {
		if ct.ArraySize >= 0 {
			fmt.Fprintf(&b, "[%d]", ct.ArraySize)
		} else {
			b.WriteString("[]")
		}
	}
	return b.String()
}

// Signature is the prototype of a function, function pointer or block.
type Signature struct {
	ReturnType CType
	Params     []FunctionParam
	IsVariadic bool
	IsKandR    bool
}

func (s *Signature) paramString() string {
	if s == nil {
		return "()"
	}
	var parts []string
	for _, p := range s.Params {
		parts = append(parts, p.Type.String())
	}
	if s.IsVariadic && !s.IsKandR {
		parts = append(parts, "...")
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

type StructField struct {
	Name string
	Type CType
}

type Struct struct {
	Name     string
	Tag      string
	TypeDef  string
	Fields   []StructField
	IsOpaque bool
	IsUnion  bool
	Pos      Position
}

type FunctionParam struct {
	Name string
	Type CType
}

type Function struct {
	Name              string
	ReturnType        CType
	Params            []FunctionParam
	IsVariadic        bool
	IsKandR           bool
	IsInline          bool
	IsStatic          bool
	IsExtern          bool
	PrintfFormat      int
	ReturnsRetained   bool
	ReturnsCFRetained bool
	Availability      Availability
	Pos               Position
}

type TypeDef struct {
	Name         string
	SourceType   CType
	Availability Availability
	Pos          Position
}

type EnumValue struct {
	Name         string
	Expr         string
	Value        *int64
	Availability Availability
	Pos          Position
}

type Enum struct {
	Name         string
	Tag          string
	Underlying   *CType
	IsOptions    bool
	IsClosed     bool
	ErrorDomain  string
	Values       []EnumValue
	Availability Availability
	Pos          Position
}

// StringEnum is a typedef marked as an enumeration of constants of a
// (usually string) type, such as NS_STRING_ENUM.
type StringEnum struct {
	Name         string
	Type         CType
	Extensible   bool
	Availability Availability
	Pos          Position
}

type Variable struct {
	Name         string
	Type         CType
	IsExtern     bool
	IsStatic     bool
	Init         []Token
	Availability Availability
	Pos          Position
}

func (v Variable) InitText() string {
	return joinTokens(v.Init)
}

type Define struct {
	Name           string
	Params         []string
	IsFunctionLike bool
	IsVariadic     bool
	Body           []Token
	Text           string
	Pos            Position
}

type ObjCName struct {
	Name string
	Pos  Position
}

type Header struct {
	Files       []string
	Includes    []string
	Structs     []Struct
	Functions   []Function
	TypeDefs    []TypeDef
	Enums       []Enum
	StringEnums []StringEnum
	Variables   []Variable
	Defines     []Define
	Classes     []ObjCName
	Protocols   []ObjCName
}
