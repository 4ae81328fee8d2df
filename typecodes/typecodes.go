// Package typecodes computes Objective-C type encodings, the strings
// produced by @encode, for types found in parsed headers.
package typecodes

import (
	"fmt"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/pkg/errors"

	"github.com/ardanlabs/objc-metadata/parser"
)

var ErrUnknownType = errors.New("unknown type")

// Encoding characters used by the Objective-C runtime.
const (
	ID        = "@"
	Class     = "#"
	SEL       = ":"
	Char      = "c"
	UChar     = "C"
	Short     = "s"
	UShort    = "S"
	Int       = "i"
	UInt      = "I"
	Long      = "l"
	ULong     = "L"
	LongLong  = "q"
	ULongLong = "Q"
	Int128    = "t"
	UInt128   = "T"
	Float     = "f"
	Double    = "d"
	LongDbl   = "D"
	Bool      = "B"
	NSBool    = "Z"
	CharInt   = "z"
	UniChar   = "T"
	Void      = "v"
	Undef     = "?"
	Ptr       = "^"
	CharPtr   = "*"
	Const     = "r"
	Block     = "@?"
)

const maxDepth = 64

var lp64 = stringset.New("x86_64", "arm64", "arm64e", "ppc64")
var ilp32 = stringset.New("i386", "ppc", "armv7", "armv7s", "arm64_32")

// Registry knows the typedefs, structs, enums and classes of a framework
// and the architecture the encodings are computed for.
type Registry struct {
	arch       string
	predefined map[string]string
	special    stringset.Set
	typedefs   map[string]parser.CType
	structs    map[string]parser.Struct
	tags       map[string]parser.Struct
	enums      map[string]parser.Enum
	enumTags   map[string]parser.Enum
	classes    stringset.Set
	typemap    map[string]string
}

func New(arch string, typemap map[string]string) (*Registry, error) {
	if !lp64.Contains(arch) && !ilp32.Contains(arch) {
		return nil, errors.Errorf("unsupported architecture %q", arch)
	}

	r := Registry{
		arch:       arch,
		predefined: make(map[string]string),
		special:    stringset.New(),
		typedefs:   make(map[string]parser.CType),
		structs:    make(map[string]parser.Struct),
		tags:       make(map[string]parser.Struct),
		enums:      make(map[string]parser.Enum),
		enumTags:   make(map[string]parser.Enum),
		classes:    stringset.New(foundationClasses...),
		typemap:    typemap,
	}
	r.addPredefined()

	return &r, nil
}

func (r *Registry) Arch() string {
	return r.arch
}

func (r *Registry) LP64() bool {
	return lp64.Contains(r.arch)
}

func (r *Registry) long() (string, string) {
	if r.LP64() {
		return LongLong, ULongLong
	}
	return Long, ULong
}

func (r *Registry) addPredefined() {
	long, ulong := r.long()
	cgfloat := Double
	if !r.LP64() {
		cgfloat = Float
	}

	defs := map[string]string{
		"id":           ID,
		"instancetype": ID,
		"Class":        Class,
		"SEL":          SEL,
		"CFTypeRef":    ID,

		"NSInteger":          long,
		"NSUInteger":         ulong,
		"CGFloat":            cgfloat,
		"CFIndex":            long,
		"CFTypeID":           ulong,
		"CFOptionFlags":      ulong,
		"CFHashCode":         ulong,
		"size_t":             ulong,
		"ssize_t":            long,
		"ptrdiff_t":          long,
		"intptr_t":           long,
		"uintptr_t":          ulong,
		"NSTimeInterval":     Double,
		"CFTimeInterval":     Double,
		"CFAbsoluteTime":     Double,
		"NSStringEncoding":   ulong,
		"NSComparisonResult": long,

		"uint8_t":      UChar,
		"int16_t":      Short,
		"uint16_t":     UShort,
		"int32_t":      Int,
		"uint32_t":     UInt,
		"int64_t":      LongLong,
		"uint64_t":     ULongLong,
		"SInt8":        Char,
		"UInt8":        UChar,
		"SInt16":       Short,
		"UInt16":       UShort,
		"SInt32":       Int,
		"UInt32":       UInt,
		"SInt64":       LongLong,
		"UInt64":       ULongLong,
		"OSStatus":     Int,
		"OSErr":        Short,
		"OSType":       UInt,
		"FourCharCode": UInt,

		"__builtin_va_list": Ptr + Void,
		"va_list":           Ptr + Void,
	}
	for name, enc := range defs {
		r.predefined[name] = enc
	}

	// Integer typedefs the bridge treats as distinct types.
	for name, enc := range map[string]string{
		"BOOL":      NSBool,
		"Boolean":   NSBool,
		"boolean_t": NSBool,
		"int8_t":    CharInt,
		"UniChar":   UniChar,
		"unichar":   UniChar,
		"CFTypeRef": ID,
	} {
		r.predefined[name] = enc
		r.special.Add(name)
	}

	for _, cf := range coreFoundationRefs {
		r.predefined[cf.name] = "^{" + cf.tag + "=}"
	}
}

var foundationClasses = []string{
	"NSObject", "NSString", "NSMutableString", "NSArray", "NSMutableArray",
	"NSDictionary", "NSMutableDictionary", "NSSet", "NSMutableSet",
	"NSNumber", "NSValue", "NSData", "NSMutableData", "NSDate", "NSURL",
	"NSError", "NSException", "NSAttributedString", "NSNotification",
	"NSBundle", "NSCoder", "NSFileManager", "NSIndexSet", "NSLocale",
	"NSProxy", "NSTimer", "NSUUID", "NSWindow", "NSView", "NSApplication",
}

var coreFoundationRefs = []struct{ name, tag string }{
	{"CFStringRef", "__CFString"},
	{"CFMutableStringRef", "__CFString"},
	{"CFArrayRef", "__CFArray"},
	{"CFMutableArrayRef", "__CFArray"},
	{"CFDictionaryRef", "__CFDictionary"},
	{"CFMutableDictionaryRef", "__CFDictionary"},
	{"CFDataRef", "__CFData"},
	{"CFMutableDataRef", "__CFData"},
	{"CFNumberRef", "__CFNumber"},
	{"CFURLRef", "__CFURL"},
	{"CFErrorRef", "__CFError"},
	{"CFAllocatorRef", "__CFAllocator"},
	{"CFRunLoopRef", "__CFRunLoop"},
	{"CFBundleRef", "__CFBundle"},
}

// AddHeader registers every class, struct, enum and typedef in h.
func (r *Registry) AddHeader(h *parser.Header) {
	for _, c := range h.Classes {
		r.AddClass(c.Name)
	}
	for _, s := range h.Structs {
		r.AddStruct(s)
	}
	for _, e := range h.Enums {
		r.AddEnum(e)
	}
	for _, td := range h.TypeDefs {
		r.AddTypedef(td)
	}
}

func (r *Registry) AddClass(name string) {
	r.classes.Add(name)
}

func (r *Registry) IsClass(name string) bool {
	return r.classes.Contains(name)
}

// AddTypedef records a typedef. The first definition of a name wins and
// predefined names are never replaced.
func (r *Registry) AddTypedef(td parser.TypeDef) {
	if r.defined(td.Name) {
		return
	}
	r.typedefs[td.Name] = td.SourceType
}

func (r *Registry) defined(name string) bool {
	if _, ok := r.predefined[name]; ok {
		return true
	}
	_, ok := r.typedefs[name]
	return ok
}

// AddStruct records a struct or union by tag and by typedef name. A
// complete definition replaces an earlier forward declaration.
func (r *Registry) AddStruct(s parser.Struct) {
	if s.IsOpaque {
		return
	}
	if s.Tag != "" {
		if old, ok := r.tags[s.Tag]; !ok || len(old.Fields) == 0 {
			r.tags[s.Tag] = s
		}
	}
	if s.TypeDef != "" && !r.defined(s.TypeDef) {
		r.structs[s.TypeDef] = s
		if s.Tag == "" {
			r.special.Add(s.TypeDef)
		}
	}
}

func (r *Registry) AddEnum(e parser.Enum) {
	if e.Name != "" {
		r.enums[e.Name] = e
	}
	if e.Tag != "" {
		r.enumTags[e.Tag] = e
	}
}

// Special reports whether name is a type the bridge handles differently
// from its plain C encoding, such as BOOL or an anonymous struct.
func (r *Registry) Special(name string) bool {
	return r.special.Contains(name)
}

// Encode returns the encoding of ct. Types that cannot be resolved encode
// as "?" and the error wraps ErrUnknownType.
func (r *Registry) Encode(ct parser.CType) (string, error) {
	e := encoder{r: r, visiting: stringset.New()}
	enc, err := e.encode(ct)
	if err != nil {
		return Undef, err
	}
	return r.mapped(enc), nil
}

// EncodeEnum returns the encoding of an enum's underlying type. C enums
// without a fixed type are unsigned int unless a label is negative.
func (r *Registry) EncodeEnum(en parser.Enum) (string, error) {
	e := encoder{r: r, visiting: stringset.New()}
	enc, err := e.enum(en)
	if err != nil {
		return Undef, err
	}
	return r.mapped(enc), nil
}

// EncodeStruct returns the encoding of a struct definition.
func (r *Registry) EncodeStruct(s parser.Struct) (string, error) {
	e := encoder{r: r, visiting: stringset.New()}
	enc, err := e.record(s)
	if err != nil {
		return Undef, err
	}
	return r.mapped(enc), nil
}

func (r *Registry) mapped(enc string) string {
	if m, ok := r.typemap[enc]; ok {
		return m
	}
	return enc
}

type encoder struct {
	r        *Registry
	depth    int
	visiting stringset.Set
}

func (e *encoder) encode(ct parser.CType) (string, error) {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxDepth {
		return "", errors.Wrapf(ErrUnknownType, "%s: typedef cycle", ct)
	}

	if ct.IsArray {
		elem := ct
		elem.IsArray = false
		elem.ArraySize = 0
		enc, err := e.encode(elem)
		if err != nil {
			return "", err
		}
		if ct.ArraySize < 0 {
			return Ptr + enc, nil
		}
		return fmt.Sprintf("[%d%s]", ct.ArraySize, enc), nil
	}

	switch {
	case ct.IsBlock:
		return strings.Repeat(Ptr, ct.Pointer) + Block, nil
	case ct.IsFuncPtr:
		return strings.Repeat(Ptr, ct.Pointer) + Ptr + Undef, nil
	case ct.Signature != nil:
		return Undef, nil
	}

	ptrs := ct.Pointer
	if ptrs > 0 && ct.Tag == "" && e.r.classes.Contains(ct.Name) {
		return strings.Repeat(Ptr, ptrs-1) + ID, nil
	}

	base, err := e.base(ct)
	if err != nil {
		return "", err
	}
	if ptrs == 0 {
		return base, nil
	}

	// The const qualifier belongs to the innermost pointer.
	outer := strings.Repeat(Ptr, ptrs-1)
	if ct.IsConst {
		outer += Const
	}
	if (base == Char || base == UChar) && ct.Tag == "" && (ct.Name == "char" || ct.Name == "UInt8" || ct.Name == "uint8_t") {
		return outer + CharPtr, nil
	}
	return outer + Ptr + base, nil
}

// base encodes the named part of ct, ignoring pointers and arrays.
func (e *encoder) base(ct parser.CType) (string, error) {
	switch ct.Tag {
	case "struct", "union":
		if s, ok := e.r.tags[ct.Name]; ok {
			return e.record(s)
		}
		tag := ct.Name
		if tag == "" {
			tag = Undef
		}
		if ct.Tag == "union" {
			return "(" + tag + "=)", nil
		}
		return "{" + tag + "=}", nil
	case "enum":
		if en, ok := e.r.enumTags[ct.Name]; ok {
			return e.enum(en)
		}
		return UInt, nil
	}

	if enc, ok := e.builtin(ct); ok {
		return enc, nil
	}
	if enc, ok := e.r.predefined[ct.Name]; ok {
		return enc, nil
	}
	if src, ok := e.r.typedefs[ct.Name]; ok {
		enc, err := e.encode(src)
		if err != nil {
			return "", err
		}
		return e.r.mapped(enc), nil
	}
	if s, ok := e.r.structs[ct.Name]; ok {
		return e.record(s)
	}
	if en, ok := e.r.enums[ct.Name]; ok {
		return e.enum(en)
	}
	if e.r.classes.Contains(ct.Name) {
		return ID, nil
	}

	return "", errors.Wrapf(ErrUnknownType, "%q", ct.Name)
}

func (e *encoder) builtin(ct parser.CType) (string, bool) {
	long, ulong := e.r.long()
	pick := func(signed, unsigned string) string {
		if ct.IsUnsigned {
			return unsigned
		}
		return signed
	}

	switch ct.Name {
	case "char":
		return pick(Char, UChar), true
	case "short":
		return pick(Short, UShort), true
	case "int":
		return pick(Int, UInt), true
	case "long":
		return pick(long, ulong), true
	case "long long":
		return pick(LongLong, ULongLong), true
	case "__int128":
		return pick(Int128, UInt128), true
	case "_Bool":
		return Bool, true
	case "float":
		return Float, true
	case "double":
		return Double, true
	case "long double":
		return LongDbl, true
	case "void":
		return Void, true
	}
	return "", false
}

func (e *encoder) record(s parser.Struct) (string, error) {
	lb, rb := "{", "}"
	if s.IsUnion {
		lb, rb = "(", ")"
	}

	name := s.Tag
	if name == "" {
		name = "_" + s.TypeDef
	}
	if name == "_" {
		name = Undef
	}

	// A struct that refers back to itself only repeats its name.
	if s.Tag != "" && e.visiting.Contains(s.Tag) {
		return lb + name + rb, nil
	}
	if s.Tag != "" {
		e.visiting.Add(s.Tag)
		defer e.visiting.Discard(s.Tag)
	}

	var b strings.Builder
	b.WriteString(lb + name + "=")
	for _, f := range s.Fields {
		enc, err := e.encode(f.Type)
		if err != nil {
			return "", errors.Wrapf(err, "field %s.%s", name, f.Name)
		}
		b.WriteString(enc)
	}
	b.WriteString(rb)
	return b.String(), nil
}

func (e *encoder) enum(en parser.Enum) (string, error) {
	if en.Underlying != nil {
		return e.encode(*en.Underlying)
	}
	for _, v := range en.Values {
		if v.Value != nil && *v.Value < 0 {
			return Int, nil
		}
	}
	return UInt, nil
}
