package scan

import (
	"fmt"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"go.uber.org/zap"

	"github.com/ardanlabs/objc-metadata/metadata"
	"github.com/ardanlabs/objc-metadata/parser"
	"github.com/ardanlabs/objc-metadata/typecodes"
)

type converter struct {
	s   *Scanner
	reg *typecodes.Registry
	md  *metadata.FrameworkMetadata
	log *zap.Logger

	// labels maps every enum label to its enum type, "" for anonymous
	// enums. values holds the constants a #define may refer to.
	labels map[string]string
	values map[string]parser.Constant

	typeNames   stringset.Set
	unencodable int
}

func newConverter(s *Scanner, reg *typecodes.Registry, md *metadata.FrameworkMetadata) *converter {
	return &converter{
		s:         s,
		reg:       reg,
		md:        md,
		log:       s.log.With(zap.String("arch", reg.Arch())),
		labels:    make(map[string]string),
		values:    make(map[string]parser.Constant),
		typeNames: stringset.New(),
	}
}

func private(name string) bool {
	return strings.HasPrefix(name, "_")
}

func (c *converter) run(hdr *parser.Header) {
	for _, en := range hdr.Enums {
		for _, v := range en.Values {
			c.labels[v.Name] = en.Name
			if v.Value != nil {
				c.values[v.Name] = parser.Constant{Int: *v.Value}
			}
		}
		if en.Name != "" {
			c.typeNames.Add(en.Name)
		}
	}
	for _, se := range hdr.StringEnums {
		c.typeNames.Add(se.Name)
	}

	for _, en := range hdr.Enums {
		if c.s.inFramework(en.Pos.File) {
			c.enum(en)
		}
	}
	for _, se := range hdr.StringEnums {
		if c.s.inFramework(se.Pos.File) && !private(se.Name) {
			c.md.EnumType[se.Name] = metadata.EnumTypeInfo{
				Typestr:      c.encode(se.Name, se.Type, se.Pos),
				Availability: availability(se.Availability),
			}
		}
	}
	for _, st := range hdr.Structs {
		if c.s.inFramework(st.Pos.File) {
			c.structure(st)
		}
	}
	for _, v := range hdr.Variables {
		if c.s.inFramework(v.Pos.File) && !private(v.Name) {
			c.variable(v)
		}
	}
	for _, fn := range hdr.Functions {
		if c.s.inFramework(fn.Pos.File) && !private(fn.Name) {
			c.function(fn)
		}
	}
	for _, d := range hdr.Defines {
		if c.s.inFramework(d.Pos.File) && !private(d.Name) {
			c.define(d)
		}
	}
	for _, cls := range hdr.Classes {
		if c.s.inFramework(cls.Pos.File) && !private(cls.Name) {
			c.md.Classes[cls.Name] = metadata.ClassInfo{}
		}
	}
	for _, proto := range hdr.Protocols {
		if c.s.inFramework(proto.Pos.File) && !private(proto.Name) {
			c.md.FormalProtocols[proto.Name] = metadata.ProtocolInfo{}
		}
	}
}

// encode returns the encoding of ct, logging types that cannot be encoded.
func (c *converter) encode(name string, ct parser.CType, pos parser.Position) string {
	enc, err := c.reg.Encode(ct)
	if err != nil {
		c.unencodable++
		c.log.Warn("cannot encode type",
			zap.String("name", name),
			zap.String("type", ct.String()),
			zap.Stringer("pos", pos),
			zap.Error(err),
		)
	}
	return enc
}

func encodeVersion(v parser.Version) int {
	if v.ToBeDeprecated {
		return metadata.ToBeDeprecated
	}
	return metadata.EncodeVersion(v.Major, v.Minor, v.Patch)
}

// availability converts the macOS part of a. Annotations without a
// platform, such as DEPRECATED_ATTRIBUTE, deprecate as of 10.0.
func availability(a parser.Availability) *metadata.AvailabilityInfo {
	info := &metadata.AvailabilityInfo{}

	if pa, ok := a.Platform("macos"); ok {
		if pa.Introduced != nil && !pa.Introduced.ToBeDeprecated {
			info.Introduced = metadata.Ptr(encodeVersion(*pa.Introduced))
		}
		if pa.Deprecated != nil {
			info.Deprecated = metadata.Ptr(encodeVersion(*pa.Deprecated))
		}
		if pa.Unavailable {
			info.Unavailable = metadata.Ptr(true)
		}
		if pa.Replacement != "" {
			info.Suggestion = metadata.Ptr(pa.Replacement)
		}
		if pa.Message != "" {
			switch {
			case pa.Deprecated != nil:
				info.DeprecatedMessage = metadata.Ptr(pa.Message)
			case pa.Unavailable && info.Suggestion == nil:
				info.Suggestion = metadata.Ptr(pa.Message)
			}
		}
	}

	if a.Deprecated && info.Deprecated == nil {
		info.Deprecated = metadata.Ptr(metadata.EncodeVersion(10, 0, 0))
		if a.Message != "" {
			info.DeprecatedMessage = metadata.Ptr(a.Message)
		}
	}
	if a.Unavailable {
		info.Unavailable = metadata.Ptr(true)
		if a.Message != "" && info.Suggestion == nil && !a.Deprecated {
			info.Suggestion = metadata.Ptr(a.Message)
		}
	}

	if info.IsZero() {
		return nil
	}
	return info
}

func (c *converter) enum(en parser.Enum) {
	if en.Name != "" && !private(en.Name) {
		typestr, err := c.reg.EncodeEnum(en)
		if err != nil {
			c.unencodable++
			c.log.Warn("cannot encode enum", zap.String("name", en.Name), zap.Error(err))
		}
		c.md.EnumType[en.Name] = metadata.EnumTypeInfo{
			Typestr:      typestr,
			Availability: availability(en.Availability),
			Flags:        en.IsOptions,
		}
	}

	for _, v := range en.Values {
		if private(v.Name) {
			continue
		}
		avail := v.Availability
		if avail.IsZero() {
			avail = en.Availability
		}
		if v.Value == nil {
			c.md.Expressions[v.Name] = metadata.ExpressionInfo{
				Expression:   v.Expr,
				Availability: availability(avail),
			}
			continue
		}
		c.md.Enum[v.Name] = metadata.EnumInfo{
			Value:        metadata.Scalar(*v.Value),
			EnumType:     en.Name,
			Availability: availability(avail),
		}
	}
}

func (c *converter) structure(st parser.Struct) {
	if st.IsOpaque || st.IsUnion || st.Name == "" || private(st.Name) {
		return
	}

	typestr, err := c.reg.EncodeStruct(st)
	if err != nil {
		c.unencodable++
		c.log.Warn("cannot encode struct", zap.String("name", st.Name), zap.Error(err))
	}

	names := make([]string, 0, len(st.Fields))
	for _, f := range st.Fields {
		names = append(names, f.Name)
	}
	c.md.Structs[st.Name] = metadata.StructInfo{
		Typestr:        typestr,
		TypestrSpecial: c.reg.Special(st.Name),
		FieldNames:     names,
	}
}

func (c *converter) variable(v parser.Variable) {
	if v.IsStatic {
		if len(v.Init) > 0 {
			c.staticConst(v)
		}
		return
	}

	info := metadata.ExternInfo{
		Typestr:      metadata.Scalar(c.encode(v.Name, v.Type, v.Pos)),
		Availability: availability(v.Availability),
	}
	if v.Type.Pointer == 0 && c.typeNames.Contains(v.Type.Name) {
		info.TypeName = metadata.Ptr(v.Type.Name)
	}
	c.md.Externs[v.Name] = info
}

// staticConst records a static constant as an alias when its initialiser
// is a single name, and as a literal otherwise.
func (c *converter) staticConst(v parser.Variable) {
	avail := availability(v.Availability)

	if name, ok := aliasTarget(v.Init); ok {
		c.md.Aliases[v.Name] = c.alias(name, avail)
		return
	}

	lit, unicode, ok := c.literal(v.Init)
	if !ok {
		c.md.Expressions[v.Name] = metadata.ExpressionInfo{
			Expression:   sourceText(v.Init),
			Availability: avail,
		}
		return
	}

	if lit.Kind == metadata.LiteralInt {
		if enc, err := c.reg.Encode(v.Type); err == nil && (enc == "f" || enc == "d" || enc == "D") {
			lit = metadata.FloatLiteral(float64(lit.Int))
		}
	}
	c.remember(v.Name, lit)
	c.md.Literals[v.Name] = metadata.LiteralInfo{
		Value:        metadata.Scalar(lit),
		Unicode:      unicode,
		Availability: avail,
	}
}

func (c *converter) alias(target string, avail *metadata.AvailabilityInfo) metadata.AliasInfo {
	info := metadata.AliasInfo{Alias: target, Availability: avail}
	if et := c.labels[target]; et != "" {
		info.EnumType = metadata.Ptr(et)
	}
	return info
}

func (c *converter) remember(name string, lit metadata.Literal) {
	switch lit.Kind {
	case metadata.LiteralInt:
		c.values[name] = parser.Constant{Int: lit.Int}
	case metadata.LiteralFloat:
		c.values[name] = parser.Constant{Float: lit.Float, IsFloat: true}
	}
}

func (c *converter) define(d parser.Define) {
	if len(d.Body) == 0 || skipDefine(d.Body) {
		return
	}

	if d.IsFunctionLike {
		if d.IsVariadic {
			c.log.Debug("skipping variadic macro", zap.String("name", d.Name))
			return
		}
		c.md.FuncMacros[d.Name] = metadata.FunctionMacroInfo{
			Definition: fmt.Sprintf("def %s(%s): return %s", d.Name, strings.Join(d.Params, ", "), sourceText(d.Body)),
		}
		return
	}

	if name, ok := aliasTarget(d.Body); ok {
		c.md.Aliases[d.Name] = c.alias(name, nil)
		return
	}

	lit, unicode, ok := c.literal(d.Body)
	if !ok {
		c.md.Expressions[d.Name] = metadata.ExpressionInfo{Expression: sourceText(d.Body)}
		return
	}
	c.remember(d.Name, lit)
	c.md.Literals[d.Name] = metadata.LiteralInfo{Value: metadata.Scalar(lit), Unicode: unicode}
}

func (c *converter) function(fn parser.Function) {
	info := metadata.FunctionInfo{
		Retval: metadata.ReturnInfo{
			Typestr:           c.encode(fn.Name, fn.ReturnType, fn.Pos),
			TypestrSpecial:    c.special(fn.ReturnType),
			TypeName:          c.typeName(fn.ReturnType),
			AlreadyRetained:   fn.ReturnsRetained,
			AlreadyCFRetained: fn.ReturnsCFRetained,
			Callable:          c.callable(fn.Name, fn.ReturnType, fn.Pos),
		},
		Args:         make([]metadata.ArgInfo, 0, len(fn.Params)),
		Inline:       fn.IsInline,
		Variadic:     fn.IsVariadic || fn.IsKandR,
		Availability: availability(fn.Availability),
	}

	if !fn.IsKandR {
		for _, p := range fn.Params {
			arg := metadata.ArgInfo{
				Typestr:        c.encode(fn.Name, p.Type, fn.Pos),
				TypestrSpecial: c.special(p.Type),
				TypeName:       c.typeName(p.Type),
				NullAccepted:   nullAccepted(p.Type),
				Callable:       c.callable(fn.Name, p.Type, fn.Pos),
			}
			if p.Name != "" {
				arg.Name = metadata.Ptr(p.Name)
			}
			info.Args = append(info.Args, arg)
		}
	}

	if idx := fn.PrintfFormat - 1; idx >= 0 && idx < len(info.Args) {
		info.Args[idx].PrintfFormat = true
		info.PrintfFormat = metadata.Ptr(idx)
	}

	c.md.Functions[fn.Name] = info

	if strings.HasSuffix(fn.Name, "GetTypeID") && len(info.Args) == 0 {
		c.cftype(fn.Name)
	}
}

// cftype records the CoreFoundation type of a CFXxxGetTypeID function.
func (c *converter) cftype(fn string) {
	name := strings.TrimSuffix(fn, "GetTypeID") + "Ref"
	enc, err := c.reg.Encode(parser.CType{Name: name})
	if err != nil {
		c.log.Debug("no type for type id function", zap.String("function", fn), zap.Error(err))
		return
	}
	c.md.CFTypes[name] = metadata.CFTypeInfo{
		Typestr:       enc,
		GetTypeIDFunc: metadata.Ptr(fn),
	}
}

func (c *converter) special(ct parser.CType) bool {
	return ct.Pointer == 0 && !ct.IsArray && c.reg.Special(ct.Name)
}

func (c *converter) typeName(ct parser.CType) *string {
	if ct.Pointer == 0 && c.typeNames.Contains(ct.Name) {
		return metadata.Ptr(ct.Name)
	}
	return nil
}

func nullAccepted(ct parser.CType) *bool {
	if !ct.IsPointer() {
		return nil
	}
	switch ct.Nullability {
	case parser.Nullable:
		return metadata.Ptr(true)
	case parser.Nonnull:
		return metadata.Ptr(false)
	}
	return nil
}

// callable describes the signature of a function pointer or block.
func (c *converter) callable(name string, ct parser.CType, pos parser.Position) *metadata.CallbackInfo {
	if !(ct.IsFuncPtr || ct.IsBlock) || ct.Signature == nil {
		return nil
	}
	sig := ct.Signature

	cb := &metadata.CallbackInfo{
		Retval: metadata.CallbackArgInfo{
			Typestr:        c.encode(name, sig.ReturnType, pos),
			TypestrSpecial: c.special(sig.ReturnType),
			TypeName:       c.typeName(sig.ReturnType),
		},
		Args:     make([]metadata.CallbackArgInfo, 0, len(sig.Params)+1),
		Variadic: sig.IsVariadic,
	}
	if ct.IsBlock {
		// Blocks receive the block literal as a hidden first argument.
		cb.Args = append(cb.Args, metadata.CallbackArgInfo{Typestr: "^v"})
	}
	for _, p := range sig.Params {
		cb.Args = append(cb.Args, metadata.CallbackArgInfo{
			Typestr:        c.encode(name, p.Type, pos),
			TypestrSpecial: c.special(p.Type),
			TypeName:       c.typeName(p.Type),
			NullAccepted:   nullAccepted(p.Type),
		})
	}
	return cb
}
