package parser

import (
	"context"
	"os"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"go.uber.org/zap"
)

type Options struct {
	IncludePaths       []string
	SystemIncludePaths []string
	FrameworkPaths     []string
	Defines            map[string]string
	Arch               string
	MinDeployment      *Version
	Framework          string
	StrictIncludes     bool
	Logger             *zap.Logger
}

func (o Options) arch() string {
	if o.Arch == "" {
		return "x86_64"
	}
	return o.Arch
}

type Parser struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Parser {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{opts: opts, log: log}
}

// Parse parses a single header held in memory. Includes are recorded but
// not followed.
func Parse(content string) (*Header, error) {
	return New(Options{}).ParseString("<input>", content)
}

func (p *Parser) ParseString(name, content string) (*Header, error) {
	pp, err := newPreprocessor(p.opts, p.log, false)
	if err != nil {
		return nil, err
	}
	pp.files = append(pp.files, name)
	if err := pp.processSource(context.Background(), name, content); err != nil {
		return nil, err
	}
	return p.build(pp)
}

func (p *Parser) ParseFile(path string) (*Header, error) {
	return p.ParseHeaders(context.Background(), path)
}

// ParseHeaders parses each named header in order with shared preprocessor
// state. A name is either a path or an include spec such as
// "Foundation/Foundation.h".
func (p *Parser) ParseHeaders(ctx context.Context, names ...string) (*Header, error) {
	pp, err := newPreprocessor(p.opts, p.log, true)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		path, err := p.locate(pp, name)
		if err != nil {
			return nil, err
		}
		if err := pp.processFile(ctx, path); err != nil {
			return nil, err
		}
	}

	return p.build(pp)
}

func (p *Parser) locate(pp *preprocessor, name string) (string, error) {
	if fi, err := os.Stat(name); err == nil && fi.Mode().IsRegular() {
		return name, nil
	}
	if path, ok := pp.resolve("<"+name+">", ""); ok {
		return path, nil
	}
	return "", newParsingError(ErrMissingInclude, Position{File: name}, "cannot find header %s", name)
}

func (p *Parser) build(pp *preprocessor) (*Header, error) {
	dp := &declParser{
		toks:      append(pp.out, Token{Kind: TokenEOF, Pos: endOfInput(pp)}),
		hdr:       &Header{},
		labels:    make(map[string]int64),
		typeNames: stringset.New(),
		objcNames: stringset.New(),
		log:       p.log,
	}
	if err := dp.parse(); err != nil {
		return nil, err
	}

	dp.hdr.Enums = uniqueByName(dp.hdr.Enums, func(e Enum) string { return e.Name }, "enum", p.log)
	dp.hdr.StringEnums = uniqueByName(dp.hdr.StringEnums, func(e StringEnum) string { return e.Name }, "string enum", p.log)

	dp.hdr.Files = pp.files
	dp.hdr.Includes = pp.includes
	dp.hdr.Defines = pp.defines
	return dp.hdr, nil
}

// endOfInput is the position just past the last token, so errors at the
// end of a header still name the file.
func endOfInput(pp *preprocessor) Position {
	if n := len(pp.out); n > 0 {
		last := pp.out[n-1]
		pos := last.Pos
		pos.Col += len(last.Text)
		return pos
	}
	if len(pp.files) > 0 {
		return Position{File: pp.files[len(pp.files)-1], Line: 1, Col: 1}
	}
	return Position{}
}

// uniqueByName keeps the first definition of each name. Unnamed items
// such as anonymous enums are all kept.
func uniqueByName[T any](items []T, name func(T) string, kind string, log *zap.Logger) []T {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		n := name(it)
		if n != "" && seen[n] {
			log.Warn("duplicate declaration ignored", zap.String("kind", kind), zap.String("name", n))
			continue
		}
		seen[n] = true
		out = append(out, it)
	}
	return out
}

var enumMacros = map[string]bool{
	"NS_ENUM":        true,
	"NS_CLOSED_ENUM": true,
	"NS_OPTIONS":     true,
	"NS_ERROR_ENUM":  true,
	"CF_ENUM":        true,
	"CF_CLOSED_ENUM": true,
	"CF_OPTIONS":     true,
}

var regionMacros = map[string]bool{
	"NS_ASSUME_NONNULL_BEGIN":       true,
	"NS_ASSUME_NONNULL_END":         true,
	"CF_ASSUME_NONNULL_BEGIN":       true,
	"CF_ASSUME_NONNULL_END":         true,
	"NS_HEADER_AUDIT_BEGIN":         true,
	"NS_HEADER_AUDIT_END":           true,
	"API_AVAILABLE_BEGIN":           true,
	"API_DEPRECATED_BEGIN":          true,
	"API_UNAVAILABLE_BEGIN":         true,
	"API_AVAILABLE_END":             true,
	"API_DEPRECATED_END":            true,
	"API_UNAVAILABLE_END":           true,
	"__BEGIN_DECLS":                 true,
	"__END_DECLS":                   true,
	"CF_EXTERN_C_BEGIN":             true,
	"CF_EXTERN_C_END":               true,
	"CF_IMPLICIT_BRIDGING_ENABLED":  true,
	"CF_IMPLICIT_BRIDGING_DISABLED": true,
	"NS_SWIFT_SENDABLE_BEGIN":       true,
	"NS_SWIFT_SENDABLE_END":         true,
}

// storageMacro maps the framework export and inline macros onto C storage
// classes.
func storageMacro(name string) (extern, static, inline, ok bool) {
	if !allCapsRe.MatchString(name) {
		return false, false, false, false
	}
	switch {
	case name == "NS_INLINE" || name == "CF_INLINE" || strings.HasSuffix(name, "_STATIC_INLINE"):
		return false, true, true, true
	case strings.HasSuffix(name, "_INLINE"):
		return false, false, true, true
	case strings.HasSuffix(name, "_EXTERN") || strings.HasSuffix(name, "_EXPORT"):
		return true, false, false, true
	}
	return false, false, false, false
}

// isDeclarationMacro reports whether name is a macro the declaration
// parser interprets itself.
func isDeclarationMacro(name string) bool {
	if enumMacros[name] || regionMacros[name] {
		return true
	}
	_, _, _, ok := storageMacro(name)
	return ok
}

var knownTypeNames = stringset.New(
	"NSInteger", "NSUInteger", "CGFloat", "CFIndex", "CFOptionFlags", "CFTypeID",
	"int8_t", "int16_t", "int32_t", "int64_t", "uint8_t", "uint16_t", "uint32_t", "uint64_t",
	"size_t", "ssize_t", "intptr_t", "uintptr_t",
	"UInt8", "UInt16", "UInt32", "UInt64", "SInt8", "SInt16", "SInt32", "SInt64",
	"Float32", "Float64", "BOOL", "Boolean", "unichar", "UniChar", "OSStatus", "OSType",
	"FourCharCode", "NSTimeInterval", "CFTimeInterval", "id", "Class", "SEL", "IMP",
)

type declSpec struct {
	typ       CType
	hasType   bool
	words     []string
	isTypedef bool
	isExtern  bool
	isStatic  bool
	isInline  bool
	attrs     attrs
	enumIdx   int
	structIdx int
}

func (s declSpec) valid() bool {
	return s.hasType || len(s.words) > 0 || s.typ.IsUnsigned || s.typ.IsSigned
}

type ptrOp struct {
	block   bool
	isConst bool
	null    Nullability
}

type suffixOp struct {
	size int
	sig  *Signature
}

type declarator struct {
	name     string
	pos      Position
	ptrs     []ptrOp
	suffixes []suffixOp
	inner    *declarator
}

func (d *declarator) ident() (string, Position) {
	if d.name == "" && d.inner != nil {
		return d.inner.ident()
	}
	return d.name, d.pos
}

func (d *declarator) empty() bool {
	return d.name == "" && d.inner == nil && len(d.ptrs) == 0 && len(d.suffixes) == 0
}

// apply builds the declared type from base the way C reads declarators:
// pointers bind looser than array and function suffixes, and a
// parenthesised inner declarator applies last.
func (d *declarator) apply(base CType) CType {
	t := base
	for _, op := range d.ptrs {
		t = pointerTo(t, op)
	}
	for i := len(d.suffixes) - 1; i >= 0; i-- {
		s := d.suffixes[i]
		if s.sig != nil {
			sig := *s.sig
			sig.ReturnType = t
			t = CType{Signature: &sig}
			continue
		}
		t.IsArray = true
		t.ArraySize = s.size
	}
	if d.inner != nil {
		return d.inner.apply(t)
	}
	return t
}

func isFunctionType(t CType) bool {
	return t.Signature != nil && !t.IsFuncPtr && !t.IsBlock && t.Pointer == 0
}

func pointerTo(t CType, op ptrOp) CType {
	switch {
	case op.block:
		t.IsBlock = true
	case isFunctionType(t):
		t.IsFuncPtr = true
	default:
		t.Pointer++
		t.IsConstPtr = op.isConst
	}
	t.Nullability = op.null
	return t
}

type declParser struct {
	toks          []Token
	pos           int
	hdr           *Header
	labels        map[string]int64
	typeNames     stringset.Set
	objcNames     stringset.Set
	assumeNonnull bool
	regions       []Availability
	externC       int
	log           *zap.Logger
}

func (p *declParser) peek() Token {
	return p.peekN(0)
}

func (p *declParser) peekN(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *declParser) next() Token {
	t := p.peek()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *declParser) accept(text string) bool {
	if p.peek().Is(text) {
		p.next()
		return true
	}
	return false
}

func (p *declParser) expect(text string) (Token, error) {
	t := p.peek()
	if !t.Is(text) {
		return t, p.errorf(t.Pos, "expected %q, got %s", text, describe(t))
	}
	return p.next(), nil
}

func describe(t Token) string {
	if t.Kind == TokenEOF {
		return "end of file"
	}
	return "\"" + t.Text + "\""
}

func (p *declParser) errorf(pos Position, format string, args ...any) error {
	return newParsingError(ErrSyntax, pos, format, args...)
}

// macroArgs consumes an optional parenthesised argument list.
func (p *declParser) macroArgs() ([][]Token, error) {
	if !p.peek().Is("(") {
		return nil, nil
	}
	toks, err := p.balanced("(", ")")
	if err != nil {
		return nil, err
	}
	return splitArgs(toks[1 : len(toks)-1]), nil
}

// balanced consumes tokens from an opening bracket through its match and
// returns them including the brackets.
func (p *declParser) balanced(open, close string) ([]Token, error) {
	start := p.peek()
	begin := p.pos
	depth := 0
	for {
		t := p.next()
		switch {
		case t.Kind == TokenEOF:
			return nil, p.errorf(start.Pos, "unbalanced %q", open)
		case t.Is(open):
			depth++
		case t.Is(close):
			depth--
			if depth == 0 {
				return p.toks[begin:p.pos], nil
			}
		}
	}
}

func (p *declParser) parse() error {
	for {
		t := p.peek()
		switch {
		case t.Kind == TokenEOF:
			return nil
		case t.Is(";"):
			p.next()
		case t.Is("}") && p.externC > 0:
			p.next()
			p.externC--
		default:
			if err := p.topLevel(); err != nil {
				return err
			}
		}
	}
}

func (p *declParser) topLevel() error {
	t := p.peek()
	if t.Kind != TokenIdent {
		return p.declaration()
	}

	switch {
	case strings.HasPrefix(t.Text, "@"):
		return p.objcDirective()

	case t.Text == "extern" && p.peekN(1).Kind == TokenString && p.peekN(2).Is("{"):
		p.next()
		p.next()
		p.next()
		p.externC++
		return nil

	case regionMacros[t.Text]:
		return p.region()

	case t.Text == "typedef":
		return p.typedef()

	case t.Text == "_Static_assert" || t.Text == "static_assert":
		p.next()
		if _, err := p.macroArgs(); err != nil {
			return err
		}
		p.accept(";")
		return nil

	case t.Text == "_Pragma" || t.Text == "__pragma":
		p.next()
		_, err := p.macroArgs()
		return err
	}

	if p.strayMacro() {
		name := p.next()
		if _, err := p.macroArgs(); err != nil {
			return err
		}
		p.log.Debug("skipping unknown macro", zap.String("name", name.Text), zap.Stringer("at", name.Pos))
		return nil
	}

	return p.declaration()
}

var declarationStarts = stringset.New(
	"typedef", "extern", "static", "inline", "const", "struct", "union", "enum",
	"void", "int", "char", "unsigned", "signed", "long", "short", "float", "double",
)

// strayMacro reports whether the current identifier is an unexpanded
// all-caps macro standing on its own between declarations.
func (p *declParser) strayMacro() bool {
	t := p.peek()
	if !allCapsRe.MatchString(t.Text) || knownTypeNames.Contains(t.Text) || p.typeNames.Contains(t.Text) {
		return false
	}
	if isAnnotation(t.Text) || isDeclarationMacro(t.Text) {
		return false
	}

	i := 1
	if p.peekN(1).Is("(") {
		depth := 0
		for ; ; i++ {
			n := p.peekN(i)
			if n.Kind == TokenEOF {
				return false
			}
			if n.Is("(") {
				depth++
			}
			if n.Is(")") {
				depth--
				if depth == 0 {
					i++
					break
				}
			}
		}
	}

	n := p.peekN(i)
	switch {
	case n.Kind == TokenEOF, n.Is("}"), n.Is(";"):
		return true
	case n.Kind == TokenIdent:
		return declarationStarts.Contains(n.Text) || strings.HasPrefix(n.Text, "@") ||
			regionMacros[n.Text] || isDeclarationMacro(n.Text)
	}
	return false
}

func (p *declParser) region() error {
	t := p.next()
	args, err := p.macroArgs()
	if err != nil {
		return err
	}

	switch t.Text {
	case "NS_ASSUME_NONNULL_BEGIN", "CF_ASSUME_NONNULL_BEGIN", "NS_HEADER_AUDIT_BEGIN":
		p.assumeNonnull = true
	case "NS_ASSUME_NONNULL_END", "CF_ASSUME_NONNULL_END", "NS_HEADER_AUDIT_END":
		p.assumeNonnull = false
	case "API_AVAILABLE_BEGIN", "API_DEPRECATED_BEGIN", "API_UNAVAILABLE_BEGIN":
		var av Availability
		if err := p.apiAvailability(strings.TrimSuffix(t.Text, "_BEGIN"), t.Pos, args, &av); err != nil {
			return err
		}
		p.regions = append(p.regions, av)
	case "API_AVAILABLE_END", "API_DEPRECATED_END", "API_UNAVAILABLE_END":
		if len(p.regions) > 0 {
			p.regions = p.regions[:len(p.regions)-1]
		}
	}
	return nil
}

// availability combines declarator and specifier annotations with the
// enclosing API_*_BEGIN regions.
func (p *declParser) availability(own Availability, outer ...Availability) Availability {
	av := own
	av.Platforms = append([]PlatformAvailability(nil), own.Platforms...)
	for _, o := range outer {
		av.inherit(o)
	}
	for i := len(p.regions) - 1; i >= 0; i-- {
		av.inherit(p.regions[i])
	}
	return av
}

func (p *declParser) objcDirective() error {
	t := p.next()

	switch t.Text {
	case "@class":
		for {
			n := p.next()
			if n.Kind != TokenIdent {
				return p.errorf(n.Pos, "expected class name, got %s", describe(n))
			}
			p.addObjCName(&p.hdr.Classes, n)
			if p.peek().Is("<") {
				if _, err := p.balanced("<", ">"); err != nil {
					return err
				}
			}
			if !p.accept(",") {
				break
			}
		}
		_, err := p.expect(";")
		return err

	case "@protocol":
		n := p.next()
		if n.Kind != TokenIdent {
			return p.errorf(n.Pos, "expected protocol name, got %s", describe(n))
		}
		p.addObjCName(&p.hdr.Protocols, n)
		if p.peek().Is(",") || p.peek().Is(";") {
			for p.accept(",") {
				n := p.next()
				p.addObjCName(&p.hdr.Protocols, n)
			}
			_, err := p.expect(";")
			return err
		}
		return p.skipToEnd(t)

	case "@interface", "@implementation":
		n := p.next()
		if n.Kind != TokenIdent {
			return p.errorf(n.Pos, "expected class name, got %s", describe(n))
		}
		if !p.peek().Is("(") {
			p.addObjCName(&p.hdr.Classes, n)
		}
		return p.skipToEnd(t)

	case "@end":
		return nil

	case "@compatibility_alias":
		for !p.peek().Is(";") && p.peek().Kind != TokenEOF {
			p.next()
		}
		_, err := p.expect(";")
		return err
	}

	return p.errorf(t.Pos, "unexpected %s", t.Text)
}

func (p *declParser) addObjCName(list *[]ObjCName, t Token) {
	if p.objcNames.Add(t.Text) {
		*list = append(*list, ObjCName{Name: t.Text, Pos: t.Pos})
	}
}

func (p *declParser) skipToEnd(start Token) error {
	for {
		t := p.next()
		switch {
		case t.Kind == TokenEOF:
			return p.errorf(start.Pos, "%s without @end", start.Text)
		case t.Is("@end"):
			return nil
		}
	}
}

var basicTypeWords = stringset.New(
	"void", "char", "short", "int", "long", "float", "double",
	"_Bool", "bool", "_Complex", "__int128",
)

func (p *declParser) parseSpecifiers() (declSpec, error) {
	spec := declSpec{enumIdx: -1, structIdx: -1}

loop:
	for {
		t := p.peek()
		if t.Kind == TokenString && spec.isExtern {
			p.next()
			continue
		}
		if t.Kind != TokenIdent {
			break loop
		}
		name := t.Text

		if extern, static, inline, ok := storageMacro(name); ok && !spec.valid() {
			p.next()
			spec.isExtern = spec.isExtern || extern
			spec.isStatic = spec.isStatic || static
			spec.isInline = spec.isInline || inline
			continue
		}

		if null, ok := nullabilityKeywords[name]; ok {
			p.next()
			spec.typ.Nullability = null
			continue
		}

		switch name {
		case "const", "__const", "__const__":
			p.next()
			spec.typ.IsConst = true
			continue
		case "volatile", "__volatile", "__volatile__", "restrict", "__restrict", "__restrict__",
			"register", "auto", "__extension__", "_Noreturn", "__thread", "_Thread_local", "__unaligned":
			p.next()
			continue
		case "extern", "__private_extern__":
			p.next()
			spec.isExtern = true
			continue
		case "static":
			p.next()
			spec.isStatic = true
			continue
		case "inline", "__inline", "__inline__":
			p.next()
			spec.isInline = true
			continue
		case "typedef":
			p.next()
			spec.isTypedef = true
			continue
		case "signed", "__signed", "__signed__":
			p.next()
			spec.typ.IsSigned = true
			continue
		case "unsigned":
			p.next()
			spec.typ.IsUnsigned = true
			continue
		case "struct", "union":
			if spec.valid() {
				break loop
			}
			if err := p.structSpecifier(&spec); err != nil {
				return spec, err
			}
			continue
		case "enum":
			if spec.valid() {
				break loop
			}
			if err := p.enumSpecifier(&spec); err != nil {
				return spec, err
			}
			continue
		case "typeof", "__typeof", "__typeof__":
			p.next()
			if _, err := p.macroArgs(); err != nil {
				return spec, err
			}
			spec.typ.Name = "id"
			spec.hasType = true
			continue
		}

		if basicTypeWords.Contains(name) {
			if spec.hasType {
				break loop
			}
			p.next()
			spec.words = append(spec.words, name)
			continue
		}

		if enumMacros[name] {
			if spec.valid() {
				break loop
			}
			if err := p.enumMacro(&spec); err != nil {
				return spec, err
			}
			continue
		}

		if isAnnotation(name) {
			ok, err := p.annotation(&spec.attrs)
			if err != nil {
				return spec, err
			}
			if ok {
				continue
			}
		}

		if spec.valid() {
			break loop
		}

		// An unknown all-caps macro call in front of the type.
		if allCapsRe.MatchString(name) && p.peekN(1).Is("(") && !p.peekN(2).Is("*") && !p.peekN(2).Is("^") {
			p.next()
			if _, err := p.macroArgs(); err != nil {
				return spec, err
			}
			continue
		}

		p.next()
		spec.typ.Name = name
		spec.hasType = true
		if p.peek().Is("<") {
			if err := p.protocolList(&spec.typ); err != nil {
				return spec, err
			}
		}
	}

	if len(spec.words) > 0 {
		spec.typ.Name = basicTypeName(spec.words)
		spec.hasType = true
	} else if !spec.hasType && (spec.typ.IsUnsigned || spec.typ.IsSigned) {
		spec.typ.Name = "int"
		spec.hasType = true
	}
	return spec, nil
}

// basicTypeName normalises the keywords of a builtin type, so that
// "long int" and "int long" both become "long".
func basicTypeName(words []string) string {
	longs := 0
	var rest []string
	for _, w := range words {
		switch w {
		case "long":
			longs++
		case "int":
		default:
			rest = append(rest, w)
		}
	}

	switch {
	case longs >= 2:
		return "long long"
	case longs == 1 && len(rest) > 0:
		return "long " + strings.Join(rest, " ")
	case longs == 1:
		return "long"
	case len(rest) > 0:
		if rest[0] == "bool" {
			return "_Bool"
		}
		return strings.Join(rest, " ")
	}
	return "int"
}

// protocolList handles `id<NSCopying>` style qualifiers and lightweight
// generics such as `NSArray<NSString *>`. Only the protocols of id and
// Class are recorded.
func (p *declParser) protocolList(ct *CType) error {
	toks, err := p.balanced("<", ">")
	if err != nil {
		return err
	}
	if ct.Name != "id" && ct.Name != "Class" {
		return nil
	}
	for _, t := range toks[1 : len(toks)-1] {
		if t.Kind == TokenIdent {
			ct.Protocols = append(ct.Protocols, t.Text)
		}
	}
	return nil
}

func (p *declParser) structSpecifier(spec *declSpec) error {
	kw := p.next()
	var a attrs
	if err := p.knownAnnotations(&a); err != nil {
		return err
	}

	tag := ""
	if t := p.peek(); t.Kind == TokenIdent {
		tag = t.Text
		p.next()
	}

	spec.typ.Tag = kw.Text
	spec.typ.Name = tag
	spec.hasType = true

	if !p.peek().Is("{") {
		return nil
	}

	fields, err := p.structBody()
	if err != nil {
		return err
	}
	if err := p.knownAnnotations(&a); err != nil {
		return err
	}

	p.hdr.Structs = append(p.hdr.Structs, Struct{
		Name:    tag,
		Tag:     tag,
		Fields:  fields,
		IsUnion: kw.Text == "union",
		Pos:     kw.Pos,
	})
	spec.structIdx = len(p.hdr.Structs) - 1
	return nil
}

func (p *declParser) structBody() ([]StructField, error) {
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}

	var fields []StructField
	for !p.accept("}") {
		if p.accept(";") {
			continue
		}
		if p.peek().Kind == TokenEOF {
			return nil, p.errorf(p.peek().Pos, "unterminated struct body")
		}

		spec, err := p.parseSpecifiers()
		if err != nil {
			return nil, err
		}
		if !spec.valid() {
			t := p.peek()
			return nil, p.errorf(t.Pos, "expected field type, got %s", describe(t))
		}

		for {
			d, err := p.parseDeclarator(false)
			if err != nil {
				return nil, err
			}
			if p.accept(":") {
				if _, err := p.collectUntil(",", ";"); err != nil {
					return nil, err
				}
			}
			var a attrs
			if err := p.postAnnotations(&a); err != nil {
				return nil, err
			}

			name, _ := d.ident()
			fields = append(fields, StructField{Name: name, Type: d.apply(spec.typ)})

			if !p.accept(",") {
				break
			}
		}
		if _, err := p.expect(";"); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (p *declParser) enumSpecifier(spec *declSpec) error {
	kw := p.next()
	var a attrs
	if err := p.knownAnnotations(&a); err != nil {
		return err
	}

	tag := ""
	if t := p.peek(); t.Kind == TokenIdent && !isAnnotation(t.Text) {
		tag = t.Text
		p.next()
	}

	var underlying *CType
	if p.accept(":") {
		ut, err := p.typeName()
		if err != nil {
			return err
		}
		underlying = &ut
	}

	spec.typ.Tag = "enum"
	spec.typ.Name = tag
	spec.hasType = true

	if !p.peek().Is("{") {
		return nil
	}

	values, err := p.enumBody()
	if err != nil {
		return err
	}

	p.hdr.Enums = append(p.hdr.Enums, Enum{
		Name:         tag,
		Tag:          tag,
		Underlying:   underlying,
		IsOptions:    a.flagEnum,
		IsClosed:     a.closedEnum,
		Values:       values,
		Availability: a.avail,
		Pos:          kw.Pos,
	})
	spec.enumIdx = len(p.hdr.Enums) - 1
	return nil
}

// enumMacro handles NS_ENUM(type, Name) and its relatives.
func (p *declParser) enumMacro(spec *declSpec) error {
	t := p.next()
	args, err := p.macroArgs()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return p.errorf(t.Pos, "%s needs arguments", t.Text)
	}

	e := Enum{
		IsOptions: strings.Contains(t.Text, "OPTIONS"),
		IsClosed:  strings.Contains(t.Text, "CLOSED"),
		Pos:       t.Pos,
	}

	if t.Text == "NS_ERROR_ENUM" {
		e.Underlying = &CType{Name: "NSInteger"}
		e.ErrorDomain = joinTokens(args[0])
		if len(args) > 1 {
			e.Name = joinTokens(args[1])
		}
	} else {
		ut, err := p.typeNameFrom(args[0])
		if err != nil {
			return err
		}
		e.Underlying = &ut
		if len(args) > 1 {
			e.Name = joinTokens(args[1])
		}
	}

	spec.hasType = true
	if e.Name != "" {
		spec.typ = CType{Name: e.Name, IsConst: spec.typ.IsConst}
		p.typeNames.Add(e.Name)
	} else {
		spec.typ = *e.Underlying
	}

	if !p.peek().Is("{") {
		if e.Name != "" {
			p.hdr.TypeDefs = append(p.hdr.TypeDefs, TypeDef{Name: e.Name, SourceType: *e.Underlying, Pos: t.Pos})
		}
		return nil
	}

	values, err := p.enumBody()
	if err != nil {
		return err
	}
	e.Values = values

	p.hdr.Enums = append(p.hdr.Enums, e)
	spec.enumIdx = len(p.hdr.Enums) - 1
	return nil
}

func (p *declParser) enumBody() ([]EnumValue, error) {
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}

	var values []EnumValue
	var next int64
	known := true

	for !p.peek().Is("}") {
		t := p.next()
		if t.Kind != TokenIdent {
			return nil, p.errorf(t.Pos, "expected enum label, got %s", describe(t))
		}
		v := EnumValue{Name: t.Text, Pos: t.Pos}

		var a attrs
		if err := p.postAnnotations(&a); err != nil {
			return nil, err
		}
		v.Availability = a.avail

		if p.accept("=") {
			expr, err := p.collectUntil(",", "}")
			if err != nil {
				return nil, err
			}
			v.Expr = joinTokens(expr)
			if val, err := p.evalConst(expr); err == nil {
				n := val.int()
				v.Value = &n
				next, known = n+1, true
			} else {
				known = false
			}
		} else if known {
			n := next
			v.Value = &n
			next++
		}

		if v.Value != nil {
			p.labels[v.Name] = *v.Value
		}
		values = append(values, v)

		if !p.accept(",") {
			break
		}
	}

	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *declParser) evalConst(toks []Token) (value, error) {
	e := evaluator{
		toks: toks,
		lookup: func(name string) (value, bool) {
			n, ok := p.labels[name]
			return intValue(n), ok
		},
		isType: func(name string) bool {
			return knownTypeNames.Contains(name) || p.typeNames.Contains(name)
		},
	}
	return e.eval()
}

// collectUntil gathers tokens up to (not including) one of the stop tokens
// at bracket depth zero.
func (p *declParser) collectUntil(stops ...string) ([]Token, error) {
	start := p.peek()
	var toks []Token
	depth := 0

	for {
		t := p.peek()
		if t.Kind == TokenEOF {
			return nil, p.errorf(start.Pos, "unexpected end of file")
		}
		if depth == 0 {
			for _, s := range stops {
				if t.Is(s) {
					return toks, nil
				}
			}
		}
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
			if depth < 0 {
				return nil, p.errorf(t.Pos, "unbalanced %q", t.Text)
			}
		}
		toks = append(toks, p.next())
	}
}

// typeName parses a type name such as `unsigned long` or `NSString *`.
func (p *declParser) typeName() (CType, error) {
	spec, err := p.parseSpecifiers()
	if err != nil {
		return CType{}, err
	}
	if !spec.valid() {
		t := p.peek()
		return CType{}, p.errorf(t.Pos, "expected type, got %s", describe(t))
	}
	d, err := p.parseDeclarator(true)
	if err != nil {
		return CType{}, err
	}
	return d.apply(spec.typ), nil
}

func (p *declParser) typeNameFrom(toks []Token) (CType, error) {
	end := Token{Kind: TokenEOF}
	if len(toks) > 0 {
		end.Pos = toks[len(toks)-1].Pos
	}
	sub := &declParser{
		toks:      append(append([]Token(nil), toks...), end),
		hdr:       &Header{},
		labels:    p.labels,
		typeNames: p.typeNames,
		objcNames: stringset.New(),
		log:       p.log,
	}
	return sub.typeName()
}

func (p *declParser) parseDeclarator(abstract bool) (*declarator, error) {
	d := &declarator{}

	for {
		t := p.peek()
		if !t.Is("*") && !t.Is("^") {
			break
		}
		p.next()
		op := ptrOp{block: t.Is("^")}
		if err := p.pointerQualifiers(&op); err != nil {
			return nil, err
		}
		d.ptrs = append(d.ptrs, op)
	}

	t := p.peek()
	switch {
	case t.Kind == TokenIdent && !strings.HasPrefix(t.Text, "@") && !isAnnotation(t.Text) && !allCapsAnnotation(t.Text, p):
		d.name, d.pos = t.Text, t.Pos
		p.next()

	case t.Is("(") && (p.peekN(1).Is("*") || p.peekN(1).Is("^")):
		p.next()
		inner, err := p.parseDeclarator(abstract)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		d.inner = inner
	}

	for {
		switch {
		case p.peek().Is("["):
			toks, err := p.balanced("[", "]")
			if err != nil {
				return nil, err
			}
			size := -1
			if inner := toks[1 : len(toks)-1]; len(inner) > 0 {
				if v, err := p.evalConst(inner); err == nil {
					size = int(v.int())
				}
			}
			d.suffixes = append(d.suffixes, suffixOp{size: size})

		case p.peek().Is("("):
			sig, err := p.parseParams()
			if err != nil {
				return nil, err
			}
			d.suffixes = append(d.suffixes, suffixOp{sig: sig})

		default:
			return d, nil
		}
	}
}

// allCapsAnnotation reports whether an all-caps identifier in declarator
// position is an unexpanded macro call rather than a name.
func allCapsAnnotation(name string, p *declParser) bool {
	return allCapsRe.MatchString(name) && p.peekN(1).Is("(") && !p.peekN(2).Is("*") && !p.peekN(2).Is("^")
}

func (p *declParser) pointerQualifiers(op *ptrOp) error {
	for {
		t := p.peek()
		if t.Kind != TokenIdent {
			return nil
		}
		if null, ok := nullabilityKeywords[t.Text]; ok {
			p.next()
			op.null = null
			continue
		}
		switch t.Text {
		case "const", "__const":
			p.next()
			op.isConst = true
			continue
		case "volatile", "__volatile", "restrict", "__restrict", "__restrict__":
			p.next()
			continue
		case "__attribute__", "__attribute", "__kindof", "__unsafe_unretained", "__strong", "__weak", "__autoreleasing", "__block":
			var a attrs
			if _, err := p.annotation(&a); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (p *declParser) parseParams() (*Signature, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}

	sig := &Signature{}
	if p.accept(")") {
		sig.IsKandR = true
		sig.IsVariadic = true
		return sig, nil
	}
	if p.peek().Is("void") && p.peekN(1).Is(")") {
		p.next()
		p.next()
		return sig, nil
	}

	for {
		if p.accept("...") {
			sig.IsVariadic = true
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return sig, nil
		}

		spec, err := p.parseSpecifiers()
		if err != nil {
			return nil, err
		}
		if !spec.valid() {
			t := p.peek()
			return nil, p.errorf(t.Pos, "expected parameter type, got %s", describe(t))
		}

		d, err := p.parseDeclarator(true)
		if err != nil {
			return nil, err
		}
		var a attrs
		if err := p.postAnnotations(&a); err != nil {
			return nil, err
		}

		typ := d.apply(spec.typ)
		if typ.IsArray {
			typ.IsArray = false
			typ.ArraySize = 0
			typ.Pointer++
		}
		if isFunctionType(typ) {
			typ.IsFuncPtr = true
		}
		name, _ := d.ident()
		sig.Params = append(sig.Params, FunctionParam{Name: name, Type: p.nonnull(typ)})

		if p.accept(",") {
			continue
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return sig, nil
	}
}

// nonnull applies NS_ASSUME_NONNULL_BEGIN regions to an unannotated
// single-level pointer.
func (p *declParser) nonnull(t CType) CType {
	if p.assumeNonnull && t.Nullability == NullUnspecified && (t.Pointer == 1 || t.IsBlock || t.IsFuncPtr) {
		t.Nullability = Nonnull
	}
	return t
}

// knownAnnotations consumes annotations between a struct or enum keyword
// and its tag.
func (p *declParser) knownAnnotations(a *attrs) error {
	for {
		ok, err := p.annotation(a)
		if err != nil || !ok {
			return err
		}
	}
}

// postAnnotations consumes the annotations and unknown annotation macros
// that may follow a declarator.
func (p *declParser) postAnnotations(a *attrs) error {
	for {
		t := p.peek()
		if t.Kind != TokenIdent {
			return nil
		}
		if _, ok := nullabilityKeywords[t.Text]; ok {
			p.next()
			continue
		}

		ok, err := p.annotation(a)
		if err != nil {
			return err
		}
		if ok {
			continue
		}

		if !allCapsRe.MatchString(t.Text) {
			return nil
		}
		p.next()
		if _, err := p.macroArgs(); err != nil {
			return err
		}
	}
}

func (p *declParser) typedef() error {
	start := p.next()

	spec, err := p.parseSpecifiers()
	if err != nil {
		return err
	}
	if !spec.valid() {
		t := p.peek()
		return p.errorf(t.Pos, "expected type after typedef, got %s", describe(t))
	}

	var tagAttrs attrs
	tagAttrs.avail = spec.attrs.avail
	tagAttrs.flagEnum = spec.attrs.flagEnum
	tagAttrs.closedEnum = spec.attrs.closedEnum
	first := true

	for !p.peek().Is(";") {
		if p.peek().Kind == TokenEOF {
			return p.errorf(start.Pos, "unterminated typedef")
		}

		d, err := p.parseDeclarator(false)
		if err != nil {
			return err
		}
		var a attrs
		if err := p.postAnnotations(&a); err != nil {
			return err
		}

		if d.empty() {
			mergeAttrs(&tagAttrs, a)
			if !p.accept(",") {
				break
			}
			continue
		}

		name, pos := d.ident()
		if name == "" {
			return p.errorf(start.Pos, "typedef without a name")
		}
		p.typeNames.Add(name)

		typ := d.apply(spec.typ)
		av := p.availability(a.avail, spec.attrs.avail)
		plain := d.inner == nil && len(d.ptrs) == 0 && len(d.suffixes) == 0

		switch {
		case first && plain && spec.enumIdx >= 0:
			e := &p.hdr.Enums[spec.enumIdx]
			if e.Name == "" || e.Name == e.Tag {
				e.Name = name
			}
			mergeAttrs(&tagAttrs, a)

		case first && plain && spec.structIdx >= 0:
			s := &p.hdr.Structs[spec.structIdx]
			s.Name = name
			s.TypeDef = name

		default:
			p.hdr.TypeDefs = append(p.hdr.TypeDefs, TypeDef{
				Name:         name,
				SourceType:   typ,
				Availability: av,
				Pos:          pos,
			})

			if a.stringEnum || spec.attrs.stringEnum {
				p.hdr.StringEnums = append(p.hdr.StringEnums, StringEnum{
					Name:         name,
					Type:         typ,
					Extensible:   a.extensible || spec.attrs.extensible,
					Availability: av,
					Pos:          pos,
				})
			}

			if typ.Pointer == 1 && (typ.Tag == "struct" || typ.Tag == "union") && spec.structIdx < 0 {
				p.hdr.Structs = append(p.hdr.Structs, Struct{
					Name:     name,
					Tag:      typ.Name,
					TypeDef:  name,
					IsOpaque: true,
					Pos:      pos,
				})
			}
		}

		first = false
		if !p.accept(",") {
			break
		}
	}

	if _, err := p.expect(";"); err != nil {
		return err
	}

	if spec.enumIdx >= 0 {
		p.finishEnum(spec.enumIdx, tagAttrs)
	}
	return nil
}

func mergeAttrs(dst *attrs, src attrs) {
	av := src.avail
	av.inherit(dst.avail)
	dst.avail = av
	dst.flagEnum = dst.flagEnum || src.flagEnum
	dst.closedEnum = dst.closedEnum || src.closedEnum
}

// finishEnum attaches trailing annotations to an enum and lets labels
// inherit the enum's availability.
func (p *declParser) finishEnum(idx int, a attrs) {
	e := &p.hdr.Enums[idx]
	e.Availability = p.availability(e.Availability, a.avail)
	e.IsOptions = e.IsOptions || a.flagEnum
	e.IsClosed = e.IsClosed || a.closedEnum

	for i := range e.Values {
		v := &e.Values[i]
		v.Availability = p.availability(v.Availability, e.Availability)
	}
}

func (p *declParser) declaration() error {
	start := p.peek()

	spec, err := p.parseSpecifiers()
	if err != nil {
		return err
	}
	if !spec.valid() {
		return p.errorf(start.Pos, "unexpected %s", describe(start))
	}

	tagAttrs := attrs{avail: spec.attrs.avail, flagEnum: spec.attrs.flagEnum, closedEnum: spec.attrs.closedEnum}

	for !p.peek().Is(";") {
		d, err := p.parseDeclarator(false)
		if err != nil {
			return err
		}
		var a attrs
		if err := p.postAnnotations(&a); err != nil {
			return err
		}

		if d.empty() {
			if spec.enumIdx < 0 && spec.structIdx < 0 {
				t := p.peek()
				return p.errorf(t.Pos, "expected declarator, got %s", describe(t))
			}
			mergeAttrs(&tagAttrs, a)
			break
		}

		name, pos := d.ident()
		typ := d.apply(spec.typ)
		av := p.availability(a.avail, spec.attrs.avail)

		if isFunctionType(typ) {
			fn := Function{
				Name:              name,
				ReturnType:        p.nonnull(typ.Signature.ReturnType),
				Params:            typ.Signature.Params,
				IsVariadic:        typ.Signature.IsVariadic,
				IsKandR:           typ.Signature.IsKandR,
				IsInline:          spec.isInline,
				IsStatic:          spec.isStatic,
				IsExtern:          spec.isExtern,
				PrintfFormat:      max(a.printfFormat, spec.attrs.printfFormat),
				ReturnsRetained:   a.retained || spec.attrs.retained,
				ReturnsCFRetained: a.cfRetained || spec.attrs.cfRetained,
				Availability:      av,
				Pos:               pos,
			}
			p.hdr.Functions = append(p.hdr.Functions, fn)

			if p.peek().Is("{") {
				if _, err := p.balanced("{", "}"); err != nil {
					return err
				}
				return nil
			}
		} else {
			v := Variable{
				Name:         name,
				Type:         p.nonnull(typ),
				IsExtern:     spec.isExtern,
				IsStatic:     spec.isStatic,
				Availability: av,
				Pos:          pos,
			}
			if p.accept("=") {
				init, err := p.collectUntil(",", ";")
				if err != nil {
					return err
				}
				v.Init = init
			}
			p.hdr.Variables = append(p.hdr.Variables, v)
		}

		if !p.accept(",") {
			break
		}
	}

	if _, err := p.expect(";"); err != nil {
		return err
	}

	if spec.enumIdx >= 0 {
		p.finishEnum(spec.enumIdx, tagAttrs)
	}
	return nil
}
