package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxIncludeDepth = 200

type macro struct {
	name     string
	params   []string
	funcLike bool
	variadic bool
	body     []Token
	pasting  bool
}

// ptoken is a token during macro expansion. hide holds the names of the
// macros whose expansion produced it, which may not expand it again.
type ptoken struct {
	Token
	hide stringset.Set
}

type condFrame struct {
	active       bool
	taken        bool
	parentActive bool
	sawElse      bool
	pos          Position
}

type preprocessor struct {
	opts      Options
	log       *zap.Logger
	follow    bool
	macros    map[string]*macro
	defines   []Define
	defineIdx map[string]int
	seen      stringset.Set
	files     []string
	includes  []string
	included  stringset.Set
	out       []Token
	depth     int
}

func newPreprocessor(opts Options, log *zap.Logger, follow bool) (*preprocessor, error) {
	pp := &preprocessor{
		opts:      opts,
		log:       log,
		follow:    follow,
		macros:    make(map[string]*macro),
		defineIdx: make(map[string]int),
		seen:      stringset.New(),
		included:  stringset.New(),
	}

	for _, def := range predefinedMacros(opts) {
		if err := pp.predefine(def); err != nil {
			return nil, err
		}
	}
	return pp, nil
}

func predefinedMacros(opts Options) []string {
	defs := []string{
		"__OBJC__ 1",
		"__OBJC2__ 1",
		"__APPLE__ 1",
		"__MACH__ 1",
		"__STDC__ 1",
		"__GNUC__ 4",
		"__clang__ 1",
		"__BLOCKS__ 1",
		"TARGET_OS_MAC 1",
		"TARGET_OS_OSX 1",
		"TARGET_OS_IPHONE 0",
		"TARGET_OS_IOS 0",
		"TARGET_OS_TV 0",
		"TARGET_OS_WATCH 0",
		"TARGET_OS_MACCATALYST 0",
		"TARGET_OS_SIMULATOR 0",
	}

	switch opts.arch() {
	case "x86_64":
		defs = append(defs, "__x86_64__ 1", "__LP64__ 1", "TARGET_CPU_X86_64 1")
	case "arm64", "arm64e":
		defs = append(defs, "__arm64__ 1", "__aarch64__ 1", "__LP64__ 1", "TARGET_CPU_ARM64 1")
	case "i386":
		defs = append(defs, "__i386__ 1", "TARGET_CPU_X86 1")
	case "ppc":
		defs = append(defs, "__ppc__ 1", "__BIG_ENDIAN__ 1", "TARGET_CPU_PPC 1")
	}

	if v := opts.MinDeployment; v != nil {
		required := versionMacroValue(*v)
		defs = append(defs,
			fmt.Sprintf("MAC_OS_X_VERSION_MIN_REQUIRED %d", required),
			fmt.Sprintf("__MAC_OS_X_VERSION_MIN_REQUIRED %d", required),
			fmt.Sprintf("__ENVIRONMENT_MAC_OS_X_VERSION_MIN_REQUIRED__ %d", required),
		)
	}

	for _, name := range stringset.FromKeys(opts.Defines).Elements() {
		value := opts.Defines[name]
		if value == "" {
			value = "1"
		}
		defs = append(defs, name+" "+value)
	}
	return defs
}

// versionMacroValue spells v the way Availability.h does: 1090 for 10.9
// and 101300 for 10.13.
func versionMacroValue(v Version) int {
	if v.Major == 10 && v.Minor < 10 {
		return 1000 + v.Minor*10 + v.Patch
	}
	return v.Major*10000 + v.Minor*100 + v.Patch
}

func (pp *preprocessor) predefine(def string) error {
	return pp.define(def, Position{File: "<built-in>", Line: 1, Col: 1}, false)
}

// processFile preprocesses a header and everything it includes. A header
// that has been seen before is skipped.
func (pp *preprocessor) processFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = filepath.Clean(path)
	if !pp.seen.Add(path) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	pp.log.Debug("preprocessing header", zap.String("path", path))
	pp.files = append(pp.files, path)

	return pp.processSource(ctx, path, string(data))
}

func (pp *preprocessor) processSource(ctx context.Context, file, src string) error {
	toks, err := lex(file, src)
	if err != nil {
		return err
	}

	var stack []condFrame
	var chunk []Token

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		out, err := pp.expand(chunk)
		if err != nil {
			return err
		}
		pp.out = append(pp.out, out...)
		chunk = nil
		return nil
	}

	for _, t := range toks {
		switch t.Kind {
		case TokenEOF:
			continue

		case TokenDirective:
			if err := flush(); err != nil {
				return err
			}
			if err := pp.directive(ctx, t, &stack); err != nil {
				return err
			}

		default:
			if isActive(stack) {
				chunk = append(chunk, t)
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if len(stack) > 0 {
		return newParsingError(ErrDirective, stack[len(stack)-1].pos, "unterminated conditional")
	}
	return nil
}

func isActive(stack []condFrame) bool {
	return len(stack) == 0 || stack[len(stack)-1].active
}

func (pp *preprocessor) directive(ctx context.Context, t Token, stack *[]condFrame) error {
	name, rest := splitDirective(t.Text)
	active := isActive(*stack)

	switch name {
	case "if", "ifdef", "ifndef":
		frame := condFrame{parentActive: active, pos: t.Pos}
		if active {
			cond, err := pp.condition(name, rest, t.Pos)
			if err != nil {
				return err
			}
			frame.active, frame.taken = cond, cond
		}
		*stack = append(*stack, frame)
		return nil

	case "elif", "elifdef", "elifndef":
		if len(*stack) == 0 {
			return newParsingError(ErrDirective, t.Pos, "#%s without #if", name)
		}
		top := &(*stack)[len(*stack)-1]
		if top.sawElse {
			return newParsingError(ErrDirective, t.Pos, "#%s after #else", name)
		}
		if !top.parentActive || top.taken {
			top.active = false
			return nil
		}
		kind := "if"
		if name != "elif" {
			kind = strings.TrimPrefix(name, "el")
		}
		cond, err := pp.condition(kind, rest, t.Pos)
		if err != nil {
			return err
		}
		top.active, top.taken = cond, cond
		return nil

	case "else":
		if len(*stack) == 0 {
			return newParsingError(ErrDirective, t.Pos, "#else without #if")
		}
		top := &(*stack)[len(*stack)-1]
		if top.sawElse {
			return newParsingError(ErrDirective, t.Pos, "duplicate #else")
		}
		top.sawElse = true
		top.active = top.parentActive && !top.taken
		top.taken = true
		return nil

	case "endif":
		if len(*stack) == 0 {
			return newParsingError(ErrDirective, t.Pos, "#endif without #if")
		}
		*stack = (*stack)[:len(*stack)-1]
		return nil
	}

	if !active {
		return nil
	}

	switch name {
	case "define":
		return pp.define(rest, t.Pos, true)

	case "undef":
		delete(pp.macros, strings.TrimSpace(rest))
		return nil

	case "include", "import", "include_next":
		return pp.include(ctx, rest, t.Pos)

	case "error":
		return newParsingError(ErrDirective, t.Pos, "#error %s", rest)

	case "", "warning", "pragma", "ident", "sccs", "line", "assert", "unassert":
		return nil
	}

	return newParsingError(ErrDirective, t.Pos, "unknown directive #%s", name)
}

// splitDirective returns the directive keyword and the remaining text. Line
// markers such as `# 1 "file.h"` yield an empty keyword.
func splitDirective(text string) (string, string) {
	i := 0
	for i < len(text) && isIdentChar(text[i]) {
		i++
	}
	if i == 0 || isDigit(text[0]) {
		return "", text
	}
	return text[:i], strings.TrimSpace(text[i:])
}

func (pp *preprocessor) condition(kind, rest string, pos Position) (bool, error) {
	if kind == "ifdef" || kind == "ifndef" {
		name, _ := splitDirective(rest)
		if name == "" {
			return false, newParsingError(ErrDirective, pos, "#%s needs a macro name", kind)
		}
		_, defined := pp.macros[name]
		return defined == (kind == "ifdef"), nil
	}

	toks, err := lexLine(pos, rest)
	if err != nil {
		return false, err
	}
	toks = trimEOF(toks)

	var resolved []Token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.Is("defined"):
			name, next, ok := definedOperand(toks, i+1)
			if !ok {
				return false, newParsingError(ErrDirective, t.Pos, "malformed defined()")
			}
			_, defined := pp.macros[name]
			resolved = append(resolved, numberToken(boolInt(defined), t.Pos))
			i = next - 1

		case t.Is("__has_include") || t.Is("__has_include_next"):
			spec, next, ok := hasIncludeOperand(toks, i+1)
			if !ok {
				return false, newParsingError(ErrDirective, t.Pos, "malformed %s", t.Text)
			}
			_, found := pp.resolve(spec, pos.File)
			resolved = append(resolved, numberToken(boolInt(found), t.Pos))
			i = next - 1

		default:
			resolved = append(resolved, t)
		}
	}

	expanded, err := pp.expand(resolved)
	if err != nil {
		return false, err
	}

	e := evaluator{
		toks: expanded,
		lookup: func(string) (value, bool) {
			return intValue(0), true
		},
		call: pp.builtinCall,
	}
	v, err := e.eval()
	if err != nil {
		return false, newParsingError(ErrDirective, pos, "#%s %s: %v", kind, rest, err)
	}
	return v.truth(), nil
}

func definedOperand(toks []Token, i int) (string, int, bool) {
	if i < len(toks) && toks[i].Kind == TokenIdent {
		return toks[i].Text, i + 1, true
	}
	if i+2 < len(toks) && toks[i].Is("(") && toks[i+1].Kind == TokenIdent && toks[i+2].Is(")") {
		return toks[i+1].Text, i + 3, true
	}
	return "", i, false
}

func hasIncludeOperand(toks []Token, i int) (string, int, bool) {
	if i >= len(toks) || !toks[i].Is("(") {
		return "", i, false
	}
	var b strings.Builder
	for j := i + 1; j < len(toks); j++ {
		if toks[j].Is(")") {
			return b.String(), j + 1, true
		}
		b.WriteString(toks[j].Text)
	}
	return "", i, false
}

var (
	knownFeatures = stringset.New(
		"nullability", "objc_fixed_enum", "objc_instancetype", "blocks",
		"objc_bool", "objc_protocol_qualifier_mangling", "enumerator_attributes",
		"attribute_availability", "attribute_availability_with_message",
		"attribute_availability_app_extension", "attribute_availability_with_version_underscores",
		"attribute_availability_tvos", "attribute_availability_watchos",
		"attribute_deprecated_with_message", "attribute_unavailable_with_message",
		"attribute_cf_returns_retained", "attribute_ns_returns_retained",
		"objc_generics", "objc_generics_variance", "objc_kindof",
	)
	knownAttributes = stringset.New(
		"availability", "deprecated", "unavailable", "format", "flag_enum",
		"ns_returns_retained", "cf_returns_retained", "enum_extensibility",
		"ns_error_domain", "visibility", "noescape", "objc_boxable",
		"swift_name", "swift_private", "objc_designated_initializer",
	)
)

// builtinCall evaluates the function-like builtins clang accepts in #if.
// Unknown calls evaluate to 0.
func (pp *preprocessor) builtinCall(name string, args [][]Token) (value, bool) {
	arg := ""
	if len(args) > 0 {
		arg = strings.Trim(joinTokens(args[0]), "_")
	}

	switch name {
	case "__has_feature", "__has_extension":
		return boolValue(knownFeatures.Contains(arg)), true
	case "__has_attribute", "__has_c_attribute", "__has_declspec_attribute":
		return boolValue(knownAttributes.Contains(arg)), true
	case "__is_target_os":
		return boolValue(normalizePlatform(arg) == "macos"), true
	case "__is_target_arch":
		return boolValue(arg == pp.opts.arch()), true
	case "__is_target_vendor":
		return boolValue(arg == "apple"), true
	}
	return intValue(0), true
}

func (pp *preprocessor) define(text string, pos Position, record bool) error {
	toks, err := lexLine(pos, text)
	if err != nil {
		return err
	}
	toks = trimEOF(toks)
	if len(toks) == 0 || toks[0].Kind != TokenIdent {
		return newParsingError(ErrDirective, pos, "#define needs a macro name")
	}

	name := toks[0]
	m := &macro{name: name.Text}
	body := toks[1:]

	if len(body) > 0 && body[0].Is("(") && body[0].Pos.Line == name.Pos.Line &&
		body[0].Pos.Col == name.Pos.Col+len(name.Text) {
		m.funcLike = true
		i := 1
		for ; i < len(body) && !body[i].Is(")"); i++ {
			t := body[i]
			switch {
			case t.Is(","):
			case t.Is("..."):
				m.variadic = true
				m.params = append(m.params, "__VA_ARGS__")
			case t.Kind == TokenIdent:
				if i+1 < len(body) && body[i+1].Is("...") {
					m.variadic = true
					i++
				}
				m.params = append(m.params, t.Text)
			default:
				return newParsingError(ErrDirective, t.Pos, "bad macro parameter %q", t.Text)
			}
		}
		if i >= len(body) {
			return newParsingError(ErrDirective, pos, "unterminated parameter list for %s", name.Text)
		}
		body = body[i+1:]
	}

	m.body = body
	for _, t := range body {
		if t.Is("#") || t.Is("##") {
			m.pasting = true
		}
	}
	pp.macros[m.name] = m

	if !record {
		return nil
	}

	def := Define{
		Name:           m.name,
		Params:         m.params,
		IsFunctionLike: m.funcLike,
		IsVariadic:     m.variadic,
		Body:           body,
		Text:           joinTokens(body),
		Pos:            pos,
	}
	if i, ok := pp.defineIdx[def.Name]; ok {
		pp.defines[i] = def
		return nil
	}
	pp.defineIdx[def.Name] = len(pp.defines)
	pp.defines = append(pp.defines, def)
	return nil
}

func (pp *preprocessor) include(ctx context.Context, rest string, pos Position) error {
	spec, ok := includeSpec(rest)
	if !ok {
		toks, err := lexLine(pos, rest)
		if err != nil {
			return err
		}
		expanded, err := pp.expand(trimEOF(toks))
		if err != nil {
			return err
		}
		if spec, ok = includeSpec(joinTokens(expanded)); !ok {
			return newParsingError(ErrDirective, pos, "malformed include %q", rest)
		}
	}

	if pp.included.Add(spec) {
		pp.includes = append(pp.includes, spec)
	}
	if !pp.follow {
		return nil
	}

	path, found := pp.resolve(spec, pos.File)
	if !found {
		angled := strings.HasPrefix(spec, "<")
		fw := frameworkOfInclude(spec)
		if !angled || pp.opts.StrictIncludes || (fw != "" && fw == pp.opts.Framework) {
			return newParsingError(ErrMissingInclude, pos, "cannot find %s", spec)
		}
		pp.log.Debug("skipping missing include", zap.String("include", spec), zap.Stringer("at", pos))
		return nil
	}

	if pp.depth >= maxIncludeDepth {
		return newParsingError(ErrDirective, pos, "includes nested too deeply")
	}
	pp.depth++
	defer func() { pp.depth-- }()

	return pp.processFile(ctx, path)
}

// includeSpec extracts `<Fw/H.h>` or `"h.h"` from the text of an include
// directive. The delimiters are kept.
func includeSpec(text string) (string, bool) {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "<"):
		if end := strings.IndexByte(text, '>'); end > 1 {
			return text[:end+1], true
		}
	case strings.HasPrefix(text, `"`):
		if end := strings.IndexByte(text[1:], '"'); end > 0 {
			return text[:end+2], true
		}
	}
	return "", false
}

func frameworkOfInclude(spec string) string {
	name := strings.Trim(spec, `<>"`)
	if i := strings.IndexByte(name, '/'); i > 0 {
		return name[:i]
	}
	return ""
}

// resolve finds the file an include spec refers to. Quoted includes are
// looked up next to the including file first.
func (pp *preprocessor) resolve(spec, from string) (string, bool) {
	name := strings.Trim(spec, `<>"`)
	var candidates []string

	if strings.HasPrefix(spec, `"`) && from != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(from), name))
	}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	}
	for _, dir := range pp.opts.IncludePaths {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, dir := range pp.opts.SystemIncludePaths {
		candidates = append(candidates, filepath.Join(dir, name))
	}

	if fw, rest, ok := strings.Cut(name, "/"); ok {
		if root := frameworkRoot(from); root != "" && filepath.Base(root) == fw+".framework" {
			candidates = append(candidates,
				filepath.Join(root, "Headers", rest),
				filepath.Join(root, rest))
		}
		for _, dir := range pp.opts.FrameworkPaths {
			candidates = append(candidates,
				filepath.Join(dir, fw+".framework", "Headers", rest),
				filepath.Join(dir, fw+".framework", rest))
		}
	}

	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			return c, true
		}
	}
	return "", false
}

// frameworkRoot returns the enclosing Name.framework directory of path.
func frameworkRoot(path string) string {
	for dir := filepath.Dir(path); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if strings.HasSuffix(dir, ".framework") {
			return dir
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return ""
}

// expand performs macro replacement on toks.
func (pp *preprocessor) expand(toks []Token) ([]Token, error) {
	in := make([]ptoken, len(toks))
	for i, t := range toks {
		in[i] = ptoken{Token: t}
	}

	expanded, err := pp.expandTokens(in)
	if err != nil {
		return nil, err
	}
	out := make([]Token, len(expanded))
	for i, t := range expanded {
		out[i] = t.Token
	}
	return out, nil
}

func (pp *preprocessor) expandable(t ptoken) (*macro, bool) {
	if t.Kind != TokenIdent || t.hide.Contains(t.Text) {
		return nil, false
	}
	m, ok := pp.macros[t.Text]
	if !ok || m.pasting || isAnnotation(t.Text) || isDeclarationMacro(t.Text) {
		return nil, false
	}
	return m, true
}

func (pp *preprocessor) expandTokens(in []ptoken) ([]ptoken, error) {
	var out []ptoken

	for len(in) > 0 {
		t := in[0]
		in = in[1:]

		m, ok := pp.expandable(t)
		if !ok {
			out = append(out, t)
			continue
		}

		if !m.funcLike {
			body, err := pp.substitute(m, nil, t)
			if err != nil {
				return nil, err
			}
			in = append(body, in...)
			continue
		}

		if len(in) == 0 || !in[0].Is("(") {
			out = append(out, t)
			continue
		}
		args, rest, ok := collectArgs(in)
		if !ok {
			out = append(out, t)
			continue
		}
		if err := checkArity(m, args, t.Pos); err != nil {
			return nil, err
		}
		body, err := pp.substitute(m, args, t)
		if err != nil {
			return nil, err
		}
		in = append(body, rest...)
	}

	return out, nil
}

// checkArity reports a call of a function-like macro with the wrong number
// of arguments. The variadic part may be left out entirely.
func checkArity(m *macro, args [][]ptoken, pos Position) error {
	got := len(args)
	if got == 1 && len(args[0]) == 0 && len(m.params) == 0 {
		got = 0
	}

	want := len(m.params)
	switch {
	case m.variadic && got >= want-1:
		return nil
	case !m.variadic && got == want:
		return nil
	case m.variadic:
		return newParsingError(ErrSyntax, pos, "macro %s needs at least %d arguments, got %d", m.name, want-1, got)
	default:
		return newParsingError(ErrSyntax, pos, "macro %s needs %d arguments, got %d", m.name, want, got)
	}
}

// collectArgs splits the parenthesised macro arguments at the start of in.
func collectArgs(in []ptoken) ([][]ptoken, []ptoken, bool) {
	var args [][]ptoken
	var cur []ptoken
	depth := 0

	for i, t := range in {
		switch {
		case t.Is("("):
			depth++
			if depth == 1 {
				continue
			}
		case t.Is(")"):
			depth--
			if depth == 0 {
				args = append(args, cur)
				return args, in[i+1:], true
			}
		case t.Is(",") && depth == 1:
			args = append(args, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return nil, nil, false
}

func (pp *preprocessor) substitute(m *macro, args [][]ptoken, inv ptoken) ([]ptoken, error) {
	hide := stringset.New(inv.hide.Elements()...)
	hide.Add(m.name)

	if len(m.params) == 0 && len(args) == 1 && len(args[0]) == 0 {
		args = nil
	}

	param := func(name string) ([]ptoken, bool) {
		for i, p := range m.params {
			if p != name {
				continue
			}
			if m.variadic && i == len(m.params)-1 {
				var va []ptoken
				for j := i; j < len(args); j++ {
					if j > i {
						va = append(va, ptoken{Token: Token{Kind: TokenPunct, Text: ",", Pos: inv.Pos}})
					}
					va = append(va, args[j]...)
				}
				return va, true
			}
			if i < len(args) {
				return args[i], true
			}
			return nil, true
		}
		return nil, false
	}

	var out []ptoken
	for _, b := range m.body {
		if m.funcLike && b.Kind == TokenIdent {
			if arg, ok := param(b.Text); ok {
				expanded, err := pp.expandTokens(append([]ptoken(nil), arg...))
				if err != nil {
					return nil, err
				}
				for _, a := range expanded {
					out = append(out, ptoken{Token: a.Token, hide: union(a.hide, hide)})
				}
				continue
			}
		}
		tok := b
		tok.Pos = inv.Pos
		out = append(out, ptoken{Token: tok, hide: hide})
	}
	return out, nil
}

func union(a, b stringset.Set) stringset.Set {
	if a.Len() == 0 {
		return b
	}
	u := stringset.New(a.Elements()...)
	u.Update(b)
	return u
}

func trimEOF(toks []Token) []Token {
	if n := len(toks); n > 0 && toks[n-1].Kind == TokenEOF {
		return toks[:n-1]
	}
	return toks
}

func numberToken(n int, pos Position) Token {
	return Token{Kind: TokenNumber, Text: fmt.Sprint(n), Pos: pos}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
