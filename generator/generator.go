// Package generator compiles merged framework metadata into Go source.
package generator

import (
	"bytes"
	"fmt"
	"go/format"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"github.com/pkg/errors"

	"github.com/ardanlabs/objc-metadata/metadata"
)

type Generator struct {
	packageName string
	framework   string
	md          *metadata.FrameworkMetadata
}

// New returns a generator for the metadata of framework, which is also the
// name the generated code uses to locate the framework binary.
func New(packageName, framework string, md *metadata.FrameworkMetadata) *Generator {
	return &Generator{
		packageName: packageName,
		framework:   framework,
		md:          md,
	}
}

// Generate returns the generated files keyed by file name.
func (g *Generator) Generate() (map[string]string, error) {
	files := make(map[string]string)

	steps := []struct {
		name string
		gen  func() (string, error)
	}{
		{"framework.go", g.generateFramework},
		{"enums.go", g.generateEnums},
		{"constants.go", g.generateConstants},
		{"symbols.go", g.generateSymbols},
	}

	for _, step := range steps {
		code, err := step.gen()
		if err != nil {
			return nil, errors.Wrapf(err, "generating %s", step.name)
		}

		src, err := format.Source([]byte(code))
		if err != nil {
			return nil, errors.Wrapf(err, "formatting %s", step.name)
		}
		files[step.name] = string(src)
	}

	return files, nil
}

// WriteFiles generates the package into dir and returns the paths written.
func (g *Generator) WriteFiles(dir string) ([]string, error) {
	files, err := g.Generate()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating output directory")
	}

	var paths []string
	for _, name := range slices.Sorted(maps.Keys(files)) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(files[name]), 0644); err != nil {
			return nil, errors.Wrapf(err, "writing %s", name)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

const header = "// Code generated by objc-metadata. DO NOT EDIT.\n\n"

func (g *Generator) generateFramework() (string, error) {
	tmpl := header + `package {{.Package}}

import "runtime"

// Framework is the name of the framework the symbols of this package
// come from.
const Framework = "{{.Framework}}"

// FrameworkPath is the location of the framework binary.
const FrameworkPath = "/System/Library/Frameworks/{{.Framework}}.framework/{{.Framework}}"

// SDKVersion is the SDK the metadata was scanned from.
const SDKVersion = "{{.SDKVersion}}"

// Architectures lists the architectures the metadata covers.
var Architectures = []string{ {{- range $i, $a := .Archs}}{{if $i}}, {{end}}"{{$a}}"{{end -}} }

// archValue picks the value for the architecture of the running program.
func archValue[T any](x86, arm T) T {
	if runtime.GOARCH == "arm64" {
		return arm
	}
	return x86
}
`

	t, err := template.New("framework").Parse(tmpl)
	if err != nil {
		return "", err
	}

	sdk := "unknown"
	if g.md.SDKVersion != nil {
		sdk = *g.md.SDKVersion
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, map[string]any{
		"Package":    g.packageName,
		"Framework":  g.framework,
		"SDKVersion": sdk,
		"Archs":      g.md.Architectures.Elements(),
	})
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (g *Generator) generateEnums() (string, error) {
	var buf bytes.Buffer

	fmt.Fprint(&buf, header)
	fmt.Fprintf(&buf, "package %s\n\n", g.packageName)

	labels := make(map[string][]string)
	for _, name := range slices.Sorted(maps.Keys(g.md.Enum)) {
		e := g.md.Enum[name]
		if e.Ignore {
			continue
		}
		labels[e.EnumType] = append(labels[e.EnumType], name)
	}

	for _, typeName := range slices.Sorted(maps.Keys(g.md.EnumType)) {
		et := g.md.EnumType[typeName]
		if et.Ignore {
			continue
		}

		goType := typestrToGoType(et.Typestr)
		writeDoc(&buf, "", fmt.Sprintf("%s is the %s enum.", toGoName(typeName), typeName), et.Availability)
		if et.Flags {
			fmt.Fprintf(&buf, "//\n// %s values are bit flags and can be combined.\n", toGoName(typeName))
		}
		fmt.Fprintf(&buf, "type %s %s\n\n", toGoName(typeName), goType)

		if goType == "string" {
			g.writeStringEnum(&buf, typeName)
			continue
		}
		g.writeLabels(&buf, toGoName(typeName), goType, labels[typeName])
	}

	// Labels of anonymous enums and of enum types that were not recorded.
	var untyped []string
	for typeName, names := range labels {
		if _, ok := g.md.EnumType[typeName]; !ok {
			untyped = append(untyped, names...)
		}
	}
	slices.Sort(untyped)
	g.writeLabels(&buf, "", "int64", untyped)

	return buf.String(), nil
}

// writeLabels writes the labels as constants of goName, or as untyped
// constants when goName is empty. Labels that differ per architecture
// become variables.
func (g *Generator) writeLabels(buf *bytes.Buffer, goName, goType string, names []string) {
	var consts, vars []string
	for _, name := range names {
		if g.md.Enum[name].Value.IsMerged() {
			vars = append(vars, name)
			continue
		}
		consts = append(consts, name)
	}

	if len(consts) > 0 {
		fmt.Fprintf(buf, "const (\n")
		for _, name := range consts {
			e := g.md.Enum[name]
			writeDoc(buf, "\t", "", e.Availability)
			value := formatInt(e.Value.Value, goType)
			if goName == "" {
				fmt.Fprintf(buf, "\t%s = %s\n", toGoName(name), value)
				continue
			}
			fmt.Fprintf(buf, "\t%s %s = %s\n", toGoName(name), goName, value)
		}
		fmt.Fprintf(buf, ")\n\n")
	}

	if len(vars) > 0 {
		typ := goName
		if typ == "" {
			typ = goType
		}
		fmt.Fprintf(buf, "var (\n")
		for _, name := range vars {
			e := g.md.Enum[name]
			writeDoc(buf, "\t", "", e.Availability)
			fmt.Fprintf(buf, "\t%s = archValue[%s](%s, %s)\n", toGoName(name), typ,
				formatInt(e.Value.Merged.X86_64, goType), formatInt(e.Value.Merged.ARM64, goType))
		}
		fmt.Fprintf(buf, ")\n\n")
	}
}

// writeStringEnum writes the externs of a string enum as the names of the
// symbols holding their values.
func (g *Generator) writeStringEnum(buf *bytes.Buffer, typeName string) {
	var names []string
	for _, name := range slices.Sorted(maps.Keys(g.md.Externs)) {
		ext := g.md.Externs[name]
		if !ext.Ignore && ext.TypeName != nil && *ext.TypeName == typeName {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}

	fmt.Fprintf(buf, "// Symbols holding the %s values.\n", toGoName(typeName))
	fmt.Fprintf(buf, "const (\n")
	for _, name := range names {
		writeDoc(buf, "\t", "", g.md.Externs[name].Availability)
		fmt.Fprintf(buf, "\t%s %s = %q\n", toGoName(name)+"Symbol", toGoName(typeName), name)
	}
	fmt.Fprintf(buf, ")\n\n")
}

func (g *Generator) generateConstants() (string, error) {
	var buf bytes.Buffer

	fmt.Fprint(&buf, header)
	fmt.Fprintf(&buf, "package %s\n\n", g.packageName)

	var consts, vars []string
	for _, name := range slices.Sorted(maps.Keys(g.md.Literals)) {
		lit := g.md.Literals[name]
		switch {
		case lit.Ignore:
		case lit.Value.IsMerged():
			vars = append(vars, name)
		default:
			consts = append(consts, name)
		}
	}

	var aliases []string
	for _, name := range slices.Sorted(maps.Keys(g.md.Aliases)) {
		a := g.md.Aliases[name]
		if !a.Ignore && g.defined(a.Alias) {
			aliases = append(aliases, name)
		}
	}

	if len(consts) > 0 {
		fmt.Fprintf(&buf, "const (\n")
		for _, name := range consts {
			lit := g.md.Literals[name]
			writeDoc(&buf, "\t", "", lit.Availability)
			fmt.Fprintf(&buf, "\t%s = %s\n", toGoName(name), literalValue(lit.Value.Value))
		}
		fmt.Fprintf(&buf, ")\n\n")
	}

	if len(vars) > 0 {
		fmt.Fprintf(&buf, "var (\n")
		for _, name := range vars {
			lit := g.md.Literals[name]
			writeDoc(&buf, "\t", "", lit.Availability)
			fmt.Fprintf(&buf, "\t%s = archValue(%s, %s)\n", toGoName(name),
				typedLiteral(lit.Value.Merged.X86_64), typedLiteral(lit.Value.Merged.ARM64))
		}
		fmt.Fprintf(&buf, ")\n\n")
	}

	if len(aliases) > 0 {
		fmt.Fprintf(&buf, "// Aliases of other constants.\n")
		fmt.Fprintf(&buf, "var (\n")
		for _, name := range aliases {
			a := g.md.Aliases[name]
			writeDoc(&buf, "\t", "", a.Availability)
			fmt.Fprintf(&buf, "\t%s = %s\n", toGoName(name), toGoName(a.Alias))
		}
		fmt.Fprintf(&buf, ")\n\n")
	}

	return buf.String(), nil
}

// defined reports whether name is generated as a constant or variable.
func (g *Generator) defined(name string) bool {
	if e, ok := g.md.Enum[name]; ok && !e.Ignore {
		return true
	}
	if l, ok := g.md.Literals[name]; ok && !l.Ignore {
		return true
	}
	return false
}

func (g *Generator) generateSymbols() (string, error) {
	var buf bytes.Buffer

	fmt.Fprint(&buf, header)
	fmt.Fprintf(&buf, "package %s\n\n", g.packageName)

	fmt.Fprintf(&buf, "// Extern describes a global variable exported by the framework.\n")
	fmt.Fprintf(&buf, "type Extern struct {\n")
	fmt.Fprintf(&buf, "\tTypestr    string\n")
	fmt.Fprintf(&buf, "\tTypeName   string\n")
	fmt.Fprintf(&buf, "\tIntroduced int\n")
	fmt.Fprintf(&buf, "\tDeprecated int\n")
	fmt.Fprintf(&buf, "}\n\n")

	fmt.Fprintf(&buf, "// Function describes a function exported by the framework. Encodings\n")
	fmt.Fprintf(&buf, "// use the Objective-C type encoding.\n")
	fmt.Fprintf(&buf, "type Function struct {\n")
	fmt.Fprintf(&buf, "\tRetval     string\n")
	fmt.Fprintf(&buf, "\tArgs       []string\n")
	fmt.Fprintf(&buf, "\tVariadic   bool\n")
	fmt.Fprintf(&buf, "\tIntroduced int\n")
	fmt.Fprintf(&buf, "\tDeprecated int\n")
	fmt.Fprintf(&buf, "}\n\n")

	fmt.Fprintf(&buf, "var Externs = map[string]Extern{\n")
	for _, name := range slices.Sorted(maps.Keys(g.md.Externs)) {
		ext := g.md.Externs[name]
		if ext.Ignore {
			continue
		}
		typestr := strconv.Quote(ext.Typestr.Value)
		if ext.Typestr.IsMerged() {
			typestr = fmt.Sprintf("archValue(%q, %q)", ext.Typestr.Merged.X86_64, ext.Typestr.Merged.ARM64)
		}
		typeName := ""
		if ext.TypeName != nil {
			typeName = *ext.TypeName
		}
		introduced, deprecated := versions(ext.Availability)
		fmt.Fprintf(&buf, "\t%q: {Typestr: %s, TypeName: %q, Introduced: %d, Deprecated: %d},\n",
			name, typestr, typeName, introduced, deprecated)
	}
	fmt.Fprintf(&buf, "}\n\n")

	fmt.Fprintf(&buf, "var Functions = map[string]Function{\n")
	for _, name := range slices.Sorted(maps.Keys(g.md.Functions)) {
		fn := g.md.Functions[name]
		if fn.Ignore {
			continue
		}

		args := make([]string, 0, len(fn.Args))
		for _, a := range fn.Args {
			args = append(args, strconv.Quote(a.Typestr))
		}
		introduced, deprecated := versions(fn.Availability)
		fmt.Fprintf(&buf, "\t%q: {Retval: %q, Args: []string{%s}, Variadic: %t, Introduced: %d, Deprecated: %d},\n",
			name, fn.Retval.Typestr, strings.Join(args, ", "), fn.Variadic, introduced, deprecated)
	}
	fmt.Fprintf(&buf, "}\n")

	return buf.String(), nil
}

func versions(a *metadata.AvailabilityInfo) (introduced, deprecated int) {
	if a == nil {
		return 0, 0
	}
	if a.Introduced != nil {
		introduced = *a.Introduced
	}
	if a.Deprecated != nil {
		deprecated = *a.Deprecated
	}
	return introduced, deprecated
}

// writeDoc writes summary, when set, and the availability notes as a doc
// comment.
func writeDoc(buf *bytes.Buffer, indent, summary string, a *metadata.AvailabilityInfo) {
	var lines []string
	if summary != "" {
		lines = append(lines, summary)
	}

	if a != nil {
		if a.Introduced != nil {
			lines = append(lines, "Available since macOS "+metadata.FormatVersion(*a.Introduced)+".")
		}
		switch {
		case a.IsUnavailable():
			note := "Deprecated: not available on macOS."
			if a.Suggestion != nil {
				note = "Deprecated: not available on macOS, use " + *a.Suggestion + "."
			}
			lines = append(lines, note)
		case a.IsDeprecated():
			note := "Deprecated: deprecated in macOS " + metadata.FormatVersion(*a.Deprecated) + "."
			if a.DeprecatedMessage != nil && *a.DeprecatedMessage != "" {
				note += " " + *a.DeprecatedMessage
			}
			lines = append(lines, note)
		}
	}

	for i, line := range lines {
		if i > 0 && strings.HasPrefix(line, "Deprecated:") {
			fmt.Fprintf(buf, "%s//\n", indent)
		}
		fmt.Fprintf(buf, "%s// %s\n", indent, line)
	}
}

// typestrToGoType maps an Objective-C type encoding to the Go type with
// the same size and signedness.
func typestrToGoType(typestr string) string {
	typestr = strings.TrimLeft(typestr, "rnNoORV")

	switch typestr {
	case "c":
		return "int8"
	case "C":
		return "uint8"
	case "s":
		return "int16"
	case "S":
		return "uint16"
	case "i", "l":
		return "int32"
	case "I", "L":
		return "uint32"
	case "q":
		return "int64"
	case "Q":
		return "uint64"
	case "f":
		return "float32"
	case "d":
		return "float64"
	case "B", "Z":
		return "bool"
	case "@":
		return "string"
	default:
		return "uintptr"
	}
}

// formatInt renders v for a constant of goType, reinterpreting negative
// values of unsigned types the way C does.
func formatInt(v int64, goType string) string {
	switch goType {
	case "uint8":
		return strconv.FormatUint(uint64(uint8(v)), 10)
	case "uint16":
		return strconv.FormatUint(uint64(uint16(v)), 10)
	case "uint32":
		return strconv.FormatUint(uint64(uint32(v)), 10)
	case "uint64", "uintptr":
		return strconv.FormatUint(uint64(v), 10)
	}
	return strconv.FormatInt(v, 10)
}

func literalValue(l metadata.Literal) string {
	switch l.Kind {
	case metadata.LiteralInt:
		return strconv.FormatInt(l.Int, 10)
	case metadata.LiteralFloat:
		return l.String()
	case metadata.LiteralString:
		return strconv.Quote(l.Str)
	}
	return "uintptr(0)"
}

// typedLiteral is literalValue with an explicit type, for use as a
// generic argument.
func typedLiteral(l metadata.Literal) string {
	switch l.Kind {
	case metadata.LiteralInt:
		return "int64(" + literalValue(l) + ")"
	case metadata.LiteralFloat:
		return "float64(" + literalValue(l) + ")"
	}
	return literalValue(l)
}

// toGoName turns a C identifier into an exported Go identifier, dropping
// underscores and capitalizing the letter after each one.
func toGoName(name string) string {
	if name == "" {
		return ""
	}

	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_'
	})

	var result strings.Builder
	for _, part := range parts {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		result.WriteString(string(runes))
	}

	return result.String()
}
