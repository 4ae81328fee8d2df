// Package docgen renders framework metadata as a Markdown reference page.
package docgen

import (
	"io"
	"slices"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/ardanlabs/objc-metadata/metadata"
)

type entry struct {
	Name         string
	Value        string
	Availability string
}

type enumGroup struct {
	Name         string
	Flags        bool
	Availability string
	Values       []entry
}

type externGroup struct {
	Type    string
	Externs []entry
}

type function struct {
	Name         string
	Signature    string
	Availability string
}

type page struct {
	Module        string
	SDKVersion    string
	Architectures string
	Classes       []entry
	Protocols     []entry
	Enums         []enumGroup
	Externs       []externGroup
	Literals      []entry
	Functions     []function
}

var funcs = template.FuncMap{
	"cell": func(s string) string {
		return strings.ReplaceAll(s, "|", `\|`)
	},
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}

var pageTemplate = template.Must(template.New("page").Funcs(funcs).Parse(`# {{.Module}}

Reference for the {{.Module}} framework, SDK {{.SDKVersion}} ({{.Architectures}}).
{{- if .Classes}}

## Classes

| Class | Availability |
|---|---|
{{- range .Classes}}
| {{.Name}} | {{orDash .Availability | cell}} |
{{- end}}
{{- end}}
{{- if .Protocols}}

## Protocols

| Protocol | Availability |
|---|---|
{{- range .Protocols}}
| {{.Name}} | {{orDash .Availability | cell}} |
{{- end}}
{{- end}}
{{- if .Enums}}

## Enumerations
{{- range .Enums}}

### {{.Name}}{{if .Flags}} (option set){{end}}
{{- if .Availability}}

{{.Availability}}
{{- end}}

| Label | Value | Availability |
|---|---|---|
{{- range .Values}}
| {{.Name}} | {{cell .Value}} | {{orDash .Availability | cell}} |
{{- end}}
{{- end}}
{{- end}}
{{- if .Externs}}

## Externs
{{- range .Externs}}

### {{.Type}}

| Name | Type encoding | Availability |
|---|---|---|
{{- range .Externs}}
| {{.Name}} | ` + "`{{cell .Value}}`" + ` | {{orDash .Availability | cell}} |
{{- end}}
{{- end}}
{{- end}}
{{- if .Literals}}

## Constants

| Name | Value | Availability |
|---|---|---|
{{- range .Literals}}
| {{.Name}} | {{cell .Value}} | {{orDash .Availability | cell}} |
{{- end}}
{{- end}}
{{- if .Functions}}

## Functions
{{- range .Functions}}

### {{.Name}}

` + "```" + `
{{.Signature}}
` + "```" + `
{{- if .Availability}}

{{.Availability}}
{{- end}}
{{- end}}
{{- end}}
`))

// Write renders md as the reference page of module.
func Write(w io.Writer, module string, md *metadata.FrameworkMetadata) error {
	p := build(module, md)
	return errors.Wrap(pageTemplate.Execute(w, p), "rendering documentation")
}

func build(module string, md *metadata.FrameworkMetadata) page {
	p := page{
		Module:        module,
		SDKVersion:    "unknown",
		Architectures: strings.Join(md.Architectures.Elements(), ", "),
	}
	if md.SDKVersion != nil && *md.SDKVersion != "" {
		p.SDKVersion = *md.SDKVersion
	}

	for _, name := range sortedKeys(md.Classes) {
		p.Classes = append(p.Classes, entry{Name: name, Availability: Availability(md.Classes[name].Availability)})
	}
	for _, name := range sortedKeys(md.FormalProtocols) {
		p.Protocols = append(p.Protocols, entry{Name: name, Availability: Availability(md.FormalProtocols[name].Availability)})
	}

	p.Enums = enumGroups(md)
	p.Externs = externGroups(md)

	for _, name := range sortedKeys(md.Literals) {
		lit := md.Literals[name]
		if lit.Ignore {
			continue
		}
		p.Literals = append(p.Literals, entry{Name: name, Value: lit.Value.String(), Availability: Availability(lit.Availability)})
	}

	for _, name := range sortedKeys(md.Functions) {
		fn := md.Functions[name]
		if fn.Ignore {
			continue
		}
		p.Functions = append(p.Functions, function{
			Name:         name,
			Signature:    Signature(name, fn),
			Availability: Availability(fn.Availability),
		})
	}

	return p
}

// enumGroups groups labels by their enum type, ordered by value. Labels
// of anonymous enums come last.
func enumGroups(md *metadata.FrameworkMetadata) []enumGroup {
	byType := make(map[string][]string)
	for name, e := range md.Enum {
		if e.Ignore {
			continue
		}
		byType[e.EnumType] = append(byType[e.EnumType], name)
	}

	types := sortedKeys(byType)
	if len(types) > 0 && types[0] == "" {
		types = append(types[1:], "")
	}

	var groups []enumGroup
	for _, typ := range types {
		labels := byType[typ]
		slices.SortFunc(labels, func(a, b string) int {
			va, vb := md.Enum[a].Value.For("x86_64"), md.Enum[b].Value.For("x86_64")
			switch {
			case va < vb:
				return -1
			case va > vb:
				return 1
			}
			return strings.Compare(a, b)
		})

		g := enumGroup{Name: typ}
		if typ == "" {
			g.Name = "Anonymous enumerations"
		} else if info, ok := md.EnumType[typ]; ok {
			g.Flags = info.Flags
			g.Availability = Availability(info.Availability)
		}
		for _, label := range labels {
			e := md.Enum[label]
			g.Values = append(g.Values, entry{Name: label, Value: e.Value.String(), Availability: Availability(e.Availability)})
		}
		groups = append(groups, g)
	}
	return groups
}

// externGroups groups externs by their declared type name.
func externGroups(md *metadata.FrameworkMetadata) []externGroup {
	byType := make(map[string][]entry)
	for _, name := range sortedKeys(md.Externs) {
		ex := md.Externs[name]
		if ex.Ignore {
			continue
		}
		typ := "Other"
		if ex.TypeName != nil && *ex.TypeName != "" {
			typ = *ex.TypeName
		}
		byType[typ] = append(byType[typ], entry{Name: name, Value: ex.Typestr.String(), Availability: Availability(ex.Availability)})
	}

	var groups []externGroup
	for _, typ := range sortedKeys(byType) {
		groups = append(groups, externGroup{Type: typ, Externs: byType[typ]})
	}
	return groups
}

// Availability describes a in one sentence, or returns "" when there is
// nothing to say.
func Availability(a *metadata.AvailabilityInfo) string {
	if a.IsZero() {
		return ""
	}

	var parts []string
	if a.Introduced != nil {
		parts = append(parts, "Introduced in macOS "+metadata.FormatVersion(*a.Introduced)+".")
	}

	switch {
	case a.IsUnavailable():
		s := "Unavailable."
		if a.Suggestion != nil && *a.Suggestion != "" {
			s = "Unavailable, " + *a.Suggestion + "."
		}
		parts = append(parts, s)
	case a.IsDeprecated():
		s := "Deprecated in macOS " + metadata.FormatVersion(*a.Deprecated)
		if a.DeprecatedMessage != nil && *a.DeprecatedMessage != "" {
			s += ": " + *a.DeprecatedMessage
		}
		parts = append(parts, s+".")
	}
	return strings.Join(parts, " ")
}

// Signature renders fn as "name(a i, f) -> v" using the argument names and
// type names where known and type encodings otherwise.
func Signature(name string, fn metadata.FunctionInfo) string {
	var args []string
	for _, a := range fn.Args {
		typ := a.Typestr
		if a.TypeName != nil && *a.TypeName != "" {
			typ = *a.TypeName
		}
		if a.Name != nil && *a.Name != "" {
			typ = *a.Name + " " + typ
		}
		args = append(args, typ)
	}
	if fn.Variadic && !fn.IsKandR() {
		args = append(args, "...")
	}

	ret := fn.Retval.Typestr
	if fn.Retval.TypeName != nil && *fn.Retval.TypeName != "" {
		ret = *fn.Retval.TypeName
	}
	return name + "(" + strings.Join(args, ", ") + ") -> " + ret
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
