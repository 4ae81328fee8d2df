// Package apidiff compares two framework scans and reports the API changes
// between them.
package apidiff

import (
	"fmt"
	"reflect"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ardanlabs/objc-metadata/metadata"
)

type Kind int

const (
	Added Kind = iota
	Removed
	Changed
	Deprecated
	Undeprecated
	Unavailable
)

var kindNames = []string{"added", "removed", "changed", "deprecated", "undeprecated", "unavailable"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return errors.Errorf("unknown change kind %q", text)
}

// Severity orders changes by their impact on code using the framework.
type Severity int

const (
	Informational Severity = iota
	Compatible
	Breaking
)

var severityNames = []string{"informational", "compatible", "breaking"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	for i, name := range severityNames {
		if name == string(text) {
			*s = Severity(i)
			return nil
		}
	}
	return errors.Errorf("unknown severity %q", text)
}

// Change is one difference between two scans.
type Change struct {
	Section  string   `json:"section" yaml:"section"`
	Name     string   `json:"name" yaml:"name"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Severity Severity `json:"severity" yaml:"severity"`
	Detail   []string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

type Report struct {
	OldSDK  string   `json:"old_sdk" yaml:"old_sdk"`
	NewSDK  string   `json:"new_sdk" yaml:"new_sdk"`
	Changes []Change `json:"changes" yaml:"changes"`
}

func (r *Report) Empty() bool {
	return len(r.Changes) == 0
}

// Count returns the number of changes of the given severity.
func (r *Report) Count(sev Severity) int {
	var n int
	for _, c := range r.Changes {
		if c.Severity == sev {
			n++
		}
	}
	return n
}

func (r *Report) Breaking() bool {
	return r.Count(Breaking) > 0
}

// Fields whose change alters how the symbol is called or what it means.
var breakingFields = stringset.New(
	"Value", "Typestr", "Args", "Retval", "Variadic", "Alias",
	"Expression", "Definition", "FieldNames", "EnumType", "GetTypeIDFunc",
)

// Compare reports the changes from old to new.
func Compare(old, new *metadata.FrameworkMetadata) *Report {
	r := &Report{
		OldSDK:  deref(old.SDKVersion),
		NewSDK:  deref(new.SDKVersion),
		Changes: []Change{},
	}

	for _, arch := range old.Architectures.Diff(new.Architectures.Set).Elements() {
		r.add(Change{Section: "architectures", Name: arch, Kind: Removed, Severity: Informational})
	}
	for _, arch := range new.Architectures.Diff(old.Architectures.Set).Elements() {
		r.add(Change{Section: "architectures", Name: arch, Kind: Added, Severity: Informational})
	}

	compareSection(r, "enum_type", old.EnumType, new.EnumType, func(v metadata.EnumTypeInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "enum", old.Enum, new.Enum, func(v metadata.EnumInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "structs", old.Structs, new.Structs, func(v metadata.StructInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "externs", old.Externs, new.Externs, func(v metadata.ExternInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "cftypes", old.CFTypes, new.CFTypes, func(metadata.CFTypeInfo) *metadata.AvailabilityInfo { return nil })
	compareSection(r, "literals", old.Literals, new.Literals, func(v metadata.LiteralInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "formal_protocols", old.FormalProtocols, new.FormalProtocols, func(v metadata.ProtocolInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "informal_protocols", old.InformalProtocols, new.InformalProtocols, func(v metadata.ProtocolInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "classes", old.Classes, new.Classes, func(v metadata.ClassInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "aliases", old.Aliases, new.Aliases, func(v metadata.AliasInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "expressions", old.Expressions, new.Expressions, func(v metadata.ExpressionInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "func_macros", old.FuncMacros, new.FuncMacros, func(v metadata.FunctionMacroInfo) *metadata.AvailabilityInfo { return v.Availability })
	compareSection(r, "functions", old.Functions, new.Functions, func(v metadata.FunctionInfo) *metadata.AvailabilityInfo { return v.Availability })

	return r
}

func (r *Report) add(c Change) {
	r.Changes = append(r.Changes, c)
}

func compareSection[T any](r *Report, section string, old, new map[string]T, avail func(T) *metadata.AvailabilityInfo) {
	names := stringset.New()
	for name := range old {
		names.Add(name)
	}
	for name := range new {
		names.Add(name)
	}

	for _, name := range names.Elements() {
		before, inOld := old[name]
		after, inNew := new[name]

		switch {
		case !inNew:
			r.add(Change{Section: section, Name: name, Kind: Removed, Severity: Breaking})
			continue
		case !inOld:
			r.add(Change{Section: section, Name: name, Kind: Added, Severity: Compatible})
			continue
		}

		a, b := avail(before), avail(after)
		switch {
		case !a.IsUnavailable() && b.IsUnavailable():
			r.add(Change{Section: section, Name: name, Kind: Unavailable, Severity: Breaking, Detail: message(b)})
		case !a.IsDeprecated() && b.IsDeprecated():
			r.add(Change{Section: section, Name: name, Kind: Deprecated, Severity: Informational, Detail: message(b)})
		case a.IsDeprecated() && !b.IsDeprecated():
			r.add(Change{Section: section, Name: name, Kind: Undeprecated, Severity: Informational})
		}

		if detail, sev := fieldChanges(before, after); len(detail) > 0 {
			r.add(Change{Section: section, Name: name, Kind: Changed, Severity: sev, Detail: detail})
		}
	}
}

func message(a *metadata.AvailabilityInfo) []string {
	if a == nil {
		return nil
	}
	var out []string
	if a.DeprecatedMessage != nil && *a.DeprecatedMessage != "" {
		out = append(out, *a.DeprecatedMessage)
	}
	if a.Suggestion != nil && *a.Suggestion != "" {
		out = append(out, "use "+*a.Suggestion)
	}
	return out
}

// ignoreAvailability leaves availability to the deprecation checks.
var ignoreAvailability = cmp.FilterPath(func(p cmp.Path) bool {
	sf, ok := p.Last().(cmp.StructField)
	return ok && sf.Name() == "Availability"
}, cmp.Ignore())

// fieldChanges describes the fields that differ between a and b.
func fieldChanges[T any](a, b T) ([]string, Severity) {
	var rep reporter
	cmp.Equal(a, b, ignoreAvailability, cmp.Reporter(&rep))
	return rep.diffs, rep.severity
}

// reporter collects the leaf differences cmp finds.
type reporter struct {
	path     cmp.Path
	diffs    []string
	severity Severity
}

func (r *reporter) PushStep(ps cmp.PathStep) {
	r.path = append(r.path, ps)
}

func (r *reporter) PopStep() {
	r.path = r.path[:len(r.path)-1]
}

func (r *reporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}

	vx, vy := r.path.Last().Values()
	field := rootField(r.path)
	name := pathName(r.path)

	var line string
	if x, y, ok := texts(vx, vy); ok && (field == "Expression" || field == "Definition") {
		line = fmt.Sprintf("%s: %s", name, textDiff(x, y))
	} else {
		line = fmt.Sprintf("%s: %s -> %s", name, format(vx), format(vy))
	}
	r.diffs = append(r.diffs, line)

	sev := Compatible
	if breakingFields.Contains(field) {
		sev = Breaking
	}
	r.severity = max(r.severity, sev)
}

// pathName renders p as Field.Sub[index].
func pathName(p cmp.Path) string {
	var sb strings.Builder
	for _, step := range p {
		switch s := step.(type) {
		case cmp.StructField:
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(s.Name())
		case cmp.SliceIndex:
			ix, iy := s.SplitKeys()
			if iy < 0 {
				iy = ix
			}
			fmt.Fprintf(&sb, "[%d]", iy)
		case cmp.MapIndex:
			fmt.Fprintf(&sb, "[%v]", s.Key())
		}
	}
	return sb.String()
}

func rootField(p cmp.Path) string {
	for _, step := range p {
		if sf, ok := step.(cmp.StructField); ok {
			return sf.Name()
		}
	}
	return ""
}

func texts(vx, vy reflect.Value) (string, string, bool) {
	if !vx.IsValid() || !vy.IsValid() || vx.Kind() != reflect.String || vy.Kind() != reflect.String {
		return "", "", false
	}
	return vx.String(), vy.String(), true
}

// textDiff marks deleted text as [-old-] and inserted text as {+new+}.
func textDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(a, b, false))

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&sb, "[-%s-]", d.Text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&sb, "{+%s+}", d.Text)
		default:
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}

func format(v reflect.Value) string {
	if !v.IsValid() {
		return "none"
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "none"
		}
		v = v.Elem()
	}
	if !v.CanInterface() {
		return v.String()
	}
	switch x := v.Interface().(type) {
	case fmt.Stringer:
		return x.String()
	case string:
		return fmt.Sprintf("%q", x)
	}
	return fmt.Sprintf("%+v", v.Interface())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
