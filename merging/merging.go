// Package merging combines the raw per-architecture scans of a framework
// and its exceptions file into one set of metadata.
package merging

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"github.com/pkg/errors"

	"github.com/ardanlabs/objc-metadata/metadata"
)

var (
	// ErrConflict is returned when scans disagree in a way that cannot be
	// expressed as a per-architecture value.
	ErrConflict = errors.New("conflicting scan values")

	ErrNoScans = errors.New("no scans to merge")
)

type section[T any] struct {
	arch  string
	items map[string]T
}

func sections[T any](infos []*metadata.FrameworkMetadata, pick func(*metadata.FrameworkMetadata) map[string]T) []section[T] {
	out := make([]section[T], 0, len(infos))
	for _, info := range infos {
		out = append(out, section[T]{arch: info.Arch(), items: pick(info)})
	}
	return out
}

func keys[T any](secs []section[T]) []string {
	all := stringset.New()
	for _, s := range secs {
		for k := range s.items {
			all.Add(k)
		}
	}
	return all.Elements()
}

// latest returns the record of the last scan that has key.
func latest[T any](secs []section[T], key string) T {
	var v T
	for _, s := range secs {
		if item, ok := s.items[key]; ok {
			v = item
		}
	}
	return v
}

// override describes how the exceptions of one section apply.
type override[T, X any] struct {
	exceptions map[string]X
	ignore     func(X) bool
	apply      func(X, T) T
}

func (o override[T, X]) lookup(key string) (X, bool) {
	x, ok := o.exceptions[key]
	return x, ok
}

// mergeLatest takes the record of the last scan for every key.
func mergeLatest[T, X any](secs []section[T], o override[T, X]) map[string]T {
	result := make(map[string]T)
	for _, key := range keys(secs) {
		v := latest(secs, key)
		if x, ok := o.lookup(key); ok {
			if o.ignore(x) {
				continue
			}
			v = o.apply(x, v)
		}
		result[key] = v
	}
	return result
}

// mergeSame is mergeLatest for records whose text must be identical in
// every scan unless an exception replaces it.
func mergeSame[T, X any](name string, secs []section[T], o override[T, X], text func(T) string, replaced func(X) bool) (map[string]T, error) {
	for _, key := range keys(secs) {
		if x, ok := o.lookup(key); ok && (o.ignore(x) || replaced(x)) {
			continue
		}

		var first *section[T]
		for i := range secs {
			item, ok := secs[i].items[key]
			if !ok {
				continue
			}
			if first == nil {
				first = &secs[i]
				continue
			}
			if want := text(first.items[key]); text(item) != want {
				return nil, errors.Wrapf(ErrConflict, "%s %s: %q on %s, %q on %s",
					name, key, want, first.arch, text(item), secs[i].arch)
			}
		}
	}
	return mergeLatest(secs, o), nil
}

// mergeByArch merges a field that may legitimately differ between the
// x86_64 and arm64 scans. The other fields come from the last scan.
func mergeByArch[T, X any, V comparable](
	name string,
	secs []section[T],
	o override[T, X],
	replaced func(X) bool,
	get func(T) metadata.PerArch[V],
	set func(T, metadata.PerArch[V]) T,
) (map[string]T, error) {
	result := make(map[string]T)
	for _, key := range keys(secs) {
		x, hasX := o.lookup(key)
		if hasX && o.ignore(x) {
			continue
		}

		v := latest(secs, key)
		if !hasX || !replaced(x) {
			values := make(map[string]V)
			for _, s := range secs {
				if item, ok := s.items[key]; ok {
					values[s.arch] = get(item).For(s.arch)
				}
			}
			merged, err := perArch(values)
			if err != nil {
				return nil, errors.Wrapf(err, "%s %s", name, key)
			}
			v = set(v, merged)
		}
		if hasX {
			v = o.apply(x, v)
		}
		result[key] = v
	}
	return result, nil
}

// perArch groups the value seen on each architecture. One distinct value
// gives a scalar, two give a MergedInfo when they split along the
// x86_64 / arm64 line.
func perArch[V comparable](values map[string]V) (metadata.PerArch[V], error) {
	seen := stringset.New()
	for arch := range values {
		seen.Add(arch)
	}
	archs := seen.Elements()

	var distinct []V
	groups := make(map[V][]string)
	for _, arch := range archs {
		v := values[arch]
		if _, ok := groups[v]; !ok {
			distinct = append(distinct, v)
		}
		groups[v] = append(groups[v], arch)
	}

	switch len(distinct) {
	case 1:
		return metadata.Scalar(distinct[0]), nil
	case 2:
		first, second := distinct[0], distinct[1]
		switch {
		case allARM(groups[first], false) && allARM(groups[second], true):
			return metadata.Merged(first, second), nil
		case allARM(groups[first], true) && allARM(groups[second], false):
			return metadata.Merged(second, first), nil
		}
	}

	var desc []string
	for _, v := range distinct {
		desc = append(desc, fmt.Sprintf("%v on %s", v, strings.Join(groups[v], ",")))
	}
	return metadata.PerArch[V]{}, errors.Wrap(ErrConflict, strings.Join(desc, "; "))
}

func allARM(archs []string, arm bool) bool {
	for _, a := range archs {
		if strings.HasPrefix(a, metadata.ArchARM64) != arm {
			return false
		}
	}
	return true
}

func noOverride[T any]() override[T, struct{}] {
	return override[T, struct{}]{
		ignore: func(struct{}) bool { return false },
		apply:  func(_ struct{}, v T) T { return v },
	}
}

// MergeFrameworkMetadata merges infos, ordered from oldest to newest scan,
// with the exceptions in ex. A nil ex is treated as empty.
func MergeFrameworkMetadata(ex *metadata.ExceptionData, infos ...*metadata.FrameworkMetadata) (*metadata.FrameworkMetadata, error) {
	if len(infos) == 0 {
		return nil, ErrNoScans
	}
	if ex == nil {
		ex = metadata.NewExceptionData()
	}

	result := metadata.NewFrameworkMetadata()
	for _, info := range infos {
		result.Architectures.Update(info.Architectures.Set)
		if info.SDKVersion != nil {
			result.SDKVersion = info.SDKVersion
		}
	}

	var err error

	result.EnumType = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.EnumTypeInfo { return md.EnumType }),
		override[metadata.EnumTypeInfo, metadata.EnumTypeException]{
			exceptions: ex.EnumType,
			ignore:     func(x metadata.EnumTypeException) bool { return x.Ignore },
			apply:      metadata.EnumTypeException.Apply,
		})

	result.Enum, err = mergeByArch("enum",
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.EnumInfo { return md.Enum }),
		override[metadata.EnumInfo, metadata.EnumException]{
			exceptions: ex.Enum,
			ignore:     func(x metadata.EnumException) bool { return x.Ignore },
			apply:      metadata.EnumException.Apply,
		},
		func(x metadata.EnumException) bool { return x.Value != nil },
		func(v metadata.EnumInfo) metadata.PerArch[int64] { return v.Value },
		func(v metadata.EnumInfo, p metadata.PerArch[int64]) metadata.EnumInfo {
			v.Value = p
			return v
		},
	)
	if err != nil {
		return nil, err
	}

	result.Structs = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.StructInfo { return md.Structs }),
		noOverride[metadata.StructInfo]())

	result.Externs, err = mergeByArch("extern",
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.ExternInfo { return md.Externs }),
		override[metadata.ExternInfo, metadata.ExternException]{
			exceptions: ex.Externs,
			ignore:     func(x metadata.ExternException) bool { return x.Ignore },
			apply:      metadata.ExternException.Apply,
		},
		func(x metadata.ExternException) bool { return x.Typestr != nil },
		func(v metadata.ExternInfo) metadata.PerArch[string] { return v.Typestr },
		func(v metadata.ExternInfo, p metadata.PerArch[string]) metadata.ExternInfo {
			v.Typestr = p
			return v
		},
	)
	if err != nil {
		return nil, err
	}

	result.CFTypes = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.CFTypeInfo { return md.CFTypes }),
		noOverride[metadata.CFTypeInfo]())

	result.Literals, err = mergeByArch("literal",
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.LiteralInfo { return md.Literals }),
		override[metadata.LiteralInfo, metadata.LiteralException]{
			exceptions: ex.Literals,
			ignore:     func(x metadata.LiteralException) bool { return x.Ignore },
			apply:      metadata.LiteralException.Apply,
		},
		func(x metadata.LiteralException) bool { return x.Value != nil },
		func(v metadata.LiteralInfo) metadata.PerArch[metadata.Literal] { return v.Value },
		func(v metadata.LiteralInfo, p metadata.PerArch[metadata.Literal]) metadata.LiteralInfo {
			v.Value = p
			return v
		},
	)
	if err != nil {
		return nil, err
	}

	result.FormalProtocols = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.ProtocolInfo { return md.FormalProtocols }),
		noOverride[metadata.ProtocolInfo]())
	result.InformalProtocols = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.ProtocolInfo { return md.InformalProtocols }),
		noOverride[metadata.ProtocolInfo]())
	result.Classes = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.ClassInfo { return md.Classes }),
		noOverride[metadata.ClassInfo]())

	result.Aliases = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.AliasInfo { return md.Aliases }),
		override[metadata.AliasInfo, metadata.AliasException]{
			exceptions: ex.Aliases,
			ignore:     func(x metadata.AliasException) bool { return x.Ignore },
			apply:      metadata.AliasException.Apply,
		})

	result.Expressions, err = mergeSame("expression",
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.ExpressionInfo { return md.Expressions }),
		override[metadata.ExpressionInfo, metadata.ExpressionException]{
			exceptions: ex.Expressions,
			ignore:     func(x metadata.ExpressionException) bool { return x.Ignore },
			apply:      metadata.ExpressionException.Apply,
		},
		func(v metadata.ExpressionInfo) string { return v.Expression },
		func(x metadata.ExpressionException) bool { return x.Expression != nil },
	)
	if err != nil {
		return nil, err
	}

	result.FuncMacros, err = mergeSame("function macro",
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.FunctionMacroInfo { return md.FuncMacros }),
		override[metadata.FunctionMacroInfo, metadata.FunctionMacroException]{
			exceptions: ex.FuncMacros,
			ignore:     func(x metadata.FunctionMacroException) bool { return x.Ignore },
			apply:      metadata.FunctionMacroException.Apply,
		},
		func(v metadata.FunctionMacroInfo) string { return v.Definition },
		func(x metadata.FunctionMacroException) bool { return x.Definition != nil },
	)
	if err != nil {
		return nil, err
	}

	result.Functions = mergeLatest(
		sections(infos, func(md *metadata.FrameworkMetadata) map[string]metadata.FunctionInfo { return md.Functions }),
		override[metadata.FunctionInfo, metadata.FunctionException]{
			exceptions: ex.Functions,
			ignore:     func(x metadata.FunctionException) bool { return x.Ignore },
			apply:      metadata.FunctionException.Apply,
		})

	return result, nil
}

// SortScans orders raw scans from oldest to newest SDK, then by
// architecture.
func SortScans(infos []*metadata.FrameworkMetadata) {
	sort.SliceStable(infos, func(i, j int) bool {
		if c := compareVersions(sdk(infos[i]), sdk(infos[j])); c != 0 {
			return c < 0
		}
		return infos[i].Arch() < infos[j].Arch()
	})
}

func sdk(md *metadata.FrameworkMetadata) string {
	if md.SDKVersion == nil {
		return ""
	}
	return *md.SDKVersion
}

func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LoadAndMerge reads the raw scans and the exceptions file and merges
// them. A missing exceptions file counts as empty.
func LoadAndMerge(exceptionsPath string, rawPaths ...string) (*metadata.FrameworkMetadata, error) {
	if len(rawPaths) == 0 {
		return nil, ErrNoScans
	}

	ex := metadata.NewExceptionData()
	if exceptionsPath != "" {
		loaded, err := metadata.LoadExceptions(exceptionsPath)
		switch {
		case err == nil:
			ex = loaded
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	infos := make([]*metadata.FrameworkMetadata, 0, len(rawPaths))
	for _, path := range rawPaths {
		md, err := metadata.LoadFramework(path)
		if err != nil {
			return nil, err
		}
		infos = append(infos, md)
	}
	SortScans(infos)

	return MergeFrameworkMetadata(ex, infos...)
}
