package generator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/objc-metadata/metadata"
)

func sample() *metadata.FrameworkMetadata {
	md := metadata.NewFrameworkMetadata("arm64", "x86_64")
	md.SDKVersion = metadata.Ptr("14.2")

	md.EnumType["BasicOptions"] = metadata.EnumTypeInfo{Typestr: "Q", Flags: true}
	md.EnumType["ValuedEnum"] = metadata.EnumTypeInfo{
		Typestr:      "q",
		Availability: &metadata.AvailabilityInfo{Introduced: metadata.Ptr(100900)},
	}
	md.EnumType["SomeStringEnum"] = metadata.EnumTypeInfo{Typestr: "@"}

	md.Enum["BasicOptionNone"] = metadata.EnumInfo{Value: metadata.Scalar[int64](0), EnumType: "BasicOptions"}
	md.Enum["BasicOptionAll"] = metadata.EnumInfo{Value: metadata.Scalar[int64](-1), EnumType: "BasicOptions"}
	md.Enum["ValuedA"] = metadata.EnumInfo{Value: metadata.Scalar[int64](5), EnumType: "ValuedEnum"}
	md.Enum["ValuedB"] = metadata.EnumInfo{
		Value:        metadata.Scalar[int64](6),
		EnumType:     "ValuedEnum",
		Availability: &metadata.AvailabilityInfo{Deprecated: metadata.Ptr(101300), DeprecatedMessage: metadata.Ptr("Use ValuedA.")},
	}
	md.Enum["ValuedSplit"] = metadata.EnumInfo{Value: metadata.Merged[int64](7, 8), EnumType: "ValuedEnum"}
	md.Enum["kAnonymous"] = metadata.EnumInfo{Value: metadata.Scalar[int64](3)}
	md.Enum["kHidden"] = metadata.EnumInfo{Value: metadata.Scalar[int64](4), Ignore: true}

	md.Externs["StringEnumA"] = metadata.ExternInfo{Typestr: metadata.Scalar("@"), TypeName: metadata.Ptr("SomeStringEnum")}
	md.Externs["kSplitExtern"] = metadata.ExternInfo{Typestr: metadata.Merged("q", "i")}

	md.Literals["kName"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.StringLiteral("fragments")), Unicode: true}
	md.Literals["kRatio"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.FloatLiteral(2.5))}
	md.Literals["kNothing"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.NullLiteral())}
	md.Literals["kWidth"] = metadata.LiteralInfo{Value: metadata.Merged(metadata.IntLiteral(64), metadata.IntLiteral(32))}

	md.Aliases["kOtherName"] = metadata.AliasInfo{Alias: "kName"}
	md.Aliases["kDangling"] = metadata.AliasInfo{Alias: "kMissing"}

	md.Functions["function1"] = metadata.FunctionInfo{Retval: metadata.ReturnInfo{Typestr: "v"}, Args: []metadata.ArgInfo{}}
	md.Functions["function4"] = metadata.FunctionInfo{
		Retval:   metadata.ReturnInfo{Typestr: "i"},
		Args:     []metadata.ArgInfo{{Typestr: "i"}, {Typestr: "*"}},
		Variadic: true,
	}

	return md
}

func TestGenerate(t *testing.T) {
	files, err := New("fragments", "Fragments", sample()).Generate()
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"framework.go", "enums.go", "constants.go", "symbols.go"}, names)

	for name, src := range files {
		assert.Contains(t, src, "// Code generated by objc-metadata. DO NOT EDIT.", name)
		assert.Contains(t, src, "package fragments\n", name)
	}

	t.Run("framework", func(t *testing.T) {
		src := files["framework.go"]
		assert.Contains(t, src, `const FrameworkPath = "/System/Library/Frameworks/Fragments.framework/Fragments"`)
		assert.Contains(t, src, `const SDKVersion = "14.2"`)
		assert.Contains(t, src, `var Architectures = []string{"arm64", "x86_64"}`)
	})

	t.Run("enums", func(t *testing.T) {
		src := files["enums.go"]
		assert.Contains(t, src, "type BasicOptions uint64\n")
		assert.Contains(t, src, "// BasicOptions values are bit flags and can be combined.")
		assert.Contains(t, src, "BasicOptionAll  BasicOptions = 18446744073709551615")
		assert.Contains(t, src, "// ValuedEnum is the ValuedEnum enum.\n// Available since macOS 10.9.\ntype ValuedEnum int64")
		assert.Contains(t, src, "\t// Deprecated: deprecated in macOS 10.13. Use ValuedA.\n\tValuedB ValuedEnum = 6")
		assert.Contains(t, src, "ValuedSplit = archValue[ValuedEnum](7, 8)")
		assert.Contains(t, src, "type SomeStringEnum string")
		assert.Contains(t, src, `StringEnumASymbol SomeStringEnum = "StringEnumA"`)
		assert.Contains(t, src, "KAnonymous = 3")
		assert.NotContains(t, src, "KHidden")
	})

	t.Run("constants", func(t *testing.T) {
		src := files["constants.go"]
		assert.Contains(t, src, `KName    = "fragments"`)
		assert.Contains(t, src, "KRatio   = 2.5")
		assert.Contains(t, src, "KNothing = uintptr(0)")
		assert.Contains(t, src, "KWidth = archValue(int64(64), int64(32))")
		assert.Contains(t, src, "KOtherName = KName")
		assert.NotContains(t, src, "KDangling")
	})

	t.Run("symbols", func(t *testing.T) {
		src := files["symbols.go"]
		assert.Contains(t, src, `"kSplitExtern": {Typestr: archValue("q", "i"), TypeName: "", Introduced: 0, Deprecated: 0},`)
		assert.Contains(t, src, `"function1": {Retval: "v", Args: []string{}, Variadic: false, Introduced: 0, Deprecated: 0},`)
		assert.Contains(t, src, `"function4": {Retval: "i", Args: []string{"i", "*"}, Variadic: true, Introduced: 0, Deprecated: 0},`)
	})
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "compiled", "fragments")

	paths, err := New("fragments", "Fragments", sample()).WriteFiles(dir)
	require.NoError(t, err)

	want := []string{
		filepath.Join(dir, "constants.go"),
		filepath.Join(dir, "enums.go"),
		filepath.Join(dir, "framework.go"),
		filepath.Join(dir, "symbols.go"),
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("WriteFiles mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, "enums.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "type ValuedEnum int64")
}

func TestToGoName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"function1", "Function1"},
		{"kCFStringEncodingUTF8", "KCFStringEncodingUTF8"},
		{"NS_ENUM_VALUE", "NSENUMVALUE"},
		{"basic_enum_value", "BasicEnumValue"},
		{"_private", "Private"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, toGoName(tt.in), tt.in)
	}
}

func TestTypestrToGoType(t *testing.T) {
	tests := map[string]string{
		"q":            "int64",
		"Q":            "uint64",
		"i":            "int32",
		"rI":           "uint32",
		"Z":            "bool",
		"@":            "string",
		"^v":           "uintptr",
		"{CGPoint=dd}": "uintptr",
	}

	for in, want := range tests {
		assert.Equal(t, want, typestrToGoType(in), in)
	}
}
