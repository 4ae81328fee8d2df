package docgen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/objc-metadata/metadata"
)

func fixture() *metadata.FrameworkMetadata {
	md := metadata.NewFrameworkMetadata("x86_64", "arm64")
	md.SDKVersion = metadata.Ptr("14.2")

	md.EnumType["Options"] = metadata.EnumTypeInfo{
		Typestr:      "Q",
		Flags:        true,
		Availability: &metadata.AvailabilityInfo{Introduced: metadata.Ptr(100900)},
	}
	md.Enum["OptionB"] = metadata.EnumInfo{Value: metadata.Scalar[int64](4), EnumType: "Options"}
	md.Enum["OptionA"] = metadata.EnumInfo{Value: metadata.Scalar[int64](2), EnumType: "Options"}
	md.Enum["OptionSplit"] = metadata.EnumInfo{Value: metadata.Merged[int64](8, 16), EnumType: "Options"}
	md.Enum["loose"] = metadata.EnumInfo{Value: metadata.Scalar[int64](1)}
	md.Enum["hidden"] = metadata.EnumInfo{Value: metadata.Scalar[int64](9), EnumType: "Options", Ignore: true}

	md.Externs["kName"] = metadata.ExternInfo{Typestr: metadata.Scalar("@"), TypeName: metadata.Ptr("NSString")}
	md.Externs["kCount"] = metadata.ExternInfo{
		Typestr:      metadata.Scalar("i"),
		Availability: &metadata.AvailabilityInfo{Deprecated: metadata.Ptr(101300), DeprecatedMessage: metadata.Ptr("use kTotal")},
	}

	md.Literals["kMask"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.StringLiteral("a|b"))}

	md.Functions["copy"] = metadata.FunctionInfo{
		Retval: metadata.ReturnInfo{Typestr: "v"},
		Args: []metadata.ArgInfo{
			{Typestr: "^v", Name: metadata.Ptr("dst")},
			{Typestr: "@", TypeName: metadata.Ptr("NSString")},
		},
		Variadic:     true,
		Availability: &metadata.AvailabilityInfo{Unavailable: metadata.Ptr(true), Suggestion: metadata.Ptr("use copy2")},
	}
	md.Classes["NSThing"] = metadata.ClassInfo{}
	return md
}

func render(t *testing.T, md *metadata.FrameworkMetadata) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "Fragments", md))
	return buf.String()
}

func TestWrite(t *testing.T) {
	doc := render(t, fixture())

	assert.True(t, strings.HasPrefix(doc, "# Fragments\n\nReference for the Fragments framework, SDK 14.2 (arm64, x86_64).\n"))

	t.Run("classes", func(t *testing.T) {
		assert.Contains(t, doc, "## Classes\n\n| Class | Availability |\n|---|---|\n| NSThing | - |\n")
		assert.NotContains(t, doc, "## Protocols")
	})

	t.Run("enumerations", func(t *testing.T) {
		assert.Contains(t, doc, "### Options (option set)\n\nIntroduced in macOS 10.9.\n")
		assert.Contains(t, doc, "| OptionA | 2 | - |\n| OptionB | 4 | - |\n| OptionSplit | x86_64: 8, arm64: 16 | - |\n")
		assert.NotContains(t, doc, "hidden")

		anon := strings.Index(doc, "### Anonymous enumerations")
		require.Greater(t, anon, strings.Index(doc, "### Options"))
		assert.Contains(t, doc[anon:], "| loose | 1 | - |")
	})

	t.Run("externs", func(t *testing.T) {
		assert.Contains(t, doc, "### NSString\n\n| Name | Type encoding | Availability |\n|---|---|---|\n| kName | `@` | - |\n")
		assert.Contains(t, doc, "### Other\n")
		assert.Contains(t, doc, "| kCount | `i` | Deprecated in macOS 10.13: use kTotal. |")
	})

	t.Run("constants", func(t *testing.T) {
		assert.Contains(t, doc, `| kMask | "a\|b" | - |`)
	})

	t.Run("functions", func(t *testing.T) {
		assert.Contains(t, doc, "### copy\n\n```\ncopy(dst ^v, NSString, ...) -> v\n```\n\nUnavailable, use copy2.\n")
	})
}

func TestWriteEmpty(t *testing.T) {
	doc := render(t, metadata.NewFrameworkMetadata())

	assert.Equal(t, "# Fragments\n\nReference for the Fragments framework, SDK unknown ().\n", doc)
}

func TestAvailability(t *testing.T) {
	tests := []struct {
		name string
		in   *metadata.AvailabilityInfo
		want string
	}{
		{"nil", nil, ""},
		{"empty", &metadata.AvailabilityInfo{}, ""},
		{"introduced", &metadata.AvailabilityInfo{Introduced: metadata.Ptr(1006)}, "Introduced in macOS 10.6."},
		{
			"introduced and deprecated",
			&metadata.AvailabilityInfo{Introduced: metadata.Ptr(1006), Deprecated: metadata.Ptr(100900)},
			"Introduced in macOS 10.6. Deprecated in macOS 10.9.",
		},
		{"to be deprecated", &metadata.AvailabilityInfo{Deprecated: metadata.Ptr(metadata.ToBeDeprecated)}, "Deprecated in macOS (to be deprecated)."},
		{"unavailable", &metadata.AvailabilityInfo{Unavailable: metadata.Ptr(true)}, "Unavailable."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Availability(tt.in))
		})
	}
}

func TestSignature(t *testing.T) {
	kandr := metadata.FunctionInfo{Retval: metadata.ReturnInfo{Typestr: "i"}, Variadic: true}
	assert.Equal(t, "kandr_function() -> i", Signature("kandr_function", kandr))

	fn := metadata.FunctionInfo{
		Retval: metadata.ReturnInfo{Typestr: "f", TypeName: metadata.Ptr("CGFloat")},
		Args:   []metadata.ArgInfo{{Typestr: "i", Name: metadata.Ptr("a")}},
	}
	assert.Equal(t, "function2(a i) -> CGFloat", Signature("function2", fn))
}
