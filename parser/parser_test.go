package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fragments = "../testdata/fragments.framework"

func parseFixture(t *testing.T, name string) *Header {
	t.Helper()

	p := New(Options{Framework: "fragments"})
	hdr, err := p.ParseFile(filepath.Join(fragments, name))
	require.NoError(t, err)
	return hdr
}

func findFunction(hdr *Header, name string) (Function, bool) {
	for _, fn := range hdr.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

func findEnum(hdr *Header, name string) (Enum, bool) {
	for _, e := range hdr.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return Enum{}, false
}

func findVariable(hdr *Header, name string) (Variable, bool) {
	for _, v := range hdr.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

func findTypeDef(hdr *Header, name string) (TypeDef, bool) {
	for _, td := range hdr.TypeDefs {
		if td.Name == name {
			return td, true
		}
	}
	return TypeDef{}, false
}

func TestParseFunctions(t *testing.T) {
	hdr := parseFixture(t, "basic_function.h")

	assert.Equal(t, []string{"<Cocoa/Cocoa.h>"}, hdr.Includes)
	require.Len(t, hdr.Functions, 8)

	t.Run("void parameter list", func(t *testing.T) {
		fn, ok := findFunction(hdr, "function1")
		require.True(t, ok)
		assert.Equal(t, "int", fn.ReturnType.Name)
		assert.Empty(t, fn.Params)
		assert.False(t, fn.IsVariadic)
		assert.True(t, fn.IsExtern)
	})

	t.Run("named and unnamed parameters", func(t *testing.T) {
		fn, ok := findFunction(hdr, "function2")
		require.True(t, ok)
		assert.Equal(t, "float", fn.ReturnType.Name)
		require.Len(t, fn.Params, 1)
		assert.Equal(t, "a", fn.Params[0].Name)
		assert.Equal(t, "int", fn.Params[0].Type.Name)

		fn, ok = findFunction(hdr, "function3")
		require.True(t, ok)
		assert.True(t, fn.ReturnType.IsVoid())
		require.Len(t, fn.Params, 2)
		assert.Equal(t, "", fn.Params[0].Name)
		assert.Equal(t, "float", fn.Params[1].Type.Name)
	})

	t.Run("variadic", func(t *testing.T) {
		fn, ok := findFunction(hdr, "vararg_function")
		require.True(t, ok)
		assert.True(t, fn.IsVariadic)
		assert.False(t, fn.IsKandR)
		assert.Len(t, fn.Params, 1)
	})

	t.Run("K&R prototype", func(t *testing.T) {
		fn, ok := findFunction(hdr, "kandr_function")
		require.True(t, ok)
		assert.True(t, fn.IsKandR)
		assert.True(t, fn.IsVariadic)
		assert.Empty(t, fn.Params)
	})

	t.Run("inline", func(t *testing.T) {
		fn, ok := findFunction(hdr, "static_inline_function")
		require.True(t, ok)
		assert.True(t, fn.IsInline)
		assert.True(t, fn.IsStatic)

		fn, ok = findFunction(hdr, "extern_inline_function")
		require.True(t, ok)
		assert.True(t, fn.IsInline)
		assert.True(t, fn.IsExtern)
		assert.Equal(t, "double", fn.ReturnType.Name)
	})

	t.Run("private names are still parsed", func(t *testing.T) {
		_, ok := findFunction(hdr, "__private_function")
		assert.True(t, ok)
	})
}

func TestParseEnums(t *testing.T) {
	hdr := parseFixture(t, "enum.h")

	t.Run("NS_ENUM with implicit values", func(t *testing.T) {
		e, ok := findEnum(hdr, "BasicEnum")
		require.True(t, ok)
		require.NotNil(t, e.Underlying)
		assert.Equal(t, "NSInteger", e.Underlying.Name)
		require.Len(t, e.Values, 3)
		for i, v := range e.Values {
			require.NotNil(t, v.Value, v.Name)
			assert.Equal(t, int64(i), *v.Value, v.Name)
		}
	})

	t.Run("NS_OPTIONS", func(t *testing.T) {
		e, ok := findEnum(hdr, "BasicOptions")
		require.True(t, ok)
		assert.True(t, e.IsOptions)

		want := map[string]int64{"Option1": 2, "Option2": 4, "Option3": 8, "Option8": 256}
		require.Len(t, e.Values, len(want))
		for _, v := range e.Values {
			require.NotNil(t, v.Value, v.Name)
			assert.Equal(t, want[v.Name], *v.Value, v.Name)
		}
		assert.Equal(t, "1<<8", e.Values[3].Expr)
	})

	t.Run("label availability", func(t *testing.T) {
		e, ok := findEnum(hdr, "DeprecatedEnumValue")
		require.True(t, ok)
		require.Len(t, e.Values, 2)

		assert.True(t, e.Values[0].Availability.IsZero())
		pa, ok := e.Values[1].Availability.Platform("macos")
		require.True(t, ok)
		assert.Equal(t, &Version{Major: 10, Minor: 6}, pa.Introduced)
		assert.Equal(t, &Version{Major: 10, Minor: 9}, pa.Deprecated)
		assert.Equal(t, "", pa.Message)
	})

	t.Run("trailing availability applies to labels", func(t *testing.T) {
		e, ok := findEnum(hdr, "DeprecatedEnum")
		require.True(t, ok)

		pa, ok := e.Availability.Platform("macos")
		require.True(t, ok)
		assert.Equal(t, &Version{Major: 10, Minor: 0}, pa.Introduced)
		assert.Equal(t, &Version{Major: 10, Minor: 11}, pa.Deprecated)

		require.Len(t, e.Values, 1)
		pa, ok = e.Values[0].Availability.Platform("macos")
		require.True(t, ok)
		assert.Equal(t, &Version{Major: 10, Minor: 11}, pa.Deprecated)
	})

	t.Run("C enums", func(t *testing.T) {
		e, ok := findEnum(hdr, "CUnnamedEnum")
		require.True(t, ok)
		assert.Equal(t, "", e.Tag)
		assert.Len(t, e.Values, 2)

		e, ok = findEnum(hdr, "CNamedEnum")
		require.True(t, ok)
		assert.Equal(t, "C_Named_Enum", e.Tag)

		e, ok = findEnum(hdr, "")
		require.True(t, ok)
		require.Len(t, e.Values, 2)
		assert.Equal(t, "value_in_unnamed_enum2", e.Values[1].Name)
	})
}

func TestParseEnumValues(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []int64
	}{
		{"implicit from zero", "typedef NS_ENUM(NSInteger, E) { A, B, C };", []int64{0, 1, 2}},
		{"continue after explicit", "typedef NS_ENUM(NSInteger, E) { A = 5, B, C };", []int64{5, 6, 7}},
		{"continue after negative", "typedef NS_ENUM(NSInteger, E) { A = -1, B };", []int64{-1, 0}},
		{"reference earlier label", "#define N 16\ntypedef NS_ENUM(NSInteger, E) { A = N, B = A | 1 };", []int64{16, 17}},
		{"shift expressions", "typedef NS_OPTIONS(NSUInteger, E) { A = 1 << 0, B = 1 << 4, C = A | B };", []int64{1, 16, 17}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr, err := Parse(tt.src)
			require.NoError(t, err)

			e, ok := findEnum(hdr, "E")
			require.True(t, ok)

			var got []int64
			for _, v := range e.Values {
				require.NotNil(t, v.Value, v.Name)
				got = append(got, *v.Value)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuplicateEnum(t *testing.T) {
	hdr, err := Parse(`
typedef NS_ENUM(NSInteger, Dup) { DupFirst };
typedef NS_ENUM(NSInteger, Dup) { DupSecond };
enum { Anon1 };
enum { Anon2 };
`)
	require.NoError(t, err)

	var dups, anon []Enum
	for _, e := range hdr.Enums {
		switch e.Name {
		case "Dup":
			dups = append(dups, e)
		case "":
			anon = append(anon, e)
		}
	}
	require.Len(t, dups, 1)
	assert.Equal(t, "DupFirst", dups[0].Values[0].Name)
	assert.Len(t, anon, 2)
}

func TestParseStringEnum(t *testing.T) {
	hdr := parseFixture(t, "strenum.h")

	require.Len(t, hdr.StringEnums, 1)
	se := hdr.StringEnums[0]
	assert.Equal(t, "SomeStringEnum", se.Name)
	assert.Equal(t, "NSString", se.Type.Name)
	assert.Equal(t, 1, se.Type.Pointer)
	assert.False(t, se.Extensible)

	require.Len(t, hdr.Variables, 3)
	for _, v := range hdr.Variables {
		assert.Equal(t, "SomeStringEnum", v.Type.Name, v.Name)
		assert.True(t, v.IsExtern, v.Name)
	}

	v, _ := findVariable(hdr, "SomeStringValue3")
	pa, ok := v.Availability.Platform("macos")
	require.True(t, ok)
	assert.Equal(t, "message", pa.Message)
	assert.Equal(t, &Version{Major: 10, Minor: 8}, pa.Deprecated)
}

func TestParseStaticConst(t *testing.T) {
	hdr := parseFixture(t, "staticconst.h")

	v, ok := findVariable(hdr, "StaticFloat")
	require.True(t, ok)
	assert.True(t, v.IsStatic)
	assert.True(t, v.Type.IsConst)
	assert.Equal(t, "2.5", v.InitText())

	v, ok = findVariable(hdr, "available")
	require.True(t, ok)
	assert.Equal(t, "99", v.InitText())
	pa, ok := v.Availability.Platform("macos")
	require.True(t, ok)
	assert.Equal(t, &Version{Major: 10, Minor: 13}, pa.Introduced)

	v, ok = findVariable(hdr, "deprecated_alias")
	require.True(t, ok)
	assert.Equal(t, "NSWindowSharingReadWrite", v.InitText())
}

func TestParseDefines(t *testing.T) {
	hdr := parseFixture(t, "defines.h")

	byName := make(map[string]Define)
	for _, d := range hdr.Defines {
		byName[d.Name] = d
	}

	assert.Equal(t, "42", byName["INT_VALUE"].Text)
	assert.Equal(t, "@\"moon\"", byName["OBJSTRING"].Text)
	assert.Equal(t, "((void*)0)", byName["CASTED_NULL"].Text)

	d := byName["DIFFERENCE"]
	assert.True(t, d.IsFunctionLike)
	assert.Equal(t, []string{"a", "b"}, d.Params)

	d, ok := byName["FRAGMENTS_EMPTY"]
	require.True(t, ok)
	assert.Empty(t, d.Body)
}

func TestParseErrors(t *testing.T) {
	p := New(Options{Framework: "fragments"})

	_, err := p.ParseFile(filepath.Join(fragments, "syntax_error.h"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyntax), err.Error())

	var perr *ParsingError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Pos.Line)

	_, err = p.ParseFile(filepath.Join(fragments, "missing_include.h"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingInclude), err.Error())

	_, err = p.ParseHeaders(context.Background(), "Nowhere/Nowhere.h")
	assert.True(t, errors.Is(err, ErrMissingInclude))
}

func TestParseErrorAtEndOfInput(t *testing.T) {
	_, err := Parse("typedef NS_ENUM(NSInteger, E) {")
	require.Error(t, err)

	var perr *ParsingError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, ErrSyntax))
	assert.Equal(t, "<input>", perr.Pos.File)
	assert.Equal(t, 1, perr.Pos.Line)
	assert.Greater(t, perr.Pos.Col, 1)
}

func TestParseMacroArity(t *testing.T) {
	_, err := Parse("#define M(a, b) a b\nextern M(int);\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyntax), err.Error())
	assert.Contains(t, err.Error(), "macro M needs 2 arguments, got 1")

	_, err = Parse("#define M(a, b) a b\nextern M(int, x, y);\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 3")

	hdr, err := Parse("#define V(t, ...) t\n#define Z() int\nextern V(int) x;\nextern Z() y;\n")
	require.NoError(t, err)
	_, ok := findVariable(hdr, "x")
	assert.True(t, ok)
	_, ok = findVariable(hdr, "y")
	assert.True(t, ok)
}

func TestParseStrictIncludes(t *testing.T) {
	p := New(Options{Framework: "fragments", StrictIncludes: true})

	_, err := p.ParseFile(filepath.Join(fragments, "enum.h"))
	assert.True(t, errors.Is(err, ErrMissingInclude))
}

func TestParseFrameworkIncludes(t *testing.T) {
	root := t.TempDir()
	headers := filepath.Join(root, "Demo.framework", "Headers")
	require.NoError(t, os.MkdirAll(headers, 0o755))

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(headers, name), []byte(content), 0o644))
	}
	write("Demo.h", "#import <Demo/Types.h>\n#include \"Functions.h\"\n")
	write("Types.h", "typedef int DemoInt;\n")
	write("Functions.h", "#import <Demo/Types.h>\nextern DemoInt demo_function(void);\n")

	p := New(Options{FrameworkPaths: []string{root}, Framework: "Demo"})
	hdr, err := p.ParseHeaders(context.Background(), "Demo/Demo.h")
	require.NoError(t, err)

	assert.Len(t, hdr.Files, 3)
	_, ok := findTypeDef(hdr, "DemoInt")
	assert.True(t, ok)
	fn, ok := findFunction(hdr, "demo_function")
	require.True(t, ok)
	assert.Equal(t, "DemoInt", fn.ReturnType.Name)
	assert.Equal(t, filepath.Join(headers, "Functions.h"), fn.Pos.File)
}

func TestParseDeclarators(t *testing.T) {
	hdr, err := Parse(`
typedef void (*Callback)(int code, void *info);
typedef void (^Handler)(NSError * _Nullable error);
extern int table[4];
extern const char * const names[];
extern id<NSCopying, NSCoding> copyable;
extern unsigned long long big_value;
extern void takes_callback(void (*fn)(int), int values[]);
`)
	require.NoError(t, err)

	td, ok := findTypeDef(hdr, "Callback")
	require.True(t, ok)
	assert.True(t, td.SourceType.IsFuncPtr)
	require.NotNil(t, td.SourceType.Signature)
	require.Len(t, td.SourceType.Signature.Params, 2)
	assert.Equal(t, 1, td.SourceType.Signature.Params[1].Type.Pointer)
	assert.True(t, td.SourceType.Signature.ReturnType.IsVoid())

	td, ok = findTypeDef(hdr, "Handler")
	require.True(t, ok)
	assert.True(t, td.SourceType.IsBlock)
	require.Len(t, td.SourceType.Signature.Params, 1)
	assert.Equal(t, Nullable, td.SourceType.Signature.Params[0].Type.Nullability)

	v, ok := findVariable(hdr, "table")
	require.True(t, ok)
	assert.True(t, v.Type.IsArray)
	assert.Equal(t, 4, v.Type.ArraySize)

	v, ok = findVariable(hdr, "names")
	require.True(t, ok)
	assert.True(t, v.Type.IsArray)
	assert.Equal(t, -1, v.Type.ArraySize)
	assert.True(t, v.Type.IsConst)
	assert.True(t, v.Type.IsConstPtr)

	v, ok = findVariable(hdr, "copyable")
	require.True(t, ok)
	assert.Equal(t, []string{"NSCopying", "NSCoding"}, v.Type.Protocols)

	v, ok = findVariable(hdr, "big_value")
	require.True(t, ok)
	assert.Equal(t, "long long", v.Type.Name)
	assert.True(t, v.Type.IsUnsigned)

	fn, ok := findFunction(hdr, "takes_callback")
	require.True(t, ok)
	require.Len(t, fn.Params, 2)
	assert.True(t, fn.Params[0].Type.IsFuncPtr)
	assert.Equal(t, 1, fn.Params[1].Type.Pointer)
	assert.False(t, fn.Params[1].Type.IsArray)
}

func TestParseStructs(t *testing.T) {
	hdr, err := Parse(`
typedef struct {
    double x, y;
} Point2D;
struct Tagged { int a; char *b; unsigned flag : 1; };
typedef struct __Opaque *OpaqueRef;
`)
	require.NoError(t, err)
	require.Len(t, hdr.Structs, 3)

	s := hdr.Structs[0]
	assert.Equal(t, "Point2D", s.Name)
	require.Len(t, s.Fields, 2)
	assert.Equal(t, "y", s.Fields[1].Name)
	assert.Equal(t, "double", s.Fields[1].Type.Name)

	s = hdr.Structs[1]
	assert.Equal(t, "Tagged", s.Tag)
	require.Len(t, s.Fields, 3)
	assert.Equal(t, 1, s.Fields[1].Type.Pointer)

	s = hdr.Structs[2]
	assert.True(t, s.IsOpaque)
	assert.Equal(t, "OpaqueRef", s.Name)
	assert.Equal(t, "__Opaque", s.Tag)
}

func TestParseNullabilityRegion(t *testing.T) {
	hdr, err := Parse(`
NS_ASSUME_NONNULL_BEGIN
extern NSString *inside_value;
extern NSString * _Nullable nullable_value;
extern NSString *inside_function(NSString *arg);
NS_ASSUME_NONNULL_END
extern NSString *outside_value;
`)
	require.NoError(t, err)

	v, _ := findVariable(hdr, "inside_value")
	assert.Equal(t, Nonnull, v.Type.Nullability)
	v, _ = findVariable(hdr, "nullable_value")
	assert.Equal(t, Nullable, v.Type.Nullability)
	v, _ = findVariable(hdr, "outside_value")
	assert.Equal(t, NullUnspecified, v.Type.Nullability)

	fn, ok := findFunction(hdr, "inside_function")
	require.True(t, ok)
	assert.Equal(t, Nonnull, fn.ReturnType.Nullability)
	assert.Equal(t, Nonnull, fn.Params[0].Type.Nullability)
}

func TestParseAvailability(t *testing.T) {
	hdr, err := Parse(`
extern int old_function(void) NS_AVAILABLE(10_5, 2_0);
extern int older_function(void) NS_DEPRECATED(10_0, 10_5, 2_0, 3_0);
extern int mac_function(void) AVAILABLE_MAC_OS_X_VERSION_10_6_AND_LATER;
extern int attr_function(void) __attribute__((availability(macos,introduced=10.8,deprecated=10.10,message="use other")));
extern int plain_deprecated(void) DEPRECATED_ATTRIBUTE;
API_AVAILABLE_BEGIN(macos(10.12))
extern int region_function(void);
extern int own_function(void) API_AVAILABLE(macos(10.14));
API_AVAILABLE_END
extern int unavailable_function(void) API_UNAVAILABLE(macos);
extern NSString *format_function(NSString *fmt, ...) NS_FORMAT_FUNCTION(1, 2) NS_RETURNS_RETAINED;
`)
	require.NoError(t, err)

	macos := func(name string) PlatformAvailability {
		t.Helper()
		fn, ok := findFunction(hdr, name)
		require.True(t, ok, name)
		pa, ok := fn.Availability.Platform("macos")
		require.True(t, ok, name)
		return pa
	}

	assert.Equal(t, &Version{Major: 10, Minor: 5}, macos("old_function").Introduced)
	assert.Equal(t, &Version{Major: 10, Minor: 5}, macos("older_function").Deprecated)
	assert.Equal(t, &Version{Major: 10, Minor: 6}, macos("mac_function").Introduced)

	pa := macos("attr_function")
	assert.Equal(t, &Version{Major: 10, Minor: 8}, pa.Introduced)
	assert.Equal(t, &Version{Major: 10, Minor: 10}, pa.Deprecated)
	assert.Equal(t, "use other", pa.Message)

	fn, _ := findFunction(hdr, "plain_deprecated")
	assert.True(t, fn.Availability.Deprecated)

	assert.Equal(t, &Version{Major: 10, Minor: 12}, macos("region_function").Introduced)
	assert.Equal(t, &Version{Major: 10, Minor: 14}, macos("own_function").Introduced)
	assert.True(t, macos("unavailable_function").Unavailable)

	fn, _ = findFunction(hdr, "format_function")
	assert.Equal(t, 1, fn.PrintfFormat)
	assert.True(t, fn.ReturnsRetained)
	assert.True(t, fn.IsVariadic)
}

func TestParseObjCNames(t *testing.T) {
	hdr, err := Parse(`
@class NSString, NSArray;
@protocol Forward;
@protocol Full <NSObject>
- (void)method;
@end
@interface Thing : NSObject
{
    int ivar;
}
- (id)init;
@end
@interface Thing (Extras)
@end
`)
	require.NoError(t, err)

	var classes, protocols []string
	for _, c := range hdr.Classes {
		classes = append(classes, c.Name)
	}
	for _, p := range hdr.Protocols {
		protocols = append(protocols, p.Name)
	}
	assert.Equal(t, []string{"NSString", "NSArray", "Thing"}, classes)
	assert.Equal(t, []string{"Forward", "Full"}, protocols)
}

func TestParsePreprocessor(t *testing.T) {
	hdr, err := Parse(`
#define ONE 1
#if ONE && defined(ONE)
extern int enabled_function(void);
#else
extern int disabled_function(void);
#endif
#ifdef MISSING
extern int missing_function(void);
#elif __has_feature(nullability)
extern int feature_function(void);
#endif
#if TARGET_OS_IPHONE
extern int ios_function(void);
#endif
#define RETTYPE double
#define MAKE(name) extern RETTYPE name(void);
MAKE(made_function)
#undef ONE
#ifndef ONE
extern int undefined_function(void);
#endif
`)
	require.NoError(t, err)

	var names []string
	for _, fn := range hdr.Functions {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{"enabled_function", "feature_function", "made_function", "undefined_function"}, names)

	fn, _ := findFunction(hdr, "made_function")
	assert.Equal(t, "double", fn.ReturnType.Name)

	var defines []string
	for _, d := range hdr.Defines {
		defines = append(defines, d.Name)
	}
	assert.Equal(t, []string{"ONE", "RETTYPE", "MAKE"}, defines)
}

func TestParseDirectiveErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"error directive", "#if 1\n#error nope\n#endif\n"},
		{"unknown directive", "#frobnicate\n"},
		{"unterminated conditional", "#if 1\nextern int x;\n"},
		{"stray endif", "#endif\n"},
		{"else after else", "#if 0\n#else\n#else\n#endif\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDirective), err.Error())
		})
	}

	_, err := Parse("#if 0\n#error ignored\n#frobnicate\n#endif\n")
	assert.NoError(t, err)
}

func TestParseMinDeployment(t *testing.T) {
	src := `
#if MAC_OS_X_VERSION_MIN_REQUIRED >= 101300
extern int modern_function(void);
#endif
`
	v := Version{Major: 10, Minor: 13}
	hdr, err := New(Options{MinDeployment: &v}).ParseString("min.h", src)
	require.NoError(t, err)
	assert.Len(t, hdr.Functions, 1)

	hdr, err = New(Options{}).ParseString("min.h", src)
	require.NoError(t, err)
	assert.Empty(t, hdr.Functions)
}
