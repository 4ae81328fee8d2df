package typecodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/objc-metadata/parser"
)

func varType(t *testing.T, decl string) parser.CType {
	t.Helper()
	h, err := parser.Parse(decl)
	require.NoError(t, err)
	require.Len(t, h.Variables, 1)
	return h.Variables[0].Type
}

func TestEncodeVariables(t *testing.T) {
	tests := []struct {
		decl string
		lp64 string
		i386 string
	}{
		{"extern int v;", "i", "i"},
		{"extern unsigned int v;", "I", "I"},
		{"extern unsigned v;", "I", "I"},
		{"extern long v;", "q", "l"},
		{"extern unsigned long v;", "Q", "L"},
		{"extern long long v;", "q", "q"},
		{"extern short int v;", "s", "s"},
		{"extern unsigned char v;", "C", "C"},
		{"extern NSInteger v;", "q", "l"},
		{"extern NSUInteger v;", "Q", "L"},
		{"extern CGFloat v;", "d", "f"},
		{"extern BOOL v;", "Z", "Z"},
		{"extern bool v;", "B", "B"},
		{"extern double v;", "d", "d"},
		{"extern long double v;", "D", "D"},
		{"extern char *v;", "*", "*"},
		{"extern const char *v;", "r*", "r*"},
		{"extern int *v;", "^i", "^i"},
		{"extern const int **v;", "^r^i", "^r^i"},
		{"extern NSString *v;", "@", "@"},
		{"extern NSString **v;", "^@", "^@"},
		{"extern id v;", "@", "@"},
		{"extern id<NSCopying> v;", "@", "@"},
		{"extern id *v;", "^@", "^@"},
		{"extern Class v;", "#", "#"},
		{"extern SEL v;", ":", ":"},
		{"extern void (^v)(int);", "@?", "@?"},
		{"extern int (*v)(void);", "^?", "^?"},
		{"extern int v[4];", "[4i]", "[4i]"},
		{"extern CFStringRef v;", "^{__CFString=}", "^{__CFString=}"},
	}

	lp, err := New("x86_64", nil)
	require.NoError(t, err)
	ilp, err := New("i386", nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.decl, func(t *testing.T) {
			ct := varType(t, tt.decl)

			got, err := lp.Encode(ct)
			require.NoError(t, err)
			assert.Equal(t, tt.lp64, got)

			got, err = ilp.Encode(ct)
			require.NoError(t, err)
			assert.Equal(t, tt.i386, got)
		})
	}
}

func TestEncodeRecords(t *testing.T) {
	h, err := parser.Parse(`
typedef struct { int a; double b; } Pair;
struct Node { struct Node *next; int v; };
typedef struct Opaque *OpaqueRef;
typedef union { int i; float f; } Either;
typedef Pair PairAlias;
`)
	require.NoError(t, err)

	r, err := New("arm64", nil)
	require.NoError(t, err)
	r.AddHeader(h)

	tests := []struct {
		ct   parser.CType
		want string
	}{
		{parser.CType{Name: "Pair"}, "{_Pair=id}"},
		{parser.CType{Name: "PairAlias"}, "{_Pair=id}"},
		{parser.CType{Name: "Pair", Pointer: 1}, "^{_Pair=id}"},
		{parser.CType{Tag: "struct", Name: "Node"}, "{Node=^{Node}i}"},
		{parser.CType{Name: "OpaqueRef"}, "^{Opaque=}"},
		{parser.CType{Name: "Either"}, "(_Either=if)"},
		{parser.CType{Tag: "struct", Name: "Undeclared", Pointer: 1}, "^{Undeclared=}"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := r.Encode(tt.ct)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, r.Special("Pair"))
	assert.True(t, r.Special("BOOL"))
	assert.False(t, r.Special("OpaqueRef"))
}

func TestEncodeEnums(t *testing.T) {
	h, err := parser.Parse(`
typedef NS_ENUM(NSInteger, Fixed) { FixedA };
typedef NS_OPTIONS(uint32_t, Flags) { FlagA = 1 << 0 };
typedef enum { NegA = -1, NegB } Negative;
typedef enum { PosA = 1 } Positive;
enum Tagged { TaggedA };
`)
	require.NoError(t, err)

	r, err := New("x86_64", nil)
	require.NoError(t, err)
	r.AddHeader(h)

	got, err := r.Encode(parser.CType{Name: "Fixed"})
	require.NoError(t, err)
	assert.Equal(t, "q", got)

	got, err = r.Encode(parser.CType{Name: "Flags"})
	require.NoError(t, err)
	assert.Equal(t, "I", got)

	got, err = r.Encode(parser.CType{Name: "Negative"})
	require.NoError(t, err)
	assert.Equal(t, "i", got)

	got, err = r.Encode(parser.CType{Name: "Positive"})
	require.NoError(t, err)
	assert.Equal(t, "I", got)

	got, err = r.Encode(parser.CType{Tag: "enum", Name: "Tagged"})
	require.NoError(t, err)
	assert.Equal(t, "I", got)

	got, err = r.EncodeEnum(h.Enums[0])
	require.NoError(t, err)
	assert.Equal(t, "q", got)
}

func TestEncodeTypedefs(t *testing.T) {
	h, err := parser.Parse(`
@class MyView;
typedef NSString * SomeStringEnum NS_STRING_ENUM;
typedef MyView *ViewRef;
typedef int Counter;
typedef Counter *CounterPtr;
`)
	require.NoError(t, err)

	r, err := New("x86_64", nil)
	require.NoError(t, err)
	r.AddHeader(h)

	tests := map[string]string{
		"SomeStringEnum": "@",
		"ViewRef":        "@",
		"Counter":        "i",
		"CounterPtr":     "^i",
	}
	for name, want := range tests {
		got, err := r.Encode(parser.CType{Name: name})
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	got, err := r.Encode(parser.CType{Name: "MyView", Pointer: 2})
	require.NoError(t, err)
	assert.Equal(t, "^@", got)
	assert.True(t, r.IsClass("MyView"))
}

func TestEncodeTypemap(t *testing.T) {
	h, err := parser.Parse("typedef struct Opaque *OpaqueRef;")
	require.NoError(t, err)

	r, err := New("x86_64", map[string]string{"^{Opaque=}": "^v"})
	require.NoError(t, err)
	r.AddHeader(h)

	got, err := r.Encode(parser.CType{Name: "OpaqueRef"})
	require.NoError(t, err)
	assert.Equal(t, "^v", got)
}

func TestEncodeUnknown(t *testing.T) {
	r, err := New("x86_64", nil)
	require.NoError(t, err)

	got, err := r.Encode(parser.CType{Name: "Mystery"})
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "?", got)

	r.AddTypedef(parser.TypeDef{Name: "Loop", SourceType: parser.CType{Name: "Loop"}})
	_, err = r.Encode(parser.CType{Name: "Loop"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestNewArch(t *testing.T) {
	_, err := New("sparc", nil)
	assert.Error(t, err)

	r, err := New("arm64", nil)
	require.NoError(t, err)
	assert.True(t, r.LP64())
	assert.Equal(t, "arm64", r.Arch())
}
