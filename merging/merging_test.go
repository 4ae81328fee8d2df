package merging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/objc-metadata/metadata"
)

func scanFor(arch, sdk string) *metadata.FrameworkMetadata {
	md := metadata.NewFrameworkMetadata(arch)
	md.SDKVersion = metadata.Ptr(sdk)
	return md
}

func TestMergeEnumValues(t *testing.T) {
	x86 := scanFor("x86_64", "14.2")
	arm := scanFor("arm64", "14.2")

	x86.Enum["Same"] = metadata.EnumInfo{Value: metadata.Scalar[int64](1), EnumType: "Kind"}
	arm.Enum["Same"] = metadata.EnumInfo{Value: metadata.Scalar[int64](1), EnumType: "Kind"}
	x86.Enum["Split"] = metadata.EnumInfo{Value: metadata.Scalar[int64](-1)}
	arm.Enum["Split"] = metadata.EnumInfo{Value: metadata.Scalar[int64](4294967295)}
	arm.Enum["ArmOnly"] = metadata.EnumInfo{Value: metadata.Scalar[int64](7)}

	got, err := MergeFrameworkMetadata(nil, x86, arm)
	require.NoError(t, err)

	assert.Equal(t, []string{"arm64", "x86_64"}, got.Architectures.Elements())
	assert.Equal(t, "14.2", *got.SDKVersion)

	assert.True(t, got.Enum["Same"].Value.Equal(metadata.Scalar[int64](1)))
	assert.Equal(t, "Kind", got.Enum["Same"].EnumType)
	assert.True(t, got.Enum["Split"].Value.Equal(metadata.Merged[int64](-1, 4294967295)))
	assert.True(t, got.Enum["ArmOnly"].Value.Equal(metadata.Scalar[int64](7)))
}

func TestMergeMergedOrder(t *testing.T) {
	// The arm64 scan comes first; the merged value is still keyed by
	// architecture.
	arm := scanFor("arm64", "14.2")
	x86 := scanFor("x86_64", "14.2")
	i386 := scanFor("i386", "14.2")

	arm.Externs["kName"] = metadata.ExternInfo{Typestr: metadata.Scalar("i")}
	x86.Externs["kName"] = metadata.ExternInfo{Typestr: metadata.Scalar("q")}
	i386.Externs["kName"] = metadata.ExternInfo{Typestr: metadata.Scalar("q")}

	got, err := MergeFrameworkMetadata(nil, arm, x86, i386)
	require.NoError(t, err)
	assert.True(t, got.Externs["kName"].Typestr.Equal(metadata.Merged("q", "i")))
}

func TestMergeConflict(t *testing.T) {
	x86 := scanFor("x86_64", "14.2")
	i386 := scanFor("i386", "14.2")
	arm := scanFor("arm64", "14.2")

	x86.Literals["kValue"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.IntLiteral(1))}
	i386.Literals["kValue"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.IntLiteral(2))}
	arm.Literals["kValue"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.IntLiteral(3))}

	_, err := MergeFrameworkMetadata(nil, x86, i386, arm)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "literal kValue")

	t.Run("exception wins", func(t *testing.T) {
		ex := metadata.NewExceptionData()
		ex.Literals["kValue"] = metadata.LiteralException{Value: metadata.Ptr(metadata.IntLiteral(9))}

		got, err := MergeFrameworkMetadata(ex, x86, i386, arm)
		require.NoError(t, err)
		assert.True(t, got.Literals["kValue"].Value.Equal(metadata.Scalar(metadata.IntLiteral(9))))
	})

	t.Run("ignored", func(t *testing.T) {
		ex := metadata.NewExceptionData()
		ex.Literals["kValue"] = metadata.LiteralException{Ignore: true}

		got, err := MergeFrameworkMetadata(ex, x86, i386, arm)
		require.NoError(t, err)
		assert.NotContains(t, got.Literals, "kValue")
	})

	t.Run("split within arm", func(t *testing.T) {
		arm64e := scanFor("arm64e", "14.2")
		arm64e.Literals["kValue"] = metadata.LiteralInfo{Value: metadata.Scalar(metadata.IntLiteral(1))}

		_, err := MergeFrameworkMetadata(nil, x86, arm, arm64e)
		require.ErrorIs(t, err, ErrConflict)
	})
}

func TestMergeLatestScanWins(t *testing.T) {
	old := scanFor("x86_64", "13.0")
	cur := scanFor("x86_64", "14.2")

	old.Enum["Value"] = metadata.EnumInfo{Value: metadata.Scalar[int64](1)}
	cur.Enum["Value"] = metadata.EnumInfo{Value: metadata.Scalar[int64](2)}

	old.Structs["Point"] = metadata.StructInfo{Typestr: "{Point=ii}", FieldNames: []string{"x", "y"}}
	cur.Structs["Point"] = metadata.StructInfo{Typestr: "{Point=dd}", FieldNames: []string{"x", "y"}}
	old.Classes["Gone"] = metadata.ClassInfo{}

	got, err := MergeFrameworkMetadata(nil, old, cur)
	require.NoError(t, err)

	assert.Equal(t, "14.2", *got.SDKVersion)
	assert.True(t, got.Enum["Value"].Value.Equal(metadata.Scalar[int64](2)))
	assert.Equal(t, "{Point=dd}", got.Structs["Point"].Typestr)
	assert.Contains(t, got.Classes, "Gone")
}

func TestMergeExpressions(t *testing.T) {
	x86 := scanFor("x86_64", "14.2")
	arm := scanFor("arm64", "14.2")

	x86.Expressions["kMask"] = metadata.ExpressionInfo{Expression: "A | B"}
	arm.Expressions["kMask"] = metadata.ExpressionInfo{Expression: "A | C"}
	x86.FuncMacros["MAX"] = metadata.FunctionMacroInfo{Definition: "def MAX(a, b): return a > b"}
	arm.FuncMacros["MAX"] = metadata.FunctionMacroInfo{Definition: "def MAX(a, b): return a > b"}

	_, err := MergeFrameworkMetadata(nil, x86, arm)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "expression kMask")

	ex := metadata.NewExceptionData()
	ex.Expressions["kMask"] = metadata.ExpressionException{Expression: metadata.Ptr("A")}

	got, err := MergeFrameworkMetadata(ex, x86, arm)
	require.NoError(t, err)

	assert.Equal(t, "A", got.Expressions["kMask"].Expression)
	assert.Equal(t, "def MAX(a, b): return a > b", got.FuncMacros["MAX"].Definition)
	assert.Empty(t, got.Aliases)
}

func TestMergeFunctions(t *testing.T) {
	x86 := scanFor("x86_64", "14.2")
	arm := scanFor("arm64", "14.2")

	fn := metadata.FunctionInfo{
		Retval: metadata.ReturnInfo{Typestr: "^v"},
		Args:   []metadata.ArgInfo{{Typestr: "^v", Name: metadata.Ptr("ptr")}},
	}
	x86.Functions["Copy"] = fn
	arm.Functions["Copy"] = fn
	arm.Functions["Hidden"] = fn

	ex := metadata.NewExceptionData()
	ex.Functions["Copy"] = metadata.FunctionException{
		Retval: &metadata.ReturnException{AlreadyCFRetained: metadata.Ptr(true)},
	}
	ex.Functions["Hidden"] = metadata.FunctionException{Ignore: true}

	got, err := MergeFrameworkMetadata(ex, x86, arm)
	require.NoError(t, err)

	require.Contains(t, got.Functions, "Copy")
	assert.NotContains(t, got.Functions, "Hidden")
	assert.True(t, got.Functions["Copy"].Retval.AlreadyCFRetained)
	assert.Equal(t, "ptr", *got.Functions["Copy"].Args[0].Name)
}

func TestMergeNothing(t *testing.T) {
	_, err := MergeFrameworkMetadata(nil)
	assert.ErrorIs(t, err, ErrNoScans)
}

func TestSortScans(t *testing.T) {
	infos := []*metadata.FrameworkMetadata{
		scanFor("x86_64", "14.2"),
		scanFor("arm64", "14.2"),
		scanFor("x86_64", "10.15"),
		scanFor("x86_64", "9.3"),
	}
	SortScans(infos)

	var got []string
	for _, md := range infos {
		got = append(got, md.Arch()+"-"+*md.SDKVersion)
	}
	want := []string{"x86_64-9.3", "x86_64-10.15", "arm64-14.2", "x86_64-14.2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortScans mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAndMerge(t *testing.T) {
	dir := t.TempDir()
	header := metadata.GeneratedHeader(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	x86 := scanFor("x86_64", "14.2")
	x86.Enum["Value"] = metadata.EnumInfo{Value: metadata.Scalar[int64](1)}
	arm := scanFor("arm64", "14.2")
	arm.Enum["Value"] = metadata.EnumInfo{Value: metadata.Scalar[int64](2)}

	x86Path := filepath.Join(dir, "x86_64-14.2.fwinfo")
	armPath := filepath.Join(dir, "arm64-14.2.fwinfo")
	require.NoError(t, metadata.SaveFramework(x86Path, header, x86))
	require.NoError(t, metadata.SaveFramework(armPath, header, arm))

	got, err := LoadAndMerge(filepath.Join(dir, "missing.fwinfo"), x86Path, armPath)
	require.NoError(t, err)
	assert.True(t, got.Enum["Value"].Value.Equal(metadata.Merged[int64](1, 2)))

	exPath := filepath.Join(dir, "Fragments.fwinfo")
	ex := metadata.NewExceptionData()
	ex.Enum["Value"] = metadata.EnumException{Value: metadata.Ptr[int64](3)}
	require.NoError(t, metadata.SaveExceptions(exPath, metadata.ExceptionsHeader, ex))

	got, err = LoadAndMerge(exPath, armPath, x86Path)
	require.NoError(t, err)
	assert.True(t, got.Enum["Value"].Value.Equal(metadata.Scalar[int64](3)))

	_, err = LoadAndMerge(exPath)
	assert.ErrorIs(t, err, ErrNoScans)
}
