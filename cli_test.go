package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"bitbucket.org/creachadair/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ardanlabs/objc-metadata/apidiff"
	"github.com/ardanlabs/objc-metadata/metadata"
)

func writeConfig(t *testing.T) string {
	t.Helper()

	headers, err := filepath.Abs("testdata/fragments.framework")
	require.NoError(t, err)

	doc := map[string]any{
		"sdk_root":    "",
		"sdk_version": "14.2",
		"archs":       []string{"x86_64", "arm64"},
		"max_workers": 2,
		"logging":     map[string]string{"level": "error", "format": "json"},
		"frameworks": map[string]any{
			"fragments": map[string]any{
				"start_header": "enum.h",
				"cflags":       "-isystem " + shell.Quote(headers),
			},
		},
	}
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPipeline(t *testing.T) {
	cfgPath := writeConfig(t)
	dir := filepath.Dir(cfgPath)

	out, err := run(t, "scan", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Scanned fragments (x86_64)")
	assert.Contains(t, out, "Scanned fragments (arm64)")

	x86 := filepath.Join(dir, "raw", "x86_64-14.2.fwinfo")
	arm := filepath.Join(dir, "raw", "arm64-14.2.fwinfo")
	assert.FileExists(t, x86)
	assert.FileExists(t, arm)
	assert.FileExists(t, filepath.Join(dir, "fragments.fwinfo"))

	out, err = run(t, "merge", "--config", cfgPath, "--section", "fragments")
	require.NoError(t, err)
	assert.Contains(t, out, "Merged fragments")

	md, err := metadata.LoadFramework(filepath.Join(dir, "merged", "fragments.fwinfo"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"arm64", "x86_64"}, md.Architectures.Elements())
	assert.Equal(t, metadata.Scalar[int64](256), md.Enum["Option8"].Value)

	out, err = run(t, "compile", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "enums.go")

	enums, err := os.ReadFile(filepath.Join(dir, "compiled", "fragments", "enums.go"))
	require.NoError(t, err)
	assert.Contains(t, string(enums), "package fragments")
	assert.Contains(t, string(enums), "BasicEnumValue2")

	out, err = run(t, "doc", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "# fragments\n")
	assert.Contains(t, out, "### BasicEnum\n")
	assert.Contains(t, out, "| BasicEnumValue2 | 1 |")

	docs := filepath.Join(dir, "docs")
	out, err = run(t, "doc", "--config", cfgPath, "--output", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "Documented fragments")
	assert.FileExists(t, filepath.Join(docs, "fragments.md"))

	out, err = run(t, "diff", "--config", cfgPath, "--format", "json", x86, arm)
	require.NoError(t, err)

	var report apidiff.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Breaking())
	assert.Equal(t, "14.2", report.NewSDK)
}

func TestCompileMergesWhenNeeded(t *testing.T) {
	cfgPath := writeConfig(t)
	dir := filepath.Dir(cfgPath)

	_, err := run(t, "scan", "--config", cfgPath, "--arch", "x86_64")
	require.NoError(t, err)

	_, err = run(t, "compile", "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "compiled", "fragments", "symbols.go"))
	assert.NoFileExists(t, filepath.Join(dir, "merged", "fragments.fwinfo"))
}

func TestMergeWithoutScans(t *testing.T) {
	cfgPath := writeConfig(t)

	_, err := run(t, "merge", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run scan first")
}

func TestParse(t *testing.T) {
	cfgPath := writeConfig(t)
	header, err := filepath.Abs("testdata/fragments.framework/enum.h")
	require.NoError(t, err)

	out, err := run(t, "parse", "--config", cfgPath, "--section", "fragments", header)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "Enums")
}

func TestErrors(t *testing.T) {
	cfgPath := writeConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown section", []string{"merge", "--section", "AppKit"}, `no framework section "AppKit"`},
		{"bad arch", []string{"scan", "--arch", "mips"}, "invalid architecture: mips"},
		{"bad format", []string{"diff", "--format", "xml", "a", "b"}, "no such file"},
		{"diff args", []string{"diff", "only-one"}, "accepts 2 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append(tt.args, "--config", cfgPath)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
