package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ardanlabs/objc-metadata/apidiff"
	"github.com/ardanlabs/objc-metadata/metadata"
)

// headerScan records one function per line of every header in dir.
func headerScan(dir string) ScanFunc {
	return func(ctx context.Context) (*metadata.FrameworkMetadata, error) {
		md := metadata.NewFrameworkMetadata("x86_64")
		paths, err := filepath.Glob(filepath.Join(dir, "*.h"))
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			for _, name := range strings.Fields(string(data)) {
				md.Functions[name] = metadata.FunctionInfo{Retval: metadata.ReturnInfo{Typestr: "v"}, Args: []metadata.ArgInfo{}}
			}
		}
		return md, nil
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	header := filepath.Join(dir, "Fragments.h")
	require.NoError(t, os.WriteFile(header, []byte("alpha\n"), 0644))

	reports := make(chan *apidiff.Report, 4)
	w, err := New([]string{dir}, headerScan(dir), func(r *apidiff.Report, md *metadata.FrameworkMetadata) {
		reports <- r
	}, zaptest.NewLogger(t), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.True(t, w.IsWatching())
	assert.Equal(t, []string{dir}, w.WatchedDirs())
	require.Contains(t, w.Latest().Functions, "alpha")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(header, []byte("alpha\nbeta\n"), 0644))

	select {
	case r := <-reports:
		require.Len(t, r.Changes, 1)
		assert.Equal(t, apidiff.Added, r.Changes[0].Kind)
		assert.Equal(t, "beta", r.Changes[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no report after header change")
	}

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.GreaterOrEqual(t, stats.Rescans, 1)
	assert.Equal(t, header, stats.LastEventPath)
	assert.Contains(t, w.Latest().Functions, "beta")

	w.Stop()
	assert.False(t, w.IsWatching())
}

func TestWatcherBaseline(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	header := filepath.Join(dir, "Fragments.h")
	require.NoError(t, os.WriteFile(header, []byte("alpha\n"), 0644))

	baseline := metadata.NewFrameworkMetadata("x86_64")
	baseline.Functions["gone"] = metadata.FunctionInfo{Retval: metadata.ReturnInfo{Typestr: "v"}, Args: []metadata.ArgInfo{}}

	reports := make(chan *apidiff.Report, 4)
	w, err := New([]string{dir}, headerScan(dir), func(r *apidiff.Report, md *metadata.FrameworkMetadata) {
		reports <- r
	}, nil, WithDebounce(10*time.Millisecond), WithBaseline(baseline))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.Same(t, baseline, w.Latest())

	require.NoError(t, os.WriteFile(header, []byte("alpha\n"), 0644))

	select {
	case r := <-reports:
		assert.True(t, r.Breaking())
		assert.ElementsMatch(t, []string{"alpha", "gone"}, []string{r.Changes[0].Name, r.Changes[1].Name})
	case <-time.After(5 * time.Second):
		t.Fatal("no report after header change")
	}
}

func TestWatcherContextDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := New([]string{dir}, headerScan(dir), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop with its context")
	}
	w.Stop()
}

func TestWatcherStartErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := New(nil, headerScan(""), nil, nil)
	assert.Error(t, err)

	dir := t.TempDir()
	errScan := errors.New("scan failed")
	w, err := New([]string{dir}, func(context.Context) (*metadata.FrameworkMetadata, error) {
		return nil, errScan
	}, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, w.Start(context.Background()), errScan)
	assert.False(t, w.IsWatching())
	w.Stop()

	w, err = New([]string{filepath.Join(dir, "missing")}, headerScan(dir), nil, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestWatcherStopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := New([]string{t.TempDir()}, headerScan(""), nil, nil)
	require.NoError(t, err)

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())
	assert.Error(t, w.watcher.Add(t.TempDir()))
}
