// Package watch rescans a framework when its headers change and reports
// the API differences against the previous scan.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ardanlabs/objc-metadata/apidiff"
	"github.com/ardanlabs/objc-metadata/metadata"
)

// ScanFunc produces the current metadata of the watched framework.
type ScanFunc func(ctx context.Context) (*metadata.FrameworkMetadata, error)

// ReportFunc receives the changes found by a rescan along with the new
// metadata. It is not called when a rescan finds no changes.
type ReportFunc func(report *apidiff.Report, md *metadata.FrameworkMetadata)

// Stats counts watcher activity.
type Stats struct {
	Events  int
	Rescans int
	Reports int
	Errors  int

	LastEventTime time.Time
	LastEventPath string
}

type Option func(*Watcher)

// WithDebounce sets how long a header must be quiet before a rescan.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceDur = d
	}
}

// WithBaseline sets the metadata the first rescan is compared with,
// instead of scanning at Start.
func WithBaseline(md *metadata.FrameworkMetadata) Option {
	return func(w *Watcher) {
		w.last = md
	}
}

// Watcher watches header directories and rescans on change.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	log         *zap.Logger
	dirs        []string
	scan        ScanFunc
	report      ReportFunc
	last        *metadata.FrameworkMetadata
	debounceMap map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closeOnce   sync.Once

	stats Stats
}

func New(dirs []string, scan ScanFunc, report ReportFunc, log *zap.Logger, opts ...Option) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, errors.New("no header directories to watch")
	}
	if log == nil {
		log = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating watcher")
	}

	w := &Watcher{
		watcher:     fw,
		log:         log,
		dirs:        dirs,
		scan:        scan,
		report:      report,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		tick:        100 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounceDur < w.tick {
		w.tick = max(w.debounceDur, time.Millisecond)
	}

	return w, nil
}

// Start takes the baseline scan, unless one was given, and begins
// watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if w.last == nil {
		md, err := w.scan(ctx)
		if err != nil {
			w.abort()
			return errors.Wrap(err, "baseline scan")
		}
		w.last = md
	}

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.abort()
			return errors.Wrapf(err, "watching %s", dir)
		}
		w.log.Info("watching headers", zap.String("dir", dir))
	}

	go w.run(ctx)

	return nil
}

// abort undoes a failed Start.
func (w *Watcher) abort() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.closeWatcher()
}

func (w *Watcher) closeWatcher() {
	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			w.log.Error("closing watcher", zap.Error(err))
		}
	})
}

// Stop stops the watcher and waits for the event loop to exit. A watcher
// cannot be restarted. Stopping a watcher that was never started releases
// its fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.closeWatcher()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.closeWatcher()
	w.log.Debug("watcher stopped")
}

// Done is closed when the event loop exits, after Stop or when the
// context given to Start is done.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Ext(event.Name) != ".h" {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.log.Debug("header event", zap.String("path", event.Name), zap.Stringer("op", event.Op))

	now := time.Now()
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = now
	w.stats.LastEventPath = event.Name
	w.debounceMap[event.Name] = now
	w.mu.Unlock()
}

// processDebounced rescans once when any header has been quiet for the
// debounce period.
func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	w.rescan(ctx, settled)
}

func (w *Watcher) rescan(ctx context.Context, changed []string) {
	w.log.Info("rescanning", zap.Strings("changed", changed))

	md, err := w.scan(ctx)

	w.mu.Lock()
	w.stats.Rescans++
	if err != nil {
		w.stats.Errors++
		w.mu.Unlock()
		w.log.Error("rescan failed", zap.Error(err))
		return
	}
	prev := w.last
	w.last = md
	w.mu.Unlock()

	report := apidiff.Compare(prev, md)
	if report.Empty() {
		w.log.Info("rescan found no changes")
		return
	}

	w.mu.Lock()
	w.stats.Reports++
	w.mu.Unlock()

	w.log.Info("API changed",
		zap.Int("breaking", report.Count(apidiff.Breaking)),
		zap.Int("compatible", report.Count(apidiff.Compatible)),
		zap.Int("informational", report.Count(apidiff.Informational)),
	)
	if w.report != nil {
		w.report(report, md)
	}
}

func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Latest returns the metadata of the last successful scan.
func (w *Watcher) Latest() *metadata.FrameworkMetadata {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}
