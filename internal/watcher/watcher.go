// Package watcher turns filesystem changes under the active docs root
// into debounced index events. fsnotify is the primary mode; when the OS
// watch cannot be established the watcher degrades to a periodic rescan
// with the same event semantics. Events are coalesced per path and
// delivered on a bounded queue that drops its oldest entry under
// pressure — reconciliation recovers anything dropped.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/scan"
)

// DefaultQueueCapacity bounds the delivery channel.
const DefaultQueueCapacity = 1000

// DefaultPollInterval is the rescan period in polling mode.
const DefaultPollInterval = 2 * time.Second

// EventType classifies a settled file change.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
	EventRenamed
)

// String returns the event type for logging.
func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one debounced change, keyed by slash-separated path relative
// to the docs root.
type Event struct {
	Type EventType
	Path string
	// OldPath is set for renames only: the path the document had before.
	OldPath string
	At      time.Time
}

// Config configures a watcher.
type Config struct {
	// Root is the absolute docs root to watch.
	Root string
	// Matcher admits files into the event stream.
	Matcher *scan.Matcher
	// Debounce is the per-path coalescing window.
	Debounce time.Duration
	// QueueCapacity bounds the delivery channel (default 1000).
	QueueCapacity int
	// PollInterval is the rescan period when polling (default 2s).
	PollInterval time.Duration
	// ForcePolling skips fsnotify entirely; used by tests and as an
	// escape hatch on filesystems without inotify support.
	ForcePolling bool

	Logger *slog.Logger
}

// Watcher owns the OS watch (or the polling loop), the debouncer, and
// the delivery queue.
type Watcher struct {
	cfg       config
	events    chan Event
	debouncer *Debouncer
	dropped   atomic.Int64
	polling   bool

	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type config struct {
	root         string
	matcher      *scan.Matcher
	debounce     time.Duration
	pollInterval time.Duration
	forcePolling bool
	logger       *slog.Logger
}

// New builds a watcher. Nothing runs until Start.
func New(cfg Config) *Watcher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Watcher{
		cfg: config{
			root:         cfg.Root,
			matcher:      cfg.Matcher,
			debounce:     cfg.Debounce,
			pollInterval: cfg.PollInterval,
			forcePolling: cfg.ForcePolling,
			logger:       cfg.Logger,
		},
		events: make(chan Event, cfg.QueueCapacity),
	}
	w.debouncer = NewDebouncer(cfg.Debounce, w.deliver)
	return w
}

// Events is the debounced delivery channel. It is never closed; consumers
// stop via their own context.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Dropped reports how many events were discarded because the queue was
// full.
func (w *Watcher) Dropped() int64 {
	return w.dropped.Load()
}

// Polling reports whether the watcher is running in rescan mode.
func (w *Watcher) Polling() bool {
	return w.polling
}

// Start establishes the watch and begins emitting events. When fsnotify
// cannot watch the root the watcher falls back to polling instead of
// failing the activation.
func (w *Watcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if !w.cfg.forcePolling {
		if err := w.startFsnotify(runCtx); err == nil {
			return nil
		} else {
			w.cfg.logger.Warn("os file watch unavailable, falling back to polling",
				slog.String("root", w.cfg.root),
				slog.String("error", err.Error()))
		}
	}

	poller, err := newPoller(w.cfg.root, w.cfg.matcher, w.cfg.pollInterval, w.debouncer, w.cfg.logger)
	if err != nil {
		cancel()
		return err
	}
	w.polling = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		poller.run(runCtx)
	}()
	return nil
}

// Stop tears down the watch and cancels pending debounce timers. Events
// already delivered stay in the queue for the consumer to drain.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fs != nil {
		_ = w.fs.Close()
	}
	w.wg.Wait()
	w.debouncer.Stop()
}

func (w *Watcher) startFsnotify(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.addWatches(fsw, w.cfg.root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fs = fsw
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// addWatches registers dir and every non-excluded subdirectory.
func (w *Watcher) addWatches(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.cfg.root, p)
		if relErr != nil {
			return nil
		}
		if rel != "." && w.cfg.matcher.SkipDir(scan.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.cfg.logger.Warn("file watch error", slog.String("error", err.Error()))
		}
	}
}

// handle maps one raw fsnotify event onto the debouncer. A rename shows
// up as two raw events on two paths: the old name disappears (deleted)
// and the new name appears (created); the store outcome is identical to
// an explicit rename.
func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.cfg.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	relSlash := scan.ToSlash(rel)
	now := time.Now()

	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			w.watchNewDir(ev.Name)
			return
		}
		if w.cfg.matcher.Admit(relSlash) {
			w.debouncer.Offer(Event{Type: EventCreated, Path: relSlash, At: now})
		}
	case ev.Op.Has(fsnotify.Write):
		if w.cfg.matcher.Admit(relSlash) {
			w.debouncer.Offer(Event{Type: EventModified, Path: relSlash, At: now})
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// The path may have been a directory; per-file delete events for
		// its contents do not arrive, but reconciliation covers subtree
		// removal and the matcher filters what it can.
		if w.cfg.matcher.Admit(relSlash) {
			w.debouncer.Offer(Event{Type: EventDeleted, Path: relSlash, At: now})
		}
	}
}

// watchNewDir adds watches for a directory created after Start and
// synthesizes created events for any admitted files already inside it
// (a directory moved into the tree arrives populated).
func (w *Watcher) watchNewDir(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(w.cfg.root, p)
		if relErr != nil {
			return nil
		}
		relSlash := scan.ToSlash(rel)
		if d.IsDir() {
			if w.cfg.matcher.SkipDir(relSlash) {
				return filepath.SkipDir
			}
			if w.fs != nil {
				_ = w.fs.Add(p)
			}
			return nil
		}
		if w.cfg.matcher.Admit(relSlash) {
			w.debouncer.Offer(Event{Type: EventCreated, Path: relSlash, At: time.Now()})
		}
		return nil
	})
}

// deliver pushes a settled event onto the queue, dropping the oldest
// queued event when full. The indexer falling behind must never block
// the debounce timers.
func (w *Watcher) deliver(ev Event) {
	for {
		select {
		case w.events <- ev:
			return
		default:
		}
		select {
		case old := <-w.events:
			w.dropped.Add(1)
			w.cfg.logger.Warn("event queue full, dropping oldest event",
				logging.DocPath(old.Path),
				logging.EventType(old.Type.String()),
				slog.Int64("dropped_total", w.dropped.Load()))
		default:
		}
	}
}
