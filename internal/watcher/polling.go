package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/compoundkb/compoundmcp/internal/scan"
)

// poller produces the watcher's event stream by diffing periodic scans
// of the docs root. Used when fsnotify cannot establish a watch (network
// shares, exhausted inotify instances).
type poller struct {
	root      string
	matcher   *scan.Matcher
	interval  time.Duration
	debouncer *Debouncer
	logger    *slog.Logger

	// known is the last scan's snapshot: path -> (size, mtime).
	known map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// newPoller primes the snapshot from the current tree without emitting
// events; the activation reconcile has already indexed the initial
// state.
func newPoller(root string, m *scan.Matcher, interval time.Duration, d *Debouncer, logger *slog.Logger) (*poller, error) {
	p := &poller{
		root:      root,
		matcher:   m,
		interval:  interval,
		debouncer: d,
		logger:    logger,
		known:     make(map[string]fileStamp),
	}
	files, err := scan.ListFiles(context.Background(), root, m)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		p.known[f.RelPath] = fileStamp{size: f.Size, modTime: f.ModTime}
	}
	return p, nil
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.rescan(ctx)
		}
	}
}

// rescan diffs the tree against the previous snapshot and offers the
// difference to the debouncer as created/modified/deleted events.
func (p *poller) rescan(ctx context.Context) {
	files, err := scan.ListFiles(ctx, p.root, p.matcher)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll rescan failed", slog.String("error", err.Error()))
		}
		return
	}

	now := time.Now()
	current := make(map[string]fileStamp, len(files))
	for _, f := range files {
		stamp := fileStamp{size: f.Size, modTime: f.ModTime}
		current[f.RelPath] = stamp

		prev, existed := p.known[f.RelPath]
		switch {
		case !existed:
			p.debouncer.Offer(Event{Type: EventCreated, Path: f.RelPath, At: now})
		case prev != stamp:
			p.debouncer.Offer(Event{Type: EventModified, Path: f.RelPath, At: now})
		}
	}
	for path := range p.known {
		if _, still := current[path]; !still {
			p.debouncer.Offer(Event{Type: EventDeleted, Path: path, At: now})
		}
	}
	p.known = current
}
