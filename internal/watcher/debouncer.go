package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is used when the config supplies none.
const DefaultDebounceWindow = 500 * time.Millisecond

// Debouncer coalesces raw events per path. Each path holds at most one
// pending event and a timer; a new event for the same path merges into
// the pending one and resets the timer, so a burst of saves settles into
// a single delivery once the path goes quiet for the window.
type Debouncer struct {
	window time.Duration
	emit   func(Event)

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool
}

type pendingEvent struct {
	ev    Event
	timer *time.Timer
}

// NewDebouncer builds a debouncer that calls emit for every settled
// event. emit runs on the timer goroutine and must not block for long.
func NewDebouncer(window time.Duration, emit func(Event)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingEvent),
	}
}

// Offer merges a raw event into the pending state for its path and
// resets the path's timer.
func (d *Debouncer) Offer(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	entry, ok := d.pending[ev.Path]
	if !ok {
		path := ev.Path
		entry = &pendingEvent{ev: ev}
		entry.timer = time.AfterFunc(d.window, func() { d.fire(path) })
		d.pending[path] = entry
		return
	}

	merged, drop := coalesce(entry.ev, ev)
	if drop {
		entry.timer.Stop()
		delete(d.pending, ev.Path)
		return
	}
	entry.ev = merged
	entry.timer.Reset(d.window)
}

// fire delivers the settled event for path.
func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	entry, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
	}
	stopped := d.stopped
	d.mu.Unlock()

	if ok && !stopped {
		d.emit(entry.ev)
	}
}

// PendingCount reports how many paths currently hold a pending event.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending timer without emitting. Events lost here
// are recovered by the next reconciliation.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, path)
	}
}

// coalesce merges an incoming raw event into the pending one for the
// same path. The pairs below settle to a single truthful outcome; any
// combination not listed resolves to the incoming event.
//
//	created  + modified -> created
//	created  + deleted  -> (dropped: the file never really existed)
//	modified + deleted  -> deleted
//	renamed  + modified -> renamed (old path kept)
//	renamed  + deleted  -> deleted
//	deleted  + created  -> created (atomic-save editors delete then write)
func coalesce(pending, incoming Event) (Event, bool) {
	switch {
	case pending.Type == EventCreated && incoming.Type == EventModified:
		pending.At = incoming.At
		return pending, false
	case pending.Type == EventCreated && incoming.Type == EventDeleted:
		return Event{}, true
	case pending.Type == EventModified && incoming.Type == EventDeleted:
		return incoming, false
	case pending.Type == EventRenamed && incoming.Type == EventModified:
		pending.At = incoming.At
		return pending, false
	case pending.Type == EventRenamed && incoming.Type == EventDeleted:
		return incoming, false
	case pending.Type == EventDeleted && incoming.Type == EventCreated:
		return incoming, false
	default:
		return incoming, false
	}
}
