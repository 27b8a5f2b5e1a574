package watcher

import (
	"sort"
	"sync"
	"time"
)

// EntryState classifies a tracked file.
type EntryState int

const (
	// StatePending marks a file whose indexing hit a service failure and
	// waits for the reconciler's recovery drain.
	StatePending EntryState = iota
	// StateFailed marks a file whose content was rejected; it will not
	// be retried until the file changes.
	StateFailed
)

// String returns the state for logging.
func (s EntryState) String() string {
	if s == StateFailed {
		return "failed"
	}
	return "pending"
}

// Entry is the tracked record for one path.
type Entry struct {
	Path     string
	State    EntryState
	Event    EventType
	Retries  int
	QueuedAt time.Time
	Err      error
}

// Status summarizes the tracker for the health tool.
type Status struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Tracker records files whose indexing did not complete: pending entries
// wait for service recovery, failed entries wait for the author to fix
// the document. The indexer transitions entries; the reconciler drains
// pending ones.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// MarkPending records a service-failure retry candidate. A path already
// pending keeps its original queue time and counts the retry.
func (t *Tracker) MarkPending(path string, ev EventType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[path]; ok && e.State == StatePending {
		e.Event = ev
		e.Retries++
		return
	}
	t.entries[path] = &Entry{
		Path:     path,
		State:    StatePending,
		Event:    ev,
		QueuedAt: time.Now(),
	}
}

// MarkFailed records a permanent (content) failure for path.
func (t *Tracker) MarkFailed(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[path] = &Entry{
		Path:     path,
		State:    StateFailed,
		QueuedAt: time.Now(),
		Err:      err,
	}
}

// Clear drops the entry for path after a successful index or delete.
func (t *Tracker) Clear(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, path)
}

// PendingList returns the pending entries sorted by path. Failed entries
// are excluded: re-running them without a content change would fail the
// same way.
func (t *Tracker) PendingList() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.State == StatePending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Status reports pending/failed counts.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Status
	for _, e := range t.entries {
		if e.State == StatePending {
			s.Pending++
		} else {
			s.Failed++
		}
	}
	return s
}

// Len reports the total tracked entry count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
