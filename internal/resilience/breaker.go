// Package resilience wraps outgoing calls to the embedding and chat hosts
// with a concurrency limiter, retry with jitter, and a circuit breaker,
// in that order outside-in.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// windowBuckets is the resolution of the sliding window.
const windowBuckets = 10

type bucket struct {
	successes int
	failures  int
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// SamplingDuration is the width of the sliding window.
	SamplingDuration time.Duration

	// MinThroughput is the minimum number of calls in the window before
	// the failure ratio is evaluated.
	MinThroughput int

	// FailureRatio trips the circuit when failures/total reaches it.
	FailureRatio float64

	// BreakDuration is how long the circuit stays open before admitting
	// a half-open probe.
	BreakDuration time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration:
// 30s window, throughput floor 5, ratio 0.5, 30s break.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		SamplingDuration: 30 * time.Second,
		MinThroughput:    5,
		FailureRatio:     0.5,
		BreakDuration:    30 * time.Second,
	}
}

// Breaker implements a sliding-window circuit breaker. Outcomes are
// counted in rotating buckets; the circuit trips when the window holds at
// least MinThroughput calls and the failure ratio reaches FailureRatio.
type Breaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       State
	buckets     [windowBuckets]bucket
	bucketStart time.Time
	bucketIdx   int
	openedAt    time.Time
	probing     bool
	lastErr     error
	lastFailure time.Time

	onStateChange []func(from, to State)

	// now is replaceable for tests.
	now func() time.Time
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.SamplingDuration <= 0 {
		cfg.SamplingDuration = 30 * time.Second
	}
	if cfg.BreakDuration <= 0 {
		cfg.BreakDuration = 30 * time.Second
	}
	if cfg.MinThroughput <= 0 {
		cfg.MinThroughput = 5
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	b := &Breaker{
		name:   name,
		config: cfg,
		state:  StateClosed,
		now:    time.Now,
	}
	b.bucketStart = b.now()
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// OnStateChange registers a callback invoked after every state
// transition. Callbacks run outside the breaker lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = append(b.onStateChange, fn)
}

// State returns the current state. An open circuit whose break has
// expired reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.BreakDuration {
		return StateHalfOpen
	}
	return b.state
}

// RetryAfter returns how long until the open circuit admits a probe.
// Zero when the circuit is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.config.BreakDuration - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LastFailure returns the most recent recorded failure and its time.
func (b *Breaker) LastFailure() (error, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr, b.lastFailure
}

// Execute runs fn through the breaker. An open circuit rejects with
// ErrCircuitOpen. A half-open circuit admits exactly one probe; callers
// arriving while the probe is in flight are rejected.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	b.record(callErr, probe)
	return callErr
}

// admit decides whether a call may proceed. The second return reports
// whether the call is the half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return false, nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.BreakDuration {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		// Break expired. Admit one probe.
		transitions := b.setState(StateHalfOpen)
		b.probing = true
		b.mu.Unlock()
		b.notify(transitions)
		return true, nil

	default: // StateHalfOpen
		if b.probing {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil
	}
}

// record counts the outcome and applies window or probe transitions.
func (b *Breaker) record(callErr error, probe bool) {
	b.mu.Lock()

	var transitions [][2]State
	if probe {
		b.probing = false
		if callErr != nil {
			b.lastErr = callErr
			b.lastFailure = b.now()
			b.openedAt = b.now()
			transitions = b.setState(StateOpen)
		} else {
			b.resetWindow()
			transitions = b.setState(StateClosed)
		}
		b.mu.Unlock()
		b.notify(transitions)
		return
	}

	b.rotate()
	if callErr != nil {
		b.buckets[b.bucketIdx].failures++
		b.lastErr = callErr
		b.lastFailure = b.now()
	} else {
		b.buckets[b.bucketIdx].successes++
	}

	// The ratio is evaluated after every outcome once the window reaches
	// the throughput floor.
	successes, failures := b.windowCounts()
	total := successes + failures
	if total >= b.config.MinThroughput &&
		float64(failures)/float64(total) >= b.config.FailureRatio {
		b.openedAt = b.now()
		transitions = b.setState(StateOpen)
	}
	b.mu.Unlock()
	b.notify(transitions)
}

// rotate advances the window, clearing buckets that aged out.
// Must be called with the lock held.
func (b *Breaker) rotate() {
	bucketWidth := b.config.SamplingDuration / windowBuckets
	elapsed := b.now().Sub(b.bucketStart)
	if elapsed < bucketWidth {
		return
	}

	steps := int(elapsed / bucketWidth)
	if steps >= windowBuckets {
		b.resetWindow()
		return
	}
	for i := 0; i < steps; i++ {
		b.bucketIdx = (b.bucketIdx + 1) % windowBuckets
		b.buckets[b.bucketIdx] = bucket{}
	}
	b.bucketStart = b.bucketStart.Add(time.Duration(steps) * bucketWidth)
}

// resetWindow clears all counted outcomes.
// Must be called with the lock held.
func (b *Breaker) resetWindow() {
	b.buckets = [windowBuckets]bucket{}
	b.bucketIdx = 0
	b.bucketStart = b.now()
}

// windowCounts sums the window. Must be called with the lock held.
func (b *Breaker) windowCounts() (successes, failures int) {
	for _, bk := range b.buckets {
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

// setState records a transition and returns it for notification after
// the lock is released. Must be called with the lock held.
func (b *Breaker) setState(to State) [][2]State {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	return [][2]State{{from, to}}
}

func (b *Breaker) notify(transitions [][2]State) {
	if len(transitions) == 0 {
		return
	}
	b.mu.Lock()
	callbacks := make([]func(from, to State), len(b.onStateChange))
	copy(callbacks, b.onStateChange)
	b.mu.Unlock()

	for _, tr := range transitions {
		for _, fn := range callbacks {
			fn(tr[0], tr[1])
		}
	}
}
