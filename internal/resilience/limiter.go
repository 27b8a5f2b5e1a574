package resilience

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned when the limiter's wait queue is at capacity.
var ErrQueueFull = errors.New("concurrency limiter queue is full")

// Limiter bounds in-flight calls to the embedding and chat hosts. Callers
// beyond the permit count wait in FIFO order; callers beyond the queue
// depth are rejected immediately.
type Limiter struct {
	sem      *semaphore.Weighted
	maxQueue int

	mu       sync.Mutex
	inFlight int
	waiting  int
}

// NewLimiter creates a limiter with the given permit count and wait
// queue depth.
func NewLimiter(permits, maxQueue int) *Limiter {
	if permits <= 0 {
		permits = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(permits)),
		maxQueue: maxQueue,
	}
}

// Acquire obtains a permit, waiting in the queue if necessary. It
// returns ErrQueueFull when the queue is at capacity, or the context
// error if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		l.mu.Lock()
		l.inFlight++
		l.mu.Unlock()
		return nil
	}

	l.mu.Lock()
	if l.waiting >= l.maxQueue {
		l.mu.Unlock()
		return ErrQueueFull
	}
	l.waiting++
	l.mu.Unlock()

	err := l.sem.Acquire(ctx, 1)

	l.mu.Lock()
	l.waiting--
	if err == nil {
		l.inFlight++
	}
	l.mu.Unlock()
	return err
}

// Release returns a permit.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	l.mu.Unlock()
	l.sem.Release(1)
}

// InFlight returns the number of held permits.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Waiting returns the number of queued callers.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}
