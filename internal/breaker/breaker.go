// Package breaker implements a per-key circuit breaker used to stop
// repeatedly invoking a failing dependency. Each key tracks failures over a
// sliding window; once the threshold is reached the circuit opens and calls
// for that key are rejected until a cooldown elapses. There is no half-open
// probing: after the cooldown the circuit closes and the window resets.
package breaker

import (
	"sync"
	"time"
)

// Status describes the observable state of one circuit.
type Status struct {
	Open       bool
	Failures   int       // failures currently inside the window
	OpenedAt   time.Time // zero when the circuit is closed
	RetryAfter time.Time // when an open circuit will close; zero when closed
}

// Breaker tracks failure rates per key. Keys are arbitrary strings; callers
// typically use an adapter or workflow identifier. Safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time
	circuits  map[string]*circuit
}

type circuit struct {
	failures []time.Time
	open     bool
	openedAt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a Breaker that opens a circuit after threshold failures within
// window, and keeps it open for cooldown.
func New(threshold int, window, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call for the key may proceed. An open circuit
// whose cooldown has elapsed closes as a side effect, with its failure
// window cleared.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	if !c.open {
		return true
	}

	if b.now().Sub(c.openedAt) < b.cooldown {
		return false
	}

	// Cooldown elapsed: close and start fresh.
	c.open = false
	c.openedAt = time.Time{}
	c.failures = nil
	return true
}

// RecordFailure records a failed call for the key. When the number of
// failures inside the window reaches the threshold the circuit opens.
// Failures recorded while the circuit is already open are ignored.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}

	if c.open {
		return
	}

	now := b.now()
	c.failures = pruneBefore(c.failures, now.Add(-b.window))
	c.failures = append(c.failures, now)

	if len(c.failures) >= b.threshold {
		c.open = true
		c.openedAt = now
	}
}

// RecordSuccess records a successful call. A success never erases failures
// already inside the window and never closes an open circuit: failures only
// leave the window by aging out, and an open circuit only closes when its
// cooldown elapses.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok || c.open {
		return
	}
	c.failures = pruneBefore(c.failures, b.now().Add(-b.window))
}

// Status returns the current state of the key's circuit.
func (b *Breaker) Status(key string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return Status{}
	}

	s := Status{
		Open:     c.open,
		OpenedAt: c.openedAt,
	}
	if c.open {
		s.RetryAfter = c.openedAt.Add(b.cooldown)
	} else {
		s.Failures = len(pruneBefore(append([]time.Time(nil), c.failures...), b.now().Add(-b.window)))
	}
	return s
}

// Reset clears all state for the key, closing its circuit.
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, key)
}

// pruneBefore drops timestamps older than the cutoff, preserving order.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}
