package market

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = 60 * time.Second
	defaultJitterFraction = 0.25
)

// Backoff produces doubling reconnect delays with random jitter.
type Backoff struct {
	mu       sync.Mutex
	initial  time.Duration
	max      time.Duration
	jitter   float64
	current  time.Duration
	randFunc func() float64
}

// NewBackoff builds a backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial:  initial,
		max:      max,
		jitter:   defaultJitterFraction,
		randFunc: rand.Float64,
	}
}

// Next returns the delay to wait before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == 0 {
		b.current = b.initial
	}
	d := b.current
	next := b.current * 2
	if next > b.max {
		next = b.max
	}
	b.current = next

	return d + time.Duration(b.randFunc()*b.jitter*float64(d))
}

// Reset returns the schedule to the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}
