package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
)

var (
	ErrFeedRunning = errors.New("feed already running")
	ErrStopTimeout = errors.New("feed did not stop before timeout")
)

// Source produces ticks for one connection cycle. Stream blocks until the
// cycle ends; a returned error is treated as a transport failure.
type Source interface {
	Name() string
	Stream(ctx context.Context, emit func(Tick)) error
}

// Feed drives a Source on its own goroutine, reconnecting with backoff,
// and publishes every tick on the event bus.
type Feed struct {
	source  Source
	bus     *events.Bus
	log     zerolog.Logger
	backoff *Backoff

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks      atomic.Uint64
	reconnects atomic.Uint64
}

// Option configures a Feed.
type Option func(*Feed)

// WithBackoff overrides the reconnect schedule.
func WithBackoff(b *Backoff) Option {
	return func(f *Feed) {
		if b != nil {
			f.backoff = b
		}
	}
}

// NewFeed wires a source to the bus.
func NewFeed(source Source, bus *events.Bus, log zerolog.Logger, opts ...Option) *Feed {
	f := &Feed{
		source:  source,
		bus:     bus,
		log:     log,
		backoff: NewBackoff(DefaultBackoffInitial, DefaultBackoffMax),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the feed loop.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return ErrFeedRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(runCtx, f.done)
	f.log.Info().Str("source", f.source.Name()).Msg("market feed started")
	return nil
}

// Stop cancels the loop and waits at most timeout for it to exit.
func (f *Feed) Stop(timeout time.Duration) error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		f.log.Info().Msg("market feed stopped")
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Ticks returns the number of ticks published so far.
func (f *Feed) Ticks() uint64 { return f.ticks.Load() }

// Reconnects returns how many times the source was restarted.
func (f *Feed) Reconnects() uint64 { return f.reconnects.Load() }

func (f *Feed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		var delivered atomic.Bool
		err := f.source.Stream(ctx, func(t Tick) {
			delivered.Store(true)
			f.ticks.Add(1)
			if f.bus != nil {
				f.bus.Publish(events.EventPriceTick, t)
			}
		})
		if ctx.Err() != nil {
			return
		}

		// a cycle that connected and delivered data counts as healthy
		if err == nil || delivered.Load() {
			f.backoff.Reset()
		}
		wait := f.backoff.Next()
		if err != nil {
			f.log.Warn().Err(err).Str("source", f.source.Name()).Dur("retry_in", wait).Msg("market feed disconnected, retrying")
		}

		select {
		case <-time.After(wait):
			f.reconnects.Add(1)
		case <-ctx.Done():
			return
		}
	}
}
