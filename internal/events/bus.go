package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one payload delivered by the bus.
type Handler func(payload any) error

type subscriber struct {
	mu     sync.Mutex
	ch     chan any
	closed bool
}

func (s *subscriber) deliver(payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]*subscriber
	dropped atomic.Uint64
	faults  atomic.Uint64

	dropLog   *zerolog.Logger
	dropWatch map[Event]bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithDropWarnings logs a warning whenever a payload of one of the given
// events is dropped on a full subscriber buffer. Warnings are sampled to a
// burst of 5 per second.
func WithDropWarnings(log zerolog.Logger, watched ...Event) Option {
	return func(b *Bus) {
		sampled := log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second})
		b.dropLog = &sampled
		b.dropWatch = make(map[Event]bool, len(watched))
		for _, e := range watched {
			b.dropWatch[e] = true
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{subs: make(map[Event][]*subscriber)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscriber{ch: make(chan any, buffer)}

	b.mu.Lock()
	b.subs[e] = append(b.subs[e], sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[e]
			for i, s := range subs {
				if s == sub {
					b.subs[e] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			sub.close()
		})
	}
	return sub.ch, unsub
}

// Handle runs fn in its own goroutine for every payload published on e.
// A handler error or panic is reported on EventSubscriberFault instead of
// being swallowed. The returned function unsubscribes and waits for the
// handler goroutine to drain.
func (b *Bus) Handle(e Event, name string, buffer int, fn Handler) func() {
	ch, unsub := b.Subscribe(e, buffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for msg := range ch {
			if fault := invoke(fn, msg); fault != nil {
				fault.Subscriber = name
				fault.Event = e
				b.faults.Add(1)
				if e != EventSubscriberFault {
					b.Publish(EventSubscriberFault, *fault)
				}
			}
		}
	}()

	return func() {
		unsub()
		<-done
	}
}

func invoke(fn Handler, msg any) (fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &Fault{Error: fmt.Sprint(r), Panicked: true, Time: time.Now().UTC()}
		}
	}()
	if err := fn(msg); err != nil {
		return &Fault{Error: err.Error(), Time: time.Now().UTC()}
	}
	return nil
}

// Publish fans the payload out to subscribers. The subscriber list is
// copied under the lock and delivery happens outside it; a full
// subscriber buffer drops the payload so the publisher never blocks.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs[e]))
	copy(subs, b.subs[e])
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.deliver(payload) {
			total := b.dropped.Add(1)
			if b.dropLog != nil && b.dropWatch[e] {
				b.dropLog.Warn().
					Str("event", string(e)).
					Uint64("dropped_total", total).
					Msg("subscriber buffer full, payload dropped")
			}
		}
	}
}

// Subscribers returns the number of listeners registered on e.
func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[e])
}

// Dropped returns how many deliveries were dropped on full buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Faults returns how many handler invocations failed.
func (b *Bus) Faults() uint64 { return b.faults.Load() }
