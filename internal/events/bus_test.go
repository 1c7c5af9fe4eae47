package events

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	bus.Publish(EventPriceTick, 42)

	select {
	case msg := <-ch:
		require.Equal(t, 42, msg)
	case <-time.After(time.Second):
		t.Fatal("payload not delivered")
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	bus.Publish(EventPriceTick, 1)
	bus.Publish(EventPriceTick, 2)

	require.Equal(t, uint64(1), bus.Dropped())
}

func TestDroppedWatchedEventsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(WithDropWarnings(zerolog.New(&buf), EventPriceTick))
	_, unsubTick := bus.Subscribe(EventPriceTick, 1)
	defer unsubTick()
	_, unsubSignal := bus.Subscribe(EventStrategySignal, 0)
	defer unsubSignal()

	bus.Publish(EventPriceTick, 1)
	require.Empty(t, buf.String())

	bus.Publish(EventPriceTick, 2)
	bus.Publish(EventStrategySignal, 3)

	require.Equal(t, uint64(2), bus.Dropped())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "only watched events warn")
	require.Contains(t, lines[0], `"event":"price_tick"`)
	require.Contains(t, lines[0], `"dropped_total":1`)
	require.Contains(t, lines[0], `"level":"warn"`)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	require.Zero(t, bus.Subscribers(EventPriceTick))

	// publishing after unsubscribe must not panic
	bus.Publish(EventPriceTick, 1)
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		_, unsub := bus.Subscribe(EventPriceTick, 4)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(EventPriceTick, j)
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}

func TestHandleReportsErrorsAndPanics(t *testing.T) {
	bus := NewBus()
	faults, unsubFaults := bus.Subscribe(EventSubscriberFault, 10)
	defer unsubFaults()

	stop := bus.Handle(EventNodeValue, "flaky", 10, func(payload any) error {
		switch payload {
		case "err":
			return errors.New("boom")
		case "panic":
			panic("kaboom")
		}
		return nil
	})

	bus.Publish(EventNodeValue, "ok")
	bus.Publish(EventNodeValue, "err")
	bus.Publish(EventNodeValue, "panic")

	got := make([]Fault, 0, 2)
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-faults:
			got = append(got, msg.(Fault))
		case <-timeout:
			t.Fatalf("expected 2 faults, got %d", len(got))
		}
	}
	stop()

	require.Equal(t, "flaky", got[0].Subscriber)
	require.Equal(t, EventNodeValue, got[0].Event)
	require.Equal(t, "boom", got[0].Error)
	require.False(t, got[0].Panicked)
	require.True(t, got[1].Panicked)
	require.Equal(t, "kaboom", got[1].Error)
	require.Equal(t, uint64(2), bus.Faults())
}

func TestSlowHandlerDoesNotBlockSubscribe(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	stop := bus.Handle(EventPriceTick, "slow", 1, func(any) error {
		<-release
		return nil
	})

	bus.Publish(EventPriceTick, 1)

	done := make(chan struct{})
	go func() {
		_, unsub := bus.Subscribe(EventPriceTick, 1)
		unsub()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribe blocked behind a slow handler")
	}
	close(release)
	stop()
}
