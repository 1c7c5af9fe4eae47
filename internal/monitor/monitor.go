// Package monitor turns bus traffic into metrics and alerts.
package monitor

import (
	"fmt"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
	"signal-core/internal/market"
	"signal-core/internal/trade"
)

// Monitor watches the bus, feeds Metrics and raises alerts on handler faults.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Sink    AlertSink
	Log     zerolog.Logger
}

// Start registers the watchers and returns a function that stops them.
func (m *Monitor) Start() func() {
	if m.Bus == nil || m.Metrics == nil {
		m.Log.Warn().Msg("monitor not fully configured; skipping")
		return func() {}
	}
	stops := []func(){
		m.Bus.Handle(events.EventPriceTick, "monitor.ticks", 1024, func(p any) error {
			if t, ok := p.(market.Tick); ok {
				m.Metrics.ObserveTick(t.Symbol)
			}
			return nil
		}),
		m.Bus.Handle(events.EventTradeCompleted, "monitor.trades", 256, func(p any) error {
			if t, ok := p.(trade.CompletedTrade); ok {
				m.Metrics.ObserveTrade(t.OpenSide)
			}
			return nil
		}),
		m.Bus.Handle(events.EventSubscriberFault, "monitor.faults", 64, func(p any) error {
			m.Metrics.ObserveFault()
			if f, ok := p.(events.Fault); ok && m.Sink != nil {
				return m.Sink.Send(formatFault(f))
			}
			return nil
		}),
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func formatFault(f events.Fault) string {
	kind := "error"
	if f.Panicked {
		kind = "panic"
	}
	return fmt.Sprintf("[%s] %s handler %s on %s: %s", f.Time.Format("2006-01-02T15:04:05Z07:00"), kind, f.Subscriber, f.Event, f.Error)
}
