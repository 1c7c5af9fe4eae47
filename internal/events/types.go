package events

import "time"

// Event enumerates high-level topics inside the signal core.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventStrategySignal  Event = "strategy_signal"
	EventSignalProcessed Event = "signal.processed"
	EventPositionChange  Event = "position_change"
	EventTradeCompleted  Event = "trade.completed"
	EventNodeValue       Event = "graph.node"
	EventSubscriberFault Event = "subscriber.fault"
)

// Fault reports a handler that failed or panicked while processing a payload.
type Fault struct {
	Subscriber string    `json:"subscriber"`
	Event      Event     `json:"event"`
	Error      string    `json:"error"`
	Panicked   bool      `json:"panicked"`
	Time       time.Time `json:"time"`
}
