package trade

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a strategy has no open position.
var ErrNotFound = errors.New("position not found")

// PositionStore holds at most one open position per strategy id.
type PositionStore interface {
	GetPosition(ctx context.Context, strategyID string) (Position, error)
	PutPosition(ctx context.Context, p Position) error
	DeletePosition(ctx context.Context, strategyID string) error
	ListPositions(ctx context.Context) ([]Position, error)
}

// TradeFilter narrows ListTrades. Zero values match everything.
type TradeFilter struct {
	StrategyID string
	Limit      int
}

// TradeLog is the append-only ordered trade history.
type TradeLog interface {
	// AppendTrade stores t and assigns its sequence number.
	AppendTrade(ctx context.Context, t *CompletedTrade) error
	// ListTrades returns trades in append order.
	ListTrades(ctx context.Context, f TradeFilter) ([]CompletedTrade, error)
}

// Store is the persistence the engine needs.
type Store interface {
	PositionStore
	TradeLog
	// Flip appends closed and replaces the strategy's position with next
	// (or removes it when next is nil) as one unit.
	Flip(ctx context.Context, closed *CompletedTrade, next *Position) error
	// Clear wipes positions and trades.
	Clear(ctx context.Context) error
}

// JournalEntry is the audit record of one ingested signal.
type JournalEntry struct {
	ID          string    `json:"id"`
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol,omitempty"`
	Signal      string    `json:"signal"`
	Price       float64   `json:"price"`
	FeePct      float64   `json:"fee_pct"`
	SlippagePct float64   `json:"slippage_pct"`
	Source      string    `json:"source,omitempty"`
	Action      Action    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	SignalTime  time.Time `json:"signal_time"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Journal records every processed signal. Implementations must not block.
type Journal interface {
	Record(entry JournalEntry)
}

// Metrics observes processing latency per action.
type Metrics interface {
	ObserveSignal(action Action, seconds float64)
}
