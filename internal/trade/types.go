// Package trade turns discrete decisions into positions and completed
// trades, one independent state machine per strategy id.
package trade

import (
	"time"

	"signal-core/internal/analytics"
	"signal-core/internal/decision"
)

// Side of a position.
type Side string

const (
	Flat  Side = "FLAT"
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SideFor returns the position side a decision opens.
func SideFor(d decision.Decision) Side {
	switch d {
	case decision.Buy:
		return Long
	case decision.Sell:
		return Short
	}
	return Flat
}

// Action reports what Process did with a signal.
type Action string

const (
	ActionOpened          Action = "opened"
	ActionClosedAndOpened Action = "closed_and_opened"
	ActionClosed          Action = "closed"
	ActionIgnored         Action = "ignored"
	ActionRejected        Action = "rejected"
)

// Reasons attached to ignored results.
const (
	ReasonHold            = "hold"
	ReasonDuplicateSignal = "duplicate_signal"
	ReasonNoPosition      = "no_position"
)

// Position is the open position of one strategy.
type Position struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol,omitempty"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// CompletedTrade is an immutable closed round trip.
type CompletedTrade struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol,omitempty"`
	OpenSide    Side      `json:"open_side"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	GrossPct    float64   `json:"gross_pct"`
	FeePctTotal float64   `json:"fee_pct_total"`
	NetPct      float64   `json:"net_pct"`
}

// Record projects the trade for analytics.
func (t CompletedTrade) Record() analytics.Record {
	return analytics.Record{StrategyID: t.StrategyID, GrossPct: t.GrossPct, NetPct: t.NetPct}
}

// Records projects a trade log for analytics.
func Records(trades []CompletedTrade) []analytics.Record {
	out := make([]analytics.Record, len(trades))
	for i, t := range trades {
		out[i] = t.Record()
	}
	return out
}

// Opened describes the position opened by a signal.
type Opened struct {
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
}

// Result is the outcome of processing one signal.
type Result struct {
	Accepted       bool            `json:"accepted"`
	Action         Action          `json:"action"`
	Reason         string          `json:"reason,omitempty"`
	Opened         *Opened         `json:"opened,omitempty"`
	CompletedTrade *CompletedTrade `json:"completed_trade,omitempty"`
}

// PositionChange is published whenever a strategy's side changes.
type PositionChange struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol,omitempty"`
	From       Side      `json:"from"`
	To         Side      `json:"to"`
	Price      float64   `json:"price"`
	Time       time.Time `json:"time"`
	Action     Action    `json:"action"`
}

// SignalOutcome pairs an input with its result.
type SignalOutcome struct {
	Input  decision.Input `json:"input"`
	Result Result         `json:"result"`
}
