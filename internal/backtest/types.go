// Package backtest replays historical bars through a decision source using
// the live engine's transition rules and P&L formulas on a simulated ledger.
package backtest

import (
	"errors"
	"fmt"
	"math"

	"signal-core/internal/analytics"
	"signal-core/internal/graph"
	"signal-core/internal/market"
	"signal-core/internal/trade"
)

var (
	ErrNoBars        = errors.New("backtest requires at least one bar")
	ErrInvalidConfig = errors.New("invalid execution config")
)

const (
	DefaultInitialCapital  = 10000.0
	DefaultPositionSizePct = 100.0
)

// Exit reasons recorded on trades.
const (
	ExitSignal    = "signal"
	ExitEndOfData = "end_of_data"
)

// ExecutionConfig controls the simulated fills. Percentages are in percent
// units (0.1 means 0.1%).
type ExecutionConfig struct {
	InitialCapital  float64 `json:"initial_capital" yaml:"initial_capital"`
	CommissionFixed float64 `json:"commission_fixed" yaml:"commission_fixed"`
	CommissionPct   float64 `json:"commission_pct" yaml:"commission_pct"`
	SlippagePct     float64 `json:"slippage_pct" yaml:"slippage_pct"`
	// PositionSize is a fixed notional per entry; when zero, PositionSizePct
	// of current equity is used.
	PositionSize    float64 `json:"position_size,omitempty" yaml:"position_size"`
	PositionSizePct float64 `json:"position_size_pct,omitempty" yaml:"position_size_pct"`
}

func (c ExecutionConfig) withDefaults() ExecutionConfig {
	if c.InitialCapital == 0 {
		c.InitialCapital = DefaultInitialCapital
	}
	if c.PositionSize == 0 && c.PositionSizePct == 0 {
		c.PositionSizePct = DefaultPositionSizePct
	}
	return c
}

// Validate rejects negative or out of range settings.
func (c ExecutionConfig) Validate() error {
	switch {
	case !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 1):
		return fmt.Errorf("%w: initial_capital must be positive", ErrInvalidConfig)
	case !nonNegative(c.CommissionFixed), !nonNegative(c.CommissionPct), !nonNegative(c.SlippagePct):
		return fmt.Errorf("%w: commission and slippage must not be negative", ErrInvalidConfig)
	case !nonNegative(c.PositionSize):
		return fmt.Errorf("%w: position_size must not be negative", ErrInvalidConfig)
	case !nonNegative(c.PositionSizePct) || c.PositionSizePct > 100:
		return fmt.Errorf("%w: position_size_pct must be within 0..100", ErrInvalidConfig)
	}
	return nil
}

// nonNegative also rejects NaN and +Inf.
func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}

// FeePctTotal is the round-trip cost in percent: commission and slippage are
// paid on both entry and exit.
func (c ExecutionConfig) FeePctTotal() float64 {
	return trade.FeePctTotal(2*c.CommissionPct, 2*c.SlippagePct)
}

// Request is one backtest job.
type Request struct {
	Symbol    string           `json:"symbol"`
	Timeframe string           `json:"timeframe"`
	Bars      market.Bars      `json:"bars"`
	Graph     graph.Definition `json:"graph_definition"`
	Execution ExecutionConfig  `json:"execution_config"`
}

// Trade is one simulated round trip.
type Trade struct {
	Side        trade.Side `json:"side"`
	EntryIndex  int        `json:"entry_index"`
	ExitIndex   int        `json:"exit_index"`
	EntryTime   int64      `json:"entry_time,omitempty"`
	ExitTime    int64      `json:"exit_time,omitempty"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	EntryFill   float64    `json:"entry_fill"`
	ExitFill    float64    `json:"exit_fill"`
	Quantity    float64    `json:"quantity"`
	Commission  float64    `json:"commission"`
	PnL         float64    `json:"pnl"`
	GrossPct    float64    `json:"gross_pct"`
	FeePctTotal float64    `json:"fee_pct_total"`
	NetPct      float64    `json:"net_pct"`
	ExitReason  string     `json:"exit_reason"`
}

// EquityPoint is the marked-to-market equity after bar Index.
type EquityPoint struct {
	Index       int     `json:"index"`
	Time        int64   `json:"time,omitempty"`
	Equity      float64 `json:"equity"`
	DrawdownPct float64 `json:"drawdown_pct"`
}

// Metrics summarises a run.
type Metrics struct {
	InitialCapital      float64                `json:"initial_capital"`
	FinalEquity         float64                `json:"final_equity"`
	TotalReturnPct      float64                `json:"total_return_pct"`
	AnnualizedReturnPct float64                `json:"annualized_return_pct"`
	TradeCount          int                    `json:"trade_count"`
	WinRate             float64                `json:"win_rate"`
	ProfitFactor        analytics.ProfitFactor `json:"profit_factor"`
	MaxDrawdown         float64                `json:"max_drawdown"`
	MaxDrawdownPct      float64                `json:"max_drawdown_pct"`
	TotalCommission     float64                `json:"total_commission"`
	// SkippedEntries counts entry signals the account could not afford.
	SkippedEntries int `json:"skipped_entries"`
	// Percent is the live-engine analytics over the percentage trades.
	Percent analytics.Snapshot `json:"percent"`
}

// Result is the output of a run.
type Result struct {
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	Bars        int           `json:"bars"`
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Metrics     Metrics       `json:"metrics"`
}
