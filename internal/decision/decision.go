// Package decision defines the discrete trading decision shared by graph
// strategies, the trade engine and the backtest runner.
package decision

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Decision is BUY, SELL or HOLD.
type Decision string

const (
	Buy  Decision = "BUY"
	Sell Decision = "SELL"
	Hold Decision = "HOLD"
)

// Valid reports whether d is one of the three known decisions.
func (d Decision) Valid() bool {
	switch d {
	case Buy, Sell, Hold:
		return true
	}
	return false
}

// Opposite returns the reverse direction; HOLD has none.
func (d Decision) Opposite() Decision {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return Hold
}

// Parse reads a decision case-insensitively.
func Parse(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown decision %q", s)
	}
	return d, nil
}

// Legacy verdicts emitted by older condition-only strategies.
const (
	LegacyConfirmed = "CONFIRMED"
	LegacyRejected  = "REJECTED"
)

// FromLegacy maps a legacy verdict onto a decision. CONFIRMED opens or keeps
// a long, REJECTED a short; anything else holds.
func FromLegacy(verdict string) Decision {
	switch strings.ToUpper(strings.TrimSpace(verdict)) {
	case LegacyConfirmed:
		return Buy
	case LegacyRejected:
		return Sell
	}
	if d, err := Parse(verdict); err == nil {
		return d
	}
	return Hold
}

// Input is one decision submitted for a strategy.
type Input struct {
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol,omitempty"`
	Signal      string    `json:"signal"`
	Price       float64   `json:"price"`
	Time        time.Time `json:"ts"`
	FeePct      float64   `json:"fee_pct"`
	SlippagePct float64   `json:"slippage_pct"`
	// Source names the producer (api, strategy id, backtest); informational.
	Source string `json:"source,omitempty"`
}

// Rejection reasons returned by Validate.
const (
	ReasonInvalidSignal     = "invalid_signal"
	ReasonInvalidPrice      = "invalid_price"
	ReasonMissingStrategyID = "missing_strategy_id"
	ReasonInvalidFee        = "invalid_fee"
)

// Validate checks the input and returns the parsed decision, or the
// rejection reason when the input cannot be processed.
func (in Input) Validate() (Decision, string) {
	d, err := Parse(in.Signal)
	if err != nil {
		return "", ReasonInvalidSignal
	}
	if !(in.Price > 0) || math.IsInf(in.Price, 1) {
		return "", ReasonInvalidPrice
	}
	if strings.TrimSpace(in.StrategyID) == "" {
		return "", ReasonMissingStrategyID
	}
	if !validCost(in.FeePct) || !validCost(in.SlippagePct) {
		return "", ReasonInvalidFee
	}
	return d, ""
}

func validCost(pct float64) bool {
	return pct >= 0 && !math.IsInf(pct, 1)
}
