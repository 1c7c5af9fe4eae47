// Package analytics derives performance metrics from the completed-trade log.
// Nothing here is persisted; every snapshot is recomputed from the trades.
package analytics

import (
	"encoding/json"
	"math"
	"sort"
)

// Record is the slice of a completed trade the metrics need.
type Record struct {
	StrategyID string
	GrossPct   float64
	NetPct     float64
}

// ProfitFactor serializes +Inf as the string "inf".
type ProfitFactor float64

// Infinite reports whether there were wins and no losses.
func (p ProfitFactor) Infinite() bool { return math.IsInf(float64(p), 1) }

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if p.Infinite() {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(p))
}

func (p *ProfitFactor) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*p = ProfitFactor(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = ProfitFactor(f)
	return nil
}

// Snapshot is the metric set for one group of trades.
type Snapshot struct {
	TradeCount     int          `json:"trade_count"`
	Wins           int          `json:"wins"`
	Losses         int          `json:"losses"`
	WinRate        float64      `json:"win_rate"`
	NetReturnPct   float64      `json:"net_return_pct"`
	GrossReturnPct float64      `json:"gross_return_pct"`
	ProfitFactor   ProfitFactor `json:"profit_factor"`
	MaxDrawdownPct float64      `json:"max_drawdown_pct"`
	AvgWinPct      float64      `json:"avg_win_pct"`
	AvgLossPct     float64      `json:"avg_loss_pct"`
}

// Overview is the aggregate plus the per-strategy breakdown.
type Overview struct {
	Metrics    Snapshot            `json:"metrics"`
	ByStrategy map[string]Snapshot `json:"by_strategy"`
}

// Compute folds records, which must be in chronological order.
func Compute(records []Record) Snapshot {
	var s Snapshot
	var winSum, lossSum float64
	var cum, peak float64

	for _, r := range records {
		s.TradeCount++
		s.NetReturnPct += r.NetPct
		s.GrossReturnPct += r.GrossPct
		if r.NetPct > 0 {
			s.Wins++
			winSum += r.NetPct
		} else {
			s.Losses++
			lossSum += r.NetPct
		}

		cum += r.NetPct
		peak = math.Max(peak, cum)
		s.MaxDrawdownPct = math.Max(s.MaxDrawdownPct, peak-cum)
	}

	if s.TradeCount > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TradeCount)
	}
	if s.Wins > 0 {
		s.AvgWinPct = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPct = lossSum / float64(s.Losses)
	}
	s.ProfitFactor = profitFactor(winSum, lossSum, s.Wins)
	return s
}

func profitFactor(winSum, lossSum float64, wins int) ProfitFactor {
	if wins == 0 || winSum <= 0 {
		return 0
	}
	// losses are net <= 0, so their sum is never positive
	if lossSum >= 0 {
		return ProfitFactor(math.Inf(1))
	}
	return ProfitFactor(winSum / math.Abs(lossSum))
}

// ByStrategy partitions records by strategy id, preserving order.
func ByStrategy(records []Record) map[string]Snapshot {
	groups := make(map[string][]Record)
	for _, r := range records {
		groups[r.StrategyID] = append(groups[r.StrategyID], r)
	}
	out := make(map[string]Snapshot, len(groups))
	for id, rs := range groups {
		out[id] = Compute(rs)
	}
	return out
}

// NewOverview computes the aggregate and the per-strategy breakdown.
func NewOverview(records []Record) Overview {
	return Overview{Metrics: Compute(records), ByStrategy: ByStrategy(records)}
}

// Strategies returns the ids present in the overview, sorted.
func (o Overview) Strategies() []string {
	ids := make([]string, 0, len(o.ByStrategy))
	for id := range o.ByStrategy {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
