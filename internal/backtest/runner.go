package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/analytics"
	"signal-core/internal/decision"
	"signal-core/internal/graph"
	"signal-core/internal/trade"
)

const yearMillis = 365.25 * 24 * 60 * 60 * 1000

// Runner executes backtests. It holds no state between runs.
type Runner struct {
	log zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Run compiles the request's graph and replays the bars through it.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	g, err := graph.Compile(req.Graph)
	if err != nil {
		return nil, fmt.Errorf("compile graph: %w", err)
	}
	return r.RunWithSource(ctx, req, GraphSource{Graph: g})
}

// RunWithSource replays the bars through src.
func (r *Runner) RunWithSource(ctx context.Context, req Request, src DecisionSource) (*Result, error) {
	cfg := req.Execution.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bars := req.Bars.Normalize()
	n := bars.Len()
	if n == 0 {
		return nil, ErrNoBars
	}

	started := time.Now()
	feePct := cfg.FeePctTotal()
	l := newLedger(cfg)
	res := &Result{
		Symbol:      req.Symbol,
		Timeframe:   req.Timeframe,
		Bars:        n,
		Trades:      []Trade{},
		EquityCurve: make([]EquityPoint, 0, n),
	}
	stamp := func(i int) int64 {
		if i < len(bars.Timestamp) {
			return bars.Timestamp[i]
		}
		return 0
	}

	skipped := 0
	enter := func(side trade.Side, i int, ts int64, price float64) {
		if !l.enter(side, i, ts, price) {
			skipped++
			r.log.Debug().Int("bar", i).Str("side", string(side)).Msg("entry skipped: no buying power")
		}
	}

	// mark is the last usable close; non-finite or non-positive bars
	// neither trade nor move the equity curve.
	mark, markIdx := 0.0, -1
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		price := bars.Close[i]
		ts := stamp(i)
		usable := tradable(price)
		if usable {
			mark, markIdx = price, i
		}

		d := src.Decide(bars.Snapshot(req.Symbol, i))
		side := trade.SideFor(d)
		switch {
		case d == decision.Hold || !usable:
		case l.open == nil:
			enter(side, i, ts, price)
		case l.open.side == side:
			// duplicate direction keeps the position
		default:
			res.Trades = append(res.Trades, l.exit(i, ts, price, ExitSignal, feePct))
			enter(side, i, ts, price)
		}

		equity := l.cash
		if markIdx >= 0 {
			equity = l.equity(mark)
		}
		res.EquityCurve = append(res.EquityCurve, EquityPoint{
			Index:  i,
			Time:   ts,
			Equity: equity.InexactFloat64(),
		})
	}

	if l.open != nil {
		res.Trades = append(res.Trades, l.exit(markIdx, stamp(markIdx), mark, ExitEndOfData, feePct))
		res.EquityCurve[n-1].Equity = l.cash.InexactFloat64()
	}

	res.Metrics = summarize(cfg, res, l)
	res.Metrics.SkippedEntries = skipped
	r.log.Debug().
		Str("symbol", req.Symbol).
		Int("bars", n).
		Int("trades", len(res.Trades)).
		Dur("elapsed", time.Since(started)).
		Msg("backtest finished")
	return res, nil
}

func tradable(price float64) bool {
	return price > 0 && !math.IsInf(price, 1)
}

func summarize(cfg ExecutionConfig, res *Result, l *ledger) Metrics {
	m := Metrics{
		InitialCapital:  cfg.InitialCapital,
		FinalEquity:     l.cash.InexactFloat64(),
		TradeCount:      len(res.Trades),
		TotalCommission: l.commission.InexactFloat64(),
	}
	m.TotalReturnPct = (m.FinalEquity/m.InitialCapital - 1) * 100

	peak := cfg.InitialCapital
	for i := range res.EquityCurve {
		p := &res.EquityCurve[i]
		peak = math.Max(peak, p.Equity)
		dd := peak - p.Equity
		m.MaxDrawdown = math.Max(m.MaxDrawdown, dd)
		if peak > 0 {
			p.DrawdownPct = dd / peak * 100
			m.MaxDrawdownPct = math.Max(m.MaxDrawdownPct, p.DrawdownPct)
		}
	}

	var wins int
	var winSum, lossSum float64
	records := make([]analytics.Record, len(res.Trades))
	for i, t := range res.Trades {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else {
			lossSum += t.PnL
		}
		records[i] = analytics.Record{StrategyID: res.Symbol, GrossPct: t.GrossPct, NetPct: t.NetPct}
	}
	if len(res.Trades) > 0 {
		m.WinRate = float64(wins) / float64(len(res.Trades))
	}
	switch {
	case wins == 0:
	case lossSum == 0:
		m.ProfitFactor = analytics.ProfitFactor(math.Inf(1))
	default:
		m.ProfitFactor = analytics.ProfitFactor(winSum / math.Abs(lossSum))
	}
	m.Percent = analytics.Compute(records)

	first, last := res.EquityCurve[0].Time, res.EquityCurve[len(res.EquityCurve)-1].Time
	if first > 0 && last > first {
		years := float64(last-first) / yearMillis
		ratio := m.FinalEquity / m.InitialCapital
		if ratio <= 0 {
			m.AnnualizedReturnPct = -100
		} else {
			m.AnnualizedReturnPct = (math.Pow(ratio, 1/years) - 1) * 100
		}
	}
	return m
}
