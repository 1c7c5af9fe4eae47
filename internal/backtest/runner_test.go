package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/decision"
	"signal-core/internal/graph"
	"signal-core/internal/market"
	"signal-core/internal/trade"
)

func closesToBars(closes ...float64) market.Bars {
	b := market.Bars{}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		b = b.Append(market.Bar{Time: day.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1}, 0)
	}
	return b
}

// scripted returns the decision listed for each bar index.
func scripted(decisions ...decision.Decision) DecisionSource {
	return DecisionFunc(func(snap market.Snapshot) decision.Decision {
		i := snap.History.Len() - 1
		if i < len(decisions) {
			return decisions[i]
		}
		return decision.Hold
	})
}

const (
	B = decision.Buy
	S = decision.Sell
	H = decision.Hold
)

func run(t *testing.T, req Request, src DecisionSource) *Result {
	t.Helper()
	res, err := NewRunner(zerolog.Nop()).RunWithSource(context.Background(), req, src)
	require.NoError(t, err)
	return res
}

func TestLedgerWithoutCosts(t *testing.T) {
	res := run(t, Request{Symbol: "X", Bars: closesToBars(100, 110, 99)}, scripted(B, S))

	require.Len(t, res.Trades, 2)
	long, short := res.Trades[0], res.Trades[1]
	assert.Equal(t, trade.Long, long.Side)
	assert.Equal(t, ExitSignal, long.ExitReason)
	assert.InDelta(t, 1000, long.PnL, 1e-6)
	assert.Equal(t, trade.Short, short.Side)
	assert.Equal(t, ExitEndOfData, short.ExitReason)
	assert.InDelta(t, 1100, short.PnL, 1e-6)

	require.Len(t, res.EquityCurve, 3)
	assert.InDelta(t, 10000, res.EquityCurve[0].Equity, 1e-6)
	assert.InDelta(t, 11000, res.EquityCurve[1].Equity, 1e-6)
	assert.InDelta(t, 12100, res.EquityCurve[2].Equity, 1e-6)

	m := res.Metrics
	assert.InDelta(t, 12100, m.FinalEquity, 1e-6)
	assert.InDelta(t, 21, m.TotalReturnPct, 1e-6)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 1.0, m.WinRate)
	assert.True(t, m.ProfitFactor.Infinite())
	assert.Greater(t, m.AnnualizedReturnPct, 0.0)
	assert.Equal(t, 2, m.Percent.TradeCount)
}

func TestDrawdownDollarAndPct(t *testing.T) {
	res := run(t, Request{Bars: closesToBars(100, 80, 90)}, scripted(B))
	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 2000, res.Metrics.MaxDrawdown, 1e-6)
	assert.InDelta(t, 20, res.Metrics.MaxDrawdownPct, 1e-6)
	assert.InDelta(t, 9000, res.Metrics.FinalEquity, 1e-6)
	assert.Equal(t, 0.0, res.Metrics.WinRate)
	assert.Equal(t, 0.0, float64(res.Metrics.ProfitFactor))
}

func TestDuplicateAndHoldDoNotTrade(t *testing.T) {
	res := run(t, Request{Bars: closesToBars(10, 11, 12, 13, 14)}, scripted(B, B, H, B, S))
	require.Len(t, res.Trades, 2)
	assert.Equal(t, 0, res.Trades[0].EntryIndex)
	assert.Equal(t, 4, res.Trades[0].ExitIndex)
	assert.Equal(t, 4, res.Trades[1].EntryIndex)
}

func TestAlternatingDecisionsMatchEngineTradeCount(t *testing.T) {
	// k alternating decisions give k-1 signal exits plus the forced close
	res := run(t, Request{Bars: closesToBars(10, 11, 12, 13, 14, 15)}, scripted(B, S, B, S, B, S))
	require.Len(t, res.Trades, 6)
	for i, tr := range res.Trades[:5] {
		assert.Equal(t, ExitSignal, tr.ExitReason, i)
	}
	assert.Equal(t, ExitEndOfData, res.Trades[5].ExitReason)
}

func TestNoLookAhead(t *testing.T) {
	bars := closesToBars(1, 2, 3, 4, 5)
	var seen []int
	run(t, Request{Bars: bars}, DecisionFunc(func(snap market.Snapshot) decision.Decision {
		seen = append(seen, snap.History.Len())
		assert.Equal(t, snap.Close, snap.History.Close[snap.History.Len()-1])
		return decision.Hold
	}))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestMismatchedBarsAreTruncated(t *testing.T) {
	bars := closesToBars(1, 2, 3, 4)
	bars.Volume = bars.Volume[:2]
	res := run(t, Request{Bars: bars}, scripted())
	assert.Equal(t, 2, res.Bars)
	assert.Len(t, res.EquityCurve, 2)
}

func TestCommissionAndSlippage(t *testing.T) {
	req := Request{
		Bars:      closesToBars(100, 100),
		Execution: ExecutionConfig{CommissionFixed: 1, SlippagePct: 1, PositionSize: 1000},
	}
	res := run(t, req, scripted(B, S))
	require.Len(t, res.Trades, 2)
	first := res.Trades[0]
	assert.InDelta(t, 101, first.EntryFill, 1e-9)
	assert.InDelta(t, 99, first.ExitFill, 1e-9)
	assert.InDelta(t, 2, first.Commission, 1e-9)
	assert.InDelta(t, 1000.0/101*(99-101)-2, first.PnL, 1e-6)
	assert.InDelta(t, 0, first.GrossPct, 1e-12)
	assert.InDelta(t, -2, first.NetPct, 1e-12)
	assert.InDelta(t, 4, res.Metrics.TotalCommission, 1e-9)
}

func TestFullSizeEntryNeverOverdrawsCash(t *testing.T) {
	req := Request{
		Bars:      closesToBars(50, 50),
		Execution: ExecutionConfig{CommissionPct: 0.1, CommissionFixed: 2},
	}
	res := run(t, req, scripted(B))
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	spent := tr.Quantity*tr.EntryFill + 2 + tr.Quantity*tr.EntryFill*0.001
	assert.InDelta(t, 10000, spent, 1e-6)
}

func TestUnaffordableEntryIsCounted(t *testing.T) {
	req := Request{
		Bars:      closesToBars(10, 11, 12),
		Execution: ExecutionConfig{InitialCapital: 5, CommissionFixed: 10},
	}
	res := run(t, req, scripted(B, H, B))
	assert.Empty(t, res.Trades)
	assert.Equal(t, 2, res.Metrics.SkippedEntries)
	assert.InDelta(t, 5, res.Metrics.FinalEquity, 1e-9)
}

func TestParityWithLiveEngine(t *testing.T) {
	cfg := ExecutionConfig{CommissionPct: 0.075, SlippagePct: 0.05}

	engine := trade.NewEngine(trade.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()
	var live []trade.CompletedTrade
	for _, in := range []decision.Input{
		{StrategyID: "p", Signal: "BUY", Price: 420},
		{StrategyID: "p", Signal: "SELL", Price: 435, FeePct: 2 * cfg.CommissionPct, SlippagePct: 2 * cfg.SlippagePct},
		{StrategyID: "p", Signal: "BUY", Price: 428, FeePct: 2 * cfg.CommissionPct, SlippagePct: 2 * cfg.SlippagePct},
	} {
		r, err := engine.Process(ctx, in)
		require.NoError(t, err)
		if r.CompletedTrade != nil {
			live = append(live, *r.CompletedTrade)
		}
	}

	res := run(t, Request{Bars: closesToBars(420, 435, 428, 428), Execution: cfg}, scripted(B, S, B, H))
	require.GreaterOrEqual(t, len(res.Trades), 2)
	for i, lt := range live {
		bt := res.Trades[i]
		assert.Equal(t, lt.OpenSide, bt.Side)
		assert.Equal(t, lt.GrossPct, bt.GrossPct)
		assert.Equal(t, lt.FeePctTotal, bt.FeePctTotal)
		assert.Equal(t, lt.NetPct, bt.NetPct)
	}
	assert.InDelta(t, 3.5714, res.Trades[0].GrossPct, 1e-4)
	assert.InDelta(t, 1.6092, res.Trades[1].GrossPct, 1e-4)
}

func TestLegacySourceMapping(t *testing.T) {
	verdicts := []string{"CONFIRMED", "PENDING", "REJECTED"}
	src := LegacySource(func(snap market.Snapshot) string { return verdicts[snap.History.Len()-1] })
	res := run(t, Request{Bars: closesToBars(10, 12, 11)}, src)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, trade.Long, res.Trades[0].Side)
	assert.Equal(t, 2, res.Trades[0].ExitIndex)
	assert.Equal(t, trade.Short, res.Trades[1].Side)
}

func TestNonFiniteClosesAreSkipped(t *testing.T) {
	res := run(t, Request{Bars: closesToBars(10, math.NaN(), 12, math.Inf(1))}, scripted(B, S, H, S))

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, trade.Long, tr.Side)
	assert.Equal(t, ExitEndOfData, tr.ExitReason)
	assert.Equal(t, 2, tr.ExitIndex)
	assert.Equal(t, 12.0, tr.ExitPrice)
	assert.InDelta(t, 2000, tr.PnL, 1e-6)
	assert.InDelta(t, 20, tr.NetPct, 1e-9)

	require.Len(t, res.EquityCurve, 4)
	for i, want := range []float64{10000, 10000, 12000, 12000} {
		assert.InDelta(t, want, res.EquityCurve[i].Equity, 1e-6, "bar %d", i)
	}
	assert.InDelta(t, 12000, res.Metrics.FinalEquity, 1e-6)
}

func TestRunErrors(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	ctx := context.Background()

	_, err := r.RunWithSource(ctx, Request{}, scripted())
	assert.ErrorIs(t, err, ErrNoBars)

	for _, cfg := range []ExecutionConfig{
		{SlippagePct: -1},
		{CommissionPct: math.NaN()},
		{CommissionFixed: math.Inf(1)},
		{SlippagePct: math.NaN()},
		{InitialCapital: math.NaN()},
		{PositionSizePct: math.NaN()},
		{PositionSize: math.Inf(1)},
	} {
		_, err = r.RunWithSource(ctx, Request{Bars: closesToBars(1, 2), Execution: cfg}, scripted(B))
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", cfg)
	}

	_, err = r.Run(ctx, Request{Bars: closesToBars(1), Graph: graph.Definition{}})
	assert.ErrorIs(t, err, graph.ErrNoOutput)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.RunWithSource(cancelled, Request{Bars: closesToBars(1, 2)}, scripted())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithGraph(t *testing.T) {
	def := graph.Definition{
		Nodes: []graph.Node{
			{ID: "price", Type: "price"},
			{ID: "up", Type: "crossover", Params: map[string]any{"direction": "up", "value": 105}},
			{ID: "down", Type: "crossover", Params: map[string]any{"direction": "down", "value": 105}},
			{ID: "buy", Type: "signal", Params: map[string]any{"direction": "BUY"}},
			{ID: "sell", Type: "signal", Params: map[string]any{"direction": "SELL"}},
		},
		Connections: []graph.Connection{
			{Source: graph.Port{Node: "price"}, Target: graph.Port{Node: "up", Port: "a"}},
			{Source: graph.Port{Node: "price"}, Target: graph.Port{Node: "down", Port: "a"}},
			{Source: graph.Port{Node: "up"}, Target: graph.Port{Node: "buy", Port: "trigger"}},
			{Source: graph.Port{Node: "down"}, Target: graph.Port{Node: "sell", Port: "trigger"}},
		},
	}
	res, err := NewRunner(zerolog.Nop()).Run(context.Background(), Request{
		Symbol: "BTCUSDT",
		Bars:   closesToBars(100, 104, 106, 108, 103, 101, 107),
		Graph:  def,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, 2, res.Trades[0].EntryIndex)
	assert.Equal(t, 4, res.Trades[0].ExitIndex)
	assert.Equal(t, trade.Short, res.Trades[1].Side)
	assert.Equal(t, 6, res.Trades[1].ExitIndex)
	assert.Equal(t, ExitEndOfData, res.Trades[2].ExitReason)
}
